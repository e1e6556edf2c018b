package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/automation"
	"github.com/ezmig/formpilot/internal/config"
	"github.com/ezmig/formpilot/internal/pdfmap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTiered struct {
	calls    int
	mappings []schemas.AIFieldMapping
}

func (f *fakeTiered) Match(_ context.Context, _ []schemas.WebFieldMapping, _ schemas.DOMSnapshot) []schemas.AIFieldMapping {
	f.calls++
	return f.mappings
}

type fakeFullPage struct {
	calls    int
	mappings []schemas.AIFieldMapping
}

func (f *fakeFullPage) Analyze(_ context.Context, _ []schemas.WebFieldMapping, _ schemas.DOMSnapshot, _ *schemas.FormSchema) []schemas.AIFieldMapping {
	f.calls++
	return f.mappings
}

type fakeFiller struct {
	artifact *pdfmap.Artifact
	err      error
	gotCode  string
}

func (f *fakeFiller) Fill(_ context.Context, schema *schemas.FormSchema, _ schemas.FormData) (*pdfmap.Artifact, error) {
	f.gotCode = schema.Code
	return f.artifact, f.err
}

// failFastRegistry is a real registry whose runs fail at browser launch, so
// every run terminates quickly with a non-recoverable error event.
func failFastRegistry(t *testing.T) *automation.Registry {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Automation.GlobalTimeout = 2 * time.Second
	factory := func(context.Context, config.BrowserConfig, *zap.Logger) (automation.PageDriver, error) {
		return nil, errors.New("no browser available")
	}
	engine := automation.NewEngine(cfg, zaptest.NewLogger(t), factory)
	return automation.NewRegistry(engine, zaptest.NewLogger(t))
}

func newTestServer(t *testing.T, tiered TieredMatcher, fullPage FullPageMatcher, filler PDFFiller, registry RunRegistry) *httptest.Server {
	t.Helper()
	handler := NewHandler(tiered, fullPage, filler, registry, zaptest.NewLogger(t))
	srv := New(config.NewDefault().Server, handler, zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

const minimalSchema = `{
	"code": "I-130",
	"parts": [{
		"id": "part1",
		"sections": [{
			"id": "name",
			"fields": [{"id": "family", "type": "text", "label": "Family Name"}]
		}]
	}]
}`

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeTiered{}, &fakeFullPage{}, &fakeFiller{}, failFastRegistry(t))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateMappings_TieredWithoutPageHTML(t *testing.T) {
	tiered := &fakeTiered{mappings: []schemas.AIFieldMapping{{
		FieldPath: "part1.name.family", Selector: "#last", Value: "Garcia",
		InputType: schemas.InputText, Confidence: 0.95,
	}}}
	fullPage := &fakeFullPage{}
	ts := newTestServer(t, tiered, fullPage, &fakeFiller{}, failFastRegistry(t))

	body := `{"formCode": "I-130", "formSchema": ` + minimalSchema + `,
		"formData": {"part1.name.family": "Garcia"},
		"domSnapshot": {"fields": []}}`

	resp, err := http.Post(ts.URL+"/api/v1/mappings", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got mappingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Mappings, 1)
	assert.Equal(t, "#last", got.Mappings[0].Selector)

	assert.Equal(t, 1, tiered.calls)
	assert.Zero(t, fullPage.calls)
}

func TestCreateMappings_FullPageWithPageHTML(t *testing.T) {
	tiered := &fakeTiered{}
	fullPage := &fakeFullPage{mappings: []schemas.AIFieldMapping{{
		FieldPath: "part1.name.family", Selector: `[data-ezmig-idx="4"]`, Value: "Garcia",
		InputType: schemas.InputText, Confidence: 0.9,
	}}}
	ts := newTestServer(t, tiered, fullPage, &fakeFiller{}, failFastRegistry(t))

	body := `{"formCode": "I-130", "formSchema": ` + minimalSchema + `,
		"formData": {"part1.name.family": "Garcia"},
		"domSnapshot": {"fields": [], "pageHTML": "<html><body></body></html>"}}`

	resp, err := http.Post(ts.URL+"/api/v1/mappings", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, fullPage.calls)
	assert.Zero(t, tiered.calls)
}

func TestCreateMappings_RejectsInvalidSchema(t *testing.T) {
	ts := newTestServer(t, &fakeTiered{}, &fakeFullPage{}, &fakeFiller{}, failFastRegistry(t))

	body := `{"formCode": "I-130", "formSchema": {"code": "I-130", "parts": [{
		"id": "p", "sections": [{"id": "s", "fields": [
			{"id": "f", "type": "hologram", "label": "x"}
		]}]}]}, "formData": {}}`

	resp, err := http.Post(ts.URL+"/api/v1/mappings", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStartAutofill_RequiresMappings(t *testing.T) {
	ts := newTestServer(t, &fakeTiered{}, &fakeFullPage{}, &fakeFiller{}, failFastRegistry(t))

	resp, err := http.Post(ts.URL+"/api/v1/autofill", "application/json",
		strings.NewReader(`{"formCode": "I-130", "mappings": []}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAutofill_RunAndEventStream(t *testing.T) {
	registry := failFastRegistry(t)
	ts := newTestServer(t, &fakeTiered{}, &fakeFullPage{}, &fakeFiller{}, registry)

	startBody := `{"formCode": "I-130", "mappings": [
		{"fieldPath": "p.s.f", "selector": "#f", "value": "v", "inputType": "text", "confidence": 0.9}
	]}`
	resp, err := http.Post(ts.URL+"/api/v1/autofill", "application/json", strings.NewReader(startBody))
	require.NoError(t, err)
	var started autofillResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, started.RunID)

	// Wait for the run to terminate so the stream has a bounded end.
	handle, ok := registry.Get(started.RunID)
	require.True(t, ok)
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
	}

	events, err := http.Get(ts.URL + "/api/v1/autofill/" + started.RunID + "/events")
	require.NoError(t, err)
	defer events.Body.Close()
	require.Equal(t, http.StatusOK, events.StatusCode)
	assert.Equal(t, "text/event-stream", events.Header.Get("Content-Type"))

	buf := make([]byte, 64*1024)
	var stream strings.Builder
	for {
		n, readErr := events.Body.Read(buf)
		stream.Write(buf[:n])
		if readErr != nil {
			break
		}
	}

	// Browser launch fails in this registry, so the stream carries the step
	// events up to the failure and a terminal non-recoverable error.
	assert.Contains(t, stream.String(), "event: step")
	assert.Contains(t, stream.String(), "event: error")
	assert.Contains(t, stream.String(), `"recoverable":false`)
}

func TestAutofillEvents_UnknownRun(t *testing.T) {
	ts := newTestServer(t, &fakeTiered{}, &fakeFullPage{}, &fakeFiller{}, failFastRegistry(t))

	resp, err := http.Get(ts.URL + "/api/v1/autofill/not-a-run/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFillPDF(t *testing.T) {
	filler := &fakeFiller{artifact: &pdfmap.Artifact{
		Bytes: []byte("%PDF-1.7 fake"), Filled: 5, Skipped: 2,
	}}
	ts := newTestServer(t, &fakeTiered{}, &fakeFullPage{}, filler, failFastRegistry(t))

	body := `{"formSchema": ` + minimalSchema + `, "formData": {"part1.name.family": "Garcia"}}`
	resp, err := http.Post(ts.URL+"/api/v1/pdf/I-130", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "5", resp.Header.Get("X-Fields-Filled"))
	assert.Equal(t, "2", resp.Header.Get("X-Fields-Skipped"))
}

func TestFillPDF_CodeFromURLOnly(t *testing.T) {
	filler := &fakeFiller{artifact: &pdfmap.Artifact{Bytes: []byte("%PDF-1.7 fake")}}
	ts := newTestServer(t, &fakeTiered{}, &fakeFullPage{}, filler, failFastRegistry(t))

	// The schema body carries no code; the URL parameter supplies it.
	body := `{"formSchema": {"parts": [{
		"id": "part1",
		"sections": [{"id": "name", "fields": [{"id": "family", "type": "text", "label": "Family Name"}]}]
	}]}, "formData": {}}`
	resp, err := http.Post(ts.URL+"/api/v1/pdf/I-765", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "I-765", filler.gotCode)
}

func TestFillPDF_FillerError(t *testing.T) {
	filler := &fakeFiller{err: errors.New("template missing")}
	ts := newTestServer(t, &fakeTiered{}, &fakeFullPage{}, filler, failFastRegistry(t))

	body := `{"formSchema": ` + minimalSchema + `, "formData": {}}`
	resp, err := http.Post(ts.URL+"/api/v1/pdf/I-130", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
