package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeDriver is an in-memory page: a set of selectors that exist, a set whose
// interaction throws, and a record of everything done to it.
type fakeDriver struct {
	mu       sync.Mutex
	existing map[string]bool
	failing  map[string]bool
	labels   map[string]string // label text -> stamped selector
	typed    map[string]string
	checked  map[string]bool
	selected map[string]string
	clicked  []string
	url      string
	closed   bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		existing: make(map[string]bool),
		failing:  make(map[string]bool),
		labels:   make(map[string]string),
		typed:    make(map[string]string),
		checked:  make(map[string]bool),
		selected: make(map[string]string),
		url:      "about:blank",
	}
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	return nil
}

func (d *fakeDriver) CurrentURL(_ context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *fakeDriver) Exists(_ context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.existing[selector], nil
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[selector] {
		return errors.New("click failed")
	}
	d.clicked = append(d.clicked, selector)
	return nil
}

func (d *fakeDriver) TypeChars(_ context.Context, selector, value string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[selector] {
		return errors.New("element went stale")
	}
	d.typed[selector] = value
	return nil
}

func (d *fakeDriver) SetChecked(_ context.Context, selector string, checked bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[selector] {
		return errors.New("check failed")
	}
	d.checked[selector] = checked
	return nil
}

func (d *fakeDriver) SelectOption(_ context.Context, selector, label string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[selector] {
		return errors.New("select failed")
	}
	d.selected[selector] = label
	return nil
}

func (d *fakeDriver) ClickOptionText(_ context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicked = append(d.clicked, "option:"+text)
	return nil
}

func (d *fakeDriver) Screenshot(_ context.Context, _ int) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff}, nil
}

func (d *fakeDriver) FindByLabelText(_ context.Context, text string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.labels[strings.ToLower(text)], nil
}

func (d *fakeDriver) FindByPlaceholderPrefix(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// collectSink records every emitted event.
type collectSink struct {
	mu     sync.Mutex
	events []Event
	closes int
}

func (s *collectSink) Emit(eventType schemas.EventType, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Type: eventType, Payload: payload})
}

func (s *collectSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
}

func (s *collectSink) fieldEvents() []schemas.FieldEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schemas.FieldEvent
	for _, e := range s.events {
		if fe, ok := e.Payload.(schemas.FieldEvent); ok {
			out = append(out, fe)
		}
	}
	return out
}

func (s *collectSink) complete() (schemas.CompleteEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if ce, ok := e.Payload.(schemas.CompleteEvent); ok {
			return ce, true
		}
	}
	return schemas.CompleteEvent{}, false
}

func testConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.Automation.StepTimeout = 200 * time.Millisecond
	cfg.Automation.FieldTimeout = 200 * time.Millisecond
	cfg.Automation.WaitTimeout = 30 * time.Millisecond
	cfg.Automation.PollInterval = time.Millisecond
	cfg.Automation.LoginGracePeriod = 0
	cfg.Automation.InterFieldDelay = 0
	cfg.Automation.TypeDelay = 0
	return cfg
}

func newTestEngine(t *testing.T, driver *fakeDriver) *Engine {
	t.Helper()
	factory := func(context.Context, config.BrowserConfig, *zap.Logger) (PageDriver, error) {
		return driver, nil
	}
	return NewEngine(testConfig(), zaptest.NewLogger(t), factory)
}

func TestEngine_FieldTallies(t *testing.T) {
	driver := newFakeDriver()
	// Login form with real credentials so the login step completes.
	driver.existing[`input[type="email"]`] = true
	driver.existing[`input[type="password"]`] = true
	driver.existing[`button[type="submit"]`] = true

	var mappings []schemas.AIFieldMapping
	// 7 fields with working selectors.
	for _, sel := range []string{"#f1", "#f2", "#f3", "#f4", "#f5", "#f6", "#f7"} {
		driver.existing[sel] = true
		mappings = append(mappings, schemas.AIFieldMapping{
			FieldPath: "part1.section." + sel[1:], Selector: sel,
			Value: "v", InputType: schemas.InputText, Confidence: 0.9,
		})
	}
	// 2 fields pointing at nonexistent elements.
	for _, sel := range []string{"#missing1", "#missing2"} {
		mappings = append(mappings, schemas.AIFieldMapping{
			FieldPath: "part1.section." + sel[1:], Selector: sel,
			Value: "v", InputType: schemas.InputText, Confidence: 0.9,
		})
	}
	// 1 field whose element exists but throws on interaction.
	driver.existing["#broken"] = true
	driver.failing["#broken"] = true
	mappings = append(mappings, schemas.AIFieldMapping{
		FieldPath: "part1.section.broken", Selector: "#broken",
		Value: "v", InputType: schemas.InputText, Confidence: 0.9,
	})

	engine := newTestEngine(t, driver)
	sink := &collectSink{}
	err := engine.Run(context.Background(), RunRequest{
		RunID:       "run-1",
		FormCode:    "I-130",
		Mappings:    mappings,
		Credentials: schemas.Credential{Username: "attorney@example.com", Password: "hunter22"},
		TargetURL:   "https://example.com/form",
	}, sink)
	require.NoError(t, err)

	complete, ok := sink.complete()
	require.True(t, ok, "run must end with a complete event")
	assert.Equal(t, 7, complete.FieldsFilled)
	assert.Equal(t, 2, complete.FieldsSkipped)
	assert.Equal(t, 1, complete.FieldsFailed)
	assert.GreaterOrEqual(t, complete.DurationMs, int64(0))

	assert.False(t, driver.closed, "browser must stay open on success for human review")
	assert.GreaterOrEqual(t, sink.closes, 1)
}

func TestEngine_FiltersLowConfidenceAtBoundary(t *testing.T) {
	driver := newFakeDriver()
	driver.existing["#trusted"] = true
	driver.existing["#untrusted"] = true

	mappings := []schemas.AIFieldMapping{
		{FieldPath: "p.s.trusted", Selector: "#trusted", Value: "v", InputType: schemas.InputText, Confidence: 0.9},
		{FieldPath: "p.s.untrusted", Selector: "#untrusted", Value: "v", InputType: schemas.InputText, Confidence: 0.3},
	}

	engine := newTestEngine(t, driver)
	sink := &collectSink{}
	require.NoError(t, engine.Run(context.Background(), RunRequest{
		Mappings:  mappings,
		TargetURL: "https://example.com/form",
	}, sink))

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Contains(t, driver.typed, "#trusted")
	assert.NotContains(t, driver.typed, "#untrusted", "sub-threshold mapping must never reach the page")
}

func TestEngine_RedactsSensitiveFieldEvents(t *testing.T) {
	driver := newFakeDriver()
	driver.existing["#ssn-input"] = true

	mappings := []schemas.AIFieldMapping{{
		FieldPath: "part2.identity.ssn", Selector: "#ssn-input",
		Value: "123456789", InputType: schemas.InputText, Confidence: 0.95,
	}}

	engine := newTestEngine(t, driver)
	sink := &collectSink{}
	require.NoError(t, engine.Run(context.Background(), RunRequest{
		Mappings:  mappings,
		TargetURL: "https://example.com/form",
	}, sink))

	var found bool
	for _, fe := range sink.fieldEvents() {
		if fe.FieldPath == "part2.identity.ssn" {
			found = true
			assert.Equal(t, "***", fe.Value)
		}
	}
	assert.True(t, found)

	// The real value still reaches the page.
	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, "123456789", driver.typed["#ssn-input"])
}

func TestEngine_InteractionByInputType(t *testing.T) {
	driver := newFakeDriver()
	for _, sel := range []string{"#sel", "#chk", "#rad"} {
		driver.existing[sel] = true
	}

	mappings := []schemas.AIFieldMapping{
		{FieldPath: "p.s.status", Selector: "#sel", Value: "married", ResolvedValue: "Married", InputType: schemas.InputSelect, Confidence: 0.9},
		{FieldPath: "p.s.agree", Selector: "#chk", Value: "true", InputType: schemas.InputCheckbox, Confidence: 0.9},
		{FieldPath: "p.s.choice", Selector: "#rad", Value: "yes", InputType: schemas.InputRadio, Confidence: 0.9},
	}

	engine := newTestEngine(t, driver)
	sink := &collectSink{}
	require.NoError(t, engine.Run(context.Background(), RunRequest{
		Mappings:  mappings,
		TargetURL: "https://example.com/form",
	}, sink))

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, "Married", driver.selected["#sel"], "select must use the resolved option text")
	assert.True(t, driver.checked["#chk"])
	assert.True(t, driver.checked["#rad"])
}

func TestEngine_LabelFallbackLocatesField(t *testing.T) {
	driver := newFakeDriver()
	driver.labels["family name"] = "#resolved-by-label"

	mappings := []schemas.AIFieldMapping{{
		FieldPath: "p.s.family", Selector: "#stale-selector", Label: "Family Name",
		Value: "Garcia", InputType: schemas.InputText, Confidence: 0.9,
	}}

	engine := newTestEngine(t, driver)
	sink := &collectSink{}
	require.NoError(t, engine.Run(context.Background(), RunRequest{
		Mappings:  mappings,
		TargetURL: "https://example.com/form",
	}, sink))

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, "Garcia", driver.typed["#resolved-by-label"])
}

func TestEngine_LaunchFailureIsFatal(t *testing.T) {
	factory := func(context.Context, config.BrowserConfig, *zap.Logger) (PageDriver, error) {
		return nil, errors.New("no chrome binary")
	}
	engine := NewEngine(testConfig(), zaptest.NewLogger(t), factory)

	sink := &collectSink{}
	err := engine.Run(context.Background(), RunRequest{}, sink)
	require.Error(t, err)

	var sawError bool
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, e := range sink.events {
		if ee, ok := e.Payload.(schemas.ErrorEvent); ok {
			sawError = true
			assert.False(t, ee.Recoverable)
		}
	}
	assert.True(t, sawError, "fatal path must emit a non-recoverable error event")
}

func TestEngine_DemoCredentialsNeverSubmit(t *testing.T) {
	driver := newFakeDriver()
	driver.existing[`input[type="email"]`] = true
	driver.existing[`input[type="password"]`] = true
	driver.existing[`button[type="submit"]`] = true

	engine := newTestEngine(t, driver)
	sink := &collectSink{}
	require.NoError(t, engine.Run(context.Background(), RunRequest{
		Credentials: schemas.Credential{Username: "demo", Password: "demo"},
		TargetURL:   "https://example.com/form",
	}, sink))

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.NotContains(t, driver.clicked, `button[type="submit"]`)
}
