// internal/server/handlers.go
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/automation"
	"github.com/ezmig/formpilot/internal/fieldmap"
	"github.com/ezmig/formpilot/internal/pdfmap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TieredMatcher is the legacy strategy, used when the snapshot has no page
// HTML.
type TieredMatcher interface {
	Match(ctx context.Context, fields []schemas.WebFieldMapping, snapshot schemas.DOMSnapshot) []schemas.AIFieldMapping
}

// FullPageMatcher is the primary strategy when page HTML is available.
type FullPageMatcher interface {
	Analyze(ctx context.Context, fields []schemas.WebFieldMapping, snapshot schemas.DOMSnapshot, schema *schemas.FormSchema) []schemas.AIFieldMapping
}

// PDFFiller produces filled form artifacts.
type PDFFiller interface {
	Fill(ctx context.Context, schema *schemas.FormSchema, data schemas.FormData) (*pdfmap.Artifact, error)
}

// RunRegistry starts automation runs and exposes their event streams.
type RunRegistry interface {
	Start(req automation.RunRequest) *automation.RunHandle
	Get(id string) (*automation.RunHandle, bool)
}

// Handler implements the API endpoints.
type Handler struct {
	tiered   TieredMatcher
	fullPage FullPageMatcher
	filler   PDFFiller
	registry RunRegistry
	logger   *zap.Logger
}

// NewHandler wires the handler's collaborators.
func NewHandler(tiered TieredMatcher, fullPage FullPageMatcher, filler PDFFiller, registry RunRegistry, logger *zap.Logger) *Handler {
	return &Handler{
		tiered:   tiered,
		fullPage: fullPage,
		filler:   filler,
		registry: registry,
		logger:   logger.Named("server.handler"),
	}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mappingRequest is the mapping endpoint's body. The schema arrives raw so it
// passes through boundary validation before anything trusts it.
type mappingRequest struct {
	FormCode    string              `json:"formCode"`
	FormSchema  jsoniter.RawMessage `json:"formSchema"`
	FormData    schemas.FormData    `json:"formData"`
	DOMSnapshot schemas.DOMSnapshot `json:"domSnapshot"`
}

type mappingResponse struct {
	Mappings []schemas.AIFieldMapping `json:"mappings"`
}

// CreateMappings flattens the schema and resolves each field against the
// snapshot. A non-empty pageHTML selects the full-page strategy; otherwise
// the tiered matcher runs. Per-tier AI failures have already collapsed into
// fewer mappings by the time a response is written, so this endpoint never
// fails because a model did.
func (h *Handler) CreateMappings(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	schema, err := schemas.ParseFormSchema(req.FormSchema)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid form schema: %v", err))
		return
	}

	fields := fieldmap.Flatten(schema, req.FormData)

	var mappings []schemas.AIFieldMapping
	if req.DOMSnapshot.PageHTML != "" {
		mappings = h.fullPage.Analyze(r.Context(), fields, req.DOMSnapshot, schema)
	} else {
		mappings = h.tiered.Match(r.Context(), fields, req.DOMSnapshot)
	}
	if mappings == nil {
		mappings = []schemas.AIFieldMapping{}
	}

	h.logger.Info("Mapping request served",
		zap.String("form_code", req.FormCode),
		zap.Int("fields", len(fields)),
		zap.Int("mappings", len(mappings)),
		zap.Bool("full_page", req.DOMSnapshot.PageHTML != ""))

	writeJSON(w, http.StatusOK, mappingResponse{Mappings: mappings})
}

type autofillRequest struct {
	FormCode    string                   `json:"formCode"`
	Mappings    []schemas.AIFieldMapping `json:"mappings"`
	Credentials schemas.Credential       `json:"credentials"`
	TargetURL   string                   `json:"targetUrl"`
}

type autofillResponse struct {
	RunID string `json:"runId"`
}

// StartAutofill launches a run and returns its ID immediately; progress
// arrives on the events endpoint.
func (h *Handler) StartAutofill(w http.ResponseWriter, r *http.Request) {
	var req autofillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Mappings) == 0 {
		writeError(w, http.StatusBadRequest, "at least one mapping is required")
		return
	}

	handle := h.registry.Start(automation.RunRequest{
		FormCode:    req.FormCode,
		Mappings:    req.Mappings,
		Credentials: req.Credentials,
		TargetURL:   req.TargetURL,
	})

	writeJSON(w, http.StatusAccepted, autofillResponse{RunID: handle.ID})
}

// AutofillEvents streams a run's events as SSE until the run finishes or the
// client disconnects. A disconnect does not affect the run.
func (h *Handler) AutofillEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	handle, ok := h.registry.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	emitter := automation.NewSSEEmitter(w, h.logger)
	defer emitter.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-handle.Events():
			if !open {
				return
			}
			emitter.Emit(event.Type, event.Payload)
		}
	}
}

type pdfRequest struct {
	FormSchema jsoniter.RawMessage `json:"formSchema"`
	FormData   schemas.FormData    `json:"formData"`
}

// FillPDF produces the filled form as bytes, with the fill tallies in
// response headers. Storing and versioning the artifact is the caller's
// concern.
func (h *Handler) FillPDF(w http.ResponseWriter, r *http.Request) {
	formCode := chi.URLParam(r, "formCode")

	var req pdfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	// The form code may arrive only in the URL; backfill it before the schema
	// is validated, which rejects an empty code.
	var schema schemas.FormSchema
	if err := json.Unmarshal(req.FormSchema, &schema); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid form schema: %v", err))
		return
	}
	if schema.Code == "" {
		schema.Code = formCode
	}
	if err := schema.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid form schema: %v", err))
		return
	}

	artifact, err := h.filler.Fill(r.Context(), &schema, req.FormData)
	if err != nil {
		h.logger.Error("PDF fill failed", zap.String("form_code", formCode), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fill form")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("X-Fields-Filled", fmt.Sprintf("%d", artifact.Filled))
	w.Header().Set("X-Fields-Skipped", fmt.Sprintf("%d", artifact.Skipped))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Bytes)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
