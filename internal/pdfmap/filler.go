// internal/pdfmap/filler.go
package pdfmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/ezmig/formpilot/api/schemas"
)

// Artifact is the filled document plus the tallies the caller reports.
// Persistence and versioning of the bytes belong to the caller.
type Artifact struct {
	Bytes   []byte
	Filled  int
	Skipped int
}

// Filler composes the PDF pipeline: template lookup through the cache,
// field mapping, and the AcroForm write.
type Filler struct {
	cache  *TemplateCache
	logger *zap.Logger
}

// NewFiller creates a Filler over a template cache.
func NewFiller(cache *TemplateCache, logger *zap.Logger) *Filler {
	return &Filler{
		cache:  cache,
		logger: logger.Named("pdf.filler"),
	}
}

// Fill maps the schema/data pair onto the form's template and returns the
// filled document. Unmappable fields are skipped, never fatal.
func (f *Filler) Fill(ctx context.Context, schema *schemas.FormSchema, data schemas.FormData) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	template, err := f.cache.Get(schema.Code)
	if err != nil {
		return nil, err
	}

	fields, stats := MapFieldsStats(schema, data)
	if len(fields) == 0 {
		f.logger.Warn("No PDF fields mapped for form", zap.String("form", schema.Code))
		return &Artifact{Bytes: template, Filled: 0, Skipped: stats.Skipped}, nil
	}

	formJSON, err := buildFillJSON(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build fill data for form %s: %w", schema.Code, err)
	}

	var out bytes.Buffer
	if err := api.FillForm(bytes.NewReader(template), bytes.NewReader(formJSON), &out, nil); err != nil {
		return nil, fmt.Errorf("failed to fill AcroForm for form %s: %w", schema.Code, err)
	}

	f.logger.Info("PDF form filled",
		zap.String("form", schema.Code),
		zap.Int("fields_filled", stats.Mapped),
		zap.Int("fields_skipped", stats.Skipped),
	)

	return &Artifact{Bytes: out.Bytes(), Filled: stats.Mapped, Skipped: stats.Skipped}, nil
}

// -- pdfcpu form-fill JSON (subset of the pdfcpu form export format) --

type fillForm struct {
	TextFields []fillTextField `json:"textfield,omitempty"`
	CheckBoxes []fillCheckBox  `json:"checkbox,omitempty"`
}

type fillDocument struct {
	Forms []fillForm `json:"forms"`
}

type fillTextField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Locked bool   `json:"locked"`
}

type fillCheckBox struct {
	Name   string `json:"name"`
	Value  bool   `json:"value"`
	Locked bool   `json:"locked"`
}

// buildFillJSON renders the mapped fields in pdfcpu's fill format. Names are
// sorted so the payload is deterministic for a given mapping.
func buildFillJSON(fields map[string]FieldValue) ([]byte, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var form fillForm
	for _, name := range names {
		value := fields[name]
		if value.IsBool {
			form.CheckBoxes = append(form.CheckBoxes, fillCheckBox{Name: name, Value: value.Checked})
		} else {
			form.TextFields = append(form.TextFields, fillTextField{Name: name, Value: value.Text})
		}
	}

	return json.Marshal(fillDocument{Forms: []fillForm{form}})
}
