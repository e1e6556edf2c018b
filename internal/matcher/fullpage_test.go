package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ezmig/formpilot/api/schemas"
)

func testSchema() *schemas.FormSchema {
	return &schemas.FormSchema{
		Code: "I-130",
		Parts: []schemas.FormPart{{
			ID: "part1",
			Sections: []schemas.FormSection{{
				ID: "name",
				Fields: []schemas.FormField{
					{ID: "family", Type: schemas.FieldText, Label: "Family Name {{applicant}}"},
					{
						ID: "relationship", Type: schemas.FieldRadio, Label: "Relationship",
						Options: []schemas.FieldOption{
							{Value: "spouse", Label: "Petition for Spouse"},
							{Value: "child", Label: "Petition for Child"},
						},
					},
				},
			}},
		}},
	}
}

func TestFullPage_Analyze(t *testing.T) {
	mockLLM := new(MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful
	})).Return("```json\n"+
		`[{"fieldPath": "part1.name.family", "selector": "[data-ezmig-idx=\"4\"]", "inputType": "text", "confidence": 0.92, "label": "model-invented label"},`+
		` {"fieldPath": "part1.name.relationship", "selector": "[data-ezmig-idx=\"9\"]", "inputType": "radio", "optionText": "Petition for Spouse", "confidence": 0.88},`+
		` {"fieldPath": "part1.name.relationship", "selector": "[data-ezmig-idx=\"10\"]", "confidence": 0.99},`+
		` {"fieldPath": "part1.name.middle", "selector": "[data-ezmig-idx=\"5\"]", "confidence": 0.2}]`+
		"\n```", nil)

	fp := NewFullPage(mockLLM, zaptest.NewLogger(t), testMappingConfig())

	fields := []schemas.WebFieldMapping{
		{FieldPath: "part1.name.family", Label: "Family Name", Value: "Garcia", InputType: schemas.InputText},
		{FieldPath: "part1.name.relationship", Label: "Relationship", Value: "spouse", InputType: schemas.InputRadio},
	}
	snapshot := schemas.DOMSnapshot{PageHTML: `<html><body><input data-ezmig-idx="4"></body></html>`}

	mappings := fp.Analyze(context.Background(), fields, snapshot, testSchema())

	require.Len(t, mappings, 2)
	assert.Equal(t, "part1.name.family", mappings[0].FieldPath)
	assert.Equal(t, `[data-ezmig-idx="4"]`, mappings[0].Selector)
	assert.Equal(t, "Garcia", mappings[0].Value, "value must come from the input fields, not the model")
	assert.Equal(t, "Family Name", mappings[0].Label)

	assert.Equal(t, "part1.name.relationship", mappings[1].FieldPath)
	assert.Equal(t, `[data-ezmig-idx="9"]`, mappings[1].Selector, "first entry per field path wins")
	assert.Equal(t, "Petition for Spouse", mappings[1].ResolvedValue)
}

func TestFullPage_AnalyzeUnparseableDegradesToEmpty(t *testing.T) {
	mockLLM := new(MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return("I was unable to map any fields.", nil)

	fp := NewFullPage(mockLLM, zaptest.NewLogger(t), testMappingConfig())
	fields := []schemas.WebFieldMapping{{FieldPath: "part1.name.family", Value: "Garcia", InputType: schemas.InputText}}
	snapshot := schemas.DOMSnapshot{PageHTML: "<html><body></body></html>"}

	assert.Empty(t, fp.Analyze(context.Background(), fields, snapshot, nil))
}

func TestFullPage_AnalyzeModelError(t *testing.T) {
	mockLLM := new(MockLLMClient)
	mockLLM.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("quota exhausted"))

	fp := NewFullPage(mockLLM, zaptest.NewLogger(t), testMappingConfig())
	fields := []schemas.WebFieldMapping{{FieldPath: "part1.name.family", Value: "Garcia", InputType: schemas.InputText}}
	snapshot := schemas.DOMSnapshot{PageHTML: "<html><body></body></html>"}

	assert.Empty(t, fp.Analyze(context.Background(), fields, snapshot, nil))
}

func TestFullPage_AnalyzeSkipsWithoutHTML(t *testing.T) {
	mockLLM := new(MockLLMClient)
	fp := NewFullPage(mockLLM, zaptest.NewLogger(t), testMappingConfig())

	fields := []schemas.WebFieldMapping{{FieldPath: "part1.name.family", Value: "Garcia", InputType: schemas.InputText}}

	assert.Empty(t, fp.Analyze(context.Background(), fields, schemas.DOMSnapshot{}, nil))
	mockLLM.AssertNotCalled(t, "Generate")
}

func TestCleanPageHTML(t *testing.T) {
	html := `<html><head><title>USCIS</title></head><body>
		<script>window.tracking = true;</script>
		<style>.hidden { display: none; }</style>
		<div><input data-ezmig-idx="0" name="givenName"></div>
	</body></html>`

	cleaned := CleanPageHTML(html, 200_000)

	assert.Contains(t, cleaned, `data-ezmig-idx="0"`)
	assert.NotContains(t, cleaned, "window.tracking")
	assert.NotContains(t, cleaned, "display: none")
	assert.NotContains(t, cleaned, "<title>")
}

func TestCleanPageHTML_Truncates(t *testing.T) {
	var b []byte
	for i := 0; i < 1000; i++ {
		b = append(b, "<div>padding</div>"...)
	}
	cleaned := CleanPageHTML("<html><body>"+string(b)+"</body></html>", 500)
	assert.LessOrEqual(t, len(cleaned), 500)
}

func TestCleanLabel(t *testing.T) {
	assert.Equal(t, "Family Name", cleanLabel("Family Name {{applicant}}"))
	assert.Equal(t, "Date of Birth", cleanLabel("{{part.prefix}} Date of   Birth"))
	assert.Equal(t, "Plain", cleanLabel("Plain"))
}
