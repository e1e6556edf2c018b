// internal/matcher/fullpage.go
package matcher

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/config"
	"github.com/ezmig/formpilot/internal/llmutil"
)

// templatePlaceholderRegex strips "{{...}}" template placeholders that some
// schema labels carry for the rendering UI.
var templatePlaceholderRegex = regexp.MustCompile(`\{\{[^}]*\}\}`)

// FullPage is the primary matching strategy when the snapshot carries page
// HTML: one model call over the whole page, returning index-annotated
// selectors for every field at once.
type FullPage struct {
	llm           schemas.LLMClient
	logger        *zap.Logger
	minConfidence float64
	maxHTMLBytes  int
}

// NewFullPage creates a full-page mapper. The LLM client is required; this
// strategy has no deterministic fallback of its own.
func NewFullPage(llm schemas.LLMClient, logger *zap.Logger, cfg config.MappingConfig) *FullPage {
	min := cfg.MinConfidence
	if min <= 0 {
		min = schemas.DefaultMinConfidence
	}
	maxBytes := cfg.MaxPageHTMLBytes
	if maxBytes <= 0 {
		maxBytes = 200_000
	}
	return &FullPage{
		llm:           llm,
		logger:        logger.Named("matcher.fullpage"),
		minConfidence: min,
		maxHTMLBytes:  maxBytes,
	}
}

// enrichedField is the per-field view embedded in the prompt: the flattened
// mapping plus whatever extra context the raw schema still holds.
type enrichedField struct {
	FieldPath     string
	Label         string
	FallbackLabel string
	Value         string
	InputType     schemas.InputType
	Options       []string
	Hints         string
}

// fullPageAIResponse is the shape the model is asked to return. Selectors
// must be [data-ezmig-idx="N"] locators; optionText carries the page's option
// wording for selection-style matches.
type fullPageAIResponse struct {
	FieldPath     string   `json:"fieldPath"`
	Selector      string   `json:"selector"`
	InputType     string   `json:"inputType"`
	OptionText    string   `json:"optionText"`
	ClickSequence []string `json:"clickSequence"`
	Confidence    float64  `json:"confidence"`
}

// Analyze maps every flattened field against the page in a single model call.
// An unusable response degrades to an empty result, never an error: a failed
// AI pass means no fields filled, not a crashed run.
func (f *FullPage) Analyze(ctx context.Context, fields []schemas.WebFieldMapping, snapshot schemas.DOMSnapshot, schema *schemas.FormSchema) []schemas.AIFieldMapping {
	if len(fields) == 0 || snapshot.PageHTML == "" {
		return nil
	}

	enriched := f.enrich(fields, schema)
	html := CleanPageHTML(snapshot.PageHTML, f.maxHTMLBytes)

	response, err := f.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: fullPageSystemPrompt,
		UserPrompt:   buildFullPagePrompt(enriched, html),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	if err != nil {
		f.logger.Warn("Full-page LLM call failed, degrading to no mappings", zap.Error(err))
		return nil
	}

	decoded := llmutil.DecodeArrayLenient[fullPageAIResponse](response, f.logger)
	if len(decoded) == 0 {
		return nil
	}

	byPath := make(map[string]schemas.WebFieldMapping, len(fields))
	for _, field := range fields {
		byPath[field.FieldPath] = field
	}

	mappings := make([]schemas.AIFieldMapping, 0, len(decoded))
	seen := make(map[string]bool, len(decoded))
	for _, entry := range decoded {
		// Rehydrate value and label from the original field list; the
		// model is not trusted to echo them faithfully.
		field, ok := byPath[entry.FieldPath]
		if !ok || seen[entry.FieldPath] || entry.Selector == "" {
			continue
		}
		seen[entry.FieldPath] = true
		mappings = append(mappings, schemas.AIFieldMapping{
			FieldPath:     field.FieldPath,
			Selector:      entry.Selector,
			Label:         field.Label,
			Value:         field.Value,
			InputType:     normalizeInputType(entry.InputType, field.InputType),
			ResolvedValue: entry.OptionText,
			ClickSequence: entry.ClickSequence,
			Confidence:    entry.Confidence,
		})
	}
	return schemas.FilterByConfidence(mappings, f.minConfidence)
}

// enrich augments each flattened field with schema context the flattener
// dropped: a cleaned fallback label, the human-readable option list, and the
// concatenated selector hints.
func (f *FullPage) enrich(fields []schemas.WebFieldMapping, schema *schemas.FormSchema) []enrichedField {
	enriched := make([]enrichedField, 0, len(fields))
	for _, field := range fields {
		e := enrichedField{
			FieldPath: field.FieldPath,
			Label:     field.Label,
			Value:     field.Value,
			InputType: field.InputType,
			Hints:     strings.Join(field.Selectors, " "),
		}
		if schema != nil {
			if raw := schema.FindField(field.FieldPath); raw != nil {
				e.FallbackLabel = cleanLabel(raw.Label)
				for _, opt := range raw.Options {
					e.Options = append(e.Options, opt.Value+"="+opt.Label)
				}
			}
		}
		enriched = append(enriched, e)
	}
	return enriched
}

// cleanLabel strips template placeholders and squeezes the leftover
// whitespace.
func cleanLabel(label string) string {
	cleaned := templatePlaceholderRegex.ReplaceAllString(label, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// CleanPageHTML reduces a page to the markup the model needs: body content
// with script, style, noscript, svg, and head subtrees removed, truncated to
// maxBytes. The data-ezmig-idx attributes the extractor stamped on
// interactive elements survive untouched. Unparseable HTML is passed through
// truncated rather than dropped.
func CleanPageHTML(html string, maxBytes int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return truncateHTML(html, maxBytes)
	}

	doc.Find("script, style, noscript, svg, head, link, meta").Remove()

	cleaned, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(cleaned) == "" {
		return truncateHTML(html, maxBytes)
	}
	return truncateHTML(cleaned, maxBytes)
}

func truncateHTML(html string, maxBytes int) string {
	if maxBytes > 0 && len(html) > maxBytes {
		return html[:maxBytes]
	}
	return html
}
