// internal/matcher/tiered.go
package matcher

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/config"
	"github.com/ezmig/formpilot/internal/llmutil"
)

const (
	tier1Confidence = 0.95
	tier2Confidence = 0.75
	tier2MinScore   = 0.5
)

var (
	// quotedHintRegex pulls the substring out of a hint like [name*="Pt1Line1a"].
	quotedHintRegex = regexp.MustCompile(`"([^"]+)"`)
	tokenRegex      = regexp.MustCompile(`[a-z0-9]+`)
)

// matchResult pairs a resolved mapping with the DOM field it landed on. The
// DOM field is needed later by the value-resolution pass, which reads its
// enumerated options; for LLM-sourced matches it is recovered from the
// returned selector and may be nil when the selector names no snapshot field.
type matchResult struct {
	mapping schemas.AIFieldMapping
	dom     *schemas.DOMFieldInfo
}

// Tiered resolves flattened fields against a DOM snapshot through three
// escalating strategies: deterministic selector-hint matching, fuzzy label
// matching, and a batched LLM fallback. A value-resolution pass then
// translates internal option identifiers into the page's actual option text.
type Tiered struct {
	llm           schemas.LLMClient
	logger        *zap.Logger
	minConfidence float64
	maxDOMFields  int
}

// NewTiered creates a tiered matcher. The LLM client may be nil, in which
// case tier 3 and AI value resolution are skipped and only the deterministic
// tiers run.
func NewTiered(llm schemas.LLMClient, logger *zap.Logger, cfg config.MappingConfig) *Tiered {
	min := cfg.MinConfidence
	if min <= 0 {
		min = schemas.DefaultMinConfidence
	}
	maxFields := cfg.MaxDOMFields
	if maxFields <= 0 {
		maxFields = 100
	}
	return &Tiered{
		llm:           llm,
		logger:        logger.Named("matcher.tiered"),
		minConfidence: min,
		maxDOMFields:  maxFields,
	}
}

// Match resolves each field to a concrete page element. Fields that no tier
// can place are absent from the result; an unmappable field is not an error.
func (t *Tiered) Match(ctx context.Context, fields []schemas.WebFieldMapping, snapshot schemas.DOMSnapshot) []schemas.AIFieldMapping {
	var (
		results   []matchResult
		unmatched []schemas.WebFieldMapping
	)

	for _, field := range fields {
		if res, ok := t.tier1(field, snapshot.Fields); ok {
			results = append(results, res)
			continue
		}
		if res, ok := t.tier2(field, snapshot.Fields); ok {
			results = append(results, res)
			continue
		}
		unmatched = append(unmatched, field)
	}

	t.logger.Debug("Deterministic tiers complete",
		zap.Int("matched", len(results)),
		zap.Int("unmatched", len(unmatched)))

	if len(unmatched) > 0 && t.llm != nil {
		results = append(results, t.tier3(ctx, unmatched, snapshot.Fields)...)
	}

	t.resolveValues(ctx, results)

	mappings := make([]schemas.AIFieldMapping, 0, len(results))
	for _, res := range results {
		mappings = append(mappings, res.mapping)
	}
	return schemas.FilterByConfidence(mappings, t.minConfidence)
}

// tier1 scans the field's selector hints for a quoted substring and looks for
// a DOM field whose id, name, or aria-label contains it. The first
// type-compatible hit wins, so later tiers never run for this field.
func (t *Tiered) tier1(field schemas.WebFieldMapping, domFields []schemas.DOMFieldInfo) (matchResult, bool) {
	for _, hint := range field.Selectors {
		m := quotedHintRegex.FindStringSubmatch(hint)
		if len(m) < 2 {
			continue
		}
		needle := strings.ToLower(m[1])

		for i := range domFields {
			dom := &domFields[i]
			if !isTypeCompatible(field.InputType, *dom) {
				continue
			}
			if containsFold(dom.ID, needle) || containsFold(dom.Name, needle) || containsFold(dom.AriaLabel, needle) {
				return matchResult{
					mapping: schemas.AIFieldMapping{
						FieldPath:  field.FieldPath,
						Selector:   selectorFor(*dom),
						Label:      field.Label,
						Value:      field.Value,
						InputType:  field.InputType,
						Confidence: tier1Confidence,
					},
					dom: dom,
				}, true
			}
		}
	}
	return matchResult{}, false
}

// tier2 scores every type-compatible DOM field by token overlap between the
// field's label and the DOM field's textual surroundings, accepting the best
// candidate above the overlap floor.
func (t *Tiered) tier2(field schemas.WebFieldMapping, domFields []schemas.DOMFieldInfo) (matchResult, bool) {
	labelTokens := tokenize(field.Label)
	if len(labelTokens) == 0 {
		return matchResult{}, false
	}

	var (
		best      *schemas.DOMFieldInfo
		bestScore float64
	)
	for i := range domFields {
		dom := &domFields[i]
		if !isTypeCompatible(field.InputType, *dom) {
			continue
		}
		domTokens := tokenize(strings.Join(dom.Labels, " ") + " " + dom.AriaLabel + " " + dom.Placeholder + " " + dom.NearbyText)
		score := overlapRatio(labelTokens, domTokens)
		if score > bestScore {
			bestScore = score
			best = dom
		}
	}

	if best == nil || bestScore <= tier2MinScore {
		return matchResult{}, false
	}
	return matchResult{
		mapping: schemas.AIFieldMapping{
			FieldPath:  field.FieldPath,
			Selector:   selectorFor(*best),
			Label:      field.Label,
			Value:      field.Value,
			InputType:  field.InputType,
			Confidence: tier2Confidence,
		},
		dom: best,
	}, true
}

// tier3AIResponse is the shape the model is asked to return for the batched
// fallback. Everything else on the mapping is rehydrated from the original
// field list; the model is not trusted to echo values faithfully.
type tier3AIResponse struct {
	FieldPath  string  `json:"fieldPath"`
	Selector   string  `json:"selector"`
	InputType  string  `json:"inputType"`
	Confidence float64 `json:"confidence"`
}

// tier3 sends the remaining unmatched fields plus a bounded slice of the
// page's visible, enabled elements to the model in one batch. A failed or
// unparseable response degrades to zero matches for this tier.
func (t *Tiered) tier3(ctx context.Context, fields []schemas.WebFieldMapping, domFields []schemas.DOMFieldInfo) []matchResult {
	candidates := make([]schemas.DOMFieldInfo, 0, t.maxDOMFields)
	for _, dom := range domFields {
		if !dom.Visible || !dom.Enabled {
			continue
		}
		candidates = append(candidates, dom)
		if len(candidates) >= t.maxDOMFields {
			break
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	response, err := t.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: tierMatchSystemPrompt,
		UserPrompt:   buildTierMatchPrompt(fields, candidates),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	if err != nil {
		t.logger.Warn("Tier 3 LLM call failed, degrading to no matches", zap.Error(err))
		return nil
	}

	decoded := llmutil.DecodeArrayLenient[tier3AIResponse](response, t.logger)

	byPath := make(map[string]schemas.WebFieldMapping, len(fields))
	for _, f := range fields {
		byPath[f.FieldPath] = f
	}

	var results []matchResult
	seen := make(map[string]bool, len(decoded))
	for _, entry := range decoded {
		field, ok := byPath[entry.FieldPath]
		if !ok || seen[entry.FieldPath] || entry.Selector == "" {
			continue
		}
		if entry.Confidence < t.minConfidence {
			continue
		}
		seen[entry.FieldPath] = true
		results = append(results, matchResult{
			mapping: schemas.AIFieldMapping{
				FieldPath:  field.FieldPath,
				Selector:   entry.Selector,
				Label:      field.Label,
				Value:      field.Value,
				InputType:  normalizeInputType(entry.InputType, field.InputType),
				Confidence: entry.Confidence,
			},
			dom: domForSelector(entry.Selector, domFields),
		})
	}
	return results
}

// normalizeInputType accepts the model's classification only when it names a
// known input type, otherwise keeps the flattener's.
func normalizeInputType(raw string, fallback schemas.InputType) schemas.InputType {
	switch schemas.InputType(strings.ToLower(strings.TrimSpace(raw))) {
	case schemas.InputText:
		return schemas.InputText
	case schemas.InputSelect:
		return schemas.InputSelect
	case schemas.InputRadio:
		return schemas.InputRadio
	case schemas.InputCheckbox:
		return schemas.InputCheckbox
	case schemas.InputDate:
		return schemas.InputDate
	case schemas.InputClickElement:
		return schemas.InputClickElement
	case schemas.InputClickSequence:
		return schemas.InputClickSequence
	default:
		return fallback
	}
}

func containsFold(haystack, needleLower string) bool {
	if haystack == "" || needleLower == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), needleLower)
}

// tokenize lowercases, strips non-alphanumerics, and drops single-character
// tokens, which carry no matching signal.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range tokenRegex.FindAllString(strings.ToLower(s), -1) {
		if len(tok) > 1 {
			tokens[tok] = true
		}
	}
	return tokens
}

// overlapRatio is |intersection| / max(|a|, |b|).
func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for tok := range a {
		if b[tok] {
			common++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(common) / float64(denom)
}
