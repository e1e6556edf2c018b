// internal/matcher/valueresolve.go
package matcher

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/llmutil"
)

// minSubstringLen is the floor below which substring containment is not
// attempted. Short internal value codes ("a", "no") would otherwise match
// almost any option label.
const minSubstringLen = 3

// resolveValues translates internal option identifiers into the page's actual
// option text for every radio and select mapping, deterministically where
// possible and through a single batched LLM call for the remainder.
func (t *Tiered) resolveValues(ctx context.Context, results []matchResult) {
	var unresolved []*matchResult
	for i := range results {
		res := &results[i]
		if res.mapping.InputType != schemas.InputRadio && res.mapping.InputType != schemas.InputSelect {
			continue
		}
		if res.dom == nil || len(res.dom.Options) == 0 {
			continue
		}
		if resolved, ok := resolveOption(res.mapping.Value, res.dom.Options); ok {
			res.mapping.ResolvedValue = resolved
			continue
		}
		unresolved = append(unresolved, res)
	}

	if len(unresolved) == 0 || t.llm == nil {
		return
	}
	t.resolveValuesAI(ctx, unresolved)
}

// resolveOption attempts a deterministic resolve against a DOM field's
// enumerated options. Options may be encoded "value=label" for radio groups.
// Tried in order: exact value match, exact label match, then label-contains-
// value containment for values of at least minSubstringLen characters.
func resolveOption(value string, options []string) (string, bool) {
	type option struct{ value, label string }
	parsed := make([]option, 0, len(options))
	for _, raw := range options {
		if idx := strings.Index(raw, "="); idx != -1 {
			parsed = append(parsed, option{value: raw[:idx], label: raw[idx+1:]})
		} else {
			parsed = append(parsed, option{value: raw, label: raw})
		}
	}

	for _, opt := range parsed {
		if strings.EqualFold(opt.value, value) {
			return opt.value, true
		}
	}
	for _, opt := range parsed {
		if strings.EqualFold(opt.label, value) {
			return opt.label, true
		}
	}
	if len(value) >= minSubstringLen {
		lower := strings.ToLower(value)
		for _, opt := range parsed {
			if strings.Contains(strings.ToLower(opt.label), lower) {
				return opt.label, true
			}
		}
	}
	return "", false
}

// valueResolveAIResponse is the per-field shape of the batched resolution
// response.
type valueResolveAIResponse struct {
	FieldPath     string  `json:"fieldPath"`
	ResolvedValue string  `json:"resolvedValue"`
	Confidence    float64 `json:"confidence"`
}

// resolveValuesAI covers all still-unresolved fields in one prompt to keep
// model round-trips at one per run. Sub-threshold or missing entries leave
// the original value in place; such a field simply will not be filled
// meaningfully downstream.
func (t *Tiered) resolveValuesAI(ctx context.Context, unresolved []*matchResult) {
	response, err := t.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: valueResolveSystemPrompt,
		UserPrompt:   buildValueResolvePrompt(unresolved),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	if err != nil {
		t.logger.Warn("Value resolution LLM call failed, keeping internal values", zap.Error(err))
		return
	}

	decoded := llmutil.DecodeArrayLenient[valueResolveAIResponse](response, t.logger)
	if len(decoded) == 0 {
		return
	}

	byPath := make(map[string]*matchResult, len(unresolved))
	for _, res := range unresolved {
		byPath[res.mapping.FieldPath] = res
	}
	for _, entry := range decoded {
		res, ok := byPath[entry.FieldPath]
		if !ok || entry.ResolvedValue == "" {
			continue
		}
		if entry.Confidence < t.minConfidence {
			continue
		}
		res.mapping.ResolvedValue = entry.ResolvedValue
	}
}
