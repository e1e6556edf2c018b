package schemas

// DefaultMinConfidence is the decision threshold below which an AI-produced
// mapping is discarded before reaching any side-effecting consumer. It is a
// cutoff, not a calibrated probability; deployments may tune it through
// mapping.min_confidence.
const DefaultMinConfidence = 0.5

// InputType classifies how a value must be entered into a page control.
// click-element and click-sequence exist because USCIS frequently implements
// controls as non-native div/span widgets requiring sequenced clicks.
type InputType string

const (
	InputText          InputType = "text"
	InputSelect        InputType = "select"
	InputRadio         InputType = "radio"
	InputCheckbox      InputType = "checkbox"
	InputDate          InputType = "date"
	InputClickElement  InputType = "click-element"
	InputClickSequence InputType = "click-sequence"
)

// WebFieldMapping is the flattener's intermediate output: one field to fill,
// with a formatted value and best-effort selector hints. It is derived,
// disposable, and consumed by exactly one matching strategy per run.
type WebFieldMapping struct {
	FieldPath string    `json:"fieldPath"`
	Label     string    `json:"label"`
	Value     string    `json:"value"`
	InputType InputType `json:"inputType"`
	Selectors []string  `json:"selectors,omitempty"`
}

// AIFieldMapping is a resolved mapping: a concrete page-specific selector
// plus everything the automation engine needs to act on it.
type AIFieldMapping struct {
	FieldPath     string    `json:"fieldPath"`
	Selector      string    `json:"selector"`
	Label         string    `json:"label"`
	Value         string    `json:"value"`
	InputType     InputType `json:"inputType"`
	ResolvedValue string    `json:"resolvedValue,omitempty"`
	ClickSequence []string  `json:"clickSequence,omitempty"`
	Confidence    float64   `json:"confidence"`
}

// EffectiveValue returns the page-facing value: the resolved option text when
// a resolution pass produced one, otherwise the internal value.
func (m AIFieldMapping) EffectiveValue() string {
	if m.ResolvedValue != "" {
		return m.ResolvedValue
	}
	return m.Value
}

// DOMFieldInfo describes one interactive element of a live page. It is
// supplied by a browser-side extractor, untrusted, and valid only for the
// single mapping request that carried it.
type DOMFieldInfo struct {
	Index       int      `json:"index"`
	TagName     string   `json:"tagName"`
	Type        string   `json:"type,omitempty"`
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name,omitempty"`
	AriaLabel   string   `json:"ariaLabel,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	NearbyText  string   `json:"nearbyText,omitempty"`
	Options     []string `json:"options,omitempty"`
	Visible     bool     `json:"visible"`
	Enabled     bool     `json:"enabled"`
}

// DOMSnapshot is the interactive surface of a page at one instant. The
// underlying page is assumed volatile, so snapshots are never cached or
// diffed across requests. A non-empty PageHTML selects the full-page AI
// strategy over the tiered strategy.
type DOMSnapshot struct {
	URL      string         `json:"url,omitempty"`
	Fields   []DOMFieldInfo `json:"fields"`
	PageHTML string         `json:"pageHTML,omitempty"`
}

// FilterByConfidence drops mappings below the threshold and mappings whose
// effective value is empty. Both classes must never reach a consumer that
// performs a real side effect.
func FilterByConfidence(mappings []AIFieldMapping, min float64) []AIFieldMapping {
	out := make([]AIFieldMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Confidence < min {
			continue
		}
		if m.EffectiveValue() == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
