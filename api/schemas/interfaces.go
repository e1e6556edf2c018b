package schemas

import "context"

// -- LLM Client Schemas & Interface --

// ModelTier selects a language model by a preference for speed versus
// capability. Batch matching and value resolution run on the fast tier; the
// single-shot full-page analysis runs on the powerful tier.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions controls the text generation process.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	TopK            int     `json:"top_k"`
}

// GenerationRequest is a complete request to the language model. The only
// structural contract of the response is "free text"; callers must parse it
// defensively and never trust its shape.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the typed external collaborator behind every AI-assisted
// matching pass. Implementations are stateless and safely retryable.
type LLMClient interface {
	// Generate produces a text completion for the request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close releases any resources held by the client.
	Close() error
}
