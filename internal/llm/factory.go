// internal/llm/factory.go
package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the
// model configuration.
func NewClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
