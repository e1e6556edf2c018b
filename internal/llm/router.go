// internal/llm/router.go
package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/config"
)

// Router implements the schemas.LLMClient interface and routes requests to a
// fast or powerful tier. A shared limiter paces outgoing requests so that
// concurrent mapping runs do not burst past the provider quota.
type Router struct {
	logger  *zap.Logger
	clients map[schemas.ModelTier]schemas.LLMClient
	limiter *rate.Limiter
}

// NewRouter creates a router with the specified clients for each tier.
// requestsPerMinute <= 0 disables pacing.
func NewRouter(logger *zap.Logger, fastClient, powerfulClient schemas.LLMClient, requestsPerMinute float64) (*Router, error) {
	if fastClient == nil || powerfulClient == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(requestsPerMinute / 60.0)
	}

	return &Router{
		logger: logger.Named("llm.router"),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fastClient,
			schemas.TierPowerful: powerfulClient,
		},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// NewRouterFromConfig builds both tier clients from the router configuration.
// The models map is keyed by tier alias ("fast", "powerful"); entries may be
// partial, with the provider and model name backfilled from the router
// defaults. This is the key layout the environment binding in config.New
// writes the API key into.
func NewRouterFromConfig(cfg config.LLMRouterConfig, logger *zap.Logger) (*Router, error) {
	fastCfg := tierModelConfig(cfg, schemas.TierFast, cfg.DefaultFastModel)
	powerfulCfg := tierModelConfig(cfg, schemas.TierPowerful, cfg.DefaultPowerfulModel)

	fastClient, err := NewClient(fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create fast tier client: %w", err)
	}
	powerfulClient, err := NewClient(powerfulCfg, logger)
	if err != nil {
		fastClient.Close()
		return nil, fmt.Errorf("failed to create powerful tier client: %w", err)
	}

	return NewRouter(logger, fastClient, powerfulClient, cfg.RequestsPerMinute)
}

// tierModelConfig looks up a tier's model entry and fills in whatever the
// operator left unset: the provider defaults to Gemini and the model name to
// the tier's default.
func tierModelConfig(cfg config.LLMRouterConfig, tier schemas.ModelTier, defaultModel string) config.LLMModelConfig {
	modelCfg := cfg.Models[string(tier)]
	if modelCfg.Provider == "" {
		modelCfg.Provider = config.ProviderGemini
	}
	if modelCfg.Model == "" {
		modelCfg.Model = defaultModel
	}
	return modelCfg
}

// Generate selects the appropriate client based on the request's Tier.
func (r *Router) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful // Default to the powerful tier if unspecified.
	}

	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no LLM client configured for tier: %s", tier)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter interrupted: %w", err)
	}

	r.logger.Debug("Routing LLM request", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}

// Close closes every tier client.
func (r *Router) Close() error {
	var firstErr error
	for _, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
