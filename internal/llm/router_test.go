package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ezmig/formpilot/api/schemas"
	"github.com/ezmig/formpilot/internal/config"
)

// MockLLMClient is a testify mock for the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestRouter_RoutesByTier(t *testing.T) {
	fast := new(MockLLMClient)
	powerful := new(MockLLMClient)
	fast.On("Generate", mock.Anything, mock.Anything).Return("fast response", nil)
	powerful.On("Generate", mock.Anything, mock.Anything).Return("powerful response", nil)

	router, err := NewRouter(zaptest.NewLogger(t), fast, powerful, 0)
	require.NoError(t, err)

	got, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	require.NoError(t, err)
	assert.Equal(t, "fast response", got)

	got, err = router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, "powerful response", got)
}

func TestRouter_DefaultsToPowerful(t *testing.T) {
	fast := new(MockLLMClient)
	powerful := new(MockLLMClient)
	powerful.On("Generate", mock.Anything, mock.Anything).Return("powerful response", nil)

	router, err := NewRouter(zaptest.NewLogger(t), fast, powerful, 0)
	require.NoError(t, err)

	got, err := router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "powerful response", got)
	fast.AssertNotCalled(t, "Generate")
}

func TestRouter_RequiresBothTiers(t *testing.T) {
	_, err := NewRouter(zaptest.NewLogger(t), nil, new(MockLLMClient), 0)
	assert.Error(t, err)
	_, err = NewRouter(zaptest.NewLogger(t), new(MockLLMClient), nil, 0)
	assert.Error(t, err)
}

func TestRouter_CloseClosesAllClients(t *testing.T) {
	fast := new(MockLLMClient)
	powerful := new(MockLLMClient)
	fast.On("Close").Return(nil)
	powerful.On("Close").Return(nil)

	router, err := NewRouter(zaptest.NewLogger(t), fast, powerful, 0)
	require.NoError(t, err)
	require.NoError(t, router.Close())

	fast.AssertCalled(t, "Close")
	powerful.AssertCalled(t, "Close")
}

func TestNewRouterFromConfig_DefaultsWithEnvKey(t *testing.T) {
	// The documented minimal setup: stock defaults plus the API key from the
	// environment must be enough to build both tier clients.
	t.Setenv("FORMPILOT_LLM_API_KEY", "test-key-123")
	cfg := config.NewDefault()

	router, err := NewRouterFromConfig(cfg.LLM, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, router)
	assert.NoError(t, router.Close())
}

func TestNewRouterFromConfig_MissingKey(t *testing.T) {
	cfg := config.LLMRouterConfig{
		DefaultFastModel:     "gemini-2.5-flash",
		DefaultPowerfulModel: "gemini-2.5-pro",
		Models:               map[string]config.LLMModelConfig{},
	}
	_, err := NewRouterFromConfig(cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "fast tier")
}

func TestTierModelConfig_Backfill(t *testing.T) {
	cfg := config.LLMRouterConfig{
		DefaultFastModel: "gemini-2.5-flash",
		Models: map[string]config.LLMModelConfig{
			"fast": {APIKey: "env-key"},
		},
	}

	got := tierModelConfig(cfg, schemas.TierFast, cfg.DefaultFastModel)
	assert.Equal(t, config.ProviderGemini, got.Provider)
	assert.Equal(t, "gemini-2.5-flash", got.Model)
	assert.Equal(t, "env-key", got.APIKey)

	// An explicit entry is left alone.
	cfg.Models["fast"] = config.LLMModelConfig{
		Provider: config.ProviderGemini, Model: "gemini-2.0-flash", APIKey: "env-key",
	}
	got = tierModelConfig(cfg, schemas.TierFast, cfg.DefaultFastModel)
	assert.Equal(t, "gemini-2.0-flash", got.Model)
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(config.LLMModelConfig{Provider: "oracle"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
