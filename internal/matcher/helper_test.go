package matcher

import (
	"context"

	"github.com/stretchr/testify/mock"

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

func testMappingConfig() config.MappingConfig {
	return config.MappingConfig{
		MinConfidence:    schemas.DefaultMinConfidence,
		MaxDOMFields:     100,
		MaxPageHTMLBytes: 200_000,
	}
}
