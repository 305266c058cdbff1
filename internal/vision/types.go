package vision

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Describer turns one image into descriptive text with a single remote call.
// Failures are *shared.ProviderError; retries are the caller's concern.
type Describer interface {
	Describe(ctx context.Context, image []byte, contentType, prompt string) (string, error)
}

// Checker is implemented by describers that can probe their backend.
type Checker interface {
	IsAvailable(ctx context.Context) bool
}

type Config struct {
	Provider  string
	OllamaURL string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// NewDescriber picks the backend named by cfg.Provider. OpenAI is the default.
func NewDescriber(cfg Config, client openai.Client) (Describer, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIDescriber(client, cfg), nil
	case ProviderOllama:
		if cfg.OllamaURL == "" {
			return nil, fmt.Errorf("vision provider %q requires an ollama url", cfg.Provider)
		}
		return NewOllamaDescriber(cfg), nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}
