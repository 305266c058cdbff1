package llm

import (
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

type Config struct {
	APIKey  string
	BaseURL string
}

// NewClient builds an OpenAI-compatible client. SDK retries are disabled;
// retry policy belongs to the narration pipeline.
func NewClient(cfg Config) openai.Client {
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...)
}
