package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eleven-am/echolens/internal/pipeline"
	"github.com/eleven-am/echolens/internal/vision"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "ECHOLENS_"

type Config struct {
	ServerAddr string `koanf:"server_addr"`
	LogLevel   string `koanf:"log_level"`

	OpenAIAPIKey  string `koanf:"openai_api_key"`
	OpenAIBaseURL string `koanf:"openai_base_url"`

	VisionProvider  string `koanf:"vision_provider"`
	VisionModel     string `koanf:"vision_model"`
	VisionMaxTokens int64  `koanf:"vision_max_tokens"`
	OllamaURL       string `koanf:"ollama_url"`

	TTSModel        string  `koanf:"tts_model"`
	TTSVoice        string  `koanf:"tts_voice"`
	TTSInstructions string  `koanf:"tts_instructions"`
	TTSSpeed        float64 `koanf:"tts_speed"`
	TTSFormat       string  `koanf:"tts_format"`

	ProviderTimeout  time.Duration `koanf:"provider_timeout"`
	DescribeRetries  int           `koanf:"describe_retries"`
	SynthesisRetries int           `koanf:"synthesis_retries"`
	RetryBackoff     time.Duration `koanf:"retry_backoff"`
	RetryMaxBackoff  time.Duration `koanf:"retry_max_backoff"`
	CommitPolicy     string        `koanf:"commit_policy"`

	ContextWindow   int   `koanf:"context_window"`
	ContextMaxChars int   `koanf:"context_max_chars"`
	MaxImageBytes   int64 `koanf:"max_image_bytes"`
	StreamQueue     int   `koanf:"stream_queue"`

	SessionIdleTimeout  time.Duration `koanf:"session_idle_timeout"`
	SessionReapInterval time.Duration `koanf:"session_reap_interval"`

	UploadDir      string        `koanf:"upload_dir"`
	AudioRetention time.Duration `koanf:"audio_retention"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	OrphanMaxAge   time.Duration `koanf:"orphan_max_age"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

var defaults = map[string]any{
	"server_addr":           ":8080",
	"log_level":             "info",
	"vision_provider":       vision.ProviderOpenAI,
	"vision_model":          "gpt-4-turbo",
	"vision_max_tokens":     300,
	"tts_model":             "gpt-4o-mini-tts",
	"tts_voice":             "onyx",
	"tts_instructions":      "Speak in a cheerful and positive tone.",
	"tts_speed":             1.0,
	"tts_format":            "mp3",
	"provider_timeout":      "30s",
	"describe_retries":      0,
	"synthesis_retries":     pipeline.DefaultSynthesisRetries,
	"retry_backoff":         "250ms",
	"retry_max_backoff":     "2s",
	"commit_policy":         string(pipeline.CommitOnDescribe),
	"context_window":        3,
	"context_max_chars":     1200,
	"max_image_bytes":       pipeline.DefaultMaxImageBytes,
	"stream_queue":          2,
	"session_idle_timeout":  "15m",
	"session_reap_interval": "1m",
	"upload_dir":            "./uploads",
	"audio_retention":       "0s",
	"sweep_interval":        "5m",
	"orphan_max_age":        "1h",
}

// LoadConfig layers defaults, an optional YAML file named by ECHOLENS_CONFIG
// and ECHOLENS_* environment variables. A .env file is read first if present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch pipeline.CommitPolicy(c.CommitPolicy) {
	case pipeline.CommitOnDescribe, pipeline.CommitOnSynthesis:
	default:
		errs = append(errs, fmt.Errorf("commit_policy must be %q or %q, got %q",
			pipeline.CommitOnDescribe, pipeline.CommitOnSynthesis, c.CommitPolicy))
	}

	switch c.VisionProvider {
	case vision.ProviderOpenAI:
	case vision.ProviderOllama:
		if c.OllamaURL == "" {
			errs = append(errs, errors.New("ollama_url is required for the ollama vision provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vision_provider %q", c.VisionProvider))
	}

	if c.ContextWindow < 1 {
		errs = append(errs, errors.New("context_window must be at least 1"))
	}
	if c.DescribeRetries < 0 || c.SynthesisRetries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("provider_timeout must be positive"))
	}
	if c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("max_image_bytes must be positive"))
	}
	if c.SweepInterval <= 0 || c.SessionReapInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval and session_reap_interval must be positive"))
	}
	if c.AudioRetention < 0 {
		errs = append(errs, errors.New("audio_retention must not be negative"))
	}

	return errors.Join(errs...)
}

// RetainAudio reports whether audio artifacts outlive their response.
func (c *Config) RetainAudio() bool {
	return c.AudioRetention > 0
}
