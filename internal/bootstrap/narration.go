package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/echolens/internal/artifact"
	"github.com/eleven-am/echolens/internal/metrics"
	"github.com/eleven-am/echolens/internal/narration"
	"github.com/eleven-am/echolens/internal/pipeline"
	"github.com/eleven-am/echolens/internal/session"
	"github.com/eleven-am/echolens/internal/shared"
	"github.com/eleven-am/echolens/internal/synthesis"
	"github.com/eleven-am/echolens/internal/vision"
	"github.com/openai/openai-go/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func ProvideArtifactStore(cfg *Config) (*artifact.Store, error) {
	return artifact.NewStore(cfg.UploadDir)
}

func ProvideDescriber(cfg *Config, client openai.Client) (vision.Describer, error) {
	return vision.NewDescriber(vision.Config{
		Provider:  cfg.VisionProvider,
		OllamaURL: cfg.OllamaURL,
		Model:     cfg.VisionModel,
		MaxTokens: cfg.VisionMaxTokens,
		Timeout:   cfg.ProviderTimeout,
	}, client)
}

func voiceConfig(cfg *Config) synthesis.VoiceConfig {
	return synthesis.VoiceConfig{
		Model:        cfg.TTSModel,
		Voice:        cfg.TTSVoice,
		Instructions: cfg.TTSInstructions,
		Speed:        cfg.TTSSpeed,
		Format:       cfg.TTSFormat,
	}
}

func ProvideSynthesizer(cfg *Config, client openai.Client) synthesis.Synthesizer {
	return synthesis.NewOpenAISynthesizer(client, voiceConfig(cfg))
}

func ProvideSessionManager(cfg *Config, logger *slog.Logger) *session.Manager {
	return session.NewManager(session.Config{
		IdleTimeout:  cfg.SessionIdleTimeout,
		ReapInterval: cfg.SessionReapInterval,
		Narration: narration.Config{
			Window:          cfg.ContextWindow,
			MaxContextChars: cfg.ContextMaxChars,
		},
	}, logger)
}

// ProvideUsageStore returns nil without redis.
func ProvideUsageStore(client *redis.Client) *session.Store {
	if client == nil {
		return nil
	}
	return session.NewStore(client)
}

func ProvidePipeline(
	cfg *Config,
	artifacts *artifact.Store,
	describer vision.Describer,
	synthesizer synthesis.Synthesizer,
	usage *session.Store,
	logger *slog.Logger,
) *pipeline.Pipeline {
	var recorder pipeline.Recorder
	if usage != nil {
		recorder = usage
	}
	return pipeline.New(artifacts, describer, synthesizer, recorder, pipeline.Config{
		MaxImageBytes:    cfg.MaxImageBytes,
		ProviderTimeout:  cfg.ProviderTimeout,
		DescribeRetries:  cfg.DescribeRetries,
		SynthesisRetries: cfg.SynthesisRetries,
		Backoff: shared.BackoffConfig{
			Initial:  cfg.RetryBackoff,
			MaxDelay: cfg.RetryMaxBackoff,
		},
		CommitPolicy: pipeline.CommitPolicy(cfg.CommitPolicy),
		Voice:        voiceConfig(cfg),
	}, logger)
}

func ProvidePipelineHandler(cfg *Config, p *pipeline.Pipeline, sessions *session.Manager, artifacts *artifact.Store, logger *slog.Logger) *pipeline.Handler {
	return pipeline.NewHandler(p, sessions, artifacts, cfg.RetainAudio(), logger.With("handler", "narrate"))
}

func ProvideStreamHandler(cfg *Config, p *pipeline.Pipeline, sessions *session.Manager, logger *slog.Logger) *pipeline.StreamHandler {
	return pipeline.NewStreamHandler(p, sessions, cfg.StreamQueue, logger)
}

func ProvideSessionHandler(sessions *session.Manager, usage *session.Store, logger *slog.Logger) *session.Handler {
	return session.NewHandler(sessions, usage, logger.With("handler", "session"))
}

// sweepAge is how old an artifact must be before the janitor removes it.
// Retained audio expires after AudioRetention, but never before a frame
// could still be in flight.
func sweepAge(cfg *Config) time.Duration {
	age := cfg.OrphanMaxAge
	if cfg.RetainAudio() && cfg.AudioRetention < age {
		age = cfg.AudioRetention
	}
	if floor := 4 * cfg.ProviderTimeout; age < floor {
		age = floor
	}
	return age
}

func sweep(store *artifact.Store, age time.Duration, logger *slog.Logger) {
	n, err := store.Sweep(age)
	if n > 0 {
		metrics.ArtifactsSwept.Add(float64(n))
		logger.Info("swept stale artifacts", "count", n)
	}
	if err != nil {
		logger.Error("artifact sweep failed", "error", err)
	}
}

// StartBackground runs the session reaper and the artifact janitor for the
// lifetime of the app. Live sessions are closed on stop.
func StartBackground(lc fx.Lifecycle, cfg *Config, sessions *session.Manager, artifacts *artifact.Store, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	log := logger.With("component", "janitor")

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			age := sweepAge(cfg)
			sweep(artifacts, age, log)

			go sessions.Run(ctx)
			go func() {
				ticker := time.NewTicker(cfg.SweepInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						sweep(artifacts, age, log)
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			sessions.CloseAll()
			return nil
		},
	})
}

var NarrationModule = fx.Options(
	fx.Provide(
		ProvideArtifactStore,
		ProvideDescriber,
		ProvideSynthesizer,
		ProvideSessionManager,
		ProvideUsageStore,
		ProvidePipeline,
		ProvidePipelineHandler,
		ProvideStreamHandler,
		ProvideSessionHandler,
	),
	fx.Invoke(StartBackground),
)
