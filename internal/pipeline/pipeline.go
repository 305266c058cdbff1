package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/echolens/internal/artifact"
	"github.com/eleven-am/echolens/internal/metrics"
	"github.com/eleven-am/echolens/internal/narration"
	"github.com/eleven-am/echolens/internal/session"
	"github.com/eleven-am/echolens/internal/shared"
	"github.com/eleven-am/echolens/internal/synthesis"
	"github.com/eleven-am/echolens/internal/vision"
)

// CommitPolicy decides when a description joins the narration history.
type CommitPolicy string

const (
	// CommitOnDescribe appends as soon as the description succeeds and lets
	// the next frame in while this one is still being synthesized.
	CommitOnDescribe CommitPolicy = "describe"
	// CommitOnSynthesis appends only once audio exists for the description.
	CommitOnSynthesis CommitPolicy = "synthesis"
)

const (
	DefaultMaxImageBytes    = 20 << 20
	DefaultProviderTimeout  = 30 * time.Second
	DefaultSynthesisRetries = 1
)

type Config struct {
	MaxImageBytes    int64
	ProviderTimeout  time.Duration
	DescribeRetries  int
	SynthesisRetries int
	Backoff          shared.BackoffConfig
	CommitPolicy     CommitPolicy
	Voice            synthesis.VoiceConfig
}

func (c Config) withDefaults() Config {
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.DescribeRetries < 0 {
		c.DescribeRetries = 0
	}
	if c.SynthesisRetries < 0 {
		c.SynthesisRetries = 0
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = 250 * time.Millisecond
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = 2 * time.Second
	}
	if c.CommitPolicy == "" {
		c.CommitPolicy = CommitOnDescribe
	}
	return c
}

// Artifacts is the subset of the artifact store the pipeline needs.
type Artifacts interface {
	Store(data []byte, kind artifact.Kind) (*artifact.Handle, error)
	Read(h *artifact.Handle) ([]byte, error)
	Release(h *artifact.Handle) error
}

// Recorder receives one outcome per processed frame.
type Recorder interface {
	RecordFrame(ctx context.Context, out session.FrameOutcome) error
}

// Frame is one submitted image, consumed once by Process.
type Frame struct {
	ID          string
	SessionID   string
	Image       []byte
	ContentType string
	ReceivedAt  time.Time
}

func NewFrame(image []byte) *Frame {
	return &Frame{
		ID:          shared.NewID("frame_"),
		Image:       image,
		ContentType: http.DetectContentType(image),
		ReceivedAt:  time.Now(),
	}
}

// Result is a completed narration. The caller owns AudioArtifact and must
// call Release once the audio has been delivered.
type Result struct {
	FrameID       string
	SessionID     string
	Description   string
	Audio         *synthesis.Audio
	AudioArtifact *artifact.Handle
	States        []State
	Duration      time.Duration

	artifacts Artifacts
	once      sync.Once
}

func (r *Result) Release() error {
	if r == nil || r.AudioArtifact == nil {
		return nil
	}
	var err error
	r.once.Do(func() {
		err = r.artifacts.Release(r.AudioArtifact)
	})
	return err
}

type Pipeline struct {
	artifacts   Artifacts
	describer   vision.Describer
	synthesizer synthesis.Synthesizer
	recorder    Recorder
	cfg         Config
	logger      *slog.Logger
}

// New wires the pipeline. recorder may be nil.
func New(
	artifacts Artifacts,
	describer vision.Describer,
	synthesizer synthesis.Synthesizer,
	recorder Recorder,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		artifacts:   artifacts,
		describer:   describer,
		synthesizer: synthesizer,
		recorder:    recorder,
		cfg:         cfg.withDefaults(),
		logger:      logger.With("component", "pipeline"),
	}
}

func (p *Pipeline) MaxImageBytes() int64 {
	return p.cfg.MaxImageBytes
}

// Validate rejects frames that must never reach the artifact store.
func (p *Pipeline) Validate(frame *Frame) error {
	if frame == nil || len(frame.Image) == 0 {
		return shared.NewValidationError("image", "image is required")
	}
	if int64(len(frame.Image)) > p.cfg.MaxImageBytes {
		return shared.NewValidationError("image", fmt.Sprintf("image exceeds %d bytes", p.cfg.MaxImageBytes))
	}
	if !artifact.IsImage(frame.ContentType) {
		return shared.NewValidationError("image", fmt.Sprintf("unsupported content type %q", frame.ContentType))
	}
	return nil
}

// Process runs one frame through store, describe and synthesize. The frame
// takes its session turn on entry so history is appended in arrival order;
// the stored image is released exactly once on every path.
func (p *Pipeline) Process(ctx context.Context, sess *session.Session, frame *Frame) (*Result, error) {
	start := time.Now()
	metrics.FramesInFlight.Inc()
	defer metrics.FramesInFlight.Dec()

	run := newTracker()
	logger := p.logger.With("session_id", sess.ID)
	if frame != nil {
		frame.SessionID = sess.ID
		logger = logger.With("frame_id", frame.ID)
	}

	out := session.FrameOutcome{SessionID: sess.ID}
	fail := func(stage State, err error) (*Result, error) {
		run.to(StateFailed)
		out.FailedStage = string(stage)
		out.ErrorKind = errorKind(err)
		p.finish(ctx, out, StateFailed)
		metrics.Errors.WithLabelValues(string(stage), out.ErrorKind).Inc()

		level := slog.LevelWarn
		if out.ErrorKind == "storage" || out.ErrorKind == "internal" {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "frame failed", "stage", stage, "kind", out.ErrorKind, "error", err)

		frameID := ""
		if frame != nil {
			frameID = frame.ID
		}
		return nil, &FrameError{FrameID: frameID, Stage: stage, Err: err}
	}

	if err := p.Validate(frame); err != nil {
		return fail(StateImageStored, err)
	}

	turn, err := sess.Enter()
	if err != nil {
		return fail(StateImageStored, err)
	}
	defer turn.Leave()

	stageStart := time.Now()
	image, err := p.artifacts.Store(frame.Image, artifact.KindImage)
	if err != nil {
		return fail(StateImageStored, err)
	}
	imageReleased := false
	releaseImage := func() {
		if !imageReleased {
			imageReleased = true
			p.releaseImage(logger, image)
		}
	}
	defer releaseImage()
	metrics.StageDuration.WithLabelValues(string(StateImageStored)).Observe(time.Since(stageStart).Seconds())
	run.to(StateImageStored)

	data, err := p.artifacts.Read(image)
	if err != nil {
		return fail(StateDescribed, err)
	}

	waitStart := time.Now()
	if err := turn.Wait(ctx); err != nil {
		return fail(StateDescribed, err)
	}
	metrics.QueueWait.Observe(time.Since(waitStart).Seconds())

	history := sess.Narration()
	prompt := history.BuildPrompt()
	metrics.PromptChars.Observe(float64(len(prompt)))

	stageStart = time.Now()
	var description string
	err = p.attempt(ctx, logger, StateDescribed, p.cfg.DescribeRetries, func(ctx context.Context) error {
		text, err := p.describer.Describe(ctx, data, frame.ContentType, prompt)
		if err != nil {
			return err
		}
		description = text
		return nil
	})
	if err != nil {
		return fail(StateDescribed, err)
	}
	metrics.StageDuration.WithLabelValues(string(StateDescribed)).Observe(time.Since(stageStart).Seconds())
	out.Described = true

	segment := narration.Segment{FrameID: frame.ID, Text: description}
	if p.cfg.CommitPolicy == CommitOnDescribe {
		history.Append(segment)
		turn.Leave()
	}
	run.to(StateDescribed)
	logger.Debug("frame described", "chars", len(description), "segments", history.Len())

	stageStart = time.Now()
	var audio *synthesis.Audio
	err = p.attempt(ctx, logger, StateSynthesized, p.cfg.SynthesisRetries, func(ctx context.Context) error {
		a, err := p.synthesizer.Synthesize(ctx, description, p.cfg.Voice)
		if err != nil {
			return err
		}
		audio = a
		return nil
	})
	if err != nil {
		return fail(StateSynthesized, err)
	}

	audioHandle, err := p.artifacts.Store(audio.Data, artifact.KindAudio)
	if err != nil {
		return fail(StateSynthesized, err)
	}
	metrics.StageDuration.WithLabelValues(string(StateSynthesized)).Observe(time.Since(stageStart).Seconds())

	if p.cfg.CommitPolicy == CommitOnSynthesis {
		history.Append(segment)
		turn.Leave()
	}
	run.to(StateSynthesized)

	releaseImage()
	run.to(StateDone)
	sess.Touch()

	out.Synthesized = true
	out.Latency = time.Since(start)
	p.finish(ctx, out, StateDone)
	metrics.E2EDuration.Observe(out.Latency.Seconds())
	logger.Info("frame narrated", "duration_ms", out.Latency.Milliseconds(), "audio_bytes", len(audio.Data))

	return &Result{
		FrameID:       frame.ID,
		SessionID:     sess.ID,
		Description:   description,
		Audio:         audio,
		AudioArtifact: audioHandle,
		States:        run.states(),
		Duration:      out.Latency,
		artifacts:     p.artifacts,
	}, nil
}

// attempt runs fn under a per-call timeout, retrying transient failures up
// to retries more times.
func (p *Pipeline) attempt(ctx context.Context, logger *slog.Logger, stage State, retries int, fn func(context.Context) error) error {
	for try := 0; ; try++ {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.ProviderTimeout)
		err := fn(callCtx)
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil {
			return nil
		}
		var providerErr *shared.ProviderError
		if timedOut && !errors.As(err, &providerErr) {
			err = shared.NewTransient("pipeline", string(stage), err)
		}
		if !shared.IsTransient(err) || try >= retries || ctx.Err() != nil {
			return err
		}

		delay := p.cfg.Backoff.Delay(try + 1)
		metrics.Retries.WithLabelValues(string(stage)).Inc()
		logger.Warn("transient provider failure, retrying", "stage", stage, "attempt", try+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (p *Pipeline) releaseImage(logger *slog.Logger, h *artifact.Handle) {
	if err := p.artifacts.Release(h); err != nil {
		logger.Error("failed to release image artifact", "path", h.Path, "error", err)
	}
}

func (p *Pipeline) finish(ctx context.Context, out session.FrameOutcome, state State) {
	metrics.FramesTotal.WithLabelValues(string(state)).Inc()
	if p.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.recorder.RecordFrame(recordCtx, out); err != nil {
		p.logger.Warn("failed to record frame outcome", "session_id", out.SessionID, "error", err)
	}
}

func errorKind(err error) string {
	var validationErr *shared.ValidationError
	var storageErr *shared.StorageError
	var providerErr *shared.ProviderError
	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &storageErr):
		return "storage"
	case errors.As(err, &providerErr):
		return string(providerErr.Kind)
	case errors.Is(err, shared.ErrClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
