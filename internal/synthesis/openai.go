package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eleven-am/echolens/internal/llm"
	"github.com/eleven-am/echolens/internal/shared"
	"github.com/openai/openai-go/v2"
)

const (
	ProviderOpenAI = "openai"

	// maxAudioBytes bounds a single narration clip.
	maxAudioBytes = 16 << 20
)

type OpenAISynthesizer struct {
	client   openai.Client
	defaults VoiceConfig
}

func NewOpenAISynthesizer(client openai.Client, defaults VoiceConfig) *OpenAISynthesizer {
	return &OpenAISynthesizer{
		client:   client,
		defaults: defaults.WithDefaults(),
	}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string, voice VoiceConfig) (*Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, shared.NewPermanent(ProviderOpenAI, "synthesize", errors.New("no text provided"))
	}

	cfg := s.merge(voice)
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(cfg.Model),
		Voice:          openai.AudioSpeechNewParamsVoice(cfg.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(cfg.Format),
		Instructions:   openai.String(cfg.Instructions),
	}
	if cfg.Speed > 0 {
		params.Speed = openai.Float(cfg.Speed)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, llm.Classify(ProviderOpenAI, "synthesize", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, shared.NewTransient(ProviderOpenAI, "synthesize", fmt.Errorf("read audio: %w", err))
	}
	if len(data) > maxAudioBytes {
		return nil, shared.NewPermanent(ProviderOpenAI, "synthesize", fmt.Errorf("audio exceeds %d bytes", maxAudioBytes))
	}
	if len(data) == 0 {
		return nil, shared.NewPermanent(ProviderOpenAI, "synthesize", errors.New("no audio data generated"))
	}

	return &Audio{
		Data:        data,
		Format:      cfg.Format,
		ContentType: ContentType(cfg.Format),
	}, nil
}

func (s *OpenAISynthesizer) merge(v VoiceConfig) VoiceConfig {
	out := s.defaults
	if v.Model != "" {
		out.Model = v.Model
	}
	if v.Voice != "" {
		out.Voice = v.Voice
	}
	if v.Instructions != "" {
		out.Instructions = v.Instructions
	}
	if v.Speed > 0 {
		out.Speed = v.Speed
	}
	if v.Format != "" {
		out.Format = v.Format
	}
	return out
}
