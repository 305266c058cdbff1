package synthesis

import (
	"context"
	"strings"
)

const (
	DefaultModel        = "gpt-4o-mini-tts"
	DefaultVoice        = "onyx"
	DefaultInstructions = "Speak in a cheerful and positive tone."
	DefaultFormat       = "mp3"
)

// Synthesizer renders text to a complete audio payload with a single remote
// call. Failures are *shared.ProviderError.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceConfig) (*Audio, error)
}

type VoiceConfig struct {
	Model        string
	Voice        string
	Instructions string
	Speed        float64
	Format       string
}

// WithDefaults fills empty fields from the package defaults.
func (v VoiceConfig) WithDefaults() VoiceConfig {
	if v.Model == "" {
		v.Model = DefaultModel
	}
	if v.Voice == "" {
		v.Voice = DefaultVoice
	}
	if v.Instructions == "" {
		v.Instructions = DefaultInstructions
	}
	if v.Format == "" {
		v.Format = DefaultFormat
	}
	return v
}

type Audio struct {
	Data        []byte
	Format      string
	ContentType string
}

func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "opus":
		return "audio/opus"
	case "aac":
		return "audio/aac"
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/pcm"
	case "flac":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}
