package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-lessons/internal/config"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	LessonID string
	Text     string
	Voice    string
}

// SynthChunk carries 16-bit little-endian PCM.
type SynthChunk struct {
	LessonID   string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// NewSynthesizer builds the backend selected by cfg.Mode.
func NewSynthesizer(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
