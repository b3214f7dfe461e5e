package tts

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"time"
)

const (
	mockSecondsPerWord = 0.4
	mockMinSeconds     = 0.5
	mockToneHz         = 220.0
	mockAmplitude      = 2000.0
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a synthesizer that emits a quiet tone whose length
// follows the word count, so downstream timing code sees real audio.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(10 * time.Millisecond):
		}
		seconds := math.Max(mockMinSeconds, float64(len(strings.Fields(req.Text)))*mockSecondsPerWord)
		chunks <- SynthChunk{
			LessonID:   req.LessonID,
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        tone(seconds, m.sampleRate, m.channels),
			Final:      true,
		}
	}()
	return chunks, errs
}

func tone(seconds float64, sampleRate, channels int) []byte {
	frames := int(seconds * float64(sampleRate))
	pcm := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(mockAmplitude * math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(i*channels+c)*2:], uint16(v))
		}
	}
	return pcm
}
