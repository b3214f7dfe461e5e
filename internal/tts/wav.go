package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Audio is a complete synthesized utterance.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Seconds is the playback length of the PCM.
func (a Audio) Seconds() float64 {
	if a.SampleRate <= 0 || a.Channels <= 0 {
		return 0
	}
	return float64(len(a.PCM)/2/a.Channels) / float64(a.SampleRate)
}

// Collect drains a synthesis stream into one buffer. The format is taken
// from the first chunk.
func Collect(ctx context.Context, chunks <-chan SynthChunk, errs <-chan error) (Audio, error) {
	var out Audio
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if out.SampleRate == 0 {
				out.SampleRate = chunk.SampleRate
				out.Channels = chunk.Channels
			}
			out.PCM = append(out.PCM, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return Audio{}, err
			}
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		}
	}
	if len(out.PCM) == 0 {
		return Audio{}, errors.New("tts produced no audio")
	}
	return out, nil
}

// WriteWAV encodes 16-bit PCM as a WAV stream.
func WriteWAV(w io.WriteSeeker, a Audio) error {
	if len(a.PCM)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(a.PCM)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(a.PCM[i*2:])))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: a.Channels, SampleRate: a.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, a.SampleRate, 16, a.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// MeasureDuration reads the playback length of a WAV file in seconds.
func MeasureDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("%s: not a valid wav file", path)
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("measure %s: %w", path, err)
	}
	return d.Seconds(), nil
}
