package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lessons/internal/calibration"
	"github.com/loqalabs/loqa-lessons/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingSynth struct {
	Synthesizer
	calls atomic.Int32
}

func (c *countingSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	c.calls.Add(1)
	return c.Synthesizer.Synthesize(ctx, req)
}

func testCache(t *testing.T, maxFiles int) (*Cache, *countingSynth, *calibration.Store) {
	t.Helper()
	cfg := config.Default().TTS
	cfg.CacheDir = t.TempDir()
	cfg.MaxCacheFiles = maxFiles
	synth := &countingSynth{Synthesizer: NewMockSynth(cfg.SampleRate, cfg.Channels)}
	cal, err := calibration.Open("", newLogger())
	require.NoError(t, err)
	c, err := NewCache(cfg, synth, cal, newLogger())
	require.NoError(t, err)
	return c, synth, cal
}

func TestWriteWAVAndMeasure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	a := Audio{PCM: tone(1.0, 22050, 1), SampleRate: 22050, Channels: 1}
	assert.InDelta(t, 1.0, a.Seconds(), 1e-9)
	require.NoError(t, WriteWAV(f, a))
	require.NoError(t, f.Close())

	d, err := MeasureDuration(path)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 0.001)
}

func TestMeasureDurationRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("not audio at all"), 0o644))
	_, err := MeasureDuration(path)
	assert.Error(t, err)
}

func TestCollect(t *testing.T) {
	chunks := make(chan SynthChunk, 2)
	errs := make(chan error)
	chunks <- SynthChunk{SampleRate: 16000, Channels: 1, PCM: []byte{1, 0}}
	chunks <- SynthChunk{SampleRate: 16000, Channels: 1, PCM: []byte{2, 0}, Final: true}
	close(chunks)
	close(errs)
	a, err := Collect(context.Background(), chunks, errs)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, a.PCM)
	assert.Equal(t, 16000, a.SampleRate)

	boom := errors.New("engine crashed")
	chunks = make(chan SynthChunk)
	errs = make(chan error, 1)
	errs <- boom
	close(errs)
	close(chunks)
	_, err = Collect(context.Background(), chunks, errs)
	assert.ErrorIs(t, err, boom)
}

func TestCacheGenerateAndHit(t *testing.T) {
	c, synth, cal := testCache(t, 10)
	text := "Plants turn light into sugar."

	clip, err := c.Generate(context.Background(), "lesson-1", text, "")
	require.NoError(t, err)
	assert.False(t, clip.Cached)
	assert.Equal(t, AudioID(text, c.DefaultVoice()), clip.ID)
	assert.Equal(t, "/api/tts/audio/"+clip.ID, clip.URL)
	assert.FileExists(t, clip.Path)
	// five words at the mock rate
	assert.InDelta(t, 2.0, clip.Duration, 0.01)

	v, ok := cal.Voice(c.DefaultVoice())
	require.True(t, ok)
	assert.Equal(t, 1, v.SampleCount)

	again, err := c.Generate(context.Background(), "lesson-1", text, "")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, int32(1), synth.calls.Load())

	_, err = c.Generate(context.Background(), "lesson-1", "   ", "")
	assert.Error(t, err)
}

func TestAudioIDDependsOnVoice(t *testing.T) {
	assert.NotEqual(t, AudioID("hello", "a"), AudioID("hello", "b"))
	assert.Len(t, AudioID("hello", "a"), 64)
}

func TestCacheCleanupKeepsNewest(t *testing.T) {
	c, _, _ := testCache(t, 2)
	for _, text := range []string{"first clip text", "second clip text", "third clip text"} {
		_, err := c.Generate(context.Background(), "", text, "")
		require.NoError(t, err)
	}
	files, err := filepath.Glob(filepath.Join(c.cfg.CacheDir, "*.wav"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestCacheLookupAndDelete(t *testing.T) {
	c, _, _ := testCache(t, 0)
	_, err := c.Lookup("missing")
	assert.ErrorIs(t, err, ErrAudioNotFound)

	clip, err := c.Generate(context.Background(), "", "some narration", "en_US-ryan-high")
	require.NoError(t, err)
	require.NoError(t, c.Delete(clip.ID))
	assert.ErrorIs(t, c.Delete(clip.ID), ErrAudioNotFound)
}

func TestExecSynth(t *testing.T) {
	s, err := NewExecSynth(`sh -c 'cat >/dev/null; echo "{\"pcm_base64\":\"AQACAA==\",\"sample_rate\":8000,\"final\":true}"'`, 22050, 1)
	require.NoError(t, err)
	chunks, errs := s.Synthesize(context.Background(), SynthRequest{Text: "hi", Voice: "v"})
	a, err := Collect(context.Background(), chunks, errs)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, a.PCM)
	assert.Equal(t, 8000, a.SampleRate)
	assert.Equal(t, 1, a.Channels)
}

func TestExecSynthFailure(t *testing.T) {
	s, err := NewExecSynth(`sh -c 'cat >/dev/null; echo voice missing >&2; exit 3'`, 22050, 1)
	require.NoError(t, err)
	chunks, errs := s.Synthesize(context.Background(), SynthRequest{Text: "hi"})
	_, err = Collect(context.Background(), chunks, errs)
	assert.ErrorContains(t, err, "voice missing")

	_, err = NewExecSynth("", 22050, 1)
	assert.Error(t, err)
}

func TestNewSynthesizer(t *testing.T) {
	cfg := config.Default().TTS
	s, err := NewSynthesizer(cfg)
	require.NoError(t, err)
	assert.NotNil(t, s)
	cfg.Mode = "cloud"
	_, err = NewSynthesizer(cfg)
	assert.Error(t, err)
}
