package timeline

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeClip writes a tone of the given length and format.
func writeClip(t *testing.T, dir, name string, seconds float64, rate, channels int) string {
	t.Helper()
	frames := int(math.Round(seconds * float64(rate)))
	pcm := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*330*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(i*channels+c)*2:], uint16(v))
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tts.WriteWAV(f, tts.Audio{PCM: pcm, SampleRate: rate, Channels: channels}))
	require.NoError(t, f.Close())
	return path
}

func audioConfig() config.AudioConfig {
	cfg := config.Default().Audio
	cfg.CleanupClips = false
	return cfg
}

func segmentsFor(n int) []Segment {
	out := make([]Segment, n)
	for i := range out {
		out[i] = Segment{SlideNumber: i + 1, AudioID: "clip", Duration: 99}
	}
	return out
}

func TestMergeThreeClipsWithSilence(t *testing.T) {
	dir := t.TempDir()
	clips := []string{
		writeClip(t, dir, "a.wav", 5.0, 22050, 1),
		writeClip(t, dir, "b.wav", 3.2, 22050, 1),
		writeClip(t, dir, "c.wav", 4.8, 22050, 1),
	}
	m, err := NewMerger(audioConfig(), newLogger())
	require.NoError(t, err)

	out := filepath.Join(dir, "merged", "lesson.wav")
	res, err := m.Merge(context.Background(), clips, out, segmentsFor(3))
	require.NoError(t, err)
	assert.Equal(t, out, res.Path)
	assert.FileExists(t, out)
	// clip lengths plus two 500ms pauses
	assert.InDelta(t, 5.0+3.2+4.8+2*0.5, res.TotalDuration, 0.01)

	require.Len(t, res.Segments, 3)
	want := []struct{ start, dur float64 }{{0, 5.0}, {5.5, 3.2}, {9.2, 4.8}}
	for i, w := range want {
		s := res.Segments[i]
		assert.InDelta(t, w.start, s.StartTime, 0.001, "segment %d start", i)
		assert.InDelta(t, w.dur, s.Duration, 0.001, "segment %d duration", i)
		assert.InDelta(t, s.StartTime+s.Duration, s.EndTime, 1e-9)
		assert.Equal(t, i+1, s.SlideNumber)
	}
	// consecutive segments are separated by exactly the pause
	for i := 1; i < len(res.Segments); i++ {
		assert.InDelta(t, 0.5, res.Segments[i].StartTime-res.Segments[i-1].EndTime, 0.001)
	}
	assert.InDelta(t, res.TotalDuration, res.Segments[2].EndTime, 0.01)

	for _, c := range clips {
		assert.FileExists(t, c)
	}
}

func TestMergeNormalizesMixedFormats(t *testing.T) {
	dir := t.TempDir()
	clips := []string{
		writeClip(t, dir, "stereo.wav", 1.0, 44100, 2),
		writeClip(t, dir, "mono16k.wav", 2.0, 16000, 1),
	}
	m, err := NewMerger(audioConfig(), newLogger())
	require.NoError(t, err)
	res, err := m.Merge(context.Background(), clips, filepath.Join(dir, "out.wav"), nil)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, res.TotalDuration, 0.01)
	assert.Empty(t, res.Segments)
}

func TestMergeCrossfade(t *testing.T) {
	dir := t.TempDir()
	clips := []string{
		writeClip(t, dir, "a.wav", 3.0, 44100, 1),
		writeClip(t, dir, "b.wav", 3.0, 44100, 1),
	}
	cfg := audioConfig()
	cfg.Mode = ModeCrossfade
	m, err := NewMerger(cfg, newLogger())
	require.NoError(t, err)
	res, err := m.Merge(context.Background(), clips, filepath.Join(dir, "out.wav"), segmentsFor(2))
	require.NoError(t, err)
	assert.InDelta(t, 4.5, res.TotalDuration, 0.01)
	assert.InDelta(t, 1.5, res.Segments[0].Duration, 0.001)
	assert.InDelta(t, 1.5, res.Segments[1].StartTime, 0.001)
	assert.InDelta(t, 3.0, res.Segments[1].Duration, 0.001)
}

func TestMergeErrors(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMerger(audioConfig(), newLogger())
	require.NoError(t, err)

	_, err = m.Merge(context.Background(), nil, filepath.Join(dir, "out.wav"), nil)
	assert.ErrorIs(t, err, ErrNoClips)

	good := writeClip(t, dir, "good.wav", 1.0, 22050, 1)
	_, err = m.Merge(context.Background(), []string{good, filepath.Join(dir, "missing.wav")}, filepath.Join(dir, "out.wav"), nil)
	assert.ErrorIs(t, err, ErrClipNotFound)

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("this is not audio"), 0o644))
	_, err = m.Merge(context.Background(), []string{text}, filepath.Join(dir, "out.wav"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedClip)
}

func TestMergeCleanupOnlyAfterSuccess(t *testing.T) {
	dir := t.TempDir()
	cfg := audioConfig()
	cfg.CleanupClips = true
	m, err := NewMerger(cfg, newLogger())
	require.NoError(t, err)

	a := writeClip(t, dir, "a.wav", 1.0, 22050, 1)
	_, err = m.Merge(context.Background(), []string{a, filepath.Join(dir, "gone.wav")}, filepath.Join(dir, "out.wav"), nil)
	require.Error(t, err)
	assert.FileExists(t, a)

	b := writeClip(t, dir, "b.wav", 1.0, 22050, 1)
	_, err = m.Merge(context.Background(), []string{a, b}, filepath.Join(dir, "out.wav"), nil)
	require.NoError(t, err)
	assert.NoFileExists(t, a)
	assert.NoFileExists(t, b)
}

func TestMergeTranscodesAndEncodes(t *testing.T) {
	dir := t.TempDir()
	real := writeClip(t, dir, "real.wav", 1.0, 22050, 1)
	fake := filepath.Join(dir, "clip.ogg")
	require.NoError(t, os.WriteFile(fake, []byte("OggS not really"), 0o644))

	cfg := audioConfig()
	cfg.Format = FormatMP3
	cfg.TranscodeCommand = "cp " + real + " {output}"
	cfg.EncoderCommand = "cp {input} {output}"
	m, err := NewMerger(cfg, newLogger())
	require.NoError(t, err)
	assert.Equal(t, ".mp3", m.Extension())

	out := filepath.Join(dir, "lesson.mp3")
	res, err := m.Merge(context.Background(), []string{fake, real}, out, nil)
	require.NoError(t, err)
	assert.FileExists(t, out)
	assert.InDelta(t, 2.5, res.TotalDuration, 0.01)
}

func TestNewMergerValidates(t *testing.T) {
	cfg := audioConfig()
	cfg.Mode = "shuffle"
	_, err := NewMerger(cfg, newLogger())
	assert.Error(t, err)

	cfg = audioConfig()
	cfg.Format = "mp3"
	cfg.EncoderCommand = ""
	_, err = NewMerger(cfg, newLogger())
	assert.Error(t, err)
}

func TestNormalizeAndResample(t *testing.T) {
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 22050},
		Data:           []int{0, 100, 200, 300},
		SourceBitDepth: 16,
	}
	s := normalize(buf)
	require.Equal(t, 8, s.frames())
	assert.Equal(t, s[0], s[1], "mono is duplicated")
	assert.Equal(t, int16(50), s[2], "interpolated midpoint")

	quad := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 4, SampleRate: SampleRate},
		Data:           []int{1, 2, 3, 4, 5, 6, 7, 8},
		SourceBitDepth: 16,
	}
	assert.Equal(t, stereo{1, 2, 5, 6}, normalize(quad))
}

func TestFades(t *testing.T) {
	s := stereo{1000, 1000, 1000, 1000, 1000, 1000, 1000, 1000}
	s.fadeOut(2)
	assert.Equal(t, stereo{1000, 1000, 1000, 1000, 500, 500, 0, 0}, s)

	s = stereo{1000, 1000, 1000, 1000, 1000, 1000}
	s.fadeIn(2)
	assert.Equal(t, stereo{0, 0, 500, 500, 1000, 1000}, s)
}
