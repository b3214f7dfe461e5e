// Package timeline joins per-slide narration clips into one lesson track
// and keeps the slide timing in step with the audio actually produced.
package timeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/h2non/filetype"
	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/tts"
)

var (
	ErrNoClips         = errors.New("no audio clips to merge")
	ErrClipNotFound    = errors.New("audio clip not found")
	ErrUnsupportedClip = errors.New("unsupported audio clip")
)

const (
	ModeSilence   = "silence"
	ModeCrossfade = "crossfade"
	FormatWAV     = "wav"
	FormatMP3     = "mp3"
)

// Result describes the merged track.
type Result struct {
	Path          string    `json:"path"`
	TotalDuration float64   `json:"total_duration"`
	Segments      []Segment `json:"segments"`
}

type Merger struct {
	cfg    config.AudioConfig
	logger *slog.Logger
}

func NewMerger(cfg config.AudioConfig, log *slog.Logger) (*Merger, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeSilence
	}
	if cfg.Format == "" {
		cfg.Format = FormatWAV
	}
	cfg.Format = strings.ToLower(cfg.Format)
	switch cfg.Mode {
	case ModeSilence, ModeCrossfade:
	default:
		return nil, fmt.Errorf("unsupported merge mode %q", cfg.Mode)
	}
	switch cfg.Format {
	case FormatWAV:
	case FormatMP3:
		if strings.TrimSpace(cfg.EncoderCommand) == "" {
			return nil, errors.New("mp3 output requires audio.encoder_command")
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", cfg.Format)
	}
	return &Merger{cfg: cfg, logger: log.With(slog.String("component", "merger"))}, nil
}

// Extension is the file extension of merged output.
func (m *Merger) Extension() string { return "." + m.cfg.Format }

// Merge concatenates clips in order. segments[i] describes clips[i]; its
// timing is rewritten from the frames actually emitted. Extra clips without
// a segment are merged but not reported.
func (m *Merger) Merge(ctx context.Context, clips []string, outputPath string, segments []Segment) (Result, error) {
	if len(clips) == 0 {
		return Result{}, ErrNoClips
	}
	for _, p := range clips {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Result{}, fmt.Errorf("%w: %s", ErrClipNotFound, p)
			}
			return Result{}, err
		}
	}
	m.logger.Info("merging audio",
		slog.Int("clips", len(clips)),
		slog.String("mode", m.cfg.Mode),
		slog.String("format", m.cfg.Format))

	decoded := make([]stereo, len(clips))
	for i, p := range clips {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		s, err := m.load(ctx, p)
		if err != nil {
			return Result{}, err
		}
		decoded[i] = s
	}

	var merged stereo
	var timed []Segment
	if m.cfg.Mode == ModeCrossfade {
		merged, timed = m.joinCrossfade(decoded, segments)
	} else {
		merged, timed = m.joinSilence(decoded, segments)
	}

	if err := m.export(ctx, merged, outputPath); err != nil {
		return Result{}, err
	}
	total, err := m.measure(outputPath, merged)
	if err != nil {
		return Result{}, err
	}
	if m.cfg.CleanupClips {
		for _, p := range clips {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logger.Warn("failed to remove clip", slog.String("path", p), slogError(err))
			}
		}
	}
	m.logger.Info("merged audio",
		slog.String("path", outputPath),
		slog.Float64("seconds", total))
	return Result{Path: outputPath, TotalDuration: total, Segments: timed}, nil
}

func (m *Merger) joinSilence(clips []stereo, segments []Segment) (stereo, []Segment) {
	fade := msToFrames(m.cfg.FadeMS)
	pause := silence(msToFrames(m.cfg.PauseMS))
	timed := make([]Segment, 0, len(segments))

	var merged stereo
	for i, clip := range clips {
		start := merged.frames()
		if i > 0 {
			merged.fadeOut(fade)
			merged = append(merged, pause...)
			clip.fadeIn(fade)
			start = merged.frames()
		}
		merged = append(merged, clip...)
		if i < len(segments) {
			timed = append(timed, segments[i].At(framesToSeconds(start), clip.seconds()))
		}
	}
	return merged, timed
}

func (m *Merger) joinCrossfade(clips []stereo, segments []Segment) (stereo, []Segment) {
	overlap := msToFrames(m.cfg.CrossfadeMS)
	timed := make([]Segment, 0, len(segments))

	merged := clips[0]
	used := make([]int, len(clips))
	for i := 1; i < len(clips); i++ {
		merged, used[i] = crossfade(merged, clips[i], overlap)
	}
	pos := 0
	for i, clip := range clips {
		frames := clip.frames()
		if i+1 < len(clips) {
			frames -= used[i+1]
		}
		if i < len(segments) {
			timed = append(timed, segments[i].At(framesToSeconds(pos), framesToSeconds(frames)))
		}
		pos += frames
	}
	return merged, timed
}

// load decodes a clip, transcoding non-WAV input through the configured
// command first.
func (m *Merger) load(ctx context.Context, path string) (stereo, error) {
	head := make([]byte, 262)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	n, _ := io.ReadFull(f, head)
	f.Close()

	kind, _ := filetype.Match(head[:n])
	if kind.Extension != "wav" {
		if strings.TrimSpace(m.cfg.TranscodeCommand) == "" {
			return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedClip, path, kind.MIME.Value)
		}
		tmp, err := os.CreateTemp("", "clip-*.wav")
		if err != nil {
			return nil, err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := m.run(ctx, m.cfg.TranscodeCommand, path, tmp.Name()); err != nil {
			return nil, fmt.Errorf("transcode %s: %w", path, err)
		}
		path = tmp.Name()
	}

	f, err = os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedClip, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf.SourceBitDepth == 0 {
		buf.SourceBitDepth = int(dec.BitDepth)
	}
	return normalize(buf), nil
}

func (m *Merger) export(ctx context.Context, s stereo, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	target := outputPath
	if m.cfg.Format == FormatMP3 {
		tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".merge-*.wav")
		if err != nil {
			return err
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		target = tmp.Name()
	}
	if err := writeWAV(target, s); err != nil {
		return err
	}
	if m.cfg.Format == FormatMP3 {
		if err := m.run(ctx, m.cfg.EncoderCommand, target, outputPath); err != nil {
			return fmt.Errorf("encode mp3: %w", err)
		}
	}
	return nil
}

func writeWAV(path string, s stereo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, SampleRate, BitDepth, Channels, 1)
	if err := enc.Write(s.intBuffer()); err != nil {
		f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return f.Close()
}

// measure reads the duration back from the exported WAV. MP3 output is
// timed from the PCM handed to the encoder.
func (m *Merger) measure(path string, s stereo) (float64, error) {
	if m.cfg.Format != FormatWAV {
		return s.seconds(), nil
	}
	return tts.MeasureDuration(path)
}

// run executes an audio tool command. {input} and {output} are replaced;
// when absent the paths are appended as arguments.
func (m *Merger) run(ctx context.Context, command, input, output string) error {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return errors.New("command empty")
	}
	placed := false
	for i, a := range args {
		if strings.Contains(a, "{input}") || strings.Contains(a, "{output}") {
			placed = true
		}
		args[i] = strings.NewReplacer("{input}", input, "{output}", output).Replace(a)
	}
	if !placed {
		args = append(args, input, output)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
