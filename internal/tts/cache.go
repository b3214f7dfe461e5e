package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loqalabs/loqa-lessons/internal/calibration"
	"github.com/loqalabs/loqa-lessons/internal/config"
)

var ErrAudioNotFound = errors.New("audio not found")

// Clip is a synthesized narration stored in the cache directory.
type Clip struct {
	ID       string  `json:"audio_id"`
	Path     string  `json:"-"`
	URL      string  `json:"audio_url"`
	Duration float64 `json:"duration"`
	Cached   bool    `json:"cached"`
}

// Cache stores synthesized narration as {id}.wav keyed by text and voice.
// Concurrent requests for the same clip share one synthesis.
type Cache struct {
	cfg    config.TTSConfig
	synth  Synthesizer
	cal    *calibration.Store
	group  singleflight.Group
	logger *slog.Logger
}

func NewCache(cfg config.TTSConfig, synth Synthesizer, cal *calibration.Store, log *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tts cache dir: %w", err)
	}
	return &Cache{
		cfg:    cfg,
		synth:  synth,
		cal:    cal,
		logger: log.With(slog.String("component", "tts-cache")),
	}, nil
}

func (c *Cache) DefaultVoice() string { return c.cfg.Voice }

// AudioID is the hex sha256 of text + "_" + voice.
func AudioID(text, voice string) string {
	sum := sha256.Sum256([]byte(text + "_" + voice))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Path(id string) string {
	return filepath.Join(c.cfg.CacheDir, id+".wav")
}

func (c *Cache) URL(id string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + id
}

// Lookup returns a cached clip without synthesizing.
func (c *Cache) Lookup(id string) (Clip, error) {
	path := c.Path(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Clip{}, fmt.Errorf("%w: %s", ErrAudioNotFound, id)
		}
		return Clip{}, err
	}
	d, err := MeasureDuration(path)
	if err != nil {
		return Clip{}, err
	}
	return Clip{ID: id, Path: path, URL: c.URL(id), Duration: d, Cached: true}, nil
}

// Generate returns the clip for text, synthesizing it on a cache miss. An
// empty voice selects the default voice.
func (c *Cache) Generate(ctx context.Context, lessonID, text, voice string) (Clip, error) {
	if strings.TrimSpace(text) == "" {
		return Clip{}, errors.New("tts text is empty")
	}
	if voice == "" {
		voice = c.cfg.Voice
	}
	id := AudioID(text, voice)
	if clip, err := c.Lookup(id); err == nil {
		c.logger.Debug("audio cache hit", slog.String("audio_id", id))
		return clip, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		return c.synthesize(ctx, lessonID, id, text, voice)
	})
	if err != nil {
		return Clip{}, err
	}
	return v.(Clip), nil
}

func (c *Cache) synthesize(ctx context.Context, lessonID, id, text, voice string) (Clip, error) {
	if c.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	chunks, errs := c.synth.Synthesize(ctx, SynthRequest{LessonID: lessonID, Text: text, Voice: voice})
	pcm, err := Collect(ctx, chunks, errs)
	if err != nil {
		return Clip{}, fmt.Errorf("synthesize: %w", err)
	}

	path := c.Path(id)
	tmp, err := os.CreateTemp(c.cfg.CacheDir, ".tts-*.tmp")
	if err != nil {
		return Clip{}, err
	}
	defer os.Remove(tmp.Name())
	if err := WriteWAV(tmp, pcm); err != nil {
		tmp.Close()
		return Clip{}, err
	}
	if err := tmp.Close(); err != nil {
		return Clip{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Clip{}, fmt.Errorf("store audio: %w", err)
	}

	duration, err := MeasureDuration(path)
	if err != nil {
		return Clip{}, err
	}
	if c.cal != nil {
		if err := c.cal.Record(voice, text, duration); err != nil {
			c.logger.Warn("calibration update failed", slogError(err))
		}
	}
	c.logger.Info("generated audio",
		slog.String("audio_id", id),
		slog.String("voice", voice),
		slog.Float64("seconds", duration))
	c.Cleanup()
	return Clip{ID: id, Path: path, URL: c.URL(id), Duration: duration}, nil
}

// Delete removes a cached clip.
func (c *Cache) Delete(id string) error {
	err := os.Remove(c.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrAudioNotFound, id)
	}
	return err
}

// Cleanup removes the oldest clips beyond MaxCacheFiles.
func (c *Cache) Cleanup() int {
	if c.cfg.MaxCacheFiles <= 0 {
		return 0
	}
	entries, err := filepath.Glob(filepath.Join(c.cfg.CacheDir, "*.wav"))
	if err != nil || len(entries) <= c.cfg.MaxCacheFiles {
		return 0
	}
	type aged struct {
		path string
		mod  time.Time
	}
	files := make([]aged, 0, len(entries))
	for _, p := range entries {
		if info, err := os.Stat(p); err == nil {
			files = append(files, aged{p, info.ModTime()})
		}
	}
	if len(files) <= c.cfg.MaxCacheFiles {
		return 0
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	removed := 0
	for _, f := range files[:len(files)-c.cfg.MaxCacheFiles] {
		if err := os.Remove(f.path); err == nil {
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("pruned audio cache", slog.Int("removed", removed))
	}
	return removed
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
