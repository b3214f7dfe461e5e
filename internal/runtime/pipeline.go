package runtime

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-lessons/internal/calibration"
	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/filler"
	"github.com/loqalabs/loqa-lessons/internal/lesson"
	"github.com/loqalabs/loqa-lessons/internal/llm"
	"github.com/loqalabs/loqa-lessons/internal/planner"
	"github.com/loqalabs/loqa-lessons/internal/templates"
	"github.com/loqalabs/loqa-lessons/internal/timeline"
	"github.com/loqalabs/loqa-lessons/internal/tts"
)

// Pipeline is the in-process lesson stack shared by the daemon and the CLI.
type Pipeline struct {
	Catalog     *templates.Catalog
	LLM         llm.Completer
	Planner     *planner.Planner
	Filler      *filler.Filler
	Calibration *calibration.Store
	Cache       *tts.Cache
	Merger      *timeline.Merger
	Generator   *lesson.Generator
}

// LoadCatalog reads the configured catalog or falls back to the built-in one.
func LoadCatalog(cfg config.TemplatesConfig) (*templates.Catalog, error) {
	if cfg.Path == "" {
		return templates.Builtin()
	}
	return templates.Load(cfg.Path)
}

// NewPipeline builds every collaborator of the lesson generator from cfg.
// With tts disabled lessons carry estimated timing and no audio.
func NewPipeline(cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	catalog, err := LoadCatalog(cfg.Templates)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	gen, err := llm.NewGenerator(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm backend: %w", err)
	}
	completer := llm.NewClient(cfg.LLM, gen, logger)

	cal, err := calibration.Open(cfg.Calibration.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open calibration store: %w", err)
	}

	p := &Pipeline{
		Catalog:     catalog,
		LLM:         completer,
		Planner:     planner.New(completer, catalog, logger),
		Filler:      filler.New(completer, logger, filler.WithMaxRetries(cfg.Lesson.MaxRetries)),
		Calibration: cal,
	}
	deps := lesson.Deps{
		Planner:   p.Planner,
		Filler:    p.Filler,
		Catalog:   catalog,
		Estimator: cal,
	}

	if cfg.TTS.Enabled {
		synth, err := tts.NewSynthesizer(cfg.TTS)
		if err != nil {
			return nil, fmt.Errorf("tts backend: %w", err)
		}
		p.Cache, err = tts.NewCache(cfg.TTS, synth, cal, logger)
		if err != nil {
			return nil, err
		}
		p.Merger, err = timeline.NewMerger(cfg.Audio, logger)
		if err != nil {
			return nil, fmt.Errorf("audio merger: %w", err)
		}
		deps.Narrator = p.Cache
		deps.Merger = p.Merger
	}

	p.Generator, err = lesson.NewGenerator(cfg.Lesson, cfg.Audio, deps, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}
