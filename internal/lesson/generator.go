package lesson

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-lessons/internal/config"
	"github.com/loqalabs/loqa-lessons/internal/filler"
	"github.com/loqalabs/loqa-lessons/internal/planner"
	"github.com/loqalabs/loqa-lessons/internal/templates"
	"github.com/loqalabs/loqa-lessons/internal/timeline"
	"github.com/loqalabs/loqa-lessons/internal/tts"
)

const canvasHeight = 800

// Narrator synthesizes the narration of one slide.
type Narrator interface {
	Generate(ctx context.Context, lessonID, text, voice string) (tts.Clip, error)
	DefaultVoice() string
}

// AudioMerger joins narration clips into one track.
type AudioMerger interface {
	Merge(ctx context.Context, clips []string, outputPath string, segments []timeline.Segment) (timeline.Result, error)
	Extension() string
}

// Estimator predicts how long text takes to speak.
type Estimator interface {
	Estimate(text, voice string) float64
}

// Deps are the collaborators of a Generator. Narrator, Merger and
// Estimator are optional; without a narrator the lesson keeps estimated
// timing and no audio.
type Deps struct {
	Planner   *planner.Planner
	Filler    *filler.Filler
	Catalog   *templates.Catalog
	Narrator  Narrator
	Merger    AudioMerger
	Estimator Estimator
}

type Generator struct {
	cfg     config.LessonConfig
	audio   config.AudioConfig
	deps    Deps
	metrics *metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewGenerator(cfg config.LessonConfig, audio config.AudioConfig, deps Deps, log *slog.Logger) (*Generator, error) {
	if deps.Planner == nil || deps.Filler == nil || deps.Catalog == nil {
		return nil, errors.New("lesson generator requires planner, filler and catalog")
	}
	if cfg.SuccessThreshold <= 0 || cfg.SuccessThreshold > 1 {
		cfg.SuccessThreshold = 0.8
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}
	logger := log.With(slog.String("component", "lesson"))
	return &Generator{
		cfg:     cfg,
		audio:   audio,
		deps:    deps,
		metrics: newMetrics(logger),
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Generate runs the pipeline in its own goroutine and streams progress.
// The channel is closed after a Done or Error event, or as soon as ctx is
// cancelled.
func (g *Generator) Generate(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, g.cfg.EventBuffer)
	if req.LessonID == "" {
		req.LessonID = uuid.NewString()
	}
	go func() {
		defer close(events)
		g.metrics.inFlight.Add(1)
		defer g.metrics.inFlight.Add(-1)
		g.run(ctx, req, events)
	}()
	return events
}

// Run drains Generate and returns the finished lesson.
func (g *Generator) Run(ctx context.Context, req Request, progress func(Event)) (*Lesson, error) {
	var final *Lesson
	var failure error
	for ev := range g.Generate(ctx, req) {
		if progress != nil {
			progress(ev)
		}
		switch ev.Stage {
		case StageDone:
			final = ev.Lesson
		case StageError:
			failure = errors.New(ev.Error)
		}
	}
	if failure != nil {
		return nil, failure
	}
	if final == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("lesson generation ended without a result")
	}
	return final, nil
}

type emitter struct {
	ctx      context.Context
	lessonID string
	total    int
	events   chan<- Event
	now      func() time.Time
}

func (e *emitter) send(ev Event) bool {
	ev.LessonID = e.lessonID
	ev.TotalSlides = e.total
	ev.CurrentSlide = int(ev.Progress * float64(e.total))
	ev.Timestamp = e.now()
	if e.ctx.Err() != nil {
		return false
	}
	select {
	case e.events <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) progress(stage Stage, message string, progress float64) bool {
	return e.send(Event{Stage: stage, Message: message, Progress: progress})
}

func (e *emitter) fail(err error) {
	e.send(Event{Stage: StageError, Message: "Lesson generation failed", Error: err.Error()})
}

func (g *Generator) run(ctx context.Context, req Request, events chan<- Event) {
	start := g.now()
	em := &emitter{ctx: ctx, lessonID: req.LessonID, total: 1, events: events, now: g.now}
	if err := req.Validate(); err != nil {
		g.metrics.lessonFailed(ctx)
		em.fail(err)
		return
	}
	// em keeps the caller's context so a request timeout can still be
	// reported as an error event.
	if g.cfg.RequestTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(g.cfg.RequestTimeoutMS)*time.Millisecond)
		defer cancel()
	}
	ctx, span := g.metrics.tracer.Start(ctx, "lesson.generate", trace.WithAttributes(
		attribute.String("lesson.id", req.LessonID),
		attribute.String("lesson.difficulty", req.Difficulty),
		attribute.Float64("lesson.target_duration", req.TargetDuration),
	))
	defer span.End()

	log := g.logger.With(slog.String("lesson_id", req.LessonID))
	log.Info("starting lesson generation",
		slog.String("topic", req.Topic),
		slog.String("difficulty", req.Difficulty),
		slog.Float64("target_duration", req.TargetDuration))

	if !em.progress(StagePlanning, "Analyzing lesson structure...", 0) {
		return
	}
	structure, err := g.deps.Planner.Plan(ctx, req.Topic, req.Difficulty, req.TargetDuration)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "planning failed")
		g.metrics.lessonFailed(ctx)
		log.Error("lesson planning failed", slogError(err))
		em.fail(fmt.Errorf("plan lesson: %w", err))
		return
	}
	total := len(structure.Slides)
	em.total = total
	log.Info("lesson structure created", slog.Int("slides", total))

	container := templates.ContainerSize{Width: g.cfg.ContainerWidth, Height: g.cfg.ContainerHeight}
	if req.Container != nil && req.Container.Width > 0 && req.Container.Height > 0 {
		container = *req.Container
	}

	slides := make([]Slide, 0, total)
	for i, spec := range structure.Slides {
		progress := float64(i+1) / float64(total)
		if !em.progress(StageSlide, fmt.Sprintf("Generating slide %d/%d: %s", i+1, total, spec.ContentType), progress) {
			return
		}
		slide := g.buildSlide(ctx, req, spec, i, container)
		if err := ctx.Err(); err != nil {
			log.Warn("lesson generation stopped", slog.Int("slide", i+1), slogError(err))
			g.abort(em, err)
			return
		}
		slides = append(slides, slide)
		if !em.send(Event{Stage: StageSlide, Message: fmt.Sprintf("Completed slide %d/%d", i+1, total), Progress: progress, Slide: &slide}) {
			return
		}
	}

	if !em.progress(StageMerging, "Creating unified audio...", 0.9) {
		return
	}
	audio := g.narrate(ctx, req, slides)
	if err := ctx.Err(); err != nil {
		g.abort(em, err)
		return
	}

	if !em.progress(StageFinalizing, "Finalizing lesson...", 0.95) {
		return
	}
	lesson := g.finalize(req, structure, slides, audio, start)
	span.SetAttributes(
		attribute.Int("lesson.slides", lesson.TotalSlides),
		attribute.Bool("lesson.success", lesson.Success),
		attribute.Bool("lesson.audio", lesson.AudioGenerated))
	g.metrics.lessonDone(ctx, lesson.Success)
	log.Info("lesson generation complete",
		slog.Bool("success", lesson.Success),
		slog.Int("successful_slides", lesson.Stats.SuccessfulSlides),
		slog.Float64("duration", lesson.EstimatedTotalDuration))

	em.send(Event{Stage: StageDone, Message: "Lesson generation complete!", Progress: 1, Lesson: lesson})
}

// abort reports a request timeout. A caller that cancelled gets nothing.
func (g *Generator) abort(em *emitter, err error) {
	g.metrics.lessonFailed(em.ctx)
	if em.ctx.Err() == nil {
		em.fail(fmt.Errorf("lesson generation timed out: %w", err))
	}
}

// buildSlide fills, renders and narrates one slide. Failures are recorded
// on the slide instead of stopping the lesson.
func (g *Generator) buildSlide(ctx context.Context, req Request, spec planner.SlideStructure, index int, container templates.ContainerSize) (slide Slide) {
	started := g.now()
	offset := float64(index * (g.cfg.SlideWidth + g.cfg.SlideSpacing))
	slide = Slide{
		SlideNumber:       spec.SlideNumber,
		TemplateID:        spec.TemplateID,
		TemplateName:      spec.TemplateName,
		ContentType:       spec.ContentType,
		FilledContent:     map[string]string{},
		Elements:          []templates.Element{},
		EstimatedDuration: spec.EstimatedDuration,
		PositionOffset:    offset,
		Metadata: map[string]any{
			"layout_hints":    spec.LayoutHints,
			"priority":        spec.Priority,
			"content_prompts": spec.ContentPrompts,
		},
		Status: StatusSuccess,
	}

	ctx, span := g.metrics.tracer.Start(ctx, "lesson.slide", trace.WithAttributes(
		attribute.Int("slide.number", spec.SlideNumber),
		attribute.String("slide.template", spec.TemplateID),
		attribute.String("slide.content_type", spec.ContentType)))
	fallback := false
	defer func() {
		if r := recover(); r != nil {
			slide.fail(fmt.Errorf("panic: %v", r))
		}
		if slide.Status == StatusFailed {
			span.SetStatus(codes.Error, slide.ErrorMessage)
			g.logger.Error("slide generation failed",
				slog.Int("slide", spec.SlideNumber),
				slog.String("error", slide.ErrorMessage))
		}
		slide.GenerationTime = g.now().Sub(started).Seconds()
		g.metrics.slideDone(ctx, slide, fallback)
		span.End()
	}()

	tpl, err := g.deps.Catalog.Get(spec.TemplateID)
	if err != nil {
		slide.fail(err)
		return slide
	}
	tplSlide, err := tpl.Slide(0)
	if err != nil {
		slide.fail(err)
		return slide
	}

	fillReq := filler.Request{Template: tpl, Topic: req.Topic, Difficulty: req.Difficulty, Container: &container}
	var filled filler.FilledTemplate
	if len(tplSlide.LLMPrompts) == 0 && len(spec.ContentPrompts) > 0 {
		filled, err = g.deps.Filler.FillWithPrompts(ctx, fillReq, spec.ContentPrompts)
	} else {
		filled, err = g.deps.Filler.Fill(ctx, fillReq)
	}
	if err != nil {
		slide.fail(err)
		return slide
	}
	content := filled.FilledContent
	if content == nil {
		content = map[string]string{}
	}
	patched := ensureRequired(content, tplSlide, spec.ContentType, req.Topic)
	fallback = filled.IsFallback || patched
	slide.FilledContent = content

	rendered, err := templates.RenderSlide(tpl, 0, content, container, offset)
	if err != nil {
		slide.fail(err)
		return slide
	}
	if len(rendered.Elements) == 0 && len(tplSlide.FallbackData) > 0 {
		g.logger.Warn("slide rendered no elements, retrying with fallback data", slog.Int("slide", spec.SlideNumber))
		if retry, err := templates.RenderSlide(tpl, 0, tplSlide.FallbackData, container, offset); err == nil {
			rendered = retry
		}
	}
	if rendered.Elements != nil {
		slide.Elements = rendered.Elements
	}
	slide.Narration = Narration(content, spec.ContentType)
	if fallback {
		slide.Metadata["fallback"] = true
	}
	return slide
}

func (s *Slide) fail(err error) {
	s.Status = StatusFailed
	s.ErrorMessage = err.Error()
	s.FilledContent = map[string]string{}
	s.Elements = []templates.Element{}
}

type narration struct {
	url       string
	path      string
	generated bool
	total     float64
	segments  []timeline.Segment
	clips     int
}

// narrate synthesizes every successful slide, merges the clips and builds
// the segment timeline. Any failure here degrades to estimated timing.
func (g *Generator) narrate(ctx context.Context, req Request, slides []Slide) narration {
	voice := req.Voice
	if voice == "" && g.deps.Narrator != nil {
		voice = g.deps.Narrator.DefaultVoice()
	}
	// The merger may delete its inputs, and cached clips are shared between
	// lessons, so each clip is linked into a per-lesson work dir as soon as
	// it is synthesized and the merger only ever sees those links.
	workDir := filepath.Join(g.audio.OutputDir, ".work-"+req.LessonID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			g.logger.Debug("failed to remove clip work dir", slog.String("path", workDir), slogError(err))
		}
	}()

	all := make([]timeline.Segment, len(slides))
	var clips []string
	var voiced []timeline.Segment
	for i, s := range slides {
		seg := timeline.Segment{SlideNumber: s.SlideNumber, Text: s.Narration, Duration: g.estimate(s, voice)}
		if g.deps.Narrator != nil && s.Status == StatusSuccess && s.Narration != "" {
			clip, err := g.deps.Narrator.Generate(ctx, req.LessonID, s.Narration, voice)
			if err == nil && g.deps.Merger != nil {
				clip.Path, err = stageClip(workDir, len(clips), clip.Path)
			}
			if err != nil {
				if ctx.Err() != nil {
					return narration{}
				}
				g.logger.Warn("narration synthesis failed", slog.Int("slide", s.SlideNumber), slogError(err))
			} else {
				seg.AudioID, seg.AudioURL, seg.Duration = clip.ID, clip.URL, clip.Duration
				clips = append(clips, clip.Path)
				voiced = append(voiced, seg)
			}
		}
		all[i] = seg
	}

	out := narration{clips: len(clips)}
	if g.deps.Merger != nil && len(clips) > 0 {
		mctx, span := g.metrics.tracer.Start(ctx, "lesson.merge", trace.WithAttributes(attribute.Int("clips", len(clips))))
		target := filepath.Join(g.audio.OutputDir, "lesson-"+req.LessonID+g.deps.Merger.Extension())
		res, err := g.deps.Merger.Merge(mctx, clips, target, voiced)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "merge failed")
			g.logger.Warn("audio merge failed, keeping estimated timing", slogError(err))
		} else {
			out.generated = true
			out.path = res.Path
			out.url = strings.TrimRight(g.audio.PublicBaseURL, "/") + "/" + filepath.Base(res.Path)
			out.total = res.TotalDuration
			out.segments = timeline.Assemble(all, res.Segments)
		}
		span.End()
	}
	if !out.generated {
		out.segments = timeline.Sequential(all)
		if n := len(out.segments); n > 0 {
			out.total = out.segments[n-1].EndTime
		}
	}
	return out
}

// stageClip links src into dir as the n-th clip, copying when a hard link
// is not possible.
func stageClip(dir string, n int, src string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create clip work dir: %w", err)
	}
	dst := filepath.Join(dir, fmt.Sprintf("%03d%s", n, filepath.Ext(src)))
	if err := os.Link(src, dst); err != nil {
		if err := copyFile(src, dst); err != nil {
			return "", fmt.Errorf("stage clip %s: %w", src, err)
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (g *Generator) estimate(s Slide, voice string) float64 {
	if g.deps.Estimator != nil && s.Narration != "" {
		if d := g.deps.Estimator.Estimate(s.Narration, voice); d > 0 {
			return d
		}
	}
	return s.EstimatedDuration
}

func (g *Generator) finalize(req Request, structure planner.LessonStructure, slides []Slide, audio narration, start time.Time) *Lesson {
	successful, elements, fallbacks := 0, 0, 0
	planned := 0.0
	canvas := make([]CanvasState, 0, len(slides))
	for i, s := range slides {
		if s.Status == StatusSuccess {
			successful++
		}
		if fb, _ := s.Metadata["fallback"].(bool); fb {
			fallbacks++
		}
		elements += len(s.Elements)
		planned += s.EstimatedDuration
		if len(s.Elements) == 0 {
			continue
		}
		state := CanvasState{
			Duration: s.EstimatedDuration * 1000,
			Elements: s.Elements,
			ViewBox:  ViewBox{X: s.PositionOffset, Width: float64(g.cfg.SlideWidth), Height: canvasHeight, Zoom: 1},
			Metadata: map[string]any{
				"slide_number": s.SlideNumber,
				"content_type": s.ContentType,
				"template_id":  s.TemplateID,
			},
		}
		if i < len(audio.segments) {
			seg := audio.segments[i]
			state.Timestamp = seg.StartTime * 1000
			state.Duration = seg.Duration * 1000
			if seg.AudioID != "" {
				state.Metadata["audio_id"] = seg.AudioID
			}
		}
		canvas = append(canvas, state)
	}

	elapsed := g.now().Sub(start).Seconds()
	stats := Stats{
		TotalGenerationTime: elapsed,
		SlidesGenerated:     len(slides),
		SuccessfulSlides:    successful,
		TotalElements:       elements,
		EstimatedDuration:   planned,
		FallbackSlides:      fallbacks,
		AudioClips:          audio.clips,
	}
	if len(slides) > 0 {
		stats.SuccessRate = float64(successful) / float64(len(slides))
		stats.AverageSlideTime = elapsed / float64(len(slides))
	}
	success := len(slides) > 0 && stats.SuccessRate >= g.cfg.SuccessThreshold
	lesson := &Lesson{
		ID:                     req.LessonID,
		Topic:                  req.Topic,
		DifficultyLevel:        req.Difficulty,
		TargetDuration:         req.TargetDuration,
		Structure:              structure,
		Slides:                 slides,
		TotalSlides:            len(slides),
		EstimatedTotalDuration: audio.total,
		AudioURL:               audio.url,
		AudioPath:              audio.path,
		AudioGenerated:         audio.generated,
		AudioSegments:          audio.segments,
		CanvasStates:           canvas,
		Stats:                  stats,
		Success:                success,
		CreatedAt:              g.now().UTC(),
	}
	if !success {
		lesson.Error = fmt.Sprintf("Only %d/%d slides generated successfully", successful, len(slides))
	}
	return lesson
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
