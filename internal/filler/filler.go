// Package filler generates slide text for template placeholders with the
// LLM, guarded by a quality gate with retries and static fallbacks.
package filler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-lessons/internal/llm"
	"github.com/loqalabs/loqa-lessons/internal/sanitize"
	"github.com/loqalabs/loqa-lessons/internal/templates"
)

const DefaultMaxRetries = 2

type Request struct {
	Template   *templates.Template
	Topic      string
	Difficulty string
	SlideIndex int
	// Container selects responsive limits. Nil uses the base layout.
	Container *templates.ContainerSize
}

type FilledTemplate struct {
	TemplateID    string            `json:"template_id"`
	Topic         string            `json:"topic"`
	SlideIndex    int               `json:"slide_index"`
	FilledContent map[string]string `json:"filled_content"`
	Metadata      map[string]any    `json:"metadata"`
	IsFallback    bool              `json:"is_fallback"`
}

type Filler struct {
	llm        llm.Completer
	policy     TopicPolicy
	maxRetries int
	logger     *slog.Logger
}

type Option func(*Filler)

func WithTopicPolicy(p TopicPolicy) Option {
	return func(f *Filler) {
		if p != nil {
			f.policy = p
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(f *Filler) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

func New(completer llm.Completer, logger *slog.Logger, opts ...Option) *Filler {
	f := &Filler{
		llm:        completer,
		policy:     DefaultTopicPolicy,
		maxRetries: DefaultMaxRetries,
		logger:     logger.With(slog.String("component", "filler")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fill generates every placeholder that has a template prompt. Content the
// quality gate keeps rejecting is replaced field by field; an LLM error
// replaces the whole slide with its fallback data. The returned error is
// reserved for bad requests such as an out of range slide.
func (f *Filler) Fill(ctx context.Context, req Request) (FilledTemplate, error) {
	slide, err := slideFor(req)
	if err != nil {
		return FilledTemplate{}, err
	}
	constraints := resolveConstraints(slide, req.Container)

	content := make(map[string]string, len(slide.Placeholders))
	var fieldFallbacks []string
	for _, field := range slide.Fields() {
		prompt, ok := slide.LLMPrompts[field]
		if !ok {
			content[field] = staticFor(slide, field)
			continue
		}
		c := constraintsFor(constraints, field)
		full := enhance(substitute(prompt, req.Topic, c), c, req.Difficulty)
		text, accepted, err := f.generate(ctx, req.Topic, field, full, c, false)
		if err != nil {
			f.logger.Warn("llm generation failed, using template fallback",
				slog.String("template", req.Template.ID),
				slog.String("field", field),
				slogError(err))
			return fallbackTemplate(req, slide), nil
		}
		if !accepted {
			text = staticFor(slide, field)
			fieldFallbacks = append(fieldFallbacks, field)
		}
		content[field] = text
	}

	return FilledTemplate{
		TemplateID:    req.Template.ID,
		Topic:         req.Topic,
		SlideIndex:    req.SlideIndex,
		FilledContent: content,
		Metadata: map[string]any{
			"generation_method": "llm",
			"template_name":     req.Template.Name,
			"constraints":       constraints,
			"slide_id":          slide.ID,
			"field_fallbacks":   fieldFallbacks,
		},
	}, nil
}

// FillWithPrompts generates one field per prompt, as produced by the
// lesson planner. Each field retries and falls back on its own, so LLM
// errors never discard the other fields.
func (f *Filler) FillWithPrompts(ctx context.Context, req Request, prompts map[string]string) (FilledTemplate, error) {
	slide, err := slideFor(req)
	if err != nil {
		return FilledTemplate{}, err
	}
	constraints := resolveConstraints(slide, req.Container)

	content := make(map[string]string, len(prompts))
	var fieldFallbacks []string
	for _, field := range templates.OrderedKeys(prompts) {
		c := constraintsFor(constraints, field)
		full := enhance(prompts[field], c, req.Difficulty)
		text, accepted, _ := f.generate(ctx, req.Topic, field, full, c, true)
		if !accepted {
			text = FieldFallback(field)
			fieldFallbacks = append(fieldFallbacks, field)
		}
		content[field] = text
	}

	return FilledTemplate{
		TemplateID:    req.Template.ID,
		Topic:         req.Topic,
		SlideIndex:    req.SlideIndex,
		FilledContent: content,
		Metadata: map[string]any{
			"generation_method": "structured_prompts",
			"template_name":     req.Template.Name,
			"constraints":       constraints,
			"slide_id":          slide.ID,
			"difficulty_level":  req.Difficulty,
			"field_fallbacks":   fieldFallbacks,
		},
	}, nil
}

// generate runs the completion and quality gate loop for one field. When
// retryErrors is false the first LLM error is returned to the caller;
// otherwise errors count as failed attempts.
func (f *Filler) generate(ctx context.Context, topic, field, prompt string, c Constraints, retryErrors bool) (string, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		p := prompt
		if attempt > 0 {
			p += retryInstruction
		}
		raw, err := f.complete(ctx, p, c)
		if err != nil {
			if !retryErrors || ctx.Err() != nil {
				return "", false, err
			}
			lastErr = err
			f.logger.Warn("llm call failed",
				slog.String("field", field),
				slog.Int("attempt", attempt+1),
				slogError(err))
			continue
		}
		text := sanitize.LLMOutput(raw)
		if reason := f.rejection(topic, field, text); reason != "" {
			f.logger.Debug("content rejected",
				slog.String("field", field),
				slog.Int("attempt", attempt+1),
				slog.String("reason", reason))
			continue
		}
		return trim(text, c), true, nil
	}
	if lastErr != nil {
		f.logger.Warn("all attempts failed, using fallback", slog.String("field", field), slogError(lastErr))
	} else {
		f.logger.Info("quality gate exhausted, using fallback", slog.String("field", field))
	}
	return "", false, nil
}

func (f *Filler) complete(ctx context.Context, prompt string, c Constraints) (string, error) {
	if f.llm == nil {
		return "", errors.New("no LLM service available")
	}
	full := fmt.Sprintf("%s Keep your response under %d characters and make it clear and direct.", prompt, c.MaxChars)
	return f.llm.Complete(ctx, full)
}

func slideFor(req Request) (templates.Slide, error) {
	if req.Template == nil {
		return templates.Slide{}, fmt.Errorf("%w: nil template", templates.ErrTemplateNotFound)
	}
	slide, err := req.Template.Slide(req.SlideIndex)
	if err != nil {
		return templates.Slide{}, fmt.Errorf("template %s slide %d: %w", req.Template.ID, req.SlideIndex, err)
	}
	return slide, nil
}

func staticFor(slide templates.Slide, field string) string {
	if s := slide.FallbackData[field]; s != "" {
		return s
	}
	return FieldFallback(field)
}

func fallbackTemplate(req Request, slide templates.Slide) FilledTemplate {
	content := make(map[string]string, len(slide.FallbackData))
	for k, v := range slide.FallbackData {
		content[k] = v
	}
	return FilledTemplate{
		TemplateID:    req.Template.ID,
		Topic:         req.Topic,
		SlideIndex:    req.SlideIndex,
		FilledContent: content,
		Metadata: map[string]any{
			"generation_method": "fallback",
			"template_name":     req.Template.Name,
			"slide_id":          slide.ID,
			"reason":            "LLM generation failed",
		},
		IsFallback: true,
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
