package filler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lessons/internal/llm"
	"github.com/loqalabs/loqa-lessons/internal/templates"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu      sync.Mutex
	prompts []string
	answer  func(prompt string, call int) (string, error)
}

func (r *recorder) Complete(_ context.Context, prompt string) (string, error) {
	r.mu.Lock()
	call := len(r.prompts)
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()
	return r.answer(prompt, call)
}

func definitionTemplate(t *testing.T) *templates.Template {
	t.Helper()
	c, err := templates.Builtin()
	require.NoError(t, err)
	tpl, err := c.Get("definition-1")
	require.NoError(t, err)
	return tpl
}

func TestFillUsesLLMContent(t *testing.T) {
	rec := &recorder{answer: func(prompt string, _ int) (string, error) {
		switch {
		case strings.Contains(prompt, "heading"):
			return "**Photosynthesis** Defined", nil
		case strings.Contains(prompt, "spoken"):
			return "Photosynthesis is how plants turn light into food.", nil
		default:
			return "Photosynthesis converts light, water and carbon dioxide into glucose (61 characters)", nil
		}
	}}
	f := New(rec, newLogger())
	out, err := f.Fill(context.Background(), Request{
		Template:   definitionTemplate(t),
		Topic:      "Photosynthesis",
		Difficulty: "beginner",
	})
	require.NoError(t, err)
	assert.False(t, out.IsFallback)
	assert.Equal(t, "Photosynthesis Defined", out.FilledContent["heading"])
	assert.Equal(t, "Photosynthesis converts light, water and carbon dioxide into glucose", out.FilledContent["content"])
	assert.NotEmpty(t, out.FilledContent["narration"])
	assert.Equal(t, "llm", out.Metadata["generation_method"])

	require.Len(t, rec.prompts, 3)
	first := rec.prompts[0]
	assert.Contains(t, first, "Photosynthesis")
	assert.NotContains(t, first, "{{TOPIC}}")
	assert.Contains(t, first, "Use simple language and avoid jargon.")
	assert.Contains(t, first, "Stay strictly on the given topic.")
	assert.Contains(t, first, "Respond with plain text only.")
	assert.Contains(t, first, "Keep your response under 50 characters")
}

func TestFillRetriesThenFallsBackPerField(t *testing.T) {
	rec := &recorder{answer: func(prompt string, _ int) (string, error) {
		if strings.Contains(prompt, "heading") {
			return "TODO", nil
		}
		return "A valid description of photosynthesis for learners.", nil
	}}
	f := New(rec, newLogger())
	out, err := f.Fill(context.Background(), Request{Template: definitionTemplate(t), Topic: "Photosynthesis"})
	require.NoError(t, err)
	assert.False(t, out.IsFallback)
	assert.Equal(t, "What Is It?", out.FilledContent["heading"])
	assert.Equal(t, "A valid description of photosynthesis for learners.", out.FilledContent["content"])
	assert.Equal(t, []string{"heading"}, out.Metadata["field_fallbacks"])

	var headingCalls []string
	for _, p := range rec.prompts {
		if strings.Contains(p, "heading") {
			headingCalls = append(headingCalls, p)
		}
	}
	require.Len(t, headingCalls, DefaultMaxRetries+1)
	assert.NotContains(t, headingCalls[0], "Focus strictly on the specified topic.")
	assert.Contains(t, headingCalls[1], "Focus strictly on the specified topic.")
}

func TestFillLLMErrorFallsBackForWholeTemplate(t *testing.T) {
	rec := &recorder{answer: func(_ string, call int) (string, error) {
		if call == 1 {
			return "", llm.ErrEmptyResponse
		}
		return "Photosynthesis turns light into chemical energy.", nil
	}}
	tpl := definitionTemplate(t)
	f := New(rec, newLogger())
	out, err := f.Fill(context.Background(), Request{Template: tpl, Topic: "Photosynthesis"})
	require.NoError(t, err)
	assert.True(t, out.IsFallback)
	assert.Equal(t, tpl.Slides[0].FallbackData, out.FilledContent)
	assert.Equal(t, "fallback", out.Metadata["generation_method"])
	assert.Equal(t, "LLM generation failed", out.Metadata["reason"])
}

func TestFillNeverEmptyWhenLLMAlwaysFails(t *testing.T) {
	c, err := templates.Builtin()
	require.NoError(t, err)
	f := New(llm.CompleterFunc(func(context.Context, string) (string, error) {
		return "", errors.New("connection refused")
	}), newLogger())
	for _, s := range c.All() {
		tpl, err := c.Get(s.ID)
		require.NoError(t, err)
		out, err := f.Fill(context.Background(), Request{Template: tpl, Topic: "Gravity"})
		require.NoError(t, err)
		for field := range tpl.Slides[0].Placeholders {
			assert.NotEmpty(t, strings.TrimSpace(out.FilledContent[field]), "%s/%s", s.ID, field)
		}
	}
}

func TestFillOutOfRange(t *testing.T) {
	f := New(nil, newLogger())
	_, err := f.Fill(context.Background(), Request{Template: definitionTemplate(t), SlideIndex: 4})
	assert.ErrorIs(t, err, templates.ErrSlideOutOfRange)
}

func TestFillTrimsToResponsiveLimits(t *testing.T) {
	long := strings.Repeat("Photosynthesis stores light energy in sugar. ", 20)
	f := New(llm.CompleterFunc(func(context.Context, string) (string, error) { return long, nil }), newLogger())
	mobile := templates.ContainerSize{Width: 375, Height: 667}
	out, err := f.Fill(context.Background(), Request{Template: definitionTemplate(t), Topic: "Photosynthesis", Container: &mobile})
	require.NoError(t, err)
	// mobile override caps content at 180 characters
	assert.LessOrEqual(t, len([]rune(out.FilledContent["content"])), 180+3)
	assert.True(t, strings.HasSuffix(out.FilledContent["content"], "..."))
	// narration is not positioned and uses the per-field default of 400
	assert.LessOrEqual(t, len([]rune(out.FilledContent["narration"])), 400+3)
}

func TestFillWithPrompts(t *testing.T) {
	rec := &recorder{answer: func(prompt string, _ int) (string, error) {
		if strings.HasPrefix(prompt, "summary") {
			return "", errors.New("timeout")
		}
		return "Gravity pulls masses toward each other.", nil
	}}
	f := New(rec, newLogger(), WithMaxRetries(1))
	out, err := f.FillWithPrompts(context.Background(),
		Request{Template: definitionTemplate(t), Topic: "Gravity", Difficulty: "advanced"},
		map[string]string{"content": "content prompt", "summary": "summary prompt"})
	require.NoError(t, err)
	assert.False(t, out.IsFallback)
	assert.Equal(t, "Gravity pulls masses toward each other.", out.FilledContent["content"])
	assert.Equal(t, FieldFallback("summary"), out.FilledContent["summary"])
	assert.Equal(t, "structured_prompts", out.Metadata["generation_method"])
	assert.Len(t, rec.prompts, 1+2)
	assert.Contains(t, rec.prompts[0], "Provide detailed explanations with precise terminology.")
}

func TestQualityGate(t *testing.T) {
	f := New(nil, newLogger())
	cases := []struct {
		field, content, reason string
	}{
		{"content", "", "empty"},
		{"content", "Insert here the definition", "placeholder"},
		{"content", "Fill in {{TOPIC}} later", "placeholder"},
		{"content", "A recipe with one ingredient for football fans", "off-topic"},
		{"content", "Stars * burn * hydrogen * and * helium", "markdown"},
		{"content", "Too short", "too short"},
		{"heading", "Hi", "too short"},
		{"heading", "Gravity", ""},
		{"content", "Gravity keeps planets in orbit.", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.reason, f.rejection("Gravity", tc.field, tc.content), "%q", tc.content)
	}
}

func TestWordListIgnoresTopicWords(t *testing.T) {
	p := DefaultTopicPolicy
	content := "Genetic traits are stored in DNA and chromosome pairs."
	assert.True(t, p.OffTopic("Gravity", content))
	assert.False(t, p.OffTopic("DNA and genetic inheritance", content))
}

func TestTrim(t *testing.T) {
	assert.Equal(t, "one\ntwo", trim("one\ntwo\nthree", Constraints{MaxChars: 100, MaxLines: 2, Format: "text"}))
	assert.Equal(t, "• one\n- two", trim("one\n- two\nthree", Constraints{MaxChars: 100, MaxLines: 2, Format: "bullets"}))
	assert.Equal(t, "alpha beta...", trim("alpha beta gamma", Constraints{MaxChars: 12, MaxLines: 1}))
}
