package filler

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-lessons/internal/templates"
)

// Constraints bound the size and shape of one generated field.
type Constraints struct {
	MaxChars int    `json:"maxChars"`
	MaxLines int    `json:"maxLines"`
	Format   string `json:"format"`
}

var fieldDefaults = map[string]Constraints{
	"heading":     {MaxChars: 60, MaxLines: 1},
	"title":       {MaxChars: 60, MaxLines: 1},
	"content":     {MaxChars: 280, MaxLines: 5},
	"body":        {MaxChars: 280, MaxLines: 5},
	"text":        {MaxChars: 280, MaxLines: 4},
	"description": {MaxChars: 200, MaxLines: 3},
	"summary":     {MaxChars: 150, MaxLines: 3},
	"objective":   {MaxChars: 120, MaxLines: 2},
	"narration":   {MaxChars: 400, MaxLines: 8},
}

var fieldFallbacks = map[string]string{
	"heading":     "Key Learning Concepts",
	"title":       "Understanding the Topic",
	"content":     "This section covers essential information that builds your understanding of the key concepts step by step.",
	"body":        "Important educational content is presented here to support effective learning and comprehension.",
	"text":        "Essential information about the core concepts.",
	"description": "Detailed explanation of the fundamental principles.",
	"summary":     "Key takeaways that reinforce your understanding.",
	"objective":   "Students will gain clear understanding of essential concepts.",
}

const genericFallback = "Quality educational content supports effective learning."

// DefaultConstraints returns the limits used for a field the layout does
// not position.
func DefaultConstraints(field string) Constraints {
	c, ok := fieldDefaults[field]
	if !ok {
		c = Constraints{MaxChars: 200, MaxLines: 3}
	}
	c.Format = templates.FormatText
	return c
}

// FieldFallback is the static text used when a field cannot be generated.
func FieldFallback(field string) string {
	if s, ok := fieldFallbacks[field]; ok {
		return s
	}
	return genericFallback
}

// resolveConstraints merges the slide layout for the container breakpoint
// and reads the limits for every positioned element. A nil container uses
// the base layout.
func resolveConstraints(slide templates.Slide, container *templates.ContainerSize) map[string]Constraints {
	layout := slide.Layout
	if container != nil {
		layout = slide.ResolveLayout(container.Breakpoint())
	}
	out := make(map[string]Constraints, len(layout))
	for kind, rule := range layout {
		c := Constraints{MaxChars: rule.MaxChars, MaxLines: rule.MaxLines, Format: rule.Format}
		if c.MaxChars == 0 {
			c.MaxChars = 300
		}
		if c.MaxLines == 0 {
			c.MaxLines = 5
		}
		if c.Format == "" {
			c.Format = templates.FormatText
		}
		out[kind] = c
	}
	return out
}

func constraintsFor(all map[string]Constraints, field string) Constraints {
	if c, ok := all[field]; ok {
		return c
	}
	return DefaultConstraints(field)
}

var difficultyStyles = map[string]string{
	"beginner":     " Use simple language and avoid jargon. Be clear and concise.",
	"intermediate": " Use clear explanations with appropriate technical terms.",
	"advanced":     " Provide detailed explanations with precise terminology.",
}

const (
	topicInstruction     = " IMPORTANT: Stay strictly on the given topic. Do not include unrelated examples, analogies, or information from other subjects."
	plainTextInstruction = " CRITICAL: Respond with plain text only. Do not use markdown formatting, asterisks (*), underscores (_), hash symbols (#), or any special formatting symbols. Do not include character counts or word counts in your response."
	bulletInstruction    = " Format as bullet points using • symbols."
	retryInstruction     = " Focus strictly on the specified topic. Avoid unrelated content or examples from other domains."
)

// substitute fills the {{TOPIC}}, {maxChars} and {maxLines} markers of a
// template prompt.
func substitute(prompt, topic string, c Constraints) string {
	return strings.NewReplacer(
		"{{TOPIC}}", topic,
		"{maxChars}", fmt.Sprint(c.MaxChars),
		"{maxLines}", fmt.Sprint(c.MaxLines),
	).Replace(prompt)
}

// enhance appends the size, style, topic and formatting instructions.
func enhance(prompt string, c Constraints, difficulty string) string {
	var b strings.Builder
	b.WriteString(prompt)
	fmt.Fprintf(&b, " Keep response under %d characters.", c.MaxChars)
	if c.MaxLines == 1 {
		b.WriteString(" Provide a single line response.")
	} else {
		fmt.Fprintf(&b, " Use maximum %d lines.", c.MaxLines)
	}
	b.WriteString(difficultyStyles[difficulty])
	b.WriteString(topicInstruction)
	b.WriteString(plainTextInstruction)
	if c.Format == templates.FormatBullets {
		b.WriteString(bulletInstruction)
	}
	return b.String()
}

// trim fits content to the line and character limits.
func trim(content string, c Constraints) string {
	lines := strings.Split(content, "\n")
	if c.Format == templates.FormatBullets {
		var bullets []string
		for i, line := range lines {
			if c.MaxLines > 0 && i >= c.MaxLines {
				break
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, "•") && !strings.HasPrefix(line, "-") {
				line = "• " + line
			}
			bullets = append(bullets, line)
		}
		content = strings.Join(bullets, "\n")
	} else if c.MaxLines > 0 && len(lines) > c.MaxLines {
		content = strings.Join(lines[:c.MaxLines], "\n")
	}
	return templates.Truncate(content, c.MaxChars)
}
