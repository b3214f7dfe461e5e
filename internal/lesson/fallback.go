package lesson

import (
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-lessons/internal/sanitize"
	"github.com/loqalabs/loqa-lessons/internal/templates"
)

// minFieldLength is the shortest trimmed text accepted for a required field.
const minFieldLength = 5

var sectionHeadings = map[string]string{
	"title-objective":    "Learning About %s",
	"context-motivation": "Why This Matters",
	"analogy":            "Think of It Like This",
	"definition":         "What Is It?",
	"step-by-step":       "How It Works",
	"examples":           "Real Examples",
	"common-mistakes":    "Watch Out For These",
	"mini-recap":         "Key Takeaways",
	"things-to-ponder":   "Think About This",
}

// SectionFallback returns stand-in heading and content for a section type.
func SectionFallback(contentType, topic string) map[string]string {
	heading, ok := sectionHeadings[contentType]
	if !ok {
		heading = "Educational Content"
	}
	if strings.Contains(heading, "%s") {
		heading = fmt.Sprintf(heading, topic)
	}
	return map[string]string{
		"heading": heading,
		"content": fmt.Sprintf("This section covers important concepts about %s.", topic),
	}
}

// ensureRequired replaces every placeholder of slide that is blank or
// shorter than minFieldLength. Template fallback data wins over the
// section defaults. It reports whether anything was replaced.
func ensureRequired(content map[string]string, slide templates.Slide, contentType, topic string) bool {
	section := SectionFallback(contentType, topic)
	replaced := false
	for _, field := range slide.Fields() {
		if len(strings.TrimSpace(content[field])) >= minFieldLength {
			continue
		}
		if v := strings.TrimSpace(slide.FallbackData[field]); v != "" {
			content[field] = v
		} else if v, ok := section[field]; ok {
			content[field] = v
		} else {
			content[field] = section["content"]
		}
		replaced = true
	}
	return replaced
}

// Narration picks the spoken text for a slide: an explicit narration field,
// else heading and content, else a one-line description.
func Narration(content map[string]string, contentType string) string {
	text := strings.TrimSpace(content["narration"])
	if text == "" {
		heading := strings.TrimSpace(content["heading"])
		body := strings.TrimSpace(content["content"])
		switch {
		case heading != "" && body != "":
			text = strings.TrimRight(heading, ".!?:") + ". " + body
		case heading != "":
			text = heading
		case body != "":
			text = body
		}
	}
	text = sanitize.ForSpeech(text)
	if text == "" {
		text = fmt.Sprintf("This slide covers %s", strings.ReplaceAll(contentType, "-", " "))
	}
	if !strings.HasSuffix(text, ".") && !strings.HasSuffix(text, "!") && !strings.HasSuffix(text, "?") {
		text += "."
	}
	return text
}
