package filler

import (
	"strings"
	"unicode/utf8"
)

// TopicPolicy decides whether generated content drifted away from the
// lesson topic.
type TopicPolicy interface {
	OffTopic(topic, content string) bool
}

// WordList flags content that mentions at least Threshold watch words.
// Words that also appear in the topic are ignored.
type WordList struct {
	Words     []string
	Threshold int
}

func (w WordList) OffTopic(topic, content string) bool {
	topic = strings.ToLower(topic)
	content = strings.ToLower(content)
	hits := 0
	for _, word := range w.Words {
		if strings.Contains(topic, word) {
			continue
		}
		if strings.Contains(content, word) {
			hits++
		}
	}
	threshold := w.Threshold
	if threshold <= 0 {
		threshold = 2
	}
	return hits >= threshold
}

// DefaultTopicPolicy watches for common cross-domain contamination.
var DefaultTopicPolicy TopicPolicy = WordList{
	Words: []string{
		"dna", "genetic", "biology", "chromosome",
		"cooking", "recipe", "ingredient",
		"weather", "climate", "temperature",
		"sports", "football", "basketball",
	},
	Threshold: 2,
}

var placeholderTokens = []string{
	"{{", "}}", "placeholder", "todo", "tbd",
	"insert here", "add here", "fill in", "[replace",
}

var minLengths = map[string]int{
	"heading": 3,
	"title":   3,
	"content": 10,
	"body":    10,
	"text":    5,
}

// rejection names why content failed the quality gate; empty means accepted.
func (f *Filler) rejection(topic, field, content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "empty"
	}
	lower := strings.ToLower(trimmed)
	for _, tok := range placeholderTokens {
		if strings.Contains(lower, tok) {
			return "placeholder"
		}
	}
	if f.policy.OffTopic(topic, trimmed) {
		return "off-topic"
	}
	if strings.Contains(trimmed, "**") || strings.Count(trimmed, "*") > 3 {
		return "markdown"
	}
	minLen, ok := minLengths[field]
	if !ok {
		minLen = 3
	}
	if utf8.RuneCountInString(trimmed) < minLen {
		return "too short"
	}
	return ""
}
