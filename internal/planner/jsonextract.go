package planner

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON pulls a JSON document out of a model answer. It prefers the
// first fenced code block, then the text between the first '{' and the
// last '}', and otherwise returns the trimmed input unchanged.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)
	if m := fencedBlock.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1])
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end > start {
		return content[start : end+1]
	}
	return content
}
