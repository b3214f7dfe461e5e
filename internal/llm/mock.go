package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return consumer(Chunk{Content: mockContent(req.Prompt), Done: true})
}

// mockContent answers JSON requests with a fenced analysis document and
// everything else with the first sentence of the prompt.
func mockContent(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if strings.Contains(prompt, "JSON") {
		topic := quoted(prompt)
		if topic == "" {
			topic = "the topic"
		}
		doc, _ := json.MarshalIndent(map[string]any{
			"complexity":            3,
			"key_concepts":          []string{topic},
			"teaching_approach":     "example-driven",
			"good_analogies":        []string{fmt.Sprintf("%s works like a familiar everyday process", topic)},
			"common_misconceptions": []string{fmt.Sprintf("%s is simpler than it looks", topic)},
			"real_world_relevance":  fmt.Sprintf("%s appears in everyday situations", topic),
			"good_examples":         []string{fmt.Sprintf("a classroom example of %s", topic)},
			"strategy":              "structured",
			"reasoning":             "mock analysis",
		}, "", "  ")
		return "```json\n" + string(doc) + "\n```"
	}
	first := prompt
	if i := strings.Index(prompt, ". "); i > 0 {
		first = prompt[:i+1]
	}
	return "[mock completion for " + first + "]"
}

func quoted(s string) string {
	start := strings.Index(s, `"`)
	if start < 0 {
		return ""
	}
	end := strings.Index(s[start+1:], `"`)
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}
