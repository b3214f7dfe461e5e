package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Analysis is the model's read of a topic, used to pick templates and to
// seed section prompts.
type Analysis struct {
	Complexity           int      `json:"complexity"`
	KeyConcepts          []string `json:"key_concepts"`
	TeachingApproach     string   `json:"teaching_approach"`
	GoodAnalogies        []string `json:"good_analogies"`
	CommonMisconceptions []string `json:"common_misconceptions"`
	RealWorldRelevance   string   `json:"real_world_relevance"`
	GoodExamples         []string `json:"good_examples"`
	Strategy             string   `json:"strategy"`
	Reasoning            string   `json:"reasoning"`
	Source               string   `json:"source"`
}

var fallbackComplexity = map[string]int{
	"beginner":     2,
	"intermediate": 3,
	"advanced":     4,
}

const analysisPrompt = `Analyze the educational topic "%s" for a %s level lesson.
Target duration: %.0f seconds.

This will be structured as a lesson with up to 9 sections:
1. Title + Objective
2. Context / Motivation
3. Analogy
4. Definition
5. Step-by-step Explanation / Theory
6. Examples
7. Common mistakes
8. Mini Recap
9. Some things to ponder

Analyze:
1. Topic complexity (1-5 scale)
2. Key concepts to cover
3. Best teaching approach
4. What analogies might work well
5. Common misconceptions students have
6. Real-world applications/motivation
7. Practical examples that would help

Respond in JSON format:
{
  "complexity": 3,
  "key_concepts": ["concept1", "concept2"],
  "teaching_approach": "visual",
  "good_analogies": ["analogy suggestion"],
  "common_misconceptions": ["misconception1"],
  "real_world_relevance": "why this matters",
  "good_examples": ["example1", "example2"],
  "strategy": "structured",
  "reasoning": "analysis explanation"
}`

// Analyze asks the model for a topic analysis. Any failure yields
// FallbackAnalysis.
func (p *Planner) Analyze(ctx context.Context, topic, difficulty string, targetSeconds float64) Analysis {
	if p.llm == nil {
		return FallbackAnalysis(topic, difficulty)
	}
	answer, err := p.llm.Complete(ctx, fmt.Sprintf(analysisPrompt, topic, difficulty, targetSeconds))
	if err != nil {
		p.logger.Warn("topic analysis failed", slogError(err))
		return FallbackAnalysis(topic, difficulty)
	}
	a, err := decodeAnalysis(answer)
	if err != nil {
		p.logger.Warn("topic analysis is not valid JSON",
			slog.String("answer", head(answer, 100)),
			slogError(err))
		return FallbackAnalysis(topic, difficulty)
	}
	if len(a.KeyConcepts) == 0 {
		a.KeyConcepts = []string{topic}
	}
	return a
}

// FallbackAnalysis is the deterministic analysis used when the model is
// unavailable or answers with something unparseable.
func FallbackAnalysis(topic, difficulty string) Analysis {
	complexity, ok := fallbackComplexity[difficulty]
	if !ok {
		complexity = 3
	}
	return Analysis{
		Complexity:           complexity,
		KeyConcepts:          []string{topic},
		TeachingApproach:     "structured",
		GoodAnalogies:        []string{fmt.Sprintf("Think of %s like...", topic)},
		CommonMisconceptions: []string{fmt.Sprintf("Students often confuse %s with...", topic)},
		RealWorldRelevance:   fmt.Sprintf("%s helps us understand everyday phenomena", topic),
		GoodExamples:         []string{fmt.Sprintf("A common example of %s is...", topic)},
		Strategy:             "structured",
		Reasoning:            "Fallback analysis based on heuristics",
		Source:               "fallback",
	}
}

func head(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
