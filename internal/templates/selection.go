package templates

import (
	"fmt"
	"sort"
	"strings"
)

// Selection describes what the lesson needs from a template.
type Selection struct {
	Category   string
	Difficulty string
	// Complexity is 1 to 5. Zero is treated as 3.
	Complexity int
	// Approach is the teaching approach from topic analysis: visual,
	// step-by-step or example-driven. Empty skips approach bonuses.
	Approach string
}

var difficultyKeywords = map[string][]weighted{
	"beginner":     {{"simple", 5}, {"clean", 4}, {"basic", 3}},
	"intermediate": {{"balanced", 5}, {"standard", 4}, {"detailed", 3}},
	"advanced":     {{"comprehensive", 5}, {"detailed", 4}, {"complex", 3}},
}

var complexityKeywords = map[int][]string{
	1: {"simple", "basic", "clean"},
	2: {"clear", "standard"},
	3: {"balanced", "detailed"},
	4: {"comprehensive", "advanced"},
	5: {"complex", "detailed", "thorough"},
}

var approachKeywords = map[string][]string{
	"visual":         {"visual", "diagram", "chart", "graphic"},
	"step-by-step":   {"step", "process", "sequential", "ordered"},
	"example-driven": {"example", "case", "instance", "sample"},
}

var categoryKeywords = map[string][]string{
	"title-objective":  {"clean", "simple", "clear"},
	"definition":       {"clear", "concise", "focused"},
	"examples":         {"practical", "concrete", "relatable"},
	"step-by-step":     {"sequential", "ordered", "process"},
	"analogy":          {"visual", "comparison", "relatable"},
	"common-mistakes":  {"warning", "caution", "avoid"},
	"mini-recap":       {"summary", "concise", "key"},
	"things-to-ponder": {"thought", "question", "reflection"},
}

type weighted struct {
	keyword string
	bonus   float64
}

// Score rates how well a template suits the selection.
func Score(t *Template, sel Selection) float64 {
	name := strings.ToLower(t.Name)
	desc := strings.ToLower(t.Description)
	has := func(kw string) bool {
		return strings.Contains(name, kw) || strings.Contains(desc, kw)
	}

	score := 10.0
	score += float64(t.Variant) * 2

	for _, w := range difficultyKeywords[sel.Difficulty] {
		if has(w.keyword) {
			score += w.bonus
		}
	}
	complexity := sel.Complexity
	if complexity == 0 {
		complexity = 3
	}
	for _, kw := range complexityKeywords[complexity] {
		if has(kw) {
			score += 3
		}
	}
	for _, kw := range approachKeywords[strings.ToLower(sel.Approach)] {
		if has(kw) {
			score += 4
		}
	}
	for _, kw := range categoryKeywords[t.Category] {
		if has(kw) {
			score += 2
		}
	}
	return score
}

// SelectBest returns the highest scoring template in the category. Ties go
// to the template loaded first. It returns nil when the category is empty.
func (c *Catalog) SelectBest(sel Selection) *Template {
	candidates := c.inCategory(sel.Category)
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}
	scores := make([]float64, len(candidates))
	idx := make([]int, len(candidates))
	for i, t := range candidates {
		scores[i] = Score(t, sel)
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	return candidates[idx[0]]
}

// WithFallback resolves primaryID, falling back to the best template in
// the category, then any template in the category, then any template.
func (c *Catalog) WithFallback(primaryID string, sel Selection) (*Template, error) {
	if tpl, ok := c.byID[primaryID]; ok {
		return tpl, nil
	}
	if tpl := c.SelectBest(sel); tpl != nil {
		return tpl, nil
	}
	if len(c.order) > 0 {
		return c.order[0], nil
	}
	return nil, fmt.Errorf("%w: no templates available for %s", ErrTemplateNotFound, primaryID)
}
