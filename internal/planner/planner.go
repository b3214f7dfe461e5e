// Package planner turns a topic, difficulty and target duration into an
// ordered lesson outline with one template per section.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/loqalabs/loqa-lessons/internal/llm"
	"github.com/loqalabs/loqa-lessons/internal/templates"
)

// MinSlideDuration is the shortest duration a planned slide gets. Applying
// it after scaling can push the lesson past its target.
const MinSlideDuration = 8.0

type Section struct {
	Type         string
	Name         string
	TemplateID   string
	BaseDuration float64
	Priority     int
	Description  string
}

// Sections is the fixed lesson outline in teaching order.
var Sections = []Section{
	{"title-objective", "Title + Objective", "title-objective-1", 10, 1, "Lesson title and clear learning objectives"},
	{"context-motivation", "Context / Motivation", "context-motivation-1", 15, 1, "Why this topic matters and real-world relevance"},
	{"analogy", "Analogy", "analogy-1", 20, 2, "Relatable comparison to help understanding"},
	{"definition", "Definition", "definition-1", 15, 1, "Clear definition of key concepts"},
	{"step-by-step", "Step-by-step Explanation / Theory", "step-by-step-1", 30, 1, "Detailed explanation or process breakdown"},
	{"examples", "Examples", "examples-1", 25, 1, "Concrete examples and applications"},
	{"common-mistakes", "Common mistakes", "common-mistakes-1", 15, 2, "Common pitfalls and how to avoid them"},
	{"mini-recap", "Mini Recap", "mini-recap-1", 10, 1, "Summary of key points covered"},
	{"things-to-ponder", "Some things to ponder", "things-to-ponder-1", 10, 2, "Thought-provoking questions and extensions"},
}

var difficultyMultipliers = map[string]float64{
	"beginner":     0.8,
	"intermediate": 1.0,
	"advanced":     1.3,
}

var shortLesson = map[string]bool{
	"title-objective": true, "definition": true, "examples": true, "mini-recap": true,
}

var mediumLesson = map[string]bool{
	"title-objective": true, "context-motivation": true, "definition": true,
	"examples": true, "common-mistakes": true, "mini-recap": true,
}

type SlideStructure struct {
	SlideNumber       int               `json:"slide_number"`
	TemplateID        string            `json:"template_id"`
	TemplateName      string            `json:"template_name"`
	ContentType       string            `json:"content_type"`
	EstimatedDuration float64           `json:"estimated_duration"`
	ContentPrompts    map[string]string `json:"content_prompts"`
	LayoutHints       map[string]any    `json:"layout_hints"`
	Priority          int               `json:"priority"`
}

type LessonStructure struct {
	Topic                  string           `json:"topic"`
	DifficultyLevel        string           `json:"difficulty_level"`
	TotalSlides            int              `json:"total_slides"`
	EstimatedTotalDuration float64          `json:"estimated_total_duration"`
	Slides                 []SlideStructure `json:"slides"`
	TeachingStrategy       string           `json:"teaching_strategy"`
	ContentFlow            []string         `json:"content_flow"`
	Analysis               Analysis         `json:"topic_analysis"`
}

type Planner struct {
	llm     llm.Completer
	catalog *templates.Catalog
	logger  *slog.Logger
}

func New(completer llm.Completer, catalog *templates.Catalog, logger *slog.Logger) *Planner {
	return &Planner{
		llm:     completer,
		catalog: catalog,
		logger:  logger.With(slog.String("component", "planner")),
	}
}

// Plan builds the lesson outline. LLM problems only degrade the topic
// analysis; the only error is a catalog without usable templates.
func (p *Planner) Plan(ctx context.Context, topic, difficulty string, targetSeconds float64) (LessonStructure, error) {
	analysis := p.Analyze(ctx, topic, difficulty, targetSeconds)
	sections := SelectSections(targetSeconds)
	durations := AllocateDurations(sections, difficulty, targetSeconds)

	slides := make([]SlideStructure, 0, len(sections))
	total := 0.0
	for i, sec := range sections {
		tpl, err := p.chooseTemplate(sec, difficulty, analysis)
		if err != nil {
			return LessonStructure{}, err
		}
		slides = append(slides, SlideStructure{
			SlideNumber:       i + 1,
			TemplateID:        tpl.ID,
			TemplateName:      tpl.Name,
			ContentType:       sec.Type,
			EstimatedDuration: durations[i],
			ContentPrompts:    SectionPrompts(sec.Type, topic, difficulty, analysis),
			LayoutHints: map[string]any{
				"slide_position":      i,
				"total_slides":        len(sections),
				"section_description": sec.Description,
				"template_variant":    tpl.Variant,
			},
			Priority: sec.Priority,
		})
		total += durations[i]
	}

	flow := make([]string, len(slides))
	for i, s := range slides {
		flow[i] = s.ContentType
	}
	strategy := analysis.Strategy
	if strategy == "" {
		strategy = "structured"
	}
	p.logger.Info("lesson planned",
		slog.String("topic", topic),
		slog.String("difficulty", difficulty),
		slog.Int("slides", len(slides)),
		slog.Float64("estimated_seconds", total))

	return LessonStructure{
		Topic:                  topic,
		DifficultyLevel:        difficulty,
		TotalSlides:            len(slides),
		EstimatedTotalDuration: total,
		Slides:                 slides,
		TeachingStrategy:       strategy,
		ContentFlow:            flow,
		Analysis:               analysis,
	}, nil
}

func (p *Planner) chooseTemplate(sec Section, difficulty string, a Analysis) (*templates.Template, error) {
	sel := templates.Selection{
		Category:   sec.Type,
		Difficulty: difficulty,
		Complexity: a.Complexity,
		Approach:   a.TeachingApproach,
	}
	if tpl := p.catalog.SelectBest(sel); tpl != nil {
		return tpl, nil
	}
	tpl, err := p.catalog.WithFallback(sec.TemplateID, templates.Selection{Category: sec.Type, Difficulty: difficulty})
	if err != nil {
		return nil, fmt.Errorf("select template for %s: %w", sec.Type, err)
	}
	p.logger.Warn("no template in category, using fallback",
		slog.String("section", sec.Type),
		slog.String("template", tpl.ID))
	return tpl, nil
}

// SelectSections picks the outline for a target duration: four core
// sections under 90s, six under 180s, all nine otherwise.
func SelectSections(targetSeconds float64) []Section {
	var keep map[string]bool
	switch {
	case targetSeconds < 90:
		keep = shortLesson
	case targetSeconds < 180:
		keep = mediumLesson
	default:
		return append([]Section(nil), Sections...)
	}
	var out []Section
	for _, s := range Sections {
		if keep[s.Type] {
			out = append(out, s)
		}
	}
	return out
}

// AllocateDurations scales the difficulty-weighted base durations so they
// sum to the target, then applies MinSlideDuration.
func AllocateDurations(sections []Section, difficulty string, targetSeconds float64) []float64 {
	mult, ok := difficultyMultipliers[difficulty]
	if !ok {
		mult = 1.0
	}
	totalBase := 0.0
	for _, s := range sections {
		totalBase += s.BaseDuration * mult
	}
	scale := 1.0
	if totalBase > 0 {
		scale = targetSeconds / totalBase
	}
	out := make([]float64, len(sections))
	for i, s := range sections {
		out[i] = math.Max(MinSlideDuration, s.BaseDuration*mult*scale)
	}
	return out
}

// SectionPrompts returns the heading and content prompts for a section.
func SectionPrompts(sectionType, topic, difficulty string, a Analysis) map[string]string {
	base := fmt.Sprintf("Topic: %s. Difficulty: %s.", topic, difficulty)
	concepts := strings.Join(a.KeyConcepts, ", ")
	if concepts == "" {
		concepts = topic
	}
	relevance := a.RealWorldRelevance
	if relevance == "" {
		relevance = "Why " + topic + " is important"
	}

	var heading, content string
	switch sectionType {
	case "title-objective":
		heading = fmt.Sprintf("Create a clear, engaging lesson title about %s (max 60 chars).", topic)
		content = fmt.Sprintf("Write 1-2 specific learning objectives. What will students be able to do/understand after this lesson about %s?", topic)
	case "context-motivation":
		heading = fmt.Sprintf("Create a heading about why %s matters.", topic)
		content = fmt.Sprintf("Real-world relevance: %s. Explain why students should care about learning %s. Include practical applications.", relevance, topic)
	case "analogy":
		heading = fmt.Sprintf("Create a heading for an analogy about %s.", topic)
		content = fmt.Sprintf("Good analogies: %s. Create a relatable analogy to help students understand %s. Compare it to something familiar.", strings.Join(a.GoodAnalogies, ", "), topic)
	case "definition":
		heading = fmt.Sprintf("Create a heading for defining %s.", topic)
		content = fmt.Sprintf("Key concepts: %s. Provide a clear, concise definition of %s with essential characteristics. Avoid jargon.", concepts, topic)
	case "step-by-step":
		heading = fmt.Sprintf("Create a heading for the step-by-step explanation of %s.", topic)
		content = fmt.Sprintf("Break down %s into 3-5 clear, logical steps or explain the core theory. Make it easy to follow for %s learners.", topic, difficulty)
	case "examples":
		heading = fmt.Sprintf("Create a heading for examples of %s.", topic)
		content = fmt.Sprintf("Good examples: %s. Provide 2-3 concrete, relatable examples that illustrate %s clearly.", strings.Join(a.GoodExamples, ", "), topic)
	case "common-mistakes":
		heading = fmt.Sprintf("Create a heading about common mistakes with %s.", topic)
		content = fmt.Sprintf("Common misconceptions: %s. List 2-3 common mistakes students make with %s and how to avoid them.", strings.Join(a.CommonMisconceptions, ", "), topic)
	case "mini-recap":
		heading = fmt.Sprintf("Create a heading for summarizing %s.", topic)
		content = fmt.Sprintf("Summarize the 3-4 most important points about %s that students should remember. Keep it concise but comprehensive.", topic)
	case "things-to-ponder":
		heading = fmt.Sprintf("Create a heading for thinking deeper about %s.", topic)
		content = fmt.Sprintf("Pose 2-3 thought-provoking questions about %s that encourage deeper thinking or connection to other concepts.", topic)
	default:
		heading = fmt.Sprintf("Create an appropriate heading for %s.", sectionType)
		content = fmt.Sprintf("Create relevant content for %s about %s.", sectionType, topic)
	}
	return map[string]string{
		"heading": base + " " + heading,
		"content": base + " " + content,
	}
}

// decodeAnalysis parses a model answer into an Analysis.
func decodeAnalysis(answer string) (Analysis, error) {
	var raw struct {
		Complexity           float64  `json:"complexity"`
		KeyConcepts          []string `json:"key_concepts"`
		TeachingApproach     string   `json:"teaching_approach"`
		GoodAnalogies        []string `json:"good_analogies"`
		CommonMisconceptions []string `json:"common_misconceptions"`
		RealWorldRelevance   string   `json:"real_world_relevance"`
		GoodExamples         []string `json:"good_examples"`
		Strategy             string   `json:"strategy"`
		Reasoning            string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(ExtractJSON(answer)), &raw); err != nil {
		return Analysis{}, err
	}
	complexity := int(math.Round(raw.Complexity))
	if complexity < 1 || complexity > 5 {
		complexity = 3
	}
	return Analysis{
		Complexity:           complexity,
		KeyConcepts:          raw.KeyConcepts,
		TeachingApproach:     strings.ToLower(strings.TrimSpace(raw.TeachingApproach)),
		GoodAnalogies:        raw.GoodAnalogies,
		CommonMisconceptions: raw.CommonMisconceptions,
		RealWorldRelevance:   raw.RealWorldRelevance,
		GoodExamples:         raw.GoodExamples,
		Strategy:             raw.Strategy,
		Reasoning:            raw.Reasoning,
		Source:               "llm",
	}, nil
}
