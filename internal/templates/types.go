package templates

import (
	"errors"
	"sort"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrSlideOutOfRange  = errors.New("slide index out of range")
	ErrInvalidTemplate  = errors.New("invalid template")
)

type Breakpoint string

const (
	Mobile  Breakpoint = "mobile"
	Tablet  Breakpoint = "tablet"
	Desktop Breakpoint = "desktop"
)

// ContainerSize is the drawing area a slide is rendered into.
type ContainerSize struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (c ContainerSize) Breakpoint() Breakpoint {
	switch {
	case c.Width < 768:
		return Mobile
	case c.Width < 1024:
		return Tablet
	default:
		return Desktop
	}
}

// Element kinds a layout may position.
const (
	KindHeading = "heading"
	KindContent = "content"
)

const (
	FormatText    = "text"
	FormatBullets = "bullets"
)

var headingPositions = map[string]bool{"center-top": true, "left-top": true}

var contentPositions = map[string]bool{
	"center-middle": true,
	"left-middle":   true,
	"left-content":  true,
	"full-content":  true,
}

var fontMultipliers = map[string]float64{
	"small":   1.2,
	"medium":  1.5,
	"large":   1.8,
	"xlarge":  2.2,
	"xxlarge": 2.6,
}

type LayoutRule struct {
	Position  string `json:"position" yaml:"position"`
	FontSize  string `json:"fontSize,omitempty" yaml:"fontSize,omitempty"`
	MaxChars  int    `json:"maxChars,omitempty" yaml:"maxChars,omitempty"`
	MaxLines  int    `json:"maxLines,omitempty" yaml:"maxLines,omitempty"`
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Alignment string `json:"alignment,omitempty" yaml:"alignment,omitempty"`
}

// LayoutPatch overrides individual LayoutRule fields at a breakpoint. Nil
// fields keep the base value.
type LayoutPatch struct {
	Position  *string `json:"position,omitempty" yaml:"position,omitempty"`
	FontSize  *string `json:"fontSize,omitempty" yaml:"fontSize,omitempty"`
	MaxChars  *int    `json:"maxChars,omitempty" yaml:"maxChars,omitempty"`
	MaxLines  *int    `json:"maxLines,omitempty" yaml:"maxLines,omitempty"`
	Format    *string `json:"format,omitempty" yaml:"format,omitempty"`
	Alignment *string `json:"alignment,omitempty" yaml:"alignment,omitempty"`
}

func (r LayoutRule) apply(p LayoutPatch) LayoutRule {
	if p.Position != nil {
		r.Position = *p.Position
	}
	if p.FontSize != nil {
		r.FontSize = *p.FontSize
	}
	if p.MaxChars != nil {
		r.MaxChars = *p.MaxChars
	}
	if p.MaxLines != nil {
		r.MaxLines = *p.MaxLines
	}
	if p.Format != nil {
		r.Format = *p.Format
	}
	if p.Alignment != nil {
		r.Alignment = *p.Alignment
	}
	return r
}

type Slide struct {
	ID           string                                `json:"id" yaml:"id"`
	Type         string                                `json:"type" yaml:"type"`
	Layout       map[string]LayoutRule                 `json:"layout" yaml:"layout"`
	Responsive   map[Breakpoint]map[string]LayoutPatch `json:"responsive,omitempty" yaml:"responsive,omitempty"`
	Placeholders map[string]string                     `json:"placeholders" yaml:"placeholders"`
	LLMPrompts   map[string]string                     `json:"llmPrompts,omitempty" yaml:"llmPrompts,omitempty"`
	FallbackData map[string]string                     `json:"fallbackData" yaml:"fallbackData"`
}

// ResolveLayout merges the breakpoint overrides into the base layout. The
// returned map is a copy.
func (s Slide) ResolveLayout(bp Breakpoint) map[string]LayoutRule {
	merged := make(map[string]LayoutRule, len(s.Layout))
	for kind, rule := range s.Layout {
		if patch, ok := s.Responsive[bp][kind]; ok {
			rule = rule.apply(patch)
		}
		merged[kind] = rule
	}
	return merged
}

// Fields returns the placeholder names in a stable order: heading and
// content first, narration last, everything else alphabetical.
func (s Slide) Fields() []string {
	return OrderedKeys(s.Placeholders)
}

var fieldRank = map[string]int{
	"heading":   0,
	"title":     1,
	"content":   2,
	"body":      3,
	"narration": 100,
}

// OrderedKeys sorts field names the same way Slide.Fields does.
func OrderedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := fieldRank[keys[i]]
		rj, jok := fieldRank[keys[j]]
		if !iok {
			ri = 50
		}
		if !jok {
			rj = 50
		}
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

type Template struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Category    string  `json:"category" yaml:"category"`
	Variant     int     `json:"templateVariant" yaml:"templateVariant"`
	Slides      []Slide `json:"slides" yaml:"slides"`
}

// Slide returns the slide at index or ErrSlideOutOfRange.
func (t *Template) Slide(index int) (Slide, error) {
	if index < 0 || index >= len(t.Slides) {
		return Slide{}, ErrSlideOutOfRange
	}
	return t.Slides[index], nil
}

// Summary is the catalog listing view of a template.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Variant     int    `json:"templateVariant"`
	SlideCount  int    `json:"slideCount"`
}

type CategoryTemplate struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Variant int    `json:"templateVariant"`
}

type Category struct {
	Name        string             `json:"name"`
	DisplayName string             `json:"displayName"`
	Count       int                `json:"count"`
	Templates   []CategoryTemplate `json:"templates"`
}

// PromptSet holds the LLM prompts and static fallbacks of one slide.
type PromptSet struct {
	Prompts   map[string]string `json:"prompts"`
	Fallbacks map[string]string `json:"fallbacks"`
}
