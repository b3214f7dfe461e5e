package templates

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var builtin embed.FS

type catalogFile struct {
	Templates []Template `json:"templates" yaml:"templates"`
}

// Catalog is the read-only set of templates, kept in load order.
type Catalog struct {
	byID  map[string]*Template
	order []*Template
}

// NewCatalog validates every template and indexes them by id.
func NewCatalog(list []Template) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Template, len(list))}
	for i := range list {
		tpl := list[i]
		if err := Validate(tpl); err != nil {
			return nil, err
		}
		if _, dup := c.byID[tpl.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate template id %q", ErrInvalidTemplate, tpl.ID)
		}
		c.byID[tpl.ID] = &tpl
		c.order = append(c.order, &tpl)
	}
	return c, nil
}

// Load reads a catalog from a file or from every .json/.yaml/.yml file in
// a directory. An empty path loads the built-in catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("template catalog not found: %w", err)
	}
	if !info.IsDir() {
		list, err := readFile(path)
		if err != nil {
			return nil, err
		}
		return NewCatalog(list)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	var all []Template
	for _, name := range names {
		list, err := readFile(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		all = append(all, list...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no templates found in %s", ErrInvalidTemplate, path)
	}
	return NewCatalog(all)
}

// Builtin returns the catalog compiled into the binary.
func Builtin() (*Catalog, error) {
	entries, err := builtin.ReadDir("catalog")
	if err != nil {
		return nil, err
	}
	var all []Template
	for _, e := range entries {
		data, err := builtin.ReadFile("catalog/" + e.Name())
		if err != nil {
			return nil, err
		}
		list, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", e.Name(), err)
		}
		all = append(all, list...)
	}
	return NewCatalog(all)
}

func readFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	list, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

// decode accepts YAML or JSON. Unknown keys are rejected.
func decode(data []byte) ([]Template, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return f.Templates, nil
}

// Validate rejects templates that rendering or filling could not handle.
func Validate(t Template) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: template %q: %s", ErrInvalidTemplate, t.ID, fmt.Sprintf(format, args...))
	}
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTemplate)
	}
	if t.Name == "" {
		return invalid("name is required")
	}
	if t.Category == "" {
		return invalid("category is required")
	}
	if t.Variant < 0 {
		return invalid("templateVariant must be >= 0")
	}
	if len(t.Slides) == 0 {
		return invalid("at least one slide is required")
	}
	for i, s := range t.Slides {
		if s.ID == "" {
			return invalid("slides[%d].id is required", i)
		}
		if len(s.Layout) == 0 {
			return invalid("slides[%d].layout must declare at least one element", i)
		}
		for kind, rule := range s.Layout {
			if err := validateRule(kind, rule); err != nil {
				return invalid("slides[%d].layout.%s: %v", i, kind, err)
			}
		}
		for bp, patches := range s.Responsive {
			switch bp {
			case Mobile, Tablet, Desktop:
			default:
				return invalid("slides[%d].responsive: unknown breakpoint %q", i, bp)
			}
			for kind, patch := range patches {
				base, ok := s.Layout[kind]
				if !ok {
					return invalid("slides[%d].responsive.%s.%s has no base layout", i, bp, kind)
				}
				if err := validateRule(kind, base.apply(patch)); err != nil {
					return invalid("slides[%d].responsive.%s.%s: %v", i, bp, kind, err)
				}
			}
		}
		for field := range s.LLMPrompts {
			if _, ok := s.Placeholders[field]; !ok {
				return invalid("slides[%d].llmPrompts.%s has no placeholder", i, field)
			}
		}
		for field := range s.Placeholders {
			if strings.TrimSpace(s.FallbackData[field]) == "" {
				return invalid("slides[%d].fallbackData.%s is required", i, field)
			}
		}
	}
	return nil
}

func validateRule(kind string, r LayoutRule) error {
	switch kind {
	case KindHeading:
		if !headingPositions[r.Position] {
			return fmt.Errorf("position %q not supported for heading", r.Position)
		}
	case KindContent:
		if !contentPositions[r.Position] {
			return fmt.Errorf("position %q not supported for content", r.Position)
		}
	default:
		return fmt.Errorf("element kind %q not supported", kind)
	}
	if r.FontSize != "" {
		if _, ok := fontMultipliers[r.FontSize]; !ok {
			return fmt.Errorf("fontSize %q not supported", r.FontSize)
		}
	}
	switch r.Format {
	case "", FormatText, FormatBullets:
	default:
		return fmt.Errorf("format %q not supported", r.Format)
	}
	if r.MaxChars < 0 || r.MaxLines < 0 {
		return errors.New("maxChars and maxLines must be >= 0")
	}
	return nil
}

func (c *Catalog) Len() int { return len(c.order) }

// Get returns the template with id, or ErrTemplateNotFound.
func (c *Catalog) Get(id string) (*Template, error) {
	tpl, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return tpl, nil
}

func (c *Catalog) All() []Summary {
	out := make([]Summary, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, summarize(t))
	}
	return out
}

func (c *Catalog) ByCategory(category string) []Summary {
	var out []Summary
	for _, t := range c.inCategory(category) {
		out = append(out, summarize(t))
	}
	return out
}

// Categories groups the catalog by category in first-seen order.
func (c *Catalog) Categories() []Category {
	index := map[string]int{}
	var out []Category
	for _, t := range c.order {
		i, ok := index[t.Category]
		if !ok {
			i = len(out)
			index[t.Category] = i
			out = append(out, Category{Name: t.Category, DisplayName: displayName(t.Category)})
		}
		out[i].Count++
		out[i].Templates = append(out[i].Templates, CategoryTemplate{ID: t.ID, Name: t.Name, Variant: t.Variant})
	}
	return out
}

// PromptsAndFallbacks returns the prompts and static content of one slide.
func (c *Catalog) PromptsAndFallbacks(id string, slideIndex int) (PromptSet, error) {
	tpl, err := c.Get(id)
	if err != nil {
		return PromptSet{}, err
	}
	slide, err := tpl.Slide(slideIndex)
	if err != nil {
		return PromptSet{}, err
	}
	return PromptSet{Prompts: copyMap(slide.LLMPrompts), Fallbacks: copyMap(slide.FallbackData)}, nil
}

func (c *Catalog) inCategory(category string) []*Template {
	var out []*Template
	for _, t := range c.order {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

func summarize(t *Template) Summary {
	return Summary{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Category:    t.Category,
		Variant:     t.Variant,
		SlideCount:  len(t.Slides),
	}
}

func displayName(category string) string {
	words := strings.Split(category, "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
