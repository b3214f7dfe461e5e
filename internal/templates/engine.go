package templates

import (
	"math"
	"strings"
)

const (
	charWidthFactor   = 0.6
	headingLineFactor = 1.4
	contentLineFactor = 1.6
	contentGap        = 30.0

	defaultHeadingMaxChars = 50
	defaultContentMaxChars = 300

	headingColor = "#1971c2"
	contentColor = "#374151"
)

type Element struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	Text            string  `json:"text"`
	FontSize        int     `json:"fontSize"`
	Alignment       string  `json:"alignment"`
	Color           string  `json:"color"`
	BackgroundColor string  `json:"backgroundColor"`
}

type ContainerInfo struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Breakpoint Breakpoint `json:"breakpoint"`
}

type Rendered struct {
	TemplateID    string         `json:"templateId"`
	TemplateName  string         `json:"templateName"`
	SlideIndex    int            `json:"slideIndex"`
	ContainerSize ContainerInfo  `json:"containerSize"`
	Elements      []Element      `json:"elements"`
	Metadata      map[string]any `json:"metadata"`
}

// Engine renders catalog templates into positioned elements.
type Engine struct {
	catalog *Catalog
}

func NewEngine(c *Catalog) *Engine {
	return &Engine{catalog: c}
}

func (e *Engine) Catalog() *Catalog { return e.catalog }

// Render lays out content for a catalog template.
func (e *Engine) Render(templateID string, content map[string]string, container ContainerSize, slideIndex int, positionOffset float64) (Rendered, error) {
	tpl, err := e.catalog.Get(templateID)
	if err != nil {
		return Rendered{}, err
	}
	return RenderSlide(tpl, slideIndex, content, container, positionOffset)
}

// Preview renders a slide with its own fallback content.
func (e *Engine) Preview(templateID string, container ContainerSize, slideIndex int) (Rendered, error) {
	tpl, err := e.catalog.Get(templateID)
	if err != nil {
		return Rendered{}, err
	}
	slide, err := tpl.Slide(slideIndex)
	if err != nil {
		return Rendered{}, err
	}
	r, err := RenderSlide(tpl, slideIndex, slide.FallbackData, container, 0)
	if err != nil {
		return Rendered{}, err
	}
	r.Metadata = map[string]any{
		"slideId":      slide.ID,
		"slideType":    slide.Type,
		"fallbackData": copyMap(slide.FallbackData),
	}
	return r, nil
}

// RenderSlide lays out content for one slide of tpl. Elements whose
// content is missing or blank are left out.
func RenderSlide(tpl *Template, slideIndex int, content map[string]string, container ContainerSize, positionOffset float64) (Rendered, error) {
	slide, err := tpl.Slide(slideIndex)
	if err != nil {
		return Rendered{}, err
	}
	bp := container.Breakpoint()
	layout := slide.ResolveLayout(bp)
	elements := layoutElements(layout, content, container)
	for i := range elements {
		elements[i].X += positionOffset
	}
	return Rendered{
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		SlideIndex:   slideIndex,
		ContainerSize: ContainerInfo{
			Width:      container.Width,
			Height:     container.Height,
			Breakpoint: bp,
		},
		Elements: elements,
		Metadata: map[string]any{
			"slideId":        slide.ID,
			"slideType":      slide.Type,
			"filledContent":  copyMap(content),
			"positionOffset": positionOffset,
		},
	}, nil
}

func layoutElements(layout map[string]LayoutRule, content map[string]string, container ContainerSize) []Element {
	elements := make([]Element, 0, 2)
	base := BaseFontSize(container)

	headingBottom := 0.0
	if rule, ok := layout[KindHeading]; ok {
		if text := strings.TrimSpace(content[KindHeading]); text != "" {
			h := headingElement(rule, text, container, base)
			headingBottom = h.Y + h.Height
			elements = append(elements, h)
		}
	}
	if rule, ok := layout[KindContent]; ok {
		if text := strings.TrimSpace(content[KindContent]); text != "" {
			elements = append(elements, contentElement(rule, text, container, base, headingBottom))
		}
	}
	return elements
}

// BaseFontSize is the body font size for a container width.
func BaseFontSize(c ContainerSize) int {
	switch c.Breakpoint() {
	case Mobile:
		return clamp(c.Width/30, 14, 18)
	case Tablet:
		return clamp(c.Width/45, 16, 20)
	default:
		return clamp(c.Width/60, 18, 24)
	}
}

// HeadingFontSize maps a size label to pixels. Unknown labels use large.
func HeadingFontSize(label string, base int) int {
	mult, ok := fontMultipliers[label]
	if !ok {
		mult = fontMultipliers["large"]
	}
	return int(float64(base) * mult)
}

func padding(c ContainerSize) float64 {
	return math.Max(20, float64(c.Width)*0.05)
}

func headingElement(rule LayoutRule, text string, c ContainerSize, base int) Element {
	fs := HeadingFontSize(rule.FontSize, base)
	maxChars := rule.MaxChars
	if maxChars == 0 {
		maxChars = defaultHeadingMaxChars
	}
	display := Truncate(text, maxChars)

	width := float64(c.Width)
	textWidth := float64(runeLen(display)) * float64(fs) * charWidthFactor
	textHeight := float64(fs) * headingLineFactor
	pad := padding(c)

	x := (width - textWidth) / 2
	if rule.Position == "left-top" {
		x = pad
	}
	y := pad + float64(fs)*0.5

	return Element{
		ID:              KindHeading,
		Type:            "text",
		X:               math.Max(pad, x),
		Y:               y,
		Width:           math.Min(textWidth, width-2*pad),
		Height:          textHeight,
		Text:            display,
		FontSize:        fs,
		Alignment:       orDefault(rule.Alignment, "center"),
		Color:           headingColor,
		BackgroundColor: "transparent",
	}
}

func contentElement(rule LayoutRule, text string, c ContainerSize, base int, headingBottom float64) Element {
	fs := base
	maxChars := rule.MaxChars
	if maxChars == 0 {
		maxChars = defaultContentMaxChars
	}
	display := Truncate(text, maxChars)
	if rule.Format == FormatBullets {
		display = FormatBulletLines(display)
	}

	charWidth := float64(fs) * charWidthFactor
	pad := padding(c)
	maxWidth := float64(c.Width) - 2*pad
	perLine := int(maxWidth / charWidth)
	lines := WrapLines(display, perLine)

	longest := 0
	for _, l := range lines {
		if n := runeLen(l); n > longest {
			longest = n
		}
	}
	textWidth := math.Min(maxWidth, float64(longest)*charWidth)
	textHeight := float64(len(lines)) * float64(fs) * contentLineFactor

	var x, y float64
	if rule.Position == "center-middle" {
		x = (float64(c.Width) - textWidth) / 2
		y = math.Max(headingBottom+contentGap, (float64(c.Height)-textHeight)/2)
	} else {
		x = pad
		if headingBottom > 0 {
			y = headingBottom + contentGap
		} else {
			y = pad + float64(fs)
		}
	}

	return Element{
		ID:              KindContent,
		Type:            "text",
		X:               x,
		Y:               y,
		Width:           textWidth,
		Height:          textHeight,
		Text:            strings.Join(lines, "\n"),
		FontSize:        fs,
		Alignment:       orDefault(rule.Alignment, "left"),
		Color:           contentColor,
		BackgroundColor: "transparent",
	}
}

// Truncate shortens text to maxChars runes. It cuts at the last space when
// that space lies past 70% of the limit, and appends "...".
func Truncate(text string, maxChars int) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}
	cut := runes[:maxChars]
	lastSpace := -1
	for i := len(cut) - 1; i >= 0; i-- {
		if cut[i] == ' ' {
			lastSpace = i
			break
		}
	}
	if float64(lastSpace) > float64(maxChars)*0.7 {
		return string(cut[:lastSpace]) + "..."
	}
	return string(cut) + "..."
}

// FormatBulletLines prefixes every non-empty line with "• " unless it is
// already bulleted.
func FormatBulletLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "•") && !strings.HasPrefix(line, "-") {
			line = "• " + line
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// WrapLines wraps text to perLine runes. Explicit newlines start new
// paragraphs; a paragraph that already fits is kept as is.
func WrapLines(text string, perLine int) []string {
	if !strings.Contains(text, "\n") {
		return wrapParagraph(text, perLine)
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if runeLen(para) <= perLine {
			lines = append(lines, para)
			continue
		}
		lines = append(lines, wrapParagraph(para, perLine)...)
	}
	return lines
}

func wrapParagraph(text string, perLine int) []string {
	var lines []string
	current := ""
	for _, word := range strings.Fields(text) {
		if runeLen(current+" "+word) <= perLine {
			if current == "" {
				current = word
			} else {
				current += " " + word
			}
			continue
		}
		if current != "" {
			lines = append(lines, current)
		}
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func runeLen(s string) int { return len([]rune(s)) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
