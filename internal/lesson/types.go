// Package lesson runs the slide generation pipeline: plan, fill and render
// each slide, narrate, merge the narration and assemble the final lesson.
package lesson

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-lessons/internal/planner"
	"github.com/loqalabs/loqa-lessons/internal/templates"
	"github.com/loqalabs/loqa-lessons/internal/timeline"
)

var ErrInvalidInput = errors.New("invalid lesson request")

const (
	MinDuration = 30.0
	MaxDuration = 600.0

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var difficulties = map[string]bool{"beginner": true, "intermediate": true, "advanced": true}

type Request struct {
	LessonID       string                   `json:"lesson_id,omitempty"`
	Topic          string                   `json:"topic"`
	Difficulty     string                   `json:"difficulty_level"`
	TargetDuration float64                  `json:"target_duration"`
	Container      *templates.ContainerSize `json:"container_size,omitempty"`
	Voice          string                   `json:"voice,omitempty"`
}

// Validate checks topic, difficulty and duration limits.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return fmt.Errorf("%w: topic must not be empty", ErrInvalidInput)
	}
	if !difficulties[r.Difficulty] {
		return fmt.Errorf("%w: difficulty must be beginner, intermediate or advanced, got %q", ErrInvalidInput, r.Difficulty)
	}
	if r.TargetDuration < MinDuration || r.TargetDuration > MaxDuration {
		return fmt.Errorf("%w: target duration must be between %.0f and %.0f seconds, got %g", ErrInvalidInput, MinDuration, MaxDuration, r.TargetDuration)
	}
	return nil
}

// Slide is one generated slide.
type Slide struct {
	SlideNumber       int                 `json:"slide_number"`
	TemplateID        string              `json:"template_id"`
	TemplateName      string              `json:"template_name"`
	ContentType       string              `json:"content_type"`
	FilledContent     map[string]string   `json:"filled_content"`
	Elements          []templates.Element `json:"elements"`
	Narration         string              `json:"narration"`
	EstimatedDuration float64             `json:"estimated_duration"`
	PositionOffset    float64             `json:"position_offset"`
	Metadata          map[string]any      `json:"metadata"`
	GenerationTime    float64             `json:"generation_time"`
	Status            string              `json:"status"`
	ErrorMessage      string              `json:"error_message,omitempty"`
}

type ViewBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Zoom   float64 `json:"zoom"`
}

// CanvasState tells a player where to look and when. Times are in
// milliseconds.
type CanvasState struct {
	Timestamp float64             `json:"timestamp"`
	Duration  float64             `json:"duration"`
	Elements  []templates.Element `json:"elements"`
	ViewBox   ViewBox             `json:"viewBox"`
	Metadata  map[string]any      `json:"metadata"`
}

type Stats struct {
	TotalGenerationTime float64 `json:"total_generation_time"`
	SlidesGenerated     int     `json:"slides_generated"`
	SuccessfulSlides    int     `json:"successful_slides"`
	SuccessRate         float64 `json:"success_rate"`
	AverageSlideTime    float64 `json:"average_slide_time"`
	TotalElements       int     `json:"total_elements"`
	EstimatedDuration   float64 `json:"estimated_duration"`
	FallbackSlides      int     `json:"fallback_slides"`
	AudioClips          int     `json:"audio_clips"`
}

// Lesson is the finished artifact. EstimatedTotalDuration comes from the
// merged audio when one was produced.
type Lesson struct {
	ID                     string                  `json:"id"`
	Topic                  string                  `json:"topic"`
	DifficultyLevel        string                  `json:"difficulty_level"`
	TargetDuration         float64                 `json:"target_duration"`
	Structure              planner.LessonStructure `json:"lesson_structure"`
	Slides                 []Slide                 `json:"slides"`
	TotalSlides            int                     `json:"total_slides"`
	EstimatedTotalDuration float64                 `json:"estimated_total_duration"`
	AudioURL               string                  `json:"audio_url,omitempty"`
	AudioPath              string                  `json:"audio_path,omitempty"`
	AudioGenerated         bool                    `json:"audio_generated"`
	AudioSegments          []timeline.Segment      `json:"audio_segments"`
	CanvasStates           []CanvasState           `json:"canvas_states"`
	Stats                  Stats                   `json:"generation_stats"`
	Success                bool                    `json:"success"`
	Error                  string                  `json:"error,omitempty"`
	CreatedAt              time.Time               `json:"created_at"`
}

type Stage string

const (
	StagePlanning   Stage = "planning"
	StageSlide      Stage = "generating_slide"
	StageMerging    Stage = "merging_audio"
	StageFinalizing Stage = "finalizing"
	StageDone       Stage = "done"
	StageError      Stage = "error"
)

// Event is one progress update. Slide is set when a slide completes and
// Lesson on the final Done event.
type Event struct {
	LessonID     string    `json:"lesson_id"`
	Stage        Stage     `json:"stage"`
	Message      string    `json:"message"`
	Progress     float64   `json:"progress"`
	CurrentSlide int       `json:"current_slide"`
	TotalSlides  int       `json:"total_slides"`
	Slide        *Slide    `json:"slide,omitempty"`
	Lesson       *Lesson   `json:"lesson,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Terminal reports whether no further events follow.
func (e Event) Terminal() bool { return e.Stage == StageDone || e.Stage == StageError }
