// Package protocol defines the subjects and payloads exchanged over the bus.
package protocol

import "time"

// GenerateRequest asks the lesson service to build a lesson. Progress is
// published on SubjectLessonProgress.<lesson_id>; the finished lesson on
// SubjectLessonResult.<lesson_id>. A request-reply caller receives the
// assigned lesson id.
type GenerateRequest struct {
	LessonID        string         `json:"lesson_id,omitempty"`
	Topic           string         `json:"topic"`
	DifficultyLevel string         `json:"difficulty_level"`
	TargetDuration  float64        `json:"target_duration"`
	ContainerSize   *ContainerSize `json:"container_size,omitempty"`
	Voice           string         `json:"voice,omitempty"`
}

type ContainerSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GenerateAccepted is the reply to a GenerateRequest.
type GenerateAccepted struct {
	LessonID string `json:"lesson_id"`
	Error    string `json:"error,omitempty"`
}

// TTSRequest asks for one narration clip.
type TTSRequest struct {
	RequestID string `json:"request_id,omitempty"`
	LessonID  string `json:"lesson_id,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
}

// TTSResult describes a cached narration clip.
type TTSResult struct {
	RequestID string    `json:"request_id,omitempty"`
	LessonID  string    `json:"lesson_id,omitempty"`
	AudioID   string    `json:"audio_id,omitempty"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Duration  float64   `json:"duration"`
	Cached    bool      `json:"cached"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CompletionRequest asks the shared model backend for one completion.
type CompletionRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Prompt    string `json:"prompt"`
}

type CompletionResponse struct {
	RequestID string    `json:"request_id,omitempty"`
	Content   string    `json:"content"`
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerService is one bus service a worker runs.
type WorkerService struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// WorkerHeartbeat announces a worker and the services it runs. Leaving is
// set once when the worker shuts down.
type WorkerHeartbeat struct {
	WorkerID  string          `json:"worker_id"`
	Services  []WorkerService `json:"services"`
	Leaving   bool            `json:"leaving,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const (
	SubjectLessonGenerate = "lesson.generate.request"
	SubjectLessonProgress = "lesson.progress"
	SubjectLessonResult   = "lesson.result"
	SubjectTTSRequest     = "tts.request"
	SubjectTTSDone        = "tts.done"
	SubjectLLMComplete    = "llm.complete"
	SubjectWorkerPrefix   = "ctrl.worker"
)

// WorkerSubject is the heartbeat subject of one worker.
func WorkerSubject(workerID string) string { return SubjectWorkerPrefix + "." + workerID }

// ProgressSubject is the per-lesson progress subject.
func ProgressSubject(lessonID string) string { return SubjectLessonProgress + "." + lessonID }

// ResultSubject is the per-lesson result subject.
func ResultSubject(lessonID string) string { return SubjectLessonResult + "." + lessonID }
