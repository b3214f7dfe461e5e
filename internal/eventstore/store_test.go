package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-lessons/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "lessons.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	es, err := Open(ctx, config.EventStoreConfig{RetentionMode: RetentionEphemeral}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if es.Enabled() {
		t.Fatal("ephemeral store should not be enabled")
	}
	if err := es.SaveLesson(ctx, Lesson{ID: "x"}); err != nil {
		t.Fatalf("save on ephemeral store: %v", err)
	}
	if _, err := es.GetLesson(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveLessonAndEvents(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: RetentionSession})

	l := Lesson{ID: "lesson-1", Topic: "Photosynthesis", Difficulty: "beginner", TargetDuration: 75, Status: "planning"}
	if err := es.SaveLesson(ctx, l); err != nil {
		t.Fatalf("save lesson: %v", err)
	}
	for i, stage := range []string{"planning", "generating_slide", "done"} {
		if err := es.AppendEvent(ctx, Event{LessonID: l.ID, Stage: stage, Progress: float64(i) / 2, Payload: []byte(stage)}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	l.Status = "done"
	l.Success = true
	l.AudioURL = "/api/lesson/lesson-1.wav"
	l.Result = []byte(`{"id":"lesson-1"}`)
	if err := es.SaveLesson(ctx, l); err != nil {
		t.Fatalf("update lesson: %v", err)
	}

	got, err := es.GetLesson(ctx, l.ID)
	if err != nil {
		t.Fatalf("get lesson: %v", err)
	}
	if got.Status != "done" || !got.Success || got.AudioURL != l.AudioURL {
		t.Fatalf("unexpected lesson: %+v", got)
	}
	if string(got.Result) != `{"id":"lesson-1"}` {
		t.Fatalf("unexpected result: %s", got.Result)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.Before(got.CreatedAt) {
		t.Fatalf("unexpected timestamps: %v %v", got.CreatedAt, got.UpdatedAt)
	}

	events, err := es.ListEvents(ctx, l.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Stage != "planning" || events[2].Stage != "done" {
		t.Fatalf("events out of order: %+v", events)
	}
	if string(events[1].Payload) != "generating_slide" {
		t.Fatalf("unexpected payload: %s", events[1].Payload)
	}
}

func TestUpdateKeepsResult(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: RetentionSession})
	l := Lesson{ID: "l", Topic: "t", Difficulty: "beginner", TargetDuration: 30, Status: "done", Result: []byte("{}")}
	if err := es.SaveLesson(ctx, l); err != nil {
		t.Fatalf("save: %v", err)
	}
	l.Result = nil
	l.Status = "archived"
	if err := es.SaveLesson(ctx, l); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := es.GetLesson(ctx, "l")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Result) != "{}" || got.Status != "archived" {
		t.Fatalf("unexpected lesson: %+v", got)
	}
}

func TestEventRequiresLesson(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: RetentionSession})
	if err := es.AppendEvent(context.Background(), Event{LessonID: "missing", Stage: "planning"}); err == nil {
		t.Fatal("expected foreign key error")
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: RetentionPersistent, RetentionDays: 1, MaxLessons: 1})

	save := func(id string, at time.Time) {
		t.Helper()
		es.clock = func() time.Time { return at }
		if err := es.SaveLesson(ctx, Lesson{ID: id, Topic: id, Difficulty: "beginner", TargetDuration: 30, Status: "done"}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
		if err := es.AppendEvent(ctx, Event{LessonID: id, Stage: "done"}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}
	save("old", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	save("mid", time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC))
	save("new", time.Date(2025, 1, 3, 6, 0, 0, 0, time.UTC))

	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}
	lessons, err := es.ListLessons(ctx, 10)
	if err != nil {
		t.Fatalf("list lessons: %v", err)
	}
	if len(lessons) != 1 || lessons[0].ID != "new" {
		t.Fatalf("expected only the newest lesson, got %+v", lessons)
	}
	events, err := es.ListEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected events of pruned lesson to cascade, got %d", len(events))
	}
}
