// Package eventstore keeps a SQLite history of generated lessons and the
// progress events emitted while they were built.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-lessons/internal/config"
)

var ErrNotFound = errors.New("lesson not found")

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	RetentionEphemeral  = "ephemeral"
	RetentionSession    = "session"
	RetentionPersistent = "persistent"
)

// Lesson is the stored summary of one lesson run. Result holds the
// finished lesson document as JSON once generation completes.
type Lesson struct {
	ID             string
	Topic          string
	Difficulty     string
	TargetDuration float64
	Status         string
	Success        bool
	AudioURL       string
	Result         []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Event is one recorded progress update.
type Event struct {
	ID        int64
	LessonID  string
	Stage     string
	Message   string
	Progress  float64
	Payload   []byte
	CreatedAt time.Time
}

type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store. Ephemeral retention keeps nothing and opens
// no database.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS lessons (
    lesson_id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    difficulty TEXT NOT NULL,
    target_duration REAL NOT NULL,
    status TEXT NOT NULL,
    success INTEGER NOT NULL DEFAULT 0,
    audio_url TEXT,
    result BLOB,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS lesson_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    lesson_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    message TEXT,
    progress REAL,
    payload BLOB,
    created_at TEXT NOT NULL,
    FOREIGN KEY(lesson_id) REFERENCES lessons(lesson_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_lesson_events_lesson ON lesson_events(lesson_id, id);
CREATE INDEX IF NOT EXISTS idx_lessons_created ON lessons(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Enabled reports whether anything is persisted.
func (s *Store) Enabled() bool { return s != nil && s.db != nil }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveLesson inserts or updates a lesson row. CreatedAt is kept from the
// first insert.
func (s *Store) SaveLesson(ctx context.Context, l Lesson) error {
	if !s.Enabled() {
		return nil
	}
	now := s.clock().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons(lesson_id, topic, difficulty, target_duration, status, success, audio_url, result, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(lesson_id) DO UPDATE SET
		   status=excluded.status, success=excluded.success, audio_url=excluded.audio_url,
		   result=COALESCE(excluded.result, lessons.result), updated_at=excluded.updated_at`,
		l.ID, l.Topic, l.Difficulty, l.TargetDuration, l.Status, l.Success, l.AudioURL, nullable(l.Result),
		format(l.CreatedAt), format(now))
	if err != nil {
		return fmt.Errorf("save lesson %s: %w", l.ID, err)
	}
	return nil
}

// AppendEvent records a progress event. The lesson row must exist.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.Enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lesson_events(lesson_id, stage, message, progress, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		evt.LessonID, evt.Stage, evt.Message, evt.Progress, evt.Payload, format(evt.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event for %s: %w", evt.LessonID, err)
	}
	return nil
}

func (s *Store) GetLesson(ctx context.Context, id string) (Lesson, error) {
	if !s.Enabled() {
		return Lesson{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT lesson_id, topic, difficulty, target_duration, status, success, audio_url, result, created_at, updated_at
		 FROM lessons WHERE lesson_id = ?`, id)
	l, err := scanLesson(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Lesson{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l, err
}

// ListLessons returns up to limit lessons, newest first, without results.
func (s *Store) ListLessons(ctx context.Context, limit int) ([]Lesson, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT lesson_id, topic, difficulty, target_duration, status, success, audio_url, NULL, created_at, updated_at
		 FROM lessons ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListEvents returns up to limit events of a lesson in emission order.
func (s *Store) ListEvents(ctx context.Context, lessonID string, limit int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lesson_id, stage, message, progress, payload, created_at
		 FROM lesson_events WHERE lesson_id = ? ORDER BY id ASC LIMIT ?`, lessonID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var message sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.LessonID, &e.Stage, &message, &e.Progress, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.Message = message.String
		e.CreatedAt = parse(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies the configured retention. Events go with their lesson.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	if s.cfg.RetentionMode != RetentionPersistent && s.cfg.RetentionMode != RetentionSession {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM lessons WHERE created_at < ?`, format(cutoff)); err != nil {
			return err
		}
	}
	if s.cfg.MaxLessons > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM lessons WHERE lesson_id IN (
			SELECT lesson_id FROM lessons ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxLessons)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLesson(row scanner) (Lesson, error) {
	var l Lesson
	var audioURL sql.NullString
	var created, updated string
	if err := row.Scan(&l.ID, &l.Topic, &l.Difficulty, &l.TargetDuration, &l.Status, &l.Success,
		&audioURL, &l.Result, &created, &updated); err != nil {
		return Lesson{}, err
	}
	l.AudioURL = audioURL.String
	l.CreatedAt = parse(created)
	l.UpdatedAt = parse(updated)
	return l, nil
}

func format(t time.Time) string { return t.UTC().Format(timeLayout) }

func parse(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullable binds an empty payload as NULL so COALESCE keeps a stored result.
func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
