package calibration

import (
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "cal.json"), newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := s.Stats().TotalCalibratedVoices; got != 0 {
		t.Fatalf("expected empty store, got %d voices", got)
	}
}

func TestRecordWeightedUpdate(t *testing.T) {
	s, err := Open("", newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Record("v", "one two three four five", 2); err != nil {
		t.Fatalf("record: %v", err)
	}
	v, _ := s.Voice("v")
	if !near(v.WordsPerMinute, 150) || !near(v.CharactersPerSecond, 11.5) || v.SampleCount != 1 || !near(v.ConfidenceScore, 0.1) {
		t.Fatalf("unexpected first sample: %+v", v)
	}

	if err := s.Record("v", "one two three four five six seven eight nine ten", 2); err != nil {
		t.Fatalf("record: %v", err)
	}
	v, _ = s.Voice("v")
	if !near(v.WordsPerMinute, 180) {
		t.Fatalf("expected weighted wpm 180, got %v", v.WordsPerMinute)
	}
	if v.SampleCount != 2 || !near(v.ConfidenceScore, 0.2) {
		t.Fatalf("unexpected sample count/confidence: %+v", v)
	}
}

func TestRecordSkipsInvalidSamples(t *testing.T) {
	s, _ := Open("", newLogger())
	_ = s.Record("v", "   ", 3)
	_ = s.Record("v", "words here", 0)
	if _, ok := s.Voice("v"); ok {
		t.Fatal("invalid samples must not create a voice")
	}
}

func TestConfidenceMonotonic(t *testing.T) {
	s, _ := Open("", newLogger())
	prev := 0.0
	for i := 0; i < 15; i++ {
		if err := s.Record("v", "a short sentence to speak", 1.5+float64(i%3)); err != nil {
			t.Fatalf("record: %v", err)
		}
		v, _ := s.Voice("v")
		if v.ConfidenceScore < prev {
			t.Fatalf("confidence decreased at sample %d: %v < %v", i, v.ConfidenceScore, prev)
		}
		if v.ConfidenceScore > 1 {
			t.Fatalf("confidence above 1: %v", v.ConfidenceScore)
		}
		prev = v.ConfidenceScore
	}
	if prev != 1 {
		t.Fatalf("expected saturated confidence, got %v", prev)
	}
}

func TestEstimate(t *testing.T) {
	s, _ := Open("", newLogger())
	text := "one two three four five"
	if got := s.Estimate("  ", "x"); got != 0 {
		t.Fatalf("blank text: got %v", got)
	}
	if got := s.Estimate(text, "x"); !near(got, 2.6) {
		t.Fatalf("default rate: got %v", got)
	}
	if got := s.Estimate(text, "en_US-lessac-medium"); !near(got, 5/142.5*60*1.3) {
		t.Fatalf("lessac rate: got %v", got)
	}
	if got := s.Estimate("Hi", "x"); got != 1 {
		t.Fatalf("short text floor: got %v", got)
	}

	for i := 0; i < 3; i++ {
		_ = s.Record("fast", "one two three four five six", 1)
	}
	if got := s.Rate("fast"); !near(got, 360) {
		t.Fatalf("calibrated rate: got %v", got)
	}
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cal.json")
	s, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.clock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	if err := s.Record("en_US-ryan-high", "plants make sugar from light", 2); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("calibration file missing: %v", err)
	}

	reloaded, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok := reloaded.Voice("en_US-ryan-high")
	if !ok {
		t.Fatal("voice not persisted")
	}
	if v.SampleCount != 1 || !v.LastUpdated.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected reloaded voice: %+v", v)
	}
	stats := reloaded.Stats()
	if stats.TotalCalibratedVoices != 1 || !near(stats.OverallConfidence, 0.1) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, newLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}
