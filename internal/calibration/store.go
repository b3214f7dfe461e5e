// Package calibration keeps per-voice speaking-rate statistics learned from
// measured synthesis output and uses them to estimate narration length.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultWPM is used for voices without enough samples.
	DefaultWPM = 150.0
	// MinConfidence is the confidence at which a calibrated rate is trusted.
	MinConfidence = 0.3

	maxWeight     = 0.2
	fullSamples   = 10.0
	bufferFactor  = 1.3
	secondsPerChr = 0.05
)

var voiceAdjustments = []struct {
	match  string
	factor float64
}{
	{"lessac", 0.95},
	{"ryan", 1.05},
	{"jenny", 0.90},
}

// Voice is the learned rate for one voice.
type Voice struct {
	VoiceID             string    `json:"voice_id"`
	WordsPerMinute      float64   `json:"words_per_minute"`
	CharactersPerSecond float64   `json:"characters_per_second"`
	SampleCount         int       `json:"sample_count"`
	LastUpdated         time.Time `json:"last_updated"`
	ConfidenceScore     float64   `json:"confidence_score"`
}

// Stats summarizes the store.
type Stats struct {
	TotalCalibratedVoices int              `json:"total_calibrated_voices"`
	Voices                map[string]Voice `json:"voices"`
	OverallConfidence     float64          `json:"overall_confidence"`
}

// Store is safe for concurrent use. Writes are last-writer-wins on disk.
type Store struct {
	path   string
	log    *slog.Logger
	clock  func() time.Time
	mu     sync.Mutex
	voices map[string]Voice
	saveMu sync.Mutex
}

// Open loads the store at path. A missing file yields an empty store; an
// empty path keeps the store in memory only.
func Open(path string, log *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		log:    log.With(slog.String("component", "calibration")),
		clock:  time.Now,
		voices: make(map[string]Voice),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory state with the file contents.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("no voice calibration data found", slog.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read calibration: %w", err)
	}
	voices := make(map[string]Voice)
	if err := json.Unmarshal(data, &voices); err != nil {
		return fmt.Errorf("parse calibration: %w", err)
	}
	for id, v := range voices {
		v.VoiceID = id
		voices[id] = v
	}
	s.mu.Lock()
	s.voices = voices
	s.mu.Unlock()
	s.log.Info("loaded voice calibration", slog.Int("voices", len(voices)))
	return nil
}

// Record folds a measured synthesis into the voice's rate and persists the
// store. Text without words or a non-positive duration is ignored.
func (s *Store) Record(voiceID, text string, seconds float64) error {
	words := len(strings.Fields(text))
	if words == 0 || seconds <= 0 {
		s.log.Warn("skipping calibration sample",
			slog.String("voice", voiceID),
			slog.Int("words", words),
			slog.Float64("seconds", seconds))
		return nil
	}
	wpm := float64(words) / seconds * 60
	cps := float64(len(text)) / seconds

	s.mu.Lock()
	v, ok := s.voices[voiceID]
	if !ok {
		v = Voice{
			VoiceID:             voiceID,
			WordsPerMinute:      wpm,
			CharactersPerSecond: cps,
			SampleCount:         1,
			ConfidenceScore:     0.1,
		}
	} else {
		w := math.Min(maxWeight, 1/float64(v.SampleCount+1))
		v.WordsPerMinute = v.WordsPerMinute*(1-w) + wpm*w
		v.CharactersPerSecond = v.CharactersPerSecond*(1-w) + cps*w
		v.SampleCount++
		v.ConfidenceScore = math.Min(1, float64(v.SampleCount)/fullSamples)
	}
	v.LastUpdated = s.clock().UTC()
	s.voices[voiceID] = v
	s.mu.Unlock()

	s.log.Debug("updated voice calibration",
		slog.String("voice", voiceID),
		slog.Float64("wpm", v.WordsPerMinute),
		slog.Float64("confidence", v.ConfidenceScore))
	return s.Save()
}

// Save writes the store atomically through a temp file in the same dir.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	data, err := json.MarshalIndent(s.voices, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".calibration-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close calibration: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace calibration: %w", err)
	}
	return nil
}

// Rate returns the words per minute used for estimates.
func (s *Store) Rate(voiceID string) float64 {
	s.mu.Lock()
	v, ok := s.voices[voiceID]
	s.mu.Unlock()
	if ok && v.ConfidenceScore >= MinConfidence {
		return v.WordsPerMinute
	}
	lower := strings.ToLower(voiceID)
	for _, adj := range voiceAdjustments {
		if strings.Contains(lower, adj.match) {
			return DefaultWPM * adj.factor
		}
	}
	return DefaultWPM
}

// Estimate predicts the spoken duration of text in seconds.
func (s *Store) Estimate(text, voiceID string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	words := float64(len(strings.Fields(text)))
	estimate := words / s.Rate(voiceID) * 60 * bufferFactor
	minimum := float64(len(text)) * secondsPerChr
	return math.Max(math.Max(estimate, minimum), 1.0)
}

func (s *Store) Voice(voiceID string) (Voice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.voices[voiceID]
	return v, ok
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{TotalCalibratedVoices: len(s.voices), Voices: make(map[string]Voice, len(s.voices))}
	total := 0.0
	for id, v := range s.voices {
		st.Voices[id] = v
		total += v.ConfidenceScore
	}
	if len(s.voices) > 0 {
		st.OverallConfidence = total / float64(len(s.voices))
	}
	return st
}
