package timeline

// Segment is the narration window of one slide. EndTime is always
// StartTime + Duration.
type Segment struct {
	SlideNumber int     `json:"slide_number"`
	Text        string  `json:"text"`
	StartTime   float64 `json:"start_time"`
	Duration    float64 `json:"duration"`
	EndTime     float64 `json:"end_time"`
	AudioID     string  `json:"audio_id,omitempty"`
	AudioURL    string  `json:"audio_url,omitempty"`
}

// HasAudio reports whether the slide produced a narration clip.
func (s Segment) HasAudio() bool { return s.AudioID != "" }

// At returns a copy of s placed at start with the given duration.
func (s Segment) At(start, duration float64) Segment {
	s.StartTime = start
	s.Duration = duration
	s.EndTime = start + duration
	return s
}

// Assemble merges measured audio segments into the full slide list. Any
// segment whose slide number appears in measured takes the measured
// timing. Silent segments are anchored to the end of the nearest
// preceding audio-bearing segment, or to zero, keeping their own duration.
func Assemble(all, measured []Segment) []Segment {
	bySlide := make(map[int]Segment, len(measured))
	for _, s := range measured {
		bySlide[s.SlideNumber] = s
	}
	out := make([]Segment, len(all))
	for i, s := range all {
		if m, ok := bySlide[s.SlideNumber]; ok && s.HasAudio() {
			out[i] = m
			continue
		}
		out[i] = s
	}
	for i, s := range out {
		if s.HasAudio() {
			continue
		}
		anchor := 0.0
		for j := i - 1; j >= 0; j-- {
			if out[j].HasAudio() {
				anchor = out[j].EndTime
				break
			}
		}
		out[i] = s.At(anchor, s.Duration)
	}
	return out
}

// Sequential lays segments end to end from zero using their own durations.
// It is the timing used when no merged track exists.
func Sequential(segments []Segment) []Segment {
	out := make([]Segment, len(segments))
	t := 0.0
	for i, s := range segments {
		out[i] = s.At(t, s.Duration)
		t = out[i].EndTime
	}
	return out
}
