package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleAnchorsSilentSegments(t *testing.T) {
	all := []Segment{
		{SlideNumber: 1, Duration: 4, AudioID: "a"},
		{SlideNumber: 2, Duration: 3},
		{SlideNumber: 3, Duration: 5, AudioID: "c"},
		{SlideNumber: 4, Duration: 2},
	}
	measured := []Segment{
		(Segment{SlideNumber: 1, AudioID: "a"}).At(0, 4.2),
		(Segment{SlideNumber: 3, AudioID: "c"}).At(4.7, 5.1),
	}
	out := Assemble(all, measured)
	require.Len(t, out, 4)

	assert.Equal(t, 4.2, out[0].EndTime)
	assert.Equal(t, 4.2, out[1].StartTime, "silent slide starts where the previous narration ends")
	assert.Equal(t, 3.0, out[1].Duration)
	assert.InDelta(t, 9.8, out[2].EndTime, 1e-9)
	assert.InDelta(t, 9.8, out[3].StartTime, 1e-9)
	assert.InDelta(t, 11.8, out[3].EndTime, 1e-9)

	// input is not mutated
	assert.Equal(t, 0.0, all[1].StartTime)
}

func TestAssembleLeadingSilentSegment(t *testing.T) {
	out := Assemble([]Segment{
		{SlideNumber: 1, Duration: 6, StartTime: 12},
		{SlideNumber: 2, Duration: 3},
	}, nil)
	assert.Equal(t, 0.0, out[0].StartTime)
	assert.Equal(t, 6.0, out[0].EndTime)
	assert.Equal(t, 0.0, out[1].StartTime)
}

func TestSequential(t *testing.T) {
	out := Sequential([]Segment{{Duration: 2}, {Duration: 3.5}, {Duration: 1}})
	assert.Equal(t, []float64{0, 2, 5.5}, []float64{out[0].StartTime, out[1].StartTime, out[2].StartTime})
	assert.Equal(t, 6.5, out[2].EndTime)
	for _, s := range out {
		assert.Equal(t, s.StartTime+s.Duration, s.EndTime)
	}
}
