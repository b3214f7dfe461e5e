package timeline

import (
	"math"

	"github.com/go-audio/audio"
)

const (
	// SampleRate, Channels and BitDepth are the format every clip is
	// normalized to before concatenation.
	SampleRate = 44100
	Channels   = 2
	BitDepth   = 16
)

// stereo is interleaved 16-bit stereo PCM at SampleRate.
type stereo []int16

func (s stereo) frames() int { return len(s) / Channels }

func (s stereo) seconds() float64 { return framesToSeconds(s.frames()) }

func framesToSeconds(n int) float64 { return float64(n) / SampleRate }

func msToFrames(ms int) int { return int(math.Round(float64(ms) * SampleRate / 1000)) }

func silence(frames int) stereo { return make(stereo, frames*Channels) }

// normalize converts a decoded buffer to stereo 16-bit at SampleRate. Mono
// is duplicated; extra channels beyond the first two are dropped.
func normalize(buf *audio.IntBuffer) stereo {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil
	}
	ch := buf.Format.NumChannels
	n := len(buf.Data) / ch
	shift := toInt16(buf.SourceBitDepth)

	left := make([]float64, n)
	right := make([]float64, n)
	for i := 0; i < n; i++ {
		l := shift(buf.Data[i*ch])
		r := l
		if ch > 1 {
			r = shift(buf.Data[i*ch+1])
		}
		left[i], right[i] = l, r
	}
	if rate := buf.Format.SampleRate; rate > 0 && rate != SampleRate {
		left = resample(left, rate, SampleRate)
		right = resample(right, rate, SampleRate)
	}
	out := make(stereo, len(left)*Channels)
	for i := range left {
		out[i*2] = clamp(left[i])
		out[i*2+1] = clamp(right[i])
	}
	return out
}

func toInt16(depth int) func(int) float64 {
	switch depth {
	case 8:
		return func(v int) float64 { return float64((v - 128) << 8) }
	case 24:
		return func(v int) float64 { return float64(v >> 8) }
	case 32:
		return func(v int) float64 { return float64(v >> 16) }
	default:
		return func(v int) float64 { return float64(v) }
	}
}

// resample converts between rates with linear interpolation.
func resample(in []float64, from, to int) []float64 {
	if len(in) == 0 {
		return in
	}
	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	out := make([]float64, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

func clamp(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// fadeOut ramps the last n frames down to silence.
func (s stereo) fadeOut(n int) {
	total := s.frames()
	if n > total {
		n = total
	}
	for i := 0; i < n; i++ {
		gain := float64(n-i-1) / float64(n)
		f := total - n + i
		s[f*2] = clamp(float64(s[f*2]) * gain)
		s[f*2+1] = clamp(float64(s[f*2+1]) * gain)
	}
}

// fadeIn ramps the first n frames up from silence.
func (s stereo) fadeIn(n int) {
	if total := s.frames(); n > total {
		n = total
	}
	for i := 0; i < n; i++ {
		gain := float64(i) / float64(n)
		s[i*2] = clamp(float64(s[i*2]) * gain)
		s[i*2+1] = clamp(float64(s[i*2+1]) * gain)
	}
}

// crossfade overlaps the tail of a with the head of b by up to n frames
// and returns the joined audio with the overlap actually used.
func crossfade(a, b stereo, n int) (stereo, int) {
	if n > a.frames() {
		n = a.frames()
	}
	if n > b.frames() {
		n = b.frames()
	}
	out := make(stereo, 0, len(a)+len(b)-n*Channels)
	out = append(out, a[:len(a)-n*Channels]...)
	start := a.frames() - n
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n)
		for c := 0; c < Channels; c++ {
			av := float64(a[(start+i)*Channels+c])
			bv := float64(b[i*Channels+c])
			out = append(out, clamp(av*(1-t)+bv*t))
		}
	}
	out = append(out, b[n*Channels:]...)
	return out, n
}

func (s stereo) intBuffer() *audio.IntBuffer {
	data := make([]int, len(s))
	for i, v := range s {
		data[i] = int(v)
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
}
