package audio

import (
	"math"
	"slices"
)

func bytesToLES16Slice(src []byte, dst []int16) []int16 {
	s16len := len(src) / 2
	dst = slices.Grow(dst, s16len)
	for i := 0; i < s16len; i++ {
		dst = append(dst, int16(src[i*2])|(int16(src[i*2+1])<<8))
	}
	return dst
}

func leS16SliceToBytes(src []int16, dst []byte) []byte {
	s8len := len(src) * 2
	dst = slices.Grow(dst, s8len)
	for i := 0; i < len(src); i++ {
		dst = append(dst, byte(src[i]), byte(src[i]>>8))
	}
	return dst
}

// DefaultLevelSensitivity is the multiplier applied to the normalized RMS
// of a period. Speech rarely gets close to full scale, so the raw value is
// amplified before clamping.
const DefaultLevelSensitivity = 4.0

// levelOf returns the normalized loudness of a block of samples, in the
// range [0, 1].
func levelOf(pcm []int16, sensitivity float64) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(pcm)))
	level := rms / math.MaxInt16 * sensitivity
	switch {
	case level < 0 || math.IsNaN(level):
		return 0
	case level > 1:
		return 1
	}
	return level
}

// applyGain scales samples in place by gain (a linear multiplier),
// saturating on overflow.
func applyGain(pcm []int16, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range pcm {
		v := float64(s) * gain
		switch {
		case v > math.MaxInt16:
			pcm[i] = math.MaxInt16
		case v < math.MinInt16:
			pcm[i] = math.MinInt16
		default:
			pcm[i] = int16(v)
		}
	}
}

// dbToGain converts a decibel value to a linear gain multiplier.
func dbToGain(db float64) float64 {
	return math.Pow(10, db/20)
}
