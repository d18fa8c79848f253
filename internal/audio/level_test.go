package audio

import (
	"math"
	"testing"

	"github.com/companyzero/coachmedia/internal/assert"
)

// TestLevelOf tests the level computation is always within bounds.
func TestLevelOf(t *testing.T) {
	t.Parallel()

	fill := func(v int16) []int16 {
		pcm := make([]int16, samplesPerPeriod)
		for i := range pcm {
			pcm[i] = v
		}
		return pcm
	}

	tests := []struct {
		name string
		pcm  []int16
		sens float64
		want float64
	}{{
		name: "empty",
		pcm:  nil,
		sens: 1,
		want: 0,
	}, {
		name: "silence",
		pcm:  fill(0),
		sens: DefaultLevelSensitivity,
		want: 0,
	}, {
		name: "full scale positive",
		pcm:  fill(math.MaxInt16),
		sens: 1,
		want: 1,
	}, {
		name: "clipping negative",
		pcm:  fill(math.MinInt16),
		sens: DefaultLevelSensitivity,
		want: 1,
	}, {
		name: "half scale",
		pcm:  fill(math.MaxInt16 / 2),
		sens: 1,
		want: float64(math.MaxInt16/2) / math.MaxInt16,
	}, {
		name: "amplified quarter scale",
		pcm:  fill(math.MaxInt16 / 4),
		sens: 2,
		want: 2 * float64(math.MaxInt16/4) / math.MaxInt16,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := levelOf(tc.pcm, tc.sens)
			if math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("unexpected level: got %f, want %f", got, tc.want)
			}
		})
	}

	// Every amplitude stays within bounds.
	for v := math.MinInt16; v <= math.MaxInt16; v += 97 {
		got := levelOf(fill(int16(v)), DefaultLevelSensitivity)
		if got < 0 || got > 1 {
			t.Fatalf("level %f out of bounds for amplitude %d", got, v)
		}
	}
}

// TestApplyGain tests gain application saturates.
func TestApplyGain(t *testing.T) {
	t.Parallel()

	pcm := []int16{100, -100, 20000, -20000}
	applyGain(pcm, dbToGain(0))
	assert.DeepEqual(t, pcm, []int16{100, -100, 20000, -20000})

	applyGain(pcm, 2)
	assert.DeepEqual(t, pcm, []int16{200, -200, math.MaxInt16, math.MinInt16})
}
