package plato

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSavitzkyGolaySteadyState(t *testing.T) {
	f := newSavitzkyGolay(5)
	for i := 0; i < 10; i++ {
		f.next(100.0)
	}
	require.InDelta(t, 100.0, f.value(), 0.001)
}

func TestSavitzkyGolayReducesVariance(t *testing.T) {
	f := newSavitzkyGolay(5)
	data := []float64{100, 102, 98, 104, 96, 100, 98}
	var smoothed []float64
	for _, v := range data {
		smoothed = append(smoothed, f.next(v))
	}

	rawVariance := variance(data, 100.0)
	smoothVariance := variance(smoothed[4:], 100.0)
	require.LessOrEqual(t, smoothVariance, rawVariance+1.0)
}

func TestSavitzkyGolayIsReady(t *testing.T) {
	f := newSavitzkyGolay(5)
	require.False(t, f.isReady())
	for i := 0; i < 4; i++ {
		f.next(1.0)
	}
	require.False(t, f.isReady())
	f.next(1.0)
	require.True(t, f.isReady())
}

func TestSavitzkyGolayForcesOddWindow(t *testing.T) {
	f := newSavitzkyGolay(4)
	require.Equal(t, 5, f.windowSize)
}

func variance(xs []float64, mean float64) float64 {
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}
