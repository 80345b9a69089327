package plato

import (
	"gonum.org/v1/gonum/floats"
)

// savitzkyGolay is a fixed-kernel Savitzky-Golay smoother over a sliding
// window (spec §4.5: "polynomial order 2 or 3, symmetric kernel"). The
// coefficient tables are the literal SG kernels for window sizes 3/5/7/9/11;
// any other size falls back to a plain running mean kernel, matching the
// source filter's behavior exactly.
type savitzkyGolay struct {
	windowSize   int
	coefficients []float64
	buf          []float64 // ring-ordered oldest-to-newest, length <= windowSize
}

func newSavitzkyGolay(windowSize int) *savitzkyGolay {
	if windowSize%2 == 0 {
		windowSize++
	}
	return &savitzkyGolay{
		windowSize:   windowSize,
		coefficients: sgCoefficients(windowSize),
		buf:          make([]float64, 0, windowSize),
	}
}

func sgCoefficients(windowSize int) []float64 {
	switch windowSize {
	case 3:
		return divEach([]float64{1, 1, 1}, 3)
	case 5:
		return divEach([]float64{-3, 12, 17, 12, -3}, 35)
	case 7:
		return divEach([]float64{-2, 3, 6, 7, 6, 3, -2}, 21)
	case 9:
		return divEach([]float64{-21, 14, 39, 54, 59, 54, 39, 14, -21}, 231)
	case 11:
		return divEach([]float64{-36, 9, 44, 69, 84, 89, 84, 69, 44, 9, -36}, 429)
	default:
		out := make([]float64, windowSize)
		for i := range out {
			out[i] = 1.0 / float64(windowSize)
		}
		return out
	}
}

func divEach(c []float64, d float64) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = v / d
	}
	return out
}

// next pushes value and returns the filter's current smoothed output.
func (f *savitzkyGolay) next(value float64) float64 {
	f.buf = append(f.buf, value)
	if len(f.buf) > f.windowSize {
		f.buf = f.buf[1:]
	}
	return f.calculate()
}

func (f *savitzkyGolay) value() float64 {
	return f.calculate()
}

// isReady reports whether the window has filled, per the source's warmup
// gate (controller.rs checks is_ready before trusting the smoothed signal).
func (f *savitzkyGolay) isReady() bool {
	return len(f.buf) >= f.windowSize
}

func (f *savitzkyGolay) reset() {
	f.buf = f.buf[:0]
}

func (f *savitzkyGolay) calculate() float64 {
	if len(f.buf) == 0 {
		return 0
	}
	if len(f.buf) < f.windowSize {
		return floats.Sum(f.buf) / float64(len(f.buf))
	}
	return floats.Dot(f.buf, f.coefficients)
}
