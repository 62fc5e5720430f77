package grid

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// DenoiseWindow is the median filter kernel size used by Denoise.
const DenoiseWindow = 5

// Resample interpolates the grid onto a rows x cols lattice spanning the same
// field of view. Interpolation is a natural cubic spline applied separably
// along columns then rows, so sensor pixels map onto the corners of the new
// lattice and the values between them are smooth.
func (g *Grid) Resample(rows, cols int) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("resample: %w: invalid target %dx%d", ErrShapeMismatch, rows, cols)
	}
	if rows == g.rows && cols == g.cols {
		return g.Clone(), nil
	}

	wide := make([]float64, g.rows*cols)
	for r := 0; r < g.rows; r++ {
		if err := resample1D(wide[r*cols:(r+1)*cols], g.cells[r*g.cols:(r+1)*g.cols]); err != nil {
			return nil, fmt.Errorf("resample row %d: %w", r, err)
		}
	}

	out := &Grid{rows: rows, cols: cols, cells: make([]float64, rows*cols)}
	src := make([]float64, g.rows)
	dst := make([]float64, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < g.rows; r++ {
			src[r] = wide[r*cols+c]
		}
		if err := resample1D(dst, src); err != nil {
			return nil, fmt.Errorf("resample column %d: %w", c, err)
		}
		for r, v := range dst {
			out.cells[r*cols+c] = v
		}
	}
	return out, nil
}

func resample1D(dst, src []float64) error {
	if len(src) == 1 || len(dst) == 1 {
		for i := range dst {
			dst[i] = src[0]
		}
		return nil
	}
	var nc interp.NaturalCubic
	if err := nc.Fit(unitSpan(len(src)), src); err != nil {
		return err
	}
	for i, x := range unitSpan(len(dst)) {
		dst[i] = nc.Predict(x)
	}
	return nil
}

// unitSpan returns n evenly spaced positions over [0, 1]; n must be >= 2.
func unitSpan(n int) []float64 {
	return floats.Span(make([]float64, n), 0, 1)
}

// Denoise applies a median filter with a DenoiseWindow kernel.
func (g *Grid) Denoise() *Grid {
	return g.MedianFilter(DenoiseWindow)
}

// MedianFilter replaces each cell with the median of the size x size window
// centred on it. The window is clipped at the grid edges rather than padded,
// so border cells are not pulled towards zero. Even sizes are rounded up.
func (g *Grid) MedianFilter(size int) *Grid {
	half := size / 2
	if half <= 0 {
		return g.Clone()
	}
	out := &Grid{rows: g.rows, cols: g.cols, cells: make([]float64, len(g.cells))}
	window := make([]float64, 0, (2*half+1)*(2*half+1))
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			window = window[:0]
			for wr := max(0, r-half); wr <= min(g.rows-1, r+half); wr++ {
				for wc := max(0, c-half); wc <= min(g.cols-1, c+half); wc++ {
					window = append(window, g.cells[wr*g.cols+wc])
				}
			}
			sort.Float64s(window)
			out.cells[r*g.cols+c] = medianOfSorted(window)
		}
	}
	return out
}

// FlipHorizontal mirrors the grid left to right.
func (g *Grid) FlipHorizontal() *Grid {
	out := g.Clone()
	for r := 0; r < g.rows; r++ {
		row := out.cells[r*g.cols : (r+1)*g.cols]
		for i, j := 0, len(row)-1; i < j; i, j = i+1, j-1 {
			row[i], row[j] = row[j], row[i]
		}
	}
	return out
}

// FlipVertical mirrors the grid top to bottom.
func (g *Grid) FlipVertical() *Grid {
	out := &Grid{rows: g.rows, cols: g.cols, cells: make([]float64, len(g.cells))}
	for r := 0; r < g.rows; r++ {
		copy(out.cells[r*g.cols:(r+1)*g.cols], g.cells[(g.rows-1-r)*g.cols:(g.rows-r)*g.cols])
	}
	return out
}
