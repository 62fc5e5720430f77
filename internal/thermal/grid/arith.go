package grid

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func (g *Grid) checkShape(op string, other *Grid) error {
	if other == nil {
		return fmt.Errorf("%s: %w: nil operand", op, ErrShapeMismatch)
	}
	if !g.SameShape(other) {
		return fmt.Errorf("%s: %w: %dx%d vs %dx%d", op, ErrShapeMismatch, g.rows, g.cols, other.rows, other.cols)
	}
	return nil
}

func (g *Grid) elementwise(op string, other *Grid, f func(dst, s, t []float64) []float64) (*Grid, error) {
	if err := g.checkShape(op, other); err != nil {
		return nil, err
	}
	out := &Grid{rows: g.rows, cols: g.cols, cells: make([]float64, len(g.cells))}
	f(out.cells, g.cells, other.cells)
	return out, nil
}

// Add returns g + other.
func (g *Grid) Add(other *Grid) (*Grid, error) {
	return g.elementwise("add", other, floats.AddTo)
}

// Sub returns g - other.
func (g *Grid) Sub(other *Grid) (*Grid, error) {
	return g.elementwise("sub", other, floats.SubTo)
}

// Mul returns the elementwise product.
func (g *Grid) Mul(other *Grid) (*Grid, error) {
	return g.elementwise("mul", other, floats.MulTo)
}

// Div returns the elementwise quotient. Division by a zero cell follows
// IEEE-754 (±Inf or NaN).
func (g *Grid) Div(other *Grid) (*Grid, error) {
	return g.elementwise("div", other, floats.DivTo)
}

// Average returns the elementwise mean of g and other.
func (g *Grid) Average(other *Grid) (*Grid, error) {
	sum, err := g.elementwise("average", other, floats.AddTo)
	if err != nil {
		return nil, err
	}
	floats.Scale(0.5, sum.cells)
	return sum, nil
}

// Correlation returns the Pearson correlation coefficient of the two grids'
// cells, in [-1, 1].
//
// When either grid is uniform the coefficient is undefined. Identical
// grids then correlate at 1 and anything else at 0, so a steady uniform
// scene keeps calibrating while a uniform jump restarts it.
func Correlation(a, b *Grid) (float64, error) {
	if err := a.checkShape("correlation", b); err != nil {
		return 0, err
	}
	if isUniform(a.cells) || isUniform(b.cells) {
		if floats.Equal(a.cells, b.cells) {
			return 1, nil
		}
		return 0, nil
	}
	r := stat.Correlation(a.cells, b.cells, nil)
	// guard against rounding drift just outside the closed interval
	switch {
	case r > 1:
		r = 1
	case r < -1:
		r = -1
	}
	return r, nil
}

func isUniform(v []float64) bool {
	for _, x := range v[1:] {
		if x != v[0] {
			return false
		}
	}
	return true
}
