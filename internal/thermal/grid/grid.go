// Package grid provides the thermal frame container used by the detection
// engine: a fixed-shape 2-D field of temperatures with elementwise
// arithmetic, statistics, resampling and smoothing.
//
// Grids are value objects. Every operation except Set returns a new Grid and
// leaves its operands untouched.
package grid

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// ErrShapeMismatch is returned when an operation receives data whose
// dimensions do not match the grid it is applied to.
var ErrShapeMismatch = errors.New("shape mismatch")

// Grid is a rows x cols matrix of temperatures stored in row-major order.
// The sensor frame of the GridEye is 8x8.
type Grid struct {
	rows  int
	cols  int
	cells []float64
}

// New builds a Grid from a flat row-major slice. The slice is copied.
func New(rows, cols int, cells []float64) (*Grid, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrShapeMismatch, rows, cols)
	}
	if len(cells) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for a %dx%d grid", ErrShapeMismatch, len(cells), rows, cols)
	}
	g := &Grid{rows: rows, cols: cols, cells: make([]float64, len(cells))}
	copy(g.cells, cells)
	return g, nil
}

// FromRows builds a Grid from a 2-D slice whose shape must be exactly
// rows x cols.
func FromRows(rows, cols int, data [][]float64) (*Grid, error) {
	if len(data) != rows {
		return nil, fmt.Errorf("%w: %d rows for a %dx%d grid", ErrShapeMismatch, len(data), rows, cols)
	}
	flat := make([]float64, 0, rows*cols)
	for r, row := range data {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, r, len(row), cols)
		}
		flat = append(flat, row...)
	}
	return New(rows, cols, flat)
}

// Filled returns a rows x cols grid with every cell set to v.
func Filled(rows, cols int, v float64) *Grid {
	g := &Grid{rows: rows, cols: cols, cells: make([]float64, rows*cols)}
	if v != 0 {
		for i := range g.cells {
			g.cells[i] = v
		}
	}
	return g
}

// Zeros returns a rows x cols grid of zeros.
func Zeros(rows, cols int) *Grid {
	return Filled(rows, cols, 0)
}

func (g *Grid) Rows() int { return g.rows }
func (g *Grid) Cols() int { return g.cols }

// Len returns the number of cells, always Rows()*Cols().
func (g *Grid) Len() int { return len(g.cells) }

// SameShape reports whether g and other have identical dimensions.
func (g *Grid) SameShape(other *Grid) bool {
	return other != nil && g.rows == other.rows && g.cols == other.cols
}

// Contains reports whether (row, col) addresses a cell of the grid.
func (g *Grid) Contains(row, col int) bool {
	return row >= 0 && row < g.rows && col >= 0 && col < g.cols
}

// At returns the value at (row, col). It panics when the coordinate is out
// of range, like a slice index.
func (g *Grid) At(row, col int) float64 {
	return g.cells[g.index(row, col)]
}

// Set writes v at (row, col). It is the only mutating operation.
func (g *Grid) Set(row, col int, v float64) {
	g.cells[g.index(row, col)] = v
}

func (g *Grid) index(row, col int) int {
	if !g.Contains(row, col) {
		panic(fmt.Sprintf("grid: cell (%d,%d) outside %dx%d", row, col, g.rows, g.cols))
	}
	return row*g.cols + col
}

// Cells returns a copy of the row-major cell values.
func (g *Grid) Cells() []float64 {
	out := make([]float64, len(g.cells))
	copy(out, g.cells)
	return out
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := &Grid{rows: g.rows, cols: g.cols, cells: make([]float64, len(g.cells))}
	copy(c.cells, g.cells)
	return c
}

// Equal reports whether both grids have the same shape and cell values.
func (g *Grid) Equal(other *Grid) bool {
	return g.SameShape(other) && floats.Equal(g.cells, other.cells)
}

func (g *Grid) String() string {
	var b strings.Builder
	for r := 0; r < g.rows; r++ {
		b.WriteString("[")
		for c := 0; c < g.cols; c++ {
			if c > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%6.2f", g.cells[r*g.cols+c])
		}
		b.WriteString("]\n")
	}
	return b.String()
}
