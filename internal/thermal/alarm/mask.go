// Package alarm holds the alarm zone mask and the hysteresis counter that
// turns repeated intrusions into a single alarm command.
package alarm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// ErrInvalidZoneCoordinate is returned for a cell outside the mask.
var ErrInvalidZoneCoordinate = errors.New("invalid zone coordinate")

// Cell addresses one mask cell, 0-based, X row and Y column.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Mask marks the cells that raise the alarm when an object enters them.
// It is not safe for concurrent use; the processor owns it.
type Mask struct {
	rows, cols int
	cells      []bool
}

// NewMask returns an empty rows x cols mask.
func NewMask(rows, cols int) (*Mask, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("mask dimensions must be positive, got %dx%d", rows, cols)
	}
	return &Mask{rows: rows, cols: cols, cells: make([]bool, rows*cols)}, nil
}

func (m *Mask) Rows() int { return m.rows }
func (m *Mask) Cols() int { return m.cols }

func (m *Mask) check(x, y int) error {
	if x < 0 || x >= m.rows || y < 0 || y >= m.cols {
		return fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrInvalidZoneCoordinate, x, y, m.rows, m.cols)
	}
	return nil
}

// Get reports whether (x, y) is in the zone. Cells outside the mask are not.
func (m *Mask) Get(x, y int) bool {
	if m.check(x, y) != nil {
		return false
	}
	return m.cells[x*m.cols+y]
}

// Set puts (x, y) in or out of the zone.
func (m *Mask) Set(x, y int, on bool) error {
	if err := m.check(x, y); err != nil {
		return err
	}
	m.cells[x*m.cols+y] = on
	return nil
}

// Toggle flips (x, y) and returns its new state.
func (m *Mask) Toggle(x, y int) (bool, error) {
	if err := m.check(x, y); err != nil {
		return false, err
	}
	i := x*m.cols + y
	m.cells[i] = !m.cells[i]
	return m.cells[i], nil
}

// Clear empties the zone.
func (m *Mask) Clear() {
	for i := range m.cells {
		m.cells[i] = false
	}
}

// Apply sets every listed cell. It stops at the first invalid one.
func (m *Mask) Apply(cells []Cell) error {
	for _, c := range cells {
		if err := m.Set(c.X, c.Y, true); err != nil {
			return err
		}
	}
	return nil
}

// Cells returns the cells in the zone in raster order.
func (m *Mask) Cells() []Cell {
	var out []Cell
	for i, on := range m.cells {
		if on {
			out = append(out, Cell{X: i / m.cols, Y: i % m.cols})
		}
	}
	return out
}

// Covers reports whether any point of ps lies inside the zone.
func (m *Mask) Covers(ps grid.PointSet) bool {
	for _, p := range ps.Points() {
		if m.Get(p.X, p.Y) {
			return true
		}
	}
	return false
}

// Grid returns the mask as a 0/1 grid.
func (m *Mask) Grid() *grid.Grid {
	g := grid.Zeros(m.rows, m.cols)
	for _, c := range m.Cells() {
		g.Set(c.X, c.Y, 1)
	}
	return g
}

// ParseCells reads the "(x,y) (x,y)" form used in configuration files.
// Whitespace between and inside pairs is ignored.
func ParseCells(s string) ([]Cell, error) {
	var cells []Cell
	rest := strings.TrimSpace(s)
	for rest != "" {
		if rest[0] != '(' {
			return nil, fmt.Errorf("alarm mask: expected '(' at %q", rest)
		}
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return nil, fmt.Errorf("alarm mask: unterminated pair %q", rest)
		}
		pair := strings.Split(rest[1:end], ",")
		if len(pair) != 2 {
			return nil, fmt.Errorf("alarm mask: expected two coordinates in %q", rest[:end+1])
		}
		x, err := strconv.Atoi(strings.TrimSpace(pair[0]))
		if err != nil {
			return nil, fmt.Errorf("alarm mask: bad x in %q: %w", rest[:end+1], err)
		}
		y, err := strconv.Atoi(strings.TrimSpace(pair[1]))
		if err != nil {
			return nil, fmt.Errorf("alarm mask: bad y in %q: %w", rest[:end+1], err)
		}
		cells = append(cells, Cell{X: x, Y: y})
		rest = strings.TrimSpace(rest[end+1:])
	}
	return cells, nil
}

// FormatCells is the inverse of ParseCells.
func FormatCells(cells []Cell) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
