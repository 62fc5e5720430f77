package grid

import "math"

// Point is a cell location with the temperature observed there. X is the row
// and Y the column, matching the device's addressing. Value is payload and
// takes no part in identity.
type Point struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Value float64 `json:"value"`
}

// SameLocation reports whether p and o address the same cell.
func (p Point) SameLocation(o Point) bool {
	return p.X == o.X && p.Y == o.Y
}

// Distance returns the Euclidean distance between the two cell locations.
func (p Point) Distance(o Point) float64 {
	return math.Hypot(float64(p.X-o.X), float64(p.Y-o.Y))
}

// PointSet is anything that can enumerate the cells it occupies, such as a
// detected object.
type PointSet interface {
	Points() []Point
}

// BinaryMask returns a grid of the same shape as g holding 1 for every cell
// occupied by one of sets and 0 elsewhere. Points outside the grid are
// ignored.
func (g *Grid) BinaryMask(sets ...PointSet) *Grid {
	mask := Zeros(g.rows, g.cols)
	for _, s := range sets {
		for _, p := range s.Points() {
			if mask.Contains(p.X, p.Y) {
				mask.Set(p.X, p.Y, 1)
			}
		}
	}
	return mask
}
