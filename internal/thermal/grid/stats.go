package grid

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises a grid. The JSON keys are the ones the web UI reads.
type Stats struct {
	Min    float64 `json:"GE_MIN"`
	Max    float64 `json:"GE_MAX"`
	Mean   float64 `json:"GE_AVG"`
	Median float64 `json:"GE_MDN"`
	StdDev float64 `json:"GE_STD"`
}

func (g *Grid) Min() float64  { return floats.Min(g.cells) }
func (g *Grid) Max() float64  { return floats.Max(g.cells) }
func (g *Grid) Mean() float64 { return stat.Mean(g.cells, nil) }

// Median returns the middle cell value, or the mean of the two middle values
// when the grid has an even number of cells.
func (g *Grid) Median() float64 {
	sorted := g.Cells()
	sort.Float64s(sorted)
	return medianOfSorted(sorted)
}

// StdDev returns the population standard deviation of the cells.
func (g *Grid) StdDev() float64 { return stat.PopStdDev(g.cells, nil) }

// Stats computes all summary statistics in one call.
func (g *Grid) Stats() Stats {
	return Stats{
		Min:    g.Min(),
		Max:    g.Max(),
		Mean:   g.Mean(),
		Median: g.Median(),
		StdDev: g.StdDev(),
	}
}

func medianOfSorted(v []float64) float64 {
	n := len(v)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}
