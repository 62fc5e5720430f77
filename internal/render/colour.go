// Package render draws thermal grids: per-pixel colour ramps for the web UI
// and terminal viewer, PNG images for the HTTP API and an interactive
// echarts page for debugging.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// Default display range in degrees Celsius.
const (
	DefaultRampMin = 16.0
	DefaultRampMax = 32.0
)

var (
	coldStop = mustHex("#1e3cff")
	warmStop = mustHex("#ffd21e")
	hotStop  = mustHex("#ff1e1e")
)

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Ramp maps temperatures onto a blue-yellow-red scale blended in HCL.
// Values outside [Min, Max] are clamped.
type Ramp struct {
	Min, Max float64
}

func DefaultRamp() Ramp { return Ramp{Min: DefaultRampMin, Max: DefaultRampMax} }

// Validate rejects empty or inverted ranges.
func (r Ramp) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Max <= r.Min {
		return fmt.Errorf("colour ramp max must be greater than min, got [%g, %g]", r.Min, r.Max)
	}
	return nil
}

// Fraction returns v's position in the range, clamped to [0, 1].
func (r Ramp) Fraction(v float64) float64 {
	if r.Max <= r.Min {
		return 0
	}
	f := (v - r.Min) / (r.Max - r.Min)
	return math.Max(0, math.Min(1, f))
}

// Colour returns the ramp colour for v.
func (r Ramp) Colour(v float64) colorful.Color {
	f := r.Fraction(v)
	if f < 0.5 {
		return coldStop.BlendHcl(warmStop, f*2).Clamped()
	}
	return warmStop.BlendHcl(hotStop, (f-0.5)*2).Clamped()
}

// Hex returns the "#rrggbb" ramp colour for v.
func (r Ramp) Hex(v float64) string { return r.Colour(v).Hex() }

// Hexes colours every cell of g in row-major order.
func (r Ramp) Hexes(g *grid.Grid) []string {
	cells := g.Cells()
	out := make([]string, len(cells))
	for i, v := range cells {
		out[i] = r.Hex(v)
	}
	return out
}

// Image paints g one pixel per cell.
func (r Ramp) Image(g *grid.Grid) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, g.Cols(), g.Rows()))
	for row := 0; row < g.Rows(); row++ {
		for col := 0; col < g.Cols(); col++ {
			cr, cg, cb := r.Colour(g.At(row, col)).RGB255()
			img.SetNRGBA(col, row, color.NRGBA{R: cr, G: cg, B: cb, A: 0xff})
		}
	}
	return img
}
