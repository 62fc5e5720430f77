package render

import (
	"fmt"
	"io"

	"github.com/disintegration/imaging"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// MaxSnapshotSize bounds the edge length of snapshot images.
const MaxSnapshotSize = 1024

// Snapshot writes g as a PNG upscaled to width x height. Nearest-neighbour
// keeps the sensor cells visible; smooth switches to Lanczos.
func (r Ramp) Snapshot(w io.Writer, g *grid.Grid, width, height int, smooth bool) error {
	if width <= 0 || height <= 0 || width > MaxSnapshotSize || height > MaxSnapshotSize {
		return fmt.Errorf("snapshot size must be in [1, %d], got %dx%d", MaxSnapshotSize, width, height)
	}
	filter := imaging.NearestNeighbor
	if smooth {
		filter = imaging.Lanczos
	}
	img := imaging.Resize(r.Image(g), width, height, filter)
	return imaging.Encode(w, img, imaging.PNG)
}

// gridXYZ adapts a Grid to plotter.GridXYZ. Row 0 is drawn at the bottom.
type gridXYZ struct {
	g *grid.Grid
}

func (x gridXYZ) Dims() (c, r int)   { return x.g.Cols(), x.g.Rows() }
func (x gridXYZ) Z(c, r int) float64 { return x.g.At(r, c) }
func (x gridXYZ) X(c int) float64    { return float64(c) }
func (x gridXYZ) Y(r int) float64    { return float64(r) }

// HeatmapPlot builds a gonum heat map of g with the given title.
func HeatmapPlot(g *grid.Grid, title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Column"
	p.Y.Label.Text = "Row"

	hm := plotter.NewHeatMap(gridXYZ{g: g}, palette.Heat(32, 1))
	p.Add(hm)
	return p
}

// HeatmapPNG writes the heat map of g as a size x size PNG. The grid needs at
// least two rows and two columns.
func HeatmapPNG(w io.Writer, g *grid.Grid, title string, size vg.Length) error {
	if g.Rows() < 2 || g.Cols() < 2 {
		return fmt.Errorf("render heatmap: grid %dx%d too small", g.Rows(), g.Cols())
	}
	wt, err := HeatmapPlot(g, title).WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("render heatmap: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
