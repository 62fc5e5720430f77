package detect

import (
	"fmt"
	"strconv"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// Detector groups hot cells into objects.
type Detector struct {
	threshold Threshold
}

// NewDetector validates th and returns a Detector using it.
func NewDetector(th Threshold) (*Detector, error) {
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("invalid threshold: %w", err)
	}
	return &Detector{threshold: th}, nil
}

func (d *Detector) Threshold() Threshold { return d.threshold }

// Detect scans frame in raster order and flood-fills every unvisited hot
// cell into a new object, 8-connected and clamped at the edges. Objects are
// labelled "1", "2", ... in discovery order. background may be nil, in which
// case only the absolute test can pass.
func (d *Detector) Detect(frame, background *grid.Grid) ([]*Object, error) {
	if background != nil && !frame.SameShape(background) {
		return nil, fmt.Errorf("detect: %w: frame %dx%d, background %dx%d",
			grid.ErrShapeMismatch, frame.Rows(), frame.Cols(), background.Rows(), background.Cols())
	}

	work := frame.Clone()
	var objects []*Object
	label := 1

	for r := 0; r < work.Rows(); r++ {
		for c := 0; c < work.Cols(); c++ {
			if !d.threshold.PassesAt(work, background, r, c) {
				continue
			}
			obj := NewObject(strconv.Itoa(label))
			d.fill(obj, frame, work, background, r, c)
			objects = append(objects, obj)
			label++
		}
	}
	return objects, nil
}

// fill grows obj from (row, col) using a work-list. Cells are marked with
// SkipTemperature in work as soon as they are queued, so no cell is queued
// twice and none can seed a later object.
func (d *Detector) fill(obj *Object, frame, work, background *grid.Grid, row, col int) {
	work.Set(row, col, SkipTemperature)
	queue := [][2]int{{row, col}}

	for i := 0; i < len(queue); i++ {
		r, c := queue[i][0], queue[i][1]
		obj.AddPoint(grid.Point{X: r, Y: c, Value: frame.At(r, c)})

		for nr := max(0, r-1); nr <= min(work.Rows()-1, r+1); nr++ {
			for nc := max(0, c-1); nc <= min(work.Cols()-1, c+1); nc++ {
				if !d.threshold.PassesAt(work, background, nr, nc) {
					continue
				}
				work.Set(nr, nc, SkipTemperature)
				queue = append(queue, [2]int{nr, nc})
			}
		}
	}
}
