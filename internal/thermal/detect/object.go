package detect

import (
	"encoding/json"
	"hash/fnv"
	"sort"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

const (
	// DefaultAdjacencyTolerance is the largest minimum point distance at
	// which two objects from consecutive frames are treated as the same
	// physical object.
	DefaultAdjacencyTolerance = 1.0

	// NoDistance is returned by Distance when either object has no points.
	NoDistance = 999.0
)

// Object is a group of 8-connected hot cells found in one detection pass.
type Object struct {
	Label  string
	points []grid.Point
}

// NewObject returns an object owning a fresh copy of points.
func NewObject(label string, points ...grid.Point) *Object {
	o := &Object{Label: label, points: make([]grid.Point, 0, len(points))}
	o.points = append(o.points, points...)
	return o
}

// AddPoint appends p to the object.
func (o *Object) AddPoint(p grid.Point) {
	o.points = append(o.points, p)
}

// Points returns a copy of the object's cells.
func (o *Object) Points() []grid.Point {
	out := make([]grid.Point, len(o.points))
	copy(out, o.points)
	return out
}

func (o *Object) Len() int { return len(o.points) }

// Contains reports whether the object occupies (x, y).
func (o *Object) Contains(x, y int) bool {
	for _, p := range o.points {
		if p.X == x && p.Y == y {
			return true
		}
	}
	return false
}

// locations returns the occupied cells in a canonical order.
func (o *Object) locations() [][2]int {
	locs := make([][2]int, len(o.points))
	for i, p := range o.points {
		locs[i] = [2]int{p.X, p.Y}
	}
	sort.Slice(locs, func(i, j int) bool {
		if locs[i][0] != locs[j][0] {
			return locs[i][0] < locs[j][0]
		}
		return locs[i][1] < locs[j][1]
	})
	return locs
}

// Hash is a content hash of the occupied locations. It ignores point order
// and temperatures.
func (o *Object) Hash() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, l := range o.locations() {
		putInt32(buf[:4], l[0])
		putInt32(buf[4:], l[1])
		h.Write(buf[:])
	}
	return h.Sum64()
}

func putInt32(b []byte, v int) {
	u := uint32(int32(v))
	b[0], b[1], b[2], b[3] = byte(u>>24), byte(u>>16), byte(u>>8), byte(u)
}

// SameLocations reports whether both objects occupy exactly the same cells.
func (o *Object) SameLocations(other *Object) bool {
	a, b := o.locations(), other.locations()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Distance is the minimum Euclidean distance between any point of o and any
// point of other, or NoDistance when either is empty.
func (o *Object) Distance(other *Object) float64 {
	d := NoDistance
	for _, a := range o.points {
		for _, b := range other.points {
			if cur := a.Distance(b); cur < d {
				d = cur
			}
		}
	}
	return d
}

// Matches reports whether o and other are the same physical object: either
// they occupy the same cells, or they come within tolerance of each other.
func (o *Object) Matches(other *Object, tolerance float64) bool {
	if o.SameLocations(other) {
		return true
	}
	return o.Distance(other) <= tolerance
}

// Centroid returns the mean row and column of the object's points.
func (o *Object) Centroid() (x, y float64) {
	if len(o.points) == 0 {
		return 0, 0
	}
	for _, p := range o.points {
		x += float64(p.X)
		y += float64(p.Y)
	}
	n := float64(len(o.points))
	return x / n, y / n
}

// PeakTemperature returns the hottest point value.
func (o *Object) PeakTemperature() float64 {
	peak := SkipTemperature
	for _, p := range o.points {
		if p.Value > peak {
			peak = p.Value
		}
	}
	return peak
}

type objectJSON struct {
	Label  string       `json:"label"`
	Points []grid.Point `json:"points"`
}

func (o *Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(objectJSON{Label: o.Label, Points: o.points})
}

func (o *Object) UnmarshalJSON(b []byte) error {
	var v objectJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Label = v.Label
	o.points = append([]grid.Point(nil), v.Points...)
	return nil
}
