package detect

import (
	"fmt"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// Event is the kind of change reported for an object.
type Event int

const (
	ObjectIn Event = iota
	ObjectOut
)

func (e Event) String() string {
	switch e {
	case ObjectIn:
		return "OBJECT_IN"
	case ObjectOut:
		return "OBJECT_OUT"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

func (e Event) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// Handler receives one event for one object together with the frame that
// produced it.
type Handler func(obj *Object, ev Event, frame *grid.Grid)

// Diff is the outcome of comparing two detection sets.
type Diff struct {
	In  []*Object
	Out []*Object
}

func (d Diff) Empty() bool { return len(d.In) == 0 && len(d.Out) == 0 }

// Compare returns the objects of next that match nothing in prev (In) and the
// objects of prev that match nothing in next (Out). Matching is a pairwise
// pass using Object.Matches, with exact location hashes as a fast path.
func Compare(prev, next []*Object, tolerance float64) Diff {
	prevByHash := indexByHash(prev)
	nextByHash := indexByHash(next)

	var d Diff
	for _, n := range next {
		if !matchAny(n, prev, prevByHash, tolerance) {
			d.In = append(d.In, n)
		}
	}
	for _, p := range prev {
		if !matchAny(p, next, nextByHash, tolerance) {
			d.Out = append(d.Out, p)
		}
	}
	return d
}

func indexByHash(objs []*Object) map[uint64][]*Object {
	idx := make(map[uint64][]*Object, len(objs))
	for _, o := range objs {
		h := o.Hash()
		idx[h] = append(idx[h], o)
	}
	return idx
}

func matchAny(o *Object, candidates []*Object, byHash map[uint64][]*Object, tolerance float64) bool {
	for _, c := range byHash[o.Hash()] {
		if o.SameLocations(c) {
			return true
		}
	}
	for _, c := range candidates {
		if o.Distance(c) <= tolerance {
			return true
		}
	}
	return false
}

// Differencer remembers the previous detection set and dispatches events for
// every change. It is driven from a single goroutine; handlers run
// synchronously in registration order and a panicking handler propagates.
type Differencer struct {
	tolerance float64
	previous  []*Object
	handlers  map[Event][]Handler
}

// NewDifferencer returns a Differencer matching objects within tolerance.
func NewDifferencer(tolerance float64) (*Differencer, error) {
	if tolerance < 0 {
		return nil, fmt.Errorf("adjacency tolerance must be non-negative, got %f", tolerance)
	}
	return &Differencer{
		tolerance: tolerance,
		handlers:  make(map[Event][]Handler),
	}, nil
}

// On registers h for ev.
func (d *Differencer) On(ev Event, h Handler) {
	d.handlers[ev] = append(d.handlers[ev], h)
}

// SetTolerance changes the adjacency tolerance used from the next Update.
func (d *Differencer) SetTolerance(tolerance float64) error {
	if tolerance < 0 {
		return fmt.Errorf("adjacency tolerance must be non-negative, got %f", tolerance)
	}
	d.tolerance = tolerance
	return nil
}

// Previous returns the last detection set.
func (d *Differencer) Previous() []*Object {
	return append([]*Object(nil), d.previous...)
}

// Update compares next with the previous set, dispatches OBJECT_IN for every
// new object and OBJECT_OUT for every vanished one, then keeps next as the
// previous set.
func (d *Differencer) Update(next []*Object, frame *grid.Grid) Diff {
	diff := Compare(d.previous, next, d.tolerance)
	d.previous = append([]*Object(nil), next...)

	for _, obj := range diff.In {
		d.dispatch(obj, ObjectIn, frame)
	}
	for _, obj := range diff.Out {
		d.dispatch(obj, ObjectOut, frame)
	}
	return diff
}

// Reset forgets the previous detection set without dispatching anything.
func (d *Differencer) Reset() {
	d.previous = nil
}

func (d *Differencer) dispatch(obj *Object, ev Event, frame *grid.Grid) {
	for _, h := range d.handlers[ev] {
		h(obj, ev, frame)
	}
}
