package device

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/timeutil"
)

// SyntheticOptions shapes the generated scene.
type SyntheticOptions struct {
	Rows, Cols int
	Ambient    float64       // scene temperature, degC
	Noise      float64       // uniform noise amplitude, degC
	Blob       float64       // warm object excess over ambient, degC
	Interval   time.Duration // time between readings
	// QuietFrames readings without an object are sent first so the
	// background can calibrate.
	QuietFrames int
	// Period is the length of one walk cycle in frames; the object is in
	// view for the first half of each cycle.
	Period int
	Seed   uint64
}

// DefaultSyntheticOptions matches the GridEye at roughly 10 readings/s.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Rows:        GridRows,
		Cols:        GridCols,
		Ambient:     21,
		Noise:       0.25,
		Blob:        8,
		Interval:    100 * time.Millisecond,
		QuietFrames: 20,
		Period:      40,
		Seed:        1,
	}
}

// SyntheticPort stands in for the board in demo mode. Reads yield one framed
// reading per interval with a warm blob walking across the grid; writes are
// captured so tests can inspect the commands sent.
type SyntheticPort struct {
	opts  SyntheticOptions
	clock timeutil.Clock
	rng   *rand.Rand

	mu      sync.Mutex
	frame   int
	pending bytes.Buffer
	written [][]byte
	closed  bool
}

var errPortClosed = errors.New("synthetic port closed")

// NewSyntheticPort returns a port generating readings with opts. A nil clock
// uses the real clock.
func NewSyntheticPort(opts SyntheticOptions, clock timeutil.Clock) *SyntheticPort {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.Period < 2 {
		opts.Period = 2
	}
	return &SyntheticPort{
		opts:  opts,
		clock: clock,
		rng:   rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

// Frame returns the temperatures of reading n without advancing the port.
func (p *SyntheticPort) Frame(n int) []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scene(n)
}

func (p *SyntheticPort) scene(n int) []float64 {
	o := p.opts
	cells := make([]float64, o.Rows*o.Cols)
	for i := range cells {
		cells[i] = o.Ambient + (p.rng.Float64()*2-1)*o.Noise
	}

	if n < o.QuietFrames {
		return cells
	}
	step := (n - o.QuietFrames) % o.Period
	if step >= o.Period/2 {
		return cells
	}

	// 2x2 blob crossing the middle rows left to right.
	col := step * o.Cols / (o.Period / 2)
	row := o.Rows/2 - 1
	for r := row; r < row+2 && r < o.Rows; r++ {
		for c := col; c < col+2 && c < o.Cols; c++ {
			if r >= 0 {
				cells[r*o.Cols+c] += o.Blob
			}
		}
	}
	return cells
}

// Read blocks for one interval whenever the previous reading has been fully
// consumed, then serves the next one.
func (p *SyntheticPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	if p.pending.Len() == 0 {
		p.mu.Unlock()
		p.clock.Sleep(p.opts.Interval)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, errPortClosed
		}
		p.pending.Write(EncodeRaw(p.scene(p.frame)))
		p.frame++
	}
	defer p.mu.Unlock()
	return p.pending.Read(b)
}

func (p *SyntheticPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	p.written = append(p.written, append([]byte(nil), b...))
	return len(b), nil
}

// Written returns a copy of every command written so far.
func (p *SyntheticPort) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

func (p *SyntheticPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
