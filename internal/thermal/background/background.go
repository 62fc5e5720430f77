// Package background learns the steady-state thermal reference of the scene.
//
// The model has two phases. While calibrating it folds incoming frames into a
// running reference by pairwise averaging, as long as each new frame stays
// correlated with what has been learnt so far; a weakly correlated frame means
// the scene changed and calibration restarts from that frame. Once enough
// samples have been accepted the reference freezes and is used only as the
// subtraction baseline for differential detection.
package background

import (
	"fmt"
	"math"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/monitoring"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

var logf = monitoring.Component("background")

// Phase is the state of the background model.
type Phase int

const (
	Calibrating Phase = iota
	Steady
)

func (p Phase) String() string {
	switch p {
	case Calibrating:
		return "CALIBRATING"
	case Steady:
		return "STEADY"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

const (
	DefaultWindowSize       = 10
	DefaultResetCorrelation = 0.5
)

// Config controls calibration.
type Config struct {
	// WindowSize is the number of frames consumed by calibration.
	WindowSize int
	// ResetCorrelation is the minimum |Pearson r| between the reference and
	// a new frame for the frame to be folded in.
	ResetCorrelation float64
}

// DefaultConfig returns the stock calibration settings.
func DefaultConfig() Config {
	return Config{WindowSize: DefaultWindowSize, ResetCorrelation: DefaultResetCorrelation}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("WindowSize must be at least 1, got %d", c.WindowSize)
	}
	if c.ResetCorrelation < 0 || c.ResetCorrelation > 1 {
		return fmt.Errorf("ResetCorrelation must be in [0, 1], got %f", c.ResetCorrelation)
	}
	return nil
}

// State is a read-only snapshot of the model for reporting.
type State struct {
	Phase      Phase `json:"phase"`
	Samples    int   `json:"samples"`
	WindowSize int   `json:"window_size"`
}

// Model is the background learner. It is not safe for concurrent use; the
// processor owns it and drives it from a single goroutine.
type Model struct {
	cfg       Config
	reference *grid.Grid
	samples   int
	phase     Phase
}

// NewModel returns a calibrating model.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg, phase: Calibrating}, nil
}

// Update feeds one frame to the model and returns the resulting phase. Frames
// are ignored once the model is steady.
func (m *Model) Update(frame *grid.Grid) (Phase, error) {
	if m.phase == Steady {
		return m.phase, nil
	}

	switch {
	case m.samples == 0:
		m.reference = frame.Clone()
		m.samples = 1

	case m.samples < m.cfg.WindowSize-1:
		corr, err := grid.Correlation(m.reference, frame)
		if err != nil {
			return m.phase, fmt.Errorf("background update: %w", err)
		}
		if math.Abs(corr) >= m.cfg.ResetCorrelation {
			avg, err := m.reference.Average(frame)
			if err != nil {
				return m.phase, fmt.Errorf("background update: %w", err)
			}
			m.reference = avg
			m.samples++
		} else {
			logf("calibration restarted after %d samples: correlation %.3f below %.3f",
				m.samples, corr, m.cfg.ResetCorrelation)
			m.reference = frame.Clone()
			m.samples = 1
		}

	default:
		m.phase = Steady
		logf("background steady after %d samples", m.samples)
	}
	return m.phase, nil
}

// Recalibrate discards the phase and sample count so the next frames rebuild
// the reference. The old reference stays readable until replaced.
func (m *Model) Recalibrate() {
	m.phase = Calibrating
	m.samples = 0
	logf("recalibration requested")
}

// Reconfigure swaps the calibration settings. A model that is still
// calibrating restarts; a steady model keeps its reference.
func (m *Model) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg
	if m.phase == Calibrating {
		m.samples = 0
	}
	return nil
}

func (m *Model) Phase() Phase   { return m.phase }
func (m *Model) Samples() int   { return m.samples }
func (m *Model) Config() Config { return m.cfg }

// Known reports whether a reference has been captured at all.
func (m *Model) Known() bool { return m.reference != nil }

// Reference returns a copy of the current reference, or nil before the first
// frame.
func (m *Model) Reference() *grid.Grid {
	if m.reference == nil {
		return nil
	}
	return m.reference.Clone()
}

// State returns a snapshot for reporting.
func (m *Model) State() State {
	return State{Phase: m.phase, Samples: m.samples, WindowSize: m.cfg.WindowSize}
}
