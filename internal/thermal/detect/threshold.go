// Package detect turns a thermal frame into a set of detected objects and
// reports which objects appeared or disappeared between frames.
//
// The pipeline is: Threshold decides per cell whether it is "hot", Detector
// groups hot cells into 8-connected objects, and Differencer compares each
// detection set with the previous one and dispatches OBJECT_IN/OBJECT_OUT
// events to registered handlers.
package detect

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// SkipTemperature marks a cell that has already been assigned to an object
// during a detection pass. It never passes the threshold.
const SkipTemperature = -999.0

// Mode selects how the absolute and differential tests are combined. The
// numeric values are the ones used on the wire by the web UI.
type Mode int

const (
	ModeAbsolute     Mode = 1
	ModeDifferential Mode = 2
	ModeBoth         Mode = 3
	ModeAny          Mode = 4
)

// ErrUnknownMode is returned for a mode outside ModeAbsolute..ModeAny.
var ErrUnknownMode = errors.New("unknown detection mode")

var modeNames = map[Mode]string{
	ModeAbsolute:     "ABSOLUTE",
	ModeDifferential: "DIFFERENTIAL",
	ModeBoth:         "BOTH",
	ModeAny:          "ANY",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode accepts a mode name (case-insensitive) or its numeric value.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if m := Mode(n); m.Valid() {
			return m, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrUnknownMode, n)
	}
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

const (
	DefaultAbsoluteThreshold     = 24.0
	DefaultDifferentialThreshold = 2.0

	// Limits for thresholds, in degrees Celsius. The GridEye measures
	// 0..80 degC; anything far outside that can never trigger.
	MinAbsoluteThreshold     = -20.0
	MaxAbsoluteThreshold     = 100.0
	MaxDifferentialThreshold = 100.0
)

// Threshold is the per-cell hot/cold decision.
type Threshold struct {
	Mode         Mode
	Absolute     float64
	Differential float64
}

// DefaultThreshold returns ANY mode with the stock thresholds.
func DefaultThreshold() Threshold {
	return Threshold{
		Mode:         ModeAny,
		Absolute:     DefaultAbsoluteThreshold,
		Differential: DefaultDifferentialThreshold,
	}
}

// Validate checks the mode and the threshold ranges.
func (t Threshold) Validate() error {
	if !t.Mode.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(t.Mode))
	}
	if math.IsNaN(t.Absolute) || t.Absolute < MinAbsoluteThreshold || t.Absolute > MaxAbsoluteThreshold {
		return fmt.Errorf("absolute threshold must be in [%g, %g], got %g", MinAbsoluteThreshold, MaxAbsoluteThreshold, t.Absolute)
	}
	if math.IsNaN(t.Differential) || t.Differential <= 0 || t.Differential > MaxDifferentialThreshold {
		return fmt.Errorf("differential threshold must be in (0, %g], got %g", MaxDifferentialThreshold, t.Differential)
	}
	return nil
}

// Passes decides a single cell. background is ignored unless backgroundKnown
// is set; without it the differential test always fails.
func (t Threshold) Passes(temperature, background float64, backgroundKnown bool) bool {
	if temperature == SkipTemperature {
		return false
	}
	abs := temperature >= t.Absolute
	diff := backgroundKnown && temperature-background >= t.Differential

	switch t.Mode {
	case ModeAbsolute:
		return abs
	case ModeDifferential:
		return diff
	case ModeBoth:
		return abs && diff
	default:
		return abs || diff
	}
}

// PassesAt evaluates the cell at (row, col) of frame against the matching
// cell of background, which may be nil.
func (t Threshold) PassesAt(frame, background *grid.Grid, row, col int) bool {
	if background == nil {
		return t.Passes(frame.At(row, col), 0, false)
	}
	return t.Passes(frame.At(row, col), background.At(row, col), true)
}
