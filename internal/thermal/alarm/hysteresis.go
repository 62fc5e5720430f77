package alarm

import (
	"encoding/json"
	"fmt"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/monitoring"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/detect"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

const (
	DefaultTriggerThreshold = 1
	DefaultCommand          = `{"LR":7}`
)

var logf = monitoring.Component("alarm")

// ValidateCommand checks that cmd is a JSON object. The payload is otherwise
// opaque and is forwarded to the actuator untouched.
func ValidateCommand(cmd json.RawMessage) error {
	var v map[string]json.RawMessage
	if err := json.Unmarshal(cmd, &v); err != nil {
		return fmt.Errorf("alarm command must be a JSON object: %w", err)
	}
	return nil
}

// Trigger receives the alarm command and the object that fired the alarm.
type Trigger func(command json.RawMessage, obj *detect.Object)

// Hysteresis counts object arrivals inside the mask and fires once the count
// reaches the threshold. After firing it stays quiet until Reset.
type Hysteresis struct {
	mask      *Mask
	threshold int
	command   json.RawMessage

	counter   int
	triggered bool
}

// NewHysteresis returns a layer watching mask. threshold must be at least 1.
func NewHysteresis(mask *Mask, threshold int, command json.RawMessage) (*Hysteresis, error) {
	if mask == nil {
		return nil, fmt.Errorf("alarm mask is required")
	}
	if threshold < 1 {
		return nil, fmt.Errorf("alarm trigger threshold must be >= 1, got %d", threshold)
	}
	if err := ValidateCommand(command); err != nil {
		return nil, err
	}
	return &Hysteresis{
		mask:      mask,
		threshold: threshold,
		command:   append(json.RawMessage(nil), command...),
	}, nil
}

func (h *Hysteresis) Threshold() int           { return h.threshold }
func (h *Hysteresis) Counter() int             { return h.counter }
func (h *Hysteresis) Triggered() bool          { return h.triggered }
func (h *Hysteresis) Command() json.RawMessage { return append(json.RawMessage(nil), h.command...) }

// ObjectIn records one arrival and reports whether it fired the alarm.
func (h *Hysteresis) ObjectIn(obj grid.PointSet) bool {
	if h.triggered || !h.mask.Covers(obj) {
		return false
	}
	h.counter++
	if h.counter < h.threshold {
		return false
	}
	h.counter = 0
	h.triggered = true
	logf("alarm fired after %d arrivals in zone", h.threshold)
	return true
}

// Reset clears the counter and re-arms the alarm.
func (h *Hysteresis) Reset() {
	h.counter = 0
	h.triggered = false
}

// Handler adapts the layer to detection events. fire is called with the
// command whenever an OBJECT_IN fires the alarm.
func (h *Hysteresis) Handler(fire Trigger) detect.Handler {
	return func(obj *detect.Object, ev detect.Event, _ *grid.Grid) {
		if ev != detect.ObjectIn {
			return
		}
		if h.ObjectIn(obj) && fire != nil {
			fire(h.Command(), obj)
		}
	}
}
