// Package device speaks the RoadTest relay board protocol: brace-framed JSON
// readings carrying raw GridEye values, and status commands that set the
// non-latching and latching relays and the sensor enable bit.
package device

import "errors"

// Wire keys used by the board and the web UI.
const (
	KeyTemperatures = "GE"
	KeyNonLatching  = "NLR"
	KeyLatching     = "LR"
	KeyStatus       = "STATUS"

	StatusOn  = "ON"
	StatusOff = "OFF"
)

const (
	// GridRows and GridCols are the GridEye resolution.
	GridRows = 8
	GridCols = 8

	DefaultPort     = "/dev/ttyACM0"
	DefaultBaudRate = 115200

	NonLatchingRelays = 8
	LatchingRelays    = 3
)

var (
	ErrNotObject   = errors.New("payload is not a JSON object")
	ErrRelayRange  = errors.New("relay value out of range")
	ErrNoRelayKeys = errors.New("command has no relay keys")
)
