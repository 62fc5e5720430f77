package processor

import (
	"encoding/json"
	"fmt"
)

// Message is one JSON object exchanged with the UI. Outgoing frame records
// and acknowledgements, and incoming commands, share this shape.
type Message map[string]any

// Record and command keys.
const (
	KeySource  = "SRC"
	KeyCommand = "CMD"
	KeyTime    = "TIME"

	KeyGrid        = "GE"
	KeyRows        = "GE_ROWS"
	KeyCols        = "GE_COLS"
	KeyTemperature = "GE_TEMP"
	KeyBinary      = "GE_BINARY"
	KeyMin         = "GE_MIN"
	KeyMax         = "GE_MAX"
	KeyMean        = "GE_AVG"
	KeyMedian      = "GE_MDN"
	KeyStdDev      = "GE_STD"
	KeyColours     = "GE_PIXEL_COLOUR"

	KeyNonLatching = "NLR"
	KeyLatching    = "LR"
	KeyStatus      = "STATUS"

	KeyX          = "X"
	KeyY          = "Y"
	KeyCell       = "CELL"
	KeyAlarm      = "ALARM"
	KeyMode       = "MODE"
	KeyAbsolute   = "THRESHOLD_ABS"
	KeyDiff       = "THRESHOLD_DIFF"
	KeyBackground = "BACKGROUND"
	KeyPhase      = "PHASE"
	KeySamples    = "SAMPLES"
	KeyError      = "ERROR"
)

// Values of SRC, CMD, CELL and ALARM.
const (
	SourceDevice = "DEVICE"
	SourceWeb    = "WEB"
	SourceNode   = "NODE"

	CommandUpdateUI = "UPDATE_UI"

	ValueSet   = "SET"
	ValueReset = "RESET"
)

// Record is the typed view of a frame record, for consumers that decode the
// JSON sent to the UI.
type Record struct {
	Source      string    `json:"SRC"`
	Time        string    `json:"TIME"`
	Grid        []float64 `json:"GE"`
	Rows        int       `json:"GE_ROWS"`
	Cols        int       `json:"GE_COLS"`
	Temperature []float64 `json:"GE_TEMP,omitempty"`
	Binary      []float64 `json:"GE_BINARY,omitempty"`
	Min         float64   `json:"GE_MIN"`
	Max         float64   `json:"GE_MAX"`
	Mean        float64   `json:"GE_AVG"`
	Median      float64   `json:"GE_MDN"`
	StdDev      float64   `json:"GE_STD"`
	Colours     []string  `json:"GE_PIXEL_COLOUR"`
	NonLatching uint8     `json:"NLR"`
	Latching    uint8     `json:"LR"`
	Phase       string    `json:"PHASE"`
	Samples     int       `json:"SAMPLES"`
}

// DecodeRecord parses a frame record. Messages without a grid are rejected.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if len(r.Grid) == 0 {
		return Record{}, fmt.Errorf("decode record: no %s field", KeyGrid)
	}
	return r, nil
}

// IsFrame reports whether m is a frame record.
func (m Message) IsFrame() bool {
	_, ok := m[KeyGrid]
	return ok && m[KeySource] == SourceDevice
}

// Clone returns a shallow copy of m.
func (m Message) Clone() Message {
	out := make(Message, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
