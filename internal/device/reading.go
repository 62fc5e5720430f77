package device

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/units"
)

// Reading is one decoded board message. Temperatures is empty when the
// sensor is disabled or the message carried no GE array.
type Reading struct {
	Temperatures []float64
	// Fields holds every other key the board sent, undecoded.
	Fields map[string]json.RawMessage
}

// DecodeReading parses a framed board message and converts the raw GE values
// to degrees Celsius.
func DecodeReading(payload []byte) (Reading, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return Reading{}, ErrNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Reading{}, fmt.Errorf("decode reading: %w", err)
	}

	r := Reading{Fields: fields}
	if raw, ok := fields[KeyTemperatures]; ok {
		delete(fields, KeyTemperatures)
		var values []float64
		if err := json.Unmarshal(raw, &values); err != nil {
			return Reading{}, fmt.Errorf("decode reading %s: %w", KeyTemperatures, err)
		}
		r.Temperatures = make([]float64, len(values))
		for i, v := range values {
			r.Temperatures[i] = units.RawToCelsius(v)
		}
	}
	return r, nil
}

// EncodeRaw builds a board message from temperatures in degrees Celsius. It
// is the inverse of DecodeReading and is used by the synthetic port and the
// replay tooling.
func EncodeRaw(temperatures []float64) []byte {
	raw := make([]int, len(temperatures))
	for i, t := range temperatures {
		raw[i] = units.CelsiusToRaw(t)
	}
	b, _ := json.Marshal(map[string][]int{KeyTemperatures: raw})
	return b
}
