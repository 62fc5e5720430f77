package device

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Relays is the board state that the node owns and echoes on every reading.
// Bit 0 of each field is relay 1.
type Relays struct {
	NonLatching uint8 `json:"nlr"`
	Latching    uint8 `json:"lr"`
	Sensor      bool  `json:"ge"`
}

// DefaultRelays has every relay off and the sensor enabled.
func DefaultRelays() Relays {
	return Relays{Sensor: true}
}

// SetNonLatching switches relay 1..8. Out-of-range relays are ignored and
// reported with false.
func (r *Relays) SetNonLatching(relay int, on bool) bool {
	if relay < 1 || relay > NonLatchingRelays {
		return false
	}
	r.NonLatching = setBit(r.NonLatching, relay-1, on)
	return true
}

// SetLatching switches relay 1..3.
func (r *Relays) SetLatching(relay int, on bool) bool {
	if relay < 1 || relay > LatchingRelays {
		return false
	}
	r.Latching = setBit(r.Latching, relay-1, on)
	return true
}

func (r Relays) NonLatchingOn(relay int) bool {
	return relay >= 1 && relay <= NonLatchingRelays && r.NonLatching&(1<<(relay-1)) != 0
}

func (r Relays) LatchingOn(relay int) bool {
	return relay >= 1 && relay <= LatchingRelays && r.Latching&(1<<(relay-1)) != 0
}

func setBit(v uint8, bit int, on bool) uint8 {
	if on {
		return v | 1<<bit
	}
	return v &^ (1 << bit)
}

// StatusCommand encodes the full board state. The firmware parser expects
// single-quoted keys.
func (r Relays) StatusCommand() []byte {
	ge := 0
	if r.Sensor {
		ge = 1
	}
	return []byte(fmt.Sprintf("{'%s':%d,'%s':%d,'%s':%d}",
		KeyNonLatching, r.NonLatching, KeyLatching, r.Latching, KeyTemperatures, ge))
}

func (r Relays) String() string { return string(r.StatusCommand()) }

// RelayCommand turns an alarm payload into a board command carrying only its
// NLR and LR keys. Other keys are dropped; the stored relay state is not
// touched, so a later StatusCommand restores the pre-alarm outputs.
func RelayCommand(payload json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}

	var parts []string
	for _, k := range []struct {
		key string
		max int
	}{
		{KeyNonLatching, 1<<NonLatchingRelays - 1},
		{KeyLatching, 1<<LatchingRelays - 1},
	} {
		raw, ok := fields[k.key]
		if !ok {
			continue
		}
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%s: %w", k.key, err)
		}
		if v < 0 || v > k.max {
			return nil, fmt.Errorf("%w: %s=%d (max %d)", ErrRelayRange, k.key, v, k.max)
		}
		parts = append(parts, fmt.Sprintf("'%s':%d", k.key, v))
	}
	if len(parts) == 0 {
		return nil, ErrNoRelayKeys
	}
	return []byte("{" + strings.Join(parts, ",") + "}"), nil
}

// ParseStatus maps the UI's "ON"/"OFF" (any case) to a bool.
func ParseStatus(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case StatusOn:
		return true, nil
	case StatusOff:
		return false, nil
	default:
		return false, fmt.Errorf("status must be %s or %s, got %q", StatusOn, StatusOff, s)
	}
}

// BoardCommand prepares a payload for the serial line. JSON relay payloads
// such as the alarm command are rewritten with RelayCommand; anything else,
// including StatusCommand output, is sent unchanged.
func BoardCommand(payload []byte) []byte {
	if !json.Valid(payload) {
		return payload
	}
	cmd, err := RelayCommand(payload)
	if err != nil {
		return payload
	}
	return cmd
}
