package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/detect"
)

// ErrBadCommand is wrapped by every command validation failure.
var ErrBadCommand = errors.New("bad command")

// HandleCommand applies one UI message. A message may carry several
// commands; each is applied independently and the failures are joined.
//
// Recognised keys:
//
//	CMD: UPDATE_UI         replay mask cells and mode
//	ALARM: RESET           re-arm the alarm
//	BACKGROUND             recalibrate
//	NLR|LR: n, STATUS      switch relay n (1-based)
//	GE, STATUS             enable or disable the sensor
//	X, Y                   toggle mask cell (1-based)
//	MODE, THRESHOLD_ABS, THRESHOLD_DIFF
//
// Any relay or sensor key makes the processor write the full status to the
// board afterwards.
func (p *Processor) HandleCommand(m Message) error {
	var errs []error
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if v, ok := m[KeyCommand]; ok {
		if s, _ := v.(string); s == CommandUpdateUI {
			p.UpdateUI()
		} else {
			fail(fmt.Errorf("%w: unknown %s %v", ErrBadCommand, KeyCommand, v))
		}
	}

	if v, ok := m[KeyAlarm]; ok {
		if s, _ := v.(string); strings.EqualFold(s, ValueReset) {
			p.ResetAlarm()
		} else {
			fail(fmt.Errorf("%w: %s must be %s, got %v", ErrBadCommand, KeyAlarm, ValueReset, v))
		}
	}

	if _, ok := m[KeyBackground]; ok {
		p.Recalibrate()
	}

	fail(p.applyRelays(m))

	_, hasX := m[KeyX]
	_, hasY := m[KeyY]
	if hasX && hasY {
		x, errX := intValue(m[KeyX])
		y, errY := intValue(m[KeyY])
		if err := errors.Join(errX, errY); err != nil {
			fail(fmt.Errorf("%w: cell: %v", ErrBadCommand, err))
		} else if _, err := p.ToggleCell(x-1, y-1); err != nil {
			fail(err)
		}
	}

	fail(p.applyThreshold(m))
	return errors.Join(errs...)
}

func (p *Processor) applyRelays(m Message) error {
	_, nlr := m[KeyNonLatching]
	_, lr := m[KeyLatching]
	_, ge := m[device.KeyTemperatures]
	if !nlr && !lr && !ge {
		return nil
	}
	defer p.WriteStatus()

	s, _ := m[KeyStatus].(string)
	on, err := device.ParseStatus(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}

	relays := p.relays
	var errs []error
	if nlr {
		n, err := intValue(m[KeyNonLatching])
		if err == nil && !relays.SetNonLatching(n, on) {
			err = fmt.Errorf("%w: %d", device.ErrRelayRange, n)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrBadCommand, KeyNonLatching, err))
		}
	}
	if lr {
		n, err := intValue(m[KeyLatching])
		if err == nil && !relays.SetLatching(n, on) {
			err = fmt.Errorf("%w: %d", device.ErrRelayRange, n)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrBadCommand, KeyLatching, err))
		}
	}
	if ge {
		relays.Sensor = on
	}
	if relays != p.relays {
		p.setRelays(relays)
	}
	return errors.Join(errs...)
}

func (p *Processor) applyThreshold(m Message) error {
	mode, hasMode := m[KeyMode]
	abs, hasAbs := m[KeyAbsolute]
	diff, hasDiff := m[KeyDiff]
	if !hasMode && !hasAbs && !hasDiff {
		return nil
	}

	cfg := p.engine.Config()
	if hasMode {
		parsed, err := detect.ParseMode(fmt.Sprint(mode))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadCommand, err)
		}
		cfg.Threshold.Mode = parsed
	}
	if hasAbs {
		v, err := floatValue(abs)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadCommand, KeyAbsolute, err)
		}
		cfg.Threshold.Absolute = v
	}
	if hasDiff {
		v, err := floatValue(diff)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadCommand, KeyDiff, err)
		}
		cfg.Threshold.Differential = v
	}
	if err := p.Reconfigure(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	p.emit(Message{KeyMode: cfg.Threshold.Mode.String()})
	return nil
}

// floatValue accepts the number shapes a decoded JSON message can hold.
func floatValue(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

func intValue(v any) (int, error) {
	f, err := floatValue(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", v)
	}
	return int(f), nil
}
