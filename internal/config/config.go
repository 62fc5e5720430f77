package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/render"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/serialmux"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/detect"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
)

// DefaultConfigPath is the path to the canonical node defaults file.
const DefaultConfigPath = "config/grideye.defaults.json"

// DefaultSerialPath is where the relay board shows up on the Raspberry Pi.
const DefaultSerialPath = "/dev/ttyACM0"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ErrConfiguration wraps every validation failure, so callers can tell a bad
// file from an I/O error with errors.Is.
var ErrConfiguration = errors.New("invalid configuration")

// ValidationError names the offending field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *ValidationError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// DeviceConfig is the "device" section: where the relay board is and how to
// talk to it.
type DeviceConfig struct {
	Path     *string `json:"path,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`
}

// ProcessorConfig is the root of the node configuration file. Every field is
// optional; omitted fields fall back to the processor defaults through the
// Get* methods.
type ProcessorConfig struct {
	Device *DeviceConfig `json:"device,omitempty"`

	// Detection
	Mode               *string  `json:"mode,omitempty"`
	ThresholdAbs       *float64 `json:"threshold_abs,omitempty"`
	ThresholdDiff      *float64 `json:"threshold_diff,omitempty"`
	BackgroundWindow   *int     `json:"background_window,omitempty"`
	ResetCorrelation   *float64 `json:"reset_correlation,omitempty"`
	AdjacencyTolerance *float64 `json:"adjacency_tolerance,omitempty"`

	// Frame shape and display
	GridRows       *int     `json:"grid_rows,omitempty"`
	GridCols       *int     `json:"grid_cols,omitempty"`
	ImageRows      *int     `json:"image_rows,omitempty"`
	ImageCols      *int     `json:"image_cols,omitempty"`
	Denoise        *bool    `json:"denoise,omitempty"`
	FlipHorizontal *bool    `json:"flip_horizontal,omitempty"`
	FlipVertical   *bool    `json:"flip_vertical,omitempty"`
	RampMin        *float64 `json:"ramp_min,omitempty"`
	RampMax        *float64 `json:"ramp_max,omitempty"`
	Timezone       *string  `json:"timezone,omitempty"`

	// Alarm
	AlarmTriggerThreshold *int            `json:"alarm_trigger_threshold,omitempty"`
	AlarmCommand          json.RawMessage `json:"alarm_command,omitempty"`
	AlarmMask             *CellList       `json:"alarm_mask,omitempty"`
}

// CellList is an alarm mask in either of its file forms: the "(x,y) (x,y)"
// string or a list of [x, y] pairs.
type CellList []alarm.Cell

func (l *CellList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		cells, err := alarm.ParseCells(s)
		if err != nil {
			return err
		}
		*l = cells
		return nil
	}
	var pairs [][]int
	if err := json.Unmarshal(b, &pairs); err != nil {
		return fmt.Errorf("alarm mask must be a string or a list of [x, y] pairs: %w", err)
	}
	cells := make([]alarm.Cell, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return fmt.Errorf("alarm mask pair must have two coordinates, got %v", p)
		}
		cells = append(cells, alarm.Cell{X: p[0], Y: p[1]})
	}
	*l = cells
	return nil
}

// MarshalJSON writes the string form.
func (l CellList) MarshalJSON() ([]byte, error) {
	return json.Marshal(alarm.FormatCells(l))
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyProcessorConfig returns a ProcessorConfig with all fields set to nil.
func EmptyProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{}
}

// LoadProcessorConfig loads a ProcessorConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadProcessorConfig(path string) (*ProcessorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseProcessorConfig(data)
}

// ParseProcessorConfig decodes and validates a configuration document.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func ParseProcessorConfig(data []byte) (*ProcessorConfig, error) {
	cfg := EmptyProcessorConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded; intended for tests and binaries run from the repository.
func MustLoadDefaultConfig() *ProcessorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/thermal/processor/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadProcessorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks the values that are set. Cross-field checks (mask inside
// the grid, ramp order) are left to processor.Config.Validate, which sees the
// merged result; Validate runs it too so a bad file fails at load time.
func (c *ProcessorConfig) Validate() error {
	if c.Mode != nil {
		if _, err := detect.ParseMode(*c.Mode); err != nil {
			return invalid("mode", "%v", err)
		}
	}
	if c.BackgroundWindow != nil && *c.BackgroundWindow < 1 {
		return invalid("background_window", "must be at least 1, got %d", *c.BackgroundWindow)
	}
	if c.AlarmTriggerThreshold != nil && *c.AlarmTriggerThreshold < 1 {
		return invalid("alarm_trigger_threshold", "must be at least 1, got %d", *c.AlarmTriggerThreshold)
	}
	if len(c.AlarmCommand) > 0 && !json.Valid(c.AlarmCommand) {
		return invalid("alarm_command", "not valid JSON")
	}
	if c.Device != nil {
		if _, err := c.PortOptions().Normalise(); err != nil {
			return invalid("device", "%v", err)
		}
	}
	if _, err := c.Processor(); err != nil {
		return &ValidationError{Field: "processor", Err: err}
	}
	return nil
}

// GetMode returns the detection mode or DIFFERENTIAL, the mode the node runs
// in when nothing is configured.
func (c *ProcessorConfig) GetMode() detect.Mode {
	if c.Mode == nil {
		return detect.ModeDifferential
	}
	m, err := detect.ParseMode(*c.Mode)
	if err != nil {
		return detect.ModeDifferential
	}
	return m
}

// GetThresholdAbs returns the absolute threshold or the default.
func (c *ProcessorConfig) GetThresholdAbs() float64 {
	if c.ThresholdAbs == nil {
		return detect.DefaultAbsoluteThreshold
	}
	return *c.ThresholdAbs
}

// GetThresholdDiff returns the differential threshold or the default.
func (c *ProcessorConfig) GetThresholdDiff() float64 {
	if c.ThresholdDiff == nil {
		return detect.DefaultDifferentialThreshold
	}
	return *c.ThresholdDiff
}

// GetAlarmTriggerThreshold returns the hysteresis count or the default.
func (c *ProcessorConfig) GetAlarmTriggerThreshold() int {
	if c.AlarmTriggerThreshold == nil {
		return alarm.DefaultTriggerThreshold
	}
	return *c.AlarmTriggerThreshold
}

// GetAlarmMask returns the configured mask cells, possibly none.
func (c *ProcessorConfig) GetAlarmMask() []alarm.Cell {
	if c.AlarmMask == nil {
		return nil
	}
	return append([]alarm.Cell(nil), (*c.AlarmMask)...)
}

// GetTimezone returns the display timezone or "UTC".
func (c *ProcessorConfig) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return "UTC"
	}
	return *c.Timezone
}

// GetSerialPath returns the serial device path or DefaultSerialPath.
func (c *ProcessorConfig) GetSerialPath() string {
	if c.Device == nil || c.Device.Path == nil || *c.Device.Path == "" {
		return DefaultSerialPath
	}
	return *c.Device.Path
}

// PortOptions maps the device section onto serial port options. Unset
// values are left zero for Normalise to default.
func (c *ProcessorConfig) PortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Device == nil {
		return opts
	}
	if c.Device.BaudRate != nil {
		opts.BaudRate = *c.Device.BaudRate
	}
	if c.Device.DataBits != nil {
		opts.DataBits = *c.Device.DataBits
	}
	if c.Device.StopBits != nil {
		opts.StopBits = *c.Device.StopBits
	}
	if c.Device.Parity != nil {
		opts.Parity = strings.TrimSpace(*c.Device.Parity)
	}
	return opts
}

// Processor merges the file over processor.DefaultConfig and validates the
// result.
func (c *ProcessorConfig) Processor() (processor.Config, error) {
	pc := processor.DefaultConfig()

	pc.Engine.Threshold.Mode = c.GetMode()
	pc.Engine.Threshold.Absolute = c.GetThresholdAbs()
	pc.Engine.Threshold.Differential = c.GetThresholdDiff()
	if c.BackgroundWindow != nil {
		pc.Engine.Background.WindowSize = *c.BackgroundWindow
	}
	if c.ResetCorrelation != nil {
		pc.Engine.Background.ResetCorrelation = *c.ResetCorrelation
	}
	if c.AdjacencyTolerance != nil {
		pc.Engine.AdjacencyTolerance = *c.AdjacencyTolerance
	}

	setInt(&pc.GridRows, c.GridRows)
	setInt(&pc.GridCols, c.GridCols)
	setInt(&pc.ImageRows, c.ImageRows)
	setInt(&pc.ImageCols, c.ImageCols)
	setBool(&pc.Denoise, c.Denoise)
	setBool(&pc.FlipHorizontal, c.FlipHorizontal)
	setBool(&pc.FlipVertical, c.FlipVertical)

	pc.Ramp = render.DefaultRamp()
	if c.RampMin != nil {
		pc.Ramp.Min = *c.RampMin
	}
	if c.RampMax != nil {
		pc.Ramp.Max = *c.RampMax
	}
	pc.Timezone = c.GetTimezone()

	pc.AlarmTriggerThreshold = c.GetAlarmTriggerThreshold()
	if len(c.AlarmCommand) > 0 {
		pc.AlarmCommand = append(json.RawMessage(nil), c.AlarmCommand...)
	}
	pc.AlarmMask = c.GetAlarmMask()

	if err := pc.Validate(); err != nil {
		return processor.Config{}, err
	}
	return pc, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// ApplyEngine overlays the detection fields that are set onto cur and
// validates the result. Other fields are ignored.
func (c *ProcessorConfig) ApplyEngine(cur processor.EngineConfig) (processor.EngineConfig, error) {
	next := cur
	if c.Mode != nil {
		m, err := detect.ParseMode(*c.Mode)
		if err != nil {
			return cur, invalid("mode", "%v", err)
		}
		next.Threshold.Mode = m
	}
	if c.ThresholdAbs != nil {
		next.Threshold.Absolute = *c.ThresholdAbs
	}
	if c.ThresholdDiff != nil {
		next.Threshold.Differential = *c.ThresholdDiff
	}
	if c.BackgroundWindow != nil {
		next.Background.WindowSize = *c.BackgroundWindow
	}
	if c.ResetCorrelation != nil {
		next.Background.ResetCorrelation = *c.ResetCorrelation
	}
	if c.AdjacencyTolerance != nil {
		next.AdjacencyTolerance = *c.AdjacencyTolerance
	}
	if err := next.Validate(); err != nil {
		return cur, &ValidationError{Field: "engine", Err: err}
	}
	return next, nil
}

// EngineOverrides returns the detection settings of cfg in file form, as
// stored for runtime overrides.
func EngineOverrides(cfg processor.EngineConfig) *ProcessorConfig {
	return &ProcessorConfig{
		Mode:               ptrString(cfg.Threshold.Mode.String()),
		ThresholdAbs:       ptrFloat64(cfg.Threshold.Absolute),
		ThresholdDiff:      ptrFloat64(cfg.Threshold.Differential),
		BackgroundWindow:   ptrInt(cfg.Background.WindowSize),
		ResetCorrelation:   ptrFloat64(cfg.Background.ResetCorrelation),
		AdjacencyTolerance: ptrFloat64(cfg.AdjacencyTolerance),
	}
}
