package processor

import (
	"encoding/json"
	"fmt"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/render"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/units"
)

const (
	DefaultImageRows = 64
	DefaultImageCols = 64
	MaxImageSize     = 256
)

// Config is everything a Processor needs at start-up. Engine settings may be
// swapped later with Reconfigure; the rest is fixed for the run.
type Config struct {
	Engine EngineConfig

	// GridRows x GridCols is the sensor frame shape.
	GridRows, GridCols int
	// ImageRows x ImageCols is the display grid sent to the UI. Equal to the
	// sensor shape to disable resampling.
	ImageRows, ImageCols int
	// Denoise median-filters the display grid.
	Denoise bool

	// The sensor is mounted upside down; frames are flipped before
	// processing.
	FlipHorizontal bool
	FlipVertical   bool

	AlarmTriggerThreshold int
	AlarmCommand          json.RawMessage
	AlarmMask             []alarm.Cell

	// Relays is the board state restored at start-up.
	Relays device.Relays

	Ramp render.Ramp
	// Timezone for the TIME field of UI records; empty means UTC.
	Timezone string
}

// DefaultConfig returns the settings of the served node: 8x8 sensor, 64x64
// display, both flips and the default alarm.
func DefaultConfig() Config {
	return Config{
		Engine:                DefaultEngineConfig(),
		GridRows:              device.GridRows,
		GridCols:              device.GridCols,
		ImageRows:             DefaultImageRows,
		ImageCols:             DefaultImageCols,
		Denoise:               true,
		FlipHorizontal:        true,
		FlipVertical:          true,
		AlarmTriggerThreshold: alarm.DefaultTriggerThreshold,
		AlarmCommand:          json.RawMessage(alarm.DefaultCommand),
		Relays:                device.DefaultRelays(),
		Ramp:                  render.DefaultRamp(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.GridRows < 1 || c.GridCols < 1 {
		return fmt.Errorf("grid shape must be positive, got %dx%d", c.GridRows, c.GridCols)
	}
	if c.ImageRows < 1 || c.ImageCols < 1 || c.ImageRows > MaxImageSize || c.ImageCols > MaxImageSize {
		return fmt.Errorf("image shape must be in [1, %d], got %dx%d", MaxImageSize, c.ImageRows, c.ImageCols)
	}
	if c.AlarmTriggerThreshold < 1 {
		return fmt.Errorf("alarm trigger threshold must be >= 1, got %d", c.AlarmTriggerThreshold)
	}
	if err := alarm.ValidateCommand(c.AlarmCommand); err != nil {
		return err
	}
	for _, cell := range c.AlarmMask {
		if cell.X < 0 || cell.X >= c.GridRows || cell.Y < 0 || cell.Y >= c.GridCols {
			return fmt.Errorf("%w: mask cell %s", alarm.ErrInvalidZoneCoordinate, cell)
		}
	}
	if err := c.Ramp.Validate(); err != nil {
		return err
	}
	if !units.IsTimezoneValid(c.timezone()) {
		return fmt.Errorf("invalid timezone %q", c.Timezone)
	}
	return nil
}

func (c Config) timezone() string {
	if c.Timezone == "" {
		return "UTC"
	}
	return c.Timezone
}
