package processor

import (
	"fmt"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/background"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/detect"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

// EngineConfig holds the detection settings of an Engine.
type EngineConfig struct {
	Threshold          detect.Threshold
	Background         background.Config
	AdjacencyTolerance float64
}

// DefaultEngineConfig returns ANY mode, a ten frame calibration window and
// single-cell adjacency.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Threshold:          detect.DefaultThreshold(),
		Background:         background.DefaultConfig(),
		AdjacencyTolerance: detect.DefaultAdjacencyTolerance,
	}
}

// Validate checks every part of the configuration.
func (c EngineConfig) Validate() error {
	if err := c.Threshold.Validate(); err != nil {
		return err
	}
	if err := c.Background.Validate(); err != nil {
		return err
	}
	if c.AdjacencyTolerance < 0 {
		return fmt.Errorf("adjacency tolerance must be non-negative, got %f", c.AdjacencyTolerance)
	}
	return nil
}

// Result describes what one frame did to the engine.
type Result struct {
	Phase background.Phase
	// Detected is set when a detection pass ran for this frame.
	Detected bool
	Objects  []*detect.Object
	Diff     detect.Diff
}

// Engine runs the per-frame cycle: background update while calibrating, then
// thresholding, flood fill and event dispatch against the frozen reference.
// It is synchronous and not safe for concurrent use.
type Engine struct {
	cfg      EngineConfig
	bg       *background.Model
	detector *detect.Detector
	differ   *detect.Differencer
}

// NewEngine validates cfg and returns a calibrating engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bg, err := background.NewModel(cfg.Background)
	if err != nil {
		return nil, err
	}
	det, err := detect.NewDetector(cfg.Threshold)
	if err != nil {
		return nil, err
	}
	diff, err := detect.NewDifferencer(cfg.AdjacencyTolerance)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, bg: bg, detector: det, differ: diff}, nil
}

// On registers a handler for detection events.
func (e *Engine) On(ev detect.Event, h detect.Handler) { e.differ.On(ev, h) }

// Process runs one frame through the engine. The frame that completes
// calibration only freezes the reference; detection starts with the next one.
func (e *Engine) Process(frame *grid.Grid) (Result, error) {
	wasSteady := e.bg.Phase() == background.Steady
	phase, err := e.bg.Update(frame)
	if err != nil {
		return Result{Phase: phase}, err
	}
	res := Result{Phase: phase}
	if !wasSteady {
		return res, nil
	}

	objects, err := e.detector.Detect(frame, e.bg.Reference())
	if err != nil {
		return res, err
	}
	res.Detected = true
	res.Objects = objects
	res.Diff = e.differ.Update(objects, frame)
	return res, nil
}

// Recalibrate restarts background learning. Objects seen before the restart
// stay as the previous detection set.
func (e *Engine) Recalibrate() { e.bg.Recalibrate() }

// Reconfigure swaps threshold, calibration and tolerance settings between
// frames.
func (e *Engine) Reconfigure(cfg EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	det, err := detect.NewDetector(cfg.Threshold)
	if err != nil {
		return err
	}
	if err := e.bg.Reconfigure(cfg.Background); err != nil {
		return err
	}
	if err := e.differ.SetTolerance(cfg.AdjacencyTolerance); err != nil {
		return err
	}
	e.detector = det
	e.cfg = cfg
	return nil
}

func (e *Engine) Config() EngineConfig              { return e.cfg }
func (e *Engine) Background() background.State      { return e.bg.State() }
func (e *Engine) Reference() *grid.Grid             { return e.bg.Reference() }
func (e *Engine) PreviousObjects() []*detect.Object { return e.differ.Previous() }
