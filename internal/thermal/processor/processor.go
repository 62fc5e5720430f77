// Package processor wires the thermal engine to the rest of the node. It
// turns board readings into UI records, applies UI commands between frames
// and drives the alarm output.
//
// A Processor is owned by one goroutine (see Run). Everything that mutates
// engine, mask, alarm or relay state runs there; other goroutines read the
// published snapshots through Latest and Status.
package processor

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/monitoring"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/background"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/detect"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/timeutil"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/units"
)

var logf = monitoring.Component("processor")

// AlarmEvent is reported to the Alarm sink whenever the alarm is raised or
// cleared.
type AlarmEvent struct {
	Kind   string // ValueSet or ValueReset
	Time   time.Time
	Points []grid.Point
}

// Sinks are the processor's outputs. Nil sinks are skipped. They are called
// from the processor goroutine and must not call back into Do.
type Sinks struct {
	// UI receives frame records, acknowledgements and alarm state.
	UI func(Message)
	// Device receives raw board commands.
	Device func([]byte) error
	Alarm  func(AlarmEvent)
	// Relays, Mask and Engine are told about state worth persisting.
	Relays func(device.Relays)
	Mask   func([]alarm.Cell)
	Engine func(EngineConfig)
}

// Status is a point-in-time summary for the API.
type Status struct {
	Background     background.State `json:"background"`
	Mode           detect.Mode      `json:"mode"`
	Absolute       float64          `json:"threshold_abs"`
	Differential   float64          `json:"threshold_diff"`
	AlarmTriggered bool             `json:"alarm_triggered"`
	AlarmCounter   int              `json:"alarm_counter"`
	Relays         device.Relays    `json:"relays"`
	Mask           []alarm.Cell     `json:"mask"`
	Frames         uint64           `json:"frames"`
	Objects        int              `json:"objects"`
	LastFrame      time.Time        `json:"last_frame"`
}

// Processor composes the engine with the alarm zone, the hysteresis layer
// and the relay state.
type Processor struct {
	cfg    Config
	clock  timeutil.Clock
	sinks  Sinks
	engine *Engine
	mask   *alarm.Mask
	alarm  *alarm.Hysteresis
	relays device.Relays

	frames    uint64
	lastFrame time.Time
	frame     *grid.Grid

	requests chan request

	mu        sync.RWMutex
	latest    Message
	status    Status
	latestRaw *grid.Grid
	reference *grid.Grid
}

// New validates cfg and builds a Processor. A nil clock uses the real clock.
func New(cfg Config, sinks Sinks, clock timeutil.Clock) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	engine, err := NewEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	mask, err := alarm.NewMask(cfg.GridRows, cfg.GridCols)
	if err != nil {
		return nil, err
	}
	if err := mask.Apply(cfg.AlarmMask); err != nil {
		return nil, err
	}
	hyst, err := alarm.NewHysteresis(mask, cfg.AlarmTriggerThreshold, cfg.AlarmCommand)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:      cfg,
		clock:    clock,
		sinks:    sinks,
		engine:   engine,
		mask:     mask,
		alarm:    hyst,
		relays:   cfg.Relays,
		requests: make(chan request),
	}
	engine.On(detect.ObjectIn, p.alarm.Handler(p.raiseAlarm))
	engine.On(detect.ObjectIn, logEvent)
	engine.On(detect.ObjectOut, logEvent)
	p.refresh()
	return p, nil
}

func logEvent(obj *detect.Object, ev detect.Event, _ *grid.Grid) {
	x, y := obj.Centroid()
	logf("%s object %s: %d cells around (%.1f,%.1f), peak %.2f",
		ev, obj.Label, obj.Len(), x, y, obj.PeakTemperature())
}

// ProcessReading turns one board reading into a UI record, running the
// temperatures through the engine when present. The record is published to
// the UI sink and returned.
func (p *Processor) ProcessReading(r device.Reading) (Message, error) {
	now := p.clock.Now()
	msg := make(Message, len(r.Fields)+16)
	for k, raw := range r.Fields {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			msg[k] = v
		}
	}
	ts, err := units.ConvertTime(now, p.cfg.Timezone)
	if err != nil {
		ts = now.UTC()
	}
	msg[KeyTime] = ts.Format(timeutil.ReadingLayout)
	msg[KeyNonLatching] = p.relays.NonLatching
	msg[KeyLatching] = p.relays.Latching
	msg[KeySource] = SourceDevice

	if len(r.Temperatures) > 0 {
		if err := p.processFrame(msg, r.Temperatures); err != nil {
			return nil, err
		}
		p.frames++
		p.lastFrame = now
	}
	p.refresh()
	p.mu.Lock()
	if msg.IsFrame() {
		p.latest = msg
	}
	p.mu.Unlock()
	p.emit(msg)
	return msg, nil
}

func (p *Processor) processFrame(msg Message, temps []float64) error {
	frame, err := grid.New(p.cfg.GridRows, p.cfg.GridCols, temps)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	if p.cfg.FlipHorizontal {
		frame = frame.FlipHorizontal()
	}
	if p.cfg.FlipVertical {
		frame = frame.FlipVertical()
	}

	res, err := p.engine.Process(frame)
	if err != nil {
		return fmt.Errorf("process frame: %w", err)
	}
	p.frame = frame

	if res.Phase == background.Steady {
		msg[KeyTemperature] = frame.Cells()
		msg[KeyBinary] = frame.BinaryMask(pointSets(p.engine.PreviousObjects())...).Cells()
	}
	st := frame.Stats()
	msg[KeyMin] = st.Min
	msg[KeyMax] = st.Max
	msg[KeyMean] = st.Mean
	msg[KeyMedian] = st.Median
	msg[KeyStdDev] = st.StdDev

	display := frame
	if display.Rows() != p.cfg.ImageRows || display.Cols() != p.cfg.ImageCols {
		if display, err = frame.Resample(p.cfg.ImageRows, p.cfg.ImageCols); err != nil {
			return fmt.Errorf("resample frame: %w", err)
		}
	}
	if p.cfg.Denoise {
		display = display.Denoise()
	}
	msg[KeyGrid] = display.Cells()
	msg[KeyRows] = display.Rows()
	msg[KeyCols] = display.Cols()
	msg[KeyColours] = p.cfg.Ramp.Hexes(display)
	msg[KeyPhase] = res.Phase.String()
	msg[KeySamples] = p.engine.Background().Samples
	return nil
}

func pointSets(objs []*detect.Object) []grid.PointSet {
	out := make([]grid.PointSet, len(objs))
	for i, o := range objs {
		out[i] = o
	}
	return out
}

func (p *Processor) raiseAlarm(command json.RawMessage, obj *detect.Object) {
	logf("alarm raised by object %s", obj.Label)
	p.sendDevice(command)
	p.emit(Message{KeyAlarm: ValueSet})
	if p.sinks.Alarm != nil {
		p.sinks.Alarm(AlarmEvent{Kind: ValueSet, Time: p.clock.Now(), Points: obj.Points()})
	}
}

// ResetAlarm re-arms the alarm, tells the UI and restores the relay outputs
// the alarm command may have changed.
func (p *Processor) ResetAlarm() {
	p.alarm.Reset()
	p.emit(Message{KeyAlarm: ValueReset})
	p.sendDevice(p.relays.StatusCommand())
	if p.sinks.Alarm != nil {
		p.sinks.Alarm(AlarmEvent{Kind: ValueReset, Time: p.clock.Now()})
	}
	p.refresh()
}

// Recalibrate restarts background learning from the next frame.
func (p *Processor) Recalibrate() {
	p.engine.Recalibrate()
	p.refresh()
}

// ToggleCell flips a mask cell addressed 0-based and returns the
// acknowledgement sent to the UI, which uses 1-based coordinates.
func (p *Processor) ToggleCell(x, y int) (Message, error) {
	on, err := p.mask.Toggle(x, y)
	if err != nil {
		return nil, err
	}
	ack := Message{KeyX: x + 1, KeyY: y + 1, KeyCell: ValueReset}
	if on {
		ack[KeyCell] = ValueSet
	}
	p.emit(ack)
	if p.sinks.Mask != nil {
		p.sinks.Mask(p.mask.Cells())
	}
	p.refresh()
	return ack, nil
}

// Reconfigure applies new engine settings between frames.
func (p *Processor) Reconfigure(cfg EngineConfig) error {
	if err := p.engine.Reconfigure(cfg); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg.Engine = cfg
	p.mu.Unlock()
	if p.sinks.Engine != nil {
		p.sinks.Engine(cfg)
	}
	p.refresh()
	return nil
}

// UpdateUI replays every set mask cell and the detection mode, for a UI
// that has just connected.
func (p *Processor) UpdateUI() {
	for _, c := range p.mask.Cells() {
		p.emit(Message{KeyX: c.X + 1, KeyY: c.Y + 1, KeyCell: ValueSet})
	}
	p.emit(Message{KeyMode: p.engine.Config().Threshold.Mode.String()})
	if p.alarm.Triggered() {
		p.emit(Message{KeyAlarm: ValueSet})
	}
}

// WriteStatus sends the stored relay state to the board.
func (p *Processor) WriteStatus() {
	p.sendDevice(p.relays.StatusCommand())
}

func (p *Processor) setRelays(r device.Relays) {
	p.relays = r
	if p.sinks.Relays != nil {
		p.sinks.Relays(r)
	}
	p.refresh()
}

func (p *Processor) sendDevice(b []byte) {
	if p.sinks.Device == nil {
		return
	}
	if err := p.sinks.Device(b); err != nil {
		logf("device write %q failed: %v", b, err)
	}
}

func (p *Processor) emit(m Message) {
	if p.sinks.UI != nil {
		p.sinks.UI(m)
	}
}

// refresh republishes the snapshots read by other goroutines.
func (p *Processor) refresh() {
	th := p.engine.Config().Threshold
	st := Status{
		Background:     p.engine.Background(),
		Mode:           th.Mode,
		Absolute:       th.Absolute,
		Differential:   th.Differential,
		AlarmTriggered: p.alarm.Triggered(),
		AlarmCounter:   p.alarm.Counter(),
		Relays:         p.relays,
		Mask:           p.mask.Cells(),
		Frames:         p.frames,
		Objects:        len(p.engine.PreviousObjects()),
		LastFrame:      p.lastFrame,
	}
	var frame *grid.Grid
	if p.frame != nil {
		frame = p.frame.Clone()
	}
	ref := p.engine.Reference()

	p.mu.Lock()
	p.status = st
	p.latestRaw = frame
	p.reference = ref
	p.mu.Unlock()
}

// Latest returns the most recent frame record, or nil before the first one.
func (p *Processor) Latest() Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return nil
	}
	return p.latest.Clone()
}

// Status returns the current summary.
func (p *Processor) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := p.status
	st.Mask = append([]alarm.Cell(nil), st.Mask...)
	return st
}

// Grids returns the last native frame and the background reference. Either
// may be nil. The grids are shared snapshots and must not be modified.
func (p *Processor) Grids() (frame, reference *grid.Grid) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latestRaw, p.reference
}

// Config returns the configuration in effect.
func (p *Processor) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}
