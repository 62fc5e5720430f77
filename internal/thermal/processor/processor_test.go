package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/background"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/detect"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/timeutil"
)

type recorder struct {
	mu      sync.Mutex
	ui      []Message
	device  []string
	alarms  []AlarmEvent
	relays  []device.Relays
	masks   [][]alarm.Cell
	engines []EngineConfig
}

func (r *recorder) sinks() Sinks {
	return Sinks{
		UI: func(m Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ui = append(r.ui, m)
		},
		Device: func(b []byte) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.device = append(r.device, string(b))
			return nil
		},
		Alarm: func(ev AlarmEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.alarms = append(r.alarms, ev)
		},
		Relays: func(rl device.Relays) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.relays = append(r.relays, rl)
		},
		Mask: func(c []alarm.Cell) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.masks = append(r.masks, c)
		},
		Engine: func(c EngineConfig) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.engines = append(r.engines, c)
		},
	}
}

// withKey returns the UI messages carrying key.
func (r *recorder) withKey(key string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.ui {
		if _, ok := m[key]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) deviceWrites() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.device...)
}

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GridRows, cfg.GridCols = 4, 4
	cfg.ImageRows, cfg.ImageCols = 4, 4
	cfg.Denoise = false
	cfg.FlipHorizontal, cfg.FlipVertical = false, false
	cfg.Engine.Threshold = detect.Threshold{Mode: detect.ModeDifferential, Absolute: detect.DefaultAbsoluteThreshold, Differential: 2}
	return cfg
}

func newTestProcessor(t *testing.T, mutate func(*Config)) (*Processor, *recorder, *timeutil.MockClock) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	rec := &recorder{}
	clock := timeutil.NewMockClock(testStart)
	p, err := New(cfg, rec.sinks(), clock)
	require.NoError(t, err)
	return p, rec, clock
}

func sceneReading(hot map[int]float64) device.Reading {
	temps := append([]float64(nil), scenePattern...)
	for i, v := range hot {
		temps[i] = v
	}
	return device.Reading{Temperatures: temps, Fields: map[string]json.RawMessage{"ID": json.RawMessage(`1`)}}
}

func calibrate(t *testing.T, p *Processor) {
	t.Helper()
	for i := 0; i < 10; i++ {
		_, err := p.ProcessReading(sceneReading(nil))
		require.NoError(t, err)
	}
	require.Equal(t, background.Steady, p.Status().Background.Phase)
}

func TestProcessReading_Record(t *testing.T) {
	p, rec, _ := newTestProcessor(t, nil)

	msg, err := p.ProcessReading(sceneReading(nil))
	require.NoError(t, err)

	assert.Equal(t, SourceDevice, msg[KeySource])
	assert.Equal(t, "2025-03-01 12:00:00", msg[KeyTime])
	assert.Equal(t, float64(1), msg["ID"])
	assert.Equal(t, scenePattern, msg[KeyGrid])
	assert.Equal(t, 20.0, msg[KeyMin])
	assert.Equal(t, 23.0, msg[KeyMax])
	assert.Equal(t, 23.0, msg[KeyMedian])
	assert.Equal(t, "CALIBRATING", msg[KeyPhase])
	assert.NotContains(t, msg, KeyTemperature, "no detection data while calibrating")
	assert.Len(t, msg[KeyColours], 16)

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	r, err := DecodeRecord(b)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Rows)
	assert.Equal(t, 1, r.Samples)
	assert.InDelta(t, 22.0625, r.Mean, 1e-9)

	assert.Len(t, rec.withKey(KeyGrid), 1)
	assert.Equal(t, msg, p.Latest())
	assert.Equal(t, uint64(1), p.Status().Frames)
}

func TestProcessReading_EndToEnd(t *testing.T) {
	p, rec, _ := newTestProcessor(t, nil)
	calibrate(t, p)

	msg, err := p.ProcessReading(sceneReading(map[int]float64{10: 26}))
	require.NoError(t, err)

	binary := msg[KeyBinary].([]float64)
	want := make([]float64, 16)
	want[10] = 1
	if diff := cmp.Diff(want, binary); diff != "" {
		t.Errorf("binary mask mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 26.0, msg[KeyTemperature].([]float64)[10])
	assert.Equal(t, 1, p.Status().Objects)
	assert.Empty(t, rec.withKey(KeyAlarm), "no mask, no alarm")
}

func TestProcessReading_Flips(t *testing.T) {
	p, _, _ := newTestProcessor(t, func(c *Config) {
		c.FlipHorizontal, c.FlipVertical = true, true
	})

	msg, err := p.ProcessReading(sceneReading(map[int]float64{0: 40}))
	require.NoError(t, err)
	cells := msg[KeyGrid].([]float64)
	assert.Equal(t, 40.0, cells[15], "mounted upside down: first cell lands last")
	assert.Equal(t, scenePattern[15], cells[0])
}

func TestProcessReading_ResampleAndDenoise(t *testing.T) {
	p, _, _ := newTestProcessor(t, func(c *Config) {
		c.ImageRows, c.ImageCols = 16, 16
		c.Denoise = true
	})
	msg, err := p.ProcessReading(sceneReading(nil))
	require.NoError(t, err)
	assert.Len(t, msg[KeyGrid], 256)
	assert.Equal(t, 16, msg[KeyRows])
	assert.Len(t, msg[KeyColours], 256)
	// stats stay on the native frame
	assert.Equal(t, 20.0, msg[KeyMin])
}

func TestProcessReading_NoSensorData(t *testing.T) {
	p, rec, _ := newTestProcessor(t, nil)
	msg, err := p.ProcessReading(device.Reading{Fields: map[string]json.RawMessage{"NLR": json.RawMessage(`0`)}})
	require.NoError(t, err)
	assert.NotContains(t, msg, KeyGrid)
	assert.Nil(t, p.Latest())
	assert.Len(t, rec.ui, 1)
}

func TestProcessReading_WrongShape(t *testing.T) {
	p, _, _ := newTestProcessor(t, nil)
	_, err := p.ProcessReading(device.Reading{Temperatures: make([]float64, 64)})
	assert.ErrorIs(t, err, grid.ErrShapeMismatch)
}

func TestAlarm_FiresOnceAndResets(t *testing.T) {
	p, rec, _ := newTestProcessor(t, func(c *Config) {
		c.AlarmMask = []alarm.Cell{{X: 2, Y: 2}}
	})
	calibrate(t, p)

	_, err := p.ProcessReading(sceneReading(map[int]float64{10: 26}))
	require.NoError(t, err)

	assert.Equal(t, []string{alarm.DefaultCommand}, rec.deviceWrites())
	assert.Equal(t, []Message{{KeyAlarm: ValueSet}}, rec.withKey(KeyAlarm))
	require.Len(t, rec.alarms, 1)
	assert.Equal(t, ValueSet, rec.alarms[0].Kind)
	assert.Equal(t, testStart, rec.alarms[0].Time)
	assert.Equal(t, []grid.Point{{X: 2, Y: 2, Value: 26}}, rec.alarms[0].Points)
	assert.True(t, p.Status().AlarmTriggered)

	// leave and come back: still triggered, nothing sent
	_, err = p.ProcessReading(sceneReading(nil))
	require.NoError(t, err)
	_, err = p.ProcessReading(sceneReading(map[int]float64{10: 26}))
	require.NoError(t, err)
	assert.Len(t, rec.deviceWrites(), 1)

	require.NoError(t, p.HandleCommand(Message{KeyAlarm: ValueReset}))
	assert.False(t, p.Status().AlarmTriggered)
	assert.Equal(t, "{'NLR':0,'LR':0,'GE':1}", rec.deviceWrites()[1], "reset restores relays")
	assert.Len(t, rec.alarms, 2)
	assert.Equal(t, ValueReset, rec.alarms[1].Kind)
}

func TestHandleCommand_ToggleCell(t *testing.T) {
	p, rec, _ := newTestProcessor(t, nil)

	require.NoError(t, p.HandleCommand(Message{KeyX: 1.0, KeyY: 2.0}))
	assert.Equal(t, []alarm.Cell{{X: 0, Y: 1}}, p.Status().Mask)
	require.NoError(t, p.HandleCommand(Message{KeyX: "1", KeyY: 2}))
	assert.Empty(t, p.Status().Mask)

	assert.Equal(t, []Message{
		{KeyX: 1, KeyY: 2, KeyCell: ValueSet},
		{KeyX: 1, KeyY: 2, KeyCell: ValueReset},
	}, rec.withKey(KeyCell))
	assert.Len(t, rec.masks, 2)

	err := p.HandleCommand(Message{KeyX: 9.0, KeyY: 1.0})
	assert.ErrorIs(t, err, alarm.ErrInvalidZoneCoordinate)
	err = p.HandleCommand(Message{KeyX: 1.5, KeyY: 1.0})
	assert.ErrorIs(t, err, ErrBadCommand)
}

func TestHandleCommand_UpdateUI(t *testing.T) {
	p, rec, _ := newTestProcessor(t, func(c *Config) {
		c.AlarmMask = []alarm.Cell{{X: 3, Y: 0}, {X: 0, Y: 1}}
	})
	require.NoError(t, p.HandleCommand(Message{KeyCommand: CommandUpdateUI}))

	assert.Equal(t, []Message{
		{KeyX: 1, KeyY: 2, KeyCell: ValueSet},
		{KeyX: 4, KeyY: 1, KeyCell: ValueSet},
	}, rec.withKey(KeyCell))
	assert.Equal(t, []Message{{KeyMode: "DIFFERENTIAL"}}, rec.withKey(KeyMode))

	assert.ErrorIs(t, p.HandleCommand(Message{KeyCommand: "REBOOT"}), ErrBadCommand)
}

func TestHandleCommand_Relays(t *testing.T) {
	p, rec, _ := newTestProcessor(t, nil)

	require.NoError(t, p.HandleCommand(Message{KeyNonLatching: 3.0, KeyStatus: "ON"}))
	require.NoError(t, p.HandleCommand(Message{KeyLatching: 2.0, KeyStatus: "on"}))
	require.NoError(t, p.HandleCommand(Message{device.KeyTemperatures: 1.0, KeyStatus: "OFF"}))

	assert.Equal(t, device.Relays{NonLatching: 4, Latching: 2, Sensor: false}, p.Status().Relays)
	assert.Equal(t, []string{
		"{'NLR':4,'LR':0,'GE':1}",
		"{'NLR':4,'LR':2,'GE':1}",
		"{'NLR':4,'LR':2,'GE':0}",
	}, rec.deviceWrites())
	assert.Len(t, rec.relays, 3)

	// out of range still echoes the unchanged state
	err := p.HandleCommand(Message{KeyNonLatching: 9.0, KeyStatus: "ON"})
	assert.ErrorIs(t, err, ErrBadCommand)
	assert.Len(t, rec.deviceWrites(), 4)
	assert.Len(t, rec.relays, 3)

	err = p.HandleCommand(Message{KeyLatching: 1.0})
	assert.ErrorIs(t, err, ErrBadCommand, "missing STATUS")

	msg, err := p.ProcessReading(sceneReading(nil))
	require.NoError(t, err)
	assert.Equal(t, uint8(4), msg[KeyNonLatching])
	assert.Equal(t, uint8(2), msg[KeyLatching])
}

func TestHandleCommand_Threshold(t *testing.T) {
	p, rec, _ := newTestProcessor(t, nil)

	require.NoError(t, p.HandleCommand(Message{KeyMode: "BOTH", KeyAbsolute: 25.0, KeyDiff: "3"}))
	st := p.Status()
	assert.Equal(t, detect.ModeBoth, st.Mode)
	assert.Equal(t, 25.0, st.Absolute)
	assert.Equal(t, 3.0, st.Differential)
	require.Len(t, rec.engines, 1)
	assert.Equal(t, detect.ModeBoth, p.Config().Engine.Threshold.Mode)

	require.NoError(t, p.HandleCommand(Message{KeyMode: 1.0}))
	assert.Equal(t, detect.ModeAbsolute, p.Status().Mode)

	err := p.HandleCommand(Message{KeyDiff: -1.0})
	assert.ErrorIs(t, err, ErrBadCommand)
	err = p.HandleCommand(Message{KeyMode: "SIDEWAYS"})
	assert.ErrorIs(t, err, ErrBadCommand)
	assert.Equal(t, detect.ModeAbsolute, p.Status().Mode)
}

func TestHandleCommand_Background(t *testing.T) {
	p, _, _ := newTestProcessor(t, nil)
	calibrate(t, p)

	require.NoError(t, p.HandleCommand(Message{KeyBackground: true}))
	st := p.Status().Background
	assert.Equal(t, background.Calibrating, st.Phase)
	assert.Zero(t, st.Samples)
}

func TestHandleCommand_JoinsErrors(t *testing.T) {
	p, _, _ := newTestProcessor(t, nil)
	err := p.HandleCommand(Message{KeyAlarm: "PANIC", KeyX: 1.0, KeyY: 1.0, KeyMode: "NOPE"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadCommand)
	// the valid part still applied
	assert.Equal(t, []alarm.Cell{{X: 0, Y: 0}}, p.Status().Mask)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Engine.Threshold.Mode = 0 }},
		{"trigger threshold", func(c *Config) { c.AlarmTriggerThreshold = 0 }},
		{"alarm command", func(c *Config) { c.AlarmCommand = json.RawMessage(`[1]`) }},
		{"mask outside grid", func(c *Config) { c.AlarmMask = []alarm.Cell{{X: 4, Y: 0}} }},
		{"image too big", func(c *Config) { c.ImageRows = MaxImageSize + 1 }},
		{"ramp", func(c *Config) { c.Ramp.Max = c.Ramp.Min }},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, Sinks{}, nil)
			assert.Error(t, err)
		})
	}
}

func TestRun_SerialisesCommandsAndReadings(t *testing.T) {
	p, rec, _ := newTestProcessor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	readings := make(chan device.Reading)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, readings) }()

	for i := 0; i < 3; i++ {
		readings <- sceneReading(nil)
	}
	require.NoError(t, p.Command(ctx, Message{KeyX: 2.0, KeyY: 2.0}))
	assert.Equal(t, 3, p.Status().Background.Samples)

	err := p.Command(ctx, Message{KeyX: 0.0, KeyY: 0.0})
	assert.ErrorIs(t, err, alarm.ErrInvalidZoneCoordinate)
	assert.Len(t, rec.withKey(KeyError), 1)

	sentinel := errors.New("boom")
	assert.ErrorIs(t, p.Do(ctx, func(*Processor) error { return sentinel }), sentinel)

	close(readings)
	require.NoError(t, <-done)
	assert.Equal(t, "{'NLR':0,'LR':0,'GE':1}", rec.deviceWrites()[0], "status written at start")

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	assert.ErrorIs(t, p.Do(short, func(*Processor) error { return nil }), context.DeadlineExceeded)
}
