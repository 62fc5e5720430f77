package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/db"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/testutil"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/detect"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/timeutil"
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testNode struct {
	server   *Server
	proc     *processor.Processor
	hub      *Hub
	readings chan device.Reading
	handler  http.Handler
}

func testProcessorConfig() processor.Config {
	cfg := processor.DefaultConfig()
	cfg.GridRows, cfg.GridCols = 4, 4
	cfg.ImageRows, cfg.ImageCols = 4, 4
	cfg.Denoise = false
	cfg.FlipHorizontal, cfg.FlipVertical = false, false
	cfg.Engine.Background.WindowSize = 2
	return cfg
}

// newTestNode starts a processor loop behind a Server. The loop stops when
// the test ends.
func newTestNode(t *testing.T, database *db.DB) *testNode {
	t.Helper()
	hub := NewHub()
	proc, err := processor.New(testProcessorConfig(), processor.Sinks{UI: hub.Broadcast}, timeutil.NewMockClock(testStart))
	require.NoError(t, err)

	n := &testNode{proc: proc, hub: hub, readings: make(chan device.Reading)}
	n.server = NewServer(proc, database, hub)
	n.handler = n.server.ServeMux()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = proc.Run(ctx, n.readings)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		hub.Close()
	})
	return n
}

// feed hands r to the processor and waits until it has been handled.
func (n *testNode) feed(t *testing.T, r device.Reading) {
	t.Helper()
	n.readings <- r
	require.NoError(t, n.proc.Do(context.Background(), func(*processor.Processor) error { return nil }))
}

func (n *testNode) calibrate(t *testing.T) {
	t.Helper()
	for i := 0; i < testProcessorConfig().Engine.Background.WindowSize; i++ {
		n.feed(t, testutil.Reading(testutil.Scene(4, 4, 20), nil))
	}
}

func (n *testNode) serve(t *testing.T, method, path string, body any) *testResponse {
	t.Helper()
	w := testutil.Serve(n.handler, testutil.NewTestRequest(t, method, path, body))
	return &testResponse{t: t, code: w.Code, body: w.Body.Bytes(), header: w.Header()}
}

type testResponse struct {
	t      *testing.T
	code   int
	body   []byte
	header http.Header
}

func (r *testResponse) requireStatus(want int) {
	r.t.Helper()
	require.Equal(r.t, want, r.code, string(r.body))
}

func (r *testResponse) decode(v any) {
	r.t.Helper()
	require.NoError(r.t, json.Unmarshal(r.body, v), string(r.body))
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "grideye.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestShowStatus(t *testing.T) {
	n := newTestNode(t, nil)

	resp := n.serve(t, http.MethodGet, "/api/status", nil)
	resp.requireStatus(http.StatusOK)
	var st struct {
		Background struct {
			Phase   string `json:"phase"`
			Samples int    `json:"samples"`
		} `json:"background"`
		Mode   string `json:"mode"`
		Frames int    `json:"frames"`
	}
	resp.decode(&st)
	assert.Equal(t, "CALIBRATING", st.Background.Phase)
	assert.Equal(t, "ANY", st.Mode)
	assert.Zero(t, st.Frames)

	n.serve(t, http.MethodPost, "/api/status", nil).requireStatus(http.StatusMethodNotAllowed)
}

func TestConfigGetAndUpdate(t *testing.T) {
	n := newTestNode(t, nil)

	resp := n.serve(t, http.MethodGet, "/api/config", nil)
	resp.requireStatus(http.StatusOK)
	var got map[string]any
	resp.decode(&got)
	assert.Equal(t, "ANY", got["mode"])
	assert.Equal(t, 2.0, got["background_window"])

	resp = n.serve(t, http.MethodPut, "/api/config", `{"mode": "ABSOLUTE", "threshold_abs": 25}`)
	resp.requireStatus(http.StatusOK)
	got = nil
	resp.decode(&got)
	assert.Equal(t, "ABSOLUTE", got["mode"])

	st := n.proc.Status()
	assert.Equal(t, detect.ModeAbsolute, st.Mode)
	assert.Equal(t, 25.0, st.Absolute)

	tests := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"mode": "HOTTEST"}`},
		{"unknown field", `{"modes": "ANY"}`},
		{"not json", `mode=ANY`},
		{"bad window", `{"background_window": 0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n.serve(t, http.MethodPut, "/api/config", tt.body).requireStatus(http.StatusBadRequest)
			assert.Equal(t, detect.ModeAbsolute, n.proc.Status().Mode, "rejected update leaves settings alone")
		})
	}

	n.serve(t, http.MethodDelete, "/api/config", nil).requireStatus(http.StatusMethodNotAllowed)
}

func TestShowFrame(t *testing.T) {
	n := newTestNode(t, nil)

	n.serve(t, http.MethodGet, "/api/frame", nil).requireStatus(http.StatusNotFound)

	n.feed(t, testutil.Reading(testutil.Scene(4, 4, 20), nil))
	resp := n.serve(t, http.MethodGet, "/api/frame", nil)
	resp.requireStatus(http.StatusOK)
	var rec processor.Record
	resp.decode(&rec)
	assert.Equal(t, processor.SourceDevice, rec.Source)
	assert.Equal(t, 4, rec.Rows)
	assert.Len(t, rec.Colours, 16)
}

func TestMaskToggle(t *testing.T) {
	n := newTestNode(t, nil)

	resp := n.serve(t, http.MethodGet, "/api/mask", nil)
	resp.requireStatus(http.StatusOK)
	assert.JSONEq(t, `{"rows":4,"cols":4,"cells":[]}`, string(resp.body))

	resp = n.serve(t, http.MethodPost, "/api/mask/toggle", map[string]int{"x": 1, "y": 2})
	resp.requireStatus(http.StatusOK)
	assert.JSONEq(t, `{"X":2,"Y":3,"CELL":"SET"}`, string(resp.body), "acknowledgement is 1-based")
	assert.Equal(t, []alarm.Cell{{X: 1, Y: 2}}, n.proc.Status().Mask)

	resp = n.serve(t, http.MethodGet, "/api/mask", nil)
	assert.JSONEq(t, `{"rows":4,"cols":4,"cells":[{"x":1,"y":2}]}`, string(resp.body))

	resp = n.serve(t, http.MethodPost, "/api/mask/toggle", map[string]int{"x": 1, "y": 2})
	assert.JSONEq(t, `{"X":2,"Y":3,"CELL":"RESET"}`, string(resp.body))
	assert.Empty(t, n.proc.Status().Mask)

	bad := []struct {
		name string
		body any
	}{
		{"missing y", map[string]int{"x": 1}},
		{"outside grid", map[string]int{"x": 4, "y": 0}},
		{"negative", map[string]int{"x": -1, "y": 0}},
		{"garbage", "not json"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			n.serve(t, http.MethodPost, "/api/mask/toggle", tt.body).requireStatus(http.StatusBadRequest)
		})
	}
	n.serve(t, http.MethodGet, "/api/mask/toggle", nil).requireStatus(http.StatusMethodNotAllowed)
}

func TestResetAlarm(t *testing.T) {
	n := newTestNode(t, nil)

	resp := n.serve(t, http.MethodPost, "/api/alarm/reset", nil)
	resp.requireStatus(http.StatusOK)
	assert.JSONEq(t, `{"alarm":"RESET"}`, string(resp.body))
	assert.False(t, n.proc.Status().AlarmTriggered)

	n.serve(t, http.MethodGet, "/api/alarm/reset", nil).requireStatus(http.StatusMethodNotAllowed)
}

func TestRecalibrate(t *testing.T) {
	n := newTestNode(t, nil)
	n.calibrate(t)
	require.Equal(t, "STEADY", n.proc.Status().Background.Phase.String())

	resp := n.serve(t, http.MethodPost, "/api/background", nil)
	resp.requireStatus(http.StatusOK)
	var st map[string]any
	resp.decode(&st)
	assert.Equal(t, "CALIBRATING", st["phase"])
	assert.Equal(t, 0.0, st["samples"])
}

func TestProcessorUnavailable(t *testing.T) {
	hub := NewHub()
	proc, err := processor.New(testProcessorConfig(), processor.Sinks{}, nil)
	require.NoError(t, err)
	handler := NewServer(proc, nil, hub).ServeMux()

	// Run never started: nothing picks the request up.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := testutil.NewTestRequest(t, http.MethodPost, "/api/alarm/reset", nil).WithContext(ctx)
	w := testutil.Serve(handler, req)
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
	assert.Contains(t, w.Body.String(), "processor unavailable")
}

func TestListAlarms(t *testing.T) {
	t.Run("no database", func(t *testing.T) {
		n := newTestNode(t, nil)
		resp := n.serve(t, http.MethodGet, "/api/alarms", nil)
		resp.requireStatus(http.StatusOK)
		assert.JSONEq(t, `[]`, string(resp.body))
	})

	t.Run("recorded events", func(t *testing.T) {
		database := newTestDB(t)
		for i, kind := range []string{"SET", "RESET", "SET"} {
			require.NoError(t, database.RecordAlarmEvent(&db.AlarmEvent{
				Kind:   kind,
				Time:   testStart.Add(time.Duration(i) * time.Minute),
				Points: []grid.Point{{X: 1, Y: 1, Value: 27}},
			}))
		}
		n := newTestNode(t, database)

		resp := n.serve(t, http.MethodGet, "/api/alarms", nil)
		resp.requireStatus(http.StatusOK)
		var events []db.AlarmEvent
		resp.decode(&events)
		require.Len(t, events, 3)
		assert.True(t, testStart.Add(2*time.Minute).Equal(events[0].Time), "newest first")

		resp = n.serve(t, http.MethodGet, "/api/alarms?limit=1", nil)
		events = nil
		resp.decode(&events)
		assert.Len(t, events, 1)

		for _, limit := range []string{"0", "-3", "lots"} {
			n.serve(t, http.MethodGet, "/api/alarms?limit="+limit, nil).requireStatus(http.StatusBadRequest)
		}
	})
}

func TestSnapshotPNG(t *testing.T) {
	n := newTestNode(t, nil)
	n.serve(t, http.MethodGet, "/api/snapshot.png", nil).requireStatus(http.StatusNotFound)

	n.feed(t, testutil.Reading(testutil.Scene(4, 4, 20), nil))

	tests := []struct {
		query string
		want  int
	}{
		{"", defaultSnapshotSize},
		{"?size=32", 32},
		{"?source=frame&size=16&smooth=1", 16},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := n.serve(t, http.MethodGet, "/api/snapshot.png"+tt.query, nil)
			resp.requireStatus(http.StatusOK)
			assert.Equal(t, "image/png", resp.header.Get("Content-Type"))
			img, err := png.Decode(bytes.NewReader(resp.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, img.Bounds().Dx())
			assert.Equal(t, tt.want, img.Bounds().Dy())
		})
	}

	for _, q := range []string{"?source=sky", "?size=0", "?size=99999", "?size=big"} {
		n.serve(t, http.MethodGet, "/api/snapshot.png"+q, nil).requireStatus(http.StatusBadRequest)
	}
}

func TestHeatmapPNG(t *testing.T) {
	n := newTestNode(t, nil)
	n.serve(t, http.MethodGet, "/api/heatmap.png", nil).requireStatus(http.StatusNotFound)

	n.calibrate(t)
	for _, source := range []string{"frame", "background"} {
		resp := n.serve(t, http.MethodGet, "/api/heatmap.png?source="+source, nil)
		resp.requireStatus(http.StatusOK)
		_, err := png.Decode(bytes.NewReader(resp.body))
		require.NoError(t, err, source)
	}
}

func TestHeatmapDebugPage(t *testing.T) {
	n := newTestNode(t, nil)
	n.serve(t, http.MethodGet, "/debug/thermal/heatmap", nil).requireStatus(http.StatusNotFound)

	n.calibrate(t)
	resp := n.serve(t, http.MethodGet, "/debug/thermal/heatmap", nil)
	resp.requireStatus(http.StatusOK)
	assert.Contains(t, string(resp.body), "Frame")
	assert.Contains(t, string(resp.body), "Background")
}

func TestStaticFiles(t *testing.T) {
	n := newTestNode(t, nil)

	resp := n.serve(t, http.MethodGet, "/", nil)
	resp.requireStatus(http.StatusOK)
	assert.Contains(t, string(resp.body), "<title>GridEye</title>")

	resp = n.serve(t, http.MethodGet, "/grideye.js", nil)
	resp.requireStatus(http.StatusOK)
	assert.Contains(t, string(resp.body), "new WebSocket")
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"implicit ok", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) }, http.StatusOK},
		{"explicit status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }, http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *loggingResponseWriter
			h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = w.(*loggingResponseWriter)
				tt.handler(w, r)
			}))
			w := testutil.Serve(h, testutil.NewTestRequest(t, http.MethodGet, "/api/status?x=1", nil))
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.want, seen.statusCode)
		})
	}
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "101", statusCodeColor(101))
}
