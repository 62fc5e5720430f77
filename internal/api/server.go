// Package api serves the node's HTTP interface: a JSON API over the
// processor, PNG and echarts renderings of the thermal grids, the embedded
// web UI and the websocket that carries UI messages and commands.
package api

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/config"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/db"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/httputil"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/render"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/alarm"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	// requestTimeout bounds how long a handler waits for the processor
	// goroutine.
	requestTimeout = 5 * time.Second

	defaultSnapshotSize = 256
)

//go:embed static
var staticFiles embed.FS

type Server struct {
	proc *processor.Processor
	db   *db.DB
	hub  *Hub
}

// NewServer wires the API to a processor. database may be nil, in which
// case the alarm log is empty. The hub should already be the processor's UI
// sink; NewServer routes its client traffic back to the processor.
func NewServer(proc *processor.Processor, database *db.DB, hub *Hub) *Server {
	s := &Server{proc: proc, db: database, hub: hub}
	hub.OnConnect = func(ctx context.Context) {
		err := proc.Do(ctx, func(p *processor.Processor) error {
			p.UpdateUI()
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[ws] replaying UI state failed: %v", err)
		}
	}
	hub.OnMessage = proc.Command
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack passes the connection through for the websocket upgrade.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/frame", s.showFrame)
	mux.HandleFunc("/api/mask", s.showMask)
	mux.HandleFunc("/api/mask/toggle", s.toggleMaskCell)
	mux.HandleFunc("/api/alarm/reset", s.resetAlarm)
	mux.HandleFunc("/api/background", s.recalibrate)
	mux.HandleFunc("/api/alarms", s.listAlarms)
	mux.HandleFunc("/api/snapshot.png", s.snapshotPNG)
	mux.HandleFunc("/api/heatmap.png", s.heatmapPNG)
	mux.Handle("/ws", s.hub)

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("/", http.FileServer(http.FS(static)))

	debug := tsweb.Debugger(mux)
	debug.HandleFunc("thermal/heatmap", "interactive heat maps of the frame and background", s.heatmapPage)
	return mux
}

// do runs fn on the processor goroutine with the request's deadline.
func (s *Server) do(r *http.Request, fn func(*processor.Processor) error) error {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	return s.proc.Do(ctx, fn)
}

// writeDoError maps an error from do to a response: timeouts mean the
// processor is busy, anything else was a rejected request.
func writeDoError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		httputil.ServiceUnavailable(w, "processor unavailable")
		return
	}
	httputil.BadRequest(w, err.Error())
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.proc.Status())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, config.EngineOverrides(s.proc.Config().Engine))

	case http.MethodPut, http.MethodPost:
		var update config.ProcessorConfig
		if err := httputil.DecodeBody(w, r, &update, true); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid config: %v", err))
			return
		}
		var applied processor.EngineConfig
		err := s.do(r, func(p *processor.Processor) error {
			next, err := update.ApplyEngine(p.Config().Engine)
			if err != nil {
				return err
			}
			applied = next
			return p.Reconfigure(next)
		})
		if err != nil {
			writeDoError(w, err)
			return
		}
		httputil.WriteJSONOK(w, config.EngineOverrides(applied))

	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showFrame(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	latest := s.proc.Latest()
	if latest == nil {
		httputil.NotFound(w, "no frame received yet")
		return
	}
	httputil.WriteJSONOK(w, latest)
}

func (s *Server) showMask(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	cfg := s.proc.Config()
	cells := s.proc.Status().Mask
	if cells == nil {
		cells = []alarm.Cell{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"rows":  cfg.GridRows,
		"cols":  cfg.GridCols,
		"cells": cells,
	})
}

// toggleMaskCell flips one cell. The body uses 0-based {"x": row, "y": col}
// like the rest of the JSON API; only the websocket speaks 1-based.
func (s *Server) toggleMaskCell(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	var cell struct {
		X *int `json:"x"`
		Y *int `json:"y"`
	}
	if err := httputil.DecodeBody(w, r, &cell, false); err != nil || cell.X == nil || cell.Y == nil {
		httputil.BadRequest(w, "body must be {\"x\": row, \"y\": col}")
		return
	}
	var ack processor.Message
	err := s.do(r, func(p *processor.Processor) error {
		var err error
		ack, err = p.ToggleCell(*cell.X, *cell.Y)
		return err
	})
	if err != nil {
		writeDoError(w, err)
		return
	}
	httputil.WriteJSONOK(w, ack)
}

func (s *Server) resetAlarm(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.do(r, func(p *processor.Processor) error { p.ResetAlarm(); return nil }); err != nil {
		writeDoError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"alarm": processor.ValueReset})
}

func (s *Server) recalibrate(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.do(r, func(p *processor.Processor) error { p.Recalibrate(); return nil }); err != nil {
		writeDoError(w, err)
		return
	}
	httputil.WriteJSONOK(w, s.proc.Status().Background)
}

func (s *Server) listAlarms(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit := db.DefaultAlarmEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	if s.db == nil {
		httputil.WriteJSONOK(w, []db.AlarmEvent{})
		return
	}
	events, err := s.db.RecentAlarmEvents(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve alarm events: %v", err))
		return
	}
	httputil.WriteJSONOK(w, events)
}

// selectGrid picks the grid named by the "source" query parameter.
func (s *Server) selectGrid(r *http.Request) (*grid.Grid, string, error) {
	frame, reference := s.proc.Grids()
	switch source := r.URL.Query().Get("source"); source {
	case "", "frame":
		return frame, "Frame", nil
	case "background", "reference":
		return reference, "Background", nil
	default:
		return nil, "", fmt.Errorf("unknown source %q", source)
	}
}

func sizeParam(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("size")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > render.MaxSnapshotSize {
		return 0, fmt.Errorf("size must be in [1, %d]", render.MaxSnapshotSize)
	}
	return n, nil
}

func (s *Server) snapshotPNG(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	g, _, err := s.selectGrid(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if g == nil {
		httputil.NotFound(w, "grid not available yet")
		return
	}
	size, err := sizeParam(r, defaultSnapshotSize)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	smooth := r.URL.Query().Get("smooth") == "1"

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := s.proc.Config().Ramp.Snapshot(w, g, size, size, smooth); err != nil {
		log.Printf("snapshot: %v", err)
	}
}

func (s *Server) heatmapPNG(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	g, title, err := s.selectGrid(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if g == nil {
		httputil.NotFound(w, "grid not available yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := render.HeatmapPNG(w, g, title, 4*vg.Inch); err != nil {
		log.Printf("heatmap: %v", err)
	}
}

func (s *Server) heatmapPage(w http.ResponseWriter, r *http.Request) {
	frame, reference := s.proc.Grids()
	var panels []render.Panel
	if frame != nil {
		panels = append(panels, render.Panel{Title: "Frame", Grid: frame})
	}
	if reference != nil {
		panels = append(panels, render.Panel{Title: "Background", Grid: reference})
	}
	if len(panels) == 0 {
		http.Error(w, "no frame received yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := render.HeatmapPage(w, s.proc.Config().Ramp, panels...); err != nil {
		log.Printf("heatmap page: %v", err)
	}
}
