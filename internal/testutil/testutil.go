// Package testutil provides shared test helpers and fixtures for the HTTP
// handlers and the thermal pipeline.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
)

// LoopbackAddr is a RemoteAddr that passes the debug handlers' local-only
// check.
const LoopbackAddr = "127.0.0.1:12345"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a request from the loopback address. A non-nil
// body is encoded as JSON unless it is already a string or []byte.
func NewTestRequest(t testing.TB, method, path string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	case []byte:
		r = bytes.NewReader(b)
	default:
		enc, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("encode request body: %v", err)
		}
		r = bytes.NewReader(enc)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = LoopbackAddr
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// DecodeJSON decodes a recorded response body into v.
func DecodeJSON(t testing.TB, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// Scene returns a rows x cols frame at ambient with a gentle gradient, so
// every cell is distinct but well under any detection threshold.
func Scene(rows, cols int, ambient float64) []float64 {
	out := make([]float64, rows*cols)
	for i := range out {
		out[i] = ambient + float64(i%cols)*0.1
	}
	return out
}

// Reading wraps temperatures in a board reading. hot overrides individual
// cells by flat index.
func Reading(temps []float64, hot map[int]float64) device.Reading {
	t := append([]float64(nil), temps...)
	for i, v := range hot {
		t[i] = v
	}
	return device.Reading{Temperatures: t, Fields: map[string]json.RawMessage{}}
}
