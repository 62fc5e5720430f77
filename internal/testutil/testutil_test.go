package testutil

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestNewTestRequest(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantBody string
		wantType string
	}{
		{"no body", nil, "", ""},
		{"string", `{"x":1}`, `{"x":1}`, "application/json"},
		{"bytes", []byte("raw"), "raw", "application/json"},
		{"value", map[string]int{"x": 2}, `{"x":2}`, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewTestRequest(t, http.MethodPost, "/api/mask/toggle", tt.body)
			assert.Equal(t, LoopbackAddr, req.RemoteAddr)
			assert.Equal(t, "/api/mask/toggle", req.URL.Path)
			assert.Equal(t, tt.wantType, req.Header.Get("Content-Type"))
			b, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(b))
		})
	}
}

func TestServeAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"mode":"ANY"}`))
	})
	w := Serve(h, NewTestRequest(t, http.MethodGet, "/", nil))
	AssertStatusCode(t, w.Code, http.StatusOK)

	var got map[string]string
	DecodeJSON(t, w, &got)
	assert.Equal(t, "ANY", got["mode"])
}

func TestSceneAndReading(t *testing.T) {
	scene := Scene(2, 3, 20)
	assert.InDeltaSlice(t, []float64{20, 20.1, 20.2, 20, 20.1, 20.2}, scene, 1e-9)

	r := Reading(scene, map[int]float64{4: 30})
	assert.Equal(t, 30.0, r.Temperatures[4])
	assert.InDelta(t, 20.1, scene[4], 1e-9, "fixture left untouched")
	assert.NotNil(t, r.Fields)
}
