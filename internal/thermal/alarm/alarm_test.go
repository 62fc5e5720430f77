package alarm

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/monitoring"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/detect"
	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/grid"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func newMask(t *testing.T, cells ...Cell) *Mask {
	t.Helper()
	m, err := NewMask(8, 8)
	require.NoError(t, err)
	require.NoError(t, m.Apply(cells))
	return m
}

func objectAt(x, y int) *detect.Object {
	return detect.NewObject("1", grid.Point{X: x, Y: y, Value: 30})
}

func TestMask_Toggle(t *testing.T) {
	m := newMask(t)

	on, err := m.Toggle(2, 5)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, m.Get(2, 5))

	on, err = m.Toggle(2, 5)
	require.NoError(t, err)
	assert.False(t, on)
	assert.Empty(t, m.Cells())
}

func TestMask_InvalidCoordinates(t *testing.T) {
	m := newMask(t)
	for _, c := range []Cell{{-1, 0}, {0, -1}, {8, 0}, {0, 8}} {
		_, err := m.Toggle(c.X, c.Y)
		assert.ErrorIs(t, err, ErrInvalidZoneCoordinate, c.String())
		assert.ErrorIs(t, m.Set(c.X, c.Y, true), ErrInvalidZoneCoordinate)
		assert.False(t, m.Get(c.X, c.Y))
	}

	_, err := NewMask(0, 8)
	assert.Error(t, err)
}

func TestMask_CellsAndGrid(t *testing.T) {
	m := newMask(t, Cell{7, 7}, Cell{0, 1}, Cell{3, 2})

	want := []Cell{{0, 1}, {3, 2}, {7, 7}}
	if diff := cmp.Diff(want, m.Cells()); diff != "" {
		t.Errorf("Cells() mismatch (-want +got):\n%s", diff)
	}

	g := m.Grid()
	assert.Equal(t, 1.0, g.At(3, 2))
	assert.Equal(t, 0.0, g.At(2, 3))

	m.Clear()
	assert.Empty(t, m.Cells())
}

func TestMask_Covers(t *testing.T) {
	m := newMask(t, Cell{4, 4})
	assert.True(t, m.Covers(detect.NewObject("1",
		grid.Point{X: 3, Y: 3}, grid.Point{X: 4, Y: 4})))
	assert.False(t, m.Covers(objectAt(4, 5)))
	assert.False(t, m.Covers(detect.NewObject("empty")))
}

func TestParseCells(t *testing.T) {
	tests := []struct {
		in      string
		want    []Cell
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "(0,0)", want: []Cell{{0, 0}}},
		{in: "(1,2) (3,4)", want: []Cell{{1, 2}, {3, 4}}},
		{in: "  ( 5 , 6 )(7,0) ", want: []Cell{{5, 6}, {7, 0}}},
		{in: "1,2", wantErr: true},
		{in: "(1,2", wantErr: true},
		{in: "(1)", wantErr: true},
		{in: "(a,2)", wantErr: true},
		{in: "(1,b)", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCells(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "(1,2) (3,4)", FormatCells([]Cell{{1, 2}, {3, 4}}))
}

func TestHysteresis_ThresholdTwo(t *testing.T) {
	m := newMask(t, Cell{0, 0})
	h, err := NewHysteresis(m, 2, json.RawMessage(DefaultCommand))
	require.NoError(t, err)

	var fired []string
	handler := h.Handler(func(cmd json.RawMessage, _ *detect.Object) { fired = append(fired, string(cmd)) })
	frame := grid.Zeros(8, 8)

	handler(objectAt(0, 0), detect.ObjectIn, frame)
	assert.Empty(t, fired)
	assert.Equal(t, 1, h.Counter())

	handler(objectAt(0, 0), detect.ObjectIn, frame)
	assert.Equal(t, []string{DefaultCommand}, fired)
	assert.True(t, h.Triggered())
	assert.Equal(t, 0, h.Counter())

	handler(objectAt(0, 0), detect.ObjectIn, frame)
	assert.Len(t, fired, 1, "no second alarm while triggered")
	assert.Equal(t, 0, h.Counter())

	h.Reset()
	assert.False(t, h.Triggered())
	handler(objectAt(0, 0), detect.ObjectIn, frame)
	handler(objectAt(0, 0), detect.ObjectIn, frame)
	assert.Len(t, fired, 2)
}

func TestHysteresis_IgnoresOutsideZoneAndOutEvents(t *testing.T) {
	m := newMask(t, Cell{0, 0})
	h, err := NewHysteresis(m, 1, json.RawMessage(`{"NLR":1}`))
	require.NoError(t, err)

	var n int
	handler := h.Handler(func(json.RawMessage, *detect.Object) { n++ })

	handler(objectAt(5, 5), detect.ObjectIn, nil)
	handler(objectAt(0, 0), detect.ObjectOut, nil)
	assert.Zero(t, n)
	assert.Zero(t, h.Counter())

	handler(objectAt(0, 0), detect.ObjectIn, nil)
	assert.Equal(t, 1, n)
}

func TestHysteresis_MaskChangesApplyImmediately(t *testing.T) {
	m := newMask(t)
	h, err := NewHysteresis(m, 1, json.RawMessage(DefaultCommand))
	require.NoError(t, err)

	assert.False(t, h.ObjectIn(objectAt(2, 2)))
	_, err = m.Toggle(2, 2)
	require.NoError(t, err)
	assert.True(t, h.ObjectIn(objectAt(2, 2)))
}

func TestNewHysteresis_Validation(t *testing.T) {
	m := newMask(t)
	_, err := NewHysteresis(m, 0, json.RawMessage(DefaultCommand))
	assert.Error(t, err)
	_, err = NewHysteresis(nil, 1, json.RawMessage(DefaultCommand))
	assert.Error(t, err)
	_, err = NewHysteresis(m, 1, json.RawMessage(`[1,2]`))
	assert.Error(t, err)
	_, err = NewHysteresis(m, 1, json.RawMessage(`{"LR":`))
	assert.Error(t, err)
}

func TestHysteresis_CommandIsCopied(t *testing.T) {
	cmd := json.RawMessage(`{"LR":7}`)
	h, err := NewHysteresis(newMask(t), 1, cmd)
	require.NoError(t, err)
	cmd[6] = '1'
	assert.JSONEq(t, `{"LR":7}`, string(h.Command()))
}
