package serialmux

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeResetter struct {
	resets int
	err    error
}

func (f *fakeResetter) ResetInputBuffer() error {
	f.resets++
	return f.err
}

func TestSettle(t *testing.T) {
	port := &fakeResetter{}
	assert.NoError(t, settle(port, 0))
	assert.Equal(t, 1, port.resets)

	port.err = errors.New("port gone")
	assert.ErrorContains(t, settle(port, 0), "flush input")
}

func TestNewRealSerialMux_Errors(t *testing.T) {
	_, err := NewRealSerialMux(filepath.Join(t.TempDir(), "ttyNONE"), PortOptions{})
	assert.Error(t, err)

	_, err = NewRealSerialMux("/dev/null", PortOptions{Parity: "X"})
	assert.ErrorContains(t, err, "parity")
}
