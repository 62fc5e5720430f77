package serialmux

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// settleDelay is how long the board needs after the port opens before its
// output can be trusted. It resets on DTR and prints a banner first.
var settleDelay = 2 * time.Second

type inputResetter interface {
	ResetInputBuffer() error
}

// settle waits for the board to come up and discards whatever it sent in
// the meantime.
func settle(port inputResetter, delay time.Duration) error {
	time.Sleep(delay)
	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flush input: %w", err)
	}
	return nil
}

// NewRealSerialMux opens the relay board's serial port at path and returns a
// SerialMux over it once the board has settled.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := settle(port, settleDelay); err != nil {
		port.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return NewSerialMux[serial.Port](port), nil
}
