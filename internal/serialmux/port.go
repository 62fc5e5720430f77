package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware, and
// lets the synthetic demo source stand in for the board.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
