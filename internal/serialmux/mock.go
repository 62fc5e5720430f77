package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errMockClosed = errors.New("serial port closed")

// TestableSerialPort is an in-memory SerialPorter for tests. Reads block
// until data is fed with AddReadData or the port is closed, the way a real
// port with no timeout behaves.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	read    bytes.Buffer
	written bytes.Buffer

	// WriteError, if set, fails the next Write.
	WriteError error
	// ReadError, if set, fails the next Read.
	ReadError error
	closed    bool
}

// NewTestableSerialPort returns an empty, open port.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.readCond = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && t.ReadError == nil && t.read.Len() == 0 {
		t.readCond.Wait()
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.closed {
		return 0, errMockClosed
	}
	return t.read.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errMockClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	return t.written.Write(p)
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.readCond.Broadcast()
	return nil
}

// AddReadData queues data for subsequent reads.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.read.Write(data)
	t.readCond.Broadcast()
}

// FailRead makes the next (or a currently blocked) Read return err.
func (t *TestableSerialPort) FailRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
	t.readCond.Broadcast()
}

// Written returns everything written to the port so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
