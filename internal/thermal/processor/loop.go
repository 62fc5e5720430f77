package processor

import (
	"context"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/device"
)

type request struct {
	fn   func(*Processor) error
	done chan error
}

// Run owns the processor until ctx is cancelled or readings is closed.
// Readings and requests submitted through Do are handled one at a time in
// arrival order, so commands always land between two frames. It writes the
// stored relay state to the board before the first reading.
func (p *Processor) Run(ctx context.Context, readings <-chan device.Reading) error {
	p.WriteStatus()
	logf("running: %dx%d grid, mode %s", p.cfg.GridRows, p.cfg.GridCols, p.engine.Config().Threshold.Mode)

	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-readings:
			if !ok {
				logf("reading channel closed")
				return nil
			}
			if _, err := p.ProcessReading(r); err != nil {
				logf("dropping reading: %v", err)
			}
		case req := <-p.requests:
			req.done <- req.fn(p)
		}
	}
}

// Do runs fn on the processor goroutine and returns its error. It blocks
// until Run picks the request up or ctx ends.
func (p *Processor) Do(ctx context.Context, fn func(*Processor) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Command applies m on the processor goroutine. Failures are also reported
// to the UI as an ERROR message.
func (p *Processor) Command(ctx context.Context, m Message) error {
	return p.Do(ctx, func(p *Processor) error {
		err := p.HandleCommand(m)
		if err != nil {
			p.emit(Message{KeyError: err.Error()})
		}
		return err
	})
}
