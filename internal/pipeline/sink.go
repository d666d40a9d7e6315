package pipeline

import "github.com/bryanchriswhite/CameraBridge/internal/frame"

// Sink consumes delivered frames.
//
// Deliver is called synchronously on the delivery goroutine, one frame at a
// time. The frame and anything obtained from it are only valid until Deliver
// returns. Deliver must not call Close on the bridge that invoked it.
type Sink interface {
	Deliver(f *frame.Decoded) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(f *frame.Decoded) error

// Deliver calls fn(f)
func (fn SinkFunc) Deliver(f *frame.Decoded) error {
	return fn(f)
}

var discard = SinkFunc(func(*frame.Decoded) error { return nil })
