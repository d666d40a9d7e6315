package output

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
	"github.com/bryanchriswhite/CameraBridge/internal/overlay"
)

// Renderer draws on a frame before it reaches the outputs
type Renderer interface {
	Render(img *image.RGBA, info overlay.FrameInfo)
}

// Dispatcher is a pipeline sink that converts each delivered frame to RGBA
// once, stamps the overlay and writes the result to every running output.
// A failing output is logged and never affects the other outputs or the pipeline.
type Dispatcher struct {
	mu       sync.RWMutex
	outputs  []Output
	renderer Renderer

	frames       uint64
	outputErrors uint64
}

// NewDispatcher creates a dispatcher; renderer may be nil
func NewDispatcher(renderer Renderer, outputs ...Output) *Dispatcher {
	return &Dispatcher{
		renderer: renderer,
		outputs:  outputs,
	}
}

// AddOutput registers another output
func (d *Dispatcher) AddOutput(o Output) {
	d.mu.Lock()
	d.outputs = append(d.outputs, o)
	d.mu.Unlock()
}

// Outputs returns the registered outputs
func (d *Dispatcher) Outputs() []Output {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Output(nil), d.outputs...)
}

// Deliver converts f and fans it out. Only a conversion failure is returned.
func (d *Dispatcher) Deliver(f *frame.Decoded) error {
	img, err := f.RGBA()
	if err != nil {
		return fmt.Errorf("failed to convert frame %d: %w", f.Seq(), err)
	}
	atomic.AddUint64(&d.frames, 1)

	if d.renderer != nil {
		d.renderer.Render(img, overlay.FrameInfo{
			Seq:       f.Seq(),
			Index:     f.Index(),
			Format:    f.Format().String(),
			Width:     f.Width(),
			Height:    f.Height(),
			Timestamp: time.Now(),
		})
	}

	for _, o := range d.Outputs() {
		if !o.IsRunning() {
			continue
		}
		if err := o.WriteFrame(img); err != nil {
			n := atomic.AddUint64(&d.outputErrors, 1)
			// Log the first failure and then every 100th to keep a broken output from flooding
			if n == 1 || n%100 == 0 {
				logger.WithComponent("dispatcher").Warn().
					Err(err).
					Str("output", o.Name()).
					Uint64("errors", n).
					Msg("Output failed to write frame")
			}
		}
	}
	return nil
}

// Stop stops every output
func (d *Dispatcher) Stop() {
	for _, o := range d.Outputs() {
		if err := o.Stop(); err != nil {
			logger.WithComponent("dispatcher").Error().Err(err).Str("output", o.Name()).Msg("Failed to stop output")
		}
	}
}

// Frames returns the number of frames converted
func (d *Dispatcher) Frames() uint64 {
	return atomic.LoadUint64(&d.frames)
}

// OutputErrors returns the number of failed output writes
func (d *Dispatcher) OutputErrors() uint64 {
	return atomic.LoadUint64(&d.outputErrors)
}
