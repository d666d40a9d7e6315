package capture

import (
	"context"
	"fmt"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
)

// Size is a capture resolution
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// String returns the size as WIDTHxHEIGHT
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Area returns the pixel count
func (s Size) Area() int {
	return s.Width * s.Height
}

// Facing selects which camera a multi-camera source should open
type Facing string

const (
	FacingAny   Facing = "any"
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// FocusModeContinuousVideo is requested whenever a device advertises it
const FocusModeContinuousVideo = "continuous-video"

// Info describes what an opened device advertises
type Info struct {
	Name       string              `json:"name"`
	Brand      string              `json:"brand"`
	Model      string              `json:"model"`
	Sizes      []Size              `json:"sizes"`
	Formats    []frame.PixelFormat `json:"formats"`
	FocusModes []string            `json:"focus_modes"`
}

// Params are the negotiated capture parameters
type Params struct {
	Size          Size              `json:"size"`
	Format        frame.PixelFormat `json:"format"`
	RecordingHint bool              `json:"recording_hint"`
	FocusMode     string            `json:"focus_mode,omitempty"`
	FPS           int               `json:"fps"`
}

// FrameCallback receives one raw frame in a buffer previously handed to
// AddCallbackBuffer. The buffer is not re-armed until the receiver calls
// AddCallbackBuffer again.
type FrameCallback func(data []byte)

// Stats counts callback activity of a source
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Starved   uint64 `json:"starved"`
}

// Source defines the interface for camera capture backends.
//
// Sources deliver frames in callback-with-buffer mode: each delivery consumes
// one buffer queued by AddCallbackBuffer, and a frame arriving while no buffer
// is queued is dropped.
type Source interface {
	// Open acquires the device
	Open() error

	// Info returns what the opened device advertises
	Info() Info

	// Configure applies negotiated parameters and returns what the device accepted
	Configure(params Params) (Params, error)

	// SetFrameCallback registers the delivery callback, nil unregisters
	SetFrameCallback(cb FrameCallback)

	// AddCallbackBuffer queues an empty buffer for the next delivery.
	// It is a no-op once the source has been released.
	AddCallbackBuffer(buf []byte)

	// StartPreview starts frame delivery
	StartPreview(ctx context.Context) error

	// StopPreview stops frame delivery. Safe to call when not started.
	StopPreview() error

	// Release frees the device. Safe to call more than once.
	Release() error

	// Name returns a human-readable name for this source
	Name() string

	// Stats returns callback counters
	Stats() Stats
}
