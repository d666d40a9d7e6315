package output

import (
	"image"
)

// Output defines the interface for frame output mechanisms:
// - MJPEG HTTP stream
// - X11 preview window
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output.
	// The image is only valid for the duration of the call.
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width   int
	Height  int
	FPS     int
	Quality int // JPEG quality for encoding outputs, 1-100
}
