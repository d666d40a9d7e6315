package frame

import (
	"fmt"
	"strings"
)

// PixelFormat identifies the layout of a raw camera buffer
type PixelFormat int

const (
	// FormatUnknown is the zero value and never a valid capture format
	FormatUnknown PixelFormat = iota
	// FormatNV21 is semi-planar YUV 4:2:0: a full Y plane followed by interleaved V/U samples
	FormatNV21
	// FormatYV12 is planar YUV 4:2:0: a full Y plane followed by two quarter-size chroma planes
	FormatYV12
)

// String returns the lowercase name used in configuration files
func (f PixelFormat) String() string {
	switch f {
	case FormatNV21:
		return "nv21"
	case FormatYV12:
		return "yv12"
	default:
		return "unknown"
	}
}

// BitsPerPixel returns the average storage cost of one pixel
func (f PixelFormat) BitsPerPixel() int {
	switch f {
	case FormatNV21, FormatYV12:
		return 12
	default:
		return 0
	}
}

// Valid reports whether f is one of the supported capture formats
func (f PixelFormat) Valid() bool {
	return f.BitsPerPixel() > 0
}

// MarshalText implements encoding.TextMarshaler
func (f PixelFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *PixelFormat) UnmarshalText(text []byte) error {
	parsed, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParsePixelFormat converts a configuration string into a PixelFormat
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nv21":
		return FormatNV21, nil
	case "yv12":
		return FormatYV12, nil
	default:
		return FormatUnknown, fmt.Errorf("unsupported pixel format: %q (use nv21 or yv12)", s)
	}
}

// Formats returns every supported capture format
func Formats() []PixelFormat {
	return []PixelFormat{FormatNV21, FormatYV12}
}

// BufferSize returns the number of bytes one frame of the given geometry occupies
func BufferSize(width, height int, format PixelFormat) int {
	return width * height * format.BitsPerPixel() / 8
}
