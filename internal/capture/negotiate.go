package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
)

// ErrNoSupportedSizes is returned when a device advertises no preview sizes
var ErrNoSupportedSizes = errors.New("device advertises no supported preview sizes")

// Preferences are the caller's wishes for a capture session
type Preferences struct {
	// Width and Height bound the preview size; zero means unbounded
	Width  int
	Height int
	FPS    int

	// Format forces a pixel format; FormatUnknown selects automatically
	Format frame.PixelFormat

	// YV12BrandPrefixes lists device brands that only deliver YV12
	YV12BrandPrefixes []string

	// RecordingHintExcludedModels lists device models that misbehave with the recording hint
	RecordingHintExcludedModels []string
}

// SelectSize picks the largest supported size that fits inside maxWidth x maxHeight.
// When nothing fits the smallest supported size is returned.
func SelectSize(supported []Size, maxWidth, maxHeight int) (Size, error) {
	if len(supported) == 0 {
		return Size{}, ErrNoSupportedSizes
	}

	var best Size
	smallest := supported[0]
	for _, s := range supported {
		if s.Area() < smallest.Area() {
			smallest = s
		}
		if maxWidth > 0 && s.Width > maxWidth {
			continue
		}
		if maxHeight > 0 && s.Height > maxHeight {
			continue
		}
		if s.Width > best.Width || (s.Width == best.Width && s.Height > best.Height) {
			best = s
		}
	}

	if best.Area() == 0 {
		return smallest, nil
	}
	return best, nil
}

// SelectFormat picks the capture format for a device.
// NV21 is the default; brands matching a YV12 prefix get YV12.
func SelectFormat(info Info, prefs Preferences) (frame.PixelFormat, error) {
	if prefs.Format != frame.FormatUnknown {
		if !supportsFormat(info, prefs.Format) {
			return frame.FormatUnknown, fmt.Errorf("device does not support %s", prefs.Format)
		}
		return prefs.Format, nil
	}

	want := frame.FormatNV21
	brand := strings.ToLower(info.Brand)
	for _, prefix := range prefs.YV12BrandPrefixes {
		if prefix != "" && strings.HasPrefix(brand, strings.ToLower(prefix)) {
			want = frame.FormatYV12
			break
		}
	}

	if supportsFormat(info, want) {
		return want, nil
	}
	for _, f := range frame.Formats() {
		if supportsFormat(info, f) {
			return f, nil
		}
	}
	return frame.FormatUnknown, fmt.Errorf("device supports none of the capture formats")
}

// RecordingHint reports whether the recording hint should be set for a device model
func RecordingHint(model string, excluded []string) bool {
	for _, m := range excluded {
		if m == model {
			return false
		}
	}
	return true
}

// Negotiate derives capture parameters from device info and preferences
func Negotiate(info Info, prefs Preferences) (Params, error) {
	size, err := SelectSize(info.Sizes, prefs.Width, prefs.Height)
	if err != nil {
		return Params{}, err
	}

	format, err := SelectFormat(info, prefs)
	if err != nil {
		return Params{}, err
	}

	params := Params{
		Size:          size,
		Format:        format,
		RecordingHint: RecordingHint(info.Model, prefs.RecordingHintExcludedModels),
		FPS:           prefs.FPS,
	}
	for _, mode := range info.FocusModes {
		if mode == FocusModeContinuousVideo {
			params.FocusMode = mode
			break
		}
	}

	return params, nil
}

// supportsFormat treats an empty advertised list as "anything"
func supportsFormat(info Info, f frame.PixelFormat) bool {
	if len(info.Formats) == 0 {
		return true
	}
	for _, have := range info.Formats {
		if have == f {
			return true
		}
	}
	return false
}
