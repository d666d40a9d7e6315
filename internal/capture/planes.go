package capture

import (
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
)

// YV12 frames handed to a FrameCallback carry the U plane before the V
// plane, the order the YV12 conversion route reads. Hardware that emits
// true YV12 (V before U) has its chroma planes swapped on the way in.

// swapChromaPlanes exchanges the two quarter-size chroma planes of a
// planar 4:2:0 buffer in place. Buffers shorter than a full frame are left
// untouched.
func swapChromaPlanes(buf []byte, w, h int) bool {
	luma := w * h
	quarter := luma / 4
	if w <= 0 || h <= 0 || len(buf) < luma+2*quarter {
		return false
	}
	first := buf[luma : luma+quarter]
	second := buf[luma+quarter : luma+2*quarter]
	for i := range first {
		first[i], second[i] = second[i], first[i]
	}
	return true
}

// advisoryParams logs the parameters a source records but cannot apply and
// returns params with the focus mode cleared, since none of the streaming
// sources drive a focus motor.
func advisoryParams(log *zerolog.Logger, params Params) Params {
	if params.RecordingHint {
		log.Debug().
			Str("format", params.Format.String()).
			Msg("Recording hint set, no source-side recording tuning available")
	}
	if params.FocusMode != "" {
		log.Info().
			Str("focus_mode", params.FocusMode).
			Msg("Focus mode not supported by source, using fixed focus")
		params.FocusMode = ""
	}
	return params
}

// chromaSwapped reports whether a driver fourcc carries V before U
func chromaSwapped(format frame.PixelFormat, fourcc uint32) bool {
	return format == frame.FormatYV12 && fourcc == fourCCCode('Y', 'V', '1', '2')
}
