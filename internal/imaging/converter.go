package imaging

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
)

// Converter converts raw 4:2:0 frames to RGBA with gocv.CvtColor.
// It holds no state and is safe for concurrent use.
type Converter struct{}

// NewConverter creates a new OpenCV-backed converter
func NewConverter() *Converter {
	return &Converter{}
}

// Convert implements frame.Converter
func (c *Converter) Convert(src *frame.Raw, dst *image.RGBA) error {
	route, err := RouteFor(src.Format())
	if err != nil {
		return err
	}
	return ConvertWithCode(src, dst, route.Code)
}

// ConvertWithCode converts src using an explicit conversion code.
// Used directly by tests and by tooling that compares codes.
func ConvertWithCode(src *frame.Raw, dst *image.RGBA, code gocv.ColorConversionCode) error {
	if err := src.Err(); err != nil {
		return err
	}

	w, h := src.Width(), src.Height()
	if dst.Bounds().Dx() != w || dst.Bounds().Dy() != h {
		return fmt.Errorf("destination size mismatch: got %dx%d, expected %dx%d",
			dst.Bounds().Dx(), dst.Bounds().Dy(), w, h)
	}

	// 4:2:0 layouts are handed to OpenCV as a single-channel image of h*3/2 rows
	yuv, err := gocv.NewMatFromBytes(h+h/2, w, gocv.MatTypeCV8UC1, src.Bytes())
	if err != nil {
		return fmt.Errorf("failed to wrap raw frame: %w", err)
	}
	defer yuv.Close()

	rgba := gocv.NewMat()
	defer rgba.Close()

	gocv.CvtColor(yuv, &rgba, code)
	if rgba.Empty() || rgba.Cols() != w || rgba.Rows() != h || rgba.Channels() != 4 {
		return fmt.Errorf("conversion code %d produced %dx%dx%d, expected %dx%dx4",
			code, rgba.Cols(), rgba.Rows(), rgba.Channels(), w, h)
	}

	copy(dst.Pix, rgba.ToBytes())
	return nil
}
