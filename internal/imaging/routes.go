// Package imaging converts raw camera frames to RGBA using OpenCV.
//
// The conversion routine for each source format is chosen from an explicit
// table rather than derived from the format name, because the "natural"
// OpenCV code for YV12 produces swapped chroma on the devices this bridge
// targets. See routeTable.
package imaging

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
)

// Route describes how one source format is converted to RGBA
type Route struct {
	Format frame.PixelFormat `json:"format"`

	// Code is the conversion code actually used
	Code gocv.ColorConversionCode `json:"code"`

	// Natural is the code a reader would pick from the format name alone
	Natural gocv.ColorConversionCode `json:"natural"`

	// Note explains a deviation from Natural, empty when Code == Natural
	Note string `json:"note,omitempty"`
}

// Deviates reports whether the route overrides the natural conversion code
func (r Route) Deviates() bool {
	return r.Code != r.Natural
}

// routeTable maps every supported capture format to its conversion routine.
//
// YV12 deliberately uses the I420 (IYUV) code: YV12 buffers delivered by the
// affected devices carry their chroma planes in U,V order, and
// ColorYUV2RGBAYV12 renders them with red and blue inverted.
var routeTable = map[frame.PixelFormat]Route{
	frame.FormatNV21: {
		Format:  frame.FormatNV21,
		Code:    gocv.ColorYUV2RGBANV21,
		Natural: gocv.ColorYUV2RGBANV21,
	},
	frame.FormatYV12: {
		Format:  frame.FormatYV12,
		Code:    gocv.ColorYUV2RGBAIYUV,
		Natural: gocv.ColorYUV2RGBAYV12,
		Note:    "YV12 code inverts red/blue on these devices; chroma is read in I420 order",
	},
}

// RouteFor returns the conversion route for a source format
func RouteFor(format frame.PixelFormat) (Route, error) {
	route, ok := routeTable[format]
	if !ok {
		return Route{}, fmt.Errorf("no conversion route for format %s", format)
	}
	return route, nil
}

// Routes returns the conversion table in a stable order
func Routes() []Route {
	routes := make([]Route, 0, len(routeTable))
	for _, f := range frame.Formats() {
		if route, ok := routeTable[f]; ok {
			routes = append(routes, route)
		}
	}
	return routes
}

var codeNames = map[gocv.ColorConversionCode]string{
	gocv.ColorYUV2RGBANV21: "COLOR_YUV2RGBA_NV21",
	gocv.ColorYUV2RGBANV12: "COLOR_YUV2RGBA_NV12",
	gocv.ColorYUV2RGBAYV12: "COLOR_YUV2RGBA_YV12",
	gocv.ColorYUV2RGBAIYUV: "COLOR_YUV2RGBA_IYUV",
}

// CodeName returns the OpenCV name of a conversion code
func CodeName(code gocv.ColorConversionCode) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(code))
}
