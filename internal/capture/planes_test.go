package capture

import (
	"bytes"
	"image"
	"strings"
	"testing"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/imaging"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
)

func TestSwapChromaPlanes(t *testing.T) {
	const w, h = 4, 2
	// 8 luma bytes, then 2 bytes per chroma plane
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8, 10, 11, 20, 21}

	if !swapChromaPlanes(buf, w, h) {
		t.Fatal("swap refused a full frame")
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 20, 21, 10, 11}
	if !bytes.Equal(buf, want) {
		t.Errorf("buf = %v, want %v", buf, want)
	}

	// Short buffers are left alone
	short := []byte{1, 2, 3}
	if swapChromaPlanes(short, w, h) {
		t.Error("swap accepted a short buffer")
	}
}

func TestFourCCs(t *testing.T) {
	testCases := []struct {
		format frame.PixelFormat
		want   []string
	}{
		{frame.FormatNV21, []string{"NV21"}},
		// U,V order first, V,U order only as a fallback
		{frame.FormatYV12, []string{"YU12", "YV12"}},
		{frame.FormatUnknown, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.format.String(), func(t *testing.T) {
			got := fourCCs(tc.format)
			if len(got) != len(tc.want) {
				t.Fatalf("fourccs = %d entries, want %v", len(got), tc.want)
			}
			for i, code := range got {
				if fourCCString(code) != tc.want[i] {
					t.Errorf("fourcc[%d] = %s, want %s", i, fourCCString(code), tc.want[i])
				}
			}
		})
	}
}

func TestChromaSwapped(t *testing.T) {
	testCases := []struct {
		name   string
		format frame.PixelFormat
		fourcc uint32
		want   bool
	}{
		{"yu12 for yv12", frame.FormatYV12, fourCCCode('Y', 'U', '1', '2'), false},
		{"yv12 for yv12", frame.FormatYV12, fourCCCode('Y', 'V', '1', '2'), true},
		{"nv21", frame.FormatNV21, fourCCCode('N', 'V', '2', '1'), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := chromaSwapped(tc.format, tc.fourcc); got != tc.want {
				t.Errorf("chromaSwapped = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGstFormat(t *testing.T) {
	testCases := []struct {
		format frame.PixelFormat
		want   string
		ok     bool
	}{
		{frame.FormatNV21, "NV21", true},
		// GStreamer's YV12 is V,U ordered; I420 keeps U first
		{frame.FormatYV12, "I420", true},
		{frame.FormatUnknown, "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.format.String(), func(t *testing.T) {
			got, ok := gstFormat(tc.format)
			if got != tc.want || ok != tc.ok {
				t.Errorf("gstFormat = (%q, %v), want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestPipelineStringCaps(t *testing.T) {
	s := NewGStreamerSource(GStreamerConfig{})
	s.params = Params{Size: Size{640, 480}, Format: frame.FormatYV12}

	caps := s.pipelineString()
	if !strings.Contains(caps, "format=I420,width=640,height=480") {
		t.Errorf("pipeline = %q, want I420 caps", caps)
	}
}

func convertCenter(t *testing.T, buf []byte, w, h int, format frame.PixelFormat) (r, g, b uint8) {
	t.Helper()
	raw := frame.NewRaw(w, h, format)
	raw.Put(buf, 1)
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := imaging.NewConverter().Convert(raw, rgba); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	c := rgba.RGBAAt(w/2, h/2)
	return c.R, c.G, c.B
}

func TestTrueYV12RestoredBySwap(t *testing.T) {
	const w, h = 16, 8

	buf := make([]byte, frame.BufferSize(w, h, frame.FormatYV12))
	if err := bgraToYUV420(solidBGRA(w, h, 220, 30, 30), w, h, frame.FormatYV12, buf); err != nil {
		t.Fatalf("bgraToYUV420: %v", err)
	}

	// What a V,U ordered device hands over
	swapChromaPlanes(buf, w, h)
	unswapped := append([]byte(nil), buf...)
	if r, _, b := convertCenter(t, unswapped, w, h, frame.FormatYV12); b <= r {
		t.Fatalf("V,U planes converted as r=%d b=%d, expected red and blue exchanged", r, b)
	}

	// The V4L2 fallback path swaps back before delivery
	swapChromaPlanes(buf, w, h)
	if r, g, b := convertCenter(t, buf, w, h, frame.FormatYV12); r < 180 || g > 80 || b > 80 {
		t.Errorf("pixel = (%d,%d,%d), want red", r, g, b)
	}
}

func TestAdvisoryParams(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWriter("debug", false, &buf)
	defer logger.Init("info", false)

	in := Params{
		Size:          Size{640, 480},
		Format:        frame.FormatNV21,
		RecordingHint: true,
		FocusMode:     FocusModeContinuousVideo,
	}
	got := advisoryParams(logger.WithComponent("v4l2"), in)

	if got.FocusMode != "" {
		t.Errorf("focus mode = %q, want cleared", got.FocusMode)
	}
	if !got.RecordingHint || got.Size != in.Size || got.Format != in.Format {
		t.Errorf("params = %+v, want everything but focus kept", got)
	}

	out := buf.String()
	if !strings.Contains(out, FocusModeContinuousVideo) {
		t.Errorf("log %q does not name the dropped focus mode", out)
	}
	if !strings.Contains(out, "Recording hint") {
		t.Errorf("log %q does not mention the recording hint", out)
	}
}
