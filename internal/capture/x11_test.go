package capture

import (
	"image"
	"testing"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/imaging"
)

func TestSizesWithin(t *testing.T) {
	sizes := []Size{{320, 240}, {640, 480}, {1280, 720}, {1920, 1080}}

	got := sizesWithin(sizes, 1280, 800)
	want := []Size{{320, 240}, {640, 480}, {1280, 720}}
	if len(got) != len(want) {
		t.Fatalf("sizes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sizes[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if got := sizesWithin(sizes, 100, 100); len(got) != 0 {
		t.Errorf("tiny screen advertised %v", got)
	}
}

func TestScreenSourceOpenWithoutServer(t *testing.T) {
	s := NewScreenSource(X11Config{Display: ":4242"})
	if err := s.Open(); err == nil {
		s.Release()
		t.Skip("an X server answered on :4242")
	}

	// Release after a failed Open is a no-op
	if err := s.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}
	if info := s.Info(); len(info.Sizes) != 0 {
		t.Errorf("closed source advertised sizes %v", info.Sizes)
	}
}

// solidBGRA returns a ZPixmap image of one color
func solidBGRA(w, h int, r, g, b byte) []byte {
	buf := make([]byte, w*h*4)
	for i := 0; i < len(buf); i += 4 {
		buf[i], buf[i+1], buf[i+2], buf[i+3] = b, g, r, 0
	}
	return buf
}

func TestScreenFramesConvertBack(t *testing.T) {
	const w, h = 16, 8

	for _, format := range []frame.PixelFormat{frame.FormatNV21, frame.FormatYV12} {
		t.Run(format.String(), func(t *testing.T) {
			raw := frame.NewRaw(w, h, format)
			buf := make([]byte, raw.Len())
			if err := bgraToYUV420(solidBGRA(w, h, 220, 30, 30), w, h, format, buf); err != nil {
				t.Fatalf("bgraToYUV420: %v", err)
			}
			raw.Put(buf, 1)

			rgba := image.NewRGBA(image.Rect(0, 0, w, h))
			if err := imaging.NewConverter().Convert(raw, rgba); err != nil {
				t.Fatalf("Convert: %v", err)
			}

			// Red must survive the round trip through the format's route
			c := rgba.RGBAAt(w/2, h/2)
			if c.R < 180 || c.B > 80 || c.G > 80 {
				t.Errorf("pixel = %v, want red", c)
			}
		})
	}
}

func TestBGRAToYUV420Errors(t *testing.T) {
	const w, h = 4, 4
	dst := make([]byte, w*h*3/2)

	if err := bgraToYUV420(make([]byte, 10), w, h, frame.FormatNV21, dst); err == nil {
		t.Error("short image accepted")
	}
	if err := bgraToYUV420(solidBGRA(w, h, 0, 0, 0), w, h, frame.FormatNV21, dst[:5]); err == nil {
		t.Error("short destination accepted")
	}
	if err := bgraToYUV420(solidBGRA(w, h, 0, 0, 0), w, h, frame.FormatUnknown, dst); err == nil {
		t.Error("unknown format accepted")
	}
}
