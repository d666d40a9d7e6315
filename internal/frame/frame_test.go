package frame

import (
	"errors"
	"image"
	"testing"
)

type fillConverter struct {
	calls int
}

func (c *fillConverter) Convert(src *Raw, dst *image.RGBA) error {
	c.calls++
	v := src.Bytes()[0]
	for i := range dst.Pix {
		dst.Pix[i] = v
	}
	return nil
}

func TestBufferSize(t *testing.T) {
	testCases := []struct {
		name   string
		width  int
		height int
		format PixelFormat
		want   int
	}{
		{"nv21 vga", 640, 480, FormatNV21, 460800},
		{"yv12 vga", 640, 480, FormatYV12, 460800},
		{"nv21 tiny", 4, 2, FormatNV21, 12},
		{"unknown", 640, 480, FormatUnknown, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BufferSize(tc.width, tc.height, tc.format); got != tc.want {
				t.Errorf("BufferSize() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestParsePixelFormat(t *testing.T) {
	for _, f := range Formats() {
		parsed, err := ParsePixelFormat(f.String())
		if err != nil {
			t.Fatalf("ParsePixelFormat(%q) failed: %v", f.String(), err)
		}
		if parsed != f {
			t.Errorf("ParsePixelFormat(%q) = %v, want %v", f.String(), parsed, f)
		}
	}

	if _, err := ParsePixelFormat("NV21 "); err != nil {
		t.Errorf("expected case-insensitive parse, got %v", err)
	}
	if _, err := ParsePixelFormat("rgb24"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestRawPutAndRelease(t *testing.T) {
	raw := NewRaw(4, 2, FormatNV21)
	if !raw.Empty() {
		t.Fatal("new raw frame should be empty until written")
	}
	if raw.Len() != 12 {
		t.Fatalf("Len() = %d, want 12", raw.Len())
	}

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	raw.Put(src, 7)
	if raw.Empty() {
		t.Fatal("raw frame should not be empty after Put")
	}
	if raw.Seq() != 7 {
		t.Errorf("Seq() = %d, want 7", raw.Seq())
	}

	// The buffer is a copy, not an alias of the producer's slice
	src[0] = 99
	if raw.Bytes()[0] != 1 {
		t.Error("Put must copy the source buffer")
	}

	raw.Release()
	raw.Release()
	if !raw.Empty() {
		t.Error("released raw frame should be empty")
	}
}

func TestDecodedRecomputesOnEveryAccess(t *testing.T) {
	raw := NewRaw(4, 2, FormatNV21)
	conv := &fillConverter{}
	dec := NewDecoded(raw, 1, conv)

	if _, err := dec.RGBA(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty for unwritten frame, got %v", err)
	}

	raw.Put(make([]byte, 12), 1)
	raw.Bytes()[0] = 10
	img, err := dec.RGBA()
	if err != nil {
		t.Fatalf("RGBA() failed: %v", err)
	}
	if img.Pix[0] != 10 {
		t.Errorf("pixel = %d, want 10", img.Pix[0])
	}

	raw.Bytes()[0] = 20
	img, err = dec.RGBA()
	if err != nil {
		t.Fatalf("RGBA() failed: %v", err)
	}
	if img.Pix[0] != 20 {
		t.Errorf("pixel = %d, want 20 (conversion must not be cached)", img.Pix[0])
	}
	if conv.calls != 2 {
		t.Errorf("converter calls = %d, want 2", conv.calls)
	}
	if dec.Index() != 1 {
		t.Errorf("Index() = %d, want 1", dec.Index())
	}
}

func TestDecodedGrayAliasesLuma(t *testing.T) {
	raw := NewRaw(4, 2, FormatYV12)
	buf := make([]byte, raw.Len())
	for i := 0; i < 8; i++ {
		buf[i] = byte(i * 10)
	}
	raw.Put(buf, 1)

	dec := NewDecoded(raw, 0, &fillConverter{})
	gray, err := dec.Gray()
	if err != nil {
		t.Fatalf("Gray() failed: %v", err)
	}
	if gray.Bounds().Dx() != 4 || gray.Bounds().Dy() != 2 {
		t.Fatalf("unexpected bounds %v", gray.Bounds())
	}
	if gray.GrayAt(3, 1).Y != 70 {
		t.Errorf("GrayAt(3,1) = %d, want 70", gray.GrayAt(3, 1).Y)
	}

	dec.Release()
	if _, err := dec.Gray(); !errors.Is(err, ErrReleased) {
		t.Errorf("expected ErrReleased after Release, got %v", err)
	}
}

func TestEmptyAndReleasedAreDistinct(t *testing.T) {
	testCases := []struct {
		name    string
		setup   func(raw *Raw, dec *Decoded)
		rawWant error
		want    error
	}{
		{"never written", func(raw *Raw, dec *Decoded) {}, ErrEmpty, ErrEmpty},
		{"written", func(raw *Raw, dec *Decoded) { raw.Put(make([]byte, raw.Len()), 1) }, nil, nil},
		{"raw released", func(raw *Raw, dec *Decoded) {
			raw.Put(make([]byte, raw.Len()), 1)
			raw.Release()
		}, ErrReleased, ErrReleased},
		// The slot was torn down before the first frame arrived
		{"decoded released before any write", func(raw *Raw, dec *Decoded) { dec.Release() }, ErrEmpty, ErrReleased},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := NewRaw(4, 2, FormatNV21)
			dec := NewDecoded(raw, 0, &fillConverter{})
			tc.setup(raw, dec)

			if err := raw.Err(); err != tc.rawWant {
				t.Errorf("Raw.Err() = %v, want %v", err, tc.rawWant)
			}
			if _, err := dec.Gray(); err != tc.want {
				t.Errorf("Gray() err = %v, want %v", err, tc.want)
			}
			if _, err := dec.RGBA(); err != tc.want {
				t.Errorf("RGBA() err = %v, want %v", err, tc.want)
			}
		})
	}
}
