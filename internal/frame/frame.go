// Package frame holds the raw and decoded camera frame types shared by the
// capture sources, the delivery pipeline and the outputs.
//
// A Raw frame owns one fixed-size byte buffer sized for a negotiated
// width, height and pixel format. The pipeline keeps exactly two of them and
// alternates between them; they are never exposed beyond the pipeline except
// through a Decoded wrapper handed to a sink for the duration of one call.
package frame

import (
	"errors"
	"image"
)

var (
	// ErrReleased is returned when a frame is accessed after its buffers were freed
	ErrReleased = errors.New("frame buffers released")
	// ErrEmpty is returned when a frame is accessed before anything was written to it
	ErrEmpty = errors.New("frame not yet written")
)

// Raw is a fixed-size raw image buffer tagged with its geometry and format
type Raw struct {
	data   []byte
	width  int
	height int
	format PixelFormat
	seq    uint64
}

// NewRaw allocates a raw buffer for one frame of the given geometry
func NewRaw(width, height int, format PixelFormat) *Raw {
	return &Raw{
		data:   make([]byte, BufferSize(width, height, format)),
		width:  width,
		height: height,
		format: format,
	}
}

// Width returns the frame width in pixels
func (r *Raw) Width() int { return r.width }

// Height returns the frame height in pixels
func (r *Raw) Height() int { return r.height }

// Format returns the source pixel format
func (r *Raw) Format() PixelFormat { return r.format }

// Len returns the buffer size in bytes
func (r *Raw) Len() int { return len(r.data) }

// Seq returns the sequence number of the last write, 0 if never written
func (r *Raw) Seq() uint64 { return r.seq }

// Bytes returns the underlying buffer. Callers must not retain it.
func (r *Raw) Bytes() []byte { return r.data }

// Put copies src into the buffer and tags it with seq.
// src is expected to be exactly Len() bytes; shorter input leaves the tail untouched.
func (r *Raw) Put(src []byte, seq uint64) {
	copy(r.data, src)
	r.seq = seq
}

// Empty reports whether the buffer holds no frame (never written or released)
func (r *Raw) Empty() bool {
	return len(r.data) == 0 || r.seq == 0
}

// Err reports why the frame holds no image: ErrReleased once its buffer is
// freed, ErrEmpty before the first Put. It returns nil for a written frame.
func (r *Raw) Err() error {
	switch {
	case len(r.data) == 0:
		return ErrReleased
	case r.seq == 0:
		return ErrEmpty
	}
	return nil
}

// Release frees the buffer. Release is safe to call more than once.
func (r *Raw) Release() {
	r.data = nil
	r.seq = 0
}

// Converter turns a raw frame into RGBA pixels
type Converter interface {
	// Convert writes the RGBA rendition of src into dst.
	// dst must have the same bounds as the source frame.
	Convert(src *Raw, dst *image.RGBA) error
}

// Decoded is the view over a Raw frame handed to pipeline sinks.
//
// The RGBA rendition is recomputed from the current raw contents on every call
// to RGBA; nothing is cached across frames.
type Decoded struct {
	raw   *Raw
	index int
	conv  Converter
	rgba  *image.RGBA
}

// NewDecoded binds a Decoded wrapper to the raw buffer in slot index
func NewDecoded(raw *Raw, index int, conv Converter) *Decoded {
	return &Decoded{
		raw:   raw,
		index: index,
		conv:  conv,
		rgba:  image.NewRGBA(image.Rect(0, 0, raw.Width(), raw.Height())),
	}
}

// Index returns the double-buffer slot this frame is bound to
func (d *Decoded) Index() int { return d.index }

// Width returns the frame width in pixels
func (d *Decoded) Width() int { return d.raw.Width() }

// Height returns the frame height in pixels
func (d *Decoded) Height() int { return d.raw.Height() }

// Format returns the source pixel format
func (d *Decoded) Format() PixelFormat { return d.raw.Format() }

// Seq returns the sequence number of the raw frame currently in the slot
func (d *Decoded) Seq() uint64 { return d.raw.Seq() }

// Gray returns the luma plane as a grayscale image without conversion.
// The returned image aliases the raw buffer and is only valid during the sink call.
func (d *Decoded) Gray() (*image.Gray, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	w, h := d.raw.Width(), d.raw.Height()
	return &image.Gray{
		Pix:    d.raw.Bytes()[:w*h],
		Stride: w,
		Rect:   image.Rect(0, 0, w, h),
	}, nil
}

// RGBA converts the raw frame and returns the RGBA rendition.
// The returned image is reused by the next call on this slot.
func (d *Decoded) RGBA() (*image.RGBA, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if err := d.conv.Convert(d.raw, d.rgba); err != nil {
		return nil, err
	}
	return d.rgba, nil
}

func (d *Decoded) check() error {
	if d.rgba == nil {
		return ErrReleased
	}
	return d.raw.Err()
}

// Release drops the RGBA buffer. It does not release the raw frame.
func (d *Decoded) Release() {
	d.rgba = nil
}
