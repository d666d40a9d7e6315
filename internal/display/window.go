package display

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/CameraBridge/internal/config"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
	"golang.org/x/image/draw"
)

// putImageHeader is the fixed size of a PutImage request in bytes
const putImageHeader = 24

// Window is an output that shows delivered frames in an X11 window,
// scaled to fit with the aspect ratio preserved
type Window struct {
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	window xproto.Window
	gc     xproto.Gcontext
	width  int
	height int

	running bool
	mu      sync.Mutex

	// Reused per frame
	canvas *image.RGBA
	packed []byte
	format pixmapFormat
}

type pixmapFormat struct {
	depth         byte
	bytesPerPixel int
	scanlinePad   int
}

// NewWindow connects to the X server named by $DISPLAY
func NewWindow(cfg config.PreviewWindowConfig) (*Window, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	width, height := cfg.Width, cfg.Height
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}

	w := &Window{
		conn:   conn,
		screen: screen,
		width:  width,
		height: height,
	}

	w.format, err = findFormat(setup.PixmapFormats, screen.RootDepth)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return w, nil
}

func findFormat(formats []xproto.Format, depth byte) (pixmapFormat, error) {
	for _, f := range formats {
		if f.Depth == depth {
			bpp := int(f.BitsPerPixel) / 8
			if bpp != 3 && bpp != 4 {
				return pixmapFormat{}, fmt.Errorf("unsupported bytes per pixel: %d", bpp)
			}
			return pixmapFormat{depth: depth, bytesPerPixel: bpp, scanlinePad: int(f.ScanlinePad) / 8}, nil
		}
	}
	return pixmapFormat{}, fmt.Errorf("no pixmap format for depth %d", depth)
}

// Name returns the output type name
func (w *Window) Name() string {
	return "X11 Preview Window"
}

// Start creates and maps the preview window
func (w *Window) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("preview window already running")
	}

	windowID, err := xproto.NewWindowId(w.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	w.window = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}

	err = xproto.CreateWindowChecked(
		w.conn,
		w.screen.RootDepth,
		w.window,
		w.screen.Root,
		0, 0,
		uint16(w.width), uint16(w.height),
		0,
		xproto.WindowClassInputOutput,
		w.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	log := logger.WithComponent("display")
	if err := w.setWindowTitle("CameraBridge Preview"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := w.setWindowClass("camerabridge", "CameraBridge"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(w.conn, w.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(w.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	err = xproto.CreateGCChecked(
		w.conn,
		gc,
		xproto.Drawable(w.window),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffffff, 0x00000000},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	w.gc = gc
	w.conn.Sync()

	w.canvas = image.NewRGBA(image.Rect(0, 0, w.width, w.height))
	w.running = true

	log.Info().
		Int("width", w.width).
		Int("height", w.height).
		Uint32("window_id", uint32(w.window)).
		Msg("Preview window created")
	return nil
}

// Stop destroys the window and closes the X connection
func (w *Window) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	if w.gc != 0 {
		xproto.FreeGC(w.conn, w.gc)
	}
	if w.window != 0 {
		xproto.DestroyWindow(w.conn, w.window)
		w.conn.Sync()
	}
	w.conn.Close()

	logger.WithComponent("display").Info().Msg("Preview window closed")
	return nil
}

// IsRunning returns whether the window is shown
func (w *Window) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// WriteFrame scales the frame into the window
func (w *Window) WriteFrame(frame *image.RGBA) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return fmt.Errorf("preview window not running")
	}

	Letterbox(w.canvas, frame)

	var err error
	w.packed, err = packPixels(w.packed, w.canvas, w.format)
	if err != nil {
		return err
	}
	return w.putImage()
}

// Letterbox scales src into dst preserving aspect ratio, filling the
// remaining area with black
func Letterbox(dst *image.RGBA, src image.Image) {
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	r := FitRect(src.Bounds(), dst.Bounds())
	draw.ApproxBiLinear.Scale(dst, r, src, src.Bounds(), draw.Src, nil)
}

// FitRect returns the largest rectangle with src's aspect ratio centered in dst
func FitRect(src, dst image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if sw == 0 || sh == 0 {
		return image.Rectangle{}
	}

	w, h := dw, sh*dw/sw
	if h > dh {
		w, h = sw*dh/sh, dh
	}
	x := dst.Min.X + (dw-w)/2
	y := dst.Min.Y + (dh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

// packPixels converts RGBA into the server's ZPixmap layout (BGRx or BGR),
// padding each scanline. buf is reused when large enough.
func packPixels(buf []byte, img *image.RGBA, f pixmapFormat) ([]byte, error) {
	if f.bytesPerPixel != 3 && f.bytesPerPixel != 4 {
		return nil, fmt.Errorf("unsupported bytes per pixel: %d", f.bytesPerPixel)
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	stride := scanlineStride(width, f)

	need := stride * height
	if cap(buf) < need {
		buf = make([]byte, need)
	}
	buf = buf[:need]

	for y := 0; y < height; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+width*4]
		dst := buf[y*stride : (y+1)*stride]
		for x := 0; x < width; x++ {
			s := src[x*4 : x*4+4]
			d := dst[x*f.bytesPerPixel:]
			d[0], d[1], d[2] = s[2], s[1], s[0]
			if f.bytesPerPixel == 4 {
				if f.depth == 32 {
					d[3] = s[3]
				} else {
					d[3] = 0
				}
			}
		}
		for i := width * f.bytesPerPixel; i < stride; i++ {
			dst[i] = 0
		}
	}
	return buf, nil
}

func scanlineStride(width int, f pixmapFormat) int {
	unpadded := width * f.bytesPerPixel
	pad := f.scanlinePad
	if pad <= 0 {
		pad = 1
	}
	return (unpadded + pad - 1) / pad * pad
}

// stripRows returns how many scanlines fit in one request of maxBytes
func stripRows(stride, height, maxBytes int) int {
	rows := (maxBytes - putImageHeader) / stride
	if rows < 1 {
		rows = 1
	}
	if rows > height {
		rows = height
	}
	return rows
}

// putImage sends the packed canvas in strips that fit the server's request limit
func (w *Window) putImage() error {
	stride := scanlineStride(w.width, w.format)
	maxBytes := int(xproto.Setup(w.conn).MaximumRequestLength) * 4
	rows := stripRows(stride, w.height, maxBytes)

	for y := 0; y < w.height; y += rows {
		n := rows
		if y+n > w.height {
			n = w.height - y
		}
		err := xproto.PutImageChecked(
			w.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(w.window),
			w.gc,
			uint16(w.width), uint16(n),
			0, int16(y),
			0,
			w.format.depth,
			w.packed[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

func (w *Window) setWindowTitle(title string) error {
	titleAtom, err := w.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := w.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}

	return xproto.ChangePropertyChecked(
		w.conn,
		xproto.PropModeReplace,
		w.window,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

func (w *Window) setWindowClass(instance, class string) error {
	classAtom, err := w.getAtom("WM_CLASS")
	if err != nil {
		return err
	}

	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"

	return xproto.ChangePropertyChecked(
		w.conn,
		xproto.PropModeReplace,
		w.window,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

func (w *Window) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(w.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
