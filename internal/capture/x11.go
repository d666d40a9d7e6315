package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"gocv.io/x/gocv"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
)

const defaultScreenFPS = 15

// X11Config configures the screen capture source
type X11Config struct {
	// Display names the X server, empty uses $DISPLAY
	Display string
	Sizes   []Size
	FPS     int
}

// ScreenSource captures the top-left region of the X11 root window and
// delivers it as a 4:2:0 preview frame, standing in for a camera on
// machines without one
type ScreenSource struct {
	cfg   X11Config
	queue callbackQueue

	mu      sync.Mutex
	conn    *xgb.Conn
	screen  *xproto.ScreenInfo
	params  Params
	scratch []byte
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	grabErrors uint64
}

// NewScreenSource creates an X11 screen capture source
func NewScreenSource(cfg X11Config) *ScreenSource {
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = []Size{{320, 240}, {640, 480}, {1280, 720}}
	}
	if cfg.FPS <= 0 {
		cfg.FPS = defaultScreenFPS
	}
	return &ScreenSource{cfg: cfg}
}

// Name returns the source name
func (s *ScreenSource) Name() string {
	if s.cfg.Display != "" {
		return fmt.Sprintf("X11 Screen (%s)", s.cfg.Display)
	}
	return "X11 Screen"
}

// Open connects to the X server
func (s *ScreenSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return fmt.Errorf("x11 source already open")
	}

	conn, err := xgb.NewConnDisplay(s.cfg.Display)
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		conn.Close()
		return fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}

	s.conn = conn
	s.screen = screen
	s.grabErrors = 0
	s.queue.open()

	logger.WithComponent("x11-source").Info().
		Uint16("screen_width", screen.WidthInPixels).
		Uint16("screen_height", screen.HeightInPixels).
		Msg("Connected to X server")
	return nil
}

// Info advertises the configured sizes that fit on the screen
func (s *ScreenSource) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Name:    s.Name(),
		Brand:   "X.Org",
		Model:   "screen",
		Formats: []frame.PixelFormat{frame.FormatNV21, frame.FormatYV12},
	}
	if s.screen != nil {
		info.Sizes = sizesWithin(s.cfg.Sizes, int(s.screen.WidthInPixels), int(s.screen.HeightInPixels))
	}
	return info
}

// sizesWithin keeps the sizes no larger than width x height
func sizesWithin(sizes []Size, width, height int) []Size {
	out := make([]Size, 0, len(sizes))
	for _, size := range sizes {
		if size.Width <= width && size.Height <= height {
			out = append(out, size)
		}
	}
	return out
}

// Configure accepts any advertised size with even dimensions
func (s *ScreenSource) Configure(params Params) (Params, error) {
	if params.Size.Width%2 != 0 || params.Size.Height%2 != 0 {
		return Params{}, fmt.Errorf("size %s is not 4:2:0 compatible", params.Size)
	}
	if params.Format != frame.FormatNV21 && params.Format != frame.FormatYV12 {
		return Params{}, fmt.Errorf("unsupported format %s", params.Format)
	}

	found := false
	for _, size := range s.Info().Sizes {
		if size == params.Size {
			found = true
			break
		}
	}
	if !found {
		return Params{}, fmt.Errorf("unsupported size %s", params.Size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return Params{}, fmt.Errorf("x11 source not open")
	}

	// A screen has no focus control
	params.FocusMode = ""
	s.params = params
	s.scratch = make([]byte, frame.BufferSize(params.Size.Width, params.Size.Height, params.Format))
	return params, nil
}

// SetFrameCallback registers the delivery callback
func (s *ScreenSource) SetFrameCallback(cb FrameCallback) {
	s.queue.setCallback(cb)
}

// AddCallbackBuffer queues an empty buffer
func (s *ScreenSource) AddCallbackBuffer(buf []byte) {
	s.queue.add(buf)
}

// StartPreview starts grabbing the screen at the configured rate
func (s *ScreenSource) StartPreview(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.scratch == nil {
		return fmt.Errorf("x11 source not configured")
	}
	if s.running {
		return nil
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx, time.Second/time.Duration(s.cfg.FPS))

	logger.WithComponent("x11-source").Debug().
		Int("fps", s.cfg.FPS).
		Str("size", s.params.Size.String()).
		Str("format", s.params.Format.String()).
		Msg("Screen capture started")
	return nil
}

func (s *ScreenSource) run(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.grab()
		}
	}
}

// grab captures one frame and delivers it
func (s *ScreenSource) grab() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	w, h := s.params.Size.Width, s.params.Size.Height
	reply, err := xproto.GetImage(
		s.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.screen.Root),
		0, 0,
		uint16(w), uint16(h),
		0xffffffff,
	).Reply()
	if err == nil {
		err = bgraToYUV420(reply.Data, w, h, s.params.Format, s.scratch)
	}
	if err != nil {
		s.grabErrors++
		if s.grabErrors == 1 || s.grabErrors%100 == 0 {
			logger.WithComponent("x11-source").Warn().
				Err(err).
				Uint64("errors", s.grabErrors).
				Msg("Failed to capture screen")
		}
		return
	}

	s.queue.deliver(s.scratch)
}

// bgraToYUV420 converts a 32bpp ZPixmap image into dst laid out as format.
// YV12 output carries its chroma planes in U,V order, the order the YV12
// conversion route reads.
func bgraToYUV420(src []byte, w, h int, format frame.PixelFormat, dst []byte) error {
	if len(src) < w*h*4 {
		return fmt.Errorf("short image: %d bytes for %dx%d", len(src), w, h)
	}
	luma := w * h
	quarter := luma / 4
	if len(dst) < luma+2*quarter {
		return fmt.Errorf("destination too small: %d bytes", len(dst))
	}

	bgra, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC4, src[:w*h*4])
	if err != nil {
		return fmt.Errorf("failed to wrap image: %w", err)
	}
	defer bgra.Close()

	i420 := gocv.NewMat()
	defer i420.Close()

	gocv.CvtColor(bgra, &i420, gocv.ColorBGRA2YUVI420)
	planes := i420.ToBytes()
	if len(planes) != luma+2*quarter {
		return fmt.Errorf("conversion produced %d bytes, expected %d", len(planes), luma+2*quarter)
	}

	switch format {
	case frame.FormatYV12:
		copy(dst, planes)
	case frame.FormatNV21:
		copy(dst[:luma], planes[:luma])
		u := planes[luma : luma+quarter]
		v := planes[luma+quarter:]
		vu := dst[luma:]
		for i := 0; i < quarter; i++ {
			vu[2*i] = v[i]
			vu[2*i+1] = u[i]
		}
	default:
		return fmt.Errorf("unsupported format %s", format)
	}
	return nil
}

// StopPreview stops grabbing
func (s *ScreenSource) StopPreview() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	return nil
}

// Release closes the X connection
func (s *ScreenSource) Release() error {
	s.StopPreview()
	s.queue.close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.screen = nil
	}
	s.scratch = nil
	return nil
}

// Stats returns callback counters
func (s *ScreenSource) Stats() Stats {
	return s.queue.stats()
}
