package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
)

// PatternHeaderSize is the number of leading luma bytes holding the frame counter
const PatternHeaderSize = 8

// TestPatternConfig configures the synthetic source
type TestPatternConfig struct {
	Sizes      []Size
	Formats    []frame.PixelFormat
	FocusModes []string
	Brand      string
	Model      string

	// FPS drives frames from a ticker once preview starts; 0 means frames
	// are only produced by Emit
	FPS int

	// NoSizes advertises an empty size list instead of the defaults
	NoSizes bool

	// OpenErr, ConfigureErr and StartErr inject failures
	OpenErr      error
	ConfigureErr error
	StartErr     error
}

// TestPattern is a synthetic capture source.
//
// Every frame carries its counter big-endian in the first PatternHeaderSize
// luma bytes; the rest of the luma plane is byte(counter) and chroma is
// neutral. A frame is therefore torn iff its body disagrees with its header.
type TestPattern struct {
	cfg   TestPatternConfig
	queue callbackQueue

	mu         sync.Mutex
	opened     bool
	params     Params
	counter    uint64
	scratch    []byte
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	previewing bool
}

// NewTestPattern creates a synthetic source
func NewTestPattern(cfg TestPatternConfig) *TestPattern {
	if cfg.NoSizes {
		cfg.Sizes = nil
	} else if len(cfg.Sizes) == 0 {
		cfg.Sizes = []Size{{320, 240}, {640, 480}, {1280, 720}}
	}
	if cfg.Brand == "" {
		cfg.Brand = "synthetic"
	}
	if cfg.Model == "" {
		cfg.Model = "testpattern"
	}
	return &TestPattern{cfg: cfg}
}

// Name returns the source name
func (s *TestPattern) Name() string {
	return "Test Pattern"
}

// Open acquires the synthetic device
func (s *TestPattern) Open() error {
	if s.cfg.OpenErr != nil {
		return s.cfg.OpenErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return fmt.Errorf("test pattern already open")
	}
	s.opened = true
	s.queue.open()
	return nil
}

// Info returns the advertised capabilities
func (s *TestPattern) Info() Info {
	return Info{
		Name:       s.Name(),
		Brand:      s.cfg.Brand,
		Model:      s.cfg.Model,
		Sizes:      s.cfg.Sizes,
		Formats:    s.cfg.Formats,
		FocusModes: s.cfg.FocusModes,
	}
}

// Configure accepts any advertised size
func (s *TestPattern) Configure(params Params) (Params, error) {
	if s.cfg.ConfigureErr != nil {
		return Params{}, s.cfg.ConfigureErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return Params{}, fmt.Errorf("test pattern not open")
	}

	found := false
	for _, size := range s.cfg.Sizes {
		if size == params.Size {
			found = true
			break
		}
	}
	if !found {
		return Params{}, fmt.Errorf("unsupported size %s", params.Size)
	}

	s.params = params
	s.scratch = make([]byte, frame.BufferSize(params.Size.Width, params.Size.Height, params.Format))
	return params, nil
}

// SetFrameCallback registers the delivery callback
func (s *TestPattern) SetFrameCallback(cb FrameCallback) {
	s.queue.setCallback(cb)
}

// AddCallbackBuffer queues an empty buffer
func (s *TestPattern) AddCallbackBuffer(buf []byte) {
	s.queue.add(buf)
}

// SetStartErr replaces the error StartPreview injects; nil clears it
func (s *TestPattern) SetStartErr(err error) {
	s.mu.Lock()
	s.cfg.StartErr = err
	s.mu.Unlock()
}

// PendingBuffers returns the number of queued callback buffers
func (s *TestPattern) PendingBuffers() int {
	return s.queue.pending()
}

// StartPreview starts delivery; with FPS > 0 a ticker drives frames
func (s *TestPattern) StartPreview(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened || s.scratch == nil {
		return fmt.Errorf("test pattern not configured")
	}
	if s.cfg.StartErr != nil {
		return s.cfg.StartErr
	}
	if s.previewing {
		return nil
	}
	s.previewing = true

	if s.cfg.FPS <= 0 {
		return nil
	}

	ctx, s.cancel = context.WithCancel(ctx)
	interval := time.Second / time.Duration(s.cfg.FPS)
	s.wg.Add(1)
	go s.run(ctx, interval)

	logger.WithComponent("testpattern").Debug().
		Int("fps", s.cfg.FPS).
		Str("size", s.params.Size.String()).
		Str("format", s.params.Format.String()).
		Msg("Test pattern preview started")
	return nil
}

func (s *TestPattern) run(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Emit()
		}
	}
}

// Emit renders and delivers the next frame synchronously.
// It returns false when the frame was dropped or the source is not previewing.
func (s *TestPattern) Emit() bool {
	s.mu.Lock()
	if !s.previewing {
		s.mu.Unlock()
		return false
	}
	s.counter++
	fillPattern(s.scratch, s.params.Size, s.counter)
	// deliver copies out of scratch, so holding mu keeps scratch stable
	delivered := s.queue.deliver(s.scratch)
	s.mu.Unlock()
	return delivered
}

// StopPreview stops the ticker
func (s *TestPattern) StopPreview() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.previewing = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	return nil
}

// Release frees the synthetic device
func (s *TestPattern) Release() error {
	s.StopPreview()
	s.queue.close()

	s.mu.Lock()
	s.opened = false
	s.scratch = nil
	s.mu.Unlock()
	return nil
}

// Stats returns callback counters
func (s *TestPattern) Stats() Stats {
	return s.queue.stats()
}

// PatternCounter extracts the frame counter from a test pattern buffer
func PatternCounter(buf []byte) uint64 {
	if len(buf) < PatternHeaderSize {
		return 0
	}
	return binary.BigEndian.Uint64(buf[:PatternHeaderSize])
}

// PatternIntact reports whether the luma body of buf matches its header
func PatternIntact(buf []byte, size Size) bool {
	luma := size.Area()
	if len(buf) < luma || luma < PatternHeaderSize {
		return false
	}
	want := byte(PatternCounter(buf))
	for _, b := range buf[PatternHeaderSize:luma] {
		if b != want {
			return false
		}
	}
	return true
}

func fillPattern(buf []byte, size Size, counter uint64) {
	luma := size.Area()
	binary.BigEndian.PutUint64(buf[:PatternHeaderSize], counter)
	v := byte(counter)
	for i := PatternHeaderSize; i < luma; i++ {
		buf[i] = v
	}
	for i := luma; i < len(buf); i++ {
		buf[i] = 128
	}
}
