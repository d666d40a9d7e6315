package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// V4L2Config configures a V4L2 capture source
type V4L2Config struct {
	Device string
	Sizes  []Size
	Brand  string
	Model  string
}

// V4L2Source captures NV21 or YV12 frames straight from a V4L2 device
type V4L2Source struct {
	cfg   V4L2Config
	queue callbackQueue

	mu      sync.Mutex
	dev     *device.Device
	params  Params
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	// swapChroma is set when the driver only offers V-before-U YV12
	swapChroma bool
}

// NewV4L2Source creates a V4L2 capture source
func NewV4L2Source(cfg V4L2Config) *V4L2Source {
	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = []Size{{320, 240}, {640, 480}, {1280, 720}}
	}
	return &V4L2Source{cfg: cfg}
}

// Name returns the source name
func (s *V4L2Source) Name() string {
	return fmt.Sprintf("V4L2 (%s)", s.cfg.Device)
}

// Open opens the device node
func (s *V4L2Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev != nil {
		return fmt.Errorf("v4l2 device already open")
	}

	dev, err := device.Open(s.cfg.Device, device.WithIOType(v4l2.IOTypeMMAP))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.cfg.Device, err)
	}
	s.dev = dev
	s.queue.open()

	caps := dev.Capability()
	logger.WithComponent("v4l2").Info().
		Str("device", s.cfg.Device).
		Str("driver", caps.Driver).
		Str("card", caps.Card).
		Msg("V4L2 device opened")
	return nil
}

// Info reports the driver as brand and the card as model unless overridden
func (s *V4L2Source) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		Name:    s.Name(),
		Brand:   s.cfg.Brand,
		Model:   s.cfg.Model,
		Sizes:   s.cfg.Sizes,
		Formats: frame.Formats(),
	}
	if s.dev != nil {
		caps := s.dev.Capability()
		if info.Brand == "" {
			info.Brand = caps.Driver
		}
		if info.Model == "" {
			info.Model = caps.Card
		}
	}
	return info
}

// Configure sets the pixel format and reads back what the driver accepted
func (s *V4L2Source) Configure(params Params) (Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return Params{}, fmt.Errorf("v4l2 device not open")
	}

	candidates := fourCCs(params.Format)
	if len(candidates) == 0 {
		return Params{}, fmt.Errorf("unsupported format %s", params.Format)
	}

	log := logger.WithComponent("v4l2")
	for _, fourcc := range candidates {
		err := s.dev.SetPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.FourCCType(fourcc),
			Width:       uint32(params.Size.Width),
			Height:      uint32(params.Size.Height),
			Field:       v4l2.FieldNone,
		})
		if err != nil {
			log.Debug().Err(err).Str("fourcc", fourCCString(fourcc)).Msg("Pixel format refused")
			continue
		}

		// Drivers may silently adjust the request
		pix, err := s.dev.GetPixFormat()
		if err != nil {
			return Params{}, fmt.Errorf("failed to read pixel format: %w", err)
		}
		if uint32(pix.PixelFormat) != fourcc {
			continue
		}

		effective := advisoryParams(log, params)
		effective.Size = Size{Width: int(pix.Width), Height: int(pix.Height)}
		s.params = effective
		s.swapChroma = chromaSwapped(params.Format, fourcc)
		log.Debug().
			Str("fourcc", fourCCString(fourcc)).
			Bool("swap_chroma", s.swapChroma).
			Msg("Pixel format accepted")
		return effective, nil
	}
	return Params{}, fmt.Errorf("driver rejected %s", params.Format)
}

// SetFrameCallback registers the delivery callback
func (s *V4L2Source) SetFrameCallback(cb FrameCallback) {
	s.queue.setCallback(cb)
}

// AddCallbackBuffer queues an empty buffer
func (s *V4L2Source) AddCallbackBuffer(buf []byte) {
	s.queue.add(buf)
}

// StartPreview starts streaming and forwards device output to the callback
func (s *V4L2Source) StartPreview(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return fmt.Errorf("v4l2 device not open")
	}
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := s.dev.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start streaming: %w", err)
	}
	s.cancel = cancel
	s.running = true

	want := frame.BufferSize(s.params.Size.Width, s.params.Size.Height, s.params.Format)
	var scratch []byte
	if s.swapChroma {
		scratch = make([]byte, want)
	}
	s.wg.Add(1)
	go s.forward(ctx, s.dev.GetOutput(), want, s.params.Size, scratch)
	return nil
}

func (s *V4L2Source) forward(ctx context.Context, frames <-chan []byte, want int, size Size, scratch []byte) {
	defer s.wg.Done()
	log := logger.WithComponent("v4l2")

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames:
			if !ok {
				log.Debug().Msg("Device output closed")
				return
			}
			if len(data) < want {
				log.Warn().Int("got", len(data)).Int("want", want).Msg("Short frame, dropping")
				continue
			}
			if scratch != nil {
				// The device buffer is not ours to reorder
				copy(scratch, data[:want])
				swapChromaPlanes(scratch, size.Width, size.Height)
				data = scratch
			}
			s.queue.deliver(data[:want])
		}
	}
}

// StopPreview stops streaming
func (s *V4L2Source) StopPreview() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	dev := s.dev
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	if err := dev.Stop(); err != nil {
		return fmt.Errorf("failed to stop streaming: %w", err)
	}
	return nil
}

// Release closes the device
func (s *V4L2Source) Release() error {
	stopErr := s.StopPreview()
	s.queue.close()

	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()

	if dev == nil {
		return stopErr
	}
	if err := dev.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.cfg.Device, err)
	}
	return stopErr
}

// Stats returns callback counters
func (s *V4L2Source) Stats() Stats {
	return s.queue.stats()
}

// fourCCs lists the driver formats that can carry f, preferred first.
// YV12 prefers YU12, whose planes already sit in U,V order.
func fourCCs(f frame.PixelFormat) []uint32 {
	switch f {
	case frame.FormatNV21:
		return []uint32{fourCCCode('N', 'V', '2', '1')}
	case frame.FormatYV12:
		return []uint32{fourCCCode('Y', 'U', '1', '2'), fourCCCode('Y', 'V', '1', '2')}
	}
	return nil
}

func fourCCString(code uint32) string {
	return string([]byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)})
}

func fourCCCode(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}
