package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GStreamerConfig configures a GStreamer capture source
type GStreamerConfig struct {
	// Device is a V4L2 device path; empty uses videotestsrc
	Device string
	Sizes  []Size
	Brand  string
	Model  string
}

// GStreamerSource captures frames through a GStreamer pipeline that converts
// the device output to NV21 or YV12 and hands it to an appsink
type GStreamerSource struct {
	cfg   GStreamerConfig
	queue callbackQueue

	mu       sync.RWMutex
	opened   bool
	params   Params
	pipeline *gst.Pipeline
	appsink  *app.Sink
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

var gstInitOnce sync.Once

// NewGStreamerSource creates a GStreamer capture source
func NewGStreamerSource(cfg GStreamerConfig) *GStreamerSource {
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = []Size{{320, 240}, {640, 480}, {1280, 720}}
	}
	if cfg.Brand == "" {
		cfg.Brand = "gstreamer"
	}
	return &GStreamerSource{cfg: cfg}
}

// Name returns the source name
func (s *GStreamerSource) Name() string {
	if s.cfg.Device == "" {
		return "GStreamer (videotestsrc)"
	}
	return fmt.Sprintf("GStreamer (%s)", s.cfg.Device)
}

// Open initializes GStreamer; the pipeline itself is built on StartPreview
func (s *GStreamerSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return fmt.Errorf("gstreamer source already open")
	}

	gstInitOnce.Do(func() { gst.Init(nil) })

	s.opened = true
	s.queue.open()
	return nil
}

// Info returns the configured capabilities; videoconvert can produce either format
func (s *GStreamerSource) Info() Info {
	return Info{
		Name:    s.Name(),
		Brand:   s.cfg.Brand,
		Model:   s.cfg.Model,
		Sizes:   s.cfg.Sizes,
		Formats: frame.Formats(),
	}
}

// Configure stores the parameters used to build the pipeline
func (s *GStreamerSource) Configure(params Params) (Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return Params{}, fmt.Errorf("gstreamer source not open")
	}
	if _, ok := gstFormat(params.Format); !ok {
		return Params{}, fmt.Errorf("unsupported format %s", params.Format)
	}
	s.params = advisoryParams(logger.WithComponent("gstreamer"), params)
	return s.params, nil
}

// SetFrameCallback registers the delivery callback
func (s *GStreamerSource) SetFrameCallback(cb FrameCallback) {
	s.queue.setCallback(cb)
}

// AddCallbackBuffer queues an empty buffer
func (s *GStreamerSource) AddCallbackBuffer(buf []byte) {
	s.queue.add(buf)
}

func (s *GStreamerSource) pipelineString() string {
	format, _ := gstFormat(s.params.Format)

	src := "videotestsrc is-live=true"
	if s.cfg.Device != "" {
		src = fmt.Sprintf("v4l2src device=%s do-timestamp=true", s.cfg.Device)
	}

	rate := ""
	if s.params.FPS > 0 {
		rate = fmt.Sprintf(" ! videorate ! video/x-raw,framerate=%d/1", s.params.FPS)
	}

	// Using emit-signals=false and polling mode to avoid CGO callback issues
	return fmt.Sprintf(
		"%s%s ! videoconvert ! videoscale ! "+
			"video/x-raw,format=%s,width=%d,height=%d ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true",
		src, rate, format, s.params.Size.Width, s.params.Size.Height,
	)
}

// StartPreview builds and starts the pipeline
func (s *GStreamerSource) StartPreview(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened || !s.params.Format.Valid() {
		return fmt.Errorf("gstreamer source not configured")
	}
	if s.running {
		return nil
	}

	log := logger.WithComponent("gstreamer")
	pipelineStr := s.pipelineString()
	log.Debug().Str("pipeline", pipelineStr).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	s.pipeline = pipeline
	s.appsink = app.SinkFromElement(sinkElement)
	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.pollSamples(ctx, s.stopChan)

	log.Info().Str("size", s.params.Size.String()).Str("format", s.params.Format.String()).Msg("GStreamer pipeline started")
	return nil
}

// pollSamples pulls samples from the appsink until stopped
func (s *GStreamerSource) pollSamples(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()
	log := logger.WithComponent("gstreamer")

	interval := 16 * time.Millisecond
	if s.params.FPS > 0 {
		interval = time.Second / time.Duration(2*s.params.FPS)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	want := frame.BufferSize(s.params.Size.Width, s.params.Size.Height, s.params.Format)

	for {
		select {
		case <-stop:
			log.Debug().Msg("Sample polling stopped")
			return
		case <-ctx.Done():
			log.Debug().Msg("Sample polling cancelled")
			return
		case <-ticker.C:
			s.mu.RLock()
			appsink := s.appsink
			s.mu.RUnlock()
			if appsink == nil {
				continue
			}

			sample := appsink.TryPullSample(time.Millisecond)
			if sample == nil {
				continue
			}

			// Note: go-gst releases samples itself; Unref here double-frees
			s.processSample(sample, want)
		}
	}
}

func (s *GStreamerSource) processSample(sample *gst.Sample, want int) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	if len(data) < want {
		logger.WithComponent("gstreamer").Warn().
			Int("got", len(data)).
			Int("want", want).
			Msg("Short sample, dropping")
		return
	}
	s.queue.deliver(data[:want])
}

// StopPreview stops the pipeline
func (s *GStreamerSource) StopPreview() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopChan)
	s.stopChan = nil
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	if s.pipeline != nil {
		s.pipeline.SetState(gst.StateNull)
		s.pipeline.Unref()
		s.pipeline = nil
	}
	s.appsink = nil
	s.mu.Unlock()

	logger.WithComponent("gstreamer").Info().Msg("GStreamer pipeline stopped")
	return nil
}

// Release stops the pipeline and drops queued buffers
func (s *GStreamerSource) Release() error {
	err := s.StopPreview()
	s.queue.close()

	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return err
}

// Stats returns callback counters
func (s *GStreamerSource) Stats() Stats {
	return s.queue.stats()
}

func gstFormat(f frame.PixelFormat) (string, bool) {
	switch f {
	case frame.FormatNV21:
		return "NV21", true
	case frame.FormatYV12:
		// U,V plane order
		return "I420", true
	}
	return "", false
}
