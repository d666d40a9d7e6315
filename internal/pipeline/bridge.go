// Package pipeline bridges a capture source to a frame sink.
//
// Frames arrive on the source's callback goroutine and are copied into one of
// two raw buffers. A single delivery goroutine claims the most recent complete
// frame by flipping the active slot and converts it outside the lock while the
// source keeps writing into the other slot. There is no queue: a frame that is
// not claimed before the next one arrives is overwritten.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/CameraBridge/internal/capture"
	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/logger"
	"github.com/google/uuid"
)

var (
	// ErrDeviceUnavailable is returned when the capture device cannot be opened
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrNegotiation is returned when no usable capture parameters could be agreed
	ErrNegotiation = errors.New("capture parameter negotiation failed")

	// ErrAlreadyOpen is returned by Open on a bridge that is already open
	ErrAlreadyOpen = errors.New("bridge already open")
)

// Request asks for a capture session bounded by Width x Height
type Request struct {
	Width  int
	Height int

	// Preferences tune negotiation; Width and Height above take precedence
	Preferences capture.Preferences
}

// Stats is a snapshot of bridge state and counters
type Stats struct {
	Session          string `json:"session,omitempty"`
	Source           string `json:"source"`
	Open             bool   `json:"open"`
	Stopping         bool   `json:"stopping"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Format           string `json:"format"`
	RecordingHint    bool   `json:"recording_hint"`
	FocusMode        string `json:"focus_mode,omitempty"`
	ActiveIndex      int    `json:"active_index"`
	FramesCaptured   uint64 `json:"frames_captured"`
	FramesDelivered  uint64 `json:"frames_delivered"`
	FramesCoalesced  uint64 `json:"frames_coalesced"`
	CallbacksStarved uint64 `json:"callbacks_starved"`
	SinkErrors       uint64 `json:"sink_errors"`
}

// Bridge moves frames from a capture source to a sink through a pair of
// alternating raw buffers
type Bridge struct {
	source capture.Source
	conv   frame.Converter
	sink   Sink

	// lifeMu serializes Open and Close
	lifeMu sync.Mutex

	// mu guards everything below and is the lock cond waits on
	mu            sync.Mutex
	cond          *sync.Cond
	raw           [2]*frame.Raw
	decoded       [2]*frame.Decoded
	activeIdx     int
	frameReady    bool
	stopRequested bool
	open          bool
	seq           uint64
	params        capture.Params
	session       string

	acquired    bool
	callbackBuf []byte
	done        chan struct{}
	stopOnCtx   func() bool

	captured  uint64
	delivered uint64
	coalesced uint64
	sinkErrs  uint64
}

// New creates a bridge. A nil sink discards frames.
func New(source capture.Source, conv frame.Converter, sink Sink) *Bridge {
	if sink == nil {
		sink = discard
	}
	b := &Bridge{
		source: source,
		conv:   conv,
		sink:   sink,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Open acquires the source, negotiates parameters, allocates both buffers and
// starts delivery. Cancelling ctx stops delivery; Close must still be called.
//
// On failure everything acquired so far is released and the bridge can be
// opened again.
func (b *Bridge) Open(ctx context.Context, req Request) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	b.mu.Lock()
	alreadyOpen := b.open || b.done != nil
	b.mu.Unlock()
	if alreadyOpen {
		return ErrAlreadyOpen
	}

	session := uuid.NewString()
	log := logger.WithSession("pipeline", session)

	if err := b.source.Open(); err != nil {
		log.Error().Err(err).Str("source", b.source.Name()).Msg("Failed to open capture device")
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	b.acquired = true

	params, err := b.negotiate(req)
	if err != nil {
		log.Error().Err(err).Str("source", b.source.Name()).Msg("Failed to negotiate capture parameters")
		b.teardown()
		return err
	}

	log.Debug().
		Str("size", params.Size.String()).
		Str("format", params.Format.String()).
		Bool("recording_hint", params.RecordingHint).
		Str("focus_mode", params.FocusMode).
		Msg("Capture parameters accepted")

	b.mu.Lock()
	for i := range b.raw {
		b.raw[i] = frame.NewRaw(params.Size.Width, params.Size.Height, params.Format)
		b.decoded[i] = frame.NewDecoded(b.raw[i], i, b.conv)
	}
	b.activeIdx = 0
	b.frameReady = false
	b.stopRequested = false
	b.seq = 0
	b.params = params
	b.session = session
	b.open = true
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	atomic.StoreUint64(&b.captured, 0)
	atomic.StoreUint64(&b.delivered, 0)
	atomic.StoreUint64(&b.coalesced, 0)
	atomic.StoreUint64(&b.sinkErrs, 0)

	b.source.SetFrameCallback(b.onFrameDelivered)

	go b.deliveryLoop(done)

	b.callbackBuf = make([]byte, frame.BufferSize(params.Size.Width, params.Size.Height, params.Format))
	b.source.AddCallbackBuffer(b.callbackBuf)

	b.stopOnCtx = context.AfterFunc(ctx, func() {
		log.Info().Msg("Context cancelled, stopping delivery")
		b.requestStop()
	})

	if err := b.source.StartPreview(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start preview")
		b.teardown()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	log.Info().
		Str("source", b.source.Name()).
		Int("width", params.Size.Width).
		Int("height", params.Size.Height).
		Str("format", params.Format.String()).
		Msg("Pipeline opened")
	return nil
}

func (b *Bridge) negotiate(req Request) (capture.Params, error) {
	prefs := req.Preferences
	if req.Width > 0 {
		prefs.Width = req.Width
	}
	if req.Height > 0 {
		prefs.Height = req.Height
	}

	wanted, err := capture.Negotiate(b.source.Info(), prefs)
	if err != nil {
		return capture.Params{}, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	// Buffers are sized from what the device accepted, not what was asked
	effective, err := b.source.Configure(wanted)
	if err != nil {
		return capture.Params{}, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	if effective.Size.Area() == 0 || !effective.Format.Valid() {
		return capture.Params{}, fmt.Errorf("%w: device accepted %s %s", ErrNegotiation, effective.Size, effective.Format)
	}
	return effective, nil
}

// onFrameDelivered is the source callback. It copies the frame into the
// active slot, marks it ready and re-arms the source with the same buffer.
func (b *Bridge) onFrameDelivered(data []byte) {
	b.mu.Lock()
	if !b.open || b.stopRequested {
		b.mu.Unlock()
		return
	}
	b.seq++
	b.raw[b.activeIdx].Put(data, b.seq)
	if b.frameReady {
		atomic.AddUint64(&b.coalesced, 1)
	}
	b.frameReady = true
	b.cond.Signal()
	b.mu.Unlock()

	atomic.AddUint64(&b.captured, 1)
	b.source.AddCallbackBuffer(data)
}

// deliveryLoop claims ready frames and hands them to the sink until stopped
func (b *Bridge) deliveryLoop(done chan struct{}) {
	defer close(done)
	log := logger.WithSession("pipeline", b.Session())

	for {
		b.mu.Lock()
		for !b.frameReady && !b.stopRequested {
			b.cond.Wait()
		}
		if b.stopRequested {
			b.mu.Unlock()
			log.Debug().Msg("Delivery loop stopped")
			return
		}
		b.activeIdx = 1 - b.activeIdx
		b.frameReady = false
		f := b.decoded[1-b.activeIdx]
		b.mu.Unlock()

		if f.Seq() == 0 {
			continue
		}

		if err := b.sink.Deliver(f); err != nil {
			if atomic.AddUint64(&b.sinkErrs, 1) == 1 {
				log.Warn().Err(err).Uint64("seq", f.Seq()).Msg("Sink failed to process frame")
			}
		}
		atomic.AddUint64(&b.delivered, 1)
	}
}

// requestStop wakes the delivery loop and makes it exit
func (b *Bridge) requestStop() {
	b.mu.Lock()
	b.stopRequested = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Close stops delivery, waits for the delivery goroutine, releases the source
// and frees both buffers. Close is idempotent and safe after a failed Open.
func (b *Bridge) Close() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	return b.teardown()
}

// teardown undoes whatever part of Open completed. Caller holds lifeMu.
func (b *Bridge) teardown() error {
	b.mu.Lock()
	done := b.done
	wasOpen := b.open
	session := b.session
	b.stopRequested = true
	b.cond.Broadcast()
	b.mu.Unlock()

	if !b.acquired && done == nil {
		return nil
	}

	if b.stopOnCtx != nil {
		b.stopOnCtx()
		b.stopOnCtx = nil
	}

	// The loop may be inside the sink; buffers stay valid until it returns
	if done != nil {
		<-done
	}

	var errs []error
	if b.acquired {
		if err := b.source.StopPreview(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop preview: %w", err))
		}
		b.source.SetFrameCallback(nil)
		if err := b.source.Release(); err != nil {
			errs = append(errs, fmt.Errorf("failed to release source: %w", err))
		}
		b.acquired = false
	}

	b.mu.Lock()
	for i := range b.raw {
		if b.decoded[i] != nil {
			b.decoded[i].Release()
			b.decoded[i] = nil
		}
		if b.raw[i] != nil {
			b.raw[i].Release()
			b.raw[i] = nil
		}
	}
	b.open = false
	b.frameReady = false
	b.done = nil
	b.mu.Unlock()
	b.callbackBuf = nil

	if wasOpen {
		logger.WithSession("pipeline", session).Info().
			Uint64("captured", atomic.LoadUint64(&b.captured)).
			Uint64("delivered", atomic.LoadUint64(&b.delivered)).
			Uint64("coalesced", atomic.LoadUint64(&b.coalesced)).
			Msg("Pipeline closed")
	}

	return errors.Join(errs...)
}

// Session returns the id of the current or last session
func (b *Bridge) Session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// ActiveIndex returns the slot the source is currently writing
func (b *Bridge) ActiveIndex() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeIdx
}

// Params returns the effective capture parameters of the current session
func (b *Bridge) Params() capture.Params {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params
}

// Stats returns a snapshot of the bridge state
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	s := Stats{
		Session:       b.session,
		Source:        b.source.Name(),
		Open:          b.open,
		Stopping:      b.open && b.stopRequested,
		Width:         b.params.Size.Width,
		Height:        b.params.Size.Height,
		Format:        b.params.Format.String(),
		RecordingHint: b.params.RecordingHint,
		FocusMode:     b.params.FocusMode,
		ActiveIndex:   b.activeIdx,
	}
	b.mu.Unlock()

	s.FramesCaptured = atomic.LoadUint64(&b.captured)
	s.FramesDelivered = atomic.LoadUint64(&b.delivered)
	s.FramesCoalesced = atomic.LoadUint64(&b.coalesced)
	s.SinkErrors = atomic.LoadUint64(&b.sinkErrs)
	s.CallbacksStarved = b.source.Stats().Starved
	return s
}
