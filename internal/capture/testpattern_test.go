package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
)

func openPattern(t *testing.T, cfg TestPatternConfig) (*TestPattern, Params) {
	t.Helper()
	src := NewTestPattern(cfg)
	if err := src.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	params, err := src.Configure(Params{Size: Size{320, 240}, Format: frame.FormatNV21})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return src, params
}

func TestEmitConsumesOneBufferPerFrame(t *testing.T) {
	src, params := openPattern(t, TestPatternConfig{})
	defer src.Release()

	var got [][]byte
	src.SetFrameCallback(func(data []byte) {
		got = append(got, append([]byte(nil), data...))
	})
	if err := src.StartPreview(context.Background()); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}

	size := frame.BufferSize(params.Size.Width, params.Size.Height, params.Format)
	src.AddCallbackBuffer(make([]byte, size))

	if !src.Emit() {
		t.Fatal("first Emit was dropped with a buffer queued")
	}
	if src.Emit() {
		t.Fatal("second Emit delivered without a queued buffer")
	}

	stats := src.Stats()
	if stats.Delivered != 1 || stats.Starved != 1 {
		t.Errorf("stats = %+v, want 1 delivered and 1 starved", stats)
	}
	if len(got) != 1 {
		t.Fatalf("callback ran %d times, want 1", len(got))
	}
	if !PatternIntact(got[0], params.Size) {
		t.Error("delivered frame is not intact")
	}
	if c := PatternCounter(got[0]); c != 1 {
		t.Errorf("counter = %d, want 1", c)
	}
}

func TestReArmFromCallback(t *testing.T) {
	src, params := openPattern(t, TestPatternConfig{})
	defer src.Release()

	size := frame.BufferSize(params.Size.Width, params.Size.Height, params.Format)
	var counters []uint64
	src.SetFrameCallback(func(data []byte) {
		counters = append(counters, PatternCounter(data))
		src.AddCallbackBuffer(data)
	})
	src.StartPreview(context.Background())
	src.AddCallbackBuffer(make([]byte, size))

	for i := 0; i < 5; i++ {
		if !src.Emit() {
			t.Fatalf("Emit %d dropped", i)
		}
	}
	for i, c := range counters {
		if c != uint64(i+1) {
			t.Fatalf("counters = %v, want 1..5", counters)
		}
	}
	if n := src.PendingBuffers(); n != 1 {
		t.Errorf("pending buffers = %d, want 1", n)
	}
}

func TestReleaseDropsBuffersAndIgnoresLateAdds(t *testing.T) {
	src, _ := openPattern(t, TestPatternConfig{})

	src.AddCallbackBuffer(make([]byte, 16))
	if err := src.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	src.AddCallbackBuffer(make([]byte, 16))
	if n := src.PendingBuffers(); n != 0 {
		t.Errorf("pending buffers after release = %d, want 0", n)
	}
	if src.Emit() {
		t.Error("Emit delivered after release")
	}
	if err := src.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestTickerModeDelivers(t *testing.T) {
	src, params := openPattern(t, TestPatternConfig{FPS: 200})
	defer src.Release()

	var mu sync.Mutex
	count := 0
	done := make(chan struct{})
	src.SetFrameCallback(func(data []byte) {
		mu.Lock()
		count++
		if count == 5 {
			close(done)
		}
		mu.Unlock()
		src.AddCallbackBuffer(data)
	})
	src.AddCallbackBuffer(make([]byte, frame.BufferSize(params.Size.Width, params.Size.Height, params.Format)))

	if err := src.StartPreview(context.Background()); err != nil {
		t.Fatalf("StartPreview: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not deliver 5 frames")
	}

	if err := src.StopPreview(); err != nil {
		t.Fatalf("StopPreview: %v", err)
	}
}

func TestInjectedFailures(t *testing.T) {
	boom := errors.New("boom")

	src := NewTestPattern(TestPatternConfig{OpenErr: boom})
	if err := src.Open(); !errors.Is(err, boom) {
		t.Errorf("Open err = %v, want boom", err)
	}

	src = NewTestPattern(TestPatternConfig{ConfigureErr: boom})
	src.Open()
	if _, err := src.Configure(Params{Size: Size{320, 240}, Format: frame.FormatNV21}); !errors.Is(err, boom) {
		t.Errorf("Configure err = %v, want boom", err)
	}

	src = NewTestPattern(TestPatternConfig{StartErr: boom})
	src.Open()
	defer src.Release()
	if _, err := src.Configure(Params{Size: Size{320, 240}, Format: frame.FormatNV21}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := src.StartPreview(context.Background()); !errors.Is(err, boom) {
		t.Errorf("StartPreview err = %v, want boom", err)
	}
	if src.Emit() {
		t.Error("Emit delivered while preview was refused")
	}
	src.SetStartErr(nil)
	if err := src.StartPreview(context.Background()); err != nil {
		t.Errorf("StartPreview after clearing: %v", err)
	}
}

func TestNoSizesOverridesDefaults(t *testing.T) {
	src := NewTestPattern(TestPatternConfig{NoSizes: true, Sizes: []Size{{320, 240}}})
	if sizes := src.Info().Sizes; len(sizes) != 0 {
		t.Errorf("sizes = %v, want none", sizes)
	}
	if _, err := Negotiate(src.Info(), Preferences{}); err == nil {
		t.Error("Negotiate succeeded without sizes")
	}
}

func TestConfigureRejectsUnadvertisedSize(t *testing.T) {
	src := NewTestPattern(TestPatternConfig{Sizes: []Size{{320, 240}}})
	src.Open()
	defer src.Release()

	if _, err := src.Configure(Params{Size: Size{640, 480}, Format: frame.FormatNV21}); err == nil {
		t.Error("Configure accepted an unadvertised size")
	}
}
