package output

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/CameraBridge/internal/frame"
	"github.com/bryanchriswhite/CameraBridge/internal/overlay"
)

type grayConverter struct{ value byte }

func (c grayConverter) Convert(src *frame.Raw, dst *image.RGBA) error {
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = c.value, c.value, c.value, 255
	}
	return nil
}

type failingConverter struct{}

func (failingConverter) Convert(*frame.Raw, *image.RGBA) error { return errors.New("bad frame") }

type fakeOutput struct {
	running bool
	err     error
	frames  []*image.RGBA
}

func (o *fakeOutput) Start() error    { o.running = true; return nil }
func (o *fakeOutput) Stop() error     { o.running = false; return nil }
func (o *fakeOutput) Name() string    { return "fake" }
func (o *fakeOutput) IsRunning() bool { return o.running }
func (o *fakeOutput) WriteFrame(img *image.RGBA) error {
	o.frames = append(o.frames, img)
	return o.err
}

type recordingRenderer struct{ infos []overlay.FrameInfo }

func (r *recordingRenderer) Render(img *image.RGBA, info overlay.FrameInfo) {
	r.infos = append(r.infos, info)
}

func decodedFrame(t *testing.T, conv frame.Converter) *frame.Decoded {
	t.Helper()
	raw := frame.NewRaw(16, 8, frame.FormatNV21)
	raw.Put(make([]byte, raw.Len()), 3)
	return frame.NewDecoded(raw, 1, conv)
}

func TestDispatcherFansOut(t *testing.T) {
	good := &fakeOutput{running: true}
	broken := &fakeOutput{running: true, err: errors.New("disk full")}
	stopped := &fakeOutput{}
	renderer := &recordingRenderer{}

	d := NewDispatcher(renderer, broken, good, stopped)
	if err := d.Deliver(decodedFrame(t, grayConverter{value: 90})); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(good.frames) != 1 {
		t.Fatalf("good output got %d frames, want 1", len(good.frames))
	}
	if len(stopped.frames) != 0 {
		t.Error("stopped output received a frame")
	}
	if good.frames[0] != broken.frames[0] {
		t.Error("outputs received different images; conversion should happen once")
	}
	if got := good.frames[0].Pix[0]; got != 90 {
		t.Errorf("pixel = %d, want 90", got)
	}
	if d.OutputErrors() != 1 {
		t.Errorf("output errors = %d, want 1", d.OutputErrors())
	}

	if len(renderer.infos) != 1 {
		t.Fatalf("renderer called %d times", len(renderer.infos))
	}
	info := renderer.infos[0]
	if info.Seq != 3 || info.Index != 1 || info.Format != "nv21" || info.Width != 16 {
		t.Errorf("frame info = %+v", info)
	}
}

func TestDispatcherReportsConversionFailure(t *testing.T) {
	out := &fakeOutput{running: true}
	d := NewDispatcher(nil, out)

	if err := d.Deliver(decodedFrame(t, failingConverter{})); err == nil {
		t.Fatal("conversion failure not reported")
	}
	if len(out.frames) != 0 {
		t.Error("output received a frame that failed conversion")
	}
}

func TestMJPEGWriteFrame(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 16, Height: 8, Quality: 70})

	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	if err := m.WriteFrame(img); err == nil {
		t.Error("WriteFrame succeeded before Start")
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop()

	if err := m.WriteFrame(img); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if m.FrameCount() != 1 {
		t.Errorf("frame count = %d, want 1", m.FrameCount())
	}

	decoded, err := jpeg.Decode(bytes.NewReader(m.LastFrame()))
	if err != nil {
		t.Fatalf("last frame is not a JPEG: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("jpeg size = %v", b)
	}
}

func TestMJPEGSnapshotHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	m.Start()
	defer m.Stop()

	rec := httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status before first frame = %d", rec.Code)
	}

	m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	rec = httptest.NewRecorder()
	m.GetSnapshotHandler()(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
}

func TestMJPEGStreamDeliversToClient(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	m.Start()

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("content type = %q", ct)
	}

	// Wait until the handler registered the client
	for m.ClientCount() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(time.Millisecond):
		}
	}

	m.WriteFrame(image.NewRGBA(image.Rect(0, 0, 4, 4)))

	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.HasPrefix(string(buf[:n]), "--frame") {
		t.Errorf("stream starts with %q", buf[:n])
	}

	// Stop disconnects clients
	m.Stop()
}
