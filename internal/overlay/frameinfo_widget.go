package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// FrameInfoWidget shows the format, size, sequence number, slot and measured
// delivery rate of each frame
type FrameInfoWidget struct {
	*BaseWidget
	textColor color.RGBA
	bgColor   color.RGBA
	padding   int
	showSlot  bool

	mu   sync.Mutex
	last time.Time
	fps  float64
}

// fpsSmoothing weights the newest interval in the rate average
const fpsSmoothing = 0.1

// NewFrameInfoWidget creates a frame info widget, anchored bottom-left by default
func NewFrameInfoWidget(id string, config map[string]interface{}) (*FrameInfoWidget, error) {
	w := &FrameInfoWidget{
		BaseWidget: NewBaseWidget(id, 8, -8, 0.9),
		textColor:  color.RGBA{230, 230, 230, 255},
		bgColor:    color.RGBA{30, 30, 40, 220},
		padding:    4,
		showSlot:   true,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns the widget type
func (w *FrameInfoWidget) Type() string {
	return "frame-info"
}

// Observe feeds a frame timestamp into the rate estimate and returns it
func (w *FrameInfoWidget) Observe(ts time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.last.IsZero() && ts.After(w.last) {
		inst := 1 / ts.Sub(w.last).Seconds()
		if w.fps == 0 {
			w.fps = inst
		} else {
			w.fps += fpsSmoothing * (inst - w.fps)
		}
	}
	w.last = ts
	return w.fps
}

// Label formats the text drawn for a frame
func (w *FrameInfoWidget) Label(info FrameInfo, fps float64) string {
	label := fmt.Sprintf("%s %dx%d #%d", info.Format, info.Width, info.Height, info.Seq)
	if w.showSlot {
		label += fmt.Sprintf(" slot %d", info.Index)
	}
	if fps > 0 {
		label += fmt.Sprintf(" %.1f fps", fps)
	}
	return label
}

// Render draws the frame info label
func (w *FrameInfoWidget) Render(img *image.RGBA, info FrameInfo) error {
	if !w.IsEnabled() {
		return nil
	}
	ts := info.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fps := w.Observe(ts)
	bg := w.bgColor
	drawLabel(img, w.BaseWidget, w.Label(info, fps), w.textColor, &bg, w.padding)
	return nil
}

// GetConfig returns the widget configuration
func (w *FrameInfoWidget) GetConfig() map[string]interface{} {
	return map[string]interface{}{
		"id":         w.id,
		"type":       w.Type(),
		"enabled":    w.enabled,
		"x":          w.x,
		"y":          w.y,
		"opacity":    w.opacity,
		"padding":    w.padding,
		"show_slot":  w.showSlot,
		"color":      colorConfig(w.textColor),
		"background": colorConfig(w.bgColor),
	}
}

// UpdateConfig updates the widget configuration
func (w *FrameInfoWidget) UpdateConfig(config map[string]interface{}) error {
	applyCommon(w.BaseWidget, config)

	if padding, ok := getInt(config["padding"]); ok {
		w.padding = padding
	}
	if show, ok := config["show_slot"].(bool); ok {
		w.showSlot = show
	}
	if c, ok := parseColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := parseColor(config["background"]); ok {
		w.bgColor = c
	}
	return nil
}
