package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextWidget displays a line of text. The text may reference the current
// frame with {seq}, {slot}, {format}, {size} and {time}.
type TextWidget struct {
	*BaseWidget
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int
}

// NewTextWidget creates a new text widget
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		text:       "Text Widget",
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}

	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}

	return w, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Expand substitutes frame placeholders in the configured text
func (w *TextWidget) Expand(info FrameInfo) string {
	if !strings.Contains(w.text, "{") {
		return w.text
	}
	r := strings.NewReplacer(
		"{seq}", strconv.FormatUint(info.Seq, 10),
		"{slot}", strconv.Itoa(info.Index),
		"{format}", info.Format,
		"{size}", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"{time}", info.Timestamp.Format(time.TimeOnly),
	)
	return r.Replace(w.text)
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA, info FrameInfo) error {
	if !w.IsEnabled() || w.text == "" {
		return nil
	}
	drawLabel(img, w.BaseWidget, w.Expand(info), w.textColor, w.bgColor, w.padding)
	return nil
}

// drawLabel renders one line of basicfont text with optional background
func drawLabel(img *image.RGBA, base *BaseWidget, text string, fg color.RGBA, bg *color.RGBA, padding int) {
	face := basicfont.Face7x13
	lineHeight := face.Height

	d := &font.Drawer{Face: face}
	textWidthPx := d.MeasureString(text).Ceil()

	boxWidth := textWidthPx + padding*2
	boxHeight := lineHeight + padding*2
	at := base.anchor(img.Bounds(), boxWidth, boxHeight)

	if bg != nil {
		DrawRectangle(img, at.X, at.Y, boxWidth, boxHeight, *bg, base.opacity)
	}

	textImg := image.NewRGBA(image.Rect(0, 0, textWidthPx, lineHeight))
	textDrawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	textDrawer.DrawString(text)

	BlendImage(img, textImg, at.X+padding, at.Y+padding, base.opacity)
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	config := map[string]interface{}{
		"id":      w.id,
		"type":    w.Type(),
		"enabled": w.enabled,
		"x":       w.x,
		"y":       w.y,
		"opacity": w.opacity,
		"text":    w.text,
		"padding": w.padding,
		"color":   colorConfig(w.textColor),
	}

	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}

	return config
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	if text, ok := config["text"].(string); ok {
		w.text = text
	}
	applyCommon(w.BaseWidget, config)

	if padding, ok := getInt(config["padding"]); ok {
		w.padding = padding
	}
	if c, ok := parseColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := parseColor(config["background"]); ok {
		w.bgColor = &c
	}

	return nil
}

// applyCommon reads the position, opacity and enabled keys shared by all widgets
func applyCommon(base *BaseWidget, config map[string]interface{}) {
	if x, ok := getInt(config["x"]); ok {
		base.x = x
	}
	if y, ok := getInt(config["y"]); ok {
		base.y = y
	}
	if opacity, ok := config["opacity"].(float64); ok {
		base.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		base.SetEnabled(enabled)
	}
}

// getInt extracts an integer from a YAML or JSON decoded value
func getInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case uint8:
		return int(val), true
	case float64:
		return int(val), true
	default:
		return 0, false
	}
}

func parseColor(v interface{}) (color.RGBA, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return color.RGBA{}, false
	}
	channel := func(key string, def int) uint8 {
		if n, ok := getInt(m[key]); ok {
			return uint8(n)
		}
		return uint8(def)
	}
	return color.RGBA{R: channel("r", 0), G: channel("g", 0), B: channel("b", 0), A: channel("a", 255)}, true
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": c.R, "g": c.G, "b": c.B, "a": c.A}
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.text = text
}

// GetText returns the current text
func (w *TextWidget) GetText() string {
	return w.text
}

// Validate ensures the widget configuration is valid
func (w *TextWidget) Validate() error {
	if w.text == "" {
		return fmt.Errorf("text widget requires non-empty text")
	}
	return nil
}
