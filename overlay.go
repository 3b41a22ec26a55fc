package studio

import (
	"image"
	"image/color"
	"sync/atomic"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LowerThird is the name/title card drawn near the bottom-left corner.
type LowerThird struct {
	Name  string
	Title string
}

// Ticker is the scrolling text strip along the bottom edge.
type Ticker struct {
	Text string
}

// BrandingSettings is the caller-owned overlay state. The compositor
// applies whatever was last Updated; changes take effect next tick.
// A zero TextColor falls back to white; a zero AccentColor falls back
// to ColorAccent.
type BrandingSettings struct {
	ShowLowerThird bool
	LowerThird     LowerThird
	ShowTicker     bool
	Ticker         Ticker
	TextColor      YUVColor
	AccentColor    YUVColor
}

// Overlay geometry in canvas pixels.
const (
	overlayMargin     = 32
	overlayPadding    = 10
	overlayTextScale  = 2
	accentBarPx       = 4
	tickerStripHeight = 32
	tickerSpeedPxSec  = 90
	overlayDimPct     = 35
)

type overlaySnapshot struct {
	settings BrandingSettings
	gen      uint64
}

// BrandingOverlay paints the lower third and ticker onto composited
// frames. Update may be called from any goroutine; Apply runs only on
// the compositor goroutine. Text masks are rebuilt lazily when the
// settings generation changes.
type BrandingOverlay struct {
	cur atomic.Value // overlaySnapshot
	gen atomic.Uint64

	// Apply-goroutine state.
	builtGen  uint64
	nameMask  *image.Alpha
	titleMask *image.Alpha
	tickMask  *image.Alpha

	face font.Face
}

// NewBrandingOverlay creates an overlay with nothing enabled.
func NewBrandingOverlay() *BrandingOverlay {
	o := &BrandingOverlay{face: basicfont.Face7x13}
	o.cur.Store(overlaySnapshot{})
	o.builtGen = ^uint64(0)
	return o
}

// Update replaces the overlay settings; takes effect on the next Apply.
func (o *BrandingOverlay) Update(s BrandingSettings) {
	gen := o.gen.Add(1)
	o.cur.Store(overlaySnapshot{settings: s, gen: gen})
}

// Settings returns the most recently updated settings.
func (o *BrandingOverlay) Settings() BrandingSettings {
	return o.cur.Load().(overlaySnapshot).settings
}

// Apply draws the enabled overlay elements onto the canvas. ts is the
// frame timestamp in nanoseconds; it drives the ticker scroll so the
// position is a pure function of frame time.
func (o *BrandingOverlay) Apply(c *Canvas, ts int64) {
	snap := o.cur.Load().(overlaySnapshot)
	s := snap.settings
	if !s.ShowLowerThird && !s.ShowTicker {
		return
	}

	if snap.gen != o.builtGen {
		o.nameMask = renderTextMask(o.face, s.LowerThird.Name)
		o.titleMask = renderTextMask(o.face, s.LowerThird.Title)
		o.tickMask = renderTextMask(o.face, s.Ticker.Text)
		o.builtGen = snap.gen
	}

	textColor := s.TextColor
	if textColor == (YUVColor{}) {
		textColor = ColorWhite
	}
	accent := s.AccentColor
	if accent == (YUVColor{}) {
		accent = ColorAccent
	}

	if s.ShowTicker && o.tickMask.Bounds().Dx() > 0 {
		o.drawTicker(c, textColor, ts)
	}
	if s.ShowLowerThird {
		o.drawLowerThird(c, textColor, accent, s.ShowTicker)
	}
}

func (o *BrandingOverlay) drawLowerThird(c *Canvas, textColor, accent YUVColor, aboveTicker bool) {
	nameW := o.nameMask.Bounds().Dx() * overlayTextScale
	nameH := o.nameMask.Bounds().Dy() * overlayTextScale
	titleW := o.titleMask.Bounds().Dx() * overlayTextScale
	titleH := o.titleMask.Bounds().Dy() * overlayTextScale
	if nameW == 0 && titleW == 0 {
		return
	}

	boxW := nameW
	if titleW > boxW {
		boxW = titleW
	}
	boxW += accentBarPx + 2*overlayPadding
	boxH := nameH + titleH + 2*overlayPadding
	if nameH > 0 && titleH > 0 {
		boxH += overlayPadding
	}

	x := overlayMargin
	y := c.Height() - overlayMargin - boxH
	if aboveTicker {
		y -= tickerStripHeight
	}

	c.DimRect(Rect{X: x, Y: y, W: boxW, H: boxH}, overlayDimPct)
	c.FillRect(Rect{X: x, Y: y, W: accentBarPx, H: boxH}, accent)

	textX := x + accentBarPx + overlayPadding
	textY := y + overlayPadding
	if nameW > 0 {
		blitMask(c, o.nameMask, textX, textY, overlayTextScale, textColor)
		textY += nameH + overlayPadding
	}
	if titleW > 0 {
		blitMask(c, o.titleMask, textX, textY, overlayTextScale, textColor)
	}
}

func (o *BrandingOverlay) drawTicker(c *Canvas, textColor YUVColor, ts int64) {
	strip := Rect{X: 0, Y: c.Height() - tickerStripHeight, W: c.Width(), H: tickerStripHeight}
	c.DimRect(strip, overlayDimPct)

	textW := o.tickMask.Bounds().Dx() * overlayTextScale
	textH := o.tickMask.Bounds().Dy() * overlayTextScale

	// Marquee: one loop carries the text across the canvas and off the
	// left edge before re-entering on the right.
	loop := textW + c.Width()
	offset := int(ts/1e6) * tickerSpeedPxSec / 1000 % loop
	x := c.Width() - offset
	y := strip.Y + (tickerStripHeight-textH)/2

	blitMask(c, o.tickMask, x, y, overlayTextScale, textColor)
}

// renderTextMask rasterizes text into a coverage mask at font size.
func renderTextMask(face font.Face, text string) *image.Alpha {
	if text == "" {
		return image.NewAlpha(image.Rect(0, 0, 0, 0))
	}

	w := font.MeasureString(face, text).Ceil()
	m := face.Metrics()
	h := (m.Ascent + m.Descent).Ceil()

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  mask,
		Src:  image.NewUniform(color.Alpha{A: 0xff}),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: m.Ascent},
	}
	d.DrawString(text)
	return mask
}

// blitMask alpha-blends a glyph mask onto the canvas luma plane at an
// integer scale, keying chroma where coverage is strong. Pixels outside
// the canvas are clipped.
func blitMask(c *Canvas, mask *image.Alpha, dstX, dstY, scale int, col YUVColor) {
	if mask == nil {
		return
	}
	mw, mh := mask.Bounds().Dx(), mask.Bounds().Dy()
	if mw == 0 || mh == 0 {
		return
	}

	f := c.frame
	for my := 0; my < mh; my++ {
		for mx := 0; mx < mw; mx++ {
			a := int(mask.AlphaAt(mx, my).A)
			if a == 0 {
				continue
			}
			for sy := 0; sy < scale; sy++ {
				dy := dstY + my*scale + sy
				if dy < 0 || dy >= f.Height {
					continue
				}
				for sx := 0; sx < scale; sx++ {
					dx := dstX + mx*scale + sx
					if dx < 0 || dx >= f.Width {
						continue
					}
					yi := dy*f.Stride[0] + dx
					bg := int(f.Data[0][yi])
					f.Data[0][yi] = byte((a*int(col.Y) + (255-a)*bg) / 255)
					if a >= 128 {
						ui := (dy/2)*f.Stride[1] + dx/2
						f.Data[1][ui] = col.U
						f.Data[2][ui] = col.V
					}
				}
			}
		}
	}
}
