package studio

import "fmt"

// Canvas is the compositor's drawing surface: one reused I420 frame
// plus the primitives needed to paint placement slots into it. All
// rectangles are canvas pixel coordinates. Offsets and sizes are
// aligned down to even so the half-resolution chroma planes stay
// addressable.
type Canvas struct {
	frame *VideoFrame
}

// NewCanvas allocates a canvas with even-aligned dimensions.
func NewCanvas(width, height int) *Canvas {
	w := width &^ 1
	h := height &^ 1
	if w < 2 {
		w = 2
	}
	if h < 2 {
		h = 2
	}
	return &Canvas{frame: NewI420Frame(w, h)}
}

// Frame returns the backing frame. The buffer is reused across draws;
// callers retaining it beyond the current tick must Clone it.
func (c *Canvas) Frame() *VideoFrame { return c.frame }

// Width returns the canvas width in pixels.
func (c *Canvas) Width() int { return c.frame.Width }

// Height returns the canvas height in pixels.
func (c *Canvas) Height() int { return c.frame.Height }

// Fill paints the whole canvas with a solid color.
func (c *Canvas) Fill(color YUVColor) {
	f := c.frame
	fillPlane(f.Data[0], color.Y)
	fillPlane(f.Data[1], color.U)
	fillPlane(f.Data[2], color.V)
}

// FillRect paints a rectangle with a solid color. The rectangle is
// clipped to the canvas and aligned to even coordinates.
func (c *Canvas) FillRect(r Rect, color YUVColor) {
	r = c.clip(r)
	if r.Empty() {
		return
	}
	f := c.frame
	fillPlaneRect(f.Data[0], f.Stride[0], r.X, r.Y, r.W, r.H, color.Y)
	fillPlaneRect(f.Data[1], f.Stride[1], r.X/2, r.Y/2, r.W/2, r.H/2, color.U)
	fillPlaneRect(f.Data[2], f.Stride[2], r.X/2, r.Y/2, r.W/2, r.H/2, color.V)
}

// DrawFrame scales src to cover dst using bilinear interpolation.
// The destination rectangle is clipped to the canvas; a fully clipped
// rectangle is a no-op, not an error.
func (c *Canvas) DrawFrame(src *VideoFrame, dst Rect) error {
	if src == nil {
		return fmt.Errorf("draw: nil frame")
	}
	if src.Format != PixelFormatI420 {
		return fmt.Errorf("draw: unsupported pixel format %v", src.Format)
	}
	if len(src.Data) < 3 || src.Data[0] == nil || src.Data[1] == nil || src.Data[2] == nil {
		return fmt.Errorf("draw: frame missing planes")
	}
	if src.Width < 2 || src.Height < 2 {
		return fmt.Errorf("draw: source too small: %dx%d", src.Width, src.Height)
	}
	dst = c.clip(dst)
	if dst.Empty() {
		return nil
	}

	f := c.frame
	scalePlaneInto(src.Data[0], src.Stride[0], src.Width, src.Height,
		f.Data[0], f.Stride[0], dst.X, dst.Y, dst.W, dst.H)
	scalePlaneInto(src.Data[1], src.Stride[1], src.Width/2, src.Height/2,
		f.Data[1], f.Stride[1], dst.X/2, dst.Y/2, dst.W/2, dst.H/2)
	scalePlaneInto(src.Data[2], src.Stride[2], src.Width/2, src.Height/2,
		f.Data[2], f.Stride[2], dst.X/2, dst.Y/2, dst.W/2, dst.H/2)
	return nil
}

// StrokeRect paints a border of the given thickness just inside r.
func (c *Canvas) StrokeRect(r Rect, color YUVColor, thickness int) {
	r = c.clip(r)
	if r.Empty() {
		return
	}
	t := thickness &^ 1
	if t < 2 {
		t = 2
	}
	if t*2 > r.W || t*2 > r.H {
		c.FillRect(r, color)
		return
	}
	c.FillRect(Rect{X: r.X, Y: r.Y, W: r.W, H: t}, color)
	c.FillRect(Rect{X: r.X, Y: r.Y + r.H - t, W: r.W, H: t}, color)
	c.FillRect(Rect{X: r.X, Y: r.Y + t, W: t, H: r.H - 2*t}, color)
	c.FillRect(Rect{X: r.X + r.W - t, Y: r.Y + t, W: t, H: r.H - 2*t}, color)
}

// DimRect scales luma inside r to pct percent of its distance from
// video black, leaving chroma untouched. Overlay boxes use this to
// darken the backdrop without a full repaint.
func (c *Canvas) DimRect(r Rect, pct int) {
	r = c.clip(r)
	if r.Empty() {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	f := c.frame
	for y := r.Y; y < r.Y+r.H; y++ {
		row := f.Data[0][y*f.Stride[0]:]
		for x := r.X; x < r.X+r.W; x++ {
			v := int(row[x])
			if v < 16 {
				continue
			}
			row[x] = byte(16 + (v-16)*pct/100)
		}
	}
}

// clip aligns r to even coordinates and clips it to the canvas.
func (c *Canvas) clip(r Rect) Rect {
	r.X &^= 1
	r.Y &^= 1
	r.W &^= 1
	r.H &^= 1
	if r.X < 0 {
		r.W += r.X
		r.X = 0
	}
	if r.Y < 0 {
		r.H += r.Y
		r.Y = 0
	}
	if r.X+r.W > c.frame.Width {
		r.W = (c.frame.Width - r.X) &^ 1
	}
	if r.Y+r.H > c.frame.Height {
		r.H = (c.frame.Height - r.Y) &^ 1
	}
	return r
}

func fillPlane(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}

func fillPlaneRect(p []byte, stride, x, y, w, h int, v byte) {
	if w <= 0 || h <= 0 {
		return
	}
	for row := y; row < y+h; row++ {
		line := p[row*stride+x : row*stride+x+w]
		for i := range line {
			line[i] = v
		}
	}
}

// scalePlaneInto scales a full source plane into a sub-rectangle of a
// destination plane using bilinear interpolation in 16.16 fixed point.
func scalePlaneInto(src []byte, srcStride, srcW, srcH int,
	dst []byte, dstStride, dstX, dstY, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		y0 := srcYFP >> 16
		yFrac := srcYFP & 0xFFFF

		y1 := y0 + 1
		if y1 >= srcH {
			y1 = y0
		}

		dstRow := (dstY+y)*dstStride + dstX

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			x0 := srcXFP >> 16
			xFrac := srcXFP & 0xFFFF

			x1 := x0 + 1
			if x1 >= srcW {
				x1 = x0
			}

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			top := (p00*(0x10000-xFrac) + p10*xFrac) >> 16
			bottom := (p01*(0x10000-xFrac) + p11*xFrac) >> 16

			dst[dstRow+x] = byte((top*(0x10000-yFrac) + bottom*yFrac) >> 16)
		}
	}
}

// rgbToYUV converts RGB to YUV (BT.601, studio range).
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(clampF(yf, 16, 235))
	u = uint8(clampF(uf, 16, 240))
	v = uint8(clampF(vf, 16, 240))
	return
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
