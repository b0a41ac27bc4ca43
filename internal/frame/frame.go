// Package frame defines the decoded image buffer passed between the video
// source and the signal extractors.
//
// Ownership: a Frame returned by a video source belongs to that source and is
// overwritten by its next read. Anything that needs a frame past the current
// iteration must Clone it.
package frame

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// Layout is the channel layout of a frame. Its value is the number of bytes per pixel.
type Layout int

const (
	Gray Layout = 1
	RGB  Layout = 3
)

// Frame is a tightly packed 8-bit image (stride = Width * channels).
type Frame struct {
	Width  int
	Height int
	Layout Layout
	Pix    []byte
}

// New allocates a zeroed frame.
func New(width, height int, layout Layout) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Layout: layout,
		Pix:    make([]byte, width*height*int(layout)),
	}
}

// Channels returns the number of bytes per pixel.
func (f *Frame) Channels() int {
	return int(f.Layout)
}

// Validate checks that Pix matches the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.Layout != Gray && f.Layout != RGB {
		return fmt.Errorf("unsupported layout %d", f.Layout)
	}
	if want := f.Width * f.Height * f.Channels(); len(f.Pix) != want {
		return fmt.Errorf("pixel buffer is %d bytes, want %d", len(f.Pix), want)
	}
	return nil
}

// Clone returns a deep copy that is safe to retain.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Layout: f.Layout, Pix: pix}
}

// Gray returns a single channel copy using BT.601 luma weights (the same
// weights OpenCV uses for RGB2GRAY). A gray frame is cloned.
func (f *Frame) Gray() *Frame {
	if f.Layout == Gray {
		return f.Clone()
	}
	out := New(f.Width, f.Height, Gray)
	src := f.Pix
	for i, j := 0, 0; j < len(out.Pix); i, j = i+3, j+1 {
		// Fixed point: 0.299, 0.587, 0.114 scaled by 2^14.
		y := (4899*uint32(src[i]) + 9617*uint32(src[i+1]) + 1868*uint32(src[i+2]) + 8192) >> 14
		if y > 255 {
			y = 255
		}
		out.Pix[j] = uint8(y)
	}
	return out
}

// Image wraps the frame as an image.Image. Gray frames share the pixel buffer;
// RGB frames are copied into an RGBA image.
func (f *Frame) Image() image.Image {
	rect := image.Rect(0, 0, f.Width, f.Height)
	if f.Layout == Gray {
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: rect}
	}
	m := image.NewRGBA(rect)
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		m.Pix[j] = f.Pix[i]
		m.Pix[j+1] = f.Pix[i+1]
		m.Pix[j+2] = f.Pix[i+2]
		m.Pix[j+3] = 255
	}
	return m
}

// FromImage converts any image into a frame. *image.Gray input yields a gray frame,
// everything else RGB.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if g, ok := img.(*image.Gray); ok {
		out := New(w, h, Gray)
		for y := 0; y < h; y++ {
			start := g.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*w:(y+1)*w], g.Pix[start:start+w])
		}
		return out
	}

	out := New(w, h, RGB)
	off := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			out.Pix[off] = c.R
			out.Pix[off+1] = c.G
			out.Pix[off+2] = c.B
			off += 3
		}
	}
	return out
}

// Resize scales the frame with bilinear interpolation, keeping its layout.
func (f *Frame) Resize(width, height int) *Frame {
	if width <= 0 {
		width = 1
	}
	if height <= 0 {
		height = 1
	}
	scaled := resize.Resize(uint(width), uint(height), f.Image(), resize.Bilinear)
	out := FromImage(scaled)
	if f.Layout == Gray && out.Layout != Gray {
		return out.Gray()
	}
	return out
}

// EqualizeHist spreads the intensity histogram of a gray frame over the full
// 0-255 range, following the OpenCV equalizeHist mapping.
func (f *Frame) EqualizeHist() *Frame {
	g := f
	if f.Layout != Gray {
		g = f.Gray()
	}
	out := New(g.Width, g.Height, Gray)

	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}

	total := len(g.Pix)
	i := 0
	for i < 256 && hist[i] == 0 {
		i++
	}
	if i == 256 || hist[i] == total {
		// Constant image: OpenCV fills with the single present value.
		copy(out.Pix, g.Pix)
		return out
	}

	scale := 255.0 / float64(total-hist[i])
	var lut [256]uint8
	sum := 0
	for i++; i < 256; i++ {
		sum += hist[i]
		v := int(float64(sum)*scale + 0.5)
		if v > 255 {
			v = 255
		}
		lut[i] = uint8(v)
	}

	for k, v := range g.Pix {
		out.Pix[k] = lut[v]
	}
	return out
}
