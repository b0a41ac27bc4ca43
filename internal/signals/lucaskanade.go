package signals

import (
	"fmt"
	"math"

	"github.com/andresmejia3/veritas/internal/frame"
)

// LucasKanade is a dense, single-level Lucas-Kanade flow estimator.
// Each pixel solves the 2x2 normal equations over a square window; pixels whose
// structure tensor is near singular get zero flow.
type LucasKanade struct {
	Window   int     // window side in pixels (odd)
	Sigma    float64 // Gaussian pre-smoothing, 0 disables
	MinEigen float64 // minimum mean eigenvalue of the structure tensor per window pixel
	MaxWidth int     // frames wider than this are downscaled first, 0 disables
}

// NewLucasKanade returns the default estimator (15px window).
func NewLucasKanade() *LucasKanade {
	return &LucasKanade{Window: 15, Sigma: 1.0, MinEigen: 1e-2, MaxWidth: 320}
}

// MeanMagnitude returns the mean flow vector length in pixels of the original frame size.
func (lk *LucasKanade) MeanMagnitude(prev, curr *frame.Frame) (float64, error) {
	if prev.Width != curr.Width || prev.Height != curr.Height {
		return 0, fmt.Errorf("frame size mismatch: %dx%d vs %dx%d", prev.Width, prev.Height, curr.Width, curr.Height)
	}
	if prev.Width < 2 || prev.Height < 2 {
		return 0, nil
	}
	if prev.Layout != frame.Gray {
		prev = prev.Gray()
	}
	if curr.Layout != frame.Gray {
		curr = curr.Gray()
	}

	scale := 1.0
	if lk.MaxWidth > 0 && prev.Width > lk.MaxWidth {
		h := prev.Height * lk.MaxWidth / prev.Width
		if h < 2 {
			h = 2
		}
		scale = float64(prev.Width) / float64(lk.MaxWidth)
		prev = prev.Resize(lk.MaxWidth, h)
		curr = curr.Resize(lk.MaxWidth, h)
	}

	w, h := prev.Width, prev.Height
	p := gaussianBlur(toFloat(prev), w, h, lk.Sigma)
	c := gaussianBlur(toFloat(curr), w, h, lk.Sigma)

	n := w * h
	ixx := make([]float64, n)
	iyy := make([]float64, n)
	ixy := make([]float64, n)
	ixt := make([]float64, n)
	iyt := make([]float64, n)

	for y := 0; y < h; y++ {
		ym, yp := clampIdx(y-1, h), clampIdx(y+1, h)
		for x := 0; x < w; x++ {
			xm, xp := clampIdx(x-1, w), clampIdx(x+1, w)
			i := y*w + x
			// Spatial gradients on the mean of both frames.
			gx := ((p[y*w+xp] + c[y*w+xp]) - (p[y*w+xm] + c[y*w+xm])) / 4
			gy := ((p[yp*w+x] + c[yp*w+x]) - (p[ym*w+x] + c[ym*w+x])) / 4
			gt := c[i] - p[i]
			ixx[i] = gx * gx
			iyy[i] = gy * gy
			ixy[i] = gx * gy
			ixt[i] = gx * gt
			iyt[i] = gy * gt
		}
	}

	sxx := integral(ixx, w, h)
	syy := integral(iyy, w, h)
	sxy := integral(ixy, w, h)
	sxt := integral(ixt, w, h)
	syt := integral(iyt, w, h)

	r := lk.Window / 2
	if r < 1 {
		r = 1
	}
	var total float64
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-r), min(h, y+r+1)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-r), min(w, x+r+1)
			area := float64((x1 - x0) * (y1 - y0))

			a := boxSum(sxx, w, x0, y0, x1, y1)
			d := boxSum(syy, w, x0, y0, x1, y1)
			b := boxSum(sxy, w, x0, y0, x1, y1)

			half := (a + d) / 2
			minEig := half - math.Sqrt((a-d)*(a-d)/4+b*b)
			if minEig/area < lk.MinEigen {
				continue
			}
			det := a*d - b*b
			if det == 0 {
				continue
			}
			bx := boxSum(sxt, w, x0, y0, x1, y1)
			by := boxSum(syt, w, x0, y0, x1, y1)
			u := (b*by - d*bx) / det
			v := (b*bx - a*by) / det
			total += math.Hypot(u, v)
		}
	}
	return total / float64(n) * scale, nil
}

func toFloat(f *frame.Frame) []float64 {
	out := make([]float64, len(f.Pix))
	for i, v := range f.Pix {
		out[i] = float64(v)
	}
	return out
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// gaussianBlur applies a separable Gaussian with replicated borders.
func gaussianBlur(src []float64, w, h int, sigma float64) []float64 {
	if sigma <= 0 {
		return src
	}
	r := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*r+1)
	var norm float64
	for i := -r; i <= r; i++ {
		k := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+r] = k
		norm += k
	}
	for i := range kernel {
		kernel[i] /= norm
	}

	tmp := make([]float64, len(src))
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			var s float64
			for k := -r; k <= r; k++ {
				s += kernel[k+r] * src[row+clampIdx(x+k, w)]
			}
			tmp[row+x] = s
		}
	}
	out := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var s float64
			for k := -r; k <= r; k++ {
				s += kernel[k+r] * tmp[clampIdx(y+k, h)*w+x]
			}
			out[y*w+x] = s
		}
	}
	return out
}

// integral returns a (w+1)x(h+1) summed-area table.
func integral(src []float64, w, h int) []float64 {
	stride := w + 1
	out := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += src[y*w+x]
			out[(y+1)*stride+x+1] = out[y*stride+x+1] + row
		}
	}
	return out
}

// boxSum sums the half-open rectangle [x0,x1) x [y0,y1) of a summed-area table built for width w.
func boxSum(tab []float64, w, x0, y0, x1, y1 int) float64 {
	stride := w + 1
	return tab[y1*stride+x1] - tab[y0*stride+x1] - tab[y1*stride+x0] + tab[y0*stride+x0]
}
