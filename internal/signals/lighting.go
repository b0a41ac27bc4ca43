package signals

import (
	"math"

	"github.com/andresmejia3/veritas/internal/frame"
)

// MaxLightingStd is the standard deviation of L at which the lighting score reaches 0.
const MaxLightingStd = 128.0

// srgbToLinear maps 8-bit sRGB to linear light.
var srgbToLinear = func() (lut [256]float64) {
	for i := range lut {
		c := float64(i) / 255
		if c <= 0.04045 {
			lut[i] = c / 12.92
		} else {
			lut[i] = math.Pow((c+0.055)/1.055, 2.4)
		}
	}
	return lut
}()

// lightness returns the 8-bit CIELAB L value (L * 255/100) for a linear-light luminance Y.
func lightness(y float64) float64 {
	var l float64
	if y > 0.008856 {
		l = 116*math.Cbrt(y) - 16
	} else {
		l = 903.3 * y
	}
	return math.Round(l * 255 / 100)
}

// grayLightness caches L for neutral pixels, which covers gray frames entirely.
var grayLightness = func() (lut [256]float64) {
	for i := range lut {
		lut[i] = lightness(srgbToLinear[i])
	}
	return lut
}()

// LightingScore rates how uniform a frame's lightness is:
// 1 - std(L)/128 clamped to [0, 1], where L is the 8-bit CIELAB lightness channel.
func LightingScore(f *frame.Frame) float64 {
	n := f.Width * f.Height
	if n == 0 {
		return 1
	}

	var sum, sumSq float64
	if f.Layout == frame.Gray {
		for _, v := range f.Pix {
			l := grayLightness[v]
			sum += l
			sumSq += l * l
		}
	} else {
		pix := f.Pix
		for i := 0; i < len(pix); i += 3 {
			r, g, b := pix[i], pix[i+1], pix[i+2]
			var l float64
			if r == g && g == b {
				l = grayLightness[r]
			} else {
				y := 0.212671*srgbToLinear[r] + 0.715160*srgbToLinear[g] + 0.072169*srgbToLinear[b]
				l = lightness(y)
			}
			sum += l
			sumSq += l * l
		}
	}

	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Clamp(1-math.Sqrt(variance)/MaxLightingStd, 0, 1)
}
