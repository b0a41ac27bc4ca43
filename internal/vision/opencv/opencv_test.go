//go:build opencv

package opencv

import (
	"math"
	"testing"

	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texture(w, h int, dx float64) *frame.Frame {
	f := frame.New(w, h, frame.Gray)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 128 + 50*math.Sin((float64(x)-dx)/5) + 50*math.Sin(float64(y)/5)
			f.Pix[y*w+x] = uint8(math.Round(v))
		}
	}
	return f
}

func TestFarnebackStatic(t *testing.T) {
	f := texture(64, 64, 0)
	mag, err := Farneback{}.MeanMagnitude(f, f.Clone())
	require.NoError(t, err)
	assert.Less(t, mag, 0.05)
}

func TestFarnebackShift(t *testing.T) {
	mag, err := Farneback{}.MeanMagnitude(texture(64, 64, 0), texture(64, 64, 2))
	require.NoError(t, err)
	assert.Greater(t, mag, 0.5)
}

func TestCascadeCounterBlankFrame(t *testing.T) {
	c, err := NewCascadeCounter("")
	if err != nil {
		t.Skipf("no cascade file available: %v", err)
	}
	defer c.Close()

	n, err := c.CountFaces(frame.New(64, 64, frame.RGB))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
