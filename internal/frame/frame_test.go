package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, r, g, b byte) *Frame {
	f := New(w, h, RGB)
	for i := 0; i < len(f.Pix); i += 3 {
		f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
	}
	return f
}

func TestGray(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b byte
		want    byte
	}{
		{"black", 0, 0, 0, 0},
		{"white", 255, 255, 255, 255},
		{"pure red", 255, 0, 0, 76},
		{"pure green", 0, 255, 0, 150},
		{"pure blue", 0, 0, 255, 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := solid(2, 2, tt.r, tt.g, tt.b).Gray()
			require.Equal(t, Gray, g.Layout)
			require.Len(t, g.Pix, 4)
			for _, v := range g.Pix {
				assert.InDelta(t, int(tt.want), int(v), 1)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	f := solid(3, 3, 10, 20, 30)
	c := f.Clone()
	f.Pix[0] = 99
	assert.Equal(t, byte(10), c.Pix[0])
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New(4, 3, RGB).Validate())
	assert.Error(t, (&Frame{Width: 4, Height: 3, Layout: RGB, Pix: make([]byte, 10)}).Validate())
	assert.Error(t, (&Frame{Width: 0, Height: 3, Layout: Gray}).Validate())
}

func TestResizeHalvesDimensions(t *testing.T) {
	f := solid(64, 48, 200, 100, 50)
	r := f.Resize(32, 24)
	require.Equal(t, 32, r.Width)
	require.Equal(t, 24, r.Height)
	require.Equal(t, RGB, r.Layout)
	assert.InDelta(t, 200, int(r.Pix[0]), 2)

	g := f.Gray().Resize(32, 24)
	assert.Equal(t, Gray, g.Layout)
	assert.NoError(t, g.Validate())
}

func TestEqualizeHistStretchesRange(t *testing.T) {
	f := New(4, 1, Gray)
	copy(f.Pix, []byte{100, 101, 102, 103})

	eq := f.EqualizeHist()
	assert.Equal(t, []byte{0, 85, 170, 255}, eq.Pix)
}

func TestEqualizeHistConstantFrame(t *testing.T) {
	f := New(3, 3, Gray)
	for i := range f.Pix {
		f.Pix[i] = 42
	}
	eq := f.EqualizeHist()
	for _, v := range eq.Pix {
		assert.Equal(t, byte(42), v)
	}
}
