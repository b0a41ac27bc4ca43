package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFaceScore(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{0, 0.0},
		{1, 1.0},
		{2, 0.5},
		{7, 0.5},
		{-1, 0.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FaceScore(tt.count), "count=%d", tt.count)
	}
}

func TestFuse(t *testing.T) {
	tests := []struct {
		name             string
		faces            int
		lighting, motion float64
		want             float64
	}{
		{"perfect single face", 1, 1.0, 1.0, 1.0},
		{"no face", 0, 1.0, 1.0, 0.6},
		{"crowd", 2, 1.0, 1.0, 0.8},
		{"everything bad", 0, 0, 0, 0},
		{"mixed", 1, 0.5, 0.2, 0.4 + 0.15 + 0.06},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Fuse(tt.faces, tt.lighting, tt.motion), 1e-9)
		})
	}
}

func TestFuseIsClamped(t *testing.T) {
	heavy := Weights{Face: 1, Lighting: 1, Motion: 1}
	assert.Equal(t, 1.0, heavy.Fuse(1, 1, 1))
	assert.Equal(t, 0.0, DefaultWeights.Fuse(0, -5, -5))
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights.Validate())
	assert.Error(t, Weights{Face: -0.1, Lighting: 0.6, Motion: 0.5}.Validate())
	assert.Error(t, Weights{}.Validate())
}
