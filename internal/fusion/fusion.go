// Package fusion combines the per-frame signals into one consistency score.
package fusion

import (
	"fmt"

	"github.com/andresmejia3/veritas/internal/signals"
)

// Weights are the linear blend factors for the face, lighting and motion cues.
type Weights struct {
	Face     float64 `yaml:"face"`
	Lighting float64 `yaml:"lighting"`
	Motion   float64 `yaml:"motion"`
}

// DefaultWeights favours the face cue.
var DefaultWeights = Weights{Face: 0.4, Lighting: 0.3, Motion: 0.3}

// Validate rejects negative weights and an all-zero blend.
func (w Weights) Validate() error {
	if w.Face < 0 || w.Lighting < 0 || w.Motion < 0 {
		return fmt.Errorf("fusion weights must be non-negative, got %+v", w)
	}
	if w.Face+w.Lighting+w.Motion == 0 {
		return fmt.Errorf("fusion weights must not all be zero")
	}
	return nil
}

// FaceScore is 1 for exactly one face, 0.5 for several and 0 for none.
func FaceScore(count int) float64 {
	switch {
	case count == 1:
		return 1.0
	case count > 1:
		return 0.5
	default:
		return 0.0
	}
}

// Fuse returns the weighted consistency score, clamped to [0, 1].
func (w Weights) Fuse(faceCount int, lighting, motion float64) float64 {
	score := w.Face*FaceScore(faceCount) + w.Lighting*lighting + w.Motion*motion
	return signals.Clamp(score, 0, 1)
}

// Fuse scores with DefaultWeights.
func Fuse(faceCount int, lighting, motion float64) float64 {
	return DefaultWeights.Fuse(faceCount, lighting, motion)
}
