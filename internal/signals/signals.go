// Package signals computes the per-frame cues that feed the consistency score:
// face count, lighting uniformity and inter-frame motion.
package signals

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/veritas/internal/frame"
)

// Fixed Haar cascade parameters shared by every face counting backend.
const (
	CascadeScaleFactor  = 1.3
	CascadeMinNeighbors = 5
)

// ErrNoFace is returned by landmark predictors when a frame contains no face.
// It is a normal outcome, not a failure.
var ErrNoFace = errors.New("no face detected")

// FaceCounter counts frontal faces in a frame.
type FaceCounter interface {
	CountFaces(f *frame.Frame) (int, error)
}

// FaceCounterFunc adapts a function to FaceCounter.
type FaceCounterFunc func(f *frame.Frame) (int, error)

func (fn FaceCounterFunc) CountFaces(f *frame.Frame) (int, error) { return fn(f) }

// ExtractorError wraps a backend failure for one frame. Callers treat it as a
// miss for that frame and keep going.
type ExtractorError struct {
	Extractor string
	Frame     int
	Err       error
}

func (e *ExtractorError) Error() string {
	return fmt.Sprintf("%s extractor failed on frame %d: %v", e.Extractor, e.Frame, e.Err)
}

func (e *ExtractorError) Unwrap() error { return e.Err }

// Clamp limits v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
