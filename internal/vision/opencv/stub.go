//go:build !opencv

// Package opencv provides in-process detector backends built on gocv.
// This build carries no OpenCV; constructors return ErrUnavailable.
package opencv

import (
	"errors"

	"github.com/andresmejia3/veritas/internal/frame"
)

var ErrUnavailable = errors.New("opencv backend not compiled in (build with -tags opencv)")

const Available = false

type CascadeCounter struct{}

func NewCascadeCounter(path string) (*CascadeCounter, error) {
	return nil, ErrUnavailable
}

func (c *CascadeCounter) CountFaces(f *frame.Frame) (int, error) {
	return 0, ErrUnavailable
}

func (c *CascadeCounter) Close() error { return nil }

type Farneback struct{}

func (Farneback) MeanMagnitude(prev, curr *frame.Frame) (float64, error) {
	return 0, ErrUnavailable
}
