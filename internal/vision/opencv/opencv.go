//go:build opencv

// Package opencv provides in-process detector backends built on gocv.
// It is compiled only with the opencv build tag; without it every
// constructor returns ErrUnavailable.
package opencv

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/andresmejia3/veritas/internal/signals"
	"gocv.io/x/gocv"
)

// ErrUnavailable is returned by the stub build.
var ErrUnavailable = errors.New("opencv backend not compiled in (build with -tags opencv)")

// Available reports whether this binary carries the gocv backend.
const Available = true

const cascadeFile = "haarcascade_frontalface_default.xml"

// CascadeCounter counts frontal faces with a Haar cascade.
type CascadeCounter struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewCascadeCounter loads the frontal face cascade from path, or from the
// usual OpenCV install locations when path is empty.
func NewCascadeCounter(path string) (*CascadeCounter, error) {
	classifier := gocv.NewCascadeClassifier()

	candidates := []string{path}
	if path == "" {
		dir := os.Getenv("OPENCV_CASCADE_PATH")
		if dir == "" {
			dir = "./models/haarcascades"
		}
		candidates = []string{
			filepath.Join(dir, cascadeFile),
			cascadeFile,
			"/usr/local/share/opencv4/haarcascades/" + cascadeFile,
			"/usr/share/opencv4/haarcascades/" + cascadeFile,
			"/opt/homebrew/share/opencv4/haarcascades/" + cascadeFile,
		}
	}

	for _, c := range candidates {
		if classifier.Load(c) {
			return &CascadeCounter{classifier: classifier}, nil
		}
	}
	classifier.Close()
	return nil, fmt.Errorf("failed to load face cascade from %v", candidates)
}

// CountFaces implements signals.FaceCounter.
func (c *CascadeCounter) CountFaces(f *frame.Frame) (int, error) {
	gray, err := grayMat(f)
	if err != nil {
		return 0, err
	}
	defer gray.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	rects := c.classifier.DetectMultiScaleWithParams(gray,
		signals.CascadeScaleFactor, signals.CascadeMinNeighbors, 0,
		image.Pt(0, 0), image.Pt(0, 0))
	return len(rects), nil
}

func (c *CascadeCounter) Close() error {
	return c.classifier.Close()
}

// Farneback estimates dense flow with OpenCV's Farneback algorithm
// (pyramid scale 0.5, 3 levels, 15px window, 3 iterations, polyN 5, sigma 1.2).
type Farneback struct{}

// MeanMagnitude implements signals.FlowEstimator.
func (Farneback) MeanMagnitude(prev, curr *frame.Frame) (float64, error) {
	p, err := grayMat(prev)
	if err != nil {
		return 0, err
	}
	defer p.Close()
	c, err := grayMat(curr)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	flow := gocv.NewMat()
	defer flow.Close()
	gocv.CalcOpticalFlowFarneback(p, c, &flow, 0.5, 3, 15, 3, 5, 1.2, 0)

	data, err := flow.DataPtrFloat32()
	if err != nil {
		return 0, fmt.Errorf("read flow field: %w", err)
	}
	if len(data) < 2 {
		return 0, nil
	}

	var sum float64
	for i := 0; i+1 < len(data); i += 2 {
		sum += math.Hypot(float64(data[i]), float64(data[i+1]))
	}
	return sum / float64(len(data)/2), nil
}

func grayMat(f *frame.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.Mat{}, err
	}
	if f.Layout == frame.Gray {
		return gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC1, f.Pix)
	}
	rgb, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Pix)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer rgb.Close()
	gray := gocv.NewMat()
	gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)
	return gray, nil
}
