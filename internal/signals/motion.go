package signals

import (
	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/rs/zerolog"
)

// MaxMotion is the mean flow magnitude (pixels) at which the motion score reaches 0.
const MaxMotion = 10.0

// FlowEstimator computes the mean dense optical flow magnitude between two gray frames.
type FlowEstimator interface {
	MeanMagnitude(prev, curr *frame.Frame) (float64, error)
}

// MotionScorer scores each sampled frame against the previous sampled frame.
// It keeps its own copy of that frame, so callers may reuse their buffers.
type MotionScorer struct {
	flow   FlowEstimator
	prev   *frame.Frame
	logger zerolog.Logger
	index  int
}

// NewMotionScorer returns a scorer backed by flow. A nil flow uses LucasKanade.
func NewMotionScorer(flow FlowEstimator, logger zerolog.Logger) *MotionScorer {
	if flow == nil {
		flow = NewLucasKanade()
	}
	return &MotionScorer{flow: flow, logger: logger}
}

// Score returns 1 - mean/10 clamped to [0, 1]. The first frame, and any frame
// whose flow cannot be computed, scores 1.
func (m *MotionScorer) Score(f *frame.Frame) float64 {
	curr := f.Gray()
	prev := m.prev
	m.prev = curr
	m.index++

	if prev == nil {
		return 1
	}
	if prev.Width != curr.Width || prev.Height != curr.Height {
		m.logger.Warn().Int("sample", m.index).Msg("frame size changed, motion reset")
		return 1
	}

	mean, err := m.flow.MeanMagnitude(prev, curr)
	if err != nil {
		m.logger.Warn().Err(&ExtractorError{Extractor: "motion", Frame: m.index, Err: err}).Msg("optical flow failed")
		return 1
	}
	return Clamp(1-mean/MaxMotion, 0, 1)
}

// Reset forgets the previous frame.
func (m *MotionScorer) Reset() {
	m.prev = nil
	m.index = 0
}
