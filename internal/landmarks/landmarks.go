// Package landmarks turns a clip into one averaged 68-point facial landmark
// vector, the feature representation used by the offline classifier.
package landmarks

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/andresmejia3/veritas/internal/signals"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/video"
	"github.com/rs/zerolog"
)

// Predictor locates 68 landmarks on the first face of a preprocessed gray frame.
// It returns signals.ErrNoFace when the frame has no face.
type Predictor interface {
	Landmarks(f *frame.Frame) (types.LandmarkVector, error)
}

// Options controls frame sampling.
type Options struct {
	FrameSkip int // process frames whose index is a multiple of this
	MaxFrames int // stop after this many frames produced landmarks
}

// DefaultOptions samples every 30th frame and keeps at most 50.
func DefaultOptions() Options {
	return Options{FrameSkip: 30, MaxFrames: 50}
}

// Extractor computes ClipFeatures for one clip at a time. It is not safe for
// concurrent use; the dataset pool gives each worker its own.
type Extractor struct {
	open      video.Opener
	predictor Predictor
	opts      Options
	logger    zerolog.Logger
}

func NewExtractor(open video.Opener, predictor Predictor, opts Options, logger zerolog.Logger) *Extractor {
	if opts.FrameSkip < 1 {
		opts.FrameSkip = 1
	}
	if opts.MaxFrames < 1 {
		opts.MaxFrames = 1
	}
	return &Extractor{open: open, predictor: predictor, opts: opts, logger: logger}
}

// Preprocess converts to gray, halves the resolution and equalizes the histogram.
func Preprocess(f *frame.Frame) *frame.Frame {
	g := f.Gray()
	w, h := g.Width/2, g.Height/2
	if w > 0 && h > 0 {
		g = g.Resize(w, h)
	}
	return g.EqualizeHist()
}

// Extract opens path and averages the landmarks of its sampled frames.
func (e *Extractor) Extract(ctx context.Context, path string) (types.ClipFeatures, error) {
	src, err := e.open(ctx, path)
	if err != nil {
		return types.ClipFeatures{}, err
	}
	defer src.Close()

	return e.ExtractSource(ctx, src)
}

// ExtractSource is Extract over an already opened source. A clip where no
// frame yields landmarks returns empty features and no error.
func (e *Extractor) ExtractSource(ctx context.Context, src video.Source) (types.ClipFeatures, error) {
	var sum types.LandmarkVector
	used := 0
	misses := 0

	for idx := 0; used < e.opts.MaxFrames; idx++ {
		if err := ctx.Err(); err != nil {
			return types.ClipFeatures{}, fmt.Errorf("landmark extraction stopped at frame %d: %w", idx, err)
		}

		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return types.ClipFeatures{}, fmt.Errorf("landmark extraction stopped at frame %d: %w", idx, cerr)
			}
			return types.ClipFeatures{}, err
		}
		if idx%e.opts.FrameSkip != 0 {
			continue
		}

		vec, err := e.predictor.Landmarks(Preprocess(f))
		if err != nil {
			misses++
			if errors.Is(err, signals.ErrNoFace) {
				e.logger.Debug().Int("frame", idx).Msg("no face")
			} else {
				e.logger.Warn().Err(&signals.ExtractorError{Extractor: "landmarks", Frame: idx, Err: err}).Msg("skipping frame")
			}
			continue
		}

		for i, v := range vec {
			sum[i] += v
		}
		used++
	}

	if used == 0 {
		e.logger.Debug().Str("path", src.Info().Path).Int("misses", misses).Msg("no landmarks in clip")
		return types.ClipFeatures{}, nil
	}

	mean := new(types.LandmarkVector)
	for i := range sum {
		mean[i] = sum[i] / float64(used)
	}
	return types.ClipFeatures{Vector: mean, FramesUsed: used}, nil
}
