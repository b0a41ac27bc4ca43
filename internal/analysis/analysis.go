// Package analysis drives the frame-sampling scan of a clip and reduces the
// per-frame signals into a clip-level verdict.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andresmejia3/veritas/internal/frame"
	"github.com/andresmejia3/veritas/internal/fusion"
	"github.com/andresmejia3/veritas/internal/signals"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/video"
	"github.com/andresmejia3/veritas/internal/visualize"
	"github.com/rs/zerolog"
)

// Options tunes sampling and the verdict.
type Options struct {
	SampleEvery int            // analyze frames whose index is a multiple of this
	Threshold   float64        // clips scoring below this are flagged
	Neutral     float64        // value reported when no frame was sampled
	Weights     fusion.Weights // face, lighting and motion blend
	Plot        bool           // render the PNG trace
}

// DefaultOptions matches the stock heuristic: every 5th frame, flag below 0.8.
func DefaultOptions() Options {
	return Options{
		SampleEvery: 5,
		Threshold:   0.8,
		Neutral:     0.5,
		Weights:     fusion.DefaultWeights,
		Plot:        true,
	}
}

// Analyzer runs the scan. Detectors are injected so the pipeline can run
// against fakes or any backend.
type Analyzer struct {
	open   video.Opener
	faces  signals.FaceCounter
	flow   signals.FlowEstimator
	opts   Options
	logger zerolog.Logger

	// Progress, when set, is called after every decoded frame.
	Progress func(decoded int)
	// Render produces the visualization. Defaults to visualize.Render.
	Render func([]types.FrameRecord) ([]byte, error)
}

// New builds an Analyzer. A nil flow uses the pure Go Lucas-Kanade estimator.
func New(open video.Opener, faces signals.FaceCounter, flow signals.FlowEstimator, opts Options, logger zerolog.Logger) *Analyzer {
	if opts.SampleEvery < 1 {
		opts.SampleEvery = 1
	}
	return &Analyzer{
		open:   open,
		faces:  faces,
		flow:   flow,
		opts:   opts,
		logger: logger,
		Render: visualize.Render,
	}
}

// Analyze opens path and scans it to completion.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*types.AnalysisResult, error) {
	src, err := a.open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return a.Scan(ctx, src)
}

// Scan consumes src. The context is checked before every frame; on
// cancellation the partial scan is discarded and ctx.Err() is returned wrapped.
func (a *Analyzer) Scan(ctx context.Context, src video.Source) (*types.AnalysisResult, error) {
	start := time.Now()
	info := src.Info()
	motion := signals.NewMotionScorer(a.flow, a.logger)

	var records []types.FrameRecord
	decoded := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analysis of %s stopped at frame %d: %w", info.Path, decoded, err)
		}

		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A cancelled context kills the decoder, so its error is only a symptom.
			if cerr := ctx.Err(); cerr != nil {
				return nil, fmt.Errorf("analysis of %s stopped at frame %d: %w", info.Path, decoded, cerr)
			}
			return nil, err
		}

		idx := decoded
		decoded++

		if idx%a.opts.SampleEvery == 0 {
			faceCount := a.countFaces(f, idx)
			lighting := signals.LightingScore(f)
			motionScore := motion.Score(f)

			var ts float64
			if info.FPS > 0 {
				ts = float64(idx) / info.FPS
			}

			records = append(records, types.FrameRecord{
				FrameIndex:       idx,
				Timestamp:        ts,
				FaceCount:        faceCount,
				LightingScore:    lighting,
				MotionScore:      motionScore,
				ConsistencyScore: a.opts.Weights.Fuse(faceCount, lighting, motionScore),
			})
		}

		if a.Progress != nil {
			a.Progress(decoded)
		}
	}

	elapsed := time.Since(start).Seconds()
	result := Aggregate(records, info, decoded, elapsed, a.opts)

	if a.opts.Plot && len(records) > 0 && a.Render != nil {
		png, err := a.Render(records)
		if err != nil {
			a.logger.Warn().Err(err).Msg("visualization skipped")
		} else {
			result.Visualization = png
		}
	}

	a.logger.Debug().
		Str("path", info.Path).
		Int("decoded", decoded).
		Int("sampled", len(records)).
		Float64("confidence", result.ConfidenceScore).
		Bool("deepfake", result.IsDeepfake).
		Msg("analysis complete")

	return &result, nil
}

// countFaces treats detector failures as a miss for this frame only.
func (a *Analyzer) countFaces(f *frame.Frame, idx int) int {
	if a.faces == nil {
		return 0
	}
	n, err := a.faces.CountFaces(f)
	if err != nil {
		if !errors.Is(err, signals.ErrNoFace) {
			a.logger.Warn().Err(&signals.ExtractorError{Extractor: "face", Frame: idx, Err: err}).Msg("face detection failed, counting as miss")
		}
		return 0
	}
	if n < 0 {
		return 0
	}
	return n
}

// Aggregate reduces the sampled records into the clip result. decoded is the
// number of frames read from the source and stands in for the frame count when
// the container does not report one. elapsed is the processing time in seconds.
func Aggregate(records []types.FrameRecord, info video.Info, decoded int, elapsed float64, opts Options) types.AnalysisResult {
	n := len(records)

	avgConsistency, avgLighting, avgMotion, faceRate := opts.Neutral, opts.Neutral, opts.Neutral, opts.Neutral
	if n > 0 {
		var sumC, sumL, sumM float64
		withFace := 0
		for _, r := range records {
			sumC += r.ConsistencyScore
			sumL += r.LightingScore
			sumM += r.MotionScore
			if r.FaceCount > 0 {
				withFace++
			}
		}
		avgConsistency = sumC / float64(n)
		avgLighting = sumL / float64(n)
		avgMotion = sumM / float64(n)
		faceRate = float64(withFace) / float64(n)
	}

	frameCount := info.FrameCount
	if frameCount <= 0 {
		frameCount = decoded
	}

	var duration, efficiency float64
	if info.FPS > 0 {
		duration = float64(frameCount) / info.FPS
		if elapsed > 0 {
			efficiency = float64(frameCount) / (elapsed * info.FPS)
		}
	}

	frames := records
	if frames == nil {
		frames = []types.FrameRecord{}
	}

	return types.AnalysisResult{
		IsDeepfake:      avgConsistency < opts.Threshold,
		ConfidenceScore: avgConsistency,
		ProcessingTime:  elapsed,
		Inconclusive:    n == 0,
		SampledFrames:   n,
		FrameAnalysis:   frames,
		Metadata: types.ClipMetadata{
			FPS:               info.FPS,
			FrameCount:        frameCount,
			Width:             info.Width,
			Height:            info.Height,
			Duration:          duration,
			FaceDetectionRate: faceRate,
			AvgLightingScore:  avgLighting,
			AvgMotionScore:    avgMotion,
		},
		AnalysisSummary: types.AnalysisSummary{
			OverallConfidence:      avgConsistency,
			LightingConsistency:    avgLighting,
			MotionConsistency:      avgMotion,
			FaceDetectionStability: faceRate,
			ProcessingEfficiency:   efficiency,
		},
	}
}
