package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/veritas/internal/config"
	"github.com/andresmejia3/veritas/internal/landmarks"
	"github.com/andresmejia3/veritas/internal/signals"
	"github.com/andresmejia3/veritas/internal/video"
	"github.com/andresmejia3/veritas/internal/vision/opencv"
	"github.com/andresmejia3/veritas/internal/worker"
)

// detectors is the set of per-frame backends used by analyze.
type detectors struct {
	Faces  signals.FaceCounter
	Flow   signals.FlowEstimator // nil selects the built-in Lucas-Kanade estimator
	closer io.Closer
	engine *worker.PythonWorker
}

func (d *detectors) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

func workerConfig(cfg *config.Config) worker.Config {
	return worker.Config{
		Python:      cfg.Worker.Python,
		Script:      cfg.Worker.Script,
		ReadTimeout: cfg.Worker.ReadTimeout,
	}
}

func videoOptions(cfg *config.Config) video.Options {
	return video.Options{
		FFmpegPath:  cfg.FFmpeg.FFmpegPath,
		FFprobePath: cfg.FFmpeg.FFprobePath,
	}
}

// newDetectors starts the configured backend. The python backend spawns one
// engine process; the opencv backend needs a binary built with -tags opencv.
func newDetectors(ctx context.Context, cfg *config.Config) (*detectors, error) {
	switch cfg.Vision.Backend {
	case "opencv":
		if !opencv.Available {
			return nil, opencv.ErrUnavailable
		}
		cc, err := opencv.NewCascadeCounter(cfg.Vision.CascadePath)
		if err != nil {
			return nil, err
		}
		return &detectors{Faces: cc, Flow: opencv.Farneback{}, closer: cc}, nil
	case "python", "":
		fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
		w, err := worker.NewPythonWorker(ctx, 0, workerConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &detectors{Faces: w, closer: w, engine: w}, nil
	default:
		return nil, fmt.Errorf("unknown vision backend %q", cfg.Vision.Backend)
	}
}

// predictorFactory starts one landmark engine per dataset worker.
func predictorFactory(cfg *config.Config) landmarks.PredictorFactory {
	wc := workerConfig(cfg)
	return func(ctx context.Context, workerID int) (landmarks.Predictor, error) {
		w, err := worker.NewPythonWorker(ctx, workerID, wc)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func landmarkOptions(cfg *config.Config) landmarks.Options {
	return landmarks.Options{
		FrameSkip: cfg.Landmarks.FrameSkip,
		MaxFrames: cfg.Landmarks.MaxFrames,
	}
}
