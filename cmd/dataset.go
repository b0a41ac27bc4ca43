package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/veritas/internal/config"
	"github.com/andresmejia3/veritas/internal/landmarks"
	"github.com/andresmejia3/veritas/internal/logging"
	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/andresmejia3/veritas/internal/video"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type datasetOptions struct {
	featureOptions
	RealDir string
	FakeDir string
	Workers int
}

var datasetOpts datasetOptions

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Extract landmark features for labelled real/fake folders into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDataset(cmd.Context(), datasetOpts)
	},
}

func init() {
	addFeatureFlags(datasetCmd, &datasetOpts.featureOptions)
	datasetCmd.Flags().StringVar(&datasetOpts.RealDir, "real", "", "Folder of real videos (label 0)")
	datasetCmd.Flags().StringVar(&datasetOpts.FakeDir, "fake", "", "Folder of fake videos (label 1)")
	datasetCmd.Flags().IntVarP(&datasetOpts.Workers, "engines", "e", 0, "Number of parallel engine workers (default from config: 4)")
	datasetCmd.MarkFlagRequired("real")
	datasetCmd.MarkFlagRequired("fake")
	needsDB(datasetCmd)
	rootCmd.AddCommand(datasetCmd)
}

// persistResult registers the clip and stores its vector. It returns the video ID.
func persistResult(ctx context.Context, db *store.Store, runID uuid.UUID, r landmarks.Result) (string, error) {
	if !r.Kept() {
		return "", errors.New("clip has no features")
	}
	videoID, err := utils.GenerateVideoID(r.Job.Path)
	if err != nil {
		return "", err
	}
	if err := db.EnsureVideoMetadata(ctx, videoID, r.Job.Path); err != nil {
		return "", fmt.Errorf("register video metadata: %w", err)
	}
	err = db.UpsertFeatures(ctx, store.ClipRecord{
		VideoID:    videoID,
		RunID:      runID,
		Label:      r.Job.Label,
		FramesUsed: r.Features.FramesUsed,
		Vector:     *r.Features.Vector,
	})
	if err != nil {
		return "", fmt.Errorf("store features: %w", err)
	}
	return videoID, nil
}

func runDataset(ctx context.Context, opts datasetOptions) error {
	cfg, err := applyFeatureFlags(config.FromContext(ctx), opts.featureOptions)
	if err != nil {
		utils.ShowError("Invalid options", err, nil)
		return err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Landmarks.Workers
	}

	jobs, err := landmarks.CollectJobs(opts.RealDir, opts.FakeDir)
	if err != nil {
		utils.ShowError("Failed to list dataset folders", err, nil)
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No videos found in the dataset folders.")
		return nil
	}

	runID, err := DB.CreateRun(ctx, cfg.Landmarks.FrameSkip, cfg.Landmarks.MaxFrames, opts.RealDir, opts.FakeDir)
	if err != nil {
		utils.ShowError("Failed to register extraction run", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "🗂️  Extraction run %s: %d videos\n", utils.ShortID(runID.String()), len(jobs))
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", workers)

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("🧬 Veritas Extracting"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	logger := logging.WithComponent("dataset")
	var storeErr error
	builder := &landmarks.DatasetBuilder{
		Workers:      workers,
		NewPredictor: predictorFactory(cfg),
		Open:         video.OpenSource(videoOptions(cfg)),
		Options:      landmarkOptions(cfg),
		Logger:       logging.WithComponent("landmarks"),
		OnResult: func(r landmarks.Result) {
			bar.Add(1)
			if !r.Kept() || storeErr != nil {
				return
			}
			if _, err := persistResult(ctx, DB, runID, r); err != nil {
				storeErr = err
				logger.Error().Err(err).Str("path", r.Job.Path).Msg("failed to persist clip")
			}
		},
	}

	ds, err := builder.Build(ctx, jobs)
	bar.Finish()
	if err != nil {
		utils.ShowError("Dataset extraction failed", err, nil)
		return err
	}
	if storeErr != nil {
		utils.ShowError("Failed to persist features", storeErr, nil)
		return storeErr
	}

	if err := DB.FinishRun(ctx, runID, len(ds.Samples), len(ds.Dropped)); err != nil {
		utils.ShowError("Failed to finish extraction run", err, nil)
		return err
	}

	printDatasetSummary(ds)
	return nil
}

func printDatasetSummary(ds *landmarks.Dataset) {
	var nReal, nFake int
	for _, s := range ds.Samples {
		if s.Job.Label == types.Real {
			nReal++
		} else {
			nFake++
		}
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 DATASET SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "✅ Stored:  %d (%d real, %d fake)\n", len(ds.Samples), nReal, nFake)
	fmt.Fprintf(os.Stderr, "🗑️  Dropped: %d\n", len(ds.Dropped))
	for _, d := range ds.Dropped {
		reason := "no landmarks detected"
		if d.Err != nil {
			reason = d.Err.Error()
		}
		fmt.Fprintf(os.Stderr, "   %s: %s\n", filepath.Base(d.Job.Path), reason)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}
