package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/veritas/internal/config"
	"github.com/andresmejia3/veritas/internal/landmarks"
	"github.com/andresmejia3/veritas/internal/logging"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/andresmejia3/veritas/internal/video"
	"github.com/andresmejia3/veritas/internal/worker"
	"github.com/spf13/cobra"
)

type featureOptions struct {
	FrameSkip int
	MaxFrames int
	Output    string

	changed func(name string) bool
}

func (o featureOptions) set(name string) bool {
	return o.changed != nil && o.changed(name)
}

var featureOpts featureOptions

var featuresCmd = &cobra.Command{
	Use:   "features <video|->",
	Short: "Extract the averaged 68-point landmark vector of a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFeatures(cmd.Context(), args[0], featureOpts)
	},
}

func init() {
	addFeatureFlags(featuresCmd, &featureOpts)
	featuresCmd.Flags().StringVarP(&featureOpts.Output, "output", "o", "", "Write the JSON features to this file instead of stdout")
	rootCmd.AddCommand(featuresCmd)
}

func addFeatureFlags(cmd *cobra.Command, opts *featureOptions) {
	cmd.Flags().IntVarP(&opts.FrameSkip, "frame-skip", "s", 0, "Use every Nth frame (default from config: 30)")
	cmd.Flags().IntVarP(&opts.MaxFrames, "max-frames", "m", 0, "Stop after this many frames with landmarks (default from config: 50)")
	opts.changed = cmd.Flags().Changed
}

func applyFeatureFlags(cfg *config.Config, opts featureOptions) (*config.Config, error) {
	c := *cfg
	if opts.set("frame-skip") {
		c.Landmarks.FrameSkip = opts.FrameSkip
	}
	if opts.set("max-frames") {
		c.Landmarks.MaxFrames = opts.MaxFrames
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// clipFeaturesJSON is the output of the features command.
type clipFeaturesJSON struct {
	VideoID    string    `json:"video_id"`
	Path       string    `json:"path"`
	FramesUsed int       `json:"frames_used"`
	Vector     []float64 `json:"vector"`
}

// extractClip runs the landmark pipeline for one clip with a fresh engine.
func extractClip(ctx context.Context, cfg *config.Config, path string) (types.ClipFeatures, error) {
	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	// We use ID 0 for this ad-hoc worker
	w, err := worker.NewPythonWorker(ctx, 0, workerConfig(cfg))
	if err != nil {
		return types.ClipFeatures{}, fmt.Errorf("failed to start AI worker: %w", err)
	}
	defer w.Close()

	fmt.Fprintln(os.Stderr, "🔍 Extracting landmarks...")
	ex := landmarks.NewExtractor(video.OpenSource(videoOptions(cfg)), w, landmarkOptions(cfg), logging.WithComponent("landmarks"))
	feats, err := ex.Extract(ctx, path)
	if err != nil {
		utils.ShowError("Landmark extraction failed", err, w.Cmd)
		return types.ClipFeatures{}, err
	}
	return feats, nil
}

func runFeatures(ctx context.Context, input string, opts featureOptions) error {
	cfg, err := applyFeatureFlags(config.FromContext(ctx), opts)
	if err != nil {
		utils.ShowError("Invalid feature options", err, nil)
		return err
	}

	path, cleanup, err := resolveInput(input, os.Stdin)
	if err != nil {
		utils.ShowError("Failed to read input", err, nil)
		return err
	}
	defer cleanup()

	feats, err := extractClip(ctx, cfg, path)
	if err != nil {
		return err
	}
	if !feats.Signal() {
		fmt.Fprintln(os.Stderr, "❌ No valid frames detected: no face produced landmarks.")
	}

	videoID, err := utils.GenerateVideoID(path)
	if err != nil {
		utils.ShowError("Failed to generate video ID", err, nil)
		return err
	}

	out := os.Stdout
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			utils.ShowError("Failed to create output file", err, nil)
			return err
		}
		defer f.Close()
		out = f
	}
	return writeFeatures(out, videoID, input, feats)
}

func writeFeatures(w io.Writer, videoID, path string, feats types.ClipFeatures) error {
	doc := clipFeaturesJSON{VideoID: videoID, Path: path, FramesUsed: feats.FramesUsed, Vector: []float64{}}
	if feats.Vector != nil {
		doc.Vector = feats.Vector[:]
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
