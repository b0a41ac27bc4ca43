package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/veritas/internal/classify"
	"github.com/andresmejia3/veritas/internal/config"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/spf13/cobra"
)

type predictOptions struct {
	featureOptions
	ModelPath string
	Neighbors int
}

var predictOpts predictOptions

var predictCmd = &cobra.Command{
	Use:   "predict <video|->",
	Short: "Classify a video as real or fake from its landmark features",
	Long: "Extracts the averaged landmark vector and classifies it with a linear model exported\n" +
		"by an external trainer (--model), or by a vote of the nearest labelled clips in the database.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runPredict(cmd.Context(), args[0], predictOpts)
	},
}

func init() {
	addFeatureFlags(predictCmd, &predictOpts.featureOptions)
	predictCmd.Flags().StringVar(&predictOpts.ModelPath, "model", "", "Linear model YAML (weights, bias); without it the database neighbours vote")
	predictCmd.Flags().IntVarP(&predictOpts.Neighbors, "neighbors", "k", 0, "Number of neighbours to consult (default from config: 5)")
	rootCmd.AddCommand(predictCmd)
}

// newClassifier picks the linear model when a path is configured, else the
// neighbour vote over the feature store.
func newClassifier(ctx context.Context, cfg *config.Config, opts predictOptions) (classify.Classifier, error) {
	modelPath := opts.ModelPath
	if modelPath == "" {
		modelPath = cfg.Classifier.ModelPath
	}
	if modelPath != "" {
		m, err := classify.LoadLinearModel(modelPath)
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	if err := connectDB(ctx); err != nil {
		return nil, err
	}
	k := opts.Neighbors
	if k == 0 {
		k = cfg.Classifier.Neighbors
	}
	return &classify.NeighborClassifier{Store: DB, K: k}, nil
}

func runPredict(ctx context.Context, input string, opts predictOptions) error {
	cfg, err := applyFeatureFlags(config.FromContext(ctx), opts.featureOptions)
	if err != nil {
		utils.ShowError("Invalid options", err, nil)
		return err
	}

	clf, err := newClassifier(ctx, cfg, opts)
	if err != nil {
		utils.ShowError("Failed to load classifier", err, nil)
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

	pred, err := classify.Classify(ctx, clf, feats)
	if err != nil && !errors.Is(err, classify.ErrNoSignal) {
		utils.ShowError("Classification failed", err, nil)
		return err
	}

	verdict := classify.Verdict(feats, pred)
	if !feats.Signal() {
		fmt.Printf("❔ %s\n", verdict)
		return nil
	}
	fmt.Printf("🎯 Prediction: %s (p(fake)=%.3f, %d frames)\n", verdict, pred.Probability, feats.FramesUsed)
	return nil
}
