package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/veritas/internal/config"
	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/spf13/cobra"
)

type findOptions struct {
	featureOptions
	Limit int
}

var findOpts findOptions

var findCmd = &cobra.Command{
	Use:   "find <video|->",
	Short: "Search the dataset for the clips whose landmarks are closest to a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runFind(cmd.Context(), args[0], findOpts)
	},
}

func init() {
	addFeatureFlags(findCmd, &findOpts.featureOptions)
	findCmd.Flags().IntVarP(&findOpts.Limit, "limit", "k", 10, "Number of clips to show")
	needsDB(findCmd)
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, input string, opts findOptions) error {
	cfg, err := applyFeatureFlags(config.FromContext(ctx), opts.featureOptions)
	if err != nil {
		utils.ShowError("Invalid options", err, nil)
		return err
	}
	if opts.Limit < 1 {
		opts.Limit = 1
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
		fmt.Println("❌ No faces produced landmarks in the provided video.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
	nn, err := DB.FindNearest(ctx, *feats.Vector, opts.Limit)
	if err != nil {
		utils.ShowError("Database search failed", err, nil)
		return err
	}

	if len(nn) == 0 {
		fmt.Println("❌ No clips stored in database.")
		return nil
	}
	writeNeighborTable(os.Stdout, nn)
	return nil
}

func writeNeighborTable(out io.Writer, nn []store.Neighbor) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "VIDEO\tLABEL\tDISTANCE\tVIDEO ID")
	fmt.Fprintln(w, "-----\t-----\t--------\t--------")

	for _, n := range nn {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%s\n",
			filepath.Base(n.Path),
			n.Label,
			n.Distance,
			utils.ShortID(n.VideoID),
		)
	}
	w.Flush()
}
