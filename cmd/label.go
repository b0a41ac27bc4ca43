package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <video_id> <real|fake>",
	Short: "Correct the label of a stored clip (a unique video ID prefix is enough)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		label, err := types.ParseLabel(args[1])
		if err != nil {
			utils.Die("Invalid label", err, nil)
		}

		runLabel(cmd.Context(), args[0], label)
	},
}

func init() {
	needsDB(labelCmd)
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, prefix string, label types.Label) {
	// Database is initialized in Root PersistentPreRun
	id, err := DB.Relabel(ctx, prefix, label)
	if err != nil {
		utils.Die("Failed to label clip", err, nil)
	}

	fmt.Printf("✅ Clip %s labeled as '%s'\n", utils.ShortID(id), label)
}
