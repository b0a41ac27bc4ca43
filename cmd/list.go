package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all labelled clips in the database",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	needsDB(listCmd)
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	clips, err := DB.ListClips(ctx)
	if err != nil {
		utils.Die("Failed to list clips", err, nil)
	}

	if len(clips) == 0 {
		fmt.Println("No clips found in database.")
		return
	}
	writeClipTable(os.Stdout, clips)
}

func writeClipTable(out io.Writer, clips []store.Clip) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "VIDEO ID\tLABEL\tFRAMES\tRUN\tADDED\tPATH")
	fmt.Fprintln(w, "--------\t-----\t------\t---\t-----\t----")

	for _, c := range clips {
		run := "-"
		if c.RunID != uuid.Nil {
			run = utils.ShortID(c.RunID.String())
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			utils.ShortID(c.VideoID), c.Label, c.FramesUsed, run,
			c.CreatedAt.Local().Format("2006-01-02 15:04"), c.Path)
	}
	w.Flush()
}
