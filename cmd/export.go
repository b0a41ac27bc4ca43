package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/andresmejia3/veritas/internal/store"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/spf13/cobra"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the labelled landmark dataset as CSV for an external trainer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runExport(cmd.Context(), exportOutput)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write the CSV to this file instead of stdout")
	needsDB(exportCmd)
	rootCmd.AddCommand(exportCmd)
}

func runExport(ctx context.Context, output string) error {
	samples, err := DB.Dataset(ctx)
	if err != nil {
		utils.ShowError("Failed to read dataset", err, nil)
		return err
	}

	var out io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			utils.ShowError("Failed to create output file", err, nil)
			return err
		}
		defer f.Close()
		out = f
	}

	if err := writeDatasetCSV(out, samples); err != nil {
		utils.ShowError("Failed to write CSV", err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "📦 Exported %d clips\n", len(samples))
	return nil
}

// writeDatasetCSV writes one row per clip: video_id, path, label, then the
// 136 landmark coordinates as f0..f135.
func writeDatasetCSV(out io.Writer, samples []store.Sample) error {
	w := csv.NewWriter(out)

	header := make([]string, 0, 3+types.LandmarkDim)
	header = append(header, "video_id", "path", "label")
	for i := 0; i < types.LandmarkDim; i++ {
		header = append(header, "f"+strconv.Itoa(i))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, s := range samples {
		row[0] = s.VideoID
		row[1] = s.Path
		row[2] = strconv.Itoa(int(s.Label))
		for i, v := range s.Vector {
			row[3+i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
