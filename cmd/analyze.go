package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/veritas/internal/analysis"
	"github.com/andresmejia3/veritas/internal/config"
	"github.com/andresmejia3/veritas/internal/logging"
	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/utils"
	"github.com/andresmejia3/veritas/internal/video"
	"github.com/h2non/filetype"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// analyzeOptions holds the flags of the analyze command. Flags left unset defer to the config file.
type analyzeOptions struct {
	Output      string
	PlotPath    string
	NoPlot      bool
	SampleEvery int
	Threshold   float64
	Backend     string
	Timeout     time.Duration
	Quiet       bool

	changed func(name string) bool
}

// set reports whether the named flag was given on the command line.
func (o analyzeOptions) set(name string) bool {
	return o.changed != nil && o.changed(name)
}

var analyzeOpts analyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video|->",
	Short: "Score a video for deepfake artifacts (face, lighting and motion consistency)",
	Long: "Decodes the video, samples every Nth frame, scores face presence, lighting and motion\n" +
		"consistency and writes the analysis as JSON. Use - to read the video from stdin.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnalyze(cmd.Context(), args[0], analyzeOpts)
	},
}

func init() {
	addAnalyzeFlags(analyzeCmd, &analyzeOpts)
	rootCmd.AddCommand(analyzeCmd)
}

func addAnalyzeFlags(cmd *cobra.Command, opts *analyzeOptions) {
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Write the JSON result to this file instead of stdout")
	cmd.Flags().StringVarP(&opts.PlotPath, "plot", "p", "", "Also write the visualization PNG to this file")
	cmd.Flags().BoolVar(&opts.NoPlot, "no-plot", false, "Skip rendering the visualization")
	cmd.Flags().IntVarP(&opts.SampleEvery, "sample-every", "n", 0, "Analyze every Nth frame (default from config: 5)")
	cmd.Flags().Float64VarP(&opts.Threshold, "threshold", "t", 0, "Flag clips whose confidence is below this (default from config: 0.8)")
	cmd.Flags().StringVarP(&opts.Backend, "backend", "b", "", "Detector backend: python or opencv (default from config)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Abort the analysis after this long; 0 disables (default from config: 10m)")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Hide the progress bar")
	opts.changed = cmd.Flags().Changed
}

// applyAnalyzeFlags overlays the flags that were set on a copy of cfg.
func applyAnalyzeFlags(cfg *config.Config, opts analyzeOptions) (*config.Config, error) {
	c := *cfg
	if opts.set("sample-every") {
		c.Analysis.SampleEvery = opts.SampleEvery
	}
	if opts.set("threshold") {
		c.Analysis.Threshold = opts.Threshold
	}
	if opts.set("backend") {
		c.Vision.Backend = opts.Backend
	}
	if opts.set("timeout") {
		c.Analysis.Timeout = opts.Timeout
	}
	if opts.NoPlot {
		c.Analysis.Plot = false
	}
	if opts.PlotPath != "" {
		c.Analysis.Plot = true
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func analysisOptions(cfg *config.Config) analysis.Options {
	return analysis.Options{
		SampleEvery: cfg.Analysis.SampleEvery,
		Threshold:   cfg.Analysis.Threshold,
		Neutral:     cfg.Analysis.Neutral,
		Weights:     cfg.Analysis.Weights,
		Plot:        cfg.Analysis.Plot,
	}
}

func runAnalyze(ctx context.Context, input string, opts analyzeOptions) error {
	cfg, err := applyAnalyzeFlags(config.FromContext(ctx), opts)
	if err != nil {
		utils.ShowError("Invalid analysis options", err, nil)
		return err
	}

	path, cleanup, err := resolveInput(input, os.Stdin)
	if err != nil {
		utils.ShowError("Failed to read input", err, nil)
		return err
	}
	defer cleanup()

	if cfg.Analysis.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Analysis.Timeout)
		defer cancel()
	}

	// Open once; the decoder's stream info sizes the progress bar.
	src, err := video.Open(ctx, path, videoOptions(cfg))
	if err != nil {
		utils.ShowError("Failed to open video", err, nil)
		return err
	}
	defer src.Close()

	info := src.Info()
	fmt.Fprintf(os.Stderr, "📼 %s: %dx%d @ %.2f fps\n", input, info.Width, info.Height, info.FPS)
	if info.Rotation != 0 {
		fmt.Fprintf(os.Stderr, "↪️  Stream is tagged with a %d° rotation; frames are analyzed as stored.\n", info.Rotation)
	}

	det, err := newDetectors(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to start detector backend", err, nil)
		return err
	}
	defer det.Close()

	a := analysis.New(nil, det.Faces, det.Flow, analysisOptions(cfg), logging.WithComponent("analysis"))

	total := info.FrameCount
	if total <= 0 {
		// Spinner when the container does not report a frame count
		total = -1
	}
	var bar *progressbar.ProgressBar
	if !opts.Quiet {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("🔍 Veritas Analyzing"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
		)
		a.Progress = func(decoded int) { bar.Set(decoded) }
	}

	result, err := a.Scan(ctx, src)
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		var engineLogs *utils.SafeCommand
		if det.engine != nil {
			engineLogs = det.engine.Cmd
		}
		if errors.Is(err, context.DeadlineExceeded) {
			utils.ShowError(fmt.Sprintf("Analysis timed out after %s", cfg.Analysis.Timeout), err, engineLogs)
		} else {
			utils.ShowError("Analysis failed", err, engineLogs)
		}
		return err
	}

	if err := writeResult(result, opts.Output, os.Stdout); err != nil {
		utils.ShowError("Failed to write result", err, nil)
		return err
	}
	if opts.PlotPath != "" {
		if result.Visualization == nil {
			fmt.Fprintln(os.Stderr, "⚠️  No visualization was produced (no sampled frames or render failure).")
		} else if err := os.WriteFile(opts.PlotPath, result.Visualization, 0644); err != nil {
			utils.ShowError("Failed to write plot", err, nil)
			return err
		}
	}

	printSummary(os.Stderr, result)
	return nil
}

// resolveInput returns a readable file path for arg. "-" spools r into a
// temporary file because the decoder needs a seekable input to probe.
func resolveInput(arg string, r io.Reader) (string, func(), error) {
	if arg != "-" {
		return arg, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "veritas-stdin-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("spool stdin: %w", err)
	}
	if n == 0 {
		cleanup()
		return "", nil, errors.New("stdin is empty")
	}

	if head := headOf(tmp.Name()); len(head) > 0 {
		if kind, _ := filetype.Match(head); kind != filetype.Unknown && !filetype.IsVideo(head) {
			fmt.Fprintf(os.Stderr, "⚠️  stdin looks like %s, not a video; trying anyway\n", kind.MIME.Value)
		}
	}
	return tmp.Name(), cleanup, nil
}

func headOf(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	buf := make([]byte, 262)
	n, _ := io.ReadFull(f, buf)
	return buf[:n]
}

// writeResult encodes the result as indented JSON to path, or to stdout when path is empty.
func writeResult(result *types.AnalysisResult, path string, stdout io.Writer) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func printSummary(w io.Writer, r *types.AnalysisResult) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 ANALYSIS SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	switch {
	case r.Inconclusive:
		fmt.Fprintf(w, "❔ Verdict:                 Inconclusive (no frames sampled)\n")
	case r.IsDeepfake:
		fmt.Fprintf(w, "🚩 Verdict:                 Likely manipulated\n")
	default:
		fmt.Fprintf(w, "✅ Verdict:                 No manipulation detected\n")
	}
	fmt.Fprintf(w, "🎯 Confidence:              %.3f\n", r.ConfidenceScore)
	fmt.Fprintf(w, "💡 Lighting Consistency:    %.3f\n", r.AnalysisSummary.LightingConsistency)
	fmt.Fprintf(w, "🏃 Motion Consistency:      %.3f\n", r.AnalysisSummary.MotionConsistency)
	fmt.Fprintf(w, "👁️  Face Detection Rate:     %.3f\n", r.AnalysisSummary.FaceDetectionStability)
	fmt.Fprintf(w, "🎞️  Sampled Frames:          %d of %d (%s)\n", r.SampledFrames, r.Metadata.FrameCount, utils.FmtTime(r.Metadata.Duration))
	fmt.Fprintf(w, "⏱️  Processing Time:         %.2fs\n", r.ProcessingTime)
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}
