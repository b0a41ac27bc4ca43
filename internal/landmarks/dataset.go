package landmarks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/andresmejia3/veritas/internal/types"
	"github.com/andresmejia3/veritas/internal/video"
	"github.com/h2non/filetype"
	"github.com/rs/zerolog"
)

// Job is one labelled clip to extract.
type Job struct {
	Path  string
	Label types.Label
}

// Result is the outcome of one job. Err is set when the clip could not be read.
type Result struct {
	Job      Job
	Features types.ClipFeatures
	Err      error
}

// Kept reports whether the clip belongs in the dataset.
func (r Result) Kept() bool {
	return r.Err == nil && r.Features.Signal()
}

// Dataset holds the usable samples in job order plus everything that was dropped.
type Dataset struct {
	Samples []Result
	Dropped []Result
}

// PredictorFactory builds one predictor per worker. If the predictor
// implements io.Closer it is closed when the worker exits.
type PredictorFactory func(ctx context.Context, workerID int) (Predictor, error)

// DatasetBuilder extracts features for many clips in parallel.
type DatasetBuilder struct {
	Workers      int
	NewPredictor PredictorFactory
	Open         video.Opener
	Options      Options
	Logger       zerolog.Logger

	// OnResult is called once per finished job. Calls are serialized.
	OnResult func(Result)
}

// Build runs all jobs. A worker that cannot start aborts the build; per-clip
// failures and clips without landmarks are reported in Dataset.Dropped.
func (b *DatasetBuilder) Build(ctx context.Context, jobs []Job) (*Dataset, error) {
	if len(jobs) == 0 {
		return &Dataset{}, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := b.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	results := make([]Result, len(jobs))
	taskChan := make(chan int)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		cbMu     sync.Mutex
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			p, err := b.NewPredictor(ctx, id)
			if err != nil {
				fail(fmt.Errorf("worker %d startup failed: %w", id, err))
				return
			}
			if c, ok := p.(io.Closer); ok {
				defer c.Close()
			}

			ex := NewExtractor(b.Open, p, b.Options, b.Logger.With().Int("worker", id).Logger())
			for idx := range taskChan {
				feats, err := ex.Extract(ctx, jobs[idx].Path)
				res := Result{Job: jobs[idx], Features: feats, Err: err}
				results[idx] = res

				if b.OnResult != nil {
					cbMu.Lock()
					b.OnResult(res)
					cbMu.Unlock()
				}
			}
		}(i)
	}

feed:
	for idx := range jobs {
		select {
		case taskChan <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(taskChan)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds := &Dataset{}
	for _, r := range results {
		if r.Kept() {
			ds.Samples = append(ds.Samples, r)
		} else {
			ds.Dropped = append(ds.Dropped, r)
		}
	}
	return ds, nil
}

// CollectJobs lists the video files of realDir (label 0) and fakeDir (label 1).
// Files are sniffed by content; anything that is not a video is skipped.
func CollectJobs(realDir, fakeDir string) ([]Job, error) {
	var jobs []Job
	for _, d := range []struct {
		dir   string
		label types.Label
	}{{realDir, types.Real}, {fakeDir, types.Fake}} {
		paths, err := videoFiles(d.dir)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			jobs = append(jobs, Job{Path: p, Label: d.label})
		}
	}
	return jobs, nil
}

func videoFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		ok, err := isVideo(path)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

func isVideo(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	// filetype needs at most 262 bytes of header.
	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return filetype.IsVideo(head[:n]), nil
}
