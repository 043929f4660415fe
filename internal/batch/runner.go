// Package batch turns an ordered list of transfer items into a checkpointed,
// retried, verified execution.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"s3mover/internal/checkpoint"
	"s3mover/internal/metrics"
	"s3mover/internal/progress"
	"s3mover/internal/retry"

	"go.uber.org/zap"
)

// Item is one file to move. Immutable once discovered.
type Item struct {
	Source string // local path (upload) or remote URI (download)
	Target string // remote URI (upload) or local path (download)
	Name   string
	Size   int64
}

// TransferFunc performs one transfer attempt for an item, feeding every line
// of the external tool's output to onLine. A nil return means the tool exited
// zero.
type TransferFunc func(ctx context.Context, item Item, onLine func(string)) error

// VerifyFunc checks a finished transfer; non-nil means verification failed
// and the attempt is retried.
type VerifyFunc func(ctx context.Context, item Item) error

// Options configures one batch run.
type Options struct {
	Kind        checkpoint.Kind
	Destination string
	Resume      bool
	Retry       retry.Policy
	Checksum    bool // record a sha256 of the local file on completed uploads
}

// Result is the terminal outcome of one item.
type Result struct {
	Name     string
	Status   checkpoint.Status
	Attempts int
	Err      string
}

// Summary aggregates a whole batch. SessionID is the identifier of the
// checkpoint state the run operated on (resumed or fresh).
type Summary struct {
	SessionID   string
	Success     int
	Failed      int
	Skipped     int
	Results     []Result
	FailedFiles []string
}

// Runner drives batches. It exclusively owns the OperationState for the
// duration of one Run call; the checkpoint store is only a persistence
// boundary.
type Runner struct {
	store   *checkpoint.Store
	metrics *metrics.Collector
	tracker *progress.Tracker
	out     io.Writer
	log     *zap.Logger
}

func NewRunner(store *checkpoint.Store, collector *metrics.Collector, log *zap.Logger, out io.Writer) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		store:   store,
		metrics: collector,
		tracker: progress.NewTracker(),
		out:     out,
		log:     log,
	}
}

// Run moves every item through the retry controller, persisting the
// checkpoint after each status transition. Item failures never stop the
// batch; the checkpoint is cleared only when every file completed. Returns
// ctx.Err() when cancelled mid-batch (the in-flight attempt is allowed to
// finish and its outcome is persisted first).
func (r *Runner) Run(ctx context.Context, items []Item, opts Options, transfer TransferFunc, verify VerifyFunc) (Summary, error) {
	state := r.prepareState(items, opts)

	var totalBytes int64
	for _, it := range items {
		totalBytes += it.Size
	}
	r.tracker.SetTotals(len(items), totalBytes)

	r.saveState(state)

	summary := Summary{SessionID: state.SessionID}
	var runErr error

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		rec := state.Record(item.Source)
		if rec == nil {
			// Cannot happen after prepareState; guard anyway.
			state.Files = append(state.Files, checkpoint.FileRecord{
				Path: item.Source, Filename: item.Name, Size: item.Size, Status: checkpoint.StatusPending,
			})
			rec = state.Record(item.Source)
		}

		if rec.Status == checkpoint.StatusCompleted {
			r.log.Info("Skipping already completed item", zap.String("file", item.Name))
			summary.Skipped++
			summary.Results = append(summary.Results, Result{Name: item.Name, Status: checkpoint.StatusCompleted, Attempts: rec.Attempts})
			r.tracker.ItemSkipped(item.Size)
			if r.metrics != nil {
				r.metrics.ItemSkipped()
			}
			continue
		}

		fmt.Fprintf(r.out, "[%d/%d] %s: %s\n", i+1, len(items), verb(opts.Kind), item.Name)
		r.tracker.StartItem(item.Name)

		rec.Status = checkpoint.StatusInProgress
		r.saveState(state)

		start := time.Now()
		attempts, err := retry.Do(ctx, opts.Retry,
			func(ctx context.Context) error {
				return transfer(ctx, item, r.lineHandler())
			},
			r.verifier(verify, item),
		)
		r.finishLine()

		rec.Attempts = attempts
		if err != nil {
			rec.Status = checkpoint.StatusFailed
			rec.LastError = err.Error()
			summary.Failed++
			summary.FailedFiles = append(summary.FailedFiles, item.Name)
			r.tracker.ItemFailed()
			if r.metrics != nil {
				r.metrics.ItemFailed()
			}
			r.log.Error("Item failed after all retries",
				zap.String("file", item.Name),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		} else {
			rec.Status = checkpoint.StatusCompleted
			rec.LastError = ""
			if opts.Checksum && opts.Kind == checkpoint.KindUpload {
				if sum, sumErr := fileSHA256(item.Source); sumErr == nil {
					rec.Checksum = sum
				}
			}
			summary.Success++
			r.tracker.ItemSucceeded(item.Size)
			if r.metrics != nil {
				r.metrics.ItemSucceeded(item.Size)
				r.metrics.ObserveDuration(time.Since(start))
			}
			r.log.Info("Item completed",
				zap.String("file", item.Name),
				zap.Int("attempts", attempts),
				zap.Duration("duration", time.Since(start)),
			)
		}
		summary.Results = append(summary.Results, Result{
			Name:     item.Name,
			Status:   rec.Status,
			Attempts: attempts,
			Err:      rec.LastError,
		})

		r.saveState(state)
	}

	if summary.Failed == 0 && runErr == nil && state.AllCompleted() {
		if err := r.store.Clear(); err != nil {
			r.log.Warn("Failed to remove checkpoint", zap.Error(err))
		}
	}

	return summary, runErr
}

// Tracker returns the batch-level progress tracker.
func (r *Runner) Tracker() *progress.Tracker {
	return r.tracker
}

// prepareState resumes a matching prior state when requested, otherwise
// creates a fresh one. A resumed state gains pending records for any newly
// discovered items; a state for a different destination or direction is
// stale and ignored.
func (r *Runner) prepareState(items []Item, opts Options) *checkpoint.OperationState {
	if opts.Resume {
		prior, err := r.store.Load()
		if err == nil && prior != nil && prior.Kind == opts.Kind && prior.Destination == opts.Destination {
			for _, it := range items {
				if prior.Record(it.Source) == nil {
					prior.Files = append(prior.Files, checkpoint.FileRecord{
						Path:     it.Source,
						Filename: it.Name,
						Size:     it.Size,
						Status:   checkpoint.StatusPending,
					})
				}
			}
			r.log.Info("Resuming prior operation",
				zap.String("session", prior.SessionID),
				zap.Int("files", len(prior.Files)),
			)
			return prior
		}
	}

	seeds := make([]checkpoint.ItemSeed, 0, len(items))
	for _, it := range items {
		seeds = append(seeds, checkpoint.ItemSeed{Path: it.Source, Filename: it.Name, Size: it.Size})
	}
	return r.store.Create(opts.Kind, opts.Destination, seeds)
}

// saveState persists the checkpoint. A failed save is a warning, never
// fatal: the batch continues, resumability for that step is simply not
// guaranteed.
func (r *Runner) saveState(state *checkpoint.OperationState) {
	if err := r.store.Save(state); err != nil {
		r.log.Warn("Checkpoint save failed, continuing without durability",
			zap.String("path", r.store.Path()), zap.Error(err))
	}
}

// lineHandler feeds tool output through the progress parser and redraws the
// progress bar on lines that carry a sample. Non-progress lines are ignored.
func (r *Runner) lineHandler() func(string) {
	return func(line string) {
		sample := progress.ParseProgress(line)
		if sample == nil {
			return
		}
		r.tracker.Observe(sample)
		if bar := progress.RenderProgressBar(sample.CompletedBytes, sample.TotalBytes, sample.BytesPerSec, 40); bar != "" {
			fmt.Fprintf(r.out, "\r%s", bar)
		}
	}
}

func (r *Runner) finishLine() {
	if r.tracker.LastSample() != nil {
		fmt.Fprintln(r.out)
	}
}

func (r *Runner) verifier(verify VerifyFunc, item Item) func(context.Context) error {
	if verify == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return verify(ctx, item)
	}
}

func verb(kind checkpoint.Kind) string {
	if kind == checkpoint.KindDownload {
		return "Downloading"
	}
	return "Uploading"
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteSummary prints the operator-facing batch report.
func WriteSummary(w io.Writer, kind checkpoint.Kind, s Summary) {
	total := s.Success + s.Failed + s.Skipped

	fmt.Fprintln(w, "======================================================================")
	fmt.Fprintf(w, "Batch %s Summary\n", verb(kind))
	fmt.Fprintln(w, "======================================================================")
	fmt.Fprintf(w, "Successful: %d/%d\n", s.Success, total)
	fmt.Fprintf(w, "Failed:     %d/%d\n", s.Failed, total)
	if s.Skipped > 0 {
		fmt.Fprintf(w, "Skipped:    %d/%d (already completed)\n", s.Skipped, total)
	}
	if len(s.FailedFiles) > 0 {
		fmt.Fprintln(w, "\nFailed files:")
		for _, name := range s.FailedFiles {
			fmt.Fprintf(w, "  - %s\n", name)
		}
	}
	fmt.Fprintln(w, "======================================================================")
}
