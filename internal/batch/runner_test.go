package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"s3mover/internal/checkpoint"
	"s3mover/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T) (*Runner, *checkpoint.Store) {
	t.Helper()
	store := checkpoint.NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	return NewRunner(store, nil, nil, io.Discard), store
}

func testItems() []Item {
	return []Item{
		{Source: "/data/a.tar.gz", Target: "s3://bucket/dest/a.tar.gz", Name: "a.tar.gz", Size: 100},
		{Source: "/data/b.tar.gz", Target: "s3://bucket/dest/b.tar.gz", Name: "b.tar.gz", Size: 200},
		{Source: "/data/c.tar.gz", Target: "s3://bucket/dest/c.tar.gz", Name: "c.tar.gz", Size: 300},
	}
}

func testOptions() Options {
	return Options{
		Kind:        checkpoint.KindUpload,
		Destination: "s3://bucket/dest/",
		Resume:      true,
		Retry: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     4 * time.Millisecond,
		},
	}
}

func alwaysSucceed(ctx context.Context, item Item, onLine func(string)) error {
	onLine("Completed 100.0 KiB/100.0 KiB (1.0 MiB/s) with 0 file(s) remaining")
	onLine(fmt.Sprintf("upload: %s to %s", item.Source, item.Target))
	return nil
}

func TestRunAllSucceed(t *testing.T) {
	r, store := testRunner(t)

	summary, err := r.Run(context.Background(), testItems(), testOptions(), alwaysSucceed, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Success)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Skipped)
	assert.Empty(t, summary.FailedFiles)

	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr), "checkpoint must be gone after a fully successful batch")
}

func TestRunRecoversFlakyItem(t *testing.T) {
	r, store := testRunner(t)

	failures := 0
	transfer := func(ctx context.Context, item Item, onLine func(string)) error {
		if item.Name == "b.tar.gz" && failures < 2 {
			failures++
			return errors.New("exit status 1")
		}
		return nil
	}

	summary, err := r.Run(context.Background(), testItems(), testOptions(), transfer, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Success)
	assert.Zero(t, summary.Failed)

	for _, res := range summary.Results {
		if res.Name == "b.tar.gz" {
			assert.Equal(t, 3, res.Attempts, "two failures plus the success")
		} else {
			assert.Equal(t, 1, res.Attempts)
		}
	}

	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunContinuesPastExhaustedItem(t *testing.T) {
	r, store := testRunner(t)

	transfer := func(ctx context.Context, item Item, onLine func(string)) error {
		if item.Name == "b.tar.gz" {
			return errors.New("exit status 255")
		}
		return nil
	}

	summary, err := r.Run(context.Background(), testItems(), testOptions(), transfer, nil)
	require.NoError(t, err, "item failures never abort the batch")
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"b.tar.gz"}, summary.FailedFiles)

	state, loadErr := store.Load()
	require.NoError(t, loadErr)
	require.NotNil(t, state, "checkpoint must survive a partial failure")

	rec := state.Record("/data/b.tar.gz")
	require.NotNil(t, rec)
	assert.Equal(t, checkpoint.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Contains(t, rec.LastError, "exit status 255")

	for _, name := range []string{"/data/a.tar.gz", "/data/c.tar.gz"} {
		rec := state.Record(name)
		require.NotNil(t, rec)
		assert.Equal(t, checkpoint.StatusCompleted, rec.Status)
	}
}

func TestRunSummaryCarriesSessionID(t *testing.T) {
	r, store := testRunner(t)

	transfer := func(ctx context.Context, item Item, onLine func(string)) error {
		if item.Name == "b.tar.gz" {
			return errors.New("exit status 1")
		}
		return nil
	}

	summary, err := r.Run(context.Background(), testItems(), testOptions(), transfer, nil)
	require.NoError(t, err)
	require.NotEmpty(t, summary.SessionID)

	state, loadErr := store.Load()
	require.NoError(t, loadErr)
	require.NotNil(t, state)
	assert.Equal(t, state.SessionID, summary.SessionID, "summary and checkpoint must agree on the identifier")

	// A resumed run keeps the original session identity.
	summary2, err := NewRunner(store, nil, nil, io.Discard).Run(context.Background(), testItems(), testOptions(), alwaysSucceed, nil)
	require.NoError(t, err)
	assert.Equal(t, summary.SessionID, summary2.SessionID)
}

func TestRunResumeSkipsCompleted(t *testing.T) {
	r, store := testRunner(t)

	// First run: b fails permanently, a and c complete.
	transfer := func(ctx context.Context, item Item, onLine func(string)) error {
		if item.Name == "b.tar.gz" {
			return errors.New("exit status 1")
		}
		return nil
	}
	summary, err := r.Run(context.Background(), testItems(), testOptions(), transfer, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)

	// Second run resumes: completed items are skipped, b is retried.
	r2 := NewRunner(store, nil, nil, io.Discard)
	summary, err = r2.Run(context.Background(), testItems(), testOptions(), alwaysSucceed, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Success)
	assert.Zero(t, summary.Failed)

	_, statErr := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(statErr), "checkpoint cleared once everything completed")
}

func TestRunNoResumeStartsFresh(t *testing.T) {
	r, store := testRunner(t)

	transfer := func(ctx context.Context, item Item, onLine func(string)) error {
		if item.Name == "b.tar.gz" {
			return errors.New("exit status 1")
		}
		return nil
	}
	_, err := r.Run(context.Background(), testItems(), testOptions(), transfer, nil)
	require.NoError(t, err)

	opts := testOptions()
	opts.Resume = false
	summary, err := NewRunner(store, nil, nil, io.Discard).Run(context.Background(), testItems(), opts, alwaysSucceed, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Skipped, "fresh state retries everything")
	assert.Equal(t, 3, summary.Success)
}

func TestRunIgnoresStateForOtherDestination(t *testing.T) {
	r, store := testRunner(t)

	_, err := r.Run(context.Background(), testItems(), testOptions(), func(ctx context.Context, item Item, onLine func(string)) error {
		return errors.New("exit status 1")
	}, nil)
	require.NoError(t, err)

	opts := testOptions()
	opts.Destination = "s3://bucket/elsewhere/"
	summary, err := NewRunner(store, nil, nil, io.Discard).Run(context.Background(), testItems(), opts, alwaysSucceed, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Skipped, "a checkpoint for another destination is stale")
	assert.Equal(t, 3, summary.Success)
}

func TestRunVerificationFailureRetriesAndFails(t *testing.T) {
	r, store := testRunner(t)

	verify := func(ctx context.Context, item Item) error {
		if item.Name == "c.tar.gz" {
			return errors.New("verification failed: remote size 10 != local size 300")
		}
		return nil
	}

	summary, err := r.Run(context.Background(), testItems(), testOptions(), alwaysSucceed, verify)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.Failed)

	state, loadErr := store.Load()
	require.NoError(t, loadErr)
	require.NotNil(t, state)
	rec := state.Record("/data/c.tar.gz")
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Attempts, "verification failures consume the retry budget")
	assert.Contains(t, rec.LastError, "verification failed")
}

func TestRunCancelledLeavesResumableState(t *testing.T) {
	r, store := testRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	transfer := func(_ context.Context, item Item, onLine func(string)) error {
		if item.Name == "a.tar.gz" {
			// Operator interrupt while the first item is in flight; the
			// attempt itself finishes.
			cancel()
		}
		return nil
	}

	summary, err := r.Run(ctx, testItems(), testOptions(), transfer, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Success, "in-flight item finished and was recorded")

	state, loadErr := store.Load()
	require.NoError(t, loadErr)
	require.NotNil(t, state, "checkpoint kept for resume")
	assert.Equal(t, checkpoint.StatusCompleted, state.Record("/data/a.tar.gz").Status)
	assert.Equal(t, checkpoint.StatusPending, state.Record("/data/b.tar.gz").Status)
	assert.Equal(t, checkpoint.StatusPending, state.Record("/data/c.tar.gz").Status)
}

func TestRunRecordsChecksumOnCompletedUploads(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	store := checkpoint.NewStore(filepath.Join(dir, "state.json"), nil)
	r := NewRunner(store, nil, nil, io.Discard)

	opts := testOptions()
	opts.Checksum = true
	items := []Item{{Source: src, Target: "s3://bucket/dest/a.tar.gz", Name: "a.tar.gz", Size: 7}}

	// A second, permanently failing item keeps the checkpoint on disk so the
	// recorded checksum can be inspected.
	failing := Item{Source: filepath.Join(dir, "missing.bin"), Target: "s3://bucket/dest/missing.bin", Name: "missing.bin", Size: 1}
	transfer := func(ctx context.Context, item Item, onLine func(string)) error {
		if item.Name == "missing.bin" {
			return errors.New("exit status 1")
		}
		return nil
	}

	_, err := r.Run(context.Background(), append(items, failing), opts, transfer, nil)
	require.NoError(t, err)

	state, loadErr := store.Load()
	require.NoError(t, loadErr)
	require.NotNil(t, state)
	rec := state.Record(src)
	require.NotNil(t, rec)
	assert.Len(t, rec.Checksum, 64, "sha256 hex digest recorded")
}

func TestWriteSummaryListsFailedFiles(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, checkpoint.KindUpload, Summary{
		Success:     1,
		Failed:      2,
		FailedFiles: []string{"x.bin", "y.bin"},
	})

	out := buf.String()
	assert.Contains(t, out, "Successful: 1/3")
	assert.Contains(t, out, "Failed:     2/3")
	assert.Contains(t, out, "x.bin")
	assert.Contains(t, out, "y.bin")
}
