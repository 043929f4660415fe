package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"s3mover/internal/awscli"
	"s3mover/internal/batch"
	"s3mover/internal/checkpoint"
	"s3mover/internal/config"
	"s3mover/internal/discovery"
	"s3mover/internal/history"
	"s3mover/internal/logger"
	"s3mover/internal/metrics"
	"s3mover/internal/retry"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string

	uploadFiles []string
	uploadDir   string
	destDir     string
	ssoLogin    bool
)

var rootCmd = &cobra.Command{
	Use:           "s3mover",
	Short:         "Move batches of files to and from S3 by driving the AWS CLI",
	Long:          `A checkpointed, resumable batch transfer tool. Transfers run through the external aws executable; individual failures never abort the batch, and interrupted batches resume without re-uploading completed files.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <s3-destination>",
	Short: "Upload files or a directory to an S3 destination",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

var downloadCmd = &cobra.Command{
	Use:   "download <s3-source>",
	Short: "Download an object or prefix from S3",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

var cleanStateCmd = &cobra.Command{
	Use:   "clean-state",
	Short: "Delete the saved checkpoint",
	RunE:  runCleanState,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently finished batches",
	RunE:  runHistory,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default is none)")
	pf.String("profile", "default", "AWS profile passed to the CLI")
	pf.String("log-level", "info", "Log level (debug/info/warn/error)")
	pf.String("checkpoint", "", "Checkpoint file path")
	pf.String("history", "", "History database path")
	pf.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = off)")
	pf.Int("max-retries", 3, "Maximum attempts per file")
	pf.Int("retry-backoff-ms", 1000, "Initial retry backoff in milliseconds")
	pf.Int("retry-backoff-cap-ms", 60000, "Retry backoff cap in milliseconds")
	pf.Bool("verify", false, "Verify each transfer by comparing sizes")
	pf.Bool("no-resume", false, "Ignore any saved checkpoint and start fresh")
	pf.Bool("dry-run", false, "List what would transfer without running")
	pf.BoolVar(&ssoLogin, "sso-login", false, "Run aws sso login for the profile before transferring")

	uploadCmd.Flags().StringArrayVarP(&uploadFiles, "file", "f", nil, "File to upload (repeatable)")
	uploadCmd.Flags().StringVar(&uploadDir, "dir", "", "Directory to upload recursively")
	uploadCmd.Flags().StringArray("include", nil, "Include glob for --dir (repeatable)")
	uploadCmd.Flags().StringArray("exclude", nil, "Exclude glob for --dir (repeatable)")

	downloadCmd.Flags().StringVar(&destDir, "dest-dir", ".", "Local directory to download into")

	rootCmd.AddCommand(uploadCmd, downloadCmd, cleanStateCmd, historyCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	destination := args[0]
	if !strings.HasPrefix(destination, "s3://") {
		return fmt.Errorf("destination must be an s3:// URI, got %q", destination)
	}
	if !strings.HasSuffix(destination, "/") {
		destination += "/"
	}

	items, err := collectUploadItems(cmd, cfg, destination)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("nothing to upload: pass --file or --dir")
	}

	client := awscli.New(cfg.Profile, log)

	if cfg.Transfer.DryRun {
		fmt.Printf("Dry run: %d file(s) would upload to %s\n", len(items), destination)
		for _, it := range items {
			fmt.Printf("  %s\n", client.CopyCommand(it.Source, it.Target))
		}
		return nil
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	if err := authenticate(ctx, client, log); err != nil {
		return err
	}

	verify := batch.VerifyFunc(nil)
	if cfg.Transfer.Verify {
		verify = func(ctx context.Context, item batch.Item) error {
			remote, err := client.HeadObjectSize(ctx, item.Target)
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			if remote != item.Size {
				return fmt.Errorf("verification failed: remote size %d != local size %d", remote, item.Size)
			}
			return nil
		}
	}

	transfer := func(ctx context.Context, item batch.Item, onLine func(string)) error {
		return client.Copy(ctx, item.Source, item.Target, onLine)
	}

	return executeBatch(ctx, cfg, log, checkpoint.KindUpload, destination, items, transfer, verify)
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	source := args[0]
	if !strings.HasPrefix(source, "s3://") {
		return fmt.Errorf("source must be an s3:// URI, got %q", source)
	}

	client := awscli.New(cfg.Profile, log)

	ctx, cancel := signalContext(log)
	defer cancel()

	if err := authenticate(ctx, client, log); err != nil {
		return err
	}

	items, err := collectDownloadItems(ctx, client, source, destDir)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no objects found under %s", source)
	}

	if cfg.Transfer.DryRun {
		fmt.Printf("Dry run: %d object(s) would download to %s\n", len(items), destDir)
		for _, it := range items {
			fmt.Printf("  %s\n", client.CopyCommand(it.Source, it.Target))
		}
		return nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	verify := batch.VerifyFunc(nil)
	if cfg.Transfer.Verify {
		verify = func(ctx context.Context, item batch.Item) error {
			fi, err := os.Stat(item.Target)
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}
			if fi.Size() != item.Size {
				return fmt.Errorf("verification failed: local size %d != remote size %d", fi.Size(), item.Size)
			}
			return nil
		}
	}

	transfer := func(ctx context.Context, item batch.Item, onLine func(string)) error {
		return client.Copy(ctx, item.Source, item.Target, onLine)
	}

	return executeBatch(ctx, cfg, log, checkpoint.KindDownload, source, items, transfer, verify)
}

func runCleanState(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	store := checkpoint.NewStore(cfg.Checkpoint, log)
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Printf("Checkpoint state cleaned (%s)\n", cfg.Checkpoint)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := history.Open(cfg.History)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(20)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No batches recorded yet.")
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  %-8s  %-40s  ok=%d failed=%d skipped=%d\n",
			run.FinishedAt.Format("2006-01-02 15:04:05"),
			run.Kind, run.Destination, run.Succeeded, run.Failed, run.Skipped)
	}
	return nil
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func signalContext(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, finishing in-flight file then stopping...")
		cancel()
	}()

	return ctx, cancel
}

func authenticate(ctx context.Context, client *awscli.Client, log *zap.Logger) error {
	if ssoLogin {
		if err := client.SSOLogin(ctx); err != nil {
			return err
		}
	}
	if err := client.CheckAuth(ctx); err != nil {
		return fmt.Errorf("%w (run with --sso-login to authenticate)", err)
	}
	log.Debug("AWS authentication verified")
	return nil
}

func collectUploadItems(cmd *cobra.Command, cfg *config.Config, destination string) ([]batch.Item, error) {
	var items []batch.Item

	for _, file := range uploadFiles {
		fi, err := os.Stat(file)
		if err != nil {
			return nil, fmt.Errorf("file does not exist: %s", file)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("%s is a directory, use --dir", file)
		}
		name := filepath.Base(file)
		items = append(items, batch.Item{
			Source: file,
			Target: destination + name,
			Name:   name,
			Size:   fi.Size(),
		})
	}

	if uploadDir != "" {
		include, _ := cmd.Flags().GetStringArray("include")
		exclude, _ := cmd.Flags().GetStringArray("exclude")
		if len(include) == 0 {
			include = cfg.Transfer.Include
		}
		if len(exclude) == 0 {
			exclude = cfg.Transfer.Exclude
		}

		found, err := discovery.Discover(uploadDir, include, exclude)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			items = append(items, batch.Item{
				Source: f.Path,
				Target: destination + f.Name,
				Name:   f.Name,
				Size:   f.Size,
			})
		}
	}

	return items, nil
}

func collectDownloadItems(ctx context.Context, client *awscli.Client, source, destDir string) ([]batch.Item, error) {
	bucket, key, err := splitURI(source)
	if err != nil {
		return nil, err
	}

	// A URI not ending in "/" names a single object; a prefix is expanded
	// through a recursive listing.
	if key != "" && !strings.HasSuffix(key, "/") {
		size, err := client.HeadObjectSize(ctx, source)
		if err != nil {
			return nil, err
		}
		name := path.Base(key)
		return []batch.Item{{
			Source: source,
			Target: filepath.Join(destDir, name),
			Name:   name,
			Size:   size,
		}}, nil
	}

	objects, err := client.ListObjects(ctx, source)
	if err != nil {
		return nil, err
	}

	items := make([]batch.Item, 0, len(objects))
	for _, obj := range objects {
		name := path.Base(obj.Key)
		items = append(items, batch.Item{
			Source: "s3://" + bucket + "/" + obj.Key,
			Target: filepath.Join(destDir, name),
			Name:   name,
			Size:   obj.Size,
		})
	}
	return items, nil
}

func splitURI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == "" {
		return "", "", fmt.Errorf("invalid S3 URI: %s", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		key = parts[1]
	}
	return bucket, key, nil
}

func executeBatch(ctx context.Context, cfg *config.Config, log *zap.Logger, kind checkpoint.Kind, destination string, items []batch.Item, transfer batch.TransferFunc, verify batch.VerifyFunc) error {
	collector := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := collector.StartServer(cfg.MetricsAddr); err != nil {
				log.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	store := checkpoint.NewStore(cfg.Checkpoint, log)
	runner := batch.NewRunner(store, collector, log, os.Stdout)

	opts := batch.Options{
		Kind:        kind,
		Destination: destination,
		Resume:      cfg.Transfer.Resume,
		Checksum:    true,
		Retry: retry.Policy{
			MaxAttempts:  cfg.Transfer.MaxRetries,
			InitialDelay: time.Duration(cfg.Transfer.RetryBackoffMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Transfer.RetryBackoffCapMs) * time.Millisecond,
		},
	}

	started := time.Now()
	summary, runErr := runner.Run(ctx, items, opts, transfer, verify)
	batch.WriteSummary(os.Stdout, kind, summary)

	recordHistory(cfg, log, kind, destination, summary, started)

	if runErr != nil {
		return fmt.Errorf("batch interrupted: %w", runErr)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d file(s) failed; checkpoint kept for resume", summary.Failed)
	}
	return nil
}

func recordHistory(cfg *config.Config, log *zap.Logger, kind checkpoint.Kind, destination string, summary batch.Summary, started time.Time) {
	store, err := history.Open(cfg.History)
	if err != nil {
		log.Warn("History database unavailable", zap.Error(err))
		return
	}
	defer store.Close()

	run := history.BatchRun{
		SessionID:   summary.SessionID,
		Kind:        string(kind),
		Destination: destination,
		Total:       summary.Success + summary.Failed + summary.Skipped,
		Succeeded:   summary.Success,
		Failed:      summary.Failed,
		Skipped:     summary.Skipped,
		StartedAt:   started.UTC(),
		FinishedAt:  time.Now().UTC(),
	}
	if err := store.Record(run); err != nil {
		log.Warn("Failed to record batch history", zap.Error(err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
