package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcpstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/edx-tools/edx-crawler/internal/api"
	"github.com/edx-tools/edx-crawler/internal/config"
	"github.com/edx-tools/edx-crawler/internal/crawler"
	"github.com/edx-tools/edx-crawler/internal/edx"
	"github.com/edx-tools/edx-crawler/internal/executil"
	"github.com/edx-tools/edx-crawler/internal/fetch"
	"github.com/edx-tools/edx-crawler/internal/progress"
	"github.com/edx-tools/edx-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/edx-tools/edx-crawler/internal/publisher/pubsub"
	"github.com/edx-tools/edx-crawler/internal/storage"
	"github.com/edx-tools/edx-crawler/internal/storage/gcs"
	"github.com/edx-tools/edx-crawler/internal/storage/local"
	"github.com/edx-tools/edx-crawler/internal/storage/postgres"
)

func newCrawlCmd() *cobra.Command {
	var courseURLs []string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the configured courses",
		Long: `Logs into the configured Open edX platform and crawls the selected
courses: every unit page is snapshotted to disk and the text, quiz and
video components are extracted into JSON files next to the snapshots.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), courseURLs)
		},
	}

	cmd.Flags().StringSliceVar(&courseURLs, "course", nil, "course URL to crawl (repeatable; default: all started courses)")
	return cmd
}

func runCrawl(ctx context.Context, courseURLs []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	username, password, err := credentials(cfg)
	if err != nil {
		return err
	}

	fetcher, err := fetch.New(fetch.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	client := edx.NewClient(fetcher, cfg.Platform.BaseURL, logger)
	runner := executil.NewRunner(cfg.Commands.IgnoreErrors, logger)

	blobs, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var store crawler.RunStore
	if cfg.DB.DSN != "" {
		runStore, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxOpenConns,
		})
		if err != nil {
			return fmt.Errorf("init run store: %w", err)
		}
		defer runStore.Close()
		store = runStore
	}

	var publisher crawler.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		psClient, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		defer psClient.Close()
		publisher = pubsubpublisher.New(psClient)
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	snapshots := sinks.NewSnapshotSink()
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLogSink(logger), promSink, snapshots)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("Failed to close progress hub", zap.Error(err))
		}
	}()

	var monitor *http.Server
	if cfg.Monitor.Enabled {
		monitor = startMonitor(cfg, snapshots, registry, logger)
		defer stopMonitor(monitor, logger)
	}

	engineCfg := crawler.Config{
		Platform:        cfg.Platform.Name,
		CourseURLs:      append(append([]string(nil), cfg.Crawl.CourseURLs...), courseURLs...),
		HTMLDir:         cfg.Crawl.HTMLDir,
		FilterSection:   cfg.Crawl.FilterSection,
		FileFormats:     cfg.FileFormats(),
		Sequential:      cfg.Crawl.Sequential,
		Concurrency:     cfg.Crawl.Concurrency,
		ArchiveSource:   cfg.Crawl.ArchiveSource,
		RemoveSourceDir: cfg.Crawl.RemoveSourceDir,
		BlobPrefix:      cfg.Storage.Prefix,
		Topic:           cfg.PubSub.TopicName,
		YoutubeDL:       cfg.Commands.YoutubeDL,
	}
	engine := crawler.NewEngine(engineCfg, client, runner, store, blobs, publisher, hub, logger)

	runs, err := engine.Run(ctx, username, password)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}

	failed := 0
	for _, run := range runs {
		if run.Status != crawler.RunSucceeded {
			failed++
		}
	}
	logger.Info("Crawl finished",
		zap.Int("courses", len(runs)),
		zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("%d of %d course crawls failed", failed, len(runs))
	}
	return nil
}

// credentials resolves the learner login, prompting for the password on the
// terminal when the config and environment leave it empty.
func credentials(cfg config.Config) (string, string, error) {
	username := strings.TrimSpace(cfg.Auth.Username)
	if username == "" {
		return "", "", fmt.Errorf("auth.username is required")
	}
	password := cfg.Auth.Password
	if password == "" {
		fmt.Fprintf(os.Stderr, "Password for %s: ", username)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", "", fmt.Errorf("read password: %w", err)
		}
		password = string(raw)
	}
	if password == "" {
		return "", "", fmt.Errorf("auth.password is required")
	}
	return username, password, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		store, err := local.New(cfg.Storage.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcpstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		logger.Debug("Blob storage disabled")
		return storage.NoOp{}, nil
	}
}

func startMonitor(cfg config.Config, snapshots *sinks.SnapshotSink, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Monitor.Port),
		Handler:           api.NewServer(snapshots, registry, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Monitor server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Monitor server failed", zap.Error(err))
		}
	}()
	return srv
}

func stopMonitor(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Monitor server shutdown failed", zap.Error(err))
	}
}
