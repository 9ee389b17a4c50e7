package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyeh/mrfsync/internal/ingest"
	"github.com/gyeh/mrfsync/internal/jobs"
	"github.com/gyeh/mrfsync/internal/metrics"
	"github.com/gyeh/mrfsync/internal/normalize"
	"github.com/gyeh/mrfsync/internal/queue"
	"github.com/gyeh/mrfsync/internal/scheduler"
)

var workerOpts struct {
	noCron bool
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queue workers, the cron schedules and the metrics endpoint",
	RunE:  runWorker,
}

func init() {
	f := workerCmd.Flags()
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", envOr("MRFSYNC_METRICS_ADDR", ":9102"), "Listen address for /metrics (empty disables)")
	f.IntVar(&cfg.Queues.ImportConcurrency, "import-concurrency", cfg.Queues.ImportConcurrency, "Concurrent import jobs")
	f.IntVar(&cfg.Queues.DownloadConcurrency, "download-concurrency", cfg.Queues.DownloadConcurrency, "Concurrent download jobs")
	f.BoolVar(&workerOpts.noCron, "no-cron", false, "Do not register the cron schedules")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	log := newLogger()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, spec := range []string{cfg.Schedule.DailyRefresh, cfg.Schedule.FileScan, cfg.Schedule.WeeklyRefresh} {
		if err := scheduler.ValidateSpec(spec); err != nil {
			return usageError{err}
		}
	}

	st, err := openStore(ctx, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	client, err := openRedis(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	dir, err := newDirectory(log)
	if err != nil {
		return err
	}

	q := newQueues(client, log)
	sched := newScheduler(q, st, log)
	tracker := jobs.NewTracker(st, log)

	loader := ingest.NewLoader(st, normalize.NewFieldMapper(cfg.Ingest.Aliases), cfg.Ingest.BatchSize, log)
	files := ingest.NewFileProcessor(st, newFetcher(log), loader, log)
	importer := ingest.NewHospitalImporter(st, dir, sched, log)

	importWorker := queue.NewWorker(q.imports, tracker.Wrap(importer.Work),
		queue.WorkerOptions{Concurrency: cfg.Queues.ImportConcurrency}, log)
	downloadWorker := queue.NewWorker(q.downloads, tracker.Wrap(files.Work),
		queue.WorkerOptions{Concurrency: cfg.Queues.DownloadConcurrency}, log)

	if cfg.Schedule.Enabled && !workerOpts.noCron {
		if err := sched.Start(ctx); err != nil {
			return usageError{err}
		}
		defer sched.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return importWorker.Run(gctx) })
	g.Go(func() error { return downloadWorker.Run(gctx) })

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().
		Int("import_concurrency", cfg.Queues.ImportConcurrency).
		Int("download_concurrency", cfg.Queues.DownloadConcurrency).
		Msg("worker started")
	err = g.Wait()
	log.Info().Msg("worker stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
