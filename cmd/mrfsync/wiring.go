package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/directory"
	"github.com/gyeh/mrfsync/internal/fetch"
	"github.com/gyeh/mrfsync/internal/queue"
	"github.com/gyeh/mrfsync/internal/scheduler"
	"github.com/gyeh/mrfsync/internal/store"
)

func openStore(ctx context.Context, log zerolog.Logger) (store.Store, error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, usageError{err}
	}
	st, err := store.Open(ctx, &cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func openRedis(ctx context.Context) (*redis.Client, error) {
	if err := cfg.ValidateQueue(); err != nil {
		return nil, usageError{err}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, queueError{fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)}
	}
	return client, nil
}

type queues struct {
	imports   *queue.Queue
	downloads *queue.Queue
}

func newQueues(client redis.UniversalClient, log zerolog.Logger) queues {
	return queues{
		imports:   queue.New(client, cfg.Queues.Prefix, scheduler.QueueImports, log),
		downloads: queue.New(client, cfg.Queues.Prefix, scheduler.QueueDownloads, log),
	}
}

func (q queues) byName(name string) (*queue.Queue, error) {
	switch name {
	case scheduler.QueueImports, "imports":
		return q.imports, nil
	case scheduler.QueueDownloads, "downloads":
		return q.downloads, nil
	}
	return nil, usageError{fmt.Errorf("unknown queue %q (want %s or %s)", name, scheduler.QueueImports, scheduler.QueueDownloads)}
}

func newScheduler(q queues, st store.Store, log zerolog.Logger) *scheduler.Service {
	return scheduler.New(q.imports, q.downloads, st, scheduler.Options{
		Staleness:  cfg.Schedule.Staleness,
		Spacing:    cfg.Schedule.EnqueueSpacing,
		DailySpec:  cfg.Schedule.DailyRefresh,
		ScanSpec:   cfg.Schedule.FileScan,
		WeeklySpec: cfg.Schedule.WeeklyRefresh,
	}, log)
}

// newDirectory builds the one directory client a process shares across
// all of its workers.
func newDirectory(log zerolog.Logger) (*directory.Client, error) {
	if err := cfg.ValidateDirectory(); err != nil {
		return nil, usageError{err}
	}
	d := cfg.Directory
	return directory.NewClient(directory.Options{
		BaseURL:         d.BaseURL,
		Username:        d.Username,
		Password:        d.Password,
		SessionTTL:      d.SessionTTL,
		TransportMaxAge: d.TransportMaxAge,
		RequestTimeout:  d.RequestTimeout,
		MaxRequests:     d.MaxRequests,
		Window:          d.Window,
		StatePause:      d.StatePause,
	}, log)
}

func newFetcher(log zerolog.Logger) *fetch.Fetcher {
	return fetch.New(fetch.Options{
		WorkDir:  cfg.WorkDir,
		Timeout:  cfg.Download.Timeout,
		MaxBytes: cfg.Download.MaxBytes,
	}, log)
}
