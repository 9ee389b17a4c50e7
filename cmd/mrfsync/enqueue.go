package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gyeh/mrfsync/internal/scheduler"
)

var enqueueForce bool

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue import or download jobs",
}

var enqueueStateCmd = &cobra.Command{
	Use:   "state <code>",
	Short: "Import one jurisdiction's hospitals and queue their changed files",
	Args:  cobra.ExactArgs(1),
	RunE: withScheduler(func(ctx context.Context, s *scheduler.Service, args []string) (string, error) {
		return s.EnqueueState(ctx, args[0], enqueueForce)
	}),
}

var enqueueFileCmd = &cobra.Command{
	Use:   "file <hospital-id> <file-id>",
	Short: "Queue a download of one hospital file, bypassing the diff",
	Args:  cobra.ExactArgs(2),
	RunE: withScheduler(func(ctx context.Context, s *scheduler.Service, args []string) (string, error) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return "", usageError{fmt.Errorf("hospital id %q: %w", args[0], err)}
		}
		return s.EnqueueFile(ctx, id, args[1], enqueueForce)
	}),
}

var enqueueDailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Queue the low-priority full refresh",
	Args:  cobra.NoArgs,
	RunE: withScheduler(func(ctx context.Context, s *scheduler.Service, _ []string) (string, error) {
		return s.EnqueueDailyRefresh(ctx)
	}),
}

var enqueueWeeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Queue the forced full refresh",
	Args:  cobra.NoArgs,
	RunE: withScheduler(func(ctx context.Context, s *scheduler.Service, _ []string) (string, error) {
		return s.EnqueueWeeklyRefresh(ctx)
	}),
}

var enqueueScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Queue a file-update scan over stored manifests",
	Args:  cobra.NoArgs,
	RunE: withScheduler(func(ctx context.Context, s *scheduler.Service, _ []string) (string, error) {
		return s.EnqueueScan(ctx)
	}),
}

func init() {
	enqueueStateCmd.Flags().BoolVar(&enqueueForce, "force", false, "Queue every file regardless of the diff")
	enqueueFileCmd.Flags().BoolVar(&enqueueForce, "force", false, "Reprocess even if this file version was loaded")
	enqueueCmd.AddCommand(enqueueStateCmd, enqueueFileCmd, enqueueDailyCmd, enqueueWeeklyCmd, enqueueScanCmd)
	rootCmd.AddCommand(enqueueCmd)
}

// withScheduler opens the store and queues, runs fn and prints the job id.
func withScheduler(fn func(ctx context.Context, s *scheduler.Service, args []string) (string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		ctx := cmd.Context()

		st, err := openStore(ctx, log)
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := openRedis(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		id, err := fn(ctx, newScheduler(newQueues(client, log), st, log), args)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}
}
