package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyeh/mrfsync/internal/scheduler"
)

var queueOpts struct {
	delayed bool
	force   bool
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and maintain the job queues",
}

var queueCountsCmd = &cobra.Command{
	Use:   "counts",
	Short: "Print job counts per state for both queues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		client, err := openRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		q := newQueues(client, log)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-16s %8s %8s %8s %10s %8s\n", "QUEUE", "WAITING", "DELAYED", "ACTIVE", "COMPLETED", "FAILED")
		for _, name := range []string{scheduler.QueueImports, scheduler.QueueDownloads} {
			queue, _ := q.byName(name)
			c, err := queue.Counts(cmd.Context())
			if err != nil {
				return queueError{err}
			}
			fmt.Fprintf(out, "%-16s %8d %8d %8d %10d %8d\n", name, c.Waiting, c.Delayed, c.Active, c.Completed, c.Failed)
		}
		return nil
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain <queue>",
	Short: "Remove waiting jobs (and delayed ones with --delayed)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		client, err := openRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		queue, err := newQueues(client, log).byName(args[0])
		if err != nil {
			return err
		}
		n, err := queue.Drain(cmd.Context(), queueOpts.delayed)
		if err != nil {
			return queueError{err}
		}
		log.Info().Str("queue", queue.Name()).Int("removed", n).Msg("queue drained")
		return nil
	},
}

var queueObliterateCmd = &cobra.Command{
	Use:   "obliterate <queue>",
	Short: "Delete every key of a queue, including job history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		client, err := openRedis(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		queue, err := newQueues(client, log).byName(args[0])
		if err != nil {
			return err
		}
		n, err := queue.Obliterate(cmd.Context(), queueOpts.force)
		if err != nil {
			return queueError{err}
		}
		log.Info().Str("queue", queue.Name()).Int("keys_deleted", n).Msg("queue obliterated")
		return nil
	},
}

func init() {
	queueDrainCmd.Flags().BoolVar(&queueOpts.delayed, "delayed", false, "Also remove delayed jobs")
	queueObliterateCmd.Flags().BoolVar(&queueOpts.force, "force", false, "Obliterate even while jobs are active")
	queueCmd.AddCommand(queueCountsCmd, queueDrainCmd, queueObliterateCmd)
	rootCmd.AddCommand(queueCmd)
}
