package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var jobLogLimit int

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show a job's record, logs and queue state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runJob,
}

func init() {
	jobCmd.Flags().IntVar(&jobLogLimit, "logs", 100, "Maximum log lines to include")
	rootCmd.AddCommand(jobCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
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

	status, err := newScheduler(newQueues(client, log), st, log).JobStatus(ctx, args[0], jobLogLimit)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
