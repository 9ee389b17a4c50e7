package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchState string

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Query the hospital directory",
}

var directorySearchCmd = &cobra.Command{
	Use:   "search [term]",
	Short: "Search hospitals by name and optionally state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		client, err := newDirectory(log)
		if err != nil {
			return err
		}
		term := ""
		if len(args) == 1 {
			term = args[0]
		}
		hospitals, err := client.SearchHospitals(cmd.Context(), term, strings.ToUpper(searchState))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-8s %-40s %-5s %5s\n", "CCN", "NAME", "STATE", "FILES")
		for _, h := range hospitals {
			fmt.Fprintf(out, "%-8s %-40.40s %-5s %5d\n", h.CCN, h.Name, h.State, len(h.Files))
			for _, f := range h.Files {
				retrieved := "-"
				if f.Retrieved != nil {
					retrieved = f.Retrieved.Format("2006-01-02")
				}
				fmt.Fprintf(out, "    %s  %s  %s  %s\n", f.FileID, f.Suffix, retrieved, f.URL)
			}
		}
		rl := client.RateLimitStatus()
		log.Info().Int("results", len(hospitals)).Int("rate_limit_remaining", rl.Remaining).Msg("search complete")
		return nil
	},
}

func init() {
	directorySearchCmd.Flags().StringVar(&searchState, "state", "", "Two-letter state code")
	directoryCmd.AddCommand(directorySearchCmd)
	rootCmd.AddCommand(directoryCmd)
}
