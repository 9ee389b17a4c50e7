package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/normalize"
	"github.com/gyeh/mrfsync/internal/tabular"
)

var planOpts struct {
	file   string
	sample int
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Dry-run header detection and normalization stats (no writes)",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planOpts.file, "file", "", "Path to a price file (required)")
	planCmd.Flags().IntVar(&planOpts.sample, "sample", 3, "Normalized records to print")
	_ = planCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	path := planOpts.file
	stat, err := os.Stat(path)
	if err != nil {
		return &apperr.ValidationError{Field: "file", Reason: err.Error()}
	}
	sha, err := normalize.FileHash(path)
	if err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	r, err := tabular.Open(path)
	if err != nil {
		return &apperr.ValidationError{Field: "file", Reason: err.Error()}
	}
	defer r.Close()

	var head [][]string
	var all, malformed int64
	next := func() ([]string, error) {
		for {
			rec, err := r.Next()
			var re *tabular.RowError
			if errors.As(err, &re) {
				malformed++
				continue
			}
			if err == nil {
				all++
			}
			return rec, err
		}
	}
	eof := false
	for len(head) < normalize.HeaderScanRows {
		rec, err := next()
		if err == io.EOF {
			eof = true
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		head = append(head, rec)
	}

	mapper := normalize.NewFieldMapper(cfg.Ingest.Aliases)
	idx, mapping := mapper.DetectHeader(head)
	norm := normalize.NewNormalizer(mapping, 0, "plan")

	var ok, rejected int
	var samples []string
	check := func(rec []string) {
		pr, accepted := norm.ToRecord(rec)
		if !accepted {
			rejected++
			return
		}
		ok++
		if len(samples) < planOpts.sample {
			samples = append(samples, fmt.Sprintf("  %s | %s | %s | gross=%s",
				deref(pr.Description), deref(pr.Code), deref(pr.CodeType), money(pr.GrossCharge)))
		}
	}
	if idx+1 < len(head) {
		for _, rec := range head[idx+1:] {
			check(rec)
		}
	}
	for !eof {
		rec, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		check(rec)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=== mrfsync plan ===")
	fmt.Fprintf(out, "File:        %s\n", path)
	fmt.Fprintf(out, "Format:      %s\n", tabular.Format(path))
	fmt.Fprintf(out, "SHA-256:     %s\n", sha)
	fmt.Fprintf(out, "Size:        %d bytes\n", stat.Size())
	fmt.Fprintf(out, "Records:     %d (%d malformed)\n", all, malformed)
	fmt.Fprintf(out, "Header row:  %d\n", idx+1)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Field mapping:")
	for _, f := range normalize.Fields {
		h := mapping.Header(f)
		if h == "" {
			h = "(unmapped)"
		}
		fmt.Fprintf(out, "  %-22s <- %s\n", f, h)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Would write: %d records, reject %d rows\n", ok, rejected)
	if len(samples) > 0 {
		fmt.Fprintln(out, "Sample records:")
		for _, s := range samples {
			fmt.Fprintln(out, s)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func money(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
