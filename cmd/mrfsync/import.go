package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/ingest"
	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/normalize"
	"github.com/gyeh/mrfsync/internal/tabular"
)

var importOpts struct {
	file       string
	hospitalID int64
	fileID     string
	force      bool
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Normalize a local price file into storage for a known hospital",
	RunE:  runImport,
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importOpts.file, "file", "", "Path to a csv, tsv, xlsx or parquet price file (required)")
	f.Int64Var(&importOpts.hospitalID, "hospital-id", 0, "Stored hospital id the file belongs to (required)")
	f.StringVar(&importOpts.fileID, "file-id", "", "External file id to record (default: local-<sha prefix>)")
	f.BoolVar(&importOpts.force, "force", false, "Re-import even if this content was already loaded")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("hospital-id")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	log := newLogger()
	ctx := cmd.Context()
	start := time.Now()

	if _, err := os.Stat(importOpts.file); err != nil {
		return &apperr.ValidationError{Field: "file", Reason: err.Error()}
	}
	if !tabular.Supported(importOpts.file) {
		return &apperr.ValidationError{Field: "file", Reason: fmt.Sprintf("unsupported format %q", tabular.Format(importOpts.file))}
	}
	sha, err := normalize.FileHash(importOpts.file)
	if err != nil {
		return &ingest.PhaseError{Phase: "preflight", Err: err}
	}
	fileID := importOpts.fileID
	if fileID == "" {
		fileID = "local-" + sha[:12]
	}

	st, err := openStore(ctx, log)
	if err != nil {
		return err
	}
	defer st.Close()

	h, err := st.GetHospital(ctx, importOpts.hospitalID)
	if err != nil {
		return &ingest.PhaseError{Phase: "preflight", Err: err}
	}
	prev, err := st.GetProcessedFile(ctx, fileID)
	if err != nil {
		return &ingest.PhaseError{Phase: "preflight", Err: err}
	}
	if prev != nil && prev.Active && prev.FileSHA256 == sha && !importOpts.force {
		log.Info().Str("file_id", fileID).Str("sha256", sha).Msg("file already imported, skipping (use --force to re-import)")
		return nil
	}

	loader := ingest.NewLoader(st, normalize.NewFieldMapper(cfg.Ingest.Aliases), cfg.Ingest.BatchSize, log)
	res, err := loader.NormalizeAndPersist(ctx, importOpts.file, h.ID, fileID)
	if err != nil {
		return &ingest.PhaseError{Phase: "normalize", Err: err}
	}

	pf := &ingest.PreflightResult{Hospital: h, Ref: model.PriceFileRef{FileID: fileID, HospitalID: h.ID}}
	if err := ingest.Finalize(ctx, st, log, pf, res.RowsWritten, sha, time.Now().UTC()); err != nil {
		return &ingest.PhaseError{Phase: "finalize", Err: err}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Import complete: %d rows read, %d records written, %d rejected (%.1fs)\n",
		res.RowsRead, res.RowsWritten, res.RowsRejected, time.Since(start).Seconds())
	return nil
}
