package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/normalize"
)

// Finalize records the completed file reference with a single upsert keyed
// by file id, then marks the hospital checked.
func Finalize(ctx context.Context, st Store, log zerolog.Logger, pf *PreflightResult, records int64, sha string, at time.Time) error {
	err := st.UpsertProcessedFile(ctx, model.ProcessedFile{
		FileID:        pf.Ref.FileID,
		HospitalID:    pf.Hospital.ID,
		LastRetrieved: pf.Ref.Retrieved,
		RecordCount:   records,
		FileSHA256:    sha,
		ProcessedAt:   at,
		Active:        true,
	})
	if err != nil {
		return fmt.Errorf("record processed file: %w", err)
	}
	if err := st.MarkHospitalChecked(ctx, pf.Hospital.ID, at); err != nil {
		return fmt.Errorf("mark hospital checked: %w", err)
	}
	log.Info().
		Str("file_id", pf.Ref.FileID).
		Int64("hospital_id", pf.Hospital.ID).
		Int64("records", records).
		Msg("file finalized")
	return nil
}

// contentHash digests the fetched files. A single file hashes to its own
// SHA-256; several hash to the digest of their sorted per-file digests.
func contentHash(paths []string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}
	sums := make([]string, 0, len(paths))
	for _, p := range paths {
		s, err := normalize.FileHash(p)
		if err != nil {
			return "", err
		}
		sums = append(sums, s)
	}
	if len(sums) == 1 {
		return sums[0], nil
	}
	sort.Strings(sums)
	h := sha256.New()
	for _, s := range sums {
		h.Write([]byte(s))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
