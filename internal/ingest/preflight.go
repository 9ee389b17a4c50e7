package ingest

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/model"
)

// PreflightResult holds the context resolved before a file is fetched.
type PreflightResult struct {
	Hospital  *model.Hospital
	Ref       model.PriceFileRef
	Processed *model.ProcessedFile
	// AlreadyLoaded is true when the stored record matches the reference's
	// retrieved timestamp and force is off.
	AlreadyLoaded bool
}

// Preflight resolves the hospital and file reference for req and runs the
// idempotency check against the file's ProcessedFile record.
func Preflight(ctx context.Context, st Store, req model.DownloadRequest) (*PreflightResult, error) {
	h, err := st.GetHospital(ctx, req.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("load hospital: %w", err)
	}
	ref, ok := h.FileByID(req.FileID)
	if !ok {
		return nil, &apperr.NotFoundError{
			Resource: "file",
			ID:       req.FileID + " of hospital " + strconv.FormatInt(req.HospitalID, 10),
		}
	}
	pf, err := st.GetProcessedFile(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("load processed file: %w", err)
	}
	return &PreflightResult{
		Hospital:      h,
		Ref:           ref,
		Processed:     pf,
		AlreadyLoaded: !req.Force && AlreadyLoaded(ref, pf),
	}, nil
}

// AlreadyLoaded reports whether pf records the same version of ref. A
// reference without a retrieved timestamp matches any active record.
func AlreadyLoaded(ref model.PriceFileRef, pf *model.ProcessedFile) bool {
	if pf == nil || !pf.Active {
		return false
	}
	if ref.Retrieved == nil {
		return true
	}
	if pf.LastRetrieved == nil {
		return false
	}
	return !pf.LastRetrieved.Before(*ref.Retrieved)
}
