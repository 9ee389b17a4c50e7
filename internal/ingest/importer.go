package ingest

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/jobs"
	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/queue"
)

// Directory lists hospitals from the external directory.
type Directory interface {
	HospitalsByState(ctx context.Context, code string) ([]model.ExternalHospital, error)
	AllHospitals(ctx context.Context) ([]model.ExternalHospital, error)
}

// Planner diffs hospital manifests and enqueues the downloads that are due.
type Planner interface {
	EnqueueDownloads(ctx context.Context, hospitals []model.Hospital, trigger model.Trigger, force bool) (model.EnqueueSummary, error)
}

// HospitalImporter runs import jobs: refresh hospitals from the directory,
// then hand their manifests to the planner.
type HospitalImporter struct {
	store   Store
	dir     Directory
	planner Planner
	log     zerolog.Logger
}

// NewHospitalImporter wires a HospitalImporter.
func NewHospitalImporter(st Store, dir Directory, planner Planner, log zerolog.Logger) *HospitalImporter {
	return &HospitalImporter{
		store:   st,
		dir:     dir,
		planner: planner,
		log:     log.With().Str("component", "importer").Logger(),
	}
}

// Import runs one import request.
func (i *HospitalImporter) Import(ctx context.Context, req model.ImportRequest, prog Progress) (*model.ImportSummary, error) {
	state := strings.ToUpper(strings.TrimSpace(req.State))
	summary := &model.ImportSummary{Scope: req.Scope, State: state}
	log := i.log.With().Str("scope", string(req.Scope)).Str("state", state).Str("trigger", string(req.Trigger)).Logger()

	var hospitals []model.Hospital
	switch req.Scope {
	case model.ScopeScan:
		hs, err := i.store.ListHospitalsWithManifest(ctx, state)
		if err != nil {
			return nil, &PhaseError{Phase: "list", Err: err}
		}
		hospitals = hs
		summary.Hospitals = len(hs)
	case model.ScopeState, model.ScopeAll:
		var ext []model.ExternalHospital
		var err error
		if req.Scope == model.ScopeState {
			if state == "" {
				return nil, &apperr.ValidationError{Field: "state", Reason: "required for a state import"}
			}
			ext, err = i.dir.HospitalsByState(ctx, state)
		} else {
			ext, err = i.dir.AllHospitals(ctx)
		}
		if err != nil {
			return nil, &PhaseError{Phase: "directory", Err: err}
		}
		summary.Hospitals = len(ext)
		prog.Info(ctx, "hospitals fetched", map[string]any{"hospitals": len(ext)})
		prog.Step(ctx, 1, 3)

		ids, skipped, err := UpsertHospitals(ctx, i.store, log, ext)
		summary.Upserted = len(ids)
		summary.SkippedNoCCN = skipped
		if err != nil {
			return nil, &PhaseError{Phase: "upsert", Err: err}
		}
		prog.Step(ctx, 2, 3)

		// reload so the diff sees stored last-checked times
		hospitals, err = i.reload(ctx, ids)
		if err != nil {
			return nil, &PhaseError{Phase: "list", Err: err}
		}
	default:
		return nil, &apperr.ValidationError{Field: "scope", Reason: "unknown scope " + string(req.Scope)}
	}

	down, err := i.planner.EnqueueDownloads(ctx, hospitals, req.Trigger, req.Force)
	summary.Downloads = down
	if err != nil {
		return nil, &PhaseError{Phase: "enqueue", Err: err}
	}
	prog.Step(ctx, 3, 3)
	prog.Info(ctx, "downloads planned", map[string]any{
		"considered": down.Considered,
		"enqueued":   down.Enqueued,
		"up_to_date": down.UpToDate,
	})
	log.Info().
		Int("hospitals", summary.Hospitals).
		Int("upserted", summary.Upserted).
		Int("files_enqueued", down.Enqueued).
		Int("files_up_to_date", down.UpToDate).
		Msg("import complete")
	return summary, nil
}

func (i *HospitalImporter) reload(ctx context.Context, ids []int64) ([]model.Hospital, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	stored, err := i.store.ListHospitalsWithManifest(ctx, "")
	if err != nil {
		return nil, err
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]model.Hospital, 0, len(ids))
	for _, h := range stored {
		if want[h.ID] {
			out = append(out, h)
		}
	}
	return out, nil
}

// Work adapts Import to the job tracker.
func (i *HospitalImporter) Work(ctx context.Context, job *queue.Job, r *jobs.Reporter) (jobs.Result, error) {
	var req model.ImportRequest
	if err := job.Decode(&req); err != nil {
		return jobs.Result{}, &apperr.ValidationError{Field: "payload", Reason: err.Error()}
	}
	sum, err := i.Import(ctx, req, r)
	if err != nil {
		return jobs.Result{}, err
	}
	return jobs.Result{
		Counts: model.JobCounts{
			Processed: int64(sum.Hospitals),
			Updated:   int64(sum.Upserted),
			Created:   int64(sum.Downloads.Enqueued),
			Skipped:   int64(sum.SkippedNoCCN + sum.Downloads.UpToDate),
			Failed:    int64(sum.Downloads.Failed),
		},
		Output: sum,
	}, nil
}
