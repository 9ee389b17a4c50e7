package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/apperr"
	"github.com/gyeh/mrfsync/internal/model"
)

// storeSuite runs the same behavioural checks against every backend.
func storeSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("UpsertHospitalByCCN", func(t *testing.T) { testUpsertHospital(t, open(t)) })
	t.Run("ListHospitalsWithManifest", func(t *testing.T) { testListHospitals(t, open(t)) })
	t.Run("PriceRecords", func(t *testing.T) { testPriceRecords(t, open(t)) })
	t.Run("ProcessedFileUpsert", func(t *testing.T) { testProcessedFile(t, open(t)) })
	t.Run("JobLifecycle", func(t *testing.T) { testJobLifecycle(t, open(t)) })
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsPtr(s string) *time.Time {
	t := ts(s)
	return &t
}

func sampleHospital(ccn string, files ...model.PriceFileRef) *model.Hospital {
	beds := 120
	return &model.Hospital{
		ExternalID: "ext-" + ccn,
		CCN:        ccn,
		Name:       "Hospital " + ccn,
		City:       "Albany",
		State:      "NY",
		Beds:       &beds,
		Files:      files,
		Active:     true,
	}
}

func testUpsertHospital(t *testing.T, s Store) {
	ctx := context.Background()
	h := sampleHospital("330057", model.PriceFileRef{FileID: "f1", Filename: "a.csv", Suffix: "csv", Retrieved: tsPtr("2025-07-01T00:00:00Z")})

	id1, err := s.UpsertHospital(ctx, h)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.MarkHospitalChecked(ctx, id1, ts("2025-07-10T00:00:00Z")); err != nil {
		t.Fatalf("mark checked: %v", err)
	}

	h2 := sampleHospital("330057")
	h2.Name = "Renamed"
	id2, err := s.UpsertHospital(ctx, h2)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 || h2.ID != id1 {
		t.Fatalf("upsert by CCN should keep id: %d vs %d", id1, id2)
	}

	got, err := s.GetHospital(ctx, id1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Renamed" || len(got.Files) != 0 {
		t.Errorf("hospital = %+v", got)
	}
	if got.Beds == nil || *got.Beds != 120 {
		t.Errorf("beds = %v", got.Beds)
	}
	if got.LastCheckedAt == nil || !got.LastCheckedAt.Equal(ts("2025-07-10T00:00:00Z")) {
		t.Errorf("upsert must not touch last_checked_at, got %v", got.LastCheckedAt)
	}

	if _, err := s.GetHospital(ctx, id1+1000); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing hospital err = %v", err)
	}
	if err := s.MarkHospitalChecked(ctx, id1+1000, time.Now()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("mark missing hospital err = %v", err)
	}
}

func testListHospitals(t *testing.T, s Store) {
	ctx := context.Background()
	ref := model.PriceFileRef{FileID: "f1", Filename: "a.csv", Suffix: "csv", Size: 10, Retrieved: tsPtr("2025-07-01T00:00:00Z")}

	ny := sampleHospital("1", ref)
	ca := sampleHospital("2", model.PriceFileRef{FileID: "f2", Suffix: "zip"})
	ca.State = "CA"
	empty := sampleHospital("3")
	inactive := sampleHospital("4", model.PriceFileRef{FileID: "f4"})
	inactive.Active = false
	for _, h := range []*model.Hospital{ny, ca, empty, inactive} {
		if _, err := s.UpsertHospital(ctx, h); err != nil {
			t.Fatalf("upsert %s: %v", h.CCN, err)
		}
	}

	all, err := s.ListHospitalsWithManifest(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].CCN != "1" || all[1].CCN != "2" {
		t.Fatalf("list = %+v", all)
	}
	f := all[0].Files[0]
	if f.FileID != "f1" || f.HospitalID != all[0].ID || f.Retrieved == nil || !f.Retrieved.Equal(*ref.Retrieved) {
		t.Errorf("manifest entry = %+v", f)
	}

	onlyCA, err := s.ListHospitalsWithManifest(ctx, "CA")
	if err != nil {
		t.Fatalf("list CA: %v", err)
	}
	if len(onlyCA) != 1 || onlyCA[0].CCN != "2" {
		t.Errorf("list CA = %+v", onlyCA)
	}
}

func testPriceRecords(t *testing.T, s Store) {
	ctx := context.Background()
	hid, err := s.UpsertHospital(ctx, sampleHospital("9"))
	if err != nil {
		t.Fatal(err)
	}
	desc, code := "CT HEAD", "70450"
	gross := 1234.56
	recs := make([]model.PriceRecord, 1200)
	for i := range recs {
		recs[i] = model.PriceRecord{
			HospitalID:  hid,
			FileID:      "file-9",
			Description: &desc,
			Code:        &code,
			GrossCharge: &gross,
			RawData:     map[string]string{"Description": desc},
			CreatedAt:   ts("2025-07-01T00:00:00Z"),
		}
	}
	n, err := s.InsertPriceRecords(ctx, recs)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 1200 {
		t.Errorf("inserted = %d, want 1200", n)
	}
	if n, _ := s.InsertPriceRecords(ctx, nil); n != 0 {
		t.Errorf("empty insert = %d", n)
	}
	count, err := s.CountPriceRecords(ctx, "file-9")
	if err != nil || count != 1200 {
		t.Errorf("count = %d, %v", count, err)
	}
	if count, _ := s.CountPriceRecords(ctx, "other"); count != 0 {
		t.Errorf("other count = %d", count)
	}
}

func testProcessedFile(t *testing.T, s Store) {
	ctx := context.Background()
	hid, err := s.UpsertHospital(ctx, sampleHospital("5"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetProcessedFile(ctx, "f-5")
	if err != nil || got != nil {
		t.Fatalf("unprocessed file = %+v, %v", got, err)
	}

	pf := model.ProcessedFile{
		FileID:        "f-5",
		HospitalID:    hid,
		LastRetrieved: tsPtr("2025-07-01T00:00:00Z"),
		RecordCount:   10,
		FileSHA256:    "abc",
		ProcessedAt:   ts("2025-07-02T00:00:00Z"),
		Active:        true,
	}
	if err := s.UpsertProcessedFile(ctx, pf); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	pf.LastRetrieved = tsPtr("2025-08-01T00:00:00Z")
	pf.RecordCount = 25
	if err := s.UpsertProcessedFile(ctx, pf); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err = s.GetProcessedFile(ctx, "f-5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RecordCount != 25 || !got.LastRetrieved.Equal(ts("2025-08-01T00:00:00Z")) || !got.Active {
		t.Errorf("processed file = %+v", got)
	}
}

func testJobLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	start := ts("2025-07-01T10:00:00Z")
	rec := model.JobRecord{
		ID:        "job-1",
		Name:      "download-file",
		Queue:     "file-download",
		Priority:  1,
		Attempt:   1,
		StartedAt: start,
		Input:     []byte(`{"file_id":"f1"}`),
	}
	if err := s.StartJob(ctx, rec); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.UpdateJobProgress(ctx, "job-1", model.JobProgress{
		Percent: 50, StepsDone: 1, StepsTotal: 2, Counts: model.JobCounts{Processed: 5},
	}); err != nil {
		t.Fatalf("progress: %v", err)
	}
	for i, msg := range []string{"downloaded", "parsed"} {
		err := s.AppendJobLog(ctx, model.JobLogEntry{
			JobID: "job-1", Level: "info", Message: msg,
			Data: []byte(`{"step":1}`), CreatedAt: start.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	mid, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if mid.Status != model.JobRunning || mid.Progress != 50 || mid.Counts.Processed != 5 {
		t.Errorf("running job = %+v", mid)
	}
	if mid.StepsDone != 1 || mid.StepsTotal != 2 {
		t.Errorf("steps = %d/%d, want 1/2", mid.StepsDone, mid.StepsTotal)
	}

	done := start.Add(90 * time.Second)
	rec.Status = model.JobFailed
	rec.CompletedAt = &done
	rec.DurationMS = 90000
	rec.Error = "boom"
	rec.ErrorStack = "stack"
	if err := s.FinishJob(ctx, rec); err != nil {
		t.Fatalf("finish: %v", err)
	}

	// A retry starts the same job id again.
	rec.Attempt = 2
	rec.StartedAt = done.Add(time.Minute)
	if err := s.StartJob(ctx, rec); err != nil {
		t.Fatalf("restart: %v", err)
	}
	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobRunning || got.Attempt != 2 || got.Error != "" || got.CompletedAt != nil {
		t.Errorf("retried job = %+v", got)
	}
	if len(got.Input) == 0 {
		t.Error("input snapshot lost on restart")
	}

	logs, err := s.ListJobLogs(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 2 || logs[0].Message != "downloaded" || logs[1].Message != "parsed" {
		t.Errorf("logs = %+v", logs)
	}
	if limited, _ := s.ListJobLogs(ctx, "job-1", 1); len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}

	if _, err := s.GetJob(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing job err = %v", err)
	}
}

func nopLog() zerolog.Logger { return zerolog.Nop() }
