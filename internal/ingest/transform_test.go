package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/ingest"
	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/tabular"
)

const cmsCSV = `hospital_name,last_updated_on,version
Mercy General,2025-07-01,2.0.0
description,code|1,code|1|type,standard_charge|gross,standard_charge|discounted_cash
CT HEAD W/O CONTRAST,70450,CPT,"$1,200.00",600.00
MRI BRAIN,70551,cpt4,2400,1800
N/A,,,,
,,,,
,,,N/A,
`

type memorySink struct {
	recs []model.PriceRecord
}

func (s *memorySink) InsertPriceRecords(_ context.Context, recs []model.PriceRecord) (int64, error) {
	s.recs = append(s.recs, recs...)
	return int64(len(recs)), nil
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNormalizeAndPersist_CMSLayout(t *testing.T) {
	sink := &memorySink{}
	l := ingest.NewLoader(sink, nil, 1, zerolog.Nop())
	path := writeFile(t, "prices.csv", cmsCSV)

	res, err := l.NormalizeAndPersist(context.Background(), path, 7, "file-1")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.HeaderRow != 2 {
		t.Errorf("header row = %d, want 2", res.HeaderRow)
	}
	if res.FieldsMapped != 5 {
		t.Errorf("fields mapped = %d, want 5", res.FieldsMapped)
	}
	if res.RowsRead != 4 {
		t.Errorf("rows read = %d, want 4", res.RowsRead)
	}
	if res.RowsWritten != 2 {
		t.Errorf("rows written = %d, want 2", res.RowsWritten)
	}
	if res.RowsRejected != 2 {
		t.Errorf("rows rejected = %d, want 2", res.RowsRejected)
	}
	if res.Flushes != 2 {
		t.Errorf("flushes = %d, want 2 with batch size 1", res.Flushes)
	}
	if res.Format != "csv" {
		t.Errorf("format = %q", res.Format)
	}

	if len(sink.recs) != 2 {
		t.Fatalf("stored %d records, want 2", len(sink.recs))
	}
	ct := sink.recs[0]
	if ct.HospitalID != 7 || ct.FileID != "file-1" {
		t.Errorf("record keyed %d/%s", ct.HospitalID, ct.FileID)
	}
	if ct.Code == nil || *ct.Code != "70450" {
		t.Errorf("code = %v", ct.Code)
	}
	if ct.GrossCharge == nil || *ct.GrossCharge != 1200 {
		t.Errorf("gross = %v, want 1200", ct.GrossCharge)
	}
	if ct.RawData["description"] != "CT HEAD W/O CONTRAST" {
		t.Errorf("raw data = %v", ct.RawData)
	}
	if ct.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	mri := sink.recs[1]
	if mri.CodeType == nil || *mri.CodeType != "CPT" {
		t.Errorf("code type = %v, want CPT", mri.CodeType)
	}
}

func TestNormalizeAndPersist_UnsupportedFormat(t *testing.T) {
	l := ingest.NewLoader(&memorySink{}, nil, 0, zerolog.Nop())
	path := writeFile(t, "notes.pdf", "%PDF-1.4")
	_, err := l.NormalizeAndPersist(context.Background(), path, 1, "f")
	if !errors.Is(err, tabular.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeAndPersist_EmptyFile(t *testing.T) {
	sink := &memorySink{}
	l := ingest.NewLoader(sink, nil, 0, zerolog.Nop())
	res, err := l.NormalizeAndPersist(context.Background(), writeFile(t, "empty.csv", ""), 1, "f")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.RowsRead != 0 || res.RowsWritten != 0 || len(sink.recs) != 0 {
		t.Errorf("unexpected rows: %+v", res)
	}
}

func TestNormalizeAndPersist_CanceledContext(t *testing.T) {
	l := ingest.NewLoader(&memorySink{}, nil, 0, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.NormalizeAndPersist(ctx, writeFile(t, "prices.csv", cmsCSV), 1, "f")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
