package db

import (
	"github.com/jackc/pgx/v5"

	"github.com/gyeh/mrfsync/internal/model"
)

// RecordSource implements pgx.CopyFromSource over a batch of PriceRecords.
type RecordSource struct {
	rows []model.PriceRecord
	idx  int
}

// NewRecordSource creates a CopyFromSource over rows.
func NewRecordSource(rows []model.PriceRecord) *RecordSource {
	return &RecordSource{rows: rows, idx: -1}
}

// Next advances to the next row.
func (s *RecordSource) Next() bool {
	s.idx++
	return s.idx < len(s.rows)
}

// Values returns the current row's values in COPY column order.
func (s *RecordSource) Values() ([]any, error) {
	return s.rows[s.idx].CopyValues(), nil
}

// Err returns any error encountered during iteration.
func (s *RecordSource) Err() error {
	return nil
}

// Compile-time check that RecordSource satisfies the interface.
var _ pgx.CopyFromSource = (*RecordSource)(nil)
