package ingest

import (
	"context"
	"fmt"

	"github.com/gyeh/mrfsync/internal/metrics"
	"github.com/gyeh/mrfsync/internal/model"
)

// DefaultBatchSize is the number of records buffered before a flush.
const DefaultBatchSize = 1000

// RecordSink stores a batch of price records.
type RecordSink interface {
	InsertPriceRecords(ctx context.Context, recs []model.PriceRecord) (int64, error)
}

// Persister buffers normalized records and writes them in fixed-size
// batches, bounding memory for files with hundreds of thousands of rows.
type Persister struct {
	sink    RecordSink
	size    int
	buf     []model.PriceRecord
	written int64
	flushes int
}

// NewPersister returns a Persister flushing every size records.
func NewPersister(sink RecordSink, size int) *Persister {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Persister{sink: sink, size: size, buf: make([]model.PriceRecord, 0, size)}
}

// Add buffers rec and flushes when the batch is full.
func (p *Persister) Add(ctx context.Context, rec model.PriceRecord) error {
	p.buf = append(p.buf, rec)
	if len(p.buf) >= p.size {
		return p.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered records.
func (p *Persister) Flush(ctx context.Context) error {
	if len(p.buf) == 0 {
		return nil
	}
	n, err := p.sink.InsertPriceRecords(ctx, p.buf)
	if err != nil {
		return fmt.Errorf("flush %d records: %w", len(p.buf), err)
	}
	p.written += n
	p.flushes++
	metrics.RecordsWritten.Add(float64(n))
	p.buf = make([]model.PriceRecord, 0, p.size)
	return nil
}

// Written returns the number of records stored so far.
func (p *Persister) Written() int64 { return p.written }

// Flushes returns the number of batches written so far.
func (p *Persister) Flushes() int { return p.flushes }
