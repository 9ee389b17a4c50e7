package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/mrfsync/internal/metrics"
	"github.com/gyeh/mrfsync/internal/normalize"
	"github.com/gyeh/mrfsync/internal/tabular"
)

const cancelCheckRows = 1000

// FileResult holds metrics from normalizing one local file.
type FileResult struct {
	Path          string
	Format        string
	HeaderRow     int
	FieldsMapped  int
	RowsRead      int64
	RowsWritten   int64
	RowsRejected  int64
	RowsMalformed int64
	Flushes       int
	Duration      time.Duration
}

// Loader turns local price files into stored PriceRecords.
type Loader struct {
	sink      RecordSink
	mapper    *normalize.FieldMapper
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

// NewLoader returns a Loader writing to sink in batches of batchSize.
func NewLoader(sink RecordSink, mapper *normalize.FieldMapper, batchSize int, log zerolog.Logger) *Loader {
	if mapper == nil {
		mapper = normalize.NewFieldMapper(nil)
	}
	return &Loader{
		sink:      sink,
		mapper:    mapper,
		batchSize: batchSize,
		log:       log.With().Str("component", "loader").Logger(),
		now:       time.Now,
	}
}

// NormalizeAndPersist streams path, maps its columns onto price fields and
// stores every row that carries a description or code. Unreadable and
// rejected rows are counted, never fatal. An unsupported extension returns
// an error wrapping tabular.ErrUnsupportedFormat.
func (l *Loader) NormalizeAndPersist(ctx context.Context, path string, hospitalID int64, fileID string) (*FileResult, error) {
	start := time.Now()
	res := &FileResult{Path: path, Format: tabular.Format(path)}
	log := l.log.With().Str("file", filepath.Base(path)).Str("file_id", fileID).Logger()

	r, err := tabular.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var head [][]string
	eof := false
	for len(head) < normalize.HeaderScanRows {
		rec, err := r.Next()
		if err == io.EOF {
			eof = true
			break
		}
		if err != nil {
			if !l.skippable(log, err) {
				return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
			}
			res.RowsMalformed++
			continue
		}
		head = append(head, rec)
	}
	if len(head) == 0 {
		log.Warn().Msg("file has no records")
		res.Duration = time.Since(start)
		return res, nil
	}

	idx, mapping := l.mapper.DetectHeader(head)
	res.HeaderRow = idx
	res.FieldsMapped = mapping.Len()
	ev := log.Info().Int("header_row", idx).Int("fields_mapped", mapping.Len())
	for _, f := range normalize.Fields {
		if h := mapping.Header(f); h != "" {
			ev = ev.Str(string(f), h)
		}
	}
	ev.Msg("header detected")
	if mapping.Len() == 0 {
		log.Warn().Strs("headers", mapping.Headers).Msg("no recognized price columns")
	}

	norm := normalize.NewNormalizer(mapping, hospitalID, fileID)
	p := NewPersister(l.sink, l.batchSize)
	created := l.now().UTC()

	handle := func(rec []string) error {
		if blankRecord(rec) {
			return nil
		}
		if res.RowsRead%cancelCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		res.RowsRead++
		pr, ok := norm.ToRecord(rec)
		if !ok {
			res.RowsRejected++
			metrics.RowsRejected.Inc()
			return nil
		}
		pr.CreatedAt = created
		metrics.RowsNormalized.Inc()
		return p.Add(ctx, *pr)
	}

	for _, rec := range head[idx+1:] {
		if err := handle(rec); err != nil {
			return nil, err
		}
	}
	for !eof {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !l.skippable(log, err) {
				return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
			}
			res.RowsMalformed++
			continue
		}
		if err := handle(rec); err != nil {
			return nil, err
		}
	}
	if err := p.Flush(ctx); err != nil {
		return nil, err
	}

	res.RowsWritten = p.Written()
	res.Flushes = p.Flushes()
	res.Duration = time.Since(start)
	log.Info().
		Int64("rows_read", res.RowsRead).
		Int64("rows_written", res.RowsWritten).
		Int64("rows_rejected", res.RowsRejected).
		Int64("rows_malformed", res.RowsMalformed).
		Int("flushes", res.Flushes).
		Dur("duration", res.Duration).
		Msg("file normalized")
	return res, nil
}

func (l *Loader) skippable(log zerolog.Logger, err error) bool {
	var re *tabular.RowError
	if !errors.As(err, &re) {
		return false
	}
	log.Warn().Err(err).Msg("malformed row skipped")
	return true
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
