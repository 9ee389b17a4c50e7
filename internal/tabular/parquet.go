package tabular

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

const parquetBatch = 256

// parquetReader yields the column paths as a header record, then one
// record per row. Repeated values in a column are joined with "|".
type parquetReader struct {
	file    *os.File
	reader  *parquet.Reader
	headers []string
	sentHdr bool
	buf     []parquet.Row
	pos     int
	n       int
	eof     bool
}

func openParquet(path string) (*parquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	cols := pf.Schema().Columns()
	headers := make([]string, len(cols))
	for i, path := range cols {
		headers[i] = strings.Join(path, ".")
	}

	return &parquetReader{
		file:    f,
		reader:  parquet.NewReader(pf),
		headers: headers,
		buf:     make([]parquet.Row, parquetBatch),
	}, nil
}

func (r *parquetReader) Next() ([]string, error) {
	if !r.sentHdr {
		r.sentHdr = true
		return append([]string(nil), r.headers...), nil
	}
	if r.pos >= r.n {
		if r.eof {
			return nil, io.EOF
		}
		n, err := r.reader.ReadRows(r.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
		r.n, r.pos = n, 0
		r.eof = err != nil
		if n == 0 {
			return nil, io.EOF
		}
	}
	row := r.buf[r.pos]
	r.pos++

	rec := make([]string, len(r.headers))
	for _, v := range row {
		c := v.Column()
		if c < 0 || c >= len(rec) || v.IsNull() {
			continue
		}
		if rec[c] != "" {
			rec[c] += "|" + v.String()
		} else {
			rec[c] = v.String()
		}
	}
	return rec, nil
}

func (r *parquetReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}
