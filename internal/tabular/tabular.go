// Package tabular streams raw records out of the file formats hospitals
// publish price lists in. Readers yield untyped string records; mapping them
// onto price fields is left to the normalize package.
package tabular

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned by Open for extensions no reader handles.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Reader yields one raw record per call. Next returns io.EOF after the last
// record. A *RowError means one record was unreadable and the caller may
// keep reading.
type Reader interface {
	Next() ([]string, error)
	Close() error
}

// RowError reports a single unreadable record.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Format returns the lowercase extension of path without the dot.
func Format(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// Supported reports whether Open can read path.
func Supported(path string) bool {
	switch Format(path) {
	case "csv", "tsv", "txt", "xlsx", "xlsm", "parquet":
		return true
	}
	return false
}

// Open picks a reader by file extension.
func Open(path string) (Reader, error) {
	switch Format(path) {
	case "csv":
		return openCSV(path, ',')
	case "tsv":
		return openCSV(path, '\t')
	case "txt":
		return openCSV(path, 0)
	case "xlsx", "xlsm":
		return openXLSX(path)
	case "parquet":
		return openParquet(path)
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
}
