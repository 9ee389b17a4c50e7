package tabular

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// xlsxReader streams rows from the first worksheet.
type xlsxReader struct {
	file *excelize.File
	rows *excelize.Rows
	line int
}

func openXLSX(path string) (*xlsxReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return &xlsxReader{file: f, rows: rows}, nil
}

func (r *xlsxReader) Next() ([]string, error) {
	if !r.rows.Next() {
		if err := r.rows.Error(); err != nil {
			return nil, fmt.Errorf("read sheet rows: %w", err)
		}
		return nil, io.EOF
	}
	r.line++
	cols, err := r.rows.Columns()
	if err != nil {
		return nil, &RowError{Line: r.line, Err: err}
	}
	return cols, nil
}

func (r *xlsxReader) Close() error {
	err := r.rows.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
