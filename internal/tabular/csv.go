package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
)

type csvReader struct {
	file *os.File
	csv  *csv.Reader
}

// openCSV streams a delimited text file. A zero comma sniffs the delimiter
// from the first line.
func openCSV(path string, comma rune) (*csvReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	br := bufio.NewReaderSize(f, 256*1024)

	// Skip UTF-8 BOM if present
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		br.Discard(3)
	}
	if comma == 0 {
		comma = sniffDelimiter(br)
	}

	r := csv.NewReader(br)
	r.Comma = comma
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	return &csvReader{file: f, csv: r}, nil
}

// sniffDelimiter picks tab, pipe or comma by counting them in the first line.
func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(64 * 1024)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestN := ',', bytes.Count(head, []byte{','})
	for _, d := range []rune{'\t', '|'} {
		if n := bytes.Count(head, []byte{byte(d)}); n > bestN {
			best, bestN = d, n
		}
	}
	return best
}

func (r *csvReader) Next() ([]string, error) {
	rec, err := r.csv.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &RowError{Line: pe.Line, Err: pe.Err}
		}
		return nil, err
	}
	return rec, nil
}

func (r *csvReader) Close() error {
	return r.file.Close()
}
