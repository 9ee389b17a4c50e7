// mkfixture writes small synthetic price files in every supported input
// format, for local runs of `mrfsync plan` and `mrfsync import` or for
// serving from a stub directory.
// Usage: go run ./cmd/mkfixture --out testdata/fixtures --rows 200
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	goparquet "github.com/parquet-go/parquet-go"
	"github.com/xuri/excelize/v2"

	"github.com/gyeh/mrfsync/internal/model"
)

// fixtureRow is one synthetic charge line. Parquet column names match the
// canonical field aliases so the file maps without the CMS preamble.
type fixtureRow struct {
	Description    string   `parquet:"description"`
	Code           string   `parquet:"code"`
	CodeType       string   `parquet:"code_type"`
	GrossCharge    *float64 `parquet:"gross_charge,optional"`
	DiscountedCash *float64 `parquet:"discounted_cash_price,optional"`
	MinNegotiated  *float64 `parquet:"min_negotiated_charge,optional"`
	MaxNegotiated  *float64 `parquet:"max_negotiated_charge,optional"`
}

var cmsHeader = []string{
	"description",
	"code|1",
	"code|1|type",
	"standard_charge|gross",
	"standard_charge|discounted_cash",
	"standard_charge|min",
	"standard_charge|max",
}

var services = []string{
	"CT HEAD W/O CONTRAST",
	"MRI BRAIN W/O CONTRAST",
	"XR CHEST 2 VIEWS",
	"OFFICE VISIT EST LEVEL 3",
	"COMPREHENSIVE METABOLIC PANEL",
	"ECHOCARDIOGRAM COMPLETE",
	"KNEE ARTHROSCOPY",
	"NORMAL NEWBORN",
}

func main() {
	out := flag.String("out", "testdata/fixtures", "output directory")
	rows := flag.Int("rows", 200, "charge lines per file")
	seed := flag.Int64("seed", 1, "random seed")
	hospital := flag.String("hospital", "Mercy General Hospital", "hospital name in the CSV preamble")
	flag.Parse()

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fatal("create output dir", err)
	}
	data := generate(*rows, rand.New(rand.NewSource(*seed)))

	csvPath := filepath.Join(*out, "prices.csv")
	if err := writeCSV(csvPath, *hospital, data); err != nil {
		fatal("write csv", err)
	}
	if err := writeXLSX(filepath.Join(*out, "prices.xlsx"), data); err != nil {
		fatal("write xlsx", err)
	}
	if err := writeParquet(filepath.Join(*out, "prices.parquet"), data); err != nil {
		fatal("write parquet", err)
	}
	if err := writeGzip(filepath.Join(*out, "prices.csv.gz"), csvPath); err != nil {
		fatal("write gzip", err)
	}
	if err := writeZip(filepath.Join(*out, "bundle.zip"), csvPath); err != nil {
		fatal("write zip", err)
	}

	counts := make(map[string]int)
	for _, r := range data {
		counts[r.CodeType]++
	}
	fmt.Printf("Wrote %d rows per file to %s\n", len(data), *out)
	fmt.Println("Code distribution:")
	for _, ct := range model.AllCodeTypes {
		if c := counts[ct.Name]; c > 0 {
			fmt.Printf("  %-10s %d\n", ct.Name, c)
		}
	}
}

func generate(n int, rnd *rand.Rand) []fixtureRow {
	types := []string{"CPT", "HCPCS", "MS-DRG", "RC", "CDM"}
	out := make([]fixtureRow, n)
	for i := range out {
		gross := float64(100+rnd.Intn(9900)) + 0.5
		cash := gross * 0.6
		row := fixtureRow{
			Description:    services[i%len(services)],
			Code:           strconv.Itoa(70000 + rnd.Intn(9999)),
			CodeType:       types[i%len(types)],
			GrossCharge:    &gross,
			DiscountedCash: &cash,
		}
		// every fifth row carries negotiated bounds
		if i%5 == 0 {
			lo, hi := gross*0.4, gross*0.9
			row.MinNegotiated, row.MaxNegotiated = &lo, &hi
		}
		out[i] = row
	}
	return out
}

func cells(r fixtureRow) []string {
	return []string{r.Description, r.Code, r.CodeType, num(r.GrossCharge), num(r.DiscountedCash), num(r.MinNegotiated), num(r.MaxNegotiated)}
}

func num(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

// writeCSV uses the CMS v2 layout: two metadata rows, then the header.
func writeCSV(path, hospital string, data []fixtureRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write([]string{"hospital_name", "last_updated_on", "version"})
	w.Write([]string{hospital, "2025-07-01", "2.0.0"})
	w.Write(cmsHeader)
	for _, r := range data {
		w.Write(cells(r))
	}
	w.Flush()
	return w.Error()
}

func writeXLSX(path string, data []fixtureRow) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	row := func(i int, vals []string) error {
		cell, err := excelize.CoordinatesToCellName(1, i)
		if err != nil {
			return err
		}
		out := make([]interface{}, len(vals))
		for j, v := range vals {
			out[j] = v
		}
		return sw.SetRow(cell, out)
	}
	if err := row(1, cmsHeader); err != nil {
		return err
	}
	for i, r := range data {
		if err := row(i+2, cells(r)); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.SaveAs(path)
}

func writeParquet(path string, data []fixtureRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := goparquet.NewGenericWriter[fixtureRow](f)
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Close()
}

func writeGzip(path, src string) error {
	body, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(body); err != nil {
		return err
	}
	return zw.Close()
}

// writeZip bundles the CSV with a PDF the pipeline is expected to skip.
func writeZip(path, src string) error {
	body, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range map[string][]byte{
		"standard-charges/prices.csv": body,
		"README.pdf":                  []byte("%PDF-1.4\n"),
	} {
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := w.Write(content); err != nil {
			return err
		}
	}
	return zw.Close()
}

func fatal(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
	os.Exit(1)
}
