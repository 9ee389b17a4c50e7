package normalize

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want *float64
	}{
		{"$1,234.56", f64(1234.56)},
		{" 42 ", f64(42)},
		{"$ 1 000.5", f64(1000.5)},
		{"(12.50)", f64(-12.5)},
		{"0", f64(0)},
		{"", nil},
		{"N/A", nil},
		{"--", nil},
		{"call for price", nil},
		{"NaN", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseMoney(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ParseMoney(%q) = %v, want nil", tt.in, *got)
			case tt.want != nil && got == nil:
				t.Errorf("ParseMoney(%q) = nil, want %v", tt.in, *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("ParseMoney(%q) = %v, want %v", tt.in, *got, *tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-07-01", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"07/01/2025", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-07-01T08:30:00Z", time.Date(2025, 7, 1, 8, 30, 0, 0, time.UTC)},
		{"2025-07-01T08:30:00-04:00", time.Date(2025, 7, 1, 12, 30, 0, 0, time.UTC)},
		{"2025-07-01 08:30:00", time.Date(2025, 7, 1, 8, 30, 0, 0, time.UTC)},
		{"Jul 1, 2025", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got := ParseDate(tt.in)
		if got == nil || !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "  ", "yesterday", "2025-13-45"} {
		if got := ParseDate(bad); got != nil {
			t.Errorf("ParseDate(%q) = %v, want nil", bad, got)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   *string
		want *string
	}{
		{nil, nil},
		{str(""), nil},
		{str("  "), nil},
		{str("99213"), str("99213")},
		{str(" j1885 "), str("J1885")},
		{str("12345-6789-01"), str("12345678901")},
		{str("--"), nil},
	}
	for _, tt := range tests {
		got := NormalizeCode(tt.in)
		if !eqStr(got, tt.want) {
			t.Errorf("NormalizeCode(%v) = %v, want %v", deref(tt.in), deref(got), deref(tt.want))
		}
	}
}

func TestNormalizeCodeType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"cpt4", "CPT"},
		{"HCPCS", "HCPCS"},
		{"ms drg", "MS-DRG"},
		{"Revenue Code", "RC"},
		{"custom", "CUSTOM"},
	}
	for _, tt := range tests {
		got := NormalizeCodeType(str(tt.in))
		if got == nil || *got != tt.want {
			t.Errorf("NormalizeCodeType(%q) = %v, want %q", tt.in, deref(got), tt.want)
		}
	}
	if got := NormalizeCodeType(str(" ")); got != nil {
		t.Errorf("blank code type = %q, want nil", *got)
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"\ufeffDescription", "description"},
		{"\u00ef\u00bb\u00bfCode", "code"},
		{"  Gross   Charge ", "gross charge"},
		{"standard_charge|gross", "standard_charge|gross"},
		{"Hospital\tStandard\nCharges", "hospital standard charges"},
	}
	for _, tt := range tests {
		if got := NormalizeHeader(tt.in); got != tt.want {
			t.Errorf("NormalizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFieldMapper_ExactCMSHeaders(t *testing.T) {
	headers := []string{
		"description", "code|1", "code|1|type", "setting",
		"standard_charge|gross", "standard_charge|discounted_cash",
		"payer_name", "plan_name", "standard_charge|negotiated_dollar",
		"standard_charge|min", "standard_charge|max",
	}
	m := NewFieldMapper(nil).Map(headers)
	want := map[Field]int{
		FieldDescription:    0,
		FieldCode:           1,
		FieldCodeType:       2,
		FieldGrossCharge:    4,
		FieldDiscountedCash: 5,
		FieldMinNegotiated:  9,
		FieldMaxNegotiated:  10,
	}
	for f, col := range want {
		got, ok := m.Column(f)
		if !ok || got != col {
			t.Errorf("Column(%s) = %d,%v want %d", f, got, ok, col)
		}
	}
	if m.Len() != len(Fields) {
		t.Errorf("Len() = %d, want %d", m.Len(), len(Fields))
	}
}

func TestFieldMapper_SubstringFallback(t *testing.T) {
	headers := []string{
		"\ufeffItem Code",
		"Procedure Description (Patient Facing)",
		"Code Type Used",
		"Discounted Cash Price - Self Pay",
		"Hospital Standard Charges",
		"De-identified Minimum Negotiated",
		"De-identified Maximum Negotiated",
	}
	m := NewFieldMapper(nil).Map(headers)
	want := map[Field]int{
		FieldCode:           0,
		FieldDescription:    1,
		FieldCodeType:       2,
		FieldDiscountedCash: 3,
		FieldGrossCharge:    4,
		FieldMinNegotiated:  5,
		FieldMaxNegotiated:  6,
	}
	for f, col := range want {
		got, ok := m.Column(f)
		if !ok || got != col {
			t.Errorf("Column(%s) = %d,%v want %d", f, got, ok, col)
		}
	}
}

func TestFieldMapper_ShortAliasesSkipSubstringPass(t *testing.T) {
	m := NewFieldMapper(nil).Map([]string{"Administration Notes", "Description", "Max"})
	if m.Mapped(0) {
		t.Error("short aliases must not match inside unrelated headers")
	}
	if got, ok := m.Column(FieldMaxNegotiated); !ok || got != 2 {
		t.Errorf("exact short alias should still map: %d,%v", got, ok)
	}
}

func TestFieldMapper_ExtraAliasesTakePriority(t *testing.T) {
	headers := []string{"Description", "Tarif Brut", "Gross Charge"}
	m := NewFieldMapper(map[string][]string{
		"gross_charge": {"  TARIF   brut "},
	}).Map(headers)
	if got, _ := m.Column(FieldGrossCharge); got != 1 {
		t.Errorf("gross charge column = %d, want 1", got)
	}
	if got := m.Header(FieldGrossCharge); got != "Tarif Brut" {
		t.Errorf("Header = %q", got)
	}
}

func TestFieldMapper_UnmappedIsExplicit(t *testing.T) {
	m := NewFieldMapper(nil).Map([]string{"foo", "bar"})
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}
	if _, ok := m.Column(FieldDescription); ok {
		t.Error("Column should report not found")
	}
	if got := m.Header(FieldCode); got != "" {
		t.Errorf("Header = %q, want empty", got)
	}
}

func TestDetectHeader_CMSLayout(t *testing.T) {
	records := [][]string{
		{"hospital_name", "last_updated_on", "version", "license_number|NY"},
		{"Mercy General", "2025-07-01", "2.0.0", "12345"},
		{"description", "code|1", "code|1|type", "standard_charge|gross", "standard_charge|discounted_cash"},
		{"CT HEAD W/O CONTRAST", "70450", "CPT", "1200.00", "600.00"},
	}
	idx, m := NewFieldMapper(nil).DetectHeader(records)
	if idx != 2 {
		t.Fatalf("header row = %d, want 2", idx)
	}
	if m.Len() != 5 {
		t.Errorf("mapped = %d, want 5", m.Len())
	}
}

func TestDetectHeader_FallsBackToFirstRow(t *testing.T) {
	records := [][]string{{"alpha", "beta"}, {"1", "2"}}
	idx, m := NewFieldMapper(nil).DetectHeader(records)
	if idx != 0 || m.Len() != 0 {
		t.Errorf("got (%d, %d), want (0, 0)", idx, m.Len())
	}
	if len(m.Headers) != 2 {
		t.Errorf("headers = %v", m.Headers)
	}
	if idx, _ := NewFieldMapper(nil).DetectHeader(nil); idx != 0 {
		t.Errorf("empty input idx = %d", idx)
	}
}

func TestDetectHeader_OnlyScansLeadingRows(t *testing.T) {
	records := make([][]string, 0, HeaderScanRows+1)
	for i := 0; i < HeaderScanRows; i++ {
		records = append(records, []string{"x", "y"})
	}
	records = append(records, []string{"description", "code"})
	idx, m := NewFieldMapper(nil).DetectHeader(records)
	if idx != 0 || m.Len() != 0 {
		t.Errorf("got (%d, %d), want (0, 0)", idx, m.Len())
	}
}

func TestToRecord_StandardChargesHeader(t *testing.T) {
	headers := []string{"Item", "Hospital Standard Charges"}
	m := NewFieldMapper(nil).Map(headers)
	n := NewNormalizer(m, 7, "f-1")

	rec, ok := n.ToRecord([]string{"CT HEAD", "$1,234.56"})
	if !ok {
		t.Fatal("row should be kept")
	}
	if rec.Description == nil || *rec.Description != "CT HEAD" {
		t.Errorf("description = %v", deref(rec.Description))
	}
	if rec.GrossCharge == nil || *rec.GrossCharge != 1234.56 {
		t.Errorf("gross charge = %v", rec.GrossCharge)
	}
	if rec.HospitalID != 7 || rec.FileID != "f-1" {
		t.Errorf("ids = %d %q", rec.HospitalID, rec.FileID)
	}
	if rec.RawData["Hospital Standard Charges"] != "$1,234.56" {
		t.Errorf("raw data = %v", rec.RawData)
	}
}

func TestToRecord_SinglePriceColumnKeepsRow(t *testing.T) {
	n := NewNormalizer(NewFieldMapper(nil).Map([]string{"Standard Charges"}), 3, "f-2")

	rec, ok := n.ToRecord([]string{"$1,234.56"})
	if !ok {
		t.Fatal("row with only a price should be kept")
	}
	if rec.Description == nil || *rec.Description != "$1,234.56" {
		t.Errorf("description = %q", deref(rec.Description))
	}
	if rec.GrossCharge == nil || *rec.GrossCharge != 1234.56 {
		t.Errorf("gross charge = %v", rec.GrossCharge)
	}

	if _, ok := n.ToRecord([]string{"N/A"}); ok {
		t.Error("placeholder-only row should be rejected")
	}
}

func TestFieldMapper_CodeSkipsDescriptionLabels(t *testing.T) {
	headers := []string{"Service Code Description", "Gross Charge"}
	m := NewFieldMapper(nil).Map(headers)
	if _, ok := m.Column(FieldCode); ok {
		t.Errorf("code mapped to %q", m.Header(FieldCode))
	}
	if got, ok := m.Column(FieldDescription); !ok || got != 0 {
		t.Errorf("Column(description) = %d,%v want 0", got, ok)
	}

	rec, ok := NewNormalizer(m, 1, "f").ToRecord([]string{"XRAY CHEST 2 VIEWS", "150"})
	if !ok {
		t.Fatal("row should be kept")
	}
	if rec.Code != nil {
		t.Errorf("code = %q", *rec.Code)
	}
	if deref(rec.Description) != "XRAY CHEST 2 VIEWS" {
		t.Errorf("description = %q", deref(rec.Description))
	}
}

func TestToRecord_FieldCoercion(t *testing.T) {
	headers := []string{"description", "code", "code_type", "gross_charge", "discounted_cash_price", "min_negotiated_charge", "max_negotiated_charge"}
	n := NewNormalizer(NewFieldMapper(nil).Map(headers), 1, "f")

	rec, ok := n.ToRecord([]string{" MRI KNEE ", "73721", "cpt4", "not a number", "$800", "N/A", "2,100"})
	if !ok {
		t.Fatal("row should be kept")
	}
	if *rec.Description != "MRI KNEE" || *rec.Code != "73721" || *rec.CodeType != "CPT" {
		t.Errorf("identifiers = %q %q %q", *rec.Description, *rec.Code, *rec.CodeType)
	}
	if rec.GrossCharge != nil {
		t.Errorf("unparseable gross charge should be nil, got %v", *rec.GrossCharge)
	}
	if rec.DiscountedCashPrice == nil || *rec.DiscountedCashPrice != 800 {
		t.Errorf("cash = %v", rec.DiscountedCashPrice)
	}
	if rec.MinNegotiated != nil {
		t.Errorf("placeholder min should be nil")
	}
	if rec.MaxNegotiated == nil || *rec.MaxNegotiated != 2100 {
		t.Errorf("max = %v", rec.MaxNegotiated)
	}
}

func TestToRecord_FallbackIdentifierRecovery(t *testing.T) {
	headers := []string{"Line", "Notes", "Gross Charge"}
	n := NewNormalizer(NewFieldMapper(nil).Map(headers), 1, "f")

	rec, ok := n.ToRecord([]string{"N/A", "Room and board, semi-private", "$950.00"})
	if !ok {
		t.Fatal("row with money and an unmapped label should be kept")
	}
	if rec.Description == nil || *rec.Description != "Room and board, semi-private" {
		t.Errorf("description = %v", deref(rec.Description))
	}
}

func TestToRecord_Rejection(t *testing.T) {
	headers := []string{"Description", "Code", "Gross Charge"}
	n := NewNormalizer(NewFieldMapper(nil).Map(headers), 1, "f")

	tests := []struct {
		name   string
		values []string
	}{
		{"no identifier no money", []string{"", "", ""}},
		{"placeholders only", []string{"N/A", "--", "null"}},
		{"short row", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec, ok := n.ToRecord(tt.values); ok {
				t.Errorf("expected rejection, got %+v", rec)
			}
		})
	}

	if _, ok := n.ToRecord([]string{"", "70450", ""}); !ok {
		t.Error("code alone should be enough to keep a row")
	}
}

func TestNewNormalizer_RawKeysDeduplicated(t *testing.T) {
	m := NewFieldMapper(nil).Map([]string{"Description", "", "Description"})
	n := NewNormalizer(m, 1, "f")
	rec, ok := n.ToRecord([]string{"X-RAY", "a", "b", "extra"})
	if !ok {
		t.Fatal("row should be kept")
	}
	want := map[string]string{"Description": "X-RAY", "column_2": "a", "column_3": "b", "column_4": "extra"}
	for k, v := range want {
		if rec.RawData[k] != v {
			t.Errorf("raw[%q] = %q, want %q", k, rec.RawData[k], v)
		}
	}
}

func TestFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FileHash(path)
	if err != nil {
		t.Fatalf("FileHash: %v", err)
	}
	if want := "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"; got != want {
		t.Errorf("FileHash = %s, want %s", got, want)
	}
	if _, err := FileHash(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func f64(v float64) *float64 { return &v }
func str(s string) *string    { return &s }

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
