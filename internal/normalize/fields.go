package normalize

import "strings"

// Field is a canonical price record field.
type Field string

const (
	FieldDescription    Field = "description"
	FieldCode           Field = "code"
	FieldCodeType       Field = "code_type"
	FieldGrossCharge    Field = "gross_charge"
	FieldDiscountedCash Field = "discounted_cash_price"
	FieldMinNegotiated  Field = "min_negotiated_charge"
	FieldMaxNegotiated  Field = "max_negotiated_charge"
)

// Fields lists the canonical fields in exact-match order.
var Fields = []Field{
	FieldDescription,
	FieldCode,
	FieldCodeType,
	FieldGrossCharge,
	FieldDiscountedCash,
	FieldMinNegotiated,
	FieldMaxNegotiated,
}

// fallbackOrder runs narrow fields first so broad aliases like "charge"
// cannot claim a header that names a more specific field.
var fallbackOrder = []Field{
	FieldCodeType,
	FieldDiscountedCash,
	FieldMinNegotiated,
	FieldMaxNegotiated,
	FieldGrossCharge,
	FieldCode,
	FieldDescription,
}

// HeaderScanRows bounds how many leading records are considered when
// looking for the header row.
const HeaderScanRows = 10

// DefaultAliases holds the known header spellings per field, highest
// priority first. Aliases are compared against NormalizeHeader output.
var DefaultAliases = map[Field][]string{
	FieldDescription: {
		"description",
		"item description",
		"item_description",
		"service description",
		"service_description",
		"procedure description",
		"procedure_description",
		"charge description",
		"charge_description",
		"cdm description",
		"procedure name",
		"service name",
		"item",
		"service",
		"procedure",
		"desc",
	},
	FieldCode: {
		"code|1",
		"code",
		"cpt/hcpcs",
		"cpt/hcpcs code",
		"hcpcs/cpt",
		"cpt code",
		"cpt_code",
		"hcpcs code",
		"hcpcs_code",
		"billing code",
		"billing_code",
		"procedure code",
		"procedure_code",
		"charge code",
		"charge_code",
		"cdm",
		"cpt",
		"hcpcs",
	},
	FieldCodeType: {
		"code|1|type",
		"code_type",
		"code type",
		"billing code type",
		"billing_code_type",
		"code system",
	},
	FieldGrossCharge: {
		"standard_charge|gross",
		"gross_charge",
		"gross charge",
		"gross charges",
		"standard charge",
		"standard_charge",
		"standard charges",
		"hospital standard charge",
		"chargemaster price",
		"charge amount",
		"gross",
	},
	FieldDiscountedCash: {
		"standard_charge|discounted_cash",
		"discounted_cash_price",
		"discounted cash price",
		"discounted_cash",
		"discounted cash",
		"cash price",
		"self pay",
		"self-pay",
		"cash",
	},
	FieldMinNegotiated: {
		"standard_charge|min",
		"min_negotiated_charge",
		"minimum negotiated charge",
		"min negotiated charge",
		"de-identified minimum",
		"deidentified minimum",
		"minimum",
		"min",
	},
	FieldMaxNegotiated: {
		"standard_charge|max",
		"max_negotiated_charge",
		"maximum negotiated charge",
		"max negotiated charge",
		"de-identified maximum",
		"deidentified maximum",
		"maximum",
		"max",
	},
}

// labelMarkers exclude a header from the code substring pass. "Service Code
// Description" holds the description, not the code.
var labelMarkers = []string{"desc", "name"}

// minFallbackAlias keeps very short aliases out of the substring pass;
// "min" would otherwise match "administration".
const minFallbackAlias = 4

// Mapping records which column holds each canonical field.
type Mapping struct {
	Headers []string
	cols    map[Field]int
}

// Column returns the column index for f.
func (m Mapping) Column(f Field) (int, bool) {
	i, ok := m.cols[f]
	return i, ok
}

// Len returns the number of mapped fields.
func (m Mapping) Len() int { return len(m.cols) }

// Mapped reports whether column i holds a canonical field.
func (m Mapping) Mapped(i int) bool {
	for _, c := range m.cols {
		if c == i {
			return true
		}
	}
	return false
}

// Header returns the source header mapped to f, or "".
func (m Mapping) Header(f Field) string {
	if i, ok := m.cols[f]; ok && i < len(m.Headers) {
		return m.Headers[i]
	}
	return ""
}

// FieldMapper matches header rows to canonical fields.
type FieldMapper struct {
	aliases map[Field][]string
}

// NewFieldMapper returns a mapper using DefaultAliases. Entries in extra are
// keyed by field name and take priority over the defaults.
func NewFieldMapper(extra map[string][]string) *FieldMapper {
	aliases := make(map[Field][]string, len(DefaultAliases))
	for _, f := range Fields {
		var list []string
		for _, a := range extra[string(f)] {
			if a = NormalizeHeader(a); a != "" {
				list = append(list, a)
			}
		}
		aliases[f] = append(list, DefaultAliases[f]...)
	}
	return &FieldMapper{aliases: aliases}
}

// Map builds a Mapping for one header row. Each field takes the first alias
// with an exact match; fields still unmapped then take the first unused
// header that contains one of their aliases.
func (fm *FieldMapper) Map(headers []string) Mapping {
	norm := make([]string, len(headers))
	for i, h := range headers {
		norm[i] = NormalizeHeader(h)
	}
	m := Mapping{Headers: headers, cols: make(map[Field]int)}
	used := make(map[int]bool)

	for _, f := range Fields {
	exact:
		for _, alias := range fm.aliases[f] {
			for i, h := range norm {
				if !used[i] && h == alias {
					m.cols[f] = i
					used[i] = true
					break exact
				}
			}
		}
	}

	for _, f := range fallbackOrder {
		if _, ok := m.cols[f]; ok {
			continue
		}
	fuzzy:
		for _, alias := range fm.aliases[f] {
			if len(alias) < minFallbackAlias {
				continue
			}
			for i, h := range norm {
				if f == FieldCode && isLabel(h) {
					continue
				}
				if !used[i] && h != "" && strings.Contains(h, alias) {
					m.cols[f] = i
					used[i] = true
					break fuzzy
				}
			}
		}
	}
	return m
}

// DetectHeader picks the header row among the first HeaderScanRows records:
// the row mapping the most fields wins, ties going to the earlier row. When
// no row maps anything, row 0 is used.
func (fm *FieldMapper) DetectHeader(records [][]string) (int, Mapping) {
	best := -1
	var bestMap Mapping
	for i, rec := range records {
		if i >= HeaderScanRows {
			break
		}
		m := fm.Map(rec)
		if best < 0 || m.Len() > bestMap.Len() {
			best, bestMap = i, m
		}
	}
	if best < 0 {
		return 0, Mapping{cols: map[Field]int{}}
	}
	if bestMap.Len() == 0 {
		return 0, fm.Map(records[0])
	}
	return best, bestMap
}

func isLabel(h string) bool {
	for _, m := range labelMarkers {
		if strings.Contains(h, m) {
			return true
		}
	}
	return false
}
