package normalize

import (
	"fmt"
	"strings"

	"github.com/gyeh/mrfsync/internal/model"
)

// Normalizer converts raw records into PriceRecords for one source file.
type Normalizer struct {
	mapping    Mapping
	hospitalID int64
	fileID     string
	rawKeys    []string
}

// NewNormalizer prepares a Normalizer for records laid out per m.
func NewNormalizer(m Mapping, hospitalID int64, fileID string) *Normalizer {
	keys := make([]string, len(m.Headers))
	seen := make(map[string]bool, len(m.Headers))
	for i, h := range m.Headers {
		k := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if k == "" || seen[k] {
			k = fmt.Sprintf("column_%d", i+1)
		}
		seen[k] = true
		keys[i] = k
	}
	return &Normalizer{mapping: m, hospitalID: hospitalID, fileID: fileID, rawKeys: keys}
}

// Mapping returns the header mapping in use.
func (n *Normalizer) Mapping() Mapping { return n.mapping }

// ToRecord normalizes one record. ok is false when the row carries neither
// a description nor a code, even after fallback recovery.
func (n *Normalizer) ToRecord(values []string) (rec *model.PriceRecord, ok bool) {
	rec = &model.PriceRecord{
		HospitalID:          n.hospitalID,
		FileID:              n.fileID,
		Description:         n.text(values, FieldDescription),
		Code:                NormalizeCode(n.text(values, FieldCode)),
		CodeType:            NormalizeCodeType(n.text(values, FieldCodeType)),
		GrossCharge:         n.money(values, FieldGrossCharge),
		DiscountedCashPrice: n.money(values, FieldDiscountedCash),
		MinNegotiated:       n.money(values, FieldMinNegotiated),
		MaxNegotiated:       n.money(values, FieldMaxNegotiated),
		RawData:             n.raw(values),
	}

	if !rec.HasIdentifier() && rec.HasMoney() {
		rec.Description = n.recoverDescription(values)
	}
	if !rec.HasIdentifier() {
		return nil, false
	}
	return rec, true
}

func (n *Normalizer) cell(values []string, f Field) (string, bool) {
	i, ok := n.mapping.Column(f)
	if !ok || i >= len(values) {
		return "", false
	}
	v := strings.TrimSpace(values[i])
	if IsPlaceholder(v) {
		return "", false
	}
	return v, true
}

func (n *Normalizer) text(values []string, f Field) *string {
	v, ok := n.cell(values, f)
	if !ok {
		return nil
	}
	return &v
}

func (n *Normalizer) money(values []string, f Field) *float64 {
	v, ok := n.cell(values, f)
	if !ok {
		return nil
	}
	return ParseMoney(v)
}

// recoverDescription adopts the first informative value as the description,
// preferring unmapped columns. A row whose only populated column is a price
// falls back to that value so the record is kept.
func (n *Normalizer) recoverDescription(values []string) *string {
	var first *string
	for i, v := range values {
		v = strings.TrimSpace(v)
		if IsPlaceholder(v) {
			continue
		}
		if !n.mapping.Mapped(i) {
			return &v
		}
		if first == nil {
			first = &v
		}
	}
	return first
}

func (n *Normalizer) raw(values []string) map[string]string {
	out := make(map[string]string, len(values))
	for i, v := range values {
		key := fmt.Sprintf("column_%d", i+1)
		if i < len(n.rawKeys) {
			key = n.rawKeys[i]
		}
		out[key] = v
	}
	return out
}
