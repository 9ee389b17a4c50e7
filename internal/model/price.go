package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ProcessedFile is the durable ingestion bookkeeping for one external file id.
type ProcessedFile struct {
	FileID        string
	HospitalID    int64
	LastRetrieved *time.Time
	RecordCount   int64
	FileSHA256    string
	ProcessedAt   time.Time
	Active        bool
}

// PriceRecord is one normalized price row. RawData keeps the source row
// keyed by its original header for audit.
type PriceRecord struct {
	HospitalID          int64
	FileID              string
	Description         *string
	Code                *string
	CodeType            *string
	GrossCharge         *float64
	DiscountedCashPrice *float64
	MinNegotiated       *float64
	MaxNegotiated       *float64
	RawData             map[string]string
	CreatedAt           time.Time
}

// HasIdentifier reports whether the record carries a description or a code.
func (r *PriceRecord) HasIdentifier() bool {
	return r.Description != nil || r.Code != nil
}

// HasMoney reports whether any monetary field was recovered.
func (r *PriceRecord) HasMoney() bool {
	return r.GrossCharge != nil || r.DiscountedCashPrice != nil ||
		r.MinNegotiated != nil || r.MaxNegotiated != nil
}

// RawJSON encodes RawData for storage.
func (r *PriceRecord) RawJSON() []byte {
	if r.RawData == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(r.RawData)
	if err != nil {
		return []byte("{}")
	}
	return b
}

// PriceColumns returns the ordered column names for COPY into mrf.price_records.
func PriceColumns() []string {
	return []string{
		"hospital_id",
		"file_id",
		"description",
		"code",
		"code_type",
		"gross_charge",
		"discounted_cash_price",
		"min_negotiated_charge",
		"max_negotiated_charge",
		"raw_data",
		"created_at",
	}
}

// CopyValues returns the record values in the same order as PriceColumns().
func (r *PriceRecord) CopyValues() []any {
	return []any{
		r.HospitalID,
		r.FileID,
		r.Description,
		r.Code,
		r.CodeType,
		r.GrossCharge,
		r.DiscountedCashPrice,
		r.MinNegotiated,
		r.MaxNegotiated,
		r.RawJSON(),
		r.CreatedAt,
	}
}

// NormalizeSuffix lowercases a declared file type and strips a leading dot.
func NormalizeSuffix(s string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
}
