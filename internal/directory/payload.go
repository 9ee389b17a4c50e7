package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gyeh/mrfsync/internal/model"
	"github.com/gyeh/mrfsync/internal/normalize"
)

// flexString accepts either a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a number or a numeric string; anything else is nil.
type flexInt struct {
	v *int
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return nil
	}
	if n, err := strconv.Atoi(strings.ReplaceAll(string(s), ",", "")); err == nil {
		f.v = &n
	}
	return nil
}

// flexFloat accepts a number or a numeric string; anything else is nil.
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return nil
	}
	if n, err := strconv.ParseFloat(string(s), 64); err == nil {
		f.v = &n
	}
	return nil
}

type filePayload struct {
	FileID    flexString `json:"file_id"`
	Filename  string     `json:"filename"`
	Suffix    string     `json:"suffix"`
	URL       string     `json:"url"`
	Size      flexString `json:"size"`
	Retrieved string     `json:"retrieved"`
}

type hospitalPayload struct {
	ID        flexString    `json:"id"`
	Name      string        `json:"name"`
	Address   string        `json:"address"`
	City      string        `json:"city"`
	State     string        `json:"state"`
	Zip       flexString    `json:"zip"`
	Phone     string        `json:"phone"`
	Beds      flexInt       `json:"beds"`
	Latitude  flexFloat     `json:"lat"`
	Longitude flexFloat     `json:"long"`
	CCN       flexString    `json:"ccn"`
	URL       string        `json:"url"`
	Files     []filePayload `json:"files"`
}

func (p hospitalPayload) toModel() model.ExternalHospital {
	h := model.ExternalHospital{
		ExternalID: string(p.ID),
		Name:       strings.TrimSpace(p.Name),
		Address:    strings.TrimSpace(p.Address),
		City:       strings.TrimSpace(p.City),
		State:      strings.ToUpper(strings.TrimSpace(p.State)),
		Zip:        string(p.Zip),
		Phone:      strings.TrimSpace(p.Phone),
		Beds:       p.Beds.v,
		Latitude:   p.Latitude.v,
		Longitude:  p.Longitude.v,
		CCN:        string(p.CCN),
		SourceURL:  strings.TrimSpace(p.URL),
	}
	for _, f := range p.Files {
		id := string(f.FileID)
		if id == "" {
			continue
		}
		size, _ := strconv.ParseInt(string(f.Size), 10, 64)
		h.Files = append(h.Files, model.PriceFileRef{
			FileID:    id,
			Filename:  strings.TrimSpace(f.Filename),
			Suffix:    model.NormalizeSuffix(f.Suffix),
			URL:       strings.TrimSpace(f.URL),
			Size:      size,
			Retrieved: normalize.ParseDate(f.Retrieved),
		})
	}
	return h
}

// decodeHospitals accepts {"hospitals":[...]}, {"results":[...]}, a bare
// array, or an empty object (zero results).
func decodeHospitals(body []byte) ([]model.ExternalHospital, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	var items []hospitalPayload
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode hospital array: %w", err)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("decode hospital object: %w", err)
		}
		if len(obj) == 0 {
			return []model.ExternalHospital{}, nil
		}
		raw, ok := obj["hospitals"]
		if !ok {
			raw, ok = obj["results"]
		}
		if !ok {
			return nil, fmt.Errorf("response has no hospitals field")
		}
		if string(bytes.TrimSpace(raw)) == "null" {
			return []model.ExternalHospital{}, nil
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode hospitals field: %w", err)
		}
	default:
		return nil, fmt.Errorf("unexpected response body")
	}

	out := make([]model.ExternalHospital, 0, len(items))
	for _, it := range items {
		out = append(out, it.toModel())
	}
	return out, nil
}
