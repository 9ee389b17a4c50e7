package model

import "time"

// PriceFileRef is a machine-readable price file listed for a hospital by the
// directory service. Retrieved is the publisher-supplied timestamp of the
// last time the directory fetched the file.
type PriceFileRef struct {
	FileID     string     `json:"file_id"`
	Filename   string     `json:"filename"`
	Suffix     string     `json:"suffix"`
	URL        string     `json:"url"`
	Size       int64      `json:"size"`
	Retrieved  *time.Time `json:"retrieved,omitempty"`
	HospitalID int64      `json:"hospital_id,omitempty"`
}

// IsArchive reports whether the declared file type is a zip archive.
func (r PriceFileRef) IsArchive() bool {
	return NormalizeSuffix(r.Suffix) == "zip"
}

// ExternalHospital is a facility as returned by the directory service.
type ExternalHospital struct {
	ExternalID string
	Name       string
	Address    string
	City       string
	State      string
	Zip        string
	Phone      string
	Beds       *int
	Latitude   *float64
	Longitude  *float64
	CCN        string
	SourceURL  string
	Files      []PriceFileRef
}

// Hospital is the persisted facility, unique by CCN. Files is the most
// recent file manifest seen in the directory.
type Hospital struct {
	ID            int64
	ExternalID    string
	CCN           string
	Name          string
	Address       string
	City          string
	State         string
	Zip           string
	Phone         string
	Beds          *int
	Latitude      *float64
	Longitude     *float64
	SourceURL     string
	Files         []PriceFileRef
	Active        bool
	LastCheckedAt *time.Time
	UpdatedAt     time.Time
}

// HospitalFromExternal maps a directory record onto a persistable Hospital.
func HospitalFromExternal(e ExternalHospital) Hospital {
	return Hospital{
		ExternalID: e.ExternalID,
		CCN:        e.CCN,
		Name:       e.Name,
		Address:    e.Address,
		City:       e.City,
		State:      e.State,
		Zip:        e.Zip,
		Phone:      e.Phone,
		Beds:       e.Beds,
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
		SourceURL:  e.SourceURL,
		Files:      e.Files,
		Active:     true,
	}
}

// FileByID returns the manifest entry with the given external file id.
func (h *Hospital) FileByID(fileID string) (PriceFileRef, bool) {
	for _, f := range h.Files {
		if f.FileID == fileID {
			f.HospitalID = h.ID
			return f, true
		}
	}
	return PriceFileRef{}, false
}
