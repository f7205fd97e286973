// Package visit holds the visit dimension: dated encounters between a
// patient and the system, container rows for observations.
package visit

import (
	"encoding/json"
	"fmt"

	"github.com/best/best/pkg/isodate"
)

// Visit maps to one row of the VISIT_DIMENSION table.
type Visit struct {
	EncounterNum int64   `db:"ENCOUNTER_NUM" json:"ENCOUNTER_NUM"`
	PatientNum   int64   `db:"PATIENT_NUM" json:"PATIENT_NUM"`
	ActiveStatus *string `db:"ACTIVE_STATUS_CD" json:"ACTIVE_STATUS_CD,omitempty"`
	StartDate    string  `db:"START_DATE" json:"START_DATE"`
	EndDate      *string `db:"END_DATE" json:"END_DATE,omitempty"`
	InOutCode    *string `db:"INOUT_CD" json:"INOUT_CD,omitempty"`
	LocationCode *string `db:"LOCATION_CD" json:"LOCATION_CD,omitempty"`
	Blob         *string `db:"VISIT_BLOB" json:"VISIT_BLOB,omitempty"`
	UpdateDate   *string `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	DownloadDate *string `db:"DOWNLOAD_DATE" json:"DOWNLOAD_DATE,omitempty"`
	ImportDate   *string `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	SourceSystem string  `db:"SOURCESYSTEM_CD" json:"SOURCESYSTEM_CD"`
	UploadID     *string `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

// Validate checks the row invariants before a write.
func (v *Visit) Validate() error {
	if v.PatientNum <= 0 {
		return fmt.Errorf("visit requires a patient")
	}
	if v.StartDate == "" {
		return fmt.Errorf("visit start date is required")
	}
	if !isodate.Valid(v.StartDate) {
		return fmt.Errorf("invalid start date %q: want YYYY-MM-DD", v.StartDate)
	}
	if v.EndDate != nil && *v.EndDate != "" {
		if !isodate.Valid(*v.EndDate) {
			return fmt.Errorf("invalid end date %q: want YYYY-MM-DD", *v.EndDate)
		}
		if *v.EndDate < v.StartDate {
			return fmt.Errorf("end date %s precedes start date %s", *v.EndDate, v.StartDate)
		}
	}
	return nil
}

// BlobData is the typed view over VISIT_BLOB. The {visitType, notes}
// convention is what the UI layers write; unknown keys survive a round trip
// in Extra.
type BlobData struct {
	VisitType string         `json:"visitType,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	Extra     map[string]any `json:"-"`
}

var blobKnownKeys = []string{"visitType", "notes"}

// ParseBlob decodes a VISIT_BLOB JSON body; nil or empty yields an empty
// view.
func ParseBlob(raw *string) (*BlobData, error) {
	b := &BlobData{}
	if raw == nil || *raw == "" {
		return b, nil
	}
	if err := json.Unmarshal([]byte(*raw), b); err != nil {
		return nil, fmt.Errorf("visit blob: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal([]byte(*raw), &all); err == nil {
		for _, k := range blobKnownKeys {
			delete(all, k)
		}
		if len(all) > 0 {
			b.Extra = all
		}
	}
	return b, nil
}

// Encode serialises the view back to the stored JSON form.
func (b *BlobData) Encode() (string, error) {
	all := make(map[string]any, len(b.Extra)+2)
	for k, v := range b.Extra {
		all[k] = v
	}
	if b.VisitType != "" {
		all["visitType"] = b.VisitType
	}
	if b.Notes != "" {
		all["notes"] = b.Notes
	}
	out, err := json.Marshal(all)
	if err != nil {
		return "", fmt.Errorf("visit blob: %w", err)
	}
	return string(out), nil
}

// TimelineEntry is one visit of a patient timeline with the number of
// observations recorded during it.
type TimelineEntry struct {
	Visit
	ObservationCount int64 `json:"observationCount"`
}
