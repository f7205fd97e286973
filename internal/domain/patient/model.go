// Package patient holds the patient dimension: demographics keyed by a
// unique external code, parent of every visit, observation, and note.
package patient

import (
	"encoding/json"
	"fmt"

	"github.com/best/best/pkg/isodate"
)

// Patient maps to one row of the PATIENT_DIMENSION table. PatientNum is the
// surrogate key; PatientCode is the natural key imports match on.
type Patient struct {
	PatientNum    int64   `db:"PATIENT_NUM" json:"PATIENT_NUM"`
	PatientCode   string  `db:"PATIENT_CD" json:"PATIENT_CD"`
	VitalStatus   *string `db:"VITAL_STATUS_CD" json:"VITAL_STATUS_CD,omitempty"`
	BirthDate     *string `db:"BIRTH_DATE" json:"BIRTH_DATE,omitempty"`
	DeathDate     *string `db:"DEATH_DATE" json:"DEATH_DATE,omitempty"`
	SexCode       *string `db:"SEX_CD" json:"SEX_CD,omitempty"`
	AgeInYears    *int64  `db:"AGE_IN_YEARS" json:"AGE_IN_YEARS,omitempty"`
	LanguageCode  *string `db:"LANGUAGE_CD" json:"LANGUAGE_CD,omitempty"`
	RaceCode      *string `db:"RACE_CD" json:"RACE_CD,omitempty"`
	MaritalStatus *string `db:"MARITAL_STATUS_CD" json:"MARITAL_STATUS_CD,omitempty"`
	ReligionCode  *string `db:"RELIGION_CD" json:"RELIGION_CD,omitempty"`
	Blob          *string `db:"PATIENT_BLOB" json:"PATIENT_BLOB,omitempty"`
	UpdateDate    *string `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	DownloadDate  *string `db:"DOWNLOAD_DATE" json:"DOWNLOAD_DATE,omitempty"`
	ImportDate    *string `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	SourceSystem  string  `db:"SOURCESYSTEM_CD" json:"SOURCESYSTEM_CD"`
	UploadID      *string `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

// Validate checks the row invariants before a write.
func (p *Patient) Validate() error {
	if p.PatientCode == "" {
		return fmt.Errorf("patient code is required")
	}
	if p.AgeInYears != nil && (*p.AgeInYears < 0 || *p.AgeInYears > 150) {
		return fmt.Errorf("age %d out of range [0, 150]", *p.AgeInYears)
	}
	if p.BirthDate != nil && *p.BirthDate != "" && !isodate.Valid(*p.BirthDate) {
		return fmt.Errorf("invalid birth date %q: want YYYY-MM-DD", *p.BirthDate)
	}
	if p.DeathDate != nil && *p.DeathDate != "" {
		if !isodate.Valid(*p.DeathDate) {
			return fmt.Errorf("invalid death date %q: want YYYY-MM-DD", *p.DeathDate)
		}
		if p.BirthDate != nil && *p.BirthDate != "" && *p.DeathDate < *p.BirthDate {
			return fmt.Errorf("death date %s precedes birth date %s", *p.DeathDate, *p.BirthDate)
		}
	}
	return nil
}

// BlobMap decodes PATIENT_BLOB into a free-form map. A nil or empty blob
// yields an empty map.
func (p *Patient) BlobMap() (map[string]any, error) {
	out := map[string]any{}
	if p.Blob == nil || *p.Blob == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(*p.Blob), &out); err != nil {
		return nil, fmt.Errorf("patient blob: %w", err)
	}
	return out, nil
}

// Patch is a partial update: nil fields keep the stored value. The update
// duplicate strategy patches only the fields an import actually carried.
type Patch struct {
	VitalStatus   *string
	BirthDate     *string
	DeathDate     *string
	SexCode       *string
	AgeInYears    *int64
	LanguageCode  *string
	RaceCode      *string
	MaritalStatus *string
	ReligionCode  *string
	Blob          *string
	SourceSystem  *string
	UploadID      *string
}

// Apply copies the set fields of the patch onto p.
func (pt Patch) Apply(p *Patient) {
	if pt.VitalStatus != nil {
		p.VitalStatus = pt.VitalStatus
	}
	if pt.BirthDate != nil {
		p.BirthDate = pt.BirthDate
	}
	if pt.DeathDate != nil {
		p.DeathDate = pt.DeathDate
	}
	if pt.SexCode != nil {
		p.SexCode = pt.SexCode
	}
	if pt.AgeInYears != nil {
		p.AgeInYears = pt.AgeInYears
	}
	if pt.LanguageCode != nil {
		p.LanguageCode = pt.LanguageCode
	}
	if pt.RaceCode != nil {
		p.RaceCode = pt.RaceCode
	}
	if pt.MaritalStatus != nil {
		p.MaritalStatus = pt.MaritalStatus
	}
	if pt.ReligionCode != nil {
		p.ReligionCode = pt.ReligionCode
	}
	if pt.Blob != nil {
		p.Blob = pt.Blob
	}
	if pt.SourceSystem != nil {
		p.SourceSystem = *pt.SourceSystem
	}
	if pt.UploadID != nil {
		p.UploadID = pt.UploadID
	}
}

// Empty reports whether the patch carries no changes.
func (pt Patch) Empty() bool {
	return pt.VitalStatus == nil && pt.BirthDate == nil && pt.DeathDate == nil &&
		pt.SexCode == nil && pt.AgeInYears == nil && pt.LanguageCode == nil &&
		pt.RaceCode == nil && pt.MaritalStatus == nil && pt.ReligionCode == nil &&
		pt.Blob == nil && pt.SourceSystem == nil && pt.UploadID == nil
}
