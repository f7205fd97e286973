// Package note holds free-text clinical notes attached to a patient and,
// optionally, to a visit.
package note

import (
	"encoding/json"
	"fmt"
)

// Note maps to one row of the NOTE_FACT table.
type Note struct {
	NoteID       int64   `db:"NOTE_ID" json:"NOTE_ID"`
	PatientNum   int64   `db:"PATIENT_NUM" json:"PATIENT_NUM"`
	EncounterNum *int64  `db:"ENCOUNTER_NUM" json:"ENCOUNTER_NUM,omitempty"`
	Category     *string `db:"CATEGORY_CHAR" json:"CATEGORY_CHAR,omitempty"`
	Title        *string `db:"NAME_CHAR" json:"NAME_CHAR,omitempty"`
	Text         *string `db:"NOTE_TEXT" json:"NOTE_TEXT,omitempty"`
	Blob         *string `db:"NOTE_BLOB" json:"NOTE_BLOB,omitempty"`
	UpdateDate   *string `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	ImportDate   *string `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	SourceSystem string  `db:"SOURCESYSTEM_CD" json:"SOURCESYSTEM_CD"`
	UploadID     *string `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

// Validate checks the row invariants before a write.
func (n *Note) Validate() error {
	if n.PatientNum <= 0 {
		return fmt.Errorf("note requires a patient")
	}
	if (n.Text == nil || *n.Text == "") && (n.Blob == nil || *n.Blob == "") {
		return fmt.Errorf("note requires a text body or a blob payload")
	}
	if n.Blob != nil && *n.Blob != "" && !json.Valid([]byte(*n.Blob)) {
		return fmt.Errorf("note blob is not valid JSON")
	}
	return nil
}

// BodyText returns the note body, falling back to the empty string.
func (n *Note) BodyText() string {
	if n.Text == nil {
		return ""
	}
	return *n.Text
}
