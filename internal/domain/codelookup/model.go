// Package codelookup holds the per-column display catalogue: short codes used
// in dimension columns (SEX_CD, VITAL_STATUS_CD, user roles) mapped to labels
// and UI hints.
package codelookup

import (
	"encoding/json"
	"fmt"
)

// CodeLookup maps to one row of the CODE_LOOKUP table. A row is addressed by
// the (table, column, code) triple.
type CodeLookup struct {
	TableCode  string  `db:"TABLE_CD" json:"TABLE_CD"`
	ColumnCode string  `db:"COLUMN_CD" json:"COLUMN_CD"`
	Code       string  `db:"CODE_CD" json:"CODE_CD"`
	Name       string  `db:"NAME_CHAR" json:"NAME_CHAR"`
	Blob       *string `db:"LOOKUP_BLOB" json:"LOOKUP_BLOB,omitempty"`
	UpdateDate *string `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	ImportDate *string `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	UploadID   *string `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

// Validate checks the natural key before a write.
func (l *CodeLookup) Validate() error {
	if l.TableCode == "" || l.ColumnCode == "" || l.Code == "" {
		return fmt.Errorf("code lookup requires table, column, and code")
	}
	return nil
}

// BlobData is the typed view over LOOKUP_BLOB: display hints for resolvers
// and UI layers. Unknown keys survive a round trip in Extra.
type BlobData struct {
	Color string         `json:"color,omitempty"`
	Icon  string         `json:"icon,omitempty"`
	Label string         `json:"label,omitempty"`
	Extra map[string]any `json:"-"`
}

var blobKnownKeys = []string{"color", "icon", "label"}

// ParseBlob decodes a LOOKUP_BLOB JSON body; nil or empty yields an empty
// view.
func ParseBlob(raw *string) (*BlobData, error) {
	b := &BlobData{}
	if raw == nil || *raw == "" {
		return b, nil
	}
	if err := json.Unmarshal([]byte(*raw), b); err != nil {
		return nil, fmt.Errorf("lookup blob: %w", err)
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
	all := make(map[string]any, len(b.Extra)+3)
	for k, v := range b.Extra {
		all[k] = v
	}
	if b.Color != "" {
		all["color"] = b.Color
	}
	if b.Icon != "" {
		all["icon"] = b.Icon
	}
	if b.Label != "" {
		all["label"] = b.Label
	}
	out, err := json.Marshal(all)
	if err != nil {
		return "", fmt.Errorf("lookup blob: %w", err)
	}
	return string(out), nil
}
