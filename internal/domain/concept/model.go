// Package concept holds the concept dimension: coded medical terms with a
// hierarchical path and a declared value type, plus the resolution cache that
// maps codes to display metadata for the validator, exporters, and UI layers.
package concept

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/best/best/pkg/codes"
)

// Concept maps to the CONCEPT_DIMENSION table.
type Concept struct {
	ConceptCode    string  `db:"CONCEPT_CD" json:"CONCEPT_CD"`
	ConceptPath    string  `db:"CONCEPT_PATH" json:"CONCEPT_PATH"`
	Name           string  `db:"NAME_CHAR" json:"NAME_CHAR"`
	Category       *string `db:"CATEGORY_CHAR" json:"CATEGORY_CHAR,omitempty"`
	ValueType      string  `db:"VALTYPE_CD" json:"VALTYPE_CD"`
	Unit           *string `db:"UNIT_CD" json:"UNIT_CD,omitempty"`
	RelatedConcept *string `db:"RELATED_CONCEPT_CD" json:"RELATED_CONCEPT_CD,omitempty"`
	Blob           *string `db:"CONCEPT_BLOB" json:"CONCEPT_BLOB,omitempty"`
	UpdateDate     *string `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	DownloadDate   *string `db:"DOWNLOAD_DATE" json:"DOWNLOAD_DATE,omitempty"`
	ImportDate     *string `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	SourceSystem   string  `db:"SOURCESYSTEM_CD" json:"SOURCESYSTEM_CD"`
	UploadID       *string `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

// ValidatePath checks the hierarchical path invariant: starts with a
// backslash, no doubled backslash, does not end with a backslash.
func ValidatePath(path string) error {
	if !strings.HasPrefix(path, `\`) {
		return fmt.Errorf("concept path %q must start with \\", path)
	}
	if strings.HasSuffix(path, `\`) {
		return fmt.Errorf("concept path %q must not end with \\", path)
	}
	if strings.Contains(path, `\\`) {
		return fmt.Errorf("concept path %q must not contain an empty segment", path)
	}
	return nil
}

// Validate checks the row invariants before a write.
func (c *Concept) Validate() error {
	if c.ConceptCode == "" {
		return fmt.Errorf("concept code is required")
	}
	if err := ValidatePath(c.ConceptPath); err != nil {
		return err
	}
	if c.ValueType != "" && !codes.IsValueType(c.ValueType) {
		return fmt.Errorf("invalid value type %q", c.ValueType)
	}
	return nil
}

// PathSegments splits the hierarchical path into its segments.
func (c *Concept) PathSegments() []string {
	trimmed := strings.TrimPrefix(c.ConceptPath, `\`)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, `\`)
}

// Blob holds the typed view over CONCEPT_BLOB. Unknown keys survive a
// parse/encode round trip in Extra.
type BlobData struct {
	Description string         `json:"description,omitempty"`
	Color       string         `json:"color,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	Extra       map[string]any `json:"-"`
}

var blobKnownKeys = []string{"description", "color", "icon"}

// ParseBlob decodes a CONCEPT_BLOB JSON body. A nil or empty blob yields an
// empty view.
func ParseBlob(raw *string) (*BlobData, error) {
	b := &BlobData{}
	if raw == nil || *raw == "" {
		return b, nil
	}
	if err := json.Unmarshal([]byte(*raw), b); err != nil {
		return nil, fmt.Errorf("concept blob: %w", err)
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
	if b.Description != "" {
		all["description"] = b.Description
	}
	if b.Color != "" {
		all["color"] = b.Color
	}
	if b.Icon != "" {
		all["icon"] = b.Icon
	}
	out, err := json.Marshal(all)
	if err != nil {
		return "", fmt.Errorf("concept blob: %w", err)
	}
	return string(out), nil
}
