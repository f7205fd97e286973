// Package provider holds the provider dimension: clinicians and devices an
// observation can attribute its value to.
package provider

import "fmt"

// Provider maps to one row of the PROVIDER_DIMENSION table.
type Provider struct {
	ProviderID   string  `db:"PROVIDER_ID" json:"PROVIDER_ID"`
	Path         *string `db:"PROVIDER_PATH" json:"PROVIDER_PATH,omitempty"`
	Name         *string `db:"NAME_CHAR" json:"NAME_CHAR,omitempty"`
	Blob         *string `db:"PROVIDER_BLOB" json:"PROVIDER_BLOB,omitempty"`
	UpdateDate   *string `db:"UPDATE_DATE" json:"UPDATE_DATE,omitempty"`
	ImportDate   *string `db:"IMPORT_DATE" json:"IMPORT_DATE,omitempty"`
	SourceSystem string  `db:"SOURCESYSTEM_CD" json:"SOURCESYSTEM_CD"`
	UploadID     *string `db:"UPLOAD_ID" json:"UPLOAD_ID,omitempty"`
}

// Validate checks the row invariants before a write.
func (p *Provider) Validate() error {
	if p.ProviderID == "" {
		return fmt.Errorf("provider id is required")
	}
	return nil
}
