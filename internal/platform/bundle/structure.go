// Package bundle defines the canonical interchange structure shared by every
// importer and exporter, and the transactional service that writes a bundle
// into the database.
package bundle

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Structure is the canonical bundle shape. Parsers of every input format
// produce it; exporters serialise it.
type Structure struct {
	Metadata   Metadata   `json:"metadata"`
	ExportInfo ExportInfo `json:"exportInfo"`
	Data       Data       `json:"data"`
	Statistics Statistics `json:"statistics"`
}

// Metadata describes a bundle's origin.
type Metadata struct {
	Title            string        `json:"title,omitempty"`
	ExportDate       string        `json:"exportDate,omitempty"`
	Format           string        `json:"format"`
	Source           string        `json:"source,omitempty"`
	Version          string        `json:"version,omitempty"`
	Author           string        `json:"author,omitempty"`
	PatientCount     int           `json:"patientCount"`
	VisitCount       int           `json:"visitCount"`
	ObservationCount int           `json:"observationCount"`
	PatientIDs       []string      `json:"patientIds,omitempty"`
	Options          ExportOptions `json:"options"`
}

// ExportOptions records which entity groups a bundle carries.
type ExportOptions struct {
	IncludeVisits       bool `json:"includeVisits"`
	IncludeObservations bool `json:"includeObservations"`
	IncludeNotes        bool `json:"includeNotes"`
}

// ExportInfo identifies the producing exporter.
type ExportInfo struct {
	Format     string `json:"format"`
	Version    string `json:"version,omitempty"`
	ExportedAt string `json:"exportedAt,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Data carries the flat entity records.
type Data struct {
	Patients     []Record `json:"patients"`
	Visits       []Record `json:"visits,omitempty"`
	Observations []Record `json:"observations,omitempty"`
}

// Statistics counts a bundle's content.
type Statistics struct {
	PatientCount     int    `json:"patientCount"`
	VisitCount       int    `json:"visitCount"`
	ObservationCount int    `json:"observationCount"`
	FetchedAt        string `json:"fetchedAt,omitempty"`
}

// Recount refreshes the statistics and metadata counters from the data.
func (s *Structure) Recount() {
	s.Statistics.PatientCount = len(s.Data.Patients)
	s.Statistics.VisitCount = len(s.Data.Visits)
	s.Statistics.ObservationCount = len(s.Data.Observations)
	s.Metadata.PatientCount = len(s.Data.Patients)
	s.Metadata.VisitCount = len(s.Data.Visits)
	s.Metadata.ObservationCount = len(s.Data.Observations)
}

// Record is one flat entity row keyed by schema column names. Values come
// from JSON decoding (strings, float64, bool, nested maps) or from CSV cells
// (strings).
type Record map[string]any

// Has reports whether the key is present with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the value rendered as a string; numbers drop trailing
// zeros. Missing keys yield the empty string.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		out, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(out)
	}
}

// StringPtr returns a pointer to the string value, nil when absent or empty.
func (r Record) StringPtr(key string) *string {
	s := r.String(key)
	if s == "" {
		return nil
	}
	return &s
}

// Int64 returns the value as int64.
func (r Record) Int64(key string) (int64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Float returns the value as float64.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Extra returns the keys not listed in known, for folding into the entity's
// opaque blob. Empty strings are dropped.
func (r Record) Extra(known map[string]bool) map[string]any {
	var out map[string]any
	for key, v := range r {
		if known[key] || v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if out == nil {
			out = map[string]any{}
		}
		out[key] = v
	}
	return out
}

// MergeBlob merges extra keys into an existing JSON blob body and returns
// the combined encoding. Keys already in the blob win.
func MergeBlob(blob *string, extra map[string]any) (*string, error) {
	if len(extra) == 0 {
		return blob, nil
	}
	merged := map[string]any{}
	for k, v := range extra {
		merged[k] = v
	}
	if blob != nil && *blob != "" {
		var existing map[string]any
		if err := json.Unmarshal([]byte(*blob), &existing); err != nil {
			return nil, fmt.Errorf("existing blob: %w", err)
		}
		for k, v := range existing {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("merge blob: %w", err)
	}
	s := string(out)
	return &s, nil
}
