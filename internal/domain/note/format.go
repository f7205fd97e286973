package note

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatText = "text"
)

// Format renders notes in one of the export formats.
func Format(notes []*Note, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		return formatJSON(notes)
	case FormatCSV:
		return formatCSV(notes)
	case FormatText, "txt":
		return formatText(notes), nil
	default:
		return nil, fmt.Errorf("unknown note export format %q", format)
	}
}

func formatJSON(notes []*Note) ([]byte, error) {
	if notes == nil {
		notes = []*Note{}
	}
	out, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode notes: %w", err)
	}
	return out, nil
}

var csvHeader = []string{
	"NOTE_ID", "PATIENT_NUM", "ENCOUNTER_NUM", "CATEGORY_CHAR",
	"NAME_CHAR", "NOTE_TEXT", "SOURCESYSTEM_CD", "UPDATE_DATE",
}

func formatCSV(notes []*Note) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write notes csv header: %w", err)
	}
	for _, n := range notes {
		record := []string{
			strconv.FormatInt(n.NoteID, 10),
			strconv.FormatInt(n.PatientNum, 10),
			optInt(n.EncounterNum),
			optStr(n.Category),
			optStr(n.Title),
			optStr(n.Text),
			n.SourceSystem,
			optStr(n.UpdateDate),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write notes csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush notes csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatText(notes []*Note) []byte {
	var b strings.Builder
	for i, n := range notes {
		if i > 0 {
			b.WriteString("\n")
		}
		title := "Untitled note"
		if n.Title != nil && *n.Title != "" {
			title = *n.Title
		}
		fmt.Fprintf(&b, "=== %s (#%d)\n", title, n.NoteID)
		if n.Category != nil && *n.Category != "" {
			fmt.Fprintf(&b, "Category: %s\n", *n.Category)
		}
		if n.EncounterNum != nil {
			fmt.Fprintf(&b, "Visit: %d\n", *n.EncounterNum)
		}
		if n.UpdateDate != nil && *n.UpdateDate != "" {
			fmt.Fprintf(&b, "Updated: %s\n", *n.UpdateDate)
		}
		b.WriteString("\n")
		b.WriteString(n.BodyText())
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func optStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
