package exporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/platform/bundle"
)

// csvFixedLabels head the label row above the fixed columns.
var csvFixedLabels = []string{"Patient code", "Encounter number", "Start date"}

// csvFixedCodes head the code row; the importer matches on these.
var csvFixedCodes = []string{"PATIENT_CD", "ENCOUNTER_NUM", "START_DATE"}

// ToCSV renders the structure in the two-header-row shape: row one human
// labels, row two system codes, one data row per visit with observations
// pivoted by concept column. Several observations of one concept in one
// visit join with semicolons. Observations without a visit get their own
// patient and date row, so nothing is dropped.
func (s *Service) ToCSV(ctx context.Context, st *bundle.Structure) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("nil bundle structure")
	}

	var concepts []string
	seen := map[string]bool{}
	for _, rec := range st.Data.Observations {
		cd := rec.String("CONCEPT_CD")
		if cd != "" && !seen[cd] {
			seen[cd] = true
			concepts = append(concepts, cd)
		}
	}

	labels, err := s.conceptLabels(ctx, concepts)
	if err != nil {
		return nil, err
	}

	type rowKey struct{ patient, encounter, date string }
	cells := map[rowKey]map[string][]string{}
	var order []rowKey
	ensure := func(k rowKey) map[string][]string {
		if m, ok := cells[k]; ok {
			return m
		}
		m := map[string][]string{}
		cells[k] = m
		order = append(order, k)
		return m
	}

	visitDate := map[string]string{}
	for _, v := range st.Data.Visits {
		k := rowKey{v.String("PATIENT_CD"), v.String("ENCOUNTER_NUM"), v.String("START_DATE")}
		ensure(k)
		visitDate[k.patient+"\x00"+k.encounter] = k.date
	}
	for _, o := range st.Data.Observations {
		k := rowKey{o.String("PATIENT_CD"), o.String("ENCOUNTER_NUM"), o.String("START_DATE")}
		if k.encounter != "" {
			if d, ok := visitDate[k.patient+"\x00"+k.encounter]; ok {
				k.date = d
			}
		}
		m := ensure(k)
		cd := o.String("CONCEPT_CD")
		m[cd] = append(m[cd], cellValue(o))
	}
	// Patients without a single row still appear, or a round trip would
	// lose them.
	rowsFor := map[string]bool{}
	for _, k := range order {
		rowsFor[k.patient] = true
	}
	for _, p := range st.Data.Patients {
		if code := p.String("PATIENT_CD"); code != "" && !rowsFor[code] {
			ensure(rowKey{patient: code})
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write(append(append([]string{}, csvFixedLabels...), labels...))
	w.Write(append(append([]string{}, csvFixedCodes...), concepts...))
	for _, k := range order {
		row := make([]string, 0, len(csvFixedCodes)+len(concepts))
		row = append(row, k.patient, k.encounter, k.date)
		for _, cd := range concepts {
			row = append(row, strings.Join(cells[k][cd], ";"))
		}
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// conceptLabels resolves the human label row. Unresolvable codes label as
// themselves.
func (s *Service) conceptLabels(ctx context.Context, concepts []string) ([]string, error) {
	labels := make([]string, len(concepts))
	for i, cd := range concepts {
		labels[i] = cd
	}
	if s.resolver == nil || len(concepts) == 0 {
		return labels, nil
	}
	resolved, err := s.resolver.ResolveBatch(ctx, concepts, concept.Options{})
	if err != nil {
		return nil, fmt.Errorf("resolve concept labels: %w", err)
	}
	for i, cd := range concepts {
		if res, ok := resolved[cd]; ok && res.Label != "" {
			labels[i] = res.Label
		}
	}
	return labels, nil
}

// cellValue renders one observation for a CSV cell: the text value when
// present (raw values keep their JSON body), the numeric value otherwise.
func cellValue(rec bundle.Record) string {
	if v := rec.String("TVAL_CHAR"); v != "" {
		return v
	}
	return rec.String("NVAL_NUM")
}
