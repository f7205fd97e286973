package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/pkg/codes"
	"github.com/best/best/pkg/isodate"
)

// Fixed leading columns of a CSV bundle; every later column carries one
// concept code.
var csvFixed = []string{"PATIENT_CD", "ENCOUNTER_NUM", "START_DATE"}

// parseCSV reads the two-header-row bundle shape: row one human labels,
// row two system codes, each later row one visit with its observations
// pivoted by concept column. Cells holding several observations separate
// them with semicolons.
func parseCSV(content []byte) Result {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = 0
	rows, err := r.ReadAll()
	if err != nil {
		perr := ParseError{Code: CodeMalformedCSV, Message: err.Error()}
		var cerr *csv.ParseError
		if errors.As(err, &cerr) {
			perr.Line = cerr.Line
			perr.Column = cerr.Column
			perr.Message = cerr.Err.Error()
		}
		return failure(FormatCSV, perr)
	}
	if len(rows) < 2 {
		return failure(FormatCSV, ParseError{
			Code: CodeMissingHeader, Message: "need a label row and a code row",
		})
	}

	header := rows[1]
	if len(header) < len(csvFixed) {
		return failure(FormatCSV, ParseError{
			Code: CodeMissingHeader, Line: 2,
			Message: fmt.Sprintf("code row needs at least %d columns", len(csvFixed)),
		})
	}
	for i, want := range csvFixed {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return failure(FormatCSV, ParseError{
				Code: CodeMissingHeader, Line: 2, Column: i + 1,
				Message: fmt.Sprintf("column %d must be %s, got %q", i+1, want, header[i]),
			})
		}
	}
	for i := len(csvFixed); i < len(header); i++ {
		if strings.TrimSpace(header[i]) == "" {
			return failure(FormatCSV, ParseError{
				Code: CodeMissingHeader, Line: 2, Column: i + 1,
				Message: fmt.Sprintf("column %d has no concept code", i+1),
			})
		}
	}

	st := &bundle.Structure{}
	st.Metadata.Format = string(FormatCSV)
	st.Metadata.Options = bundle.ExportOptions{IncludeVisits: true, IncludeObservations: true}
	st.ExportInfo.Format = string(FormatCSV)

	seenPatients := map[string]bool{}
	seenVisits := map[string]bool{}
	var errs []ParseError

	for rowIdx, row := range rows[2:] {
		line := rowIdx + 3
		patientCD := strings.TrimSpace(row[0])
		if patientCD == "" {
			errs = append(errs, ParseError{
				Code: CodeInvalidRow, Message: "row has no patient code", Line: line, Column: 1,
			})
			continue
		}
		encounter := strings.TrimSpace(row[1])
		startDate := strings.TrimSpace(row[2])
		if startDate != "" && !isodate.Valid(startDate) {
			errs = append(errs, ParseError{
				Code: CodeInvalidRow, Line: line, Column: 3,
				Message: fmt.Sprintf("start date %q: want YYYY-MM-DD", startDate),
			})
			continue
		}
		if !seenPatients[patientCD] {
			seenPatients[patientCD] = true
			st.Data.Patients = append(st.Data.Patients, bundle.Record{"PATIENT_CD": patientCD})
		}
		visitKey := patientCD + "\x00" + encounter
		if encounter != "" && !seenVisits[visitKey] {
			seenVisits[visitKey] = true
			visit := bundle.Record{"PATIENT_CD": patientCD, "ENCOUNTER_NUM": encounter}
			if startDate != "" {
				visit["START_DATE"] = startDate
			}
			st.Data.Visits = append(st.Data.Visits, visit)
		}

		for col := len(csvFixed); col < len(row); col++ {
			cell := strings.TrimSpace(row[col])
			if cell == "" {
				continue
			}
			parts := splitCell(cell)
			for i, part := range parts {
				rec := bundle.Record{
					"PATIENT_CD": patientCD,
					"CONCEPT_CD": strings.TrimSpace(header[col]),
				}
				if encounter != "" {
					rec["ENCOUNTER_NUM"] = encounter
				}
				if startDate != "" {
					rec["START_DATE"] = startDate
				}
				if len(parts) > 1 {
					rec["INSTANCE_NUM"] = int64(i + 1)
				}
				typeCell(rec, part)
				st.Data.Observations = append(st.Data.Observations, rec)
			}
		}
	}

	st.Recount()
	return Result{
		Success:    len(errs) == 0,
		Format:     FormatCSV,
		Data:       st,
		Statistics: st.Statistics,
		Errors:     errs,
	}
}

// splitCell breaks a semicolon-joined multi-value cell apart. Semicolons
// inside JSON bodies do not split, so raw cells survive intact.
func splitCell(cell string) []string {
	if strings.HasPrefix(cell, "{") {
		return []string{cell}
	}
	var out []string
	for _, part := range strings.Split(cell, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// typeCell routes one cell value into the record. JSON objects become
// raw values, numbers numeric, calendar dates date-typed, everything
// else text. The database import overrides the tentative value type for
// known concepts.
func typeCell(rec bundle.Record, value string) {
	if strings.HasPrefix(value, "{") && json.Valid([]byte(value)) {
		rec["VALTYPE_CD"] = codes.ValueTypeRaw
		rec["TVAL_CHAR"] = value
		return
	}
	if isodate.Valid(value) {
		rec["VALTYPE_CD"] = codes.ValueTypeDate
		rec["TVAL_CHAR"] = value
		return
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		rec["VALTYPE_CD"] = codes.ValueTypeNumeric
		rec["NVAL_NUM"] = n
		return
	}
	rec["VALTYPE_CD"] = codes.ValueTypeText
	rec["TVAL_CHAR"] = value
}
