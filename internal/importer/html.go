package importer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/internal/platform/cda"
	"github.com/best/best/pkg/codes"
)

// parseHTML scans an HTML page for an embedded JSON document inside a
// script element. The first object that looks like an HL7-CDA bundle, a
// canonical export, or a filled questionnaire wins.
func parseHTML(content []byte) Result {
	for _, script := range extractScripts(string(content)) {
		script = strings.TrimSpace(script)
		if !strings.HasPrefix(script, "{") {
			continue
		}
		raw := []byte(script)
		var head map[string]json.RawMessage
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		switch {
		case string(head["resourceType"]) == `"`+cda.ResourceBundle+`"`:
			res := parseCDA(raw)
			res.Format = FormatHTML
			return res
		case head["questionnaire"] != nil || head["answers"] != nil:
			return parseQuestionnaire(raw)
		case head["data"] != nil || head["metadata"] != nil:
			res := parseJSON(raw)
			res.Format = FormatHTML
			return res
		}
	}
	return failure(FormatHTML, ParseError{
		Code:    CodeNoEmbeddedDocument,
		Message: "no embedded bundle or questionnaire found",
	})
}

// extractScripts returns the bodies of all script elements in document
// order. The embedded documents are written by exporting tools into
// well-formed script tags, so a full HTML parser buys nothing here.
func extractScripts(content string) []string {
	var out []string
	lower := strings.ToLower(content)
	for i := 0; i < len(content); {
		open := strings.Index(lower[i:], "<script")
		if open < 0 {
			break
		}
		open += i
		bodyStart := strings.IndexByte(content[open:], '>')
		if bodyStart < 0 {
			break
		}
		bodyStart += open + 1
		end := strings.Index(lower[bodyStart:], "</script")
		if end < 0 {
			break
		}
		out = append(out, content[bodyStart:bodyStart+end])
		i = bodyStart + end + len("</script")
	}
	return out
}

// questionnairePage is the JSON object a filled questionnaire page
// embeds: the questionnaire concept, the subject, and the answers.
type questionnairePage struct {
	Questionnaire string `json:"questionnaire"`
	Title         string `json:"title"`
	Patient       string `json:"patient"`
	Encounter     string `json:"encounter"`
	Date          string `json:"date"`
	Answers       []struct {
		Concept string `json:"concept"`
		Value   any    `json:"value"`
		Unit    string `json:"unit"`
	} `json:"answers"`
}

// parseQuestionnaire maps a filled questionnaire to one patient, one
// questionnaire-typed observation holding the full body, and one
// observation per answer.
func parseQuestionnaire(raw []byte) Result {
	var page questionnairePage
	if err := json.Unmarshal(raw, &page); err != nil {
		return failure(FormatHTML, jsonError(raw, err))
	}
	if strings.TrimSpace(page.Patient) == "" {
		return failure(FormatHTML, ParseError{
			Code:    CodeMissingPatientID,
			Message: "questionnaire names no patient",
		})
	}

	st := &bundle.Structure{}
	st.Metadata.Format = "questionnaire"
	st.Metadata.Title = page.Title
	st.Metadata.Options = bundle.ExportOptions{IncludeObservations: true}
	st.Data.Patients = []bundle.Record{{"PATIENT_CD": page.Patient}}

	base := func(conceptCD string) bundle.Record {
		rec := bundle.Record{"PATIENT_CD": page.Patient, "CONCEPT_CD": conceptCD}
		if page.Encounter != "" {
			rec["ENCOUNTER_NUM"] = page.Encounter
		}
		if page.Date != "" {
			rec["START_DATE"] = page.Date
		}
		return rec
	}

	if page.Questionnaire != "" {
		rec := base(page.Questionnaire)
		rec["VALTYPE_CD"] = codes.ValueTypeQuestionnaire
		rec["TVAL_CHAR"] = string(raw)
		st.Data.Observations = append(st.Data.Observations, rec)
	}

	var errs []ParseError
	for i, ans := range page.Answers {
		if ans.Concept == "" {
			errs = append(errs, ParseError{
				Code:    CodeInvalidRow,
				Message: fmt.Sprintf("answer %d names no concept", i+1),
			})
			continue
		}
		rec := base(ans.Concept)
		if ans.Unit != "" {
			rec["UNIT_CD"] = ans.Unit
		}
		switch v := ans.Value.(type) {
		case float64:
			rec["VALTYPE_CD"] = codes.ValueTypeNumeric
			rec["NVAL_NUM"] = v
		case string:
			typeCell(rec, v)
		case bool:
			rec["VALTYPE_CD"] = codes.ValueTypeText
			rec["TVAL_CHAR"] = fmt.Sprintf("%t", v)
		default:
			errs = append(errs, ParseError{
				Code:    CodeInvalidRow,
				Message: fmt.Sprintf("answer %d for %s has no usable value", i+1, ans.Concept),
			})
			continue
		}
		st.Data.Observations = append(st.Data.Observations, rec)
	}

	st.Recount()
	return Result{
		Success:    len(errs) == 0,
		Format:     FormatHTML,
		Data:       st,
		Statistics: st.Statistics,
		Errors:     errs,
	}
}
