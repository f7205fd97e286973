package cda

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/pkg/codes"
	"github.com/best/best/pkg/isodate"
)

// Parse decodes an HL7-CDA JSON document into the canonical bundle
// structure.
func Parse(data []byte) (*bundle.Structure, error) {
	var doc Bundle
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return FromBundle(&doc)
}

// FromBundle flattens a decoded document. Exposed separately for inputs
// that arrive pre-decoded, such as HTML pages embedding a bundle.
// Resource types beyond Patient, Encounter, and Observation carry nothing
// the engine stores and are skipped.
func FromBundle(doc *Bundle) (*bundle.Structure, error) {
	if doc == nil || doc.ResourceType != ResourceBundle {
		return nil, fmt.Errorf("document is not a %s resource", ResourceBundle)
	}
	st := &bundle.Structure{}
	st.Metadata.Format = FormatName
	st.Metadata.ExportDate = doc.Timestamp
	st.Metadata.Options = bundle.ExportOptions{IncludeVisits: true, IncludeObservations: true}
	st.ExportInfo.Format = FormatName
	st.ExportInfo.ExportedAt = doc.Timestamp
	for i, entry := range doc.Entry {
		var head struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(entry.Resource, &head); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		switch head.ResourceType {
		case ResourcePatient:
			var p Patient
			if err := json.Unmarshal(entry.Resource, &p); err != nil {
				return nil, fmt.Errorf("entry %d: patient: %w", i, err)
			}
			st.Data.Patients = append(st.Data.Patients, patientRecord(&p))
		case ResourceEncounter:
			var e Encounter
			if err := json.Unmarshal(entry.Resource, &e); err != nil {
				return nil, fmt.Errorf("entry %d: encounter: %w", i, err)
			}
			st.Data.Visits = append(st.Data.Visits, encounterRecord(&e))
		case ResourceObservation:
			var o Observation
			if err := json.Unmarshal(entry.Resource, &o); err != nil {
				return nil, fmt.Errorf("entry %d: observation: %w", i, err)
			}
			st.Data.Observations = append(st.Data.Observations, observationRecord(&o))
		}
	}
	st.Statistics.FetchedAt = isodate.Stamp()
	st.Recount()
	return st, nil
}

func patientRecord(p *Patient) bundle.Record {
	rec := bundle.Record{}
	code := p.ID
	if code == "" {
		for _, id := range p.Identifier {
			if id.Value != "" {
				code = id.Value
				break
			}
		}
	}
	setField(rec, "PATIENT_CD", code)
	sex := findCode(p.Extension, ExtSexConcept)
	if sex == "" {
		sex = sexFromGender(p.Gender)
	}
	setField(rec, "SEX_CD", sex)
	setField(rec, "BIRTH_DATE", p.BirthDate)
	setField(rec, "DEATH_DATE", p.DeceasedDateTime)
	if p.MaritalStatus != nil && len(p.MaritalStatus.Coding) > 0 {
		setField(rec, "MARITAL_STATUS_CD", p.MaritalStatus.Coding[0].Code)
	}
	if len(p.Communication) > 0 && len(p.Communication[0].Language.Coding) > 0 {
		setField(rec, "LANGUAGE_CD", p.Communication[0].Language.Coding[0].Code)
	}
	if age, ok := findInteger(p.Extension, ExtAgeInYears); ok {
		rec["AGE_IN_YEARS"] = age
	}
	setField(rec, "VITAL_STATUS_CD", findCode(p.Extension, ExtVitalStatus))
	setField(rec, "RACE_CD", findCode(p.Extension, ExtRace))
	setField(rec, "RELIGION_CD", findCode(p.Extension, ExtReligion))
	setField(rec, "SOURCESYSTEM_CD", findCode(p.Extension, ExtSourceSystem))
	setField(rec, "PATIENT_BLOB", findString(p.Extension, ExtBlob))
	return rec
}

func encounterRecord(e *Encounter) bundle.Record {
	rec := bundle.Record{}
	setField(rec, "ENCOUNTER_NUM", e.ID)
	setField(rec, "PATIENT_CD", refID(e.Subject, ResourcePatient))
	status := findCode(e.Extension, ExtActiveStatus)
	if status == "" {
		status = activeStatusFrom(e.Status)
	}
	setField(rec, "ACTIVE_STATUS_CD", status)
	inout := findCode(e.Extension, ExtInOut)
	if inout == "" && e.Class != nil {
		inout = inOutFrom(e.Class.Code)
	}
	setField(rec, "INOUT_CD", inout)
	if e.Period != nil {
		setField(rec, "START_DATE", e.Period.Start)
		setField(rec, "END_DATE", e.Period.End)
	}
	if len(e.Location) > 0 {
		setField(rec, "LOCATION_CD", e.Location[0].Location.Display)
	}
	setField(rec, "SOURCESYSTEM_CD", findCode(e.Extension, ExtSourceSystem))
	setField(rec, "VISIT_BLOB", findString(e.Extension, ExtBlob))
	return rec
}

func observationRecord(o *Observation) bundle.Record {
	rec := bundle.Record{}
	setField(rec, "OBSERVATION_ID", o.ID)
	if len(o.Code.Coding) > 0 {
		setField(rec, "CONCEPT_CD", o.Code.Coding[0].Code)
	}
	setField(rec, "PATIENT_CD", refID(o.Subject, ResourcePatient))
	setField(rec, "ENCOUNTER_NUM", refID(o.Encounter, ResourceEncounter))
	setField(rec, "START_DATE", o.EffectiveDateTime)
	if len(o.Category) > 0 && len(o.Category[0].Coding) > 0 {
		setField(rec, "CATEGORY_CHAR", o.Category[0].Coding[0].Code)
	}

	// The value-type extension wins; a foreign bundle without it gets the
	// type implied by which value field is present.
	vt := findCode(o.Extension, ExtValueType)
	switch {
	case o.ValueQuantity != nil:
		rec["NVAL_NUM"] = o.ValueQuantity.Value
		setField(rec, "UNIT_CD", o.ValueQuantity.Unit)
		if vt == "" {
			vt = codes.ValueTypeNumeric
		}
	case o.ValueCodeableConcept != nil:
		if len(o.ValueCodeableConcept.Coding) > 0 {
			setField(rec, "TVAL_CHAR", o.ValueCodeableConcept.Coding[0].Code)
		}
		if vt == "" {
			vt = codes.ValueTypeSelection
		}
	case o.ValueDateTime != "":
		setField(rec, "TVAL_CHAR", o.ValueDateTime)
		if vt == "" {
			vt = codes.ValueTypeDate
		}
	case o.ValueString != "":
		setField(rec, "TVAL_CHAR", o.ValueString)
		if vt == "" {
			vt = codes.ValueTypeText
		}
	}
	setField(rec, "VALTYPE_CD", vt)
	if inst, ok := findInteger(o.Extension, ExtInstanceNum); ok {
		rec["INSTANCE_NUM"] = inst
	}
	setField(rec, "END_DATE", findString(o.Extension, ExtEndDate))
	setField(rec, "PROVIDER_ID", findCode(o.Extension, ExtProvider))
	setField(rec, "LOCATION_CD", findCode(o.Extension, ExtLocation))
	setField(rec, "SOURCESYSTEM_CD", findCode(o.Extension, ExtSourceSystem))
	setField(rec, "OBSERVATION_BLOB", findString(o.Extension, ExtBlob))
	return rec
}

func setField(rec bundle.Record, key, value string) {
	if value != "" {
		rec[key] = value
	}
}

// refID extracts the id from a "Type/id" reference. Bare ids and urn
// forms are accepted as well.
func refID(ref *Reference, resourceType string) string {
	if ref == nil {
		return ""
	}
	s := ref.Reference
	if strings.HasPrefix(s, resourceType+"/") {
		return strings.TrimPrefix(s, resourceType+"/")
	}
	if strings.HasPrefix(s, "urn:") {
		if i := strings.LastIndex(s, ":"); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}
