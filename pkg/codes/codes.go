package codes

// Common coded value sets used across the engine.

// Observation value type discriminants (VALTYPE_CD).
const (
	ValueTypeNumeric       = "N"
	ValueTypeText          = "T"
	ValueTypeDate          = "D"
	ValueTypeRaw           = "R"
	ValueTypeSelection     = "S"
	ValueTypeFinding       = "F"
	ValueTypeAnswer        = "A"
	ValueTypeQuestionnaire = "Q"
)

// ValueTypes lists every valid VALTYPE_CD.
var ValueTypes = []string{
	ValueTypeNumeric, ValueTypeText, ValueTypeDate, ValueTypeRaw,
	ValueTypeSelection, ValueTypeFinding, ValueTypeAnswer, ValueTypeQuestionnaire,
}

// IsValueType reports whether cd is a recognised VALTYPE_CD.
func IsValueType(cd string) bool {
	switch cd {
	case ValueTypeNumeric, ValueTypeText, ValueTypeDate, ValueTypeRaw,
		ValueTypeSelection, ValueTypeFinding, ValueTypeAnswer, ValueTypeQuestionnaire:
		return true
	}
	return false
}

// Visit ACTIVE_STATUS_CD values.
const (
	VisitStatusActive    = "A"
	VisitStatusFinished  = "F"
	VisitStatusPlanned   = "P"
	VisitStatusCancelled = "C"
)

// Visit INOUT_CD discriminants.
const (
	VisitInpatient  = "I"
	VisitOutpatient = "O"
	VisitEmergency  = "E"
)

// Patient VITAL_STATUS_CD values.
const (
	VitalStatusAlive    = "A"
	VitalStatusDeceased = "D"
	VitalStatusUnknown  = "U"
)

// SOURCESYSTEM_CD tags. Every insert carries one; USER is the default for
// rows created interactively.
const (
	SourceUser   = "USER"
	SourceImport = "IMPORT"
	SourceDemo   = "DEMO"
	SourceSeed   = "SYSTEM"
)

// CODE_LOOKUP table/column scopes for the controlled vocabularies the UI
// layers resolve through the lookup table.
const (
	LookupTablePatient = "PATIENT_DIMENSION"
	LookupTableVisit   = "VISIT_DIMENSION"
	LookupTableUser    = "USER_MANAGEMENT"

	LookupColumnSex         = "SEX_CD"
	LookupColumnVitalStatus = "VITAL_STATUS_CD"
	LookupColumnLanguage    = "LANGUAGE_CD"
	LookupColumnMarital     = "MARITAL_STATUS_CD"
	LookupColumnReligion    = "RELIGION_CD"
	LookupColumnActive      = "ACTIVE_STATUS_CD"
	LookupColumnInOut       = "INOUT_CD"
	LookupColumnLocation    = "LOCATION_CD"
	LookupColumnUserRole    = "COLUMN_CD"
)

// User roles (USER_MANAGEMENT.COLUMN_CD).
const (
	RoleAdmin      = "admin"
	RolePhysician  = "physician"
	RoleResearcher = "researcher"
	RoleDemo       = "demo"
)

// Observation CATEGORY_CHAR tags.
const (
	CategoryVitalSigns    = "vital-signs"
	CategoryLaboratory    = "laboratory"
	CategorySurvey        = "survey"
	CategoryFinding       = "finding"
	CategoryImaging       = "imaging"
	CategoryDemographics  = "demographics"
	CategoryMedication    = "medication"
	CategorySocialHistory = "social-history"
	CategoryDocument      = "document"
)
