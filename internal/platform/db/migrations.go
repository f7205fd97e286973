package db

// Registered returns the engine's schema migrations in application order.
// A fresh slice is returned on every call so callers cannot mutate the
// registry.
func Registered() []Migration {
	return []Migration{
		{
			Name:        "001_star_schema",
			Description: "Dimension and fact tables with lookup, CQL, and user side tables",
			SQL:         starSchemaSQL,
		},
		{
			Name:        "002_indexes",
			Description: "Covering indexes for foreign keys, codes, and dates",
			SQL:         indexSQL,
		},
		{
			Name:        "003_cascade_triggers",
			Description: "Cascade deletion triggers from patient and visit to their children",
			SQL:         cascadeTriggerSQL,
		},
		{
			Name:        "004_patient_observations_view",
			Description: "Read-time join of observations with concept names and resolved values",
			SQL:         patientObservationsViewSQL,
		},
	}
}

const starSchemaSQL = `
CREATE TABLE IF NOT EXISTS PATIENT_DIMENSION (
    PATIENT_NUM INTEGER PRIMARY KEY AUTOINCREMENT,
    PATIENT_CD TEXT UNIQUE NOT NULL,
    VITAL_STATUS_CD TEXT,
    BIRTH_DATE TEXT,
    DEATH_DATE TEXT,
    SEX_CD TEXT,
    AGE_IN_YEARS INTEGER,
    LANGUAGE_CD TEXT,
    RACE_CD TEXT,
    MARITAL_STATUS_CD TEXT,
    RELIGION_CD TEXT,
    PATIENT_BLOB TEXT,
    UPDATE_DATE TEXT,
    DOWNLOAD_DATE TEXT,
    IMPORT_DATE TEXT,
    SOURCESYSTEM_CD TEXT NOT NULL DEFAULT 'USER',
    UPLOAD_ID TEXT
);

CREATE TABLE IF NOT EXISTS VISIT_DIMENSION (
    ENCOUNTER_NUM INTEGER PRIMARY KEY AUTOINCREMENT,
    PATIENT_NUM INTEGER NOT NULL REFERENCES PATIENT_DIMENSION(PATIENT_NUM) ON DELETE CASCADE,
    ACTIVE_STATUS_CD TEXT,
    START_DATE TEXT NOT NULL,
    END_DATE TEXT,
    INOUT_CD TEXT,
    LOCATION_CD TEXT,
    VISIT_BLOB TEXT,
    UPDATE_DATE TEXT,
    DOWNLOAD_DATE TEXT,
    IMPORT_DATE TEXT,
    SOURCESYSTEM_CD TEXT NOT NULL DEFAULT 'USER',
    UPLOAD_ID TEXT,
    CHECK (END_DATE IS NULL OR END_DATE >= START_DATE)
);

CREATE TABLE IF NOT EXISTS OBSERVATION_FACT (
    OBSERVATION_ID INTEGER PRIMARY KEY AUTOINCREMENT,
    ENCOUNTER_NUM INTEGER NOT NULL REFERENCES VISIT_DIMENSION(ENCOUNTER_NUM) ON DELETE CASCADE,
    PATIENT_NUM INTEGER NOT NULL REFERENCES PATIENT_DIMENSION(PATIENT_NUM) ON DELETE CASCADE,
    CONCEPT_CD TEXT NOT NULL,
    PROVIDER_ID TEXT,
    START_DATE TEXT,
    END_DATE TEXT,
    INSTANCE_NUM INTEGER NOT NULL DEFAULT 1,
    VALTYPE_CD TEXT NOT NULL DEFAULT 'T'
        CHECK (VALTYPE_CD IN ('N', 'T', 'D', 'R', 'S', 'F', 'A', 'Q')),
    TVAL_CHAR TEXT,
    NVAL_NUM REAL,
    UNIT_CD TEXT,
    LOCATION_CD TEXT,
    CATEGORY_CHAR TEXT,
    OBSERVATION_BLOB TEXT,
    UPDATE_DATE TEXT,
    DOWNLOAD_DATE TEXT,
    IMPORT_DATE TEXT,
    SOURCESYSTEM_CD TEXT NOT NULL DEFAULT 'USER',
    UPLOAD_ID TEXT,
    CHECK (
        (VALTYPE_CD = 'N' AND NVAL_NUM IS NOT NULL AND TVAL_CHAR IS NULL) OR
        (VALTYPE_CD <> 'N' AND NVAL_NUM IS NULL)
    )
);

CREATE TABLE IF NOT EXISTS NOTE_FACT (
    NOTE_ID INTEGER PRIMARY KEY AUTOINCREMENT,
    PATIENT_NUM INTEGER NOT NULL REFERENCES PATIENT_DIMENSION(PATIENT_NUM) ON DELETE CASCADE,
    ENCOUNTER_NUM INTEGER REFERENCES VISIT_DIMENSION(ENCOUNTER_NUM) ON DELETE CASCADE,
    CATEGORY_CHAR TEXT,
    NAME_CHAR TEXT,
    NOTE_TEXT TEXT,
    NOTE_BLOB TEXT,
    UPDATE_DATE TEXT,
    IMPORT_DATE TEXT,
    SOURCESYSTEM_CD TEXT NOT NULL DEFAULT 'USER',
    UPLOAD_ID TEXT
);

CREATE TABLE IF NOT EXISTS CONCEPT_DIMENSION (
    CONCEPT_CD TEXT PRIMARY KEY,
    CONCEPT_PATH TEXT UNIQUE NOT NULL
        CHECK (CONCEPT_PATH LIKE '\%' AND CONCEPT_PATH NOT LIKE '%\' AND instr(CONCEPT_PATH, '\\') = 0),
    NAME_CHAR TEXT,
    CATEGORY_CHAR TEXT,
    VALTYPE_CD TEXT,
    UNIT_CD TEXT,
    RELATED_CONCEPT_CD TEXT,
    CONCEPT_BLOB TEXT,
    UPDATE_DATE TEXT,
    DOWNLOAD_DATE TEXT,
    IMPORT_DATE TEXT,
    SOURCESYSTEM_CD TEXT NOT NULL DEFAULT 'USER',
    UPLOAD_ID TEXT
);

CREATE TABLE IF NOT EXISTS PROVIDER_DIMENSION (
    PROVIDER_ID TEXT PRIMARY KEY,
    PROVIDER_PATH TEXT,
    NAME_CHAR TEXT,
    PROVIDER_BLOB TEXT,
    UPDATE_DATE TEXT,
    IMPORT_DATE TEXT,
    SOURCESYSTEM_CD TEXT NOT NULL DEFAULT 'USER',
    UPLOAD_ID TEXT
);

CREATE TABLE IF NOT EXISTS CODE_LOOKUP (
    TABLE_CD TEXT NOT NULL,
    COLUMN_CD TEXT NOT NULL,
    CODE_CD TEXT NOT NULL,
    NAME_CHAR TEXT,
    LOOKUP_BLOB TEXT,
    UPDATE_DATE TEXT,
    IMPORT_DATE TEXT,
    UPLOAD_ID TEXT,
    PRIMARY KEY (TABLE_CD, COLUMN_CD, CODE_CD)
);

CREATE TABLE IF NOT EXISTS CQL_FACT (
    CQL_ID INTEGER PRIMARY KEY AUTOINCREMENT,
    CODE_CD TEXT UNIQUE NOT NULL,
    NAME_CHAR TEXT,
    CQL_CHAR TEXT,
    CQL_BLOB TEXT,
    UPDATE_DATE TEXT,
    IMPORT_DATE TEXT,
    SOURCESYSTEM_CD TEXT NOT NULL DEFAULT 'USER',
    UPLOAD_ID TEXT
);

CREATE TABLE IF NOT EXISTS CONCEPT_CQL_LOOKUP (
    CONCEPT_CD TEXT NOT NULL,
    CQL_ID INTEGER NOT NULL REFERENCES CQL_FACT(CQL_ID) ON DELETE CASCADE,
    PRIMARY KEY (CONCEPT_CD, CQL_ID)
);

CREATE TABLE IF NOT EXISTS USER_MANAGEMENT (
    USER_ID INTEGER PRIMARY KEY AUTOINCREMENT,
    USER_CD TEXT UNIQUE NOT NULL,
    NAME_CHAR TEXT,
    PASSWORD_CHAR TEXT,
    COLUMN_CD TEXT,
    USER_BLOB TEXT,
    UPDATE_DATE TEXT,
    IMPORT_DATE TEXT,
    SOURCESYSTEM_CD TEXT NOT NULL DEFAULT 'USER',
    UPLOAD_ID TEXT
);
`

const indexSQL = `
CREATE INDEX IF NOT EXISTS idx_patient_source ON PATIENT_DIMENSION(SOURCESYSTEM_CD);
CREATE INDEX IF NOT EXISTS idx_patient_vital ON PATIENT_DIMENSION(VITAL_STATUS_CD);

CREATE INDEX IF NOT EXISTS idx_visit_patient ON VISIT_DIMENSION(PATIENT_NUM);
CREATE INDEX IF NOT EXISTS idx_visit_start ON VISIT_DIMENSION(START_DATE);
CREATE INDEX IF NOT EXISTS idx_visit_location ON VISIT_DIMENSION(LOCATION_CD);
CREATE INDEX IF NOT EXISTS idx_visit_source ON VISIT_DIMENSION(SOURCESYSTEM_CD);

CREATE INDEX IF NOT EXISTS idx_obs_patient ON OBSERVATION_FACT(PATIENT_NUM);
CREATE INDEX IF NOT EXISTS idx_obs_encounter ON OBSERVATION_FACT(ENCOUNTER_NUM);
CREATE INDEX IF NOT EXISTS idx_obs_concept ON OBSERVATION_FACT(CONCEPT_CD);
CREATE INDEX IF NOT EXISTS idx_obs_start ON OBSERVATION_FACT(START_DATE);
CREATE INDEX IF NOT EXISTS idx_obs_source ON OBSERVATION_FACT(SOURCESYSTEM_CD);

CREATE INDEX IF NOT EXISTS idx_note_patient ON NOTE_FACT(PATIENT_NUM);
CREATE INDEX IF NOT EXISTS idx_note_encounter ON NOTE_FACT(ENCOUNTER_NUM);

CREATE INDEX IF NOT EXISTS idx_concept_name ON CONCEPT_DIMENSION(NAME_CHAR);
CREATE INDEX IF NOT EXISTS idx_lookup_code ON CODE_LOOKUP(CODE_CD);
CREATE INDEX IF NOT EXISTS idx_cql_lookup_cql ON CONCEPT_CQL_LOOKUP(CQL_ID);
`

// The FK clauses already cascade when enforcement is on; the triggers keep
// child cleanup working for sessions that run with foreign_keys off (bulk
// maintenance, recovered files).
const cascadeTriggerSQL = `
CREATE TRIGGER IF NOT EXISTS trg_patient_delete_cascade
AFTER DELETE ON PATIENT_DIMENSION
BEGIN
    DELETE FROM VISIT_DIMENSION WHERE PATIENT_NUM = OLD.PATIENT_NUM;
    DELETE FROM OBSERVATION_FACT WHERE PATIENT_NUM = OLD.PATIENT_NUM;
    DELETE FROM NOTE_FACT WHERE PATIENT_NUM = OLD.PATIENT_NUM;
END;

CREATE TRIGGER IF NOT EXISTS trg_visit_delete_cascade
AFTER DELETE ON VISIT_DIMENSION
BEGIN
    DELETE FROM OBSERVATION_FACT WHERE ENCOUNTER_NUM = OLD.ENCOUNTER_NUM;
END;
`

const patientObservationsViewSQL = `
CREATE VIEW IF NOT EXISTS patient_observations AS
SELECT
    o.OBSERVATION_ID,
    o.PATIENT_NUM,
    o.ENCOUNTER_NUM,
    o.CONCEPT_CD,
    c.NAME_CHAR AS CONCEPT_NAME_CHAR,
    o.VALTYPE_CD,
    o.TVAL_CHAR,
    o.NVAL_NUM,
    CASE
        WHEN o.VALTYPE_CD = 'N' THEN CAST(o.NVAL_NUM AS TEXT)
        WHEN o.VALTYPE_CD IN ('S', 'F', 'A') THEN COALESCE(ans.NAME_CHAR, cl.NAME_CHAR, o.TVAL_CHAR)
        ELSE o.TVAL_CHAR
    END AS TVAL_RESOLVED,
    o.UNIT_CD,
    o.CATEGORY_CHAR,
    o.PROVIDER_ID,
    o.LOCATION_CD,
    o.START_DATE,
    o.END_DATE,
    o.INSTANCE_NUM,
    o.OBSERVATION_BLOB,
    o.SOURCESYSTEM_CD,
    o.UPLOAD_ID,
    o.IMPORT_DATE,
    o.UPDATE_DATE
FROM OBSERVATION_FACT o
LEFT JOIN CONCEPT_DIMENSION c ON c.CONCEPT_CD = o.CONCEPT_CD
LEFT JOIN CONCEPT_DIMENSION ans
    ON o.VALTYPE_CD IN ('S', 'F', 'A') AND ans.CONCEPT_CD = o.TVAL_CHAR
LEFT JOIN (
    SELECT CODE_CD, MIN(NAME_CHAR) AS NAME_CHAR FROM CODE_LOOKUP GROUP BY CODE_CD
) cl ON o.VALTYPE_CD IN ('S', 'F', 'A') AND cl.CODE_CD = o.TVAL_CHAR;
`
