// Package importer turns input files into the canonical bundle structure.
// It detects the format from filename and content, then parses CSV
// bundles, plain JSON exports, HL7-CDA documents, and HTML pages that
// embed a document or a filled questionnaire. Problems come back as
// coded parse errors, never panics.
package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/internal/platform/cda"
)

// Format is a recognised input file shape.
type Format string

// Recognised formats.
const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatCDA     Format = cda.FormatName
	FormatHTML    Format = "html"
	FormatUnknown Format = ""
)

// Parse error codes.
const (
	CodeEmptyFile          = "EMPTY_FILE"
	CodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	CodeMalformedCSV       = "MALFORMED_CSV"
	CodeMissingHeader      = "MISSING_HEADER"
	CodeMalformedJSON      = "MALFORMED_JSON"
	CodeNotABundle         = "NOT_A_BUNDLE"
	CodeNoEmbeddedDocument = "NO_EMBEDDED_DOCUMENT"
	CodeSignatureInvalid   = "SIGNATURE_INVALID"
	CodeMissingPatientID   = "MISSING_PATIENT_ID"
	CodeInvalidRow         = "INVALID_ROW"
)

// ParseError is one problem found while parsing an input file. Line and
// Column are 1-based and set when the source position is known.
type ParseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

func (e ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Code, e.Message, e.Line)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the outcome of parsing one file. Data is set whenever the
// file's structure could be read, even if some rows were rejected;
// Success is true only when nothing was rejected.
type Result struct {
	Success    bool              `json:"success"`
	Format     Format            `json:"format"`
	Data       *bundle.Structure `json:"data,omitempty"`
	Statistics bundle.Statistics `json:"statistics"`
	Errors     []ParseError      `json:"errors,omitempty"`
}

// FirstError returns the first parse error, or nil.
func (r Result) FirstError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// ImportFile detects the format of content and parses it into the
// canonical bundle structure.
func ImportFile(content []byte, filename string) Result {
	if len(bytes.TrimSpace(content)) == 0 {
		return failure(FormatUnknown, ParseError{Code: CodeEmptyFile, Message: "file is empty"})
	}
	switch format := DetectFormat(content, filename); format {
	case FormatCSV:
		return parseCSV(content)
	case FormatJSON:
		return parseJSON(content)
	case FormatCDA:
		return parseCDA(content)
	case FormatHTML:
		return parseHTML(content)
	default:
		return failure(format, ParseError{
			Code:    CodeUnsupportedFormat,
			Message: fmt.Sprintf("cannot determine the format of %q", filename),
		})
	}
}

// DetectFormat picks the parser for a file. The extension decides when
// it is recognised; otherwise the content is sniffed. A .json file whose
// top-level object is a FHIR Bundle counts as HL7-CDA, not as a plain
// JSON export.
func DetectFormat(content []byte, filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return sniffJSON(content)
	case ".html", ".htm":
		return FormatHTML
	}
	return sniffContent(content)
}

func sniffJSON(content []byte) Format {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(content, &head); err == nil && head.ResourceType == cda.ResourceBundle {
		return FormatCDA
	}
	return FormatJSON
}

func sniffContent(content []byte) Format {
	trimmed := bytes.TrimSpace(content)
	switch {
	case len(trimmed) == 0:
		return FormatUnknown
	case trimmed[0] == '{':
		return sniffJSON(trimmed)
	case trimmed[0] == '<':
		return FormatHTML
	}
	line, _, _ := bytes.Cut(trimmed, []byte("\n"))
	if bytes.Contains(line, []byte(",")) {
		return FormatCSV
	}
	return FormatUnknown
}

func success(format Format, st *bundle.Structure) Result {
	return Result{Success: true, Format: format, Data: st, Statistics: st.Statistics}
}

func failure(format Format, errs ...ParseError) Result {
	return Result{Format: format, Errors: errs}
}

// lineOf converts a byte offset from a JSON decode error into a 1-based
// line number.
func lineOf(content []byte, offset int64) int {
	if offset <= 0 || offset > int64(len(content)) {
		return 0
	}
	return bytes.Count(content[:offset], []byte("\n")) + 1
}

func jsonError(content []byte, err error) ParseError {
	perr := ParseError{Code: CodeMalformedJSON, Message: err.Error()}
	switch t := err.(type) {
	case *json.SyntaxError:
		perr.Line = lineOf(content, t.Offset)
	case *json.UnmarshalTypeError:
		perr.Line = lineOf(content, t.Offset)
	}
	return perr
}
