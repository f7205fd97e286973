package importer

import (
	"encoding/json"

	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/internal/platform/cda"
)

// parseJSON decodes the canonical bundle structure emitted by the JSON
// exporter.
func parseJSON(content []byte) Result {
	var st bundle.Structure
	if err := json.Unmarshal(content, &st); err != nil {
		return failure(FormatJSON, jsonError(content, err))
	}
	if st.Metadata.Format == "" {
		st.Metadata.Format = string(FormatJSON)
	}
	st.Recount()
	return success(FormatJSON, &st)
}

// parseCDA decodes an HL7-CDA document. A present signature must verify;
// tampered content does not import.
func parseCDA(content []byte) Result {
	var doc cda.Bundle
	if err := json.Unmarshal(content, &doc); err != nil {
		return failure(FormatCDA, jsonError(content, err))
	}
	if doc.Signature != nil {
		if err := cda.Verify(&doc); err != nil {
			return failure(FormatCDA, ParseError{Code: CodeSignatureInvalid, Message: err.Error()})
		}
	}
	st, err := cda.FromBundle(&doc)
	if err != nil {
		return failure(FormatCDA, ParseError{Code: CodeNotABundle, Message: err.Error()})
	}
	return success(FormatCDA, st)
}
