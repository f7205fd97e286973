package exporter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/internal/platform/cda"
)

// ToJSON serialises the canonical structure verbatim, indented, with a
// trailing newline.
func ToJSON(st *bundle.Structure) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("nil bundle structure")
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return append(out, '\n'), nil
}

// ToCDA renders the structure as an HL7-CDA document. A non-empty private
// key (PEM, RSA) attaches a detached signature over the document body.
func (s *Service) ToCDA(ctx context.Context, st *bundle.Structure, privateKeyPEM []byte) ([]byte, error) {
	doc, err := cda.NewGenerator(s.resolver).Generate(ctx, st)
	if err != nil {
		return nil, err
	}
	if len(privateKeyPEM) > 0 {
		if err := cda.Sign(doc, privateKeyPEM); err != nil {
			return nil, err
		}
		s.log.Info().Msg("document signed")
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return append(out, '\n'), nil
}
