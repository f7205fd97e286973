package note

import (
	"context"
	"fmt"
)

// Service wraps the repository with the write-side invariants.
type Service struct {
	repo Repository
}

// NewService returns a note service over the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateNote validates and stores a new note.
func (s *Service) CreateNote(ctx context.Context, n *Note) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("create note: %w", err)
	}
	return s.repo.Create(ctx, n)
}

// GetNote fetches a note by surrogate id.
func (s *Service) GetNote(ctx context.Context, noteID int64) (*Note, error) {
	return s.repo.FindByID(ctx, noteID)
}

// UpdateNote re-validates and writes the full row back.
func (s *Service) UpdateNote(ctx context.Context, n *Note) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("update note %d: %w", n.NoteID, err)
	}
	return s.repo.Update(ctx, n)
}

// DeleteNote removes a note.
func (s *Service) DeleteNote(ctx context.Context, noteID int64) error {
	return s.repo.Delete(ctx, noteID)
}

// PatientNotes returns the patient's notes in insertion order.
func (s *Service) PatientNotes(ctx context.Context, patientNum int64) ([]*Note, error) {
	return s.repo.FindByPatientNum(ctx, patientNum)
}

// SearchNotes matches the term against titles and bodies.
func (s *Service) SearchNotes(ctx context.Context, term string) ([]*Note, error) {
	return s.repo.Search(ctx, term)
}

// ExportPatientNotes renders a patient's notes in the requested format:
// json, csv, or text.
func (s *Service) ExportPatientNotes(ctx context.Context, patientNum int64, format string) ([]byte, error) {
	notes, err := s.repo.FindByPatientNum(ctx, patientNum)
	if err != nil {
		return nil, err
	}
	return Format(notes, format)
}
