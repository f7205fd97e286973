package cqlrule

import (
	"context"
	"fmt"

	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/platform/validate"
)

// Service wraps the rule catalogue with body encoding and the evaluator
// bridge used by the validator.
type Service struct {
	repo Repository
	eval *Evaluator
}

// NewService returns a rule service. evaluator may be nil for a catalogue
// that only stores rules.
func NewService(repo Repository, evaluator *Evaluator) *Service {
	if evaluator == nil {
		evaluator = &Evaluator{}
	}
	return &Service{repo: repo, eval: evaluator}
}

// CreateRule validates and stores a new rule.
func (s *Service) CreateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return s.repo.Create(ctx, r)
}

// GetRule fetches a rule by surrogate id.
func (s *Service) GetRule(ctx context.Context, cqlID int64) (*Rule, error) {
	return s.repo.FindByID(ctx, cqlID)
}

// GetRuleByCode fetches a rule by its unique code.
func (s *Service) GetRuleByCode(ctx context.Context, code string) (*Rule, error) {
	return s.repo.FindByCode(ctx, code)
}

// UpdateRule re-validates and writes the full row back.
func (s *Service) UpdateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("update rule %d: %w", r.CqlID, err)
	}
	return s.repo.Update(ctx, r)
}

// DeleteRule removes a rule; its concept links cascade.
func (s *Service) DeleteRule(ctx context.Context, cqlID int64) error {
	return s.repo.Delete(ctx, cqlID)
}

// ListRules returns the whole catalogue.
func (s *Service) ListRules(ctx context.Context) ([]*Rule, error) {
	return s.repo.FindAll(ctx)
}

// LinkConcept attaches a rule to a concept code. Linking twice is a no-op.
func (s *Service) LinkConcept(ctx context.Context, conceptCode string, cqlID int64) error {
	return s.repo.Link(ctx, conceptCode, cqlID)
}

// UnlinkConcept detaches a rule from a concept code.
func (s *Service) UnlinkConcept(ctx context.Context, conceptCode string, cqlID int64) error {
	return s.repo.Unlink(ctx, conceptCode, cqlID)
}

// RulesForConceptCode returns the rules linked to the concept. Coding system
// spellings are tried in normalised order until one matches.
func (s *Service) RulesForConceptCode(ctx context.Context, conceptCode string) ([]*Rule, error) {
	for _, variant := range concept.Variants(conceptCode) {
		rules, err := s.repo.FindByConceptCode(ctx, variant)
		if err != nil {
			return nil, err
		}
		if len(rules) > 0 {
			return rules, nil
		}
	}
	return nil, nil
}

// Evaluate checks a value against one rule.
func (s *Service) Evaluate(rule *Rule, value any) (bool, string, error) {
	return s.eval.Evaluate(rule, value)
}

// RulesForConcept implements validate.RuleSource: linked rules are returned
// with the built-in evaluator bound.
func (s *Service) RulesForConcept(ctx context.Context, conceptCode string) ([]validate.ConceptRule, error) {
	rules, err := s.RulesForConceptCode(ctx, conceptCode)
	if err != nil {
		return nil, err
	}
	out := make([]validate.ConceptRule, 0, len(rules))
	for _, rule := range rules {
		rule := rule
		out = append(out, validate.ConceptRule{
			ID:   rule.CqlID,
			Code: rule.Code,
			Name: rule.DisplayName(),
			Evaluate: func(value any) (bool, string, error) {
				return s.eval.Evaluate(rule, value)
			},
		})
	}
	return out, nil
}
