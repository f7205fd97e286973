package concept

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/best/best/internal/domain/codelookup"
	"github.com/best/best/internal/platform/db"
)

// Resolution is the display metadata resolved for one code.
type Resolution struct {
	Code      string `json:"code"`
	Label     string `json:"label"`
	Color     string `json:"color,omitempty"`
	Icon      string `json:"icon,omitempty"`
	ValueType string `json:"valueType,omitempty"`
	Unit      string `json:"unit,omitempty"`
	Resolved  bool   `json:"resolved"`
	// Source names the tier that produced the resolution: concept, lookup,
	// or fallback.
	Source string `json:"source"`
}

// Resolution sources.
const (
	SourceConcept  = "concept"
	SourceLookup   = "lookup"
	SourceFallback = "fallback"
)

// Options scope a resolution. Table and Column address the code lookup
// catalogue; Context selects the display heuristics (gender, visit_status,
// vital_status, severity).
type Options struct {
	Table   string
	Column  string
	Context string
}

// Resolver resolves codes to display metadata through three tiers: the
// concept dimension, the code lookup catalogue, then a deterministic
// fallback. Results are cached; callers that mutate CONCEPT_DIMENSION or
// CODE_LOOKUP must call Invalidate afterwards.
type Resolver struct {
	concepts  Repository
	lookups   codelookup.Repository
	normalize bool

	mu    sync.RWMutex
	cache map[string]Resolution
}

// NewResolver builds a resolver over the two catalogues. normalize enables
// coding-system prefix aliasing during the concept tier.
func NewResolver(concepts Repository, lookups codelookup.Repository, normalize bool) *Resolver {
	return &Resolver{
		concepts:  concepts,
		lookups:   lookups,
		normalize: normalize,
		cache:     make(map[string]Resolution),
	}
}

// Invalidate drops every cached resolution.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]Resolution)
	r.mu.Unlock()
}

// CacheSize reports the number of cached resolutions.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func cacheKey(code string, opts Options) string {
	return code + "\x00" + opts.Table + "\x00" + opts.Column + "\x00" + opts.Context
}

// Resolve resolves a single code.
func (r *Resolver) Resolve(ctx context.Context, code string, opts Options) (Resolution, error) {
	out, err := r.ResolveBatch(ctx, []string{code}, opts)
	if err != nil {
		return Resolution{}, err
	}
	return out[code], nil
}

// ResolveBatch resolves a batch of codes against the same options. The
// concept and lookup tiers each cost at most one query regardless of batch
// size; cached codes cost nothing.
func (r *Resolver) ResolveBatch(ctx context.Context, batch []string, opts Options) (map[string]Resolution, error) {
	out := make(map[string]Resolution, len(batch))

	var misses []string
	r.mu.RLock()
	for _, code := range batch {
		if code == "" {
			continue
		}
		if res, ok := r.cache[cacheKey(code, opts)]; ok {
			out[code] = res
		} else {
			misses = append(misses, code)
		}
	}
	r.mu.RUnlock()
	if len(misses) == 0 {
		return out, nil
	}

	resolved, err := r.resolveMisses(ctx, misses, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for code, res := range resolved {
		r.cache[cacheKey(code, opts)] = res
		out[code] = res
	}
	r.mu.Unlock()
	return out, nil
}

func (r *Resolver) resolveMisses(ctx context.Context, misses []string, opts Options) (map[string]Resolution, error) {
	out := make(map[string]Resolution, len(misses))

	// Concept tier. One IN query over every spelling a stored code may use.
	var variants []string
	seen := map[string]bool{}
	for _, code := range misses {
		for _, v := range r.codeVariants(code) {
			if !seen[v] {
				seen[v] = true
				variants = append(variants, v)
			}
		}
	}
	found, err := r.concepts.FindByCodes(ctx, variants)
	if err != nil {
		return nil, fmt.Errorf("resolve concepts: %w", err)
	}

	var unresolved []string
	for _, code := range misses {
		var hit *Concept
		for _, v := range r.codeVariants(code) {
			if c, ok := found[v]; ok {
				hit = c
				break
			}
		}
		if hit == nil {
			unresolved = append(unresolved, code)
			continue
		}
		out[code] = r.fromConcept(code, hit, opts)
	}
	if len(unresolved) == 0 {
		return out, nil
	}

	// Lookup tier. A scoped column reads its whole value set; otherwise one
	// IN query across the catalogue.
	lookups, err := r.lookupTier(ctx, unresolved, opts)
	if err != nil {
		return nil, err
	}
	for _, code := range unresolved {
		if l, ok := lookups[code]; ok {
			out[code] = r.fromLookup(code, l, opts)
		} else {
			out[code] = r.fallback(code, opts)
		}
	}
	return out, nil
}

func (r *Resolver) codeVariants(code string) []string {
	if !r.normalize {
		return []string{strings.TrimSpace(code)}
	}
	return Variants(code)
}

func (r *Resolver) lookupTier(ctx context.Context, unresolved []string, opts Options) (map[string]*codelookup.CodeLookup, error) {
	if opts.Table != "" && opts.Column != "" {
		set, err := r.lookups.FindByColumn(ctx, opts.Table, opts.Column)
		if err != nil {
			return nil, fmt.Errorf("resolve lookups for %s.%s: %w", opts.Table, opts.Column, err)
		}
		byCode := make(map[string]*codelookup.CodeLookup, len(set))
		for _, l := range set {
			byCode[l.Code] = l
		}
		return byCode, nil
	}
	byCode, err := r.lookups.FindByCodes(ctx, unresolved)
	if err != nil {
		return nil, fmt.Errorf("resolve lookups: %w", err)
	}
	return byCode, nil
}

func (r *Resolver) fromConcept(code string, c *Concept, opts Options) Resolution {
	res := Resolution{
		Code:      code,
		Label:     c.Name,
		ValueType: c.ValueType,
		Resolved:  true,
		Source:    SourceConcept,
	}
	if res.Label == "" {
		res.Label = code
	}
	if c.Unit != nil {
		res.Unit = *c.Unit
	}
	if blob, err := ParseBlob(c.Blob); err == nil {
		res.Color = blob.Color
		res.Icon = blob.Icon
	}
	r.fillHints(&res, opts)
	return res
}

func (r *Resolver) fromLookup(code string, l *codelookup.CodeLookup, opts Options) Resolution {
	res := Resolution{
		Code:     code,
		Label:    l.Name,
		Resolved: true,
		Source:   SourceLookup,
	}
	if res.Label == "" {
		res.Label = code
	}
	if blob, err := codelookup.ParseBlob(l.Blob); err == nil {
		res.Color = blob.Color
		res.Icon = blob.Icon
		if blob.Label != "" {
			res.Label = blob.Label
		}
	}
	r.fillHints(&res, opts)
	return res
}

func (r *Resolver) fallback(code string, opts Options) Resolution {
	res := Resolution{
		Code:     code,
		Label:    FallbackLabel(code, opts.Context),
		Resolved: false,
		Source:   SourceFallback,
	}
	r.fillHints(&res, opts)
	return res
}

// fillHints completes missing colour and icon from the context heuristics,
// keyed on the label so synonyms map consistently.
func (r *Resolver) fillHints(res *Resolution, opts Options) {
	if opts.Context == "" || (res.Color != "" && res.Icon != "") {
		return
	}
	color, icon := DisplayHints(opts.Context, res.Label)
	if res.Color == "" {
		res.Color = color
	}
	if res.Icon == "" {
		res.Icon = icon
	}
}

// SearchConcepts delegates a ranked search to the concept catalogue.
func (r *Resolver) SearchConcepts(ctx context.Context, term string, opts SearchOptions) ([]*Concept, error) {
	return r.concepts.Search(ctx, term, opts)
}

// CodeFromLabel reverses a resolution: given a display name, return the
// stored concept code. Used by tabular imports whose header rows carry only
// human labels.
func (r *Resolver) CodeFromLabel(ctx context.Context, label string) (string, error) {
	c, err := r.concepts.FindByName(ctx, strings.TrimSpace(label))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("reverse lookup %q: %w", label, err)
	}
	return c.ConceptCode, nil
}
