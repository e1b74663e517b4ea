package search

import (
	"fmt"
	"slices"
	"strings"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Op is a predicate operator.
type Op string

const (
	// OpEq holds when the field's values contain the single predicate value.
	OpEq Op = "eq"
	// OpIn holds when the field's values intersect the predicate values.
	OpIn Op = "in"
)

// Predicate constrains one metadata field.
type Predicate struct {
	Field  string   `json:"field"`
	Op     Op       `json:"op"`
	Values []string `json:"values"`
}

// Matches evaluates the predicate against chunk metadata. A field the chunk
// does not carry never matches.
func (p Predicate) Matches(md store.Metadata) bool {
	have, ok := md.Values(p.Field)
	if !ok || len(p.Values) == 0 {
		return false
	}
	switch p.Op {
	case OpEq:
		return slices.Contains(have, p.Values[0])
	case OpIn:
		for _, want := range p.Values {
			if slices.Contains(have, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Validate rejects predicates that cannot be evaluated.
func (p Predicate) Validate() error {
	if strings.TrimSpace(p.Field) == "" {
		return amanerrors.New(amanerrors.ErrCodeInvalidFilter, "filter field is empty", nil)
	}
	switch p.Op {
	case OpEq:
		if len(p.Values) != 1 {
			return amanerrors.New(amanerrors.ErrCodeInvalidFilter,
				fmt.Sprintf("filter %q: eq takes exactly one value", p.Field), nil)
		}
	case OpIn:
		if len(p.Values) == 0 {
			return amanerrors.New(amanerrors.ErrCodeInvalidFilter,
				fmt.Sprintf("filter %q: in needs at least one value", p.Field), nil)
		}
	default:
		return amanerrors.New(amanerrors.ErrCodeInvalidFilter,
			fmt.Sprintf("filter %q: unknown op %q", p.Field, p.Op), nil)
	}
	return nil
}

func (p Predicate) String() string {
	if p.Op == OpIn {
		return p.Field + "~" + strings.Join(p.Values, ",")
	}
	return p.Field + "=" + strings.Join(p.Values, ",")
}

// FilterSpec is a conjunction of predicates. A nil or empty spec accepts
// every chunk.
type FilterSpec struct {
	Predicates []Predicate `json:"predicates"`
}

// IsEmpty reports whether the spec has no predicates.
func (f *FilterSpec) IsEmpty() bool {
	return f == nil || len(f.Predicates) == 0
}

// Matches reports whether md satisfies every predicate.
func (f *FilterSpec) Matches(md store.Metadata) bool {
	if f == nil {
		return true
	}
	for _, p := range f.Predicates {
		if !p.Matches(md) {
			return false
		}
	}
	return true
}

// Validate checks each predicate.
func (f *FilterSpec) Validate() error {
	if f == nil {
		return nil
	}
	for _, p := range f.Predicates {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// splitIdentifiers separates equality predicates on identifier fields from
// the rest. Callers validate the spec first.
func (f *FilterSpec) splitIdentifiers(fields map[string]struct{}) (ident []Predicate, rest *FilterSpec) {
	rest = &FilterSpec{}
	if f == nil {
		return nil, rest
	}
	for _, p := range f.Predicates {
		if _, ok := fields[p.Field]; ok && p.Op == OpEq && len(p.Values) == 1 {
			ident = append(ident, p)
			continue
		}
		rest.Predicates = append(rest.Predicates, p)
	}
	return ident, rest
}

// ParseFilter parses "field=value" (equality) or "field~v1,v2" (any-of).
func ParseFilter(expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	idx := strings.IndexAny(expr, "=~")
	if idx <= 0 {
		return Predicate{}, amanerrors.New(amanerrors.ErrCodeInvalidFilter,
			fmt.Sprintf("invalid filter %q: expected field=value or field~v1,v2", expr), nil)
	}

	field := strings.TrimSpace(expr[:idx])
	raw := strings.TrimSpace(expr[idx+1:])
	p := Predicate{Field: field, Op: OpEq, Values: []string{raw}}
	if expr[idx] == '~' {
		p.Op = OpIn
		p.Values = nil
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				p.Values = append(p.Values, v)
			}
		}
	}
	if p.Op == OpEq && raw == "" {
		p.Values = nil
	}
	if err := p.Validate(); err != nil {
		return Predicate{}, err
	}
	return p, nil
}

// ParseFilters parses each expression into one spec. No expressions yields nil.
func ParseFilters(exprs []string) (*FilterSpec, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	spec := &FilterSpec{Predicates: make([]Predicate, 0, len(exprs))}
	for _, e := range exprs {
		p, err := ParseFilter(e)
		if err != nil {
			return nil, err
		}
		spec.Predicates = append(spec.Predicates, p)
	}
	return spec, nil
}
