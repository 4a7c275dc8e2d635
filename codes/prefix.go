/*
prefix.go - Prefix resolution from transaction and building labels

PURPOSE:
  Maps the two labels an agent picks on the listing form (transaction type
  and building type) to a code prefix. Labels come from a small Korean
  vocabulary but arrive as free text, so matching is keyword containment
  on normalised strings.

RULES (first match wins):
  1. building ~ apartment                     -> C
  2. building ~ redevelopment/reconstruction  -> J
  3. building ~ commercial/office             -> R
  4. transaction ~ monthly rent (월세)         -> BO
  5. transaction ~ deposit lease (전세)        -> BL
  6. transaction ~ sale (매매)                 -> BM
  7. otherwise                                -> X

  Building rules come first: an apartment on monthly rent is "C".

NORMALISATION:
  NFC (Hangul typed on macOS often arrives decomposed), full-width to
  half-width, case fold, trim.
*/
package codes

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Field selects which label a rule looks at.
type Field string

const (
	FieldBuilding    Field = "building"
	FieldTransaction Field = "transaction"
)

// Rule maps a keyword hit on one field to a prefix.
type Rule struct {
	Prefix   Prefix
	Field    Field
	Keywords []string
}

// Resolver applies rules in order.
type Resolver struct {
	rules    []Rule
	fallback Prefix
}

// NewResolver builds a resolver. Keywords are normalised once here.
func NewResolver(rules []Rule, fallback Prefix) *Resolver {
	r := &Resolver{fallback: fallback, rules: make([]Rule, len(rules))}
	for i, rule := range rules {
		kws := make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			if n := NormalizeLabel(kw); n != "" {
				kws = append(kws, n)
			}
		}
		r.rules[i] = Rule{Prefix: rule.Prefix, Field: rule.Field, Keywords: kws}
	}
	return r
}

// DefaultRules is the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: PrefixApartment, Field: FieldBuilding, Keywords: []string{"아파트", "apartment", "apt"}},
		{Prefix: PrefixRedevelopment, Field: FieldBuilding, Keywords: []string{"재개발", "재건축", "redevelopment", "reconstruction"}},
		{Prefix: PrefixCommercial, Field: FieldBuilding, Keywords: []string{"상가", "사무실", "오피스", "commercial", "office", "retail", "store"}},
		{Prefix: PrefixMonthlyRent, Field: FieldTransaction, Keywords: []string{"월세", "monthly", "rent"}},
		{Prefix: PrefixJeonse, Field: FieldTransaction, Keywords: []string{"전세", "jeonse", "lease", "deposit"}},
		{Prefix: PrefixSale, Field: FieldTransaction, Keywords: []string{"매매", "sale", "sell"}},
	}
}

var defaultResolver = NewResolver(DefaultRules(), PrefixUnclassified)

// DefaultResolver returns the resolver for the built-in table.
func DefaultResolver() *Resolver { return defaultResolver }

// ResolvePrefix resolves with the built-in table.
func ResolvePrefix(transaction, building string) Prefix {
	return defaultResolver.Resolve(transaction, building)
}

// Resolve returns the prefix for the given labels. Never fails; unmatched
// input yields the fallback prefix.
func (r *Resolver) Resolve(transaction, building string) Prefix {
	labels := map[Field]string{
		FieldTransaction: NormalizeLabel(transaction),
		FieldBuilding:    NormalizeLabel(building),
	}
	for _, rule := range r.rules {
		label := labels[rule.Field]
		if label == "" {
			continue
		}
		for _, kw := range rule.Keywords {
			if strings.Contains(label, kw) {
				return rule.Prefix
			}
		}
	}
	return r.fallback
}

// Rules returns a copy of the normalised rule table.
func (r *Resolver) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	for i, rule := range r.rules {
		out[i] = Rule{Prefix: rule.Prefix, Field: rule.Field, Keywords: append([]string(nil), rule.Keywords...)}
	}
	return out
}

// Fallback returns the prefix used when no rule matches.
func (r *Resolver) Fallback() Prefix { return r.fallback }

// Prefixes lists every prefix the resolver can produce, fallback last.
func (r *Resolver) Prefixes() []Prefix {
	seen := make(map[Prefix]bool)
	var out []Prefix
	for _, rule := range r.rules {
		if !seen[rule.Prefix] {
			seen[rule.Prefix] = true
			out = append(out, rule.Prefix)
		}
	}
	if !seen[r.fallback] {
		out = append(out, r.fallback)
	}
	return out
}

// NormalizeLabel folds a free-text label for keyword matching.
func NormalizeLabel(s string) string {
	s = norm.NFC.String(s)
	s = width.Fold.String(s)
	s = cases.Fold().String(s)
	return strings.TrimSpace(s)
}
