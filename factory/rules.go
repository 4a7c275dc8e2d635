/*
Package factory turns prefix rule documents into codes.Resolver values.

PURPOSE:
  The prefix table decides which series a listing joins. Offices add local
  labels ("원룸", "shop") over time, so the table can be loaded from a
  document instead of being compiled in.

DOCUMENT FORMAT (JSON or YAML):
  {
    "fallback": "X",
    "rules": [
      {"prefix": "C",  "field": "building",    "keywords": ["아파트", "apt"]},
      {"prefix": "BO", "field": "transaction", "keywords": ["월세"]}
    ]
  }

  Rules are evaluated in document order; the first matching rule wins.
  Every document is validated against ruleSchema before it is used.

USAGE:
  resolver, err := factory.ParseRules(data)
  registry.Resolver = resolver

SEE ALSO:
  - codes/prefix.go: Resolver and the built-in table
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/warp/listing-codes/codes"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// RulesJSON is the document representation of a resolver.
type RulesJSON struct {
	Fallback string     `json:"fallback,omitempty"`
	Rules    []RuleJSON `json:"rules"`
}

// RuleJSON is one keyword rule.
type RuleJSON struct {
	Prefix   string   `json:"prefix"`
	Field    string   `json:"field"`
	Keywords []string `json:"keywords"`
}

const ruleSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["rules"],
  "additionalProperties": false,
  "properties": {
    "fallback": {"type": "string", "pattern": "^[A-Z]{1,2}$"},
    "rules": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["prefix", "field", "keywords"],
        "additionalProperties": false,
        "properties": {
          "prefix":   {"type": "string", "pattern": "^[A-Z]{1,2}$"},
          "field":    {"enum": ["building", "transaction"]},
          "keywords": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

var compiledSchema = mustCompile(ruleSchema)

func mustCompile(src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.json", bytes.NewReader([]byte(src))); err != nil {
		panic(fmt.Sprintf("add rule schema: %v", err))
	}
	schema, err := compiler.Compile("rules.json")
	if err != nil {
		panic(fmt.Sprintf("compile rule schema: %v", err))
	}
	return schema
}

// =============================================================================
// PARSING
// =============================================================================

// ParseRules validates a JSON or YAML rule document and builds a resolver.
func ParseRules(data []byte) (*codes.Resolver, error) {
	raw, err := toJSON(data)
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("rules do not match schema: %w", err)
	}

	var doc RulesJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return FromJSON(doc)
}

// LoadRules reads a rule document from disk.
func LoadRules(path string) (*codes.Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	resolver, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return resolver, nil
}

// FromJSON converts a decoded document to a resolver.
func FromJSON(doc RulesJSON) (*codes.Resolver, error) {
	fallback := codes.PrefixUnclassified
	if doc.Fallback != "" {
		fallback = codes.Prefix(doc.Fallback)
	}
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}

	rules := make([]codes.Rule, 0, len(doc.Rules))
	for i, rj := range doc.Rules {
		prefix := codes.Prefix(rj.Prefix)
		if err := prefix.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		field, err := parseField(rj.Field)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, codes.Rule{Prefix: prefix, Field: field, Keywords: rj.Keywords})
	}
	return codes.NewResolver(rules, fallback), nil
}

// ToJSON renders a resolver back into document form.
func ToJSON(r *codes.Resolver) RulesJSON {
	doc := RulesJSON{Fallback: string(r.Fallback())}
	for _, rule := range r.Rules() {
		doc.Rules = append(doc.Rules, RuleJSON{
			Prefix:   string(rule.Prefix),
			Field:    string(rule.Field),
			Keywords: rule.Keywords,
		})
	}
	return doc
}

// DefaultRulesJSON renders the built-in table as an indented document.
func DefaultRulesJSON() string {
	b, err := json.MarshalIndent(ToJSON(codes.DefaultResolver()), "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}

// =============================================================================
// HELPERS
// =============================================================================

func parseField(s string) (codes.Field, error) {
	switch codes.Field(s) {
	case codes.FieldBuilding, codes.FieldTransaction:
		return codes.Field(s), nil
	default:
		return "", fmt.Errorf("unknown field %q", s)
	}
}

// toJSON passes JSON through and converts anything else from YAML.
func toJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty rules document")
	}
	if json.Valid(trimmed) {
		return trimmed, nil
	}

	var v any
	if err := yaml.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert rules yaml: %w", err)
	}
	return out, nil
}
