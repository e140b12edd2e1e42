package schema

import (
	"encoding/json"
	"fmt"
)

// Rule is one declarative normalization step: a shape predicate plus the
// transform applied when it matches. Backends declare an ordered ruleset
// instead of branching on tool names.
type Rule struct {
	Name  string
	Match func(doc map[string]any) bool
	Apply func(doc map[string]any)
}

// Normalize unmarshals a JSON-Schema-like parameters document, runs the
// ruleset over it in order, and returns the adjusted document. An empty input
// normalizes to an empty object schema.
func Normalize(parameters json.RawMessage, rules []Rule) (map[string]any, error) {
	doc := map[string]any{}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &doc); err != nil {
			return nil, fmt.Errorf("parse tool parameters: %w", err)
		}
	}
	for _, r := range rules {
		if r.Match == nil || r.Match(doc) {
			r.Apply(doc)
		}
	}
	return doc, nil
}

// CommonRules are normalizations every supported backend needs: tool
// parameter documents must be object schemas with a well-formed required
// list, and draft metadata keys are not accepted upstream.
func CommonRules() []Rule {
	return []Rule{
		{
			Name:  "force-object-type",
			Match: func(doc map[string]any) bool { _, ok := doc["type"].(string); return !ok },
			Apply: func(doc map[string]any) { doc["type"] = "object" },
		},
		{
			Name: "required-must-be-array",
			Match: func(doc map[string]any) bool {
				if _, present := doc["required"]; !present {
					return false
				}
				_, ok := doc["required"].([]any)
				return !ok
			},
			Apply: func(doc map[string]any) {
				if s, ok := doc["required"].(string); ok {
					doc["required"] = []any{s}
					return
				}
				delete(doc, "required")
			},
		},
		{
			Name:  "strip-draft-metadata",
			Match: func(doc map[string]any) bool { _, ok := doc["$schema"]; return ok },
			Apply: func(doc map[string]any) { delete(doc, "$schema") },
		},
		{
			Name: "empty-properties-object",
			Match: func(doc map[string]any) bool {
				_, ok := doc["properties"]
				return !ok && doc["type"] == "object"
			},
			Apply: func(doc map[string]any) { doc["properties"] = map[string]any{} },
		},
	}
}

// disallowedFormats lists string formats some backends reject outright.
var disallowedFormats = map[string]bool{
	"uri":      true,
	"uuid":     true,
	"hostname": true,
}

// StrictFormatRules extends CommonRules for backends that validate the
// "format" keyword strictly, stripping values they reject from every
// property.
func StrictFormatRules() []Rule {
	return append(CommonRules(), Rule{
		Name: "strip-disallowed-formats",
		Apply: func(doc map[string]any) {
			stripFormats(doc)
		},
	})
}

func stripFormats(doc map[string]any) {
	if f, ok := doc["format"].(string); ok && disallowedFormats[f] {
		delete(doc, "format")
	}
	props, _ := doc["properties"].(map[string]any)
	for _, v := range props {
		if sub, ok := v.(map[string]any); ok {
			stripFormats(sub)
		}
	}
	if items, ok := doc["items"].(map[string]any); ok {
		stripFormats(items)
	}
}
