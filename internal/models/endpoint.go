package models

import (
	"encoding/json"
	"strings"
)

// EndpointDescriptor is one REST endpoint as reported by the analyzer or
// recovered from an LLM-generated document.
type EndpointDescriptor struct {
	Path        string                      `json:"path,omitempty"`
	Methods     []string                    `json:"methods,omitempty"`
	View        string                      `json:"view,omitempty"`
	Summary     string                      `json:"summary,omitempty"`
	Description string                      `json:"description,omitempty"`
	Parameters  []map[string]Value          `json:"parameters,omitempty"`
	RequestBody map[string]Value            `json:"requestBody,omitempty"`
	Responses   map[string]map[string]Value `json:"responses,omitempty"`
}

// Emittable reports whether the descriptor carries both a path and at
// least one method.
func (d EndpointDescriptor) Emittable() bool {
	return d.Path != "" && len(d.Methods) > 0
}

// HasMethod reports whether method (any case) is among d.Methods.
func (d EndpointDescriptor) HasMethod(method string) bool {
	method = strings.ToUpper(method)
	for _, m := range d.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// UnmarshalJSON decodes leniently: fields of the wrong shape are treated
// as absent rather than failing the whole array.
func (d *EndpointDescriptor) UnmarshalJSON(data []byte) error {
	var raw map[string]Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = EndpointDescriptor{}
	d.Path, _ = raw["path"].Str()
	d.View, _ = raw["view"].Str()
	d.Summary, _ = raw["summary"].Str()
	d.Description, _ = raw["description"].Str()
	d.Methods = decodeMethods(raw["methods"])

	if params := raw["parameters"]; params.Kind() == KindArray {
		for _, p := range params.Items() {
			if p.Kind() == KindObject {
				d.Parameters = append(d.Parameters, p.Fields())
			}
		}
	}

	// snake_case is accepted for analyzers that mirror Python field names.
	body, ok := raw["requestBody"]
	if !ok {
		body = raw["request_body"]
	}
	if body.Kind() == KindObject {
		d.RequestBody = body.Fields()
	}

	if responses := raw["responses"]; responses.Kind() == KindObject {
		for code, r := range responses.Fields() {
			if r.Kind() != KindObject {
				continue
			}
			if d.Responses == nil {
				d.Responses = make(map[string]map[string]Value)
			}
			d.Responses[code] = r.Fields()
		}
	}
	return nil
}

func decodeMethods(v Value) []string {
	var candidates []Value
	switch v.Kind() {
	case KindArray:
		candidates = v.Items()
	case KindString:
		candidates = []Value{v}
	default:
		return nil
	}

	seen := make(map[string]bool, len(candidates))
	var methods []string
	for _, c := range candidates {
		s, ok := c.Str()
		if !ok {
			continue
		}
		m := strings.ToUpper(strings.TrimSpace(s))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		methods = append(methods, m)
	}
	return methods
}
