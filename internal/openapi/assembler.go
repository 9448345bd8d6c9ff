// Package openapi assembles endpoint descriptors into an OpenAPI 3.0
// document.
package openapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/models"
)

const (
	Version        = "3.0.0"
	DefaultTitle   = "Auto-generated API"
	DefaultVersion = "1.0.0"
)

// Document is the subset of OpenAPI 3.0 the assembler emits.
type Document struct {
	OpenAPI string              `json:"openapi"`
	Info    Info                `json:"info"`
	Paths   map[string]PathItem `json:"paths"`
}

type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// PathItem maps a lower-case HTTP verb to its operation.
type PathItem map[string]*Operation

type Operation struct {
	Summary     string                    `json:"summary"`
	Description string                    `json:"description,omitempty"`
	Parameters  []map[string]any          `json:"parameters,omitempty"`
	RequestBody map[string]any            `json:"requestBody,omitempty"`
	Responses   map[string]map[string]any `json:"responses"`
}

// Assembler builds documents. Its zero value uses the default info block.
type Assembler struct {
	Title   string
	Version string
}

func NewAssembler(title, version string) *Assembler {
	return &Assembler{Title: title, Version: version}
}

// Build merges descs into a Document. Descriptors without a path or
// methods are skipped; later descriptors extend earlier ones on the same
// path and overwrite operations under the same verb.
func (a *Assembler) Build(descs []models.EndpointDescriptor) *Document {
	doc := &Document{
		OpenAPI: Version,
		Info:    Info{Title: orDefault(a.Title, DefaultTitle), Version: orDefault(a.Version, DefaultVersion)},
		Paths:   make(map[string]PathItem),
	}

	for _, d := range descs {
		if !d.Emittable() {
			continue
		}
		item, ok := doc.Paths[d.Path]
		if !ok {
			item = make(PathItem)
			doc.Paths[d.Path] = item
		}
		for _, method := range d.Methods {
			item[strings.ToLower(method)] = buildOperation(d)
		}
	}
	return doc
}

// Assemble builds the document and encodes it as indented JSON.
func (a *Assembler) Assemble(descs []models.EndpointDescriptor) ([]byte, error) {
	return Encode(a.Build(descs))
}

// Encode renders doc with two-space indentation and a trailing newline.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, apperr.Wrap(apperr.KindAssemble, "assemble", err, "failed to serialize OpenAPI document")
	}
	return buf.Bytes(), nil
}

// CountOperations returns the number of (path, verb) pairs in doc.
func CountOperations(doc *Document) int {
	n := 0
	for _, item := range doc.Paths {
		n += len(item)
	}
	return n
}

func buildOperation(d models.EndpointDescriptor) *Operation {
	op := &Operation{
		Summary:     d.Summary,
		Description: d.Description,
	}
	if op.Summary == "" {
		op.Summary = "Generated endpoint for " + d.View
	}

	for _, p := range d.Parameters {
		op.Parameters = append(op.Parameters, filter(p, scalarField))
	}

	if d.RequestBody != nil {
		op.RequestBody = filter(d.RequestBody, flagField)
	}

	op.Responses = make(map[string]map[string]any, len(d.Responses))
	for code, r := range d.Responses {
		op.Responses[code] = filter(r, flagField)
	}
	if len(op.Responses) == 0 {
		op.Responses["200"] = map[string]any{"description": "OK"}
	}
	return op
}

// scalarField admits strings, booleans and integers (parameter objects).
func scalarField(v models.Value) bool { return v.Scalar() }

// flagField admits strings and booleans (request bodies and responses).
func flagField(v models.Value) bool {
	return v.Kind() == models.KindString || v.Kind() == models.KindBool
}

func filter(in map[string]models.Value, keep func(models.Value) bool) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if keep(v) {
			out[k] = v.Interface()
		}
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
