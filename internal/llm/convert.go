package llm

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/models"
)

var operationVerbs = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// DescriptorsFromOpenAPI converts an OpenAPI-shaped JSON object into
// endpoint descriptors, one per path and operation. Path-level parameters
// are prepended to each operation's own. Entries of the wrong shape are
// skipped.
func DescriptorsFromOpenAPI(doc []byte) ([]models.EndpointDescriptor, error) {
	var root models.Value
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, apperr.Wrap(apperr.KindLLM, "convert", err, "LLM output is not valid JSON").WithOutput(doc)
	}
	if root.Kind() != models.KindObject {
		return nil, apperr.New(apperr.KindLLM, "convert", "LLM output is not a JSON object (got %s)", root.Kind()).WithOutput(doc)
	}

	paths := root.Fields()["paths"].Fields()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	descs := []models.EndpointDescriptor{}
	for _, path := range keys {
		item := paths[path]
		if item.Kind() != models.KindObject || strings.TrimSpace(path) == "" {
			continue
		}
		shared := objectItems(item.Fields()["parameters"])

		for _, verb := range operationVerbs {
			op, ok := item.Fields()[verb]
			if !ok || op.Kind() != models.KindObject {
				continue
			}
			fields := op.Fields()

			d := models.EndpointDescriptor{Path: path, Methods: []string{strings.ToUpper(verb)}}
			d.View, _ = fields["operationId"].Str()
			d.Summary, _ = fields["summary"].Str()
			d.Description, _ = fields["description"].Str()
			if params := append(append([]map[string]models.Value(nil), shared...), objectItems(fields["parameters"])...); len(params) > 0 {
				d.Parameters = params
			}
			if body := fields["requestBody"]; body.Kind() == models.KindObject {
				d.RequestBody = body.Fields()
			}
			for code, r := range fields["responses"].Fields() {
				if r.Kind() != models.KindObject {
					continue
				}
				if d.Responses == nil {
					d.Responses = make(map[string]map[string]models.Value)
				}
				d.Responses[code] = r.Fields()
			}
			descs = append(descs, d)
		}
	}
	return descs, nil
}

func objectItems(v models.Value) []map[string]models.Value {
	var out []map[string]models.Value
	for _, item := range v.Items() {
		if item.Kind() == models.KindObject {
			out = append(out, item.Fields())
		}
	}
	return out
}

// Enrich merges generated descriptors into base. Fields already present
// in base are kept; generated ones fill summary, description, parameters,
// requestBody and responses where base has none. Operations only the
// generator knows are appended. Paths are matched after normalising
// Django-style converters, so "users/<int:pk>/" meets "/users/{pk}".
func Enrich(base, generated []models.EndpointDescriptor) []models.EndpointDescriptor {
	hit := make(map[string]bool)
	for _, g := range generated {
		if !g.Emittable() {
			continue
		}
		for _, m := range g.Methods {
			hit[operationKey(g.Path, m)] = true
		}
	}

	// A multi-method descriptor with any generated match is split into one
	// descriptor per method so each verb is filled from its own operation.
	out := make([]models.EndpointDescriptor, 0, len(base))
	index := make(map[string]int)
	for _, d := range base {
		if !d.Emittable() {
			out = append(out, d)
			continue
		}
		if len(d.Methods) == 1 || !anyHit(hit, d) {
			out = append(out, d)
			for _, m := range d.Methods {
				index[operationKey(d.Path, m)] = len(out) - 1
			}
			continue
		}
		for _, m := range d.Methods {
			single := d
			single.Methods = []string{m}
			out = append(out, single)
			index[operationKey(d.Path, m)] = len(out) - 1
		}
	}

	for _, g := range generated {
		if !g.Emittable() {
			continue
		}
		var unmatched []string
		for _, m := range g.Methods {
			i, ok := index[operationKey(g.Path, m)]
			if !ok {
				unmatched = append(unmatched, m)
				continue
			}
			fillMissing(&out[i], g)
		}
		if len(unmatched) > 0 {
			extra := g
			extra.Methods = unmatched
			out = append(out, extra)
			for _, m := range unmatched {
				index[operationKey(g.Path, m)] = len(out) - 1
			}
		}
	}
	return out
}

func anyHit(hit map[string]bool, d models.EndpointDescriptor) bool {
	for _, m := range d.Methods {
		if hit[operationKey(d.Path, m)] {
			return true
		}
	}
	return false
}

func fillMissing(dst *models.EndpointDescriptor, src models.EndpointDescriptor) {
	if dst.Summary == "" {
		dst.Summary = src.Summary
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if len(dst.Parameters) == 0 {
		dst.Parameters = src.Parameters
	}
	if len(dst.RequestBody) == 0 {
		dst.RequestBody = src.RequestBody
	}
	if len(dst.Responses) == 0 {
		dst.Responses = src.Responses
	}
}

var converterPattern = regexp.MustCompile(`<(?:[^:<>]+:)?([^:<>]+)>`)

func operationKey(path, method string) string {
	p := converterPattern.ReplaceAllString(path, "{$1}")
	p = strings.Trim(p, "/")
	return strings.ToUpper(method) + " /" + p
}
