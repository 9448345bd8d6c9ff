package django

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dpolishuk/apidocs/internal/models"
)

// verbs maps handler method names on APIView classes to HTTP methods.
var verbs = map[string]string{
	"get":     "GET",
	"post":    "POST",
	"put":     "PUT",
	"patch":   "PATCH",
	"delete":  "DELETE",
	"head":    "HEAD",
	"options": "OPTIONS",
}

type crudRoute struct {
	method string
	detail bool
}

// crudActions are the ViewSet actions a router maps to routes.
var crudActions = map[string]crudRoute{
	"list":           {"GET", false},
	"create":         {"POST", false},
	"retrieve":       {"GET", true},
	"update":         {"PUT", true},
	"partial_update": {"PATCH", true},
	"destroy":        {"DELETE", true},
}

// baseActions lists the actions that DRF base classes and mixins provide.
var baseActions = map[string][]string{
	"ModelViewSet":         {"list", "create", "retrieve", "update", "partial_update", "destroy"},
	"ReadOnlyModelViewSet": {"list", "retrieve"},
	"ListModelMixin":       {"list"},
	"CreateModelMixin":     {"create"},
	"RetrieveModelMixin":   {"retrieve"},
	"UpdateModelMixin":     {"update", "partial_update"},
	"DestroyModelMixin":    {"destroy"},
}

// baseVerbs lists the handlers that DRF generic views provide.
var baseVerbs = map[string][]string{
	"ListAPIView":                  {"GET"},
	"CreateAPIView":                {"POST"},
	"RetrieveAPIView":              {"GET"},
	"UpdateAPIView":                {"PUT", "PATCH"},
	"DestroyAPIView":               {"DELETE"},
	"ListCreateAPIView":            {"GET", "POST"},
	"RetrieveUpdateAPIView":        {"GET", "PUT", "PATCH"},
	"RetrieveDestroyAPIView":       {"GET", "DELETE"},
	"RetrieveUpdateDestroyAPIView": {"GET", "PUT", "PATCH", "DELETE"},
	"TemplateView":                 {"GET"},
	"ListView":                     {"GET"},
	"DetailView":                   {"GET"},
	"RedirectView":                 {"GET"},
}

var methodOrder = map[string]int{
	"GET": 0, "POST": 1, "PUT": 2, "PATCH": 3, "DELETE": 4, "HEAD": 5, "OPTIONS": 6, "TRACE": 7,
}

func sortMethods(methods []string) []string {
	seen := make(map[string]bool, len(methods))
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, ok := methodOrder[out[i]]
		if !ok {
			oi = len(methodOrder)
		}
		oj, ok := methodOrder[out[j]]
		if !ok {
			oj = len(methodOrder)
		}
		return oi < oj
	})
	return out
}

var (
	converterParam = regexp.MustCompile(`<(?:[^:<>]+:)?([^:<>]+)>`)
	namedGroup     = regexp.MustCompile(`\(\?P<([A-Za-z_][A-Za-z0-9_]*)>[^)]*\)`)
)

// routePath converts a Django route to an OpenAPI path template:
// "items/<int:pk>/" becomes "/items/{pk}/" and the regex
// "^items/(?P<pk>[0-9]+)/$" becomes "/items/{pk}/".
func routePath(route string, regex bool) string {
	if regex {
		route = strings.TrimPrefix(route, "^")
		route = strings.TrimSuffix(route, "$")
		route = namedGroup.ReplaceAllString(route, "{$1}")
		route = strings.ReplaceAll(route, `\.`, ".")
		route = strings.ReplaceAll(route, `\-`, "-")
	} else {
		route = converterParam.ReplaceAllString(route, "{$1}")
	}
	return route
}

// joinRoute concatenates an include prefix and a route the way Django
// does, then anchors the result at "/".
func joinRoute(prefix, route string) string {
	p := prefix + route
	p = strings.ReplaceAll(p, "//", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// index resolves view names across all scanned modules. The first
// definition in path order wins.
type index struct {
	funcs   map[string]viewFunc
	classes map[string]viewClass
}

func newIndex(mods []*module) *index {
	idx := &index{funcs: map[string]viewFunc{}, classes: map[string]viewClass{}}
	for _, m := range mods {
		for _, f := range m.Funcs {
			if _, ok := idx.funcs[f.Name]; !ok {
				idx.funcs[f.Name] = f
			}
		}
		for _, c := range m.Classes {
			if _, ok := idx.classes[c.Name]; !ok {
				idx.classes[c.Name] = c
			}
		}
	}
	return idx
}

// viewDescriptor builds the descriptor for a urlpatterns entry that points
// at a view.
func (idx *index) viewDescriptor(path string, e urlEntry) models.EndpointDescriptor {
	d := models.EndpointDescriptor{Path: path, View: e.View}

	if len(e.ActionMap) > 0 {
		for verb := range e.ActionMap {
			d.Methods = append(d.Methods, strings.ToUpper(verb))
		}
		d.Methods = sortMethods(d.Methods)
		if cls, ok := idx.classes[e.View]; ok {
			d.Summary = cls.Summary
		}
		return d
	}

	if cls, ok := idx.classes[e.View]; ok {
		d.Summary = cls.Summary
		d.Methods = idx.classVerbs(cls)
	} else if fn, ok := idx.funcs[e.View]; ok && !e.AsView {
		d.Summary = fn.Summary
		d.Methods = fn.Methods
	}
	if len(d.Methods) == 0 {
		d.Methods = []string{"GET"}
	}
	d.Methods = sortMethods(d.Methods)
	return d
}

// classVerbs collects the HTTP methods an APIView-style class answers,
// following base classes defined in the scanned tree.
func (idx *index) classVerbs(cls viewClass) []string {
	var methods []string
	seen := map[string]bool{}
	var visit func(c viewClass)
	visit = func(c viewClass) {
		if seen[c.Name] {
			return
		}
		seen[c.Name] = true
		for _, h := range c.Handlers {
			if m, ok := verbs[h]; ok {
				methods = append(methods, m)
			}
		}
		for _, base := range c.Bases {
			methods = append(methods, baseVerbs[base]...)
			if parent, ok := idx.classes[base]; ok {
				visit(parent)
			}
		}
	}
	visit(cls)
	return methods
}

// classActions collects the router actions a ViewSet provides through its
// own methods, its DRF bases and bases defined in the scanned tree.
func (idx *index) classActions(cls viewClass) (map[string]bool, []viewAction) {
	actions := map[string]bool{}
	var extra []viewAction
	seen := map[string]bool{}
	var visit func(c viewClass)
	visit = func(c viewClass) {
		if seen[c.Name] {
			return
		}
		seen[c.Name] = true
		for _, h := range c.Handlers {
			if _, ok := crudActions[h]; ok {
				actions[h] = true
			}
		}
		extra = append(extra, c.Actions...)
		for _, base := range c.Bases {
			for _, a := range baseActions[base] {
				actions[a] = true
			}
			if parent, ok := idx.classes[base]; ok {
				visit(parent)
			}
		}
	}
	visit(cls)
	return actions, extra
}

func (idx *index) lookupField(cls viewClass) string {
	seen := map[string]bool{}
	for {
		if cls.LookupField != "" {
			return cls.LookupField
		}
		seen[cls.Name] = true
		var next viewClass
		found := false
		for _, base := range cls.Bases {
			if parent, ok := idx.classes[base]; ok && !seen[base] {
				next, found = parent, true
				break
			}
		}
		if !found {
			return "pk"
		}
		cls = next
	}
}

// routerDescriptors expands a router registration into the collection
// route, the detail route and one route per @action.
func (idx *index) routerDescriptors(prefix string, reg registration) []models.EndpointDescriptor {
	base := joinRoute(prefix, strings.Trim(reg.Prefix, "^$/")+"/")
	cls, ok := idx.classes[reg.ViewSet]
	if !ok {
		return []models.EndpointDescriptor{{Path: base, Methods: []string{"GET"}, View: reg.ViewSet}}
	}

	detail := base + "{" + idx.lookupField(cls) + "}/"
	actions, extra := idx.classActions(cls)

	var listMethods, detailMethods []string
	for action := range actions {
		r := crudActions[action]
		if r.detail {
			detailMethods = append(detailMethods, r.method)
		} else {
			listMethods = append(listMethods, r.method)
		}
	}

	var out []models.EndpointDescriptor
	if len(listMethods) > 0 {
		out = append(out, models.EndpointDescriptor{Path: base, Methods: sortMethods(listMethods), View: cls.Name, Summary: cls.Summary})
	}
	if len(detailMethods) > 0 {
		out = append(out, models.EndpointDescriptor{Path: detail, Methods: sortMethods(detailMethods), View: cls.Name, Summary: cls.Summary})
	}
	for _, a := range extra {
		segment := a.URLPath
		if segment == "" {
			segment = a.Name
		}
		path := base + segment + "/"
		if a.Detail {
			path = detail + segment + "/"
		}
		out = append(out, models.EndpointDescriptor{
			Path:    path,
			Methods: sortMethods(a.Methods),
			View:    cls.Name + "." + a.Name,
			Summary: a.Summary,
		})
	}
	return out
}
