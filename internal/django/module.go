package django

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dpolishuk/apidocs/pkg/treesitter"
)

// viewFunc is a module-level function that can serve as a view.
type viewFunc struct {
	Name    string
	Methods []string // from @api_view; empty for plain Django views
	Summary string
}

// viewAction is a ViewSet method decorated with @action.
type viewAction struct {
	Name    string
	Methods []string
	Detail  bool
	URLPath string
	Summary string
}

type viewClass struct {
	Name        string
	Bases       []string
	Handlers    []string // methods named after HTTP verbs or ViewSet actions
	Actions     []viewAction
	LookupField string
	Summary     string
}

// urlEntry is one path()/re_path()/url() call in a urlpatterns list.
type urlEntry struct {
	Route string
	Regex bool

	// exactly one of the following describes the target
	Include       string // dotted module of include("...")
	IncludeRouter bool   // include(router.urls)
	View          string
	AsView        bool
	ActionMap     map[string]string // as_view({"get": "list"})
}

type registration struct {
	Prefix  string
	ViewSet string
}

// module is everything the scanner needs from one Python file.
type module struct {
	Rel     string
	Dotted  string
	Funcs   []viewFunc
	Classes []viewClass
	URLs    []urlEntry
	Routers []registration
}

func (m *module) hasRoutes() bool {
	return len(m.URLs) > 0 || len(m.Routers) > 0
}

// dottedName converts a slash-separated relative path to a Python module
// name: "app/urls.py" is "app.urls", "app/api/__init__.py" is "app.api".
func dottedName(rel string) string {
	rel = strings.TrimSuffix(strings.TrimSuffix(rel, ".pyi"), ".py")
	rel = strings.TrimSuffix(rel, "/__init__")
	return strings.ReplaceAll(rel, "/", ".")
}

func parseModule(ctx context.Context, p *treesitter.Parser, rel string, content []byte) (*module, error) {
	tree, err := p.Parse(ctx, content, "python")
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	m := &module{Rel: rel, Dotted: dottedName(rel)}
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		switch stmt.Type() {
		case "function_definition":
			m.Funcs = append(m.Funcs, parseFunc(stmt, nil, content))
		case "class_definition":
			m.Classes = append(m.Classes, parseClass(stmt, content))
		case "decorated_definition":
			def := stmt.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			switch def.Type() {
			case "function_definition":
				m.Funcs = append(m.Funcs, parseFunc(def, decorators(stmt), content))
			case "class_definition":
				m.Classes = append(m.Classes, parseClass(def, content))
			}
		case "expression_statement":
			m.parseStatement(stmt, content)
		}
	}
	return m, nil
}

func (m *module) parseStatement(stmt *sitter.Node, content []byte) {
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		expr := stmt.NamedChild(i)
		switch expr.Type() {
		case "assignment", "augmented_assignment":
			left := expr.ChildByFieldName("left")
			right := expr.ChildByFieldName("right")
			if left == nil || right == nil || left.Content(content) != "urlpatterns" {
				continue
			}
			m.collectPatterns(right, content)
		case "call":
			if reg, ok := parseRegister(expr, content); ok {
				m.Routers = append(m.Routers, reg)
			}
		}
	}
}

// collectPatterns reads urlpatterns entries from a list or from lists
// joined with +. A bare router.urls operand needs no entry: routers whose
// urls are not include()d are mounted at the module's prefix.
func (m *module) collectPatterns(node *sitter.Node, content []byte) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "list", "tuple":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			if entry, ok := parseURLEntry(node.NamedChild(i), content); ok {
				m.URLs = append(m.URLs, entry)
			}
		}
	case "binary_operator":
		m.collectPatterns(node.ChildByFieldName("left"), content)
		m.collectPatterns(node.ChildByFieldName("right"), content)
	case "parenthesized_expression":
		if node.NamedChildCount() > 0 {
			m.collectPatterns(node.NamedChild(0), content)
		}
	}
}

func parseURLEntry(node *sitter.Node, content []byte) (urlEntry, bool) {
	if node.Type() != "call" {
		return urlEntry{}, false
	}
	var entry urlEntry
	switch lastSegment(node.ChildByFieldName("function").Content(content)) {
	case "path":
	case "re_path", "url":
		entry.Regex = true
	default:
		return urlEntry{}, false
	}

	args := positional(node.ChildByFieldName("arguments"))
	if len(args) < 2 {
		return urlEntry{}, false
	}
	route, ok := treesitter.StringValue(args[0], content)
	if !ok {
		return urlEntry{}, false
	}
	entry.Route = route

	target := args[1]
	switch target.Type() {
	case "identifier", "attribute":
		entry.View = lastSegment(target.Content(content))
	case "call":
		fn := target.ChildByFieldName("function").Content(content)
		targs := positional(target.ChildByFieldName("arguments"))
		switch {
		case lastSegment(fn) == "include":
			if len(targs) == 0 {
				return urlEntry{}, false
			}
			if mod, ok := includedModule(targs[0], content); ok {
				entry.Include = mod
			} else if isRouterURLs(targs[0], content) {
				entry.IncludeRouter = true
			} else {
				return urlEntry{}, false
			}
		case strings.HasSuffix(fn, ".as_view"):
			entry.View = lastSegment(strings.TrimSuffix(fn, ".as_view"))
			entry.AsView = true
			if len(targs) > 0 && targs[0].Type() == "dictionary" {
				entry.ActionMap = parseActionMap(targs[0], content)
			}
		default:
			return urlEntry{}, false
		}
	default:
		return urlEntry{}, false
	}
	return entry, true
}

// includedModule accepts include("app.urls") and include(("app.urls", "ns")).
func includedModule(node *sitter.Node, content []byte) (string, bool) {
	if node.Type() == "tuple" && node.NamedChildCount() > 0 {
		node = node.NamedChild(0)
	}
	return treesitter.StringValue(node, content)
}

func isRouterURLs(node *sitter.Node, content []byte) bool {
	return node.Type() == "attribute" && strings.HasSuffix(node.Content(content), ".urls")
}

func parseActionMap(node *sitter.Node, content []byte) map[string]string {
	actions := make(map[string]string)
	for _, pair := range treesitter.ChildrenOfType(node, "pair") {
		key, ok := treesitter.StringValue(pair.ChildByFieldName("key"), content)
		if !ok {
			continue
		}
		value, ok := treesitter.StringValue(pair.ChildByFieldName("value"), content)
		if !ok {
			continue
		}
		actions[strings.ToLower(key)] = value
	}
	return actions
}

// parseRegister recognises router.register(r"prefix", SomeViewSet, ...).
func parseRegister(call *sitter.Node, content []byte) (registration, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "attribute" || !strings.HasSuffix(fn.Content(content), ".register") {
		return registration{}, false
	}
	args := positional(call.ChildByFieldName("arguments"))
	if len(args) < 2 {
		return registration{}, false
	}
	prefix, ok := treesitter.StringValue(args[0], content)
	if !ok {
		return registration{}, false
	}
	return registration{Prefix: prefix, ViewSet: lastSegment(args[1].Content(content))}, true
}

func parseFunc(def *sitter.Node, decs []*sitter.Node, content []byte) viewFunc {
	fn := viewFunc{
		Name:    def.ChildByFieldName("name").Content(content),
		Summary: treesitter.Docstring(def.ChildByFieldName("body"), content),
	}
	for _, dec := range decs {
		name, args, _ := decoratorCall(dec, content)
		if name == "api_view" {
			fn.Methods = []string{"GET"}
			if len(args) > 0 {
				if methods := methodList(args[0], content); len(methods) > 0 {
					fn.Methods = methods
				}
			}
		}
	}
	return fn
}

func parseClass(def *sitter.Node, content []byte) viewClass {
	cls := viewClass{Name: def.ChildByFieldName("name").Content(content)}
	if supers := def.ChildByFieldName("superclasses"); supers != nil {
		for _, base := range positional(supers) {
			cls.Bases = append(cls.Bases, lastSegment(base.Content(content)))
		}
	}

	body := def.ChildByFieldName("body")
	cls.Summary = treesitter.Docstring(body, content)
	if body == nil {
		return cls
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		switch stmt.Type() {
		case "function_definition":
			cls.addMethod(stmt, nil, content)
		case "decorated_definition":
			if def := stmt.ChildByFieldName("definition"); def != nil && def.Type() == "function_definition" {
				cls.addMethod(def, decorators(stmt), content)
			}
		case "expression_statement":
			if stmt.NamedChildCount() == 0 || stmt.NamedChild(0).Type() != "assignment" {
				continue
			}
			assign := stmt.NamedChild(0)
			if left := assign.ChildByFieldName("left"); left != nil && left.Content(content) == "lookup_field" {
				if v, ok := treesitter.StringValue(assign.ChildByFieldName("right"), content); ok {
					cls.LookupField = v
				}
			}
		}
	}
	return cls
}

func (c *viewClass) addMethod(def *sitter.Node, decs []*sitter.Node, content []byte) {
	name := def.ChildByFieldName("name").Content(content)
	for _, dec := range decs {
		decName, _, kwargs := decoratorCall(dec, content)
		if decName != "action" {
			continue
		}
		act := viewAction{
			Name:    name,
			Methods: []string{"GET"},
			Summary: treesitter.Docstring(def.ChildByFieldName("body"), content),
		}
		if v, ok := kwargs["methods"]; ok {
			if methods := methodList(v, content); len(methods) > 0 {
				act.Methods = methods
			}
		}
		if v, ok := kwargs["detail"]; ok {
			act.Detail = v.Content(content) == "True"
		}
		if v, ok := kwargs["url_path"]; ok {
			act.URLPath, _ = treesitter.StringValue(v, content)
		}
		c.Actions = append(c.Actions, act)
		return
	}
	if _, ok := verbs[name]; ok {
		c.Handlers = append(c.Handlers, name)
	} else if _, ok := crudActions[name]; ok {
		c.Handlers = append(c.Handlers, name)
	}
}

func decorators(decorated *sitter.Node) []*sitter.Node {
	return treesitter.ChildrenOfType(decorated, "decorator")
}

// decoratorCall splits @name(args, key=value) into its parts. Bare
// decorators have no arguments.
func decoratorCall(dec *sitter.Node, content []byte) (string, []*sitter.Node, map[string]*sitter.Node) {
	if dec.NamedChildCount() == 0 {
		return "", nil, nil
	}
	expr := dec.NamedChild(0)
	if expr.Type() != "call" {
		return lastSegment(expr.Content(content)), nil, nil
	}
	name := lastSegment(expr.ChildByFieldName("function").Content(content))
	arguments := expr.ChildByFieldName("arguments")
	return name, positional(arguments), keywords(arguments, content)
}

func positional(args *sitter.Node) []*sitter.Node {
	if args == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		switch child.Type() {
		case "keyword_argument", "comment", "list_splat", "dictionary_splat":
			continue
		}
		out = append(out, child)
	}
	return out
}

func keywords(args *sitter.Node, content []byte) map[string]*sitter.Node {
	out := make(map[string]*sitter.Node)
	if args == nil {
		return out
	}
	for _, kw := range treesitter.ChildrenOfType(args, "keyword_argument") {
		name := kw.ChildByFieldName("name")
		value := kw.ChildByFieldName("value")
		if name != nil && value != nil {
			out[name.Content(content)] = value
		}
	}
	return out
}

// methodList reads ["GET", "post"] or a tuple of strings as upper-case
// HTTP methods.
func methodList(node *sitter.Node, content []byte) []string {
	if node.Type() != "list" && node.Type() != "tuple" {
		return nil
	}
	var out []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if s, ok := treesitter.StringValue(node.NamedChild(i), content); ok && s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func lastSegment(dotted string) string {
	if i := strings.LastIndexByte(dotted, '.'); i >= 0 {
		return dotted[i+1:]
	}
	return dotted
}
