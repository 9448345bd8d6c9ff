package treesitter

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser is not safe for concurrent use; give each goroutine its own.
type Parser struct {
	parser *sitter.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: sitter.NewParser(),
	}
}

func (p *Parser) Parse(ctx context.Context, content []byte, language string) (*sitter.Tree, error) {
	lang := GetLanguage(language)
	if lang == nil {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	p.parser.SetLanguage(lang)

	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return tree, nil
}

func (p *Parser) Close() {
	p.parser.Close()
}

// Walk visits node and its descendants depth-first. Returning false from
// visit skips the children of that node.
func Walk(node *sitter.Node, visit func(*sitter.Node) bool) {
	if node == nil || !visit(node) {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		Walk(node.NamedChild(i), visit)
	}
}

// ChildrenOfType returns the named children of node with the given type.
func ChildrenOfType(node *sitter.Node, typ string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == typ {
			out = append(out, child)
		}
	}
	return out
}

// StringValue returns the contents of a Python string literal without its
// prefix and quotes. ok is false when node is not a plain string literal.
func StringValue(node *sitter.Node, content []byte) (string, bool) {
	if node == nil || node.Type() != "string" {
		return "", false
	}
	// f-strings and concatenations are not literal values
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if node.NamedChild(i).Type() == "interpolation" {
			return "", false
		}
	}
	return TrimQuotes(node.Content(content)), true
}

// TrimQuotes strips a Python string prefix (r, b, u, f in any case) and
// the surrounding single, double or triple quotes.
func TrimQuotes(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// Docstring returns the first line of the docstring of a function or class
// body block, or "".
func Docstring(body *sitter.Node, content []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	text, ok := StringValue(first.NamedChild(0), content)
	if !ok {
		return ""
	}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
