package security

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/parser"
)

var lineRef = regexp.MustCompile(`line (\d+)`)

// EmbeddedParser parses with the pure-Go gpython front end. It needs no
// interpreter on the host but only understands the Python 3.4 grammar.
type EmbeddedParser struct{}

// NewEmbeddedParser returns a parser backed by gpython.
func NewEmbeddedParser() *EmbeddedParser {
	return &EmbeddedParser{}
}

func (p *EmbeddedParser) Name() string { return ParserEmbedded }

func (p *EmbeddedParser) Parse(ctx context.Context, code string) (nodes []Node, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			nodes = nil
			err = &SyntaxError{Msg: fmt.Sprint(r)}
		}
	}()

	tree, parseErr := parser.Parse(strings.NewReader(code), "<sandbox>", "exec")
	if parseErr != nil {
		return nil, embeddedSyntaxError(parseErr)
	}

	ast.Walk(tree, func(node ast.Ast) bool {
		switch n := node.(type) {
		case *ast.Call:
			if name := callName(n.Func); name != "" {
				nodes = append(nodes, Node{Kind: NodeCall, Name: name, Line: n.Lineno, Col: n.ColOffset})
			}
		case *ast.Attribute:
			nodes = append(nodes, Node{Kind: NodeAttribute, Name: string(n.Attr), Line: n.Lineno, Col: n.ColOffset})
		case *ast.Import:
			for _, alias := range n.Names {
				nodes = append(nodes, Node{Kind: NodeImport, Name: string(alias.Name), Line: n.Lineno, Col: n.ColOffset})
			}
		case *ast.ImportFrom:
			if n.Level == 0 && n.Module != "" {
				nodes = append(nodes, Node{Kind: NodeImport, Name: string(n.Module), Line: n.Lineno, Col: n.ColOffset})
			}
		}
		return true
	})

	sortNodes(nodes)
	return nodes, nil
}

// callName returns the called identifier for plain and attribute calls.
func callName(fn ast.Expr) string {
	switch f := fn.(type) {
	case *ast.Name:
		return string(f.Id)
	case *ast.Attribute:
		return string(f.Attr)
	}
	return ""
}

func embeddedSyntaxError(err error) *SyntaxError {
	msg := strings.TrimSpace(err.Error())
	line := 0
	if m := lineRef.FindStringSubmatch(msg); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	return &SyntaxError{Line: line, Msg: msg}
}
