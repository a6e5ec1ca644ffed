package security

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
)

// NodeKind classifies the syntax nodes the validator inspects.
type NodeKind string

const (
	NodeCall      NodeKind = "call"
	NodeAttribute NodeKind = "attribute"
	NodeImport    NodeKind = "import"
)

// Node is a flattened view of one call, attribute access or imported module.
type Node struct {
	Kind NodeKind `json:"kind"`
	Name string   `json:"name"`
	Line int      `json:"line"`
	Col  int      `json:"col"`
}

// Parser turns source code into the nodes the validator inspects.
//
// A Parser returns a *SyntaxError when the code itself is malformed and a
// plain error when the parser could not run at all.
type Parser interface {
	Name() string
	Parse(ctx context.Context, code string) ([]Node, error)
}

// SyntaxError reports malformed source code.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("syntax error at line %d: %s", e.Line, e.Msg)
	}
	return "syntax error: " + e.Msg
}

// IsSyntaxError reports whether err is caused by malformed code.
func IsSyntaxError(err error) bool {
	var syntaxErr *SyntaxError
	return errors.As(err, &syntaxErr)
}

// Parser modes accepted by NewParser.
const (
	ParserAuto        = "auto"
	ParserInterpreter = "interpreter"
	ParserEmbedded    = "embedded"
)

// NewParser builds the parser for mode. In auto mode the host interpreter's
// own grammar is preferred when python is on PATH, with the embedded parser
// as fallback when the interpreter cannot run.
func NewParser(mode, python string) (Parser, error) {
	switch mode {
	case "", ParserAuto:
		if path, err := lookPython(python); err == nil {
			return &fallbackParser{
				primary:   NewInterpreterParser(path),
				secondary: NewEmbeddedParser(),
			}, nil
		}
		return NewEmbeddedParser(), nil
	case ParserInterpreter:
		path, err := lookPython(python)
		if err != nil {
			return nil, fmt.Errorf("interpreter parser: %w", err)
		}
		return NewInterpreterParser(path), nil
	case ParserEmbedded:
		return NewEmbeddedParser(), nil
	default:
		return nil, fmt.Errorf("unknown parser mode %q", mode)
	}
}

func lookPython(python string) (string, error) {
	if python == "" {
		python = "python3"
	}
	return exec.LookPath(python)
}

type fallbackParser struct {
	primary   Parser
	secondary Parser
}

func (p *fallbackParser) Name() string { return p.primary.Name() }

func (p *fallbackParser) Parse(ctx context.Context, code string) ([]Node, error) {
	nodes, err := p.primary.Parse(ctx, code)
	if err == nil || IsSyntaxError(err) || ctx.Err() != nil {
		return nodes, err
	}
	return p.secondary.Parse(ctx, code)
}

func sortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Line != nodes[j].Line {
			return nodes[i].Line < nodes[j].Line
		}
		return nodes[i].Col < nodes[j].Col
	})
}
