package security

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

//go:embed analyzer.py
var analyzerSource string

const defaultAnalyzerTimeout = 5 * time.Second

// InterpreterParser delegates parsing to the host interpreter's ast module.
// The submitted code is passed on stdin as data and is never executed.
type InterpreterParser struct {
	python  string
	timeout time.Duration
}

// NewInterpreterParser returns a parser that runs the given python binary.
func NewInterpreterParser(python string) *InterpreterParser {
	return &InterpreterParser{python: python, timeout: defaultAnalyzerTimeout}
}

func (p *InterpreterParser) Name() string { return ParserInterpreter }

type analyzerOutput struct {
	OK    bool   `json:"ok"`
	Line  int    `json:"line"`
	Msg   string `json:"msg"`
	Nodes []Node `json:"nodes"`
}

func (p *InterpreterParser) Parse(ctx context.Context, code string) ([]Node, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.python, "-I", "-B", "-c", analyzerSource)
	cmd.Stdin = strings.NewReader(code)
	cmd.Env = []string{"PYTHONIOENCODING=utf-8"}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run analyzer: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out analyzerOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("decode analyzer output: %w", err)
	}
	if !out.OK {
		return nil, &SyntaxError{Line: out.Line, Msg: out.Msg}
	}

	sortNodes(out.Nodes)
	return out.Nodes, nil
}
