// Package inprocess runs code inside the host process on the embedded
// gpython interpreter. It needs no external interpreter but cannot stop a
// running script: a timeout is only reported once the script returns.
package inprocess

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-python/gpython/py"
	_ "github.com/go-python/gpython/stdlib"
	"go.uber.org/zap"

	"tradexec/internal/domain/execution"
	"tradexec/internal/namespace"
	"tradexec/internal/runtime"
)

//go:embed prelude.py
var preludeSource string

// Name identifies this backend in the registry.
const Name = "inprocess"

const (
	stdoutVar = "_sandbox_stdout"
	stderrVar = "_sandbox_stderr"
)

// Backend executes code on a fresh gpython context per request.
type Backend struct {
	logger *zap.Logger
	meter  allocMeter
}

var _ runtime.Backend = (*Backend)(nil)

// New returns an in-process backend.
func New(logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{logger: logger.With(zap.String("backend", Name))}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Available() bool { return true }

func (b *Backend) Setup(ctx context.Context) error { return nil }

func (b *Backend) Cleanup() error { return nil }

func (b *Backend) Capabilities() runtime.Capabilities {
	return runtime.Capabilities{Priority: 10}
}

type tracebackDumper interface {
	TracebackDump(w io.Writer)
}

// Execute runs req on the calling goroutine until the script returns.
func (b *Backend) Execute(ctx context.Context, req execution.Request, ns *namespace.Namespace) (out *execution.Result) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("interpreter panic", zap.String("request_id", req.ID), zap.Any("panic", r))
			out = execution.Internal("interpreter panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return execution.Internal("execution cancelled: %v", context.Cause(ctx))
	}
	if ns == nil {
		ns = &namespace.Namespace{}
	}

	span := b.meter.begin()
	measured := false
	defer func() {
		if !measured {
			b.meter.end(span)
		}
	}()
	start := time.Now()

	pyCtx := py.NewContext(py.DefaultContextOpts())
	defer pyCtx.Close()

	module, err := runSource(pyCtx, preludeSource, "<prelude>", nil)
	if err != nil {
		return execution.Internal("initialize interpreter: %v", err)
	}
	for name, value := range ns.Globals() {
		obj, err := toPy(value)
		if err != nil {
			return execution.Internal("stage global %q: %v", name, err)
		}
		module.Globals[name] = obj
	}

	result := &execution.Result{}
	if ns.PreloadHelpers && ns.Helpers != "" {
		if _, err := runSource(pyCtx, ns.Helpers, "helpers.py", module); err != nil {
			b.logger.Warn("helpers failed to load", zap.String("request_id", req.ID), zap.Error(err))
			result.SetMetadata("helpers_error", err.Error())
		}
	}

	_, runErr := runSource(pyCtx, req.Code, "user_code.py", module)
	elapsed := time.Since(start)

	result.Stdout = captured(module, stdoutVar)
	result.Stderr = captured(module, stderrVar)
	result.ExecutionTime = elapsed
	result.MemoryUsed = b.meter.end(span)
	measured = true
	if runErr != nil {
		result.Stderr += formatError(runErr)
	}
	if value, ok := module.Globals["result"]; ok {
		result.ReturnValue = fromPy(value)
	}

	limits := req.Limits
	total := int64(len(result.Stdout) + len(result.Stderr))
	switch {
	case limits.Timeout > 0 && elapsed > limits.Timeout:
		setFailure(result, execution.KindTimeout,
			"execution exceeded timeout of %s (ran %s; the in-process backend cannot stop running code)",
			limits.Timeout, elapsed.Round(time.Millisecond))
	case limits.MaxOutputBytes > 0 && total > limits.MaxOutputBytes:
		truncate(result, limits.MaxOutputBytes)
		setFailure(result, execution.KindResourceExceeded, "output exceeded limit of %d bytes", limits.MaxOutputBytes)
	case runErr != nil && strings.Contains(result.Stderr, "MemoryError"):
		setFailure(result, execution.KindResourceExceeded, "memory exhausted: %v", runErr)
	case runErr != nil:
		setFailure(result, execution.KindRuntimeError, "%s", lastLine(runErr))
	default:
		result.Status = execution.StatusSuccess
	}

	b.logger.Debug("in-process execution finished",
		zap.String("request_id", req.ID),
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", elapsed),
	)
	return result
}

// runSource compiles src as a whole module. py.RunSrc compiles in single
// statement mode and would stop after the first statement.
func runSource(ctx py.Context, src, desc string, module *py.Module) (*py.Module, error) {
	code, err := py.Compile(src+"\n", desc, py.ExecMode, 0, true)
	if err != nil {
		return nil, err
	}
	if module == nil {
		return py.RunCode(ctx, code, desc, nil)
	}
	return py.RunCode(ctx, code, desc, module)
}

func captured(module *py.Module, name string) string {
	list, ok := module.Globals[name].(*py.List)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, item := range list.Items {
		if s, ok := item.(py.String); ok {
			sb.WriteString(string(s))
		}
	}
	return sb.String()
}

func formatError(err error) string {
	var buf bytes.Buffer
	if dumper, ok := err.(tracebackDumper); ok {
		dumper.TracebackDump(&buf)
	}
	if !strings.Contains(buf.String(), err.Error()) {
		buf.WriteString(err.Error())
		buf.WriteByte('\n')
	}
	return buf.String()
}

func lastLine(err error) string {
	msg := strings.TrimSpace(err.Error())
	if idx := strings.LastIndexByte(msg, '\n'); idx >= 0 {
		msg = strings.TrimSpace(msg[idx+1:])
	}
	return msg
}

// truncate trims stdout then stderr so that together they fit in limit.
func truncate(result *execution.Result, limit int64) {
	if int64(len(result.Stdout)) >= limit {
		result.Stdout = result.Stdout[:limit]
		result.Stderr = ""
		return
	}
	room := limit - int64(len(result.Stdout))
	if int64(len(result.Stderr)) > room {
		result.Stderr = result.Stderr[:room]
	}
}

func setFailure(result *execution.Result, kind execution.Kind, format string, args ...any) {
	result.Status = execution.StatusFor(kind)
	result.Kind = kind
	result.Error = fmt.Sprintf(format, args...)
}
