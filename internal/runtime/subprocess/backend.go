// Package subprocess runs code in a separate interpreter process with its
// own process group, work directory and resource limits.
package subprocess

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradexec/internal/domain/execution"
	"tradexec/internal/namespace"
	"tradexec/internal/runtime"
)

//go:embed bootstrap.py
var bootstrapSource string

// Name identifies this backend in the registry.
const Name = "subprocess"

const (
	bootstrapFile = "bootstrap.py"
	codeFile      = "user_code.py"
	helpersFile   = "helpers.py"
	manifestFile  = "sandbox_manifest.json"
	resultFile    = "_sandbox_result.json"

	defaultPython    = "python3"
	defaultWaitDelay = 2 * time.Second
	maxPlotBytes     = 5 * 1024 * 1024
)

var defaultArgs = []string{"-I", "-B", "-u"}

// Config configures the subprocess backend.
type Config struct {
	// Python is the interpreter binary or path. Defaults to python3.
	Python string
	// Args are passed to the interpreter before the bootstrap script.
	Args []string
	// WorkDir is the parent of per-execution directories. Empty means a fresh
	// temporary directory created by Setup.
	WorkDir string
	// WaitDelay bounds how long output pipes may linger after a kill.
	WaitDelay time.Duration
	// AddressSpaceSlack is added to Limits.MemoryBytes to form the RLIMIT_AS
	// ceiling, since libraries reserve address space they never touch. Zero
	// means DefaultAddressSpaceSlack, negative disables the ceiling.
	AddressSpaceSlack int64
	Logger            *zap.Logger
}

// DefaultAddressSpaceSlack covers the reservations made while importing
// numpy and pandas.
const DefaultAddressSpaceSlack int64 = 1 << 30

// Backend executes each request in a fresh interpreter process.
type Backend struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	python  string
	baseDir string
	ownsDir bool
}

var _ runtime.Backend = (*Backend)(nil)

// New builds a Backend from cfg, applying defaults.
func New(cfg Config) *Backend {
	if cfg.Python == "" {
		cfg.Python = defaultPython
	}
	if len(cfg.Args) == 0 {
		cfg.Args = defaultArgs
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	if cfg.AddressSpaceSlack == 0 {
		cfg.AddressSpaceSlack = DefaultAddressSpaceSlack
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{cfg: cfg, logger: logger.With(zap.String("backend", Name))}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Capabilities() runtime.Capabilities {
	return runtime.Capabilities{
		PreemptiveCancel:   true,
		ProcessIsolation:   true,
		StreamingOutputCap: true,
		Priority:           100,
	}
}

// Available reports whether the configured interpreter can be found.
func (b *Backend) Available() bool {
	_, err := exec.LookPath(b.cfg.Python)
	return err == nil
}

// Setup resolves the interpreter and prepares the base work directory.
func (b *Backend) Setup(ctx context.Context) error {
	python, err := exec.LookPath(b.cfg.Python)
	if err != nil {
		return fmt.Errorf("locate interpreter %q: %w", b.cfg.Python, err)
	}

	baseDir := b.cfg.WorkDir
	ownsDir := false
	if baseDir == "" {
		baseDir, err = os.MkdirTemp("", "tradexec-")
		if err != nil {
			return fmt.Errorf("create work directory: %w", err)
		}
		ownsDir = true
	} else if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}

	b.mu.Lock()
	b.python = python
	b.baseDir = baseDir
	b.ownsDir = ownsDir
	b.mu.Unlock()

	b.logger.Info("subprocess backend ready", zap.String("python", python), zap.String("workdir", baseDir))
	return nil
}

// Cleanup removes the base work directory when Setup created it.
func (b *Backend) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ownsDir && b.baseDir != "" {
		if err := os.RemoveAll(b.baseDir); err != nil {
			return fmt.Errorf("remove work directory: %w", err)
		}
	}
	b.baseDir = ""
	b.python = ""
	return nil
}

type manifest struct {
	Limits          manifestLimits `json:"limits"`
	Globals         map[string]any `json:"globals"`
	PreloadHelpers  bool           `json:"preload_helpers"`
	AllowNetwork    bool           `json:"allow_network"`
	AllowFilesystem bool           `json:"allow_filesystem"`
}

type manifestLimits struct {
	CPUSeconds        float64 `json:"cpu_seconds"`
	MemoryBytes       int64   `json:"memory_bytes"`
	AddressSpaceBytes int64   `json:"address_space_bytes"`
}

type scriptState struct {
	ReturnValue  any    `json:"return_value"`
	ReturnRepr   string `json:"return_repr"`
	HelpersError string `json:"helpers_error"`
}

// Execute runs req in a private work directory under req.Limits.
func (b *Backend) Execute(ctx context.Context, req execution.Request, ns *namespace.Namespace) *execution.Result {
	b.mu.RLock()
	python, baseDir := b.python, b.baseDir
	b.mu.RUnlock()
	if python == "" {
		return execution.Internal("subprocess backend is not set up")
	}
	if ns == nil {
		ns = &namespace.Namespace{}
	}

	workdir, err := os.MkdirTemp(baseDir, "exec-")
	if err != nil {
		return execution.Internal("create execution directory: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			b.logger.Warn("remove execution directory", zap.String("workdir", workdir), zap.Error(err))
		}
	}()

	if err := stageFiles(workdir, req, ns, b.cfg.AddressSpaceSlack); err != nil {
		return execution.Internal("stage execution files: %v", err)
	}

	limits := req.Limits
	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	if limits.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, limits.Timeout, runtime.ErrDeadline)
		defer cancelTimeout()
	}

	sink := newOutputSink(limits.MaxOutputBytes, func() { cancelRun(runtime.ErrOutputLimit) })

	args := append(append([]string{}, b.cfg.Args...), bootstrapFile)
	cmd := exec.CommandContext(runCtx, python, args...)
	cmd.Dir = workdir
	cmd.Env = sandboxEnv(workdir, limits)
	cmd.Stdout = sink.Stdout()
	cmd.Stderr = sink.Stderr()
	cmd.WaitDelay = b.cfg.WaitDelay
	configureProcess(cmd)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
		_ = killGroup(pid)
	}

	stdout, stderr := sink.Strings()
	result := &execution.Result{
		Stdout:        stdout,
		Stderr:        stderr,
		ExecutionTime: elapsed,
		MemoryUsed:    maxRSSBytes(cmd.ProcessState),
	}
	result.SetMetadata("pid", pid)
	result.SetMetadata("output_bytes", sink.Used())
	if cmd.ProcessState != nil {
		result.SetMetadata("exit_code", cmd.ProcessState.ExitCode())
	}

	b.classify(result, ctx, runCtx, runErr, cmd.ProcessState, sink, elapsed, limits)
	b.collect(result, workdir)

	b.logger.Debug("subprocess finished",
		zap.String("request_id", req.ID),
		zap.Int("pid", pid),
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", elapsed),
	)
	return result
}

func (b *Backend) classify(
	result *execution.Result,
	parent, runCtx context.Context,
	runErr error,
	state *os.ProcessState,
	sink *outputSink,
	elapsed time.Duration,
	limits execution.Limits,
) {
	var exitErr *exec.ExitError
	sig, signaled := exitSignal(state)
	if signaled {
		result.SetMetadata("signal", sig.String())
	}

	switch {
	case sink.Exceeded():
		setFailure(result, execution.KindResourceExceeded, "output exceeded limit of %d bytes", limits.MaxOutputBytes)
	case errors.Is(context.Cause(runCtx), runtime.ErrDeadline),
		limits.Timeout > 0 && elapsed >= limits.Timeout && runErr != nil:
		setFailure(result, execution.KindTimeout, "execution exceeded timeout of %s", limits.Timeout)
	case parent.Err() != nil:
		setFailure(result, execution.KindInternalError, "execution cancelled: %v", context.Cause(parent))
	case runErr != nil && !errors.As(runErr, &exitErr):
		setFailure(result, execution.KindInternalError, "run interpreter: %v", runErr)
	case signaled && cpuLimitSignal(sig):
		if isCPUSignal(sig) {
			setFailure(result, execution.KindResourceExceeded, "cpu time limit of %s exceeded", limits.CPUTime)
		} else {
			setFailure(result, execution.KindResourceExceeded, "process terminated by %s after exceeding a resource limit", sig)
		}
	case runErr != nil && strings.Contains(result.Stderr, "MemoryError"):
		setFailure(result, execution.KindResourceExceeded, "memory limit of %d bytes exceeded", limits.MemoryBytes)
	case runErr != nil:
		setFailure(result, execution.KindRuntimeError, "%s", lastLine(result.Stderr, runErr))
	default:
		result.Status = execution.StatusSuccess
		result.Kind = execution.KindNone
	}
}

func setFailure(result *execution.Result, kind execution.Kind, format string, args ...any) {
	result.Status = execution.StatusFor(kind)
	result.Kind = kind
	result.Error = fmt.Sprintf(format, args...)
}

// collect reads the bootstrap state file and any files the script produced.
func (b *Backend) collect(result *execution.Result, workdir string) {
	if raw, err := os.ReadFile(filepath.Join(workdir, resultFile)); err == nil {
		var state scriptState
		if err := json.Unmarshal(raw, &state); err != nil {
			b.logger.Warn("decode script state", zap.Error(err))
		} else {
			if state.ReturnValue != nil {
				result.ReturnValue = state.ReturnValue
			} else if state.ReturnRepr != "" {
				result.ReturnValue = state.ReturnRepr
			}
			if state.HelpersError != "" {
				result.SetMetadata("helpers_error", state.HelpersError)
			}
		}
	}

	staged := map[string]struct{}{
		bootstrapFile: {}, codeFile: {}, helpersFile: {}, manifestFile: {}, resultFile: {},
	}
	var files []string
	_ = filepath.WalkDir(workdir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(workdir, path)
		if relErr != nil {
			return nil
		}
		if _, ok := staged[rel]; ok || strings.HasPrefix(rel, ".") {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	result.GeneratedFiles = files

	for _, rel := range files {
		mime := plotMime(rel)
		if mime == "" {
			continue
		}
		info, err := os.Stat(filepath.Join(workdir, rel))
		if err != nil || info.Size() > maxPlotBytes {
			continue
		}
		data, err := os.ReadFile(filepath.Join(workdir, rel))
		if err != nil {
			continue
		}
		result.Plots = append(result.Plots, execution.Plot{Name: rel, MimeType: mime, Data: data})
	}
}

func plotMime(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".svg":
		return "image/svg+xml"
	}
	return ""
}

// addressSpaceLimit returns the RLIMIT_AS value for a memory cap, or 0 for
// no ceiling.
func addressSpaceLimit(memory, slack int64) int64 {
	if memory <= 0 || slack < 0 {
		return 0
	}
	if memory > math.MaxInt64-slack {
		return 0
	}
	return memory + slack
}

func stageFiles(workdir string, req execution.Request, ns *namespace.Namespace, slack int64) error {
	m := manifest{
		Limits: manifestLimits{
			CPUSeconds:        math.Ceil(req.Limits.CPUTime.Seconds()),
			MemoryBytes:       req.Limits.MemoryBytes,
			AddressSpaceBytes: addressSpaceLimit(req.Limits.MemoryBytes, slack),
		},
		Globals:         ns.Globals(),
		PreloadHelpers:  ns.PreloadHelpers && ns.Helpers != "",
		AllowNetwork:    req.Limits.AllowNetwork,
		AllowFilesystem: req.Limits.AllowFileSystem,
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	files := map[string][]byte{
		bootstrapFile: []byte(bootstrapSource),
		codeFile:      []byte(req.Code),
		manifestFile:  encoded,
	}
	if m.PreloadHelpers {
		files[helpersFile] = []byte(ns.Helpers)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(workdir, name), content, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func sandboxEnv(workdir string, limits execution.Limits) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	return []string{
		"PATH=" + path,
		"HOME=" + workdir,
		"TMPDIR=" + workdir,
		"LANG=C.UTF-8",
		"PYTHONIOENCODING=utf-8",
		"MPLBACKEND=Agg",
		"MPLCONFIGDIR=" + filepath.Join(workdir, ".mplconfig"),
		"OPENBLAS_NUM_THREADS=1",
		"OMP_NUM_THREADS=1",
		fmt.Sprintf("SANDBOX_ALLOW_NETWORK=%t", limits.AllowNetwork),
		fmt.Sprintf("SANDBOX_ALLOW_FS=%t", limits.AllowFileSystem),
	}
}

// lastLine returns the final non-empty stderr line, usually the exception.
func lastLine(stderr string, fallback error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return fallback.Error()
}
