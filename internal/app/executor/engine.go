// Package executor is the façade that validates, stages and runs submitted
// code, folding every outcome into a single normalized Result.
package executor

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"tradexec/internal/domain/execution"
	"tradexec/internal/metrics"
	"tradexec/internal/namespace"
	"tradexec/internal/runtime"
	"tradexec/internal/security"
)

// ErrSaturated is reported when no concurrency slot frees up in time.
var ErrSaturated = errors.New("engine saturated")

// Validator vets code before it is staged.
type Validator interface {
	Validate(ctx context.Context, code string) security.Verdict
}

// NamespaceBuilder stages the per-request namespace.
type NamespaceBuilder interface {
	Build(ctx context.Context, req execution.Request) (*namespace.Namespace, error)
}

// Config tunes the engine.
type Config struct {
	DefaultLimits execution.Limits
	// MaxConcurrent bounds simultaneous executions. Zero means runtime.NumCPU().
	MaxConcurrent int
	// QueueTimeout bounds the wait for a slot. Zero waits until ctx is done.
	QueueTimeout time.Duration
	// AdmissionRate is the sustained executions per second allowed to start.
	// Zero disables the rate limiter.
	AdmissionRate  float64
	AdmissionBurst int
	// BackendPreference is a backend name or runtime.PreferenceAuto.
	BackendPreference string
}

// Dependencies are the collaborators the engine is wired with.
type Dependencies struct {
	Validator Validator
	Builder   NamespaceBuilder
	Registry  *runtime.Registry
	Metrics   *metrics.Recorder
	Logger    *zap.Logger
}

// Engine executes requests against the selected backend.
type Engine struct {
	cfg       Config
	validator Validator
	builder   NamespaceBuilder
	registry  *runtime.Registry
	metrics   *metrics.Recorder
	logger    *zap.Logger
	tracer    trace.Tracer

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu       sync.RWMutex
	backend  runtime.Backend
	setupErr error
}

// New constructs an Engine. Setup must be called before Execute can reach a
// backend.
func New(cfg Config, deps Dependencies) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = goruntime.NumCPU()
	}
	if cfg.DefaultLimits == (execution.Limits{}) {
		cfg.DefaultLimits = execution.DefaultLimits()
	}
	cfg.DefaultLimits = execution.DefaultLimits().Merge(cfg.DefaultLimits)

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validator := deps.Validator
	if validator == nil {
		validator = security.NewValidator(security.DefaultRules(), nil, logger)
	}
	builder := deps.Builder
	if builder == nil {
		builder = namespace.NewBuilder(nil, logger)
	}

	e := &Engine{
		cfg:       cfg,
		validator: validator,
		builder:   builder,
		registry:  deps.Registry,
		metrics:   deps.Metrics,
		logger:    logger.With(zap.String("component", "engine")),
		tracer:    otel.Tracer("tradexec/executor"),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		setupErr:  errors.New("engine is not set up"),
	}
	if cfg.AdmissionRate > 0 {
		burst := cfg.AdmissionBurst
		if burst <= 0 {
			burst = cfg.MaxConcurrent
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.AdmissionRate), burst)
	}
	return e
}

// Setup selects the backend and prepares it. On failure the engine keeps
// running without a backend and every execution reports internal_error.
func (e *Engine) Setup(ctx context.Context) error {
	backend, err := e.selectBackend(ctx)

	e.mu.Lock()
	e.backend, e.setupErr = backend, err
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("no execution backend", zap.Error(err))
		return err
	}
	e.logger.Info("execution backend selected",
		zap.String("backend", backend.Name()),
		zap.Bool("preemptive_cancel", backend.Capabilities().PreemptiveCancel),
		zap.Int("max_concurrent", e.cfg.MaxConcurrent),
	)
	return nil
}

func (e *Engine) selectBackend(ctx context.Context) (runtime.Backend, error) {
	if e.registry == nil {
		return nil, runtime.ErrNoBackend
	}
	backend, err := e.registry.Select(e.cfg.BackendPreference)
	if err != nil {
		return nil, err
	}
	if err := backend.Setup(ctx); err != nil {
		return nil, fmt.Errorf("set up backend %q: %w", backend.Name(), err)
	}
	return backend, nil
}

// CurrentBackend returns the active backend name, or "" without one.
func (e *Engine) CurrentBackend() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.backend == nil {
		return ""
	}
	return e.backend.Name()
}

// Backends reports every registered backend.
func (e *Engine) Backends() []runtime.BackendInfo {
	if e.registry == nil {
		return nil
	}
	return e.registry.Backends()
}

// Close releases the resources held by the registered backends.
func (e *Engine) Close() error {
	if e.registry == nil {
		return nil
	}
	return e.registry.Close()
}

// Execute runs req and always returns a Result, never an error.
func (e *Engine) Execute(ctx context.Context, req execution.Request) (result *execution.Result) {
	start := time.Now()
	req = req.Normalize()
	req.Limits = e.cfg.DefaultLimits.Merge(req.Limits)

	logger := e.logger.With(zap.String("request_id", req.ID))
	phases := newPhaseLog(logger)
	phases.enter(PhaseReceived)

	ctx, span := e.tracer.Start(ctx, "executor.Execute",
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("request.language", string(req.Language)),
		),
	)

	var backendName string
	var warnings []string
	defer func() {
		if r := recover(); r != nil {
			logger.Error("execution panic", zap.Any("panic", r), zap.Stack("stack"))
			phases.enter(PhaseFailed)
			result = execution.Internal("engine panic: %v", r)
		}
		result = e.normalize(result, req, phases, warnings, backendName, start)

		span.SetAttributes(
			attribute.String("execution.status", string(result.Status)),
			attribute.String("execution.kind", string(result.Kind)),
			attribute.String("execution.backend", result.Backend),
		)
		if !result.Success() {
			span.SetStatus(codes.Error, result.Error)
		}
		span.End()

		e.metrics.RecordExecution(string(result.Status), string(result.Kind), result.Backend,
			result.ExecutionTime, len(result.Stdout)+len(result.Stderr))
		logger.Info("execution finished",
			zap.String("status", string(result.Status)),
			zap.String("kind", string(result.Kind)),
			zap.String("backend", result.Backend),
			zap.Duration("elapsed", result.ExecutionTime),
		)
	}()

	if req.Language != execution.LanguagePython {
		phases.enter(PhaseFailed)
		return execution.Internal("unsupported language %q", req.Language)
	}

	phases.enter(PhaseValidating)
	verdict := e.validator.Validate(ctx, req.Code)
	warnings = verdict.Warnings
	if !verdict.OK {
		return e.rejected(verdict, phases)
	}

	e.mu.RLock()
	backend, setupErr := e.backend, e.setupErr
	e.mu.RUnlock()
	if backend == nil {
		phases.enter(PhaseFailed)
		return execution.Internal("no execution backend available: %v", setupErr)
	}
	backendName = backend.Name()

	release, err := e.admit(ctx)
	if err != nil {
		phases.enter(PhaseFailed)
		return execution.Internal("%v", err)
	}
	defer release()

	phases.enter(PhaseContextBuilding)
	ns, err := e.builder.Build(ctx, req)
	if err != nil {
		phases.enter(PhaseFailed)
		return execution.Internal("build namespace: %v", err)
	}

	phases.enter(PhaseExecuting)
	result = backend.Execute(ctx, req, ns)
	if result == nil {
		result = execution.Internal("backend %q returned no result", backendName)
	}
	phases.enter(terminalPhase(result.Status))
	if len(ns.Skipped) > 0 {
		result.SetMetadata("skipped_artifacts", ns.Skipped)
	}
	return result
}

func (e *Engine) rejected(verdict security.Verdict, phases *phaseLog) *execution.Result {
	var result *execution.Result
	switch verdict.Kind {
	case security.VerdictSyntax:
		phases.enter(PhaseRejectedSyntax)
		result = execution.NewFailure(execution.KindSyntaxError, "%s", verdict.Reason)
	case security.VerdictSecurity:
		phases.enter(PhaseRejectedSecurity)
		result = execution.NewFailure(execution.KindSecurityViolation, "%s", verdict.Reason)
	default:
		phases.enter(PhaseFailed)
		return execution.Internal("validation unavailable: %s", verdict.Reason)
	}

	e.metrics.RecordRejection(string(result.Kind), verdict.Rule)
	result.SetMetadata("rule", verdict.Rule)
	if verdict.Symbol != "" {
		result.SetMetadata("symbol", verdict.Symbol)
	}
	if verdict.Line > 0 {
		result.SetMetadata("line", verdict.Line)
	}
	return result
}

// admit waits for the rate limiter and a concurrency slot.
func (e *Engine) admit(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if e.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, e.cfg.QueueTimeout, ErrSaturated)
		defer cancel()
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(waitCtx); err != nil {
			return nil, admissionError(ctx, err)
		}
	}
	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		return nil, admissionError(ctx, err)
	}

	done := e.metrics.Acquire()
	return func() {
		done()
		e.sem.Release(1)
	}, nil
}

func admissionError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("execution cancelled while queued: %w", context.Cause(parent))
	}
	return fmt.Errorf("%w: %v", ErrSaturated, err)
}

// normalize fills the engine-owned fields every Result carries.
func (e *Engine) normalize(
	result *execution.Result,
	req execution.Request,
	phases *phaseLog,
	warnings []string,
	backend string,
	start time.Time,
) *execution.Result {
	if result == nil {
		result = execution.Internal("execution produced no result")
	}
	if !result.Status.Valid() {
		result.Error = fmt.Sprintf("invalid status %q: %s", result.Status, result.Error)
		result.Status = execution.StatusError
		result.Kind = execution.KindInternalError
	}
	switch {
	case result.Status == execution.StatusSuccess:
		result.Kind = execution.KindNone
	case result.Kind == execution.KindNone:
		result.Kind = execution.DefaultKind(result.Status)
	}
	if result.Backend == "" {
		result.Backend = backend
	}

	if result.ExecutionTime > 0 {
		result.SetMetadata("backend_seconds", result.ExecutionTime.Seconds())
	}
	result.ExecutionTime = time.Since(start)
	if len(warnings) > 0 {
		result.SetMetadata("warnings", warnings)
	}
	result.SetMetadata("request_id", req.ID)
	phases.enter(PhaseNormalized)
	result.SetMetadata("phases", phases.names())
	return result
}
