package executor

import (
	"go.uber.org/zap"

	"tradexec/internal/domain/execution"
)

// Phase names a step of the execution state machine.
type Phase string

const (
	PhaseReceived         Phase = "received"
	PhaseValidating       Phase = "validating"
	PhaseRejectedSyntax   Phase = "rejected_syntax"
	PhaseRejectedSecurity Phase = "rejected_security"
	PhaseContextBuilding  Phase = "context_building"
	PhaseExecuting        Phase = "executing"
	PhaseSucceeded        Phase = "succeeded"
	PhaseFailed           Phase = "failed"
	PhaseTimedOut         Phase = "timed_out"
	PhaseResourceExceeded Phase = "resource_exceeded"
	PhaseNormalized       Phase = "normalized"
)

func terminalPhase(status execution.Status) Phase {
	switch status {
	case execution.StatusSuccess:
		return PhaseSucceeded
	case execution.StatusTimeout:
		return PhaseTimedOut
	case execution.StatusResourceExceeded:
		return PhaseResourceExceeded
	default:
		return PhaseFailed
	}
}

// phaseLog records the transitions of one execution.
type phaseLog struct {
	logger *zap.Logger
	trace  []Phase
}

func newPhaseLog(logger *zap.Logger) *phaseLog {
	return &phaseLog{logger: logger, trace: make([]Phase, 0, 6)}
}

func (p *phaseLog) enter(phase Phase) {
	if n := len(p.trace); n > 0 {
		if p.trace[n-1] == phase {
			return
		}
		p.logger.Debug("phase transition", zap.String("from", string(p.trace[n-1])), zap.String("to", string(phase)))
	}
	p.trace = append(p.trace, phase)
}

func (p *phaseLog) names() []string {
	out := make([]string, len(p.trace))
	for i, phase := range p.trace {
		out[i] = string(phase)
	}
	return out
}
