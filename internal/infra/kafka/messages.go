package kafka

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"tradexec/internal/domain/execution"
)

const (
	messageTypeRequest = "request"
	messageTypeDone    = "done"
)

type requestEnvelope struct {
	Type           string         `json:"type"`
	ID             string         `json:"id"`
	Code           string         `json:"code"`
	Language       string         `json:"language,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty"`
	Limits         *requestLimits `json:"limits,omitempty"`
	ArtifactAccess []string       `json:"artifacts_access,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	PreloadHelpers *bool          `json:"preload_helpers,omitempty"`
}

type requestLimits struct {
	TimeoutMs       int64 `json:"timeout_ms"`
	CPUTimeMs       int64 `json:"cpu_time_ms"`
	MemoryBytes     int64 `json:"memory_bytes"`
	MaxOutputBytes  int64 `json:"max_output_bytes"`
	AllowNetwork    bool  `json:"allow_network"`
	AllowFileSystem bool  `json:"allow_filesystem"`
}

type resultEnvelope struct {
	ID             string           `json:"id"`
	Success        bool             `json:"success"`
	Status         execution.Status `json:"status"`
	Kind           execution.Kind   `json:"kind,omitempty"`
	Stdout         string           `json:"stdout"`
	Stderr         string           `json:"stderr"`
	Error          string           `json:"error"`
	ExecutionTime  float64          `json:"execution_time"`
	MemoryUsed     int64            `json:"memory_used"`
	ReturnValue    any              `json:"return_value"`
	GeneratedFiles []string         `json:"generated_files"`
	Plots          []execution.Plot `json:"plots,omitempty"`
	Metadata       map[string]any   `json:"metadata,omitempty"`
	Backend        string           `json:"backend,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

func decodeRequestMessage(msg kafkago.Message) (execution.Request, error) {
	var envelope requestEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return execution.Request{}, fmt.Errorf("decode message: %w", err)
	}

	msgType := envelope.Type
	if msgType == "" {
		msgType = messageTypeRequest
	}

	switch msgType {
	case messageTypeRequest:
		return envelope.toRequest(msg)
	case messageTypeDone:
		return execution.Request{}, io.EOF
	default:
		return execution.Request{}, fmt.Errorf("unknown message type %q", msgType)
	}
}

func (e requestEnvelope) toRequest(msg kafkago.Message) (execution.Request, error) {
	if e.Code == "" {
		return execution.Request{}, fmt.Errorf("request message missing code")
	}

	requestID := e.ID
	if requestID == "" {
		requestID = string(msg.Key)
	}
	if requestID == "" {
		requestID = fmt.Sprintf("%s:%d", msg.Topic, msg.Offset)
	}

	language := execution.Language(e.Language)
	if language == "" {
		language = execution.LanguagePython
	}

	preload := true
	if e.PreloadHelpers != nil {
		preload = *e.PreloadHelpers
	}

	return execution.Request{
		ID:             requestID,
		Code:           e.Code,
		Language:       language,
		Limits:         e.toLimits(),
		Context:        e.Context,
		ArtifactAccess: e.ArtifactAccess,
		PreloadHelpers: preload,
	}, nil
}

// toLimits applies timeout_seconds first through the tool limits so that
// explicit limit fields take precedence.
func (e requestEnvelope) toLimits() execution.Limits {
	var limits execution.Limits
	if e.TimeoutSeconds > 0 {
		limits = execution.ToolLimits(time.Duration(e.TimeoutSeconds) * time.Second)
	}
	if e.Limits == nil {
		return limits
	}

	return limits.Merge(execution.Limits{
		Timeout:         time.Duration(e.Limits.TimeoutMs) * time.Millisecond,
		CPUTime:         time.Duration(e.Limits.CPUTimeMs) * time.Millisecond,
		MemoryBytes:     e.Limits.MemoryBytes,
		MaxOutputBytes:  e.Limits.MaxOutputBytes,
		AllowNetwork:    e.Limits.AllowNetwork,
		AllowFileSystem: e.Limits.AllowFileSystem,
	})
}

func encodeEnvelope(envelope resultEnvelope) ([]byte, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return payload, nil
}

func makeResultEnvelope(report execution.Report) resultEnvelope {
	result := report.Result
	if result == nil {
		result = execution.Internal("execution produced no result")
	}

	files := result.GeneratedFiles
	if files == nil {
		files = []string{}
	}

	return resultEnvelope{
		ID:             report.Request.ID,
		Success:        result.Success(),
		Status:         result.Status,
		Kind:           result.Kind,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		Error:          result.Error,
		ExecutionTime:  result.Seconds(),
		MemoryUsed:     result.MemoryUsed,
		ReturnValue:    result.ReturnValue,
		GeneratedFiles: files,
		Plots:          result.Plots,
		Metadata:       result.Metadata,
		Backend:        result.Backend,
		Timestamp:      time.Now().UTC(),
	}
}
