package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"tradexec/internal/domain/execution"
)

func TestNewConsumerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewConsumer(Config{}); err == nil {
		t.Fatalf("expected error when brokers missing")
	}
	if _, err := NewConsumer(Config{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error when topic missing")
	}
}

func TestNewConsumerAppliesDefaults(t *testing.T) {
	t.Parallel()

	consumer, err := NewConsumer(Config{
		Brokers: []string{"localhost:9092"},
		Topic:   "execution-requests",
	})
	if err != nil {
		t.Fatalf("NewConsumer returned error: %v", err)
	}
	if err := consumer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestConsumerNextRequestParsesEnvelope(t *testing.T) {
	t.Parallel()

	preload := false
	envelope := requestEnvelope{
		Code:           "print('hi')",
		TimeoutSeconds: 20,
		Limits: &requestLimits{
			CPUTimeMs:      500,
			MemoryBytes:    128,
			MaxOutputBytes: 64,
		},
		ArtifactAccess: []string{"trade-2023"},
		Context:        map[string]any{"country": "DE"},
		PreloadHelpers: &preload,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}

	reader := &fakeReader{messages: []kafkago.Message{{Key: []byte("request-1"), Value: payload}}}
	consumer := newConsumer(reader, nil)

	req, err := consumer.NextRequest(context.Background())
	if err != nil {
		t.Fatalf("NextRequest returned error: %v", err)
	}

	if req.ID != "request-1" {
		t.Fatalf("expected request ID from key, got %q", req.ID)
	}
	if req.Language != execution.LanguagePython {
		t.Fatalf("expected language to default to python, got %q", req.Language)
	}
	if req.Limits.Timeout != 20*time.Second {
		t.Fatalf("unexpected timeout: %v", req.Limits.Timeout)
	}
	if req.Limits.CPUTime != 500*time.Millisecond {
		t.Fatalf("expected explicit cpu limit to win, got %v", req.Limits.CPUTime)
	}
	if req.Limits.MemoryBytes != 128 || req.Limits.MaxOutputBytes != 64 {
		t.Fatalf("unexpected limits: %+v", req.Limits)
	}
	if len(req.ArtifactAccess) != 1 || req.ArtifactAccess[0] != "trade-2023" {
		t.Fatalf("unexpected artifact access: %v", req.ArtifactAccess)
	}
	if req.Context["country"] != "DE" {
		t.Fatalf("unexpected context: %v", req.Context)
	}
	if req.PreloadHelpers {
		t.Fatalf("expected preload_helpers=false to be honoured")
	}
}

func TestDecodeRequestMessageDefaults(t *testing.T) {
	t.Parallel()

	req, err := decodeRequestMessage(kafkago.Message{Topic: "requests", Offset: 9, Value: []byte(`{"code":"x = 1"}`)})
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if req.ID != "requests:9" {
		t.Fatalf("expected ID derived from topic and offset, got %q", req.ID)
	}
	if !req.PreloadHelpers {
		t.Fatalf("expected helpers to be preloaded by default")
	}
	if req.Limits != (execution.Limits{}) {
		t.Fatalf("expected unset limits, got %+v", req.Limits)
	}
}

func TestDecodeRequestMessageValidationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
		match   string
	}{
		{name: "missing code", payload: `{"type":"request"}`, match: "missing code"},
		{name: "unknown type", payload: `{"type":"weird","code":"x"}`, match: "unknown message type"},
		{name: "not json", payload: `{`, match: "decode message"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := decodeRequestMessage(kafkago.Message{Value: []byte(tc.payload)})
			if err == nil || !strings.Contains(err.Error(), tc.match) {
				t.Fatalf("expected error containing %q, got %v", tc.match, err)
			}
		})
	}
}

func TestConsumerSkipsMalformedMessages(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{messages: []kafkago.Message{
		{Value: []byte(`{`)},
		{Value: []byte(`{"type":"request"}`)},
		{Key: []byte("good"), Value: []byte(`{"code":"print(1)"}`)},
	}}
	consumer := newConsumer(reader, nil)

	req, err := consumer.NextRequest(context.Background())
	if err != nil {
		t.Fatalf("NextRequest returned error: %v", err)
	}
	if req.ID != "good" {
		t.Fatalf("expected the valid message, got %q", req.ID)
	}
}

func TestConsumerNextRequestDoneMessage(t *testing.T) {
	t.Parallel()

	payload, _ := json.Marshal(requestEnvelope{Type: messageTypeDone})
	reader := &fakeReader{messages: []kafkago.Message{{Value: payload}}}
	consumer := newConsumer(reader, nil)

	_, err := consumer.NextRequest(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF for done message, got %v", err)
	}
}

func TestConsumerPropagatesReaderError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("broker unreachable")
	consumer := newConsumer(&fakeReader{err: wantErr}, nil)

	if _, err := consumer.NextRequest(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestConsumerCloseProxiesUnderlyingReader(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{}
	consumer := newConsumer(reader, nil)

	if err := consumer.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !reader.closed {
		t.Fatalf("expected reader to be closed")
	}
}

func TestPublisherValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewPublisher(PublisherConfig{}); err == nil {
		t.Fatalf("expected error when brokers missing")
	}
	if _, err := NewPublisher(PublisherConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatalf("expected error when topic missing")
	}
}

func TestNewPublisherValidConfig(t *testing.T) {
	t.Parallel()

	publisher, err := NewPublisher(PublisherConfig{Brokers: []string{"localhost:9092"}, Topic: "execution-results"})
	if err != nil {
		t.Fatalf("NewPublisher returned error: %v", err)
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestPublisherPublishesResult(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	publisher := newPublisher(writer, nil)

	report := execution.Report{
		Request: execution.Request{ID: "request-42"},
		Result: &execution.Result{
			Status:        execution.StatusResourceExceeded,
			Kind:          execution.KindResourceExceeded,
			Stdout:        "out",
			Stderr:        "err",
			Error:         "output exceeded limit of 64 bytes",
			ExecutionTime: 1500 * time.Millisecond,
			MemoryUsed:    2048,
			ReturnValue:   map[string]any{"hhi": 0.38},
			Backend:       "subprocess",
			Metadata:      map[string]any{"pid": 12},
		},
	}

	if err := publisher.PublishResult(context.Background(), report); err != nil {
		t.Fatalf("PublishResult returned error: %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.messages))
	}
	if string(writer.messages[0].Key) != "request-42" {
		t.Fatalf("unexpected message key %q", writer.messages[0].Key)
	}
	headers := map[string]string{}
	for _, h := range writer.messages[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	wantHeaders := map[string]string{
		HeaderContentType: "application/json",
		HeaderStatus:      "resource_exceeded",
		HeaderKind:        "resource_exceeded",
		HeaderBackend:     "subprocess",
	}
	for key, want := range wantHeaders {
		if headers[key] != want {
			t.Fatalf("header %q = %q, want %q", key, headers[key], want)
		}
	}
	if writer.messages[0].Time.IsZero() {
		t.Fatalf("expected message time")
	}

	var envelope resultEnvelope
	if err := json.Unmarshal(writer.messages[0].Value, &envelope); err != nil {
		t.Fatalf("failed to unmarshal result envelope: %v", err)
	}

	if envelope.ID != "request-42" {
		t.Fatalf("unexpected ID in envelope: %q", envelope.ID)
	}
	if envelope.Success {
		t.Fatalf("expected success=false")
	}
	if envelope.Status != execution.StatusResourceExceeded || envelope.Kind != execution.KindResourceExceeded {
		t.Fatalf("unexpected status/kind: %q/%q", envelope.Status, envelope.Kind)
	}
	if envelope.ExecutionTime != 1.5 {
		t.Fatalf("expected execution_time 1.5, got %v", envelope.ExecutionTime)
	}
	if envelope.Backend != "subprocess" {
		t.Fatalf("unexpected backend %q", envelope.Backend)
	}
	if envelope.GeneratedFiles == nil {
		t.Fatalf("expected generated_files to be an empty list")
	}
	if envelope.Timestamp.IsZero() {
		t.Fatalf("expected timestamp")
	}

	if err := publisher.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !writer.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestPublisherNilResultIsInternalError(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	publisher := newPublisher(writer, nil)

	if err := publisher.PublishResult(context.Background(), execution.Report{}); err != nil {
		t.Fatalf("PublishResult returned error: %v", err)
	}
	msg := writer.messages[0]
	if msg.Key != nil {
		t.Fatalf("expected no key for an empty request ID, got %q", msg.Key)
	}
	for _, h := range msg.Headers {
		if h.Key == HeaderKind && string(h.Value) != "internal_error" {
			t.Fatalf("expected internal_error kind header, got %q", h.Value)
		}
	}
}

func TestPublisherCloseWithNilWriter(t *testing.T) {
	t.Parallel()

	publisher := &Publisher{}
	if err := publisher.Close(); err != nil {
		t.Fatalf("Close should succeed when writer nil, got %v", err)
	}
}

func TestPublisherPublishErrors(t *testing.T) {
	t.Parallel()

	t.Run("writer nil", func(t *testing.T) {
		publisher := &Publisher{}
		err := publisher.PublishResult(context.Background(), execution.Report{})
		if err == nil || !strings.Contains(err.Error(), "not initialized") {
			t.Fatalf("expected not initialized error, got %v", err)
		}
	})

	t.Run("writer failure", func(t *testing.T) {
		publisher := newPublisher(&fakeWriter{err: errors.New("boom")}, nil)
		err := publisher.PublishResult(context.Background(), execution.Report{Request: execution.Request{ID: "123"}})
		if err == nil || !strings.Contains(err.Error(), "write message") {
			t.Fatalf("expected write failure, got %v", err)
		}
	})
}

type fakeReader struct {
	messages []kafkago.Message
	err      error
	index    int
	closed   bool
}

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafkago.Message, error) {
	if r.index < len(r.messages) {
		msg := r.messages[r.index]
		r.index++
		return msg, nil
	}
	if r.err != nil {
		return kafkago.Message{}, r.err
	}
	return kafkago.Message{}, io.EOF
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}
