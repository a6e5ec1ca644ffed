package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tradexec/internal/domain/execution"
	"tradexec/internal/namespace"
)

type stubBackend struct {
	name       string
	available  bool
	priority   int
	cleanupErr error
	cleaned    bool
}

func (b *stubBackend) Name() string { return b.name }
func (b *stubBackend) Setup(ctx context.Context) error { return nil }
func (b *stubBackend) Available() bool { return b.available }
func (b *stubBackend) Capabilities() Capabilities { return Capabilities{Priority: b.priority} }

func (b *stubBackend) Execute(ctx context.Context, req execution.Request, ns *namespace.Namespace) *execution.Result {
	return &execution.Result{Status: execution.StatusSuccess}
}

func (b *stubBackend) Cleanup() error {
	b.cleaned = true
	return b.cleanupErr
}

func TestNewRegistryValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRegistry(); err == nil {
		t.Fatalf("expected error for empty registry")
	}
	if _, err := NewRegistry(nil); err == nil {
		t.Fatalf("expected error for nil backend")
	}
	if _, err := NewRegistry(&stubBackend{}); err == nil {
		t.Fatalf("expected error for unnamed backend")
	}
	if _, err := NewRegistry(&stubBackend{name: "a"}, &stubBackend{name: "a"}); err == nil {
		t.Fatalf("expected error for duplicate backend")
	}
}

func TestSelectPrefersHighestPriorityAvailable(t *testing.T) {
	t.Parallel()

	reg, err := NewRegistry(
		&stubBackend{name: "inprocess", available: true, priority: 10},
		&stubBackend{name: "subprocess", available: true, priority: 100},
		&stubBackend{name: "remote", available: false, priority: 1000},
	)
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	for i := 0; i < 5; i++ {
		backend, err := reg.Select(PreferenceAuto)
		if err != nil {
			t.Fatalf("Select returned error: %v", err)
		}
		if backend.Name() != "subprocess" {
			t.Fatalf("expected subprocess backend, got %q", backend.Name())
		}
	}
}

func TestSelectTieBreaksByName(t *testing.T) {
	t.Parallel()

	reg, _ := NewRegistry(
		&stubBackend{name: "zeta", available: true, priority: 5},
		&stubBackend{name: "alpha", available: true, priority: 5},
	)
	backend, err := reg.Select("")
	if err != nil {
		t.Fatalf("Select returned error: %v", err)
	}
	if backend.Name() != "alpha" {
		t.Fatalf("expected alpha on tie, got %q", backend.Name())
	}
}

func TestSelectExplicitPreference(t *testing.T) {
	t.Parallel()

	reg, _ := NewRegistry(
		&stubBackend{name: "inprocess", available: true, priority: 10},
		&stubBackend{name: "subprocess", available: false, priority: 100},
	)

	backend, err := reg.Select("inprocess")
	if err != nil || backend.Name() != "inprocess" {
		t.Fatalf("expected inprocess backend, got %v, %v", backend, err)
	}
	if _, err := reg.Select("subprocess"); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend for unavailable preference, got %v", err)
	}
	if _, err := reg.Select("docker"); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend for unknown preference, got %v", err)
	}
}

func TestSelectNoneAvailable(t *testing.T) {
	t.Parallel()

	reg, _ := NewRegistry(&stubBackend{name: "subprocess"})
	if _, err := reg.Select(PreferenceAuto); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}

func TestRegistryCloseJoinsErrors(t *testing.T) {
	t.Parallel()

	a := &stubBackend{name: "a", cleanupErr: errors.New("boom")}
	b := &stubBackend{name: "b"}
	reg, _ := NewRegistry(a, b)

	err := reg.Close()
	if err == nil || !strings.Contains(err.Error(), "a: boom") {
		t.Fatalf("expected joined cleanup error, got %v", err)
	}
	if !a.cleaned || !b.cleaned {
		t.Fatalf("expected every backend to be cleaned up")
	}

	infos := reg.Backends()
	if len(infos) != 2 || infos[0].Name != "a" || infos[1].Name != "b" {
		t.Fatalf("unexpected backend infos: %+v", infos)
	}
}
