// Package namespace stages what a submitted script may see: the helper
// library, caller context and the artifacts it was explicitly granted.
package namespace

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

//go:embed helpers.py
var helpersSource string

// HelpersSource returns the trade helper library injected into scripts.
func HelpersSource() string { return helpersSource }

// Reserved global names set by the namespace itself.
const (
	ArtifactsVar = "_artifacts_data"
	ContextVar   = "_context"
)

// helperNames are the public helpers that context keys may not shadow.
var helperNames = map[string]struct{}{
	"load_trade_data":            {},
	"analyze_trade_trends":       {},
	"top_importers":              {},
	"top_exporters":              {},
	"trade_volume_by_country":    {},
	"analyze_product_categories": {},
	"generate_summary_report":    {},
	"calculate_trade_metrics":    {},
	"market_share":               {},
	"hhi":                        {},
	"gini":                       {},
	"pd":                         {},
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Namespace is the per-request execution environment handed to a backend.
type Namespace struct {
	// Artifacts maps granted artifact IDs to their text content.
	Artifacts map[string]string
	Context   map[string]any
	// Helpers is the helper library source, empty when not preloaded.
	Helpers        string
	PreloadHelpers bool
	// Skipped lists granted IDs that were missing or empty.
	Skipped []string
}

// Globals returns the variables merged into the script's global scope.
func (n *Namespace) Globals() map[string]any {
	artifacts := make(map[string]any, len(n.Artifacts))
	for id, content := range n.Artifacts {
		artifacts[id] = content
	}
	ctxCopy := make(map[string]any, len(n.Context))
	for k, v := range n.Context {
		ctxCopy[k] = v
	}

	globals := map[string]any{
		ArtifactsVar: artifacts,
		ContextVar:   ctxCopy,
	}
	for key, value := range n.Context {
		if !identifier.MatchString(key) || reservedGlobal(key) {
			continue
		}
		if _, clash := helperNames[key]; clash && n.PreloadHelpers {
			continue
		}
		globals[key] = value
	}
	return globals
}

// reservedGlobal reports keys that would replace interpreter or sandbox
// state: dunder names, the namespace's own variables and output capture.
func reservedGlobal(key string) bool {
	switch {
	case strings.HasPrefix(key, "__"), strings.HasPrefix(key, "_sandbox_"):
		return true
	case key == ArtifactsVar, key == ContextVar, key == "print":
		return true
	}
	return false
}

// Builder produces a fresh Namespace per request.
type Builder struct {
	store  ports.ArtifactStore
	logger *zap.Logger
}

// NewBuilder returns a Builder reading from store. A nil store stages nothing.
func NewBuilder(store ports.ArtifactStore, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{store: store, logger: logger.With(zap.String("component", "namespace"))}
}

// Build stages the artifacts named in req.ArtifactAccess and nothing else.
// Missing or empty artifacts are skipped; any other store failure aborts.
func (b *Builder) Build(ctx context.Context, req execution.Request) (*Namespace, error) {
	ns := &Namespace{
		Artifacts:      make(map[string]string, len(req.ArtifactAccess)),
		Context:        req.Context,
		PreloadHelpers: req.PreloadHelpers,
	}
	if ns.Context == nil {
		ns.Context = map[string]any{}
	}
	if req.PreloadHelpers {
		ns.Helpers = helpersSource
	}

	for _, id := range req.ArtifactAccess {
		if b.store == nil {
			ns.Skipped = append(ns.Skipped, id)
			continue
		}
		artifact, err := b.store.Get(ctx, id)
		if errors.Is(err, ports.ErrArtifactNotFound) {
			b.logger.Warn("artifact not found", zap.String("artifact_id", id), zap.String("request_id", req.ID))
			ns.Skipped = append(ns.Skipped, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stage artifact %q: %w", id, err)
		}
		if len(artifact.Data) == 0 {
			b.logger.Warn("artifact is empty", zap.String("artifact_id", id), zap.String("request_id", req.ID))
			ns.Skipped = append(ns.Skipped, id)
			continue
		}
		ns.Artifacts[id] = string(artifact.Data)
	}

	b.logger.Debug("namespace built",
		zap.String("request_id", req.ID),
		zap.Int("artifacts", len(ns.Artifacts)),
		zap.Int("skipped", len(ns.Skipped)),
		zap.Bool("helpers", req.PreloadHelpers),
	)
	return ns, nil
}
