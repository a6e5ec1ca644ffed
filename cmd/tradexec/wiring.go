package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tradexec/internal/app/executor"
	"tradexec/internal/metrics"
	"tradexec/internal/namespace"
	"tradexec/internal/ports"
	"tradexec/internal/runtime"
	"tradexec/internal/runtime/inprocess"
	"tradexec/internal/runtime/subprocess"
	"tradexec/internal/security"
)

func buildValidator(cfg appConfig, logger *zap.Logger) (*security.Validator, error) {
	parser, err := security.NewParser(cfg.Validator.Parser, cfg.Backend.Python)
	if err != nil {
		return nil, fmt.Errorf("init validator: %w", err)
	}
	logger.Debug("validator parser selected", zap.String("parser", parser.Name()))
	return security.NewValidator(security.DefaultRules(), parser, logger), nil
}

func buildRegistry(cfg appConfig, logger *zap.Logger) (*runtime.Registry, error) {
	return runtime.NewRegistry(
		subprocess.New(subprocess.Config{
			Python:            cfg.Backend.Python,
			Args:              strings.Fields(cfg.Backend.Args),
			WorkDir:           cfg.Backend.WorkDir,
			AddressSpaceSlack: cfg.Backend.AddressSpaceSlack,
			Logger:            logger,
		}),
		inprocess.New(logger),
	)
}

// buildEngine wires an engine around store and sets up its backend. A
// setup failure is logged by the engine and only returned when an explicit
// backend was requested.
func buildEngine(
	ctx context.Context,
	cfg appConfig,
	store ports.ArtifactStore,
	logger *zap.Logger,
	reg prometheus.Registerer,
) (*executor.Engine, error) {
	validator, err := buildValidator(cfg, logger)
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	var recorder *metrics.Recorder
	if reg != nil {
		recorder = metrics.NewRecorder(reg)
	}

	engine := executor.New(executor.Config{
		DefaultLimits:     cfg.defaultLimits(),
		MaxConcurrent:     cfg.Engine.MaxConcurrent,
		QueueTimeout:      cfg.Engine.QueueTimeout,
		AdmissionRate:     cfg.Engine.AdmissionRate,
		AdmissionBurst:    cfg.Engine.AdmissionBurst,
		BackendPreference: cfg.Backend.Preference,
	}, executor.Dependencies{
		Validator: validator,
		Builder:   namespace.NewBuilder(store, logger),
		Registry:  registry,
		Metrics:   recorder,
		Logger:    logger,
	})

	if err := engine.Setup(ctx); err != nil {
		pref := cfg.Backend.Preference
		if pref != "" && pref != runtime.PreferenceAuto {
			_ = engine.Close()
			return nil, err
		}
	}
	return engine, nil
}
