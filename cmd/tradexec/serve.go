package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradexec/internal/app/executor"
	"tradexec/internal/app/producer"
	"tradexec/internal/domain/execution"
	"tradexec/internal/infra/artifacts"
	kafkainfra "tradexec/internal/infra/kafka"
	"tradexec/internal/ports"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(state *cli) *cobra.Command {
	var demo bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume execution requests from Kafka and publish results",
		Long: `serve reads execution requests from the requests topic, runs them on the
selected backend and publishes one result message per request to the results
topic. Prometheus metrics are exposed on metrics.addr at /metrics.

With --demo a built-in catalogue of analyses is executed instead and the
results are printed to stdout as JSON lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.serve(cmd.Context(), demo, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "run the built-in demo requests instead of consuming Kafka")
	return cmd
}

func (c *cli) serve(ctx context.Context, demo bool, out io.Writer) error {
	cfg, logger := c.cfg, c.logger

	store, err := artifacts.Open(ctx, cfg.artifactStore())
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer closeWithLog(logger, "artifact store", store)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := buildEngine(ctx, cfg, store, logger, registry)
	if err != nil {
		return err
	}
	defer closeWithLog(logger, "engine", engine)

	source, publish, cleanup, err := c.transport(demo, out)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	runCtx, stopRun := context.WithCancel(groupCtx)
	defer stopRun()

	if cfg.Metrics.Addr != "" {
		group.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		logger.Info("serving execution requests",
			zap.Bool("demo", demo),
			zap.String("backend", engine.CurrentBackend()),
		)
		return engine.ExecuteFromSource(
			runCtx,
			source,
			parseMaxRequests(cfg.Kafka.MaxRequests),
			parseMaxParallel(cfg.Kafka.MaxParallel),
			func(report execution.Report) {
				// Publishing must outlive cancellation so in-flight results
				// still reach the results topic during shutdown.
				pubCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), shutdownTimeout)
				defer cancel()
				if err := publish(pubCtx, report); err != nil {
					logger.Error("publish result",
						zap.String("request_id", report.Request.ID),
						zap.Error(err),
					)
				}
			},
		)
	})

	return group.Wait()
}

type publishFunc func(ctx context.Context, report execution.Report) error

// transport resolves where requests come from and where reports go.
func (c *cli) transport(demo bool, out io.Writer) (ports.RequestSource, publishFunc, func(), error) {
	if demo {
		return producer.NewDemoService(), jsonLinePublisher(out), func() {}, nil
	}

	brokers := parseBrokerList(c.cfg.Kafka.Brokers)
	consumer, err := kafkainfra.NewConsumer(kafkainfra.Config{
		Brokers: brokers,
		Topic:   c.cfg.Kafka.RequestsTopic,
		GroupID: c.cfg.Kafka.GroupID,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init kafka consumer: %w", err)
	}
	publisher, err := kafkainfra.NewPublisher(kafkainfra.PublisherConfig{
		Brokers: brokers,
		Topic:   c.cfg.Kafka.ResultsTopic,
		Logger:  c.logger,
	})
	if err != nil {
		_ = consumer.Close()
		return nil, nil, nil, fmt.Errorf("init kafka publisher: %w", err)
	}

	cleanup := func() {
		closeWithLog(c.logger, "kafka consumer", consumer)
		closeWithLog(c.logger, "kafka publisher", publisher)
	}
	return consumer, publisher.PublishResult, cleanup, nil
}

func jsonLinePublisher(out io.Writer) publishFunc {
	enc := json.NewEncoder(out)
	var mu sync.Mutex
	return func(ctx context.Context, report execution.Report) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(struct {
			ID string `json:"id"`
			executor.Response
		}{ID: report.Request.ID, Response: executor.NewResponse(report.Result)})
	}
}

func metricsMux(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

func closeWithLog(logger *zap.Logger, what string, closer io.Closer) {
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close "+what, zap.Error(err))
	}
}
