package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"tradexec/internal/app/executor"
	"tradexec/internal/app/producer"
	"tradexec/internal/domain/execution"
	"tradexec/internal/infra/artifacts"
)

type runOptions struct {
	artifacts []string
	timeout   time.Duration
	backend   string
	noHelpers bool
	parallel  int
}

func newRunCmd(state *cli) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Execute one or more scripts and print their results as JSON",
		Long: `run executes each FILE as its own request and prints one JSON result per
line in the order the files were given. Use "-" to read a script from stdin.

Datasets are attached with --artifact id=path and every script is granted
access to all attached artifacts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.run(cmd.Context(), args, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.artifacts, "artifact", nil, "attach a dataset as id=path (repeatable)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "wall-clock limit per script (default from limits.timeout)")
	flags.StringVar(&opts.backend, "backend", "", "backend to run on (auto, subprocess, inprocess)")
	flags.BoolVar(&opts.noHelpers, "no-helpers", false, "do not preload the trade helper library")
	flags.IntVar(&opts.parallel, "parallel", 1, "number of scripts to run at once")
	return cmd
}

func (c *cli) run(ctx context.Context, files []string, opts runOptions, stdin io.Reader, out io.Writer) error {
	cfg := c.cfg
	if opts.backend != "" {
		cfg.Backend.Preference = opts.backend
	}

	store, err := artifacts.Open(ctx, cfg.artifactStore())
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}
	defer closeWithLog(c.logger, "artifact store", store)

	ids := make([]string, 0, len(opts.artifacts))
	for _, raw := range opts.artifacts {
		id, path, err := parseArtifactFlag(raw)
		if err != nil {
			return err
		}
		if err := artifacts.PutFile(ctx, store, id, path); err != nil {
			return fmt.Errorf("attach artifact %q: %w", id, err)
		}
		ids = append(ids, id)
	}

	requests := make([]execution.Request, 0, len(files))
	for i, file := range files {
		code, err := readScript(file, stdin)
		if err != nil {
			return err
		}
		requests = append(requests, execution.Request{
			ID:             scriptID(i, file),
			Code:           code,
			Language:       execution.LanguagePython,
			Limits:         execution.Limits{Timeout: opts.timeout},
			ArtifactAccess: ids,
			PreloadHelpers: !opts.noHelpers,
		})
	}

	engine, err := buildEngine(ctx, cfg, store, c.logger, nil)
	if err != nil {
		return err
	}
	defer closeWithLog(c.logger, "engine", engine)

	var mu sync.Mutex
	results := make(map[string]*execution.Result, len(requests))
	if err := engine.ExecuteFromSource(ctx, producer.NewService(requests...), len(requests), opts.parallel,
		func(report execution.Report) {
			mu.Lock()
			results[report.Request.ID] = report.Result
			mu.Unlock()
		},
	); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	failed := 0
	for _, req := range requests {
		result, ok := results[req.ID]
		if !ok {
			result = execution.Internal("execution interrupted")
		}
		if !result.Success() {
			failed++
		}
		if err := enc.Encode(executor.NewResponse(result)); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts failed", failed, len(requests))
	}
	return nil
}

func parseArtifactFlag(raw string) (string, string, error) {
	id, path, err := parseKeyValue(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid --artifact: %w", err)
	}
	return id, path, nil
}

func readScript(file string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read script %q: %w", file, err)
	}
	return string(data), nil
}

// scriptID keeps IDs unique when the same file is given twice.
func scriptID(index int, file string) string {
	name := "stdin"
	if file != "-" {
		name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	return fmt.Sprintf("%d-%s", index+1, name)
}
