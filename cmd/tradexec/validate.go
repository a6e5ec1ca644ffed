package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type verdictOutput struct {
	File     string   `json:"file"`
	OK       bool     `json:"ok"`
	Kind     string   `json:"kind,omitempty"`
	Rule     string   `json:"rule,omitempty"`
	Symbol   string   `json:"symbol,omitempty"`
	Line     int      `json:"line,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

var errRejected = errors.New("script rejected")

func newValidateCmd(state *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Statically check scripts without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.validate(cmd.Context(), args, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (c *cli) validate(ctx context.Context, files []string, stdin io.Reader, out io.Writer) error {
	validator, err := buildValidator(c.cfg, c.logger)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	rejected := 0
	for _, file := range files {
		code, err := readScript(file, stdin)
		if err != nil {
			return err
		}
		verdict := validator.Validate(ctx, code)
		if !verdict.OK {
			rejected++
		}
		if err := enc.Encode(verdictOutput{
			File:     file,
			OK:       verdict.OK,
			Kind:     string(verdict.Kind),
			Rule:     verdict.Rule,
			Symbol:   verdict.Symbol,
			Line:     verdict.Line,
			Reason:   verdict.Reason,
			Warnings: verdict.Warnings,
		}); err != nil {
			return fmt.Errorf("write verdict: %w", err)
		}
	}
	if rejected > 0 {
		return fmt.Errorf("%w: %d of %d", errRejected, rejected, len(files))
	}
	return nil
}
