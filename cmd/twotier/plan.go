package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/engine/memory"
)

// errRehearsal is injected by --fail-on.
var errRehearsal = errors.New("injected failure")

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var (
		outputFormat string
		failOn       []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show convergence waves and rehearse the run",
		Long: `Plan groups the declared resources into waves that can converge
together, then rehearses the run against an in-memory engine and prints the
exports it would produce.

Examples:
    twotier plan -c env.yaml
    twotier plan -c env.yaml --format json
    twotier plan -c env.yaml --fail-on RdsInstance`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			result := runPlan(cmd.Context(), cfg, opts, failOn)
			if err := outputPlan(cmd.OutOrStdout(), result, outputFormat); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("plan failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringSliceVar(&failOn, "fail-on", nil, "Resources whose rehearsal fails")

	return cmd
}

func runPlan(ctx context.Context, cfg *config.Config, opts *rootOptions, failOn []string) twotier.PlanResult {
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.logger()
	defer func() { _ = log.Sync() }()

	s, _, err := declare(cfg, log)
	if err != nil {
		return twotier.PlanResult{Errors: []string{err.Error()}}
	}
	waves, err := s.Levels()
	if err != nil {
		return twotier.PlanResult{Errors: []string{err.Error()}}
	}
	result := twotier.PlanResult{Waves: waves}

	engineOpts := []memory.Option{memory.WithRegion(cfg.Region), memory.WithLogger(log.Named("memory"))}
	for _, name := range failOn {
		engineOpts = append(engineOpts, memory.FailOn(name, errRehearsal))
	}
	if err := s.Run(ctx, memory.New(cfg.Stack, engineOpts...)); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	exports, err := s.ResolveExports(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Exports = exports
	result.Success = true
	return result
}

func outputPlan(w io.Writer, result twotier.PlanResult, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "text":
		for i, wave := range result.Waves {
			fmt.Fprintf(w, "Wave %d:\n", i+1)
			for _, name := range wave {
				fmt.Fprintf(w, "  %s\n", name)
			}
		}
		if len(result.Exports) > 0 {
			fmt.Fprintln(w, "Exports:")
			names := make([]string, 0, len(result.Exports))
			for name := range result.Exports {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "  %s = %s\n", name, result.Exports[name])
			}
		}
		for _, e := range result.Errors {
			fmt.Fprintf(w, "ERROR: %s\n", e)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
