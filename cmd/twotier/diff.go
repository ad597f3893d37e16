package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/differ"
)

func newDiffCmd(opts *rootOptions) *cobra.Command {
	var (
		outputFormat string
		ignoreOrder  bool
	)

	cmd := &cobra.Command{
		Use:   "diff [template1] [template2]",
		Short: "Compare templates semantically",
		Long: `Diff compares two CloudFormation templates resource by resource.

With no arguments the single and balanced variants of the configuration are
compared. With one argument a saved template is compared with the current
configuration. With two arguments both templates are read from disk.

Examples:
    twotier diff -c env.yaml
    twotier diff -c env.yaml deployed.json
    twotier diff old.yaml new.yaml --ignore-order`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, after, err := diffInputs(cmd.Context(), opts, args)
			if err != nil {
				return err
			}
			result, err := differ.Compare(before, after, differ.Options{IgnoreOrder: ignoreOrder})
			if err != nil {
				return err
			}
			return outputDiff(cmd.OutOrStdout(), result, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&ignoreOrder, "ignore-order", false, "Ignore array element order")

	return cmd
}

func diffInputs(ctx context.Context, opts *rootOptions, args []string) (*twotier.Template, *twotier.Template, error) {
	switch len(args) {
	case 2:
		before, err := differ.LoadTemplate(args[0])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", args[0], err)
		}
		after, err := differ.LoadTemplate(args[1])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", args[1], err)
		}
		return before, after, nil
	case 1:
		before, err := differ.LoadTemplate(args[0])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", args[0], err)
		}
		after, err := synthesizeVariant(ctx, opts, config.Variant(opts.variant))
		return before, after, err
	default:
		before, err := synthesizeVariant(ctx, opts, config.VariantSingle)
		if err != nil {
			return nil, nil, err
		}
		after, err := synthesizeVariant(ctx, opts, config.VariantBalanced)
		return before, after, err
	}
}

func synthesizeVariant(ctx context.Context, opts *rootOptions, variant config.Variant) (*twotier.Template, error) {
	cfg, err := opts.loadVariant(variant)
	if err != nil {
		return nil, err
	}
	result := buildTemplate(ctx, cfg, opts)
	if !result.Success {
		return nil, fmt.Errorf("%s variant: %s", cfg.Variant, strings.Join(result.Errors, "; "))
	}
	return result.Template, nil
}

func outputDiff(w io.Writer, result *differ.Result, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(twotier.DiffResult{
			Success: true,
			Diff:    result.Diff,
			Summary: result.Summary,
		}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "text":
		if result.Summary.Total == 0 {
			fmt.Fprintln(w, "No differences")
			return nil
		}
		for _, e := range result.Diff.Added {
			fmt.Fprintf(w, "+ %s (%s)\n", e.Resource, e.Type)
		}
		for _, e := range result.Diff.Removed {
			fmt.Fprintf(w, "- %s (%s)\n", e.Resource, e.Type)
		}
		for _, e := range result.Diff.Modified {
			fmt.Fprintf(w, "~ %s (%s)\n", e.Resource, e.Type)
			for _, c := range e.Changes {
				fmt.Fprintf(w, "    %s\n", c)
			}
		}
		fmt.Fprintf(w, "\n%d added, %d removed, %d modified\n",
			result.Summary.Added, result.Summary.Removed, result.Summary.Modified)
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
