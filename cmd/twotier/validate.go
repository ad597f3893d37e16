package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/validation"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var (
		outputFormat string
		skipCfnLint  bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the synthesized template",
		Long: `Validate synthesizes the template and checks it.

Checks performed:
  - Reference validity: every Ref, GetAtt, Sub and DependsOn target exists
  - Tier layering: the database group admits no address ranges and the
    database is not publicly accessible
  - cfn-lint: CloudFormation resource schema rules

Examples:
    twotier validate -c env.yaml
    twotier validate -c env.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			built := buildTemplate(cmd.Context(), cfg, opts)
			result := twotier.ValidateResult{Resources: len(built.Resources), Errors: built.Errors}
			if built.Success {
				checked, err := validation.Validate(built.Template, validation.Options{SkipCfnLint: skipCfnLint})
				if err != nil {
					return err
				}
				result.Success = checked.Passed()
				result.Errors = checked.Errors()
				result.Warnings = checked.Warnings()
			}
			if err := outputValidateResult(cmd.OutOrStdout(), result, outputFormat); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&skipCfnLint, "skip-cfn-lint", false, "Only run the structural checks")

	return cmd
}

func outputValidateResult(w io.Writer, result twotier.ValidateResult, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case "text":
		if result.Success {
			fmt.Fprintf(w, "Validation passed: %d resources OK\n", result.Resources)
		} else {
			fmt.Fprintln(w, "Validation FAILED:")
		}
		for _, errMsg := range result.Errors {
			fmt.Fprintf(w, "  ERROR: %s\n", errMsg)
		}
		for _, warnMsg := range result.Warnings {
			fmt.Fprintf(w, "  WARNING: %s\n", warnMsg)
		}
		return nil

	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
