package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/preflight"
)

func newPreflightCmd(opts *rootOptions) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check the AWS account before deploying",
		Long: `Preflight uses the default AWS credential chain to confirm that the
caller identity resolves, every configured availability zone exists in the
region, the machine image is available, and no existing VPC overlaps the
address block.

Examples:
    twotier preflight -c env.yaml
    AWS_PROFILE=dev twotier preflight -c env.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log := opts.logger().Named("preflight")
			defer func() { _ = log.Sync() }()

			checker, err := preflight.NewFromConfig(cmd.Context(), cfg.Region, log)
			if err != nil {
				return err
			}
			result, err := checker.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := outputPreflight(cmd.OutOrStdout(), result, outputFormat); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("preflight failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")

	return cmd
}

func outputPreflight(w io.Writer, result *twotier.PreflightResult, format string) error {
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
			fmt.Fprintf(w, "Preflight passed: account %s, region %s, zones %v\n", result.Account, result.Region, result.Zones)
		} else {
			fmt.Fprintln(w, "Preflight FAILED:")
		}
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  ERROR: %s\n", e)
		}
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "  WARNING: %s\n", warn)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}
