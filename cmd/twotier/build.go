package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/template"
)

func newBuildCmd(opts *rootOptions) *cobra.Command {
	var (
		outputFormat string
		outputFile   string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Generate the CloudFormation template",
		Long: `Build declares the environment and synthesizes it into a template.

Examples:
    twotier build -c env.yaml
    twotier build -c env.yaml -o template.json
    twotier build -c env.yaml --variant single --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			result := buildTemplate(cmd.Context(), cfg, opts)
			return outputResult(cmd.OutOrStdout(), result, outputFormat, outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

// buildTemplate declares cfg and synthesizes the template. Failures are
// reported in the result.
func buildTemplate(ctx context.Context, cfg *config.Config, opts *rootOptions) twotier.BuildResult {
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.logger()
	defer func() { _ = log.Sync() }()

	s, _, err := declare(cfg, log)
	if err != nil {
		return twotier.BuildResult{Errors: []string{err.Error()}}
	}
	tmpl, err := template.FromStack(ctx, s, template.Options{
		Description:  fmt.Sprintf("%s: two-tier environment (%s)", cfg.Stack, cfg.Variant),
		ExportPrefix: cfg.Stack,
	})
	if err != nil {
		return twotier.BuildResult{Errors: []string{err.Error()}}
	}

	names := make([]string, 0, s.Len())
	for _, r := range s.Resources() {
		names = append(names, r.Name())
	}
	log.Debugw("synthesized template", "resources", len(names), "outputs", len(tmpl.Outputs))
	return twotier.BuildResult{Success: true, Template: tmpl, Resources: names}
}

func outputResult(w io.Writer, result twotier.BuildResult, format, outputFile string) error {
	if !result.Success {
		for _, e := range result.Errors {
			fmt.Fprintln(os.Stderr, e)
		}
		return fmt.Errorf("build failed")
	}

	data, err := render(result.Template, format)
	if err != nil {
		return err
	}

	if outputFile == "" {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}
	return os.WriteFile(outputFile, data, 0o644)
}

func render(tmpl *twotier.Template, format string) ([]byte, error) {
	switch format {
	case "json":
		return template.ToJSON(tmpl)
	case "yaml":
		return template.ToYAML(tmpl)
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}
