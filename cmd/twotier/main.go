// Command twotier declares a two-tier AWS environment and synthesizes it into a
// CloudFormation template.
//
// Usage:
//
//	twotier build -c env.yaml              Generate CloudFormation template
//	twotier plan -c env.yaml               Show convergence waves and exports
//	twotier diff -c env.yaml               Compare the single and balanced variants
//	twotier preflight -c env.yaml          Check the AWS account before deploying
//	twotier version                        Show version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/environment"
	twotierlog "github.com/lex00/twotier-aws-go/internal/log"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	variant    string
	log        twotierlog.Options
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{log: twotierlog.NewDefaultOptions()}

	rootCmd := &cobra.Command{
		Use:   "twotier",
		Short: "Declare a two-tier AWS environment",
		Long: `twotier declares a two-tier AWS environment as a desired-state graph:
a VPC with public and private subnets, layered security groups, a managed
PostgreSQL database and either a single application instance or a load
balanced autoscaling group behind a DNS alias.

Settings come from a YAML file overlaid by environment variables:

    MY_PUBLIC_SUBNETS=2 AWS_AVAILABILITY_ZONES=a,b twotier build -c env.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.log.Validate()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Configuration file (YAML)")
	flags.StringVar(&opts.variant, "variant", "", "Override the deployment variant: single or balanced")
	opts.log.AddFlags(flags)

	rootCmd.AddCommand(
		newBuildCmd(opts),
		newGraphCmd(opts),
		newPlanCmd(opts),
		newDiffCmd(opts),
		newValidateCmd(opts),
		newPreflightCmd(opts),
		newSimulateCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func (o *rootOptions) logger() *zap.SugaredLogger {
	return twotierlog.New(o.log.Debug, o.log.Format).Sugar()
}

// loadConfig reads the configuration, applying the --variant override on top
// of the environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	return o.loadVariant(config.Variant(o.variant))
}

func (o *rootOptions) loadVariant(variant config.Variant) (*config.Config, error) {
	lookup := func(key string) (string, bool) {
		if key == config.EnvVariant && variant != "" {
			return string(variant), true
		}
		return os.LookupEnv(key)
	}
	return config.LoadWithEnv(o.configFile, lookup)
}

// declare builds a fresh stack holding the environment described by cfg.
func declare(cfg *config.Config, log *zap.SugaredLogger) (*stack.Stack, *environment.Environment, error) {
	s := stack.New(cfg.Stack, stack.WithLogger(log.Named("stack")))
	env, err := environment.Declare(s, cfg, log.Named("environment"))
	if err != nil {
		return nil, nil, err
	}
	return s, env, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "twotier %s\n", getVersion())
		},
	}
}
