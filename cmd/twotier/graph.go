package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lex00/twotier-aws-go/internal/graph"
)

func newGraphCmd(opts *rootOptions) *cobra.Command {
	var (
		outputFormat   string
		includeExports bool
		cluster        bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Generate a graph of resource dependencies",
		Long: `Generate a DOT or Mermaid graph of the declared resources. Data
dependencies are drawn solid, explicit ordering edges dashed.

The output can be rendered with Graphviz:
    twotier graph -c env.yaml | dot -Tpng -o deps.png

Examples:
    twotier graph -c env.yaml -e              # include export nodes
    twotier graph -c env.yaml -s              # cluster by service
    twotier graph -c env.yaml -f mermaid      # mermaid format`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var format graph.Format
			switch outputFormat {
			case "dot":
				format = graph.FormatDOT
			case "mermaid":
				format = graph.FormatMermaid
			default:
				return fmt.Errorf("unknown format: %s (use 'dot' or 'mermaid')", outputFormat)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, _, err := declare(cfg, opts.logger())
			if err != nil {
				return err
			}

			gen := &graph.Generator{
				Format:           format,
				IncludeExports:   includeExports,
				ClusterByService: cluster,
			}
			return gen.Generate(s, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "dot", "Output format: dot or mermaid")
	cmd.Flags().BoolVarP(&includeExports, "include-exports", "e", false, "Include export nodes in the graph")
	cmd.Flags().BoolVarP(&cluster, "cluster", "s", false, "Cluster resources by AWS service")

	return cmd
}
