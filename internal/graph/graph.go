// Package graph generates DOT and Mermaid format dependency graphs from a
// declared stack.
package graph

import (
	"io"
	"sort"
	"strings"

	"github.com/emicklei/dot"

	"github.com/lex00/twotier-aws-go/internal/stack"
)

// Format specifies the output format for the graph.
type Format string

const (
	// FormatDOT outputs Graphviz DOT format.
	FormatDOT Format = "dot"
	// FormatMermaid outputs Mermaid format for GitHub/markdown rendering.
	FormatMermaid Format = "mermaid"
)

// Generator creates dependency graphs from a stack.
type Generator struct {
	// IncludeExports adds a node per export, linked to the resources it reads.
	IncludeExports bool

	// Format specifies the output format (dot or mermaid). Defaults to dot.
	Format Format

	// ClusterByService groups resources by AWS service.
	ClusterByService bool
}

// Generate creates a dependency graph and writes it to w.
func (g *Generator) Generate(s *stack.Stack, w io.Writer) error {
	graph := g.buildGraph(s)

	format := g.Format
	if format == "" {
		format = FormatDOT
	}

	var output string
	if format == FormatMermaid {
		output = dot.MermaidGraph(graph, dot.MermaidTopToBottom)
	} else {
		output = graph.String()
	}

	_, err := w.Write([]byte(output))
	return err
}

// GenerateString is a convenience method that returns the graph as a string.
func (g *Generator) GenerateString(s *stack.Stack) (string, error) {
	var sb strings.Builder
	if err := g.Generate(s, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// buildGraph creates the dot.Graph structure from the stack.
func (g *Generator) buildGraph(s *stack.Stack) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "TB")

	graph.NodeInitializer(func(n dot.Node) {
		n.Attr("shape", "box")
		n.Attr("fontname", "Arial")
	})
	graph.EdgeInitializer(func(e dot.Edge) {
		e.Attr("fontname", "Arial")
		e.Attr("fontsize", "10")
	})

	resources := s.Resources()
	sort.Slice(resources, func(i, j int) bool { return resources[i].Name() < resources[j].Name() })

	nodes := make(map[string]dot.Node, len(resources))
	if g.ClusterByService {
		g.addClusteredNodes(graph, resources, nodes)
	} else {
		for _, r := range resources {
			nodes[r.Name()] = addNode(graph, r)
		}
	}

	for _, r := range resources {
		explicit := make(map[string]bool)
		for _, dep := range r.ExplicitDependencies() {
			explicit[dep] = true
		}
		for _, dep := range r.Dependencies() {
			e := graph.Edge(nodes[r.Name()], nodes[dep])
			// Explicit ordering edges carry no data.
			if explicit[dep] {
				e.Attr("style", "dashed")
			} else {
				e.Attr("color", "blue")
			}
		}
	}

	if g.IncludeExports {
		exports := s.Exports()
		names := make([]string, 0, len(exports))
		for name := range exports {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			n := graph.Node("export_" + name)
			n.Attr("shape", "ellipse")
			n.Attr("style", "dashed")
			n.Label(name)
			for _, origin := range exports[name].Origins() {
				if to, ok := nodes[origin.Resource]; ok {
					graph.Edge(n, to).Label(origin.Attribute)
				}
			}
		}
	}

	return graph
}

func addNode(graph *dot.Graph, r *stack.Resource) dot.Node {
	n := graph.Node(r.Name())
	n.Label(r.Name() + "\\n[" + r.Type() + "]")
	return n
}

// addClusteredNodes adds resource nodes grouped by AWS service.
func (g *Generator) addClusteredNodes(graph *dot.Graph, resources []*stack.Resource, nodes map[string]dot.Node) {
	byService := make(map[string][]*stack.Resource)
	var services []string
	for _, r := range resources {
		service := stack.Service(r.Type())
		if _, ok := byService[service]; !ok {
			services = append(services, service)
		}
		byService[service] = append(byService[service], r)
	}
	sort.Strings(services)

	for _, service := range services {
		members := byService[service]
		if len(members) == 1 {
			nodes[members[0].Name()] = addNode(graph, members[0])
			continue
		}
		cluster := graph.Subgraph("cluster_"+service, dot.ClusterOption{})
		cluster.Attr("label", service)
		cluster.Attr("style", "rounded")
		cluster.Attr("bgcolor", "lightyellow")
		for _, r := range members {
			nodes[r.Name()] = addNode(cluster, r)
		}
	}
}
