// Package template builds CloudFormation templates from synthesized stack
// submissions.
package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/bootstrap"
	"github.com/lex00/twotier-aws-go/internal/engine/synth"
	"github.com/lex00/twotier-aws-go/internal/stack"
	"github.com/lex00/twotier-aws-go/intrinsics"
)

// Options configures FromStack.
type Options struct {
	Description string
	// ExportPrefix prefixes export names. Defaults to the stack name.
	ExportPrefix string
}

// FromStack synthesizes s and builds its template. Every export becomes an
// output exported as "<prefix>-<export>".
func FromStack(ctx context.Context, s *stack.Stack, opts Options) (*twotier.Template, error) {
	subs, exports, err := synth.Synthesize(ctx, s)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(subs)
	b.SetDescription(opts.Description)
	prefix := opts.ExportPrefix
	if prefix == "" {
		prefix = s.Name()
	}
	for name, value := range exports {
		b.AddOutput(stack.LogicalID(name), value, prefix+"-"+name)
	}
	return b.Build()
}

type output struct {
	value  string
	export string
}

// Builder constructs CloudFormation templates from submissions.
type Builder struct {
	description string
	resources   map[string]stack.Submission
	outputs     map[string]output
}

// NewBuilder creates a template builder from synthesized submissions.
func NewBuilder(subs []stack.Submission) *Builder {
	b := &Builder{
		resources: make(map[string]stack.Submission, len(subs)),
		outputs:   make(map[string]output),
	}
	for _, sub := range subs {
		b.resources[sub.Name] = sub
	}
	return b
}

// SetDescription sets the template description.
func (b *Builder) SetDescription(description string) {
	b.description = description
}

// AddOutput adds an output whose value may carry tokens. An empty export name
// adds an output without an export.
func (b *Builder) AddOutput(name, value, export string) {
	b.outputs[name] = output{value: value, export: export}
}

// Build constructs the CloudFormation template.
func (b *Builder) Build() (*twotier.Template, error) {
	order, err := b.topologicalSort()
	if err != nil {
		return nil, err
	}

	template := &twotier.Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Description:              b.description,
		Resources:                make(map[string]twotier.ResourceDef, len(order)),
	}

	for _, name := range order {
		sub := b.resources[name]
		props, err := b.serializeResource(sub)
		if err != nil {
			return nil, fmt.Errorf("serializing %s: %w", name, err)
		}
		template.Resources[name] = twotier.ResourceDef{
			Type:           sub.Type,
			Properties:     props,
			DependsOn:      sub.DependsOn,
			DeletionPolicy: sub.DeletionPolicy,
		}
	}

	if len(b.outputs) > 0 {
		template.Outputs = make(map[string]twotier.Output, len(b.outputs))
		for name, out := range b.outputs {
			value, err := normalize(b.transformValue(out.value))
			if err != nil {
				return nil, fmt.Errorf("serializing output %s: %w", name, err)
			}
			o := twotier.Output{Value: value}
			if out.export != "" {
				o.Export = &twotier.OutputExport{Name: out.export}
			}
			template.Outputs[name] = o
		}
	}

	return template, nil
}

// serializeResource converts resolved properties to template properties.
func (b *Builder) serializeResource(sub stack.Submission) (map[string]any, error) {
	if len(sub.Properties) == 0 {
		return nil, nil
	}
	transformed := b.transformValue(sub.Properties)
	normalized, err := normalize(transformed)
	if err != nil {
		return nil, err
	}
	props, _ := normalized.(map[string]any)
	return props, nil
}

// normalize round-trips a value through JSON so intrinsic and tag structs
// become plain maps that marshal the same way to JSON and YAML.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// transformValue converts tokens to intrinsic functions.
func (b *Builder) transformValue(value any) any {
	switch v := value.(type) {
	case string:
		return b.transformString(v)
	case bootstrap.UserData:
		// Launch templates and instances both take base64 user data.
		return intrinsics.Base64{Value: b.transformString(string(v.Script))}
	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			result[key] = b.transformValue(val)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, elem := range v {
			result[i] = b.transformValue(elem)
		}
		return result
	default:
		return value
	}
}

// transformString returns a Ref or Fn::GetAtt for a lone token, an Fn::Sub
// for embedded tokens, and s itself otherwise.
func (b *Builder) transformString(s string) any {
	var refs []synth.Reference
	whole := false
	synth.Scan(s, func(start, end int, ref synth.Reference) {
		if !b.isResource(ref) {
			return
		}
		refs = append(refs, ref)
		whole = start == 0 && end == len(s)
	})
	switch {
	case len(refs) == 0:
		return s
	case whole && len(refs) == 1:
		ref := refs[0]
		if ref.IsRef() {
			return intrinsics.Ref{LogicalName: ref.Resource}
		}
		return intrinsics.GetAtt{LogicalName: ref.Resource, Attribute: ref.Attribute}
	}
	return intrinsics.Sub{String: b.escape(s)}
}

// escape keeps resource tokens and pseudo parameters and turns every other
// ${...} into the literal ${!...} form.
func (b *Builder) escape(s string) string {
	var out strings.Builder
	last := 0
	synth.Scan(s, func(start, end int, ref synth.Reference) {
		out.WriteString(s[last:start])
		if b.isResource(ref) || strings.Contains(ref.Resource, "::") {
			out.WriteString(s[start:end])
		} else {
			out.WriteString("${!")
			out.WriteString(s[start+2 : end])
		}
		last = end
	})
	out.WriteString(s[last:])
	return out.String()
}

func (b *Builder) isResource(ref synth.Reference) bool {
	_, ok := b.resources[ref.Resource]
	return ok
}

// dependencies returns the explicit and token dependencies of a resource.
func (b *Builder) dependencies(sub stack.Submission) []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(name string) {
		if name == sub.Name || seen[name] {
			return
		}
		if _, ok := b.resources[name]; !ok {
			return
		}
		seen[name] = true
		deps = append(deps, name)
	}
	for _, d := range sub.DependsOn {
		add(d)
	}
	var walk func(v any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			synth.Scan(val, func(_, _ int, ref synth.Reference) { add(ref.Resource) })
		case bootstrap.UserData:
			walk(string(val.Script))
		case map[string]any:
			for _, elem := range val {
				walk(elem)
			}
		case []any:
			for _, elem := range val {
				walk(elem)
			}
		}
	}
	walk(sub.Properties)
	sort.Strings(deps)
	return deps
}

// topologicalSort returns resources in dependency order.
func (b *Builder) topologicalSort() ([]string, error) {
	graph := make(map[string][]string)
	inDegree := make(map[string]int)

	for name := range b.resources {
		graph[name] = nil
		inDegree[name] = 0
	}
	for name, sub := range b.resources {
		for _, dep := range b.dependencies(sub) {
			graph[dep] = append(graph[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, neighbor := range graph[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(b.resources) {
		return nil, b.detectCycle()
	}
	return result, nil
}

// detectCycle finds and reports a cycle in the dependency graph.
func (b *Builder) detectCycle() error {
	visited := make(map[string]bool)
	path := make(map[string]bool)

	var cycle []string
	var findCycle func(node string) bool
	findCycle = func(node string) bool {
		visited[node] = true
		path[node] = true

		for _, dep := range b.dependencies(b.resources[node]) {
			if !visited[dep] {
				if findCycle(dep) {
					cycle = append([]string{node}, cycle...)
					return true
				}
			} else if path[dep] {
				cycle = append([]string{dep, node}, cycle...)
				return true
			}
		}

		path[node] = false
		return false
	}

	names := make([]string, 0, len(b.resources))
	for name := range b.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !visited[name] && findCycle(name) {
			break
		}
	}

	if len(cycle) > 0 {
		return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " → "))
	}
	return errors.New("circular dependency detected")
}

// ToJSON serializes the template to JSON.
func ToJSON(t *twotier.Template) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// ToYAML serializes the template to YAML.
func ToYAML(t *twotier.Template) ([]byte, error) {
	return yaml.Marshal(t)
}
