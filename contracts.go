// Package twotier holds the shared output types of the twotier toolchain: the
// CloudFormation template a desired-state graph is synthesized into, and the
// JSON results printed by the CLI.
//
// The graph itself is declared with internal/environment on an
// internal/stack.Stack and either converged by an engine or synthesized:
//
//	s := stack.New(cfg.Stack)
//	env, err := environment.Declare(s, cfg, log)
//	tmpl, err := template.FromStack(ctx, s, template.Options{})
package twotier

// Template represents a CloudFormation template.
type Template struct {
	AWSTemplateFormatVersion string                 `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description              string                 `json:"Description,omitempty" yaml:"Description,omitempty"`
	Resources                map[string]ResourceDef `json:"Resources" yaml:"Resources"`
	Outputs                  map[string]Output      `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

// ResourceDef is a single resource in the CloudFormation template.
type ResourceDef struct {
	Type           string         `json:"Type" yaml:"Type"`
	Properties     map[string]any `json:"Properties,omitempty" yaml:"Properties,omitempty"`
	DependsOn      []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
	DeletionPolicy string         `json:"DeletionPolicy,omitempty" yaml:"DeletionPolicy,omitempty"`
}

// Output is a CloudFormation template output.
type Output struct {
	Description string        `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any           `json:"Value" yaml:"Value"`
	Export      *OutputExport `json:"Export,omitempty" yaml:"Export,omitempty"`
}

// OutputExport names a cross-stack export.
type OutputExport struct {
	Name string `json:"Name" yaml:"Name"`
}

// BuildResult is the JSON output of `twotier build`.
type BuildResult struct {
	Success   bool      `json:"success"`
	Template  *Template `json:"template,omitempty"`
	Resources []string  `json:"resources,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

// PlanResult is the JSON output of `twotier plan`.
type PlanResult struct {
	Success bool `json:"success"`
	// Waves lists the resources that can be converged together, in order.
	Waves   [][]string        `json:"waves,omitempty"`
	Exports map[string]string `json:"exports,omitempty"`
	Errors  []string          `json:"errors,omitempty"`
}

// ValidateResult is the JSON output of `twotier validate`.
type ValidateResult struct {
	Success   bool     `json:"success"`
	Resources int      `json:"resources"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// PreflightResult is the JSON output of `twotier preflight`.
type PreflightResult struct {
	Success bool   `json:"success"`
	Account string `json:"account,omitempty"`
	Region  string `json:"region,omitempty"`
	// Zones lists the configured zones the region offers.
	Zones    []string `json:"zones,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// DiffEntry is one resource level difference between two templates.
type DiffEntry struct {
	Resource string   `json:"resource"`
	Type     string   `json:"type"`
	Changes  []string `json:"changes,omitempty"`
}

// TemplateDiff groups resource differences by kind.
type TemplateDiff struct {
	Added    []DiffEntry `json:"added,omitempty"`
	Removed  []DiffEntry `json:"removed,omitempty"`
	Modified []DiffEntry `json:"modified,omitempty"`
}

// DiffSummary counts the differences.
type DiffSummary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
	Total    int `json:"total"`
}

// DiffResult is the JSON output of `twotier diff`.
type DiffResult struct {
	Success bool         `json:"success"`
	Diff    TemplateDiff `json:"diff"`
	Summary DiffSummary  `json:"summary"`
}
