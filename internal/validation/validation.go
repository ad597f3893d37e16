// Package validation checks a synthesized template before it is deployed.
//
// Two passes run over the template:
//   - structural rules: every reference resolves, every resource matches its
//     schema and the tier layering holds
//   - cfn-lint-go: the CloudFormation resource schema rules (library dependency)
package validation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lex00/cfn-lint-go/pkg/lint"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/engine/synth"
	"github.com/lex00/twotier-aws-go/internal/schema"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

// Issue levels, matching cfn-lint.
const (
	LevelError         = "Error"
	LevelWarning       = "Warning"
	LevelInformational = "Informational"
)

// Issue is a single structural finding.
type Issue struct {
	Rule     string `json:"rule"`
	Level    string `json:"level"`
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s (at Resources/%s)", i.Rule, i.Message, i.Resource)
}

// CfnLintResult contains the result of running cfn-lint.
type CfnLintResult struct {
	Passed        bool     `json:"passed"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Informational []string `json:"informational"`
}

// TotalIssues returns the total number of issues found.
func (r CfnLintResult) TotalIssues() int {
	return len(r.Errors) + len(r.Warnings) + len(r.Informational)
}

// Options configures Validate.
type Options struct {
	// SkipCfnLint disables the cfn-lint pass.
	SkipCfnLint bool
}

// Result contains all validation results for a template.
type Result struct {
	Issues        []Issue        `json:"issues"`
	CfnLintResult *CfnLintResult `json:"cfn_lint_result,omitempty"`
}

// Passed reports whether no pass produced an error.
func (r *Result) Passed() bool {
	for _, i := range r.Issues {
		if i.Level == LevelError {
			return false
		}
	}
	return r.CfnLintResult == nil || r.CfnLintResult.Passed
}

// Errors returns every error from both passes.
func (r *Result) Errors() []string {
	var out []string
	for _, i := range r.Issues {
		if i.Level == LevelError {
			out = append(out, i.String())
		}
	}
	if r.CfnLintResult != nil {
		out = append(out, r.CfnLintResult.Errors...)
	}
	return out
}

// Warnings returns every warning from both passes.
func (r *Result) Warnings() []string {
	var out []string
	for _, i := range r.Issues {
		if i.Level != LevelError {
			out = append(out, i.String())
		}
	}
	if r.CfnLintResult != nil {
		out = append(out, r.CfnLintResult.Warnings...)
	}
	return out
}

// Validate runs the structural rules and, unless skipped, cfn-lint.
func Validate(tmpl *twotier.Template, opts Options) (*Result, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("validate: nil template")
	}
	result := &Result{Issues: Check(tmpl)}
	if opts.SkipCfnLint {
		return result, nil
	}
	cfn, err := LintTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	result.CfnLintResult = cfn
	return result, nil
}

// LintTemplate writes tmpl to a temporary file and runs cfn-lint-go on it.
func LintTemplate(tmpl *twotier.Template) (*CfnLintResult, error) {
	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling template: %w", err)
	}
	dir, err := os.MkdirTemp("", "twotier-lint-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "template.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing template: %w", err)
	}
	return RunCfnLint(path)
}

// RunCfnLint runs cfn-lint-go on the given template file.
func RunCfnLint(templatePath string) (*CfnLintResult, error) {
	if _, err := os.Stat(templatePath); err != nil {
		return &CfnLintResult{
			Passed: false,
			Errors: []string{fmt.Sprintf("Template file not found: %s", templatePath)},
		}, nil
	}

	linter := lint.New(lint.Options{})
	matches, err := linter.LintFile(templatePath)
	if err != nil {
		return &CfnLintResult{
			Passed: false,
			Errors: []string{fmt.Sprintf("Linter error: %v", err)},
		}, nil
	}

	result := &CfnLintResult{
		Errors:        []string{},
		Warnings:      []string{},
		Informational: []string{},
	}
	for _, match := range matches {
		formatted := formatMatch(match)
		switch match.Level {
		case LevelError:
			result.Errors = append(result.Errors, formatted)
		case LevelWarning:
			result.Warnings = append(result.Warnings, formatted)
		default:
			result.Informational = append(result.Informational, formatted)
		}
	}

	// Warnings are acceptable.
	result.Passed = len(result.Errors) == 0
	return result, nil
}

func formatMatch(match lint.Match) string {
	pathStr := ""
	if len(match.Location.Path) > 0 {
		parts := make([]string, len(match.Location.Path))
		for i, p := range match.Location.Path {
			parts[i] = fmt.Sprintf("%v", p)
		}
		pathStr = strings.Join(parts, "/")
	}

	if pathStr != "" {
		return fmt.Sprintf("%s: %s (at %s)", match.Rule.ID, match.Message, pathStr)
	}
	return fmt.Sprintf("%s: %s", match.Rule.ID, match.Message)
}

// Rule is a structural check over a whole template.
type Rule struct {
	ID    string
	Level string
	Check func(tmpl *twotier.Template) []Issue
}

// Rules returns the structural rules in the order they run.
func Rules() []Rule {
	return []Rule{
		{ID: "TT001", Level: LevelError, Check: checkReferences},
		{ID: "TT002", Level: LevelError, Check: checkDependsOn},
		{ID: "TT003", Level: LevelError, Check: checkDataTier},
		{ID: "TT004", Level: LevelError, Check: checkDatabaseExposure},
		{ID: "TT005", Level: LevelWarning, Check: checkOpenSSH},
		{ID: "TT006", Level: LevelError, Check: checkSchema},
		{ID: "TT007", Level: LevelWarning, Check: checkUnknownTypes},
	}
}

// Check runs every structural rule and returns the findings sorted by
// resource then rule.
func Check(tmpl *twotier.Template) []Issue {
	var issues []Issue
	for _, rule := range Rules() {
		for _, issue := range rule.Check(tmpl) {
			issue.Rule = rule.ID
			issue.Level = rule.Level
			issues = append(issues, issue)
		}
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Resource != issues[j].Resource {
			return issues[i].Resource < issues[j].Resource
		}
		return issues[i].Rule < issues[j].Rule
	})
	return issues
}

func sortedNames(tmpl *twotier.Template) []string {
	names := make([]string, 0, len(tmpl.Resources))
	for name := range tmpl.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkReferences reports Ref, GetAtt and Sub targets missing from the template.
func checkReferences(tmpl *twotier.Template) []Issue {
	var issues []Issue
	report := func(resource, target string) {
		if strings.Contains(target, "::") {
			return
		}
		if _, ok := tmpl.Resources[target]; !ok {
			issues = append(issues, Issue{Resource: resource, Message: fmt.Sprintf("reference to undefined resource %q", target)})
		}
	}
	for _, name := range sortedNames(tmpl) {
		walkReferences(tmpl.Resources[name].Properties, func(target string) { report(name, target) })
	}
	outputs := make([]string, 0, len(tmpl.Outputs))
	for name := range tmpl.Outputs {
		outputs = append(outputs, name)
	}
	sort.Strings(outputs)
	for _, name := range outputs {
		walkReferences(tmpl.Outputs[name].Value, func(target string) { report("Outputs/"+name, target) })
	}
	return issues
}

// walkReferences calls fn with every resource named by an intrinsic in v.
func walkReferences(v any, fn func(target string)) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if ref, ok := val["Ref"].(string); ok {
				fn(ref)
				return
			}
			if args, ok := val["Fn::GetAtt"].([]any); ok && len(args) > 0 {
				if target, ok := args[0].(string); ok {
					fn(target)
				}
				return
			}
			if sub, ok := val["Fn::Sub"]; ok {
				walkSub(sub, fn)
				return
			}
		}
		for _, elem := range val {
			walkReferences(elem, fn)
		}
	case []any:
		for _, elem := range val {
			walkReferences(elem, fn)
		}
	}
}

func walkSub(sub any, fn func(target string)) {
	var (
		body string
		vars map[string]any
	)
	switch s := sub.(type) {
	case string:
		body = s
	case []any:
		if len(s) == 0 {
			return
		}
		body, _ = s[0].(string)
		if len(s) > 1 {
			vars, _ = s[1].(map[string]any)
			walkReferences(s[1], fn)
		}
	}
	synth.Scan(body, func(_, _ int, ref synth.Reference) {
		if strings.HasPrefix(ref.Resource, "!") {
			return
		}
		if _, ok := vars[ref.Resource]; ok {
			return
		}
		fn(ref.Resource)
	})
}

func checkDependsOn(tmpl *twotier.Template) []Issue {
	var issues []Issue
	for _, name := range sortedNames(tmpl) {
		for _, dep := range tmpl.Resources[name].DependsOn {
			if _, ok := tmpl.Resources[dep]; !ok {
				issues = append(issues, Issue{Resource: name, Message: fmt.Sprintf("DependsOn undefined resource %q", dep)})
			}
		}
	}
	return issues
}

// checkDataTier requires every database security group to admit traffic only
// from other security groups.
func checkDataTier(tmpl *twotier.Template) []Issue {
	var issues []Issue
	for _, name := range sortedNames(tmpl) {
		def := tmpl.Resources[name]
		if def.Type != stack.TypeDBInstance {
			continue
		}
		groups, _ := def.Properties["VPCSecurityGroups"].([]any)
		for _, g := range groups {
			walkReferences(g, func(target string) {
				group, ok := tmpl.Resources[target]
				if !ok || group.Type != stack.TypeSecurityGroup {
					return
				}
				rules, _ := group.Properties["SecurityGroupIngress"].([]any)
				for _, r := range rules {
					rule, _ := r.(map[string]any)
					if cidr, ok := rule["CidrIp"]; ok {
						issues = append(issues, Issue{
							Resource: target,
							Message:  fmt.Sprintf("database group %s admits %v by address", target, cidr),
						})
					}
				}
			})
		}
	}
	return issues
}

func checkDatabaseExposure(tmpl *twotier.Template) []Issue {
	var issues []Issue
	for _, name := range sortedNames(tmpl) {
		def := tmpl.Resources[name]
		if def.Type != stack.TypeDBInstance {
			continue
		}
		if public, _ := def.Properties["PubliclyAccessible"].(bool); public {
			issues = append(issues, Issue{Resource: name, Message: "database instance is publicly accessible"})
		}
	}
	return issues
}

// checkOpenSSH flags SSH open to the internet.
func checkOpenSSH(tmpl *twotier.Template) []Issue {
	var issues []Issue
	for _, name := range sortedNames(tmpl) {
		def := tmpl.Resources[name]
		if def.Type != stack.TypeSecurityGroup {
			continue
		}
		rules, _ := def.Properties["SecurityGroupIngress"].([]any)
		for _, r := range rules {
			rule, _ := r.(map[string]any)
			if rule["CidrIp"] == "0.0.0.0/0" && portOf(rule["FromPort"]) <= 22 && portOf(rule["ToPort"]) >= 22 {
				issues = append(issues, Issue{Resource: name, Message: "SSH is open to 0.0.0.0/0"})
			}
		}
	}
	return issues
}

// portOf reads a port from a normalized template, where numbers are float64.
func portOf(v any) int {
	switch p := v.(type) {
	case float64:
		return int(p)
	case int:
		return p
	}
	return -1
}

// checkSchema reports missing required properties and mistyped values.
func checkSchema(tmpl *twotier.Template) []Issue {
	return schemaIssues(tmpl, func(r *schema.Result) []schema.Error { return r.Errors })
}

func checkUnknownTypes(tmpl *twotier.Template) []Issue {
	return schemaIssues(tmpl, func(r *schema.Result) []schema.Error { return r.Warnings })
}

func schemaIssues(tmpl *twotier.Template, pick func(*schema.Result) []schema.Error) []Issue {
	result, err := schema.ValidateTemplate(tmpl, schema.Options{})
	if err != nil {
		return nil
	}
	var issues []Issue
	for _, e := range pick(result) {
		issues = append(issues, Issue{Resource: e.Resource, Message: fmt.Sprintf("%s: %s", e.Property, e.Message)})
	}
	return issues
}
