package validation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lex00/cfn-lint-go/pkg/lint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/environment"
	"github.com/lex00/twotier-aws-go/internal/stack"
	"github.com/lex00/twotier-aws-go/internal/template"
)

func synthesize(t *testing.T, variant config.Variant) *twotier.Template {
	t.Helper()
	cfg, err := config.LoadWithEnv("../config/testdata/balanced.yaml", func(key string) (string, bool) {
		if key == config.EnvVariant {
			return string(variant), true
		}
		return "", false
	})
	require.NoError(t, err)

	s := stack.New(cfg.Stack)
	_, err = environment.Declare(s, cfg, nil)
	require.NoError(t, err)
	tmpl, err := template.FromStack(context.Background(), s, template.Options{ExportPrefix: cfg.Stack})
	require.NoError(t, err)
	return tmpl
}

func TestCheck_BalancedIsClean(t *testing.T) {
	assert.Empty(t, Check(synthesize(t, config.VariantBalanced)))
}

func TestCheck_SingleWarnsOnOpenSSH(t *testing.T) {
	issues := Check(synthesize(t, config.VariantSingle))
	require.Len(t, issues, 1)
	assert.Equal(t, "TT005", issues[0].Rule)
	assert.Equal(t, LevelWarning, issues[0].Level)
	assert.Equal(t, "AppSecurityGroup", issues[0].Resource)
}

func TestCheck_UndefinedReferences(t *testing.T) {
	tmpl := &twotier.Template{
		Resources: map[string]twotier.ResourceDef{
			"MyPublicSubnet1": {Type: stack.TypeSubnet, Properties: map[string]any{
				"VpcId": map[string]any{"Ref": "MyVpc"},
			}},
			"WebAppInstance": {Type: stack.TypeInstance, Properties: map[string]any{
				"ImageId": "ami-1",
				"UserData": map[string]any{"Fn::Base64": map[string]any{
					"Fn::Sub": "host=${RdsInstance.Endpoint.Address} region=${AWS::Region} home=${!HOME}",
				}},
			}},
			"MyPublicRoute": {
				Type:       stack.TypeRoute,
				Properties: map[string]any{"RouteTableId": "rtb-1"},
				DependsOn:  []string{"MyInternetGatewayAttachment"},
			},
		},
		Outputs: map[string]twotier.Output{
			"LoadBalancer": {Value: map[string]any{"Fn::GetAtt": []any{"MyLoadBalancer", "DNSName"}}},
		},
	}

	issues := Check(tmpl)
	require.Len(t, issues, 4)

	assert.Equal(t, "MyPublicRoute", issues[0].Resource)
	assert.Equal(t, "TT002", issues[0].Rule)
	assert.Equal(t, "MyPublicSubnet1", issues[1].Resource)
	assert.Contains(t, issues[1].Message, `"MyVpc"`)
	assert.Equal(t, "Outputs/LoadBalancer", issues[2].Resource)
	assert.Equal(t, "WebAppInstance", issues[3].Resource)
	assert.Contains(t, issues[3].Message, `"RdsInstance"`)
}

func TestCheck_SubVariablesAreNotResources(t *testing.T) {
	tmpl := &twotier.Template{
		Resources: map[string]twotier.ResourceDef{
			"WebAppInstance": {Type: stack.TypeInstance, Properties: map[string]any{
				"ImageId":  "ami-1",
				"UserData": map[string]any{"Fn::Sub": []any{"host=${Host}", map[string]any{"Host": "db"}}},
			}},
		},
	}
	assert.Empty(t, Check(tmpl))
}

func TestCheck_DataTierByAddress(t *testing.T) {
	tmpl := &twotier.Template{
		Resources: map[string]twotier.ResourceDef{
			"DbSecurityGroup": {Type: stack.TypeSecurityGroup, Properties: map[string]any{
				"GroupDescription": "Database access",
				"SecurityGroupIngress": []any{
					map[string]any{"IpProtocol": "tcp", "FromPort": 5432.0, "ToPort": 5432.0, "CidrIp": "10.0.0.0/16"},
				},
			}},
			"RdsInstance": {Type: stack.TypeDBInstance, Properties: map[string]any{
				"VPCSecurityGroups":  []any{map[string]any{"Ref": "DbSecurityGroup"}},
				"DBInstanceClass":    "db.t3.micro",
				"PubliclyAccessible": true,
			}},
		},
	}

	issues := Check(tmpl)
	require.Len(t, issues, 2)
	assert.Equal(t, "TT003", issues[0].Rule)
	assert.Equal(t, "DbSecurityGroup", issues[0].Resource)
	assert.Equal(t, "TT004", issues[1].Rule)
	assert.Equal(t, "RdsInstance", issues[1].Resource)
}

func TestCheck_Schema(t *testing.T) {
	tmpl := &twotier.Template{
		Resources: map[string]twotier.ResourceDef{
			"ScaleUpPolicy": {Type: stack.TypeScalingPolicy, Properties: map[string]any{
				"AdjustmentType":    "ChangeByOne",
				"ScalingAdjustment": "one",
			}},
			"Bucket": {Type: "AWS::S3::Bucket"},
		},
	}

	issues := Check(tmpl)
	require.Len(t, issues, 4)
	assert.Equal(t, Issue{Rule: "TT007", Level: LevelWarning, Resource: "Bucket",
		Message: "Type: unknown resource type: AWS::S3::Bucket (schema not available for validation)"}, issues[0])
	for _, issue := range issues[1:] {
		assert.Equal(t, "ScaleUpPolicy", issue.Resource)
		assert.Equal(t, "TT006", issue.Rule)
	}
	assert.Contains(t, issues[1].Message, "missing required property: AutoScalingGroupName")
}

func TestValidate_SkipCfnLint(t *testing.T) {
	result, err := Validate(synthesize(t, config.VariantSingle), Options{SkipCfnLint: true})
	require.NoError(t, err)
	assert.Nil(t, result.CfnLintResult)
	assert.True(t, result.Passed(), "warnings do not fail validation")
	assert.Empty(t, result.Errors())
	assert.Len(t, result.Warnings(), 1)

	_, err = Validate(nil, Options{})
	assert.Error(t, err)
}

func TestResult_FailsOnCfnLintErrors(t *testing.T) {
	result := &Result{CfnLintResult: &CfnLintResult{Passed: false, Errors: []string{"E3002: bad"}}}
	assert.False(t, result.Passed())
	assert.Equal(t, []string{"E3002: bad"}, result.Errors())
}

func TestLintTemplate(t *testing.T) {
	result, err := LintTemplate(synthesize(t, config.VariantBalanced))
	require.NoError(t, err)
	// Result should parse successfully whether or not there are warnings.
	assert.NotNil(t, result)
}

func TestCfnLintResult_TotalIssues(t *testing.T) {
	tests := []struct {
		name     string
		result   CfnLintResult
		expected int
	}{
		{name: "empty result", result: CfnLintResult{}, expected: 0},
		{name: "errors only", result: CfnLintResult{Errors: []string{"error1", "error2"}}, expected: 2},
		{
			name: "mixed issues",
			result: CfnLintResult{
				Errors:        []string{"error1"},
				Warnings:      []string{"warning1", "warning2"},
				Informational: []string{"info1"},
			},
			expected: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.TotalIssues())
		})
	}
}

func TestFormatMatch(t *testing.T) {
	tests := []struct {
		name     string
		match    lint.Match
		expected string
	}{
		{
			name: "simple match",
			match: lint.Match{
				Rule:    lint.MatchRule{ID: "E1234"},
				Message: "Something is wrong",
			},
			expected: "E1234: Something is wrong",
		},
		{
			name: "match with path",
			match: lint.Match{
				Rule:    lint.MatchRule{ID: "W5678"},
				Message: "Warning message",
				Location: lint.MatchLocation{
					Path: []any{"Resources", "RdsInstance", "Properties"},
				},
			},
			expected: "W5678: Warning message (at Resources/RdsInstance/Properties)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatMatch(tt.match))
		})
	}
}

func TestRunCfnLint_FileNotFound(t *testing.T) {
	result, err := RunCfnLint("/nonexistent/template.yaml")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Template file not found")
}

func TestRunCfnLint_File(t *testing.T) {
	templatePath := filepath.Join(t.TempDir(), "template.yaml")
	doc := `AWSTemplateFormatVersion: '2010-09-09'
Resources:
  MyVpc:
    Type: AWS::EC2::VPC
    Properties:
      CidrBlock: 10.0.0.0/16
`
	require.NoError(t, os.WriteFile(templatePath, []byte(doc), 0o644))

	result, err := RunCfnLint(templatePath)
	require.NoError(t, err)
	assert.NotNil(t, result)
}
