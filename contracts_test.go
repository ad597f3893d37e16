package twotier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestResourceDef_MarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		def      ResourceDef
		expected string
	}{
		{
			name:     "type only",
			def:      ResourceDef{Type: "AWS::EC2::VPC"},
			expected: `{"Type":"AWS::EC2::VPC"}`,
		},
		{
			name: "deletion policy",
			def: ResourceDef{
				Type:           "AWS::RDS::DBInstance",
				Properties:     map[string]any{"Engine": "postgres"},
				DeletionPolicy: "Delete",
			},
			expected: `{"Type":"AWS::RDS::DBInstance","Properties":{"Engine":"postgres"},"DeletionPolicy":"Delete"}`,
		},
		{
			name: "depends on",
			def: ResourceDef{
				Type:      "AWS::EC2::Route",
				DependsOn: []string{"MyInternetGatewayAttachment"},
			},
			expected: `{"Type":"AWS::EC2::Route","DependsOn":["MyInternetGatewayAttachment"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.def)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

func TestTemplate_YAMLKeys(t *testing.T) {
	tmpl := Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Resources: map[string]ResourceDef{
			"MyVpc": {Type: "AWS::EC2::VPC"},
		},
		Outputs: map[string]Output{
			"Role": {Value: map[string]any{"Ref": "CloudwatchRole"}, Export: &OutputExport{Name: "dev-role"}},
		},
	}
	data, err := yaml.Marshal(tmpl)
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Contains(t, back, "AWSTemplateFormatVersion")
	assert.Contains(t, back, "Resources")
	outputs := back["Outputs"].(map[string]any)
	role := outputs["Role"].(map[string]any)
	assert.Equal(t, map[string]any{"Name": "dev-role"}, role["Export"])
}

func TestBuildResult_OmitsEmpty(t *testing.T) {
	data, err := json.Marshal(BuildResult{Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(data))
}
