package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

func resources(defs map[string]twotier.ResourceDef) *twotier.Template {
	return &twotier.Template{Resources: defs}
}

func TestValidateTemplate_Valid(t *testing.T) {
	tmpl := resources(map[string]twotier.ResourceDef{
		"MyVpc": {Type: stack.TypeVPC, Properties: map[string]any{
			"CidrBlock":          "10.0.0.0/16",
			"EnableDnsSupport":   true,
			"EnableDnsHostnames": "true",
		}},
		"RdsInstance": {Type: stack.TypeDBInstance, Properties: map[string]any{
			"DBInstanceClass":   "db.t3.micro",
			"AllocatedStorage":  "20",
			"StorageType":       "gp2",
			"Port":              5432.0,
			"DBSubnetGroupName": map[string]any{"Ref": "RdsSubnetGroup"},
		}},
	})

	result, err := ValidateTemplate(tmpl, Options{})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateTemplate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		resource twotier.ResourceDef
		expected []Error
	}{
		{
			name:     "missing required",
			resource: twotier.ResourceDef{Type: stack.TypeRecordSet, Properties: map[string]any{"Name": "app.example.com"}},
			expected: []Error{{Resource: "R", Property: "Type", Message: "missing required property: Type"}},
		},
		{
			name: "value not allowed",
			resource: twotier.ResourceDef{Type: stack.TypeAlarm, Properties: map[string]any{
				"ComparisonOperator": "Above",
				"EvaluationPeriods":  1.0,
			}},
			expected: []Error{{
				Resource: "R",
				Property: "ComparisonOperator",
				Message:  `value "Above" not in allowed values: [GreaterThanOrEqualToThreshold GreaterThanThreshold LessThanThreshold LessThanOrEqualToThreshold]`,
			}},
		},
		{
			name: "wrong kind",
			resource: twotier.ResourceDef{Type: stack.TypeAutoScalingGroup, Properties: map[string]any{
				"MinSize":           "1",
				"MaxSize":           "three",
				"VPCZoneIdentifier": "subnet-1",
			}},
			expected: []Error{
				{Resource: "R", Property: "MaxSize", Message: "expected type Integer"},
				{Resource: "R", Property: "VPCZoneIdentifier", Message: "expected type List"},
			},
		},
		{
			name:     "malformed type",
			resource: twotier.ResourceDef{Type: "EC2::Instance"},
			expected: []Error{{Resource: "R", Property: "Type", Message: "invalid resource type format: EC2::Instance"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateTemplate(resources(map[string]twotier.ResourceDef{"R": tt.resource}), Options{})
			require.NoError(t, err)
			assert.False(t, result.Valid)
			assert.Equal(t, tt.expected, result.Errors)
		})
	}
}

func TestValidateTemplate_DeletionPolicy(t *testing.T) {
	tests := []struct {
		name     string
		resource twotier.ResourceDef
		expected []Error
	}{
		{
			name:     "snapshot database",
			resource: twotier.ResourceDef{Type: stack.TypeDBInstance, Properties: map[string]any{"DBInstanceClass": "db.t3.micro"}, DeletionPolicy: stack.DeletionPolicySnapshot},
		},
		{
			name:     "retain vpc",
			resource: twotier.ResourceDef{Type: stack.TypeVPC, Properties: map[string]any{"CidrBlock": "10.0.0.0/16"}, DeletionPolicy: stack.DeletionPolicyRetain},
		},
		{
			name:     "snapshot vpc",
			resource: twotier.ResourceDef{Type: stack.TypeVPC, Properties: map[string]any{"CidrBlock": "10.0.0.0/16"}, DeletionPolicy: stack.DeletionPolicySnapshot},
			expected: []Error{{Resource: "R", Property: "DeletionPolicy", Message: "AWS::EC2::VPC does not support snapshots"}},
		},
		{
			name:     "unknown policy",
			resource: twotier.ResourceDef{Type: stack.TypeVPC, Properties: map[string]any{"CidrBlock": "10.0.0.0/16"}, DeletionPolicy: "Keep"},
			expected: []Error{{Resource: "R", Property: "DeletionPolicy", Message: `value "Keep" not in allowed values: [Delete Retain Snapshot]`}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateTemplate(resources(map[string]twotier.ResourceDef{"R": tt.resource}), Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Errors)
			assert.Equal(t, len(tt.expected) == 0, result.Valid)
		})
	}
}

func TestValidateTemplate_Warnings(t *testing.T) {
	tmpl := resources(map[string]twotier.ResourceDef{
		"Bucket": {Type: "AWS::S3::Bucket"},
		"Widget": {Type: "Custom::Widget"},
		"MyInternetGateway": {Type: stack.TypeInternetGateway, Properties: map[string]any{
			"Colour": "blue",
		}},
	})

	result, err := ValidateTemplate(tmpl, Options{})
	require.NoError(t, err)
	assert.True(t, result.Valid, "unknown types do not invalidate")
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "Bucket", result.Warnings[0].Resource)
	assert.Equal(t, "Widget", result.Warnings[1].Resource)

	result, err = ValidateTemplate(tmpl, Options{Strict: true})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 3)
	assert.Equal(t, Error{Resource: "MyInternetGateway", Property: "Colour", Message: "unknown property: Colour"}, result.Warnings[1])
}

func TestValidateTemplate_Nil(t *testing.T) {
	_, err := ValidateTemplate(nil, Options{})
	assert.Error(t, err)
}

func TestIsValidType(t *testing.T) {
	tests := []struct {
		value    any
		kind     string
		expected bool
	}{
		{"abc", TypeString, true},
		{1.0, TypeString, false},
		{map[string]any{"Ref": "MyVpc"}, TypeString, true},
		{map[string]any{"Fn::GetAtt": []any{"RdsInstance", "Endpoint.Port"}}, TypeInteger, true},
		{map[string]any{"Ref": "A", "Other": "B"}, TypeString, false},
		{42, TypeInteger, true},
		{"42", TypeInteger, true},
		{"4.2", TypeInteger, false},
		{"4.2", TypeNumber, true},
		{true, TypeBoolean, true},
		{"false", TypeBoolean, true},
		{"yes", TypeBoolean, false},
		{[]any{"a"}, TypeList, true},
		{"a", TypeList, false},
		{map[string]any{"Key": "Value", "Other": 1}, TypeMap, true},
		{"anything", TypeJSON, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, isValidType(tt.value, tt.kind), "%v as %s", tt.value, tt.kind)
	}
}

func TestLookup(t *testing.T) {
	for _, typ := range []string{
		stack.TypeVPC, stack.TypeSubnet, stack.TypeSecurityGroup, stack.TypeInstance,
		stack.TypeDBInstance, stack.TypeLoadBalancer, stack.TypeAutoScalingGroup, stack.TypeRecordSet,
	} {
		_, ok := Lookup(typ)
		assert.True(t, ok, typ)
	}

	s, ok := Lookup(stack.TypeDBSubnetGroup)
	require.True(t, ok)
	assert.Equal(t, []string{"DBSubnetGroupDescription", "SubnetIds"}, s.Required)

	_, ok = Lookup("AWS::S3::Bucket")
	assert.False(t, ok)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "MyVpc.CidrBlock: bad", Error{Resource: "MyVpc", Property: "CidrBlock", Message: "bad"}.String())
	assert.Equal(t, "MyVpc: bad", Error{Resource: "MyVpc", Message: "bad"}.String())
}
