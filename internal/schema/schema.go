// Package schema provides offline validation of the resource types a two-tier
// environment emits: required properties, property kinds and enumerated values.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

// Options configures schema validation.
type Options struct {
	// Strict reports properties the schema does not know as warnings.
	Strict bool
}

// Error is one schema finding.
type Error struct {
	Resource string `json:"resource"`
	Property string `json:"property"`
	Message  string `json:"message"`
}

func (e Error) String() string {
	if e.Property == "" {
		return fmt.Sprintf("%s: %s", e.Resource, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Resource, e.Property, e.Message)
}

// Result contains schema validation results.
type Result struct {
	Valid    bool
	Errors   []Error
	Warnings []Error
}

// ValidateTemplate validates every resource of template against the known
// schemas. Resources are visited in name order.
func ValidateTemplate(template *twotier.Template, opts Options) (*Result, error) {
	if template == nil {
		return nil, fmt.Errorf("schema: nil template")
	}
	result := &Result{Valid: true}

	names := make([]string, 0, len(template.Resources))
	for name := range template.Resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		errs, warnings := validateResource(name, template.Resources[name], opts)
		result.Errors = append(result.Errors, errs...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}

func validateResource(name string, resource twotier.ResourceDef, opts Options) ([]Error, []Error) {
	var errs, warnings []Error

	if !isValidResourceType(resource.Type) {
		errs = append(errs, Error{
			Resource: name,
			Property: "Type",
			Message:  fmt.Sprintf("invalid resource type format: %s", resource.Type),
		})
		return errs, warnings
	}

	errs = append(errs, validateDeletionPolicy(name, resource)...)

	schema, ok := resourceSchemas[resource.Type]
	if !ok {
		warnings = append(warnings, Error{
			Resource: name,
			Property: "Type",
			Message:  fmt.Sprintf("unknown resource type: %s (schema not available for validation)", resource.Type),
		})
		return errs, warnings
	}

	for _, required := range schema.Required {
		if _, exists := resource.Properties[required]; !exists {
			errs = append(errs, Error{
				Resource: name,
				Property: required,
				Message:  fmt.Sprintf("missing required property: %s", required),
			})
		}
	}

	props := make([]string, 0, len(resource.Properties))
	for prop := range resource.Properties {
		props = append(props, prop)
	}
	sort.Strings(props)

	for _, prop := range props {
		propSchema, ok := schema.Properties[prop]
		if !ok {
			if opts.Strict {
				warnings = append(warnings, Error{
					Resource: name,
					Property: prop,
					Message:  fmt.Sprintf("unknown property: %s", prop),
				})
			}
			continue
		}
		errs = append(errs, validateProperty(name, prop, resource.Properties[prop], propSchema)...)
	}

	return errs, warnings
}

// DeletionPolicies are the accepted DeletionPolicy values.
var DeletionPolicies = []string{
	stack.DeletionPolicyDelete,
	stack.DeletionPolicyRetain,
	stack.DeletionPolicySnapshot,
}

// snapshotTypes are the emitted types that can be snapshotted on deletion.
var snapshotTypes = map[string]bool{
	stack.TypeDBInstance: true,
}

func validateDeletionPolicy(name string, resource twotier.ResourceDef) []Error {
	policy := resource.DeletionPolicy
	switch {
	case policy == "":
		return nil
	case !contains(DeletionPolicies, policy):
		return []Error{{
			Resource: name,
			Property: "DeletionPolicy",
			Message:  fmt.Sprintf("value %q not in allowed values: %v", policy, DeletionPolicies),
		}}
	case policy == stack.DeletionPolicySnapshot && !snapshotTypes[resource.Type]:
		return []Error{{
			Resource: name,
			Property: "DeletionPolicy",
			Message:  fmt.Sprintf("%s does not support snapshots", resource.Type),
		}}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

// isValidResourceType checks the AWS::Service::Resource form.
func isValidResourceType(resourceType string) bool {
	if strings.HasPrefix(resourceType, "Custom::") {
		return true
	}
	parts := strings.Split(resourceType, "::")
	return len(parts) == 3 && parts[0] == "AWS"
}

func validateProperty(resource, property string, value any, schema PropertySchema) []Error {
	var errs []Error

	if !isValidType(value, schema.Type) {
		errs = append(errs, Error{
			Resource: resource,
			Property: property,
			Message:  fmt.Sprintf("expected type %s", schema.Type),
		})
	}

	if strVal, ok := value.(string); ok && len(schema.AllowedValues) > 0 {
		if !contains(schema.AllowedValues, strVal) {
			errs = append(errs, Error{
				Resource: resource,
				Property: property,
				Message:  fmt.Sprintf("value %q not in allowed values: %v", strVal, schema.AllowedValues),
			})
		}
	}

	return errs
}

// isValidType checks a value against a property kind. Numbers and booleans
// may be given as strings, as CloudFormation accepts.
func isValidType(value any, expectedType string) bool {
	if m, ok := value.(map[string]any); ok && len(m) == 1 {
		for key := range m {
			if strings.HasPrefix(key, "Fn::") || key == "Ref" {
				return true
			}
		}
	}

	switch expectedType {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeInteger, TypeNumber:
		switch v := value.(type) {
		case int, int32, int64, float64:
			return true
		case string:
			if expectedType == TypeInteger {
				_, err := strconv.Atoi(v)
				return err == nil
			}
			_, err := strconv.ParseFloat(v, 64)
			return err == nil
		}
		return false
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return true
		case string:
			return v == "true" || v == "false"
		}
		return false
	case TypeList:
		_, ok := value.([]any)
		return ok
	case TypeMap:
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// Property kinds.
const (
	TypeString  = "String"
	TypeInteger = "Integer"
	TypeNumber  = "Number"
	TypeBoolean = "Boolean"
	TypeList    = "List"
	TypeMap     = "Map"
	TypeJSON    = "Json"
)

// ResourceSchema defines the schema for a resource type.
type ResourceSchema struct {
	Required   []string
	Properties map[string]PropertySchema
}

// PropertySchema defines the schema for a property.
type PropertySchema struct {
	Type          string
	AllowedValues []string
}

// Lookup returns the schema for a resource type.
func Lookup(resourceType string) (ResourceSchema, bool) {
	s, ok := resourceSchemas[resourceType]
	return s, ok
}

var (
	str     = PropertySchema{Type: TypeString}
	integer = PropertySchema{Type: TypeInteger}
	number  = PropertySchema{Type: TypeNumber}
	boolean = PropertySchema{Type: TypeBoolean}
	list    = PropertySchema{Type: TypeList}
	object  = PropertySchema{Type: TypeMap}

	elbProtocols = []string{"HTTP", "HTTPS", "TCP", "TLS", "UDP", "TCP_UDP", "GENEVE"}
)

func oneOf(values ...string) PropertySchema {
	return PropertySchema{Type: TypeString, AllowedValues: values}
}

var resourceSchemas = map[string]ResourceSchema{
	stack.TypeVPC: {
		Required: []string{"CidrBlock"},
		Properties: map[string]PropertySchema{
			"CidrBlock":          str,
			"InstanceTenancy":    oneOf("default", "dedicated", "host"),
			"EnableDnsSupport":   boolean,
			"EnableDnsHostnames": boolean,
			"Tags":               list,
		},
	},
	stack.TypeSubnet: {
		Required: []string{"VpcId"},
		Properties: map[string]PropertySchema{
			"VpcId":            str,
			"CidrBlock":        str,
			"AvailabilityZone": str,
			"Tags":             list,
		},
	},
	stack.TypeRouteTable: {
		Required:   []string{"VpcId"},
		Properties: map[string]PropertySchema{"VpcId": str, "Tags": list},
	},
	stack.TypeRouteTableAssociation: {
		Required:   []string{"RouteTableId", "SubnetId"},
		Properties: map[string]PropertySchema{"RouteTableId": str, "SubnetId": str},
	},
	stack.TypeInternetGateway: {
		Properties: map[string]PropertySchema{"Tags": list},
	},
	stack.TypeGatewayAttachment: {
		Required:   []string{"VpcId"},
		Properties: map[string]PropertySchema{"VpcId": str, "InternetGatewayId": str},
	},
	stack.TypeRoute: {
		Required: []string{"RouteTableId"},
		Properties: map[string]PropertySchema{
			"RouteTableId":         str,
			"DestinationCidrBlock": str,
			"GatewayId":            str,
		},
	},
	stack.TypeSecurityGroup: {
		Required: []string{"GroupDescription"},
		Properties: map[string]PropertySchema{
			"GroupName":            str,
			"GroupDescription":     str,
			"VpcId":                str,
			"SecurityGroupIngress": list,
			"SecurityGroupEgress":  list,
			"Tags":                 list,
		},
	},
	stack.TypeInstance: {
		Required: []string{"ImageId"},
		Properties: map[string]PropertySchema{
			"ImageId":            str,
			"InstanceType":       str,
			"KeyName":            str,
			"SubnetId":           str,
			"SecurityGroupIds":   list,
			"IamInstanceProfile": str,
			"UserData":           str,
			"Tags":               list,
		},
	},
	stack.TypeLaunchTemplate: {
		Required: []string{"LaunchTemplateData"},
		Properties: map[string]PropertySchema{
			"LaunchTemplateName": str,
			"LaunchTemplateData": object,
		},
	},
	stack.TypeDBParameterGroup: {
		Required: []string{"Description", "Family"},
		Properties: map[string]PropertySchema{
			"Description": str,
			"Family":      str,
			"Parameters":  object,
			"Tags":        list,
		},
	},
	stack.TypeDBSubnetGroup: {
		Required: []string{"DBSubnetGroupDescription", "SubnetIds"},
		Properties: map[string]PropertySchema{
			"DBSubnetGroupDescription": str,
			"SubnetIds":                list,
			"Tags":                     list,
		},
	},
	stack.TypeDBInstance: {
		Required: []string{"DBInstanceClass"},
		Properties: map[string]PropertySchema{
			"AllocatedStorage":     integer,
			"StorageType":          oneOf("gp2", "gp3", "io1", "io2", "standard"),
			"Engine":               str,
			"EngineVersion":        str,
			"DBInstanceClass":      str,
			"MasterUsername":       str,
			"MasterUserPassword":   str,
			"DBName":               str,
			"DBParameterGroupName": str,
			"DBSubnetGroupName":    str,
			"VPCSecurityGroups":    list,
			"PubliclyAccessible":   boolean,
			"MultiAZ":              boolean,
			"Port":                 integer,
			"Tags":                 list,
		},
	},
	stack.TypeRole: {
		Required: []string{"AssumeRolePolicyDocument"},
		Properties: map[string]PropertySchema{
			"AssumeRolePolicyDocument": {Type: TypeJSON},
			"ManagedPolicyArns":        list,
			"Tags":                     list,
		},
	},
	stack.TypeInstanceProfile: {
		Required:   []string{"Roles"},
		Properties: map[string]PropertySchema{"Roles": list},
	},
	stack.TypeLoadBalancer: {
		Properties: map[string]PropertySchema{
			"Scheme":         oneOf("internet-facing", "internal"),
			"Type":           oneOf("application", "network", "gateway"),
			"SecurityGroups": list,
			"Subnets":        list,
			"Tags":           list,
		},
	},
	stack.TypeTargetGroup: {
		Properties: map[string]PropertySchema{
			"Port":                       integer,
			"Protocol":                   oneOf(elbProtocols...),
			"TargetType":                 oneOf("instance", "ip", "lambda", "alb"),
			"VpcId":                      str,
			"HealthCheckEnabled":         boolean,
			"HealthCheckPath":            str,
			"HealthCheckProtocol":        oneOf(elbProtocols...),
			"HealthCheckPort":            str,
			"HealthCheckIntervalSeconds": integer,
			"HealthCheckTimeoutSeconds":  integer,
			"HealthyThresholdCount":      integer,
			"UnhealthyThresholdCount":    integer,
			"Matcher":                    object,
			"Tags":                       list,
		},
	},
	stack.TypeListener: {
		Required: []string{"DefaultActions", "LoadBalancerArn"},
		Properties: map[string]PropertySchema{
			"LoadBalancerArn": str,
			"Port":            integer,
			"Protocol":        oneOf(elbProtocols...),
			"DefaultActions":  list,
		},
	},
	stack.TypeAutoScalingGroup: {
		Required: []string{"MaxSize", "MinSize"},
		Properties: map[string]PropertySchema{
			"AutoScalingGroupName": str,
			"LaunchTemplate":       object,
			"MinSize":              integer,
			"MaxSize":              integer,
			"DesiredCapacity":      integer,
			"Cooldown":             integer,
			"VPCZoneIdentifier":    list,
			"TargetGroupARNs":      list,
			"Tags":                 list,
		},
	},
	stack.TypeScalingPolicy: {
		Required: []string{"AutoScalingGroupName"},
		Properties: map[string]PropertySchema{
			"AutoScalingGroupName": str,
			"PolicyType":           oneOf("SimpleScaling", "StepScaling", "TargetTrackingScaling", "PredictiveScaling"),
			"AdjustmentType":       oneOf("ChangeInCapacity", "ExactCapacity", "PercentChangeInCapacity"),
			"ScalingAdjustment":    integer,
			"Cooldown":             integer,
		},
	},
	stack.TypeAlarm: {
		Required: []string{"ComparisonOperator", "EvaluationPeriods"},
		Properties: map[string]PropertySchema{
			"ComparisonOperator": oneOf(
				"GreaterThanOrEqualToThreshold",
				"GreaterThanThreshold",
				"LessThanThreshold",
				"LessThanOrEqualToThreshold",
			),
			"EvaluationPeriods": integer,
			"MetricName":        str,
			"Namespace":         str,
			"Period":            integer,
			"Statistic":         oneOf("SampleCount", "Average", "Sum", "Minimum", "Maximum"),
			"Threshold":         number,
			"AlarmActions":      list,
			"Dimensions":        list,
		},
	},
	stack.TypeRecordSet: {
		Required: []string{"Name", "Type"},
		Properties: map[string]PropertySchema{
			"Name":         str,
			"HostedZoneId": str,
			"Type":         oneOf("A", "AAAA", "CAA", "CNAME", "MX", "NS", "PTR", "SRV", "TXT"),
			"AliasTarget":  object,
		},
	},
}
