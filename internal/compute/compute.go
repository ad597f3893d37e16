// Package compute declares the application compute: the instance role, and
// either a single public instance or a launch template with an autoscaling
// group, scaling policies and CPU alarms.
package compute

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lex00/twotier-aws-go/internal/bootstrap"
	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/stack"
	"github.com/lex00/twotier-aws-go/intrinsics"
)

var (
	// ErrNoPublicSubnets is returned when there is no subnet to place compute in.
	ErrNoPublicSubnets = errors.New("compute requires at least one public subnet")
	// ErrInvalidScaling is returned for contradictory scaling settings.
	ErrInvalidScaling = errors.New("invalid scaling settings")
)

// CloudWatchAgentPolicyARN is the managed policy the instance role carries.
const CloudWatchAgentPolicyARN = "arn:aws:iam::aws:policy/CloudWatchAgentServerPolicy"

// Logical names of the declared resources.
const (
	RoleName             = "CloudwatchRole"
	InstanceProfileName  = "CloudwatchInstanceProfile"
	InstanceName         = "WebAppInstance"
	LaunchTemplateName   = "WebAppLaunchTemplate"
	AutoScalingGroupName = "WebAppAutoScalingGroup"
	ScaleUpPolicyName    = "ScaleUpPolicy"
	ScaleDownPolicyName  = "ScaleDownPolicy"
	HighCPUAlarmName     = "CpuUtilizationHighAlarm"
	LowCPUAlarmName      = "CpuUtilizationLowAlarm"
)

// Role is the instance role and its profile.
type Role struct {
	Role    *stack.Resource
	Profile *stack.Resource

	// Name is the role name.
	Name deferred.Output[string]
	// ProfileARN is the instance profile ARN.
	ProfileARN deferred.Output[string]
}

// DeclareRole adds an EC2-assumable role allowed to run the CloudWatch agent,
// and its instance profile.
func DeclareRole(s *stack.Stack, tags map[string]string) (*Role, error) {
	role, err := s.Declare(RoleName, stack.TypeRole, stack.Properties{
		"AssumeRolePolicyDocument": intrinsics.AssumeRolePolicy("ec2.amazonaws.com"),
		"ManagedPolicyArns":        []any{CloudWatchAgentPolicyARN},
		"Tags":                     intrinsics.Tags("cloudwatch-role", tags),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring role: %w", err)
	}
	profile, err := s.Declare(InstanceProfileName, stack.TypeInstanceProfile, stack.Properties{
		"Roles": []any{role.ID()},
	})
	if err != nil {
		return nil, fmt.Errorf("declaring instance profile: %w", err)
	}
	return &Role{
		Role:       role,
		Profile:    profile,
		Name:       role.ID(),
		ProfileARN: profile.Attr("Arn"),
	}, nil
}

// Machine is the instance blueprint shared by both topologies.
type Machine struct {
	AMI          string
	InstanceType string
	// KeyName is optional.
	KeyName string
	Tags    map[string]string
}

// Instance is the single-instance topology.
type Instance struct {
	Instance *stack.Resource
	ID       deferred.Output[string]
}

// DeclareInstance adds one instance in the first public subnet with raw user
// data.
func DeclareInstance(s *stack.Stack, publicSubnets []*stack.Resource, app *stack.Resource, role *Role, userData deferred.Output[bootstrap.UserData], m Machine) (*Instance, error) {
	if len(publicSubnets) == 0 {
		return nil, ErrNoPublicSubnets
	}
	props := stack.Properties{
		"ImageId":            m.AMI,
		"InstanceType":       m.InstanceType,
		"SubnetId":           publicSubnets[0].ID(),
		"SecurityGroupIds":   []any{app.ID()},
		"IamInstanceProfile": role.Profile.ID(),
		"UserData":           userData,
		"Tags":               intrinsics.Tags("webapp-instance", m.Tags),
	}
	if m.KeyName != "" {
		props["KeyName"] = m.KeyName
	}
	r, err := s.Declare(InstanceName, stack.TypeInstance, props)
	if err != nil {
		return nil, fmt.Errorf("declaring instance: %w", err)
	}
	return &Instance{Instance: r, ID: r.ID()}, nil
}

// Scaling holds the group bounds and the CPU thresholds of the alarms.
type Scaling struct {
	MinSize           int
	MaxSize           int
	DesiredCapacity   int
	Cooldown          int
	ScaleUpCPU        float64
	ScaleDownCPU      float64
	Period            int
	EvaluationPeriods int
}

// Validate checks bounds and threshold order.
func (sc Scaling) Validate() error {
	if sc.ScaleDownCPU >= sc.ScaleUpCPU {
		return fmt.Errorf("%w: scale-down threshold %g must be below scale-up threshold %g", ErrInvalidScaling, sc.ScaleDownCPU, sc.ScaleUpCPU)
	}
	if sc.MinSize < 0 || sc.MinSize > sc.DesiredCapacity || sc.DesiredCapacity > sc.MaxSize {
		return fmt.Errorf("%w: need 0 <= min (%d) <= desired (%d) <= max (%d)", ErrInvalidScaling, sc.MinSize, sc.DesiredCapacity, sc.MaxSize)
	}
	if sc.Period <= 0 || sc.EvaluationPeriods <= 0 {
		return fmt.Errorf("%w: alarm period and evaluation periods must be positive", ErrInvalidScaling)
	}
	return nil
}

// Fleet is the autoscaling topology.
type Fleet struct {
	LaunchTemplate *stack.Resource
	Group          *stack.Resource
	ScaleUp        *stack.Resource
	ScaleDown      *stack.Resource
	HighCPUAlarm   *stack.Resource
	LowCPUAlarm    *stack.Resource

	// GroupName is the autoscaling group name.
	GroupName deferred.Output[string]
}

// FleetOptions configures DeclareFleet.
type FleetOptions struct {
	Machine Machine
	Scaling Scaling
	// TargetGroupARNs registers group instances with load balancer target groups.
	TargetGroupARNs []deferred.Output[string]
	// GroupTag is propagated to every launched instance.
	GroupTag intrinsics.Tag
}

// DeclareFleet adds a launch template with base64 user data, an autoscaling
// group over every public subnet and a CPU alarm driven scaling policy in each
// direction.
func DeclareFleet(s *stack.Stack, publicSubnets []*stack.Resource, app *stack.Resource, role *Role, userData deferred.Output[bootstrap.UserData], opts FleetOptions) (*Fleet, error) {
	if len(publicSubnets) == 0 {
		return nil, ErrNoPublicSubnets
	}
	sc := opts.Scaling
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	m := opts.Machine
	f := &Fleet{}

	data := map[string]any{
		"ImageId":      m.AMI,
		"InstanceType": m.InstanceType,
		"NetworkInterfaces": []any{map[string]any{
			"DeviceIndex":              0,
			"AssociatePublicIpAddress": true,
			"Groups":                   []any{app.ID()},
		}},
		"IamInstanceProfile": map[string]any{"Arn": role.ProfileARN},
		"UserData":           userData,
	}
	if m.KeyName != "" {
		data["KeyName"] = m.KeyName
	}

	var err error
	f.LaunchTemplate, err = s.Declare(LaunchTemplateName, stack.TypeLaunchTemplate, stack.Properties{
		"LaunchTemplateData": data,
	})
	if err != nil {
		return nil, fmt.Errorf("declaring launch template: %w", err)
	}

	subnets := make([]any, len(publicSubnets))
	for i, subnet := range publicSubnets {
		subnets[i] = subnet.ID()
	}
	groupProps := stack.Properties{
		"LaunchTemplate": map[string]any{
			"LaunchTemplateId": f.LaunchTemplate.ID(),
			"Version":          f.LaunchTemplate.Attr("LatestVersionNumber"),
		},
		"MinSize":           strconv.Itoa(sc.MinSize),
		"MaxSize":           strconv.Itoa(sc.MaxSize),
		"DesiredCapacity":   strconv.Itoa(sc.DesiredCapacity),
		"Cooldown":          strconv.Itoa(sc.Cooldown),
		"VPCZoneIdentifier": subnets,
	}
	if opts.GroupTag.Key != "" {
		groupProps["Tags"] = []any{map[string]any{
			"Key":               opts.GroupTag.Key,
			"Value":             opts.GroupTag.Value,
			"PropagateAtLaunch": true,
		}}
	}
	if len(opts.TargetGroupARNs) > 0 {
		arns := make([]any, len(opts.TargetGroupARNs))
		for i, arn := range opts.TargetGroupARNs {
			arns[i] = arn
		}
		groupProps["TargetGroupARNs"] = arns
	}
	f.Group, err = s.Declare(AutoScalingGroupName, stack.TypeAutoScalingGroup, groupProps)
	if err != nil {
		return nil, fmt.Errorf("declaring autoscaling group: %w", err)
	}
	f.GroupName = f.Group.ID()

	if f.ScaleUp, err = f.declarePolicy(s, ScaleUpPolicyName, 1, sc.Cooldown); err != nil {
		return nil, err
	}
	if f.ScaleDown, err = f.declarePolicy(s, ScaleDownPolicyName, -1, sc.Cooldown); err != nil {
		return nil, err
	}
	if f.HighCPUAlarm, err = f.declareAlarm(s, HighCPUAlarmName, "GreaterThanThreshold", sc.ScaleUpCPU, f.ScaleUp, sc); err != nil {
		return nil, err
	}
	if f.LowCPUAlarm, err = f.declareAlarm(s, LowCPUAlarmName, "LessThanThreshold", sc.ScaleDownCPU, f.ScaleDown, sc); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fleet) declarePolicy(s *stack.Stack, name string, adjustment, cooldown int) (*stack.Resource, error) {
	r, err := s.Declare(name, stack.TypeScalingPolicy, stack.Properties{
		"AutoScalingGroupName": f.GroupName,
		"PolicyType":           "SimpleScaling",
		"AdjustmentType":       "ChangeInCapacity",
		"ScalingAdjustment":    adjustment,
		"Cooldown":             strconv.Itoa(cooldown),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring scaling policy %s: %w", name, err)
	}
	return r, nil
}

func (f *Fleet) declareAlarm(s *stack.Stack, name, comparison string, threshold float64, policy *stack.Resource, sc Scaling) (*stack.Resource, error) {
	r, err := s.Declare(name, stack.TypeAlarm, stack.Properties{
		"ComparisonOperator": comparison,
		"EvaluationPeriods":  sc.EvaluationPeriods,
		"MetricName":         "CPUUtilization",
		"Namespace":          "AWS/EC2",
		"Period":             sc.Period,
		"Statistic":          "Average",
		"Threshold":          threshold,
		"AlarmActions":       []any{policy.ID()},
		"Dimensions": []any{map[string]any{
			"Name":  "AutoScalingGroupName",
			"Value": f.GroupName,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("declaring alarm %s: %w", name, err)
	}
	return r, nil
}
