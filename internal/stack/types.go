package stack

import "strings"

// CloudFormation resource types declared by this module.
const (
	TypeVPC                   = "AWS::EC2::VPC"
	TypeSubnet                = "AWS::EC2::Subnet"
	TypeRouteTable            = "AWS::EC2::RouteTable"
	TypeRouteTableAssociation = "AWS::EC2::SubnetRouteTableAssociation"
	TypeInternetGateway       = "AWS::EC2::InternetGateway"
	TypeGatewayAttachment     = "AWS::EC2::VPCGatewayAttachment"
	TypeRoute                 = "AWS::EC2::Route"
	TypeSecurityGroup         = "AWS::EC2::SecurityGroup"
	TypeInstance              = "AWS::EC2::Instance"
	TypeLaunchTemplate        = "AWS::EC2::LaunchTemplate"

	TypeDBParameterGroup = "AWS::RDS::DBParameterGroup"
	TypeDBSubnetGroup    = "AWS::RDS::DBSubnetGroup"
	TypeDBInstance       = "AWS::RDS::DBInstance"

	TypeRole            = "AWS::IAM::Role"
	TypeInstanceProfile = "AWS::IAM::InstanceProfile"

	TypeLoadBalancer = "AWS::ElasticLoadBalancingV2::LoadBalancer"
	TypeTargetGroup  = "AWS::ElasticLoadBalancingV2::TargetGroup"
	TypeListener     = "AWS::ElasticLoadBalancingV2::Listener"

	TypeAutoScalingGroup = "AWS::AutoScaling::AutoScalingGroup"
	TypeScalingPolicy    = "AWS::AutoScaling::ScalingPolicy"
	TypeAlarm            = "AWS::CloudWatch::Alarm"

	TypeRecordSet = "AWS::Route53::RecordSet"
)

// Service extracts the service segment of a resource type.
// e.g., "AWS::EC2::VPC" -> "EC2"
func Service(typ string) string {
	parts := strings.Split(typ, "::")
	if len(parts) == 3 {
		return parts[1]
	}
	return "Other"
}
