package config

import "errors"

// Environment variable names. The network, compute and database keys keep the
// names used by existing deployments.
const (
	EnvStack   = "STACK_NAME"
	EnvVariant = "DEPLOY_VARIANT"
	EnvRegion  = "AWS_REGION"
	EnvZones   = "AWS_AVAILABILITY_ZONES"

	EnvPublicSubnets          = "MY_PUBLIC_SUBNETS"
	EnvPrivateSubnets         = "MY_PRIVATE_SUBNETS"
	EnvCIDRPrefix             = "MY_VPC_CIDR_PREFIX"
	EnvVPCName                = "MY_VPC_NAME"
	EnvPublicSubnetName       = "MY_SUBNET_PUBLIC_NAME"
	EnvPrivateSubnetName      = "MY_SUBNET_PRIVATE_NAME"
	EnvPublicRouteTable       = "MY_PUBLIC_ROUTE_TABLE"
	EnvPrivateRouteTable      = "MY_PRIVATE_ROUTE_TABLE"
	EnvPublicSubnetConnect    = "MY_PUBLIC_SUBNET_CONNECT"
	EnvPrivateSubnetConnect   = "MY_PRIVATE_SUBNET_CONNECT"
	EnvInternetGateway        = "MY_INTERNET_GATEWAY"
	EnvPublicRoute            = "MY_PUBLIC_ROUTE"
	EnvPublicRouteDestination = "MY_PUBLIC_ROUTE_CIDR_DES"

	EnvInstanceType = "Instance_Type"
	EnvAMI          = "AMI"
	EnvKeyName      = "KEY_NAME"
	EnvAppPort      = "APP_PORT"

	EnvAllocatedStorage = "ALLOCATED_STORAGE"
	EnvStorageType      = "STORAGE_TYPE"
	EnvEngine           = "ENGINE"
	EnvEngineVersion    = "ENGINE_VERSION"
	EnvInstanceClass    = "INSTANCE_CLASS"
	EnvDBUsername       = "DB_USERNAME"
	EnvPassword         = "PASSWORD"
	EnvDBName           = "DB_NAME"
	EnvDBFamily         = "DB_PARAMETER_FAMILY"
	EnvDBPort           = "DB_PORT"

	EnvScaleUpCPU      = "SCALE_UP_CPU_THRESHOLD"
	EnvScaleDownCPU    = "SCALE_DOWN_CPU_THRESHOLD"
	EnvHealthCheckPath = "HEALTH_CHECK_PATH"

	EnvRecordName   = "A_RECORD_NAME"
	EnvHostedZoneID = "HOSTED_ZONE_ID"

	EnvAppUser          = "APP_USER"
	EnvAppDir           = "APP_DIR"
	EnvServiceName      = "APP_SERVICE_NAME"
	EnvCloudWatchConfig = "CLOUDWATCH_CONFIG_PATH"
)

func (c *Config) applyEnv(lookup LookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			if err := parseInt(key, v, dst); err != nil {
				errs = append(errs, err)
			}
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			if err := parseFloat(key, v, dst); err != nil {
				errs = append(errs, err)
			}
		}
	}

	str(EnvStack, &c.Stack)
	if v, ok := lookup(EnvVariant); ok && v != "" {
		c.Variant = Variant(v)
	}
	str(EnvRegion, &c.Region)
	if v, ok := lookup(EnvZones); ok && v != "" {
		c.Zones = splitList(v)
	}

	n := &c.Network
	num(EnvPublicSubnets, &n.PublicSubnets)
	num(EnvPrivateSubnets, &n.PrivateSubnets)
	str(EnvCIDRPrefix, &n.CIDRPrefix)
	str(EnvVPCName, &n.VPCName)
	str(EnvPublicSubnetName, &n.PublicSubnetName)
	str(EnvPrivateSubnetName, &n.PrivateSubnetName)
	str(EnvPublicRouteTable, &n.PublicRouteTable)
	str(EnvPrivateRouteTable, &n.PrivateRouteTable)
	str(EnvPublicSubnetConnect, &n.PublicSubnetConnect)
	str(EnvPrivateSubnetConnect, &n.PrivateSubnetConnect)
	str(EnvInternetGateway, &n.InternetGateway)
	str(EnvPublicRoute, &n.PublicRoute)
	str(EnvPublicRouteDestination, &n.PublicRouteDestination)

	str(EnvInstanceType, &c.Compute.InstanceType)
	str(EnvAMI, &c.Compute.AMI)
	str(EnvKeyName, &c.Compute.KeyName)
	num(EnvAppPort, &c.Compute.AppPort)

	d := &c.Database
	num(EnvAllocatedStorage, &d.AllocatedStorage)
	str(EnvStorageType, &d.StorageType)
	str(EnvEngine, &d.Engine)
	str(EnvEngineVersion, &d.EngineVersion)
	str(EnvInstanceClass, &d.InstanceClass)
	str(EnvDBUsername, &d.Username)
	if v, ok := lookup(EnvPassword); ok && v != "" {
		d.Password = Secret(v)
	}
	str(EnvDBName, &d.Name)
	str(EnvDBFamily, &d.Family)
	num(EnvDBPort, &d.Port)

	float(EnvScaleUpCPU, &c.Scaling.ScaleUpCPU)
	float(EnvScaleDownCPU, &c.Scaling.ScaleDownCPU)
	str(EnvHealthCheckPath, &c.LoadBalancer.HealthCheckPath)

	str(EnvRecordName, &c.DNS.RecordName)
	str(EnvHostedZoneID, &c.DNS.HostedZoneID)

	b := &c.Bootstrap
	str(EnvAppUser, &b.AppUser)
	str(EnvAppDir, &b.AppDir)
	str(EnvServiceName, &b.ServiceName)
	str(EnvCloudWatchConfig, &b.CloudWatchConfig)

	return errors.Join(errs...)
}
