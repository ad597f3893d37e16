// Package environment declares a complete two-tier environment on a stack:
// network, security groups, database, bootstrap data and either a single
// instance or a load balanced autoscaling group with its DNS record.
package environment

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lex00/twotier-aws-go/internal/bootstrap"
	"github.com/lex00/twotier-aws-go/internal/compute"
	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/database"
	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/dns"
	"github.com/lex00/twotier-aws-go/internal/loadbalancer"
	"github.com/lex00/twotier-aws-go/internal/network"
	"github.com/lex00/twotier-aws-go/internal/security"
	"github.com/lex00/twotier-aws-go/internal/stack"
	"github.com/lex00/twotier-aws-go/intrinsics"
)

// Export names.
const (
	ExportRole                      = "role"
	ExportAutoScalingGroup          = "autoScalingGroup"
	ExportInstance                  = "instance"
	ExportLoadBalancerSecurityGroup = "loadBalancerSecurityGroup"
	ExportLoadBalancer              = "loadBalancer"
)

// Environment holds every declared layer. Fields of the topology that was not
// selected are nil.
type Environment struct {
	Variant config.Variant

	Network  *network.Network
	Groups   *security.Groups
	Database *database.Database
	Role     *compute.Role
	Script   deferred.Output[bootstrap.Script]

	// Single instance topology.
	Instance *compute.Instance

	// Balanced topology.
	LoadBalancer *loadbalancer.LoadBalancer
	Fleet        *compute.Fleet
	Record       *stack.Resource
}

// Declare validates everything that can be checked up front and then adds the
// environment described by cfg to s.
func Declare(s *stack.Stack, cfg *config.Config, log *zap.SugaredLogger) (*Environment, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	alloc, err := network.Allocate(network.AllocationRequest{
		Public:      cfg.Network.PublicSubnets,
		Private:     cfg.Network.PrivateSubnets,
		Prefix:      cfg.Network.CIDRPrefix,
		Region:      cfg.Region,
		Zones:       cfg.Zones,
		PublicName:  cfg.Network.PublicSubnetName,
		PrivateName: cfg.Network.PrivateSubnetName,
	})
	if err != nil {
		return nil, fmt.Errorf("allocating subnets: %w", err)
	}
	if len(alloc.Private) == 0 {
		return nil, database.ErrNoPrivateSubnets
	}
	if len(alloc.Public) == 0 {
		return nil, compute.ErrNoPublicSubnets
	}
	scaling := scalingFor(cfg)
	if cfg.Variant == config.VariantBalanced {
		if err := scaling.Validate(); err != nil {
			return nil, err
		}
	}

	env := &Environment{Variant: cfg.Variant}
	log = log.With("stack", s.Name(), "variant", cfg.Variant)

	env.Network, err = network.Declare(s, alloc, network.Options{
		Names: network.Names{
			VPC:                  cfg.Network.VPCName,
			PublicRouteTable:     cfg.Network.PublicRouteTable,
			PrivateRouteTable:    cfg.Network.PrivateRouteTable,
			PublicSubnetConnect:  cfg.Network.PublicSubnetConnect,
			PrivateSubnetConnect: cfg.Network.PrivateSubnetConnect,
			InternetGateway:      cfg.Network.InternetGateway,
			PublicRoute:          cfg.Network.PublicRoute,
		},
		RouteDestination: cfg.Network.PublicRouteDestination,
		Tags:             cfg.Tags,
		Log:              log,
	})
	if err != nil {
		return nil, err
	}

	exposure := security.ExposureBoundary
	if cfg.Variant == config.VariantSingle {
		exposure = security.ExposureDirect
	}
	env.Groups, err = security.Declare(s, env.Network.VPC, security.Options{
		Names:    security.DefaultNames(),
		Exposure: exposure,
		AppPort:  cfg.Compute.AppPort,
		DBPort:   cfg.Database.Port,
		Tags:     cfg.Tags,
	})
	if err != nil {
		return nil, err
	}

	db := cfg.Database
	env.Database, err = database.Declare(s, env.Network.PrivateSubnets, env.Groups.Data, database.Options{
		AllocatedStorage: db.AllocatedStorage,
		StorageType:      db.StorageType,
		Engine:           db.Engine,
		EngineVersion:    db.EngineVersion,
		InstanceClass:    db.InstanceClass,
		Username:         db.Username,
		Password:         db.Password.Reveal(),
		Name:             db.Name,
		Family:           db.Family,
		Port:             db.Port,
		Parameters:       db.Parameters,
		Tags:             cfg.Tags,
	})
	if err != nil {
		return nil, err
	}

	balanced := cfg.Variant == config.VariantBalanced
	env.Script = bootstrap.Resolve(env.Database.Address, bootstrap.Params{
		DBUser:           db.Username,
		DBPassword:       db.Password.Reveal(),
		DBName:           db.Name,
		DBPort:           db.Port,
		AppUser:          cfg.Bootstrap.AppUser,
		AppDir:           cfg.Bootstrap.AppDir,
		ServiceName:      cfg.Bootstrap.ServiceName,
		CloudWatchConfig: cfg.Bootstrap.CloudWatchConfig,
		ManageCloudWatch: balanced,
		DisableLocalDB:   balanced,
	})

	env.Role, err = compute.DeclareRole(s, cfg.Tags)
	if err != nil {
		return nil, err
	}
	s.Export(ExportRole, env.Role.Name)

	machine := compute.Machine{
		AMI:          cfg.Compute.AMI,
		InstanceType: cfg.Compute.InstanceType,
		KeyName:      cfg.Compute.KeyName,
		Tags:         cfg.Tags,
	}

	if !balanced {
		userData := bootstrap.NewUserData(env.Script, bootstrap.EncodingRaw)
		env.Instance, err = compute.DeclareInstance(s, env.Network.PublicSubnets, env.Groups.App, env.Role, userData, machine)
		if err != nil {
			return nil, err
		}
		s.Export(ExportInstance, env.Instance.ID)
		log.Infow("declared environment", "resources", s.Len())
		return env, nil
	}

	hc := loadbalancer.DefaultHealthCheck()
	hc.Path = cfg.LoadBalancer.HealthCheckPath
	hc.Interval = cfg.LoadBalancer.Interval
	hc.Timeout = cfg.LoadBalancer.Timeout
	hc.HealthyThreshold = cfg.LoadBalancer.HealthyThreshold
	hc.UnhealthyThreshold = cfg.LoadBalancer.UnhealthyThreshold
	env.LoadBalancer, err = loadbalancer.Declare(s, env.Network.VPC, env.Groups.Boundary, env.Network.PublicSubnets, loadbalancer.Options{
		AppPort:     cfg.Compute.AppPort,
		HealthCheck: hc,
		Tags:        cfg.Tags,
	})
	if err != nil {
		return nil, err
	}

	userData := bootstrap.NewUserData(env.Script, bootstrap.EncodingBase64)
	env.Fleet, err = compute.DeclareFleet(s, env.Network.PublicSubnets, env.Groups.App, env.Role, userData, compute.FleetOptions{
		Machine:         machine,
		Scaling:         scaling,
		TargetGroupARNs: []deferred.Output[string]{env.LoadBalancer.TargetGroupARN},
		GroupTag:        intrinsics.Tag{Key: "webapp", Value: "webAppAutoScalingGroup"},
	})
	if err != nil {
		return nil, err
	}

	env.Record, err = dns.Declare(s, dns.Target{
		Resource: env.LoadBalancer.LoadBalancer,
		DNSName:  env.LoadBalancer.DNSName,
		ZoneID:   env.LoadBalancer.CanonicalZone,
	}, dns.Options{
		Name:         cfg.DNS.RecordName,
		HostedZoneID: cfg.DNS.HostedZoneID,
	})
	if err != nil {
		return nil, err
	}

	s.Export(ExportAutoScalingGroup, env.Fleet.GroupName)
	s.Export(ExportLoadBalancerSecurityGroup, deferred.Resolved(security.DefaultNames().Boundary))
	s.Export(ExportLoadBalancer, env.LoadBalancer.DNSName)

	log.Infow("declared environment", "resources", s.Len())
	return env, nil
}

func scalingFor(cfg *config.Config) compute.Scaling {
	sc := cfg.Scaling
	return compute.Scaling{
		MinSize:           sc.MinSize,
		MaxSize:           sc.MaxSize,
		DesiredCapacity:   sc.DesiredCapacity,
		Cooldown:          sc.Cooldown,
		ScaleUpCPU:        sc.ScaleUpCPU,
		ScaleDownCPU:      sc.ScaleDownCPU,
		Period:            sc.Period,
		EvaluationPeriods: sc.EvaluationPeriods,
	}
}
