package environment

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/database"
	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/engine/memory"
	"github.com/lex00/twotier-aws-go/internal/network"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

func testConfig(variant config.Variant) *config.Config {
	cfg := config.Default()
	cfg.Stack = "webapp-dev"
	cfg.Variant = variant
	cfg.Region = "us-east-1"
	cfg.Zones = []string{"a", "b"}
	cfg.Network = config.Network{
		PublicSubnets:          2,
		PrivateSubnets:         2,
		CIDRPrefix:             "10.0",
		VPCName:                "my-vpc",
		PublicSubnetName:       "my-public-subnet",
		PrivateSubnetName:      "my-private-subnet",
		PublicRouteTable:       "my-public-route-table",
		PrivateRouteTable:      "my-private-route-table",
		PublicSubnetConnect:    "my-public-subnet-connect",
		PrivateSubnetConnect:   "my-private-subnet-connect",
		InternetGateway:        "my-internet-gateway",
		PublicRoute:            "my-public-route",
		PublicRouteDestination: "0.0.0.0/0",
	}
	cfg.Compute.InstanceType = "t2.micro"
	cfg.Compute.AMI = "ami-0123456789abcdef0"
	cfg.Database.AllocatedStorage = 20
	cfg.Database.StorageType = "gp2"
	cfg.Database.Engine = "postgres"
	cfg.Database.EngineVersion = "14.9"
	cfg.Database.InstanceClass = "db.t3.micro"
	cfg.Database.Username = "csye6225"
	cfg.Database.Password = "s3cret"
	cfg.Database.Name = "csye6225"
	cfg.DNS = config.DNS{RecordName: "dev.example.com", HostedZoneID: "Z0000000000EXAMPLE"}
	return cfg
}

func TestDeclare_SubnetLayout(t *testing.T) {
	s := stack.New("webapp-dev")
	env, err := Declare(s, testConfig(config.VariantBalanced), nil)
	require.NoError(t, err)

	want := []struct{ name, cidr, zone string }{
		{"MyPublicSubnet1", "10.0.1.0/24", "us-east-1a"},
		{"MyPublicSubnet2", "10.0.2.0/24", "us-east-1b"},
		{"MyPrivateSubnet1", "10.0.3.0/24", "us-east-1a"},
		{"MyPrivateSubnet2", "10.0.4.0/24", "us-east-1b"},
	}
	for _, w := range want {
		r, ok := s.Lookup(w.name)
		require.True(t, ok, w.name)
		assert.Equal(t, w.cidr, r.Properties()["CidrBlock"], w.name)
		assert.Equal(t, w.zone, r.Properties()["AvailabilityZone"], w.name)
	}
	assert.Len(t, env.Network.PublicSubnets, 2)
	assert.Len(t, env.Network.PrivateSubnets, 2)
}

func TestDeclare_Balanced(t *testing.T) {
	s := stack.New("webapp-dev")
	env, err := Declare(s, testConfig(config.VariantBalanced), nil)
	require.NoError(t, err)
	require.NotNil(t, env.LoadBalancer)
	require.NotNil(t, env.Fleet)
	assert.Nil(t, env.Instance)
	_, ok := s.Lookup("WebAppInstance")
	assert.False(t, ok)

	engine := memory.New("webapp-dev")
	require.NoError(t, s.Run(context.Background(), engine))

	exports, err := s.ResolveExports(context.Background())
	require.NoError(t, err)

	lb, ok := engine.Record("MyLoadBalancer")
	require.True(t, ok)
	asg, ok := engine.Record("WebAppAutoScalingGroup")
	require.True(t, ok)
	role, ok := engine.Record("CloudwatchRole")
	require.True(t, ok)

	assert.Equal(t, map[string]string{
		ExportRole:                      role.PhysicalID,
		ExportAutoScalingGroup:          asg.PhysicalID,
		ExportLoadBalancerSecurityGroup: "loadBalancerSecurityGroup",
		ExportLoadBalancer:              lb.Attributes["DNSName"],
	}, exports)

	record, ok := engine.Record("ARecord")
	require.True(t, ok)
	alias := record.Submission.Properties["AliasTarget"].(map[string]any)
	assert.Equal(t, lb.Attributes["DNSName"], alias["DNSName"])

	db, _ := engine.Record("RdsInstance")
	lt, ok := engine.Record("WebAppLaunchTemplate")
	require.True(t, ok)
	script, err := base64.StdEncoding.DecodeString(lt.UserData)
	require.NoError(t, err)
	assert.Contains(t, string(script), "POSTGRES_HOST='"+db.Attributes["Endpoint.Address"]+"'")
	assert.Contains(t, string(script), "amazon-cloudwatch-agent-ctl")
	assert.Contains(t, string(script), "systemctl stop postgresql")
}

func TestDeclare_Single(t *testing.T) {
	s := stack.New("webapp-dev")
	env, err := Declare(s, testConfig(config.VariantSingle), nil)
	require.NoError(t, err)
	require.NotNil(t, env.Instance)
	assert.Nil(t, env.LoadBalancer)
	assert.Nil(t, env.Groups.Boundary)
	for _, name := range []string{"MyLoadBalancer", "WebAppLaunchTemplate", "WebAppAutoScalingGroup", "ARecord"} {
		_, ok := s.Lookup(name)
		assert.False(t, ok, name)
	}

	engine := memory.New("webapp-dev")
	require.NoError(t, s.Run(context.Background(), engine))

	exports, err := s.ResolveExports(context.Background())
	require.NoError(t, err)
	inst, ok := engine.Record("WebAppInstance")
	require.True(t, ok)
	assert.Equal(t, inst.PhysicalID, exports[ExportInstance])
	assert.NotContains(t, exports, ExportLoadBalancer)
	assert.NotContains(t, exports, ExportLoadBalancerSecurityGroup)

	db, _ := engine.Record("RdsInstance")
	assert.Contains(t, inst.UserData, "POSTGRES_HOST='"+db.Attributes["Endpoint.Address"]+"'")
	assert.NotContains(t, inst.UserData, "amazon-cloudwatch-agent-ctl")
}

func TestDeclare_OrderingConstraints(t *testing.T) {
	s := stack.New("webapp-dev")
	_, err := Declare(s, testConfig(config.VariantBalanced), nil)
	require.NoError(t, err)

	engine := memory.New("webapp-dev")
	require.NoError(t, s.Run(context.Background(), engine))

	position := make(map[string]int)
	for i, name := range engine.Applied() {
		position[name] = i
	}
	before := [][2]string{
		{"MyVpc", "MyPublicSubnet1"},
		{"MyInternetGatewayAttachment", "MyPublicRoute"},
		{"AppSecurityGroup", "DbSecurityGroup"},
		{"RdsInstance", "WebAppLaunchTemplate"},
		{"AppTargetGroup", "WebAppAutoScalingGroup"},
		{"MyLoadBalancer", "ARecord"},
		{"ScaleUpPolicy", "CpuUtilizationHighAlarm"},
	}
	for _, pair := range before {
		assert.Less(t, position[pair[0]], position[pair[1]], "%s before %s", pair[0], pair[1])
	}
}

func TestDeclare_DatabaseFailure(t *testing.T) {
	s := stack.New("webapp-dev")
	_, err := Declare(s, testConfig(config.VariantBalanced), nil)
	require.NoError(t, err)

	boom := errors.New("insufficient capacity")
	engine := memory.New("webapp-dev", memory.FailOn("RdsInstance", boom))
	err = s.Run(context.Background(), engine)
	require.ErrorIs(t, err, boom)

	_, applied := engine.Record("WebAppLaunchTemplate")
	assert.False(t, applied)

	_, err = s.ResolveExports(context.Background())
	require.Error(t, err)
	var rerr *deferred.ResolutionError
	if errors.As(err, &rerr) && rerr.Origin.Resource != "" {
		assert.NotEqual(t, "WebAppLaunchTemplate", rerr.Origin.Resource)
	}
}

func TestDeclare_FailsBeforeDeclaring(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   error
	}{
		{
			name:   "no private subnets",
			mutate: func(c *config.Config) { c.Network.PrivateSubnets = 0 },
			want:   database.ErrNoPrivateSubnets,
		},
		{
			name:   "capacity",
			mutate: func(c *config.Config) { c.Network.PublicSubnets, c.Network.PrivateSubnets = 200, 55 },
			want:   network.ErrCapacityExceeded,
		},
		{
			name:   "threshold order",
			mutate: func(c *config.Config) { c.Scaling.ScaleDownCPU = 10 },
			want:   config.ErrThresholdOrder,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(config.VariantBalanced)
			tt.mutate(cfg)
			s := stack.New("webapp-dev")
			_, err := Declare(s, cfg, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, s.Len())
		})
	}
}
