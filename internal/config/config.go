// Package config loads the environment description from a YAML file and the
// process environment. Environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variant selects the deployment topology.
type Variant string

const (
	// VariantSingle deploys one public instance.
	VariantSingle Variant = "single"
	// VariantBalanced deploys a load balancer in front of an autoscaling group.
	VariantBalanced Variant = "balanced"
)

var (
	// ErrMissing is wrapped by every missing required setting.
	ErrMissing = errors.New("required setting missing")
	// ErrInvalid is wrapped by every malformed setting.
	ErrInvalid = errors.New("invalid setting")
	// ErrThresholdOrder is returned when the scale-down threshold is not below
	// the scale-up threshold.
	ErrThresholdOrder = errors.New("scale-down threshold must be lower than scale-up threshold")
)

// Secret is a string that is never printed.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "******"
}

// GoString hides the value from %#v.
func (s Secret) GoString() string { return s.String() }

// Reveal returns the underlying value.
func (s Secret) Reveal() string { return string(s) }

// Config describes one environment.
type Config struct {
	// Stack names the desired-state graph.
	Stack   string  `yaml:"stack"`
	Variant Variant `yaml:"variant"`
	Region  string  `yaml:"region"`
	// Zones are zone suffixes such as "a", appended to Region.
	Zones []string          `yaml:"availability_zones"`
	Tags  map[string]string `yaml:"tags,omitempty"`

	Network      Network      `yaml:"network"`
	Compute      Compute      `yaml:"compute"`
	Database     Database     `yaml:"database"`
	Scaling      Scaling      `yaml:"scaling"`
	LoadBalancer LoadBalancer `yaml:"load_balancer"`
	DNS          DNS          `yaml:"dns"`
	Bootstrap    Bootstrap    `yaml:"bootstrap"`
}

// Network holds subnet counts and the names of the network resources.
type Network struct {
	PublicSubnets  int `yaml:"public_subnets"`
	PrivateSubnets int `yaml:"private_subnets"`
	// CIDRPrefix is either two octets ("10.0") or the VPC block ("10.0.0.0/16").
	CIDRPrefix             string `yaml:"cidr_prefix"`
	VPCName                string `yaml:"vpc_name"`
	PublicSubnetName       string `yaml:"public_subnet_name"`
	PrivateSubnetName      string `yaml:"private_subnet_name"`
	PublicRouteTable       string `yaml:"public_route_table"`
	PrivateRouteTable      string `yaml:"private_route_table"`
	PublicSubnetConnect    string `yaml:"public_subnet_connect"`
	PrivateSubnetConnect   string `yaml:"private_subnet_connect"`
	InternetGateway        string `yaml:"internet_gateway"`
	PublicRoute            string `yaml:"public_route"`
	PublicRouteDestination string `yaml:"public_route_destination"`
}

// Compute holds the instance blueprint.
type Compute struct {
	InstanceType string `yaml:"instance_type"`
	AMI          string `yaml:"ami"`
	KeyName      string `yaml:"key_name,omitempty"`
	AppPort      int    `yaml:"app_port"`
}

// Database holds the managed database settings.
type Database struct {
	AllocatedStorage int               `yaml:"allocated_storage"`
	StorageType      string            `yaml:"storage_type"`
	Engine           string            `yaml:"engine"`
	EngineVersion    string            `yaml:"engine_version"`
	InstanceClass    string            `yaml:"instance_class"`
	Username         string            `yaml:"username"`
	Password         Secret            `yaml:"password"`
	Name             string            `yaml:"name"`
	Family           string            `yaml:"family"`
	Port             int               `yaml:"port"`
	Parameters       map[string]string `yaml:"parameters,omitempty"`
}

// Scaling holds the autoscaling group bounds and CPU alarm thresholds.
// The default thresholds are placeholders and should be tuned per workload.
type Scaling struct {
	MinSize           int     `yaml:"min_size"`
	MaxSize           int     `yaml:"max_size"`
	DesiredCapacity   int     `yaml:"desired_capacity"`
	Cooldown          int     `yaml:"cooldown"`
	ScaleUpCPU        float64 `yaml:"scale_up_cpu"`
	ScaleDownCPU      float64 `yaml:"scale_down_cpu"`
	Period            int     `yaml:"period"`
	EvaluationPeriods int     `yaml:"evaluation_periods"`
}

// LoadBalancer holds the target group health check contract.
type LoadBalancer struct {
	HealthCheckPath    string `yaml:"health_check_path"`
	HealthyThreshold   int    `yaml:"healthy_threshold"`
	UnhealthyThreshold int    `yaml:"unhealthy_threshold"`
	Interval           int    `yaml:"interval"`
	Timeout            int    `yaml:"timeout"`
}

// DNS holds the alias record settings.
type DNS struct {
	RecordName   string `yaml:"record_name"`
	HostedZoneID string `yaml:"hosted_zone_id"`
}

// Bootstrap holds the instance layout the bootstrap script configures.
type Bootstrap struct {
	AppUser          string `yaml:"app_user"`
	AppDir           string `yaml:"app_dir"`
	ServiceName      string `yaml:"service_name"`
	CloudWatchConfig string `yaml:"cloudwatch_config"`
}

// Default returns the settings that have sensible defaults. Subnet counts
// start negative so an absent value is detected.
func Default() *Config {
	return &Config{
		Stack:   "twotier",
		Variant: VariantBalanced,
		Network: Network{
			PublicSubnets:          -1,
			PrivateSubnets:         -1,
			PublicRouteDestination: "0.0.0.0/0",
		},
		Compute: Compute{AppPort: 8000},
		Database: Database{
			Family:     "postgres14",
			Port:       5432,
			Parameters: map[string]string{"autovacuum": "on"},
		},
		Scaling: Scaling{
			MinSize:           1,
			MaxSize:           3,
			DesiredCapacity:   1,
			Cooldown:          60,
			ScaleUpCPU:        5,
			ScaleDownCPU:      3,
			Period:            60,
			EvaluationPeriods: 1,
		},
		LoadBalancer: LoadBalancer{
			HealthCheckPath:    "/healthz",
			HealthyThreshold:   2,
			UnhealthyThreshold: 2,
			Interval:           30,
			Timeout:            5,
		},
		Bootstrap: Bootstrap{
			AppUser:          "webapp",
			AppDir:           "/opt/webapp",
			ServiceName:      "webapp",
			CloudWatchConfig: "/opt/webapp/packer/cloudwatch-config.json",
		},
	}
}

// Load reads path (if not empty), applies environment overrides and validates
// the result. Every problem is reported at once.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// LoadWithEnv is Load with an injectable environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ZoneNames returns the full availability zone names.
func (c *Config) ZoneNames() []string {
	names := make([]string, len(c.Zones))
	for i, z := range c.Zones {
		names[i] = c.Region + z
	}
	return names
}

// Validate checks required settings and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	require := func(value, key string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, key))
		}
	}

	switch c.Variant {
	case VariantSingle, VariantBalanced:
	default:
		errs = append(errs, fmt.Errorf("%w: %s=%q, must be %q or %q", ErrInvalid, EnvVariant, c.Variant, VariantSingle, VariantBalanced))
	}

	require(c.Stack, EnvStack)
	require(c.Region, EnvRegion)
	if len(c.Zones) == 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, EnvZones))
	}

	n := c.Network
	if n.PublicSubnets < 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, EnvPublicSubnets))
	}
	if n.PrivateSubnets < 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, EnvPrivateSubnets))
	}
	require(n.CIDRPrefix, EnvCIDRPrefix)
	require(n.VPCName, EnvVPCName)
	require(n.PublicSubnetName, EnvPublicSubnetName)
	require(n.PrivateSubnetName, EnvPrivateSubnetName)
	require(n.PublicRouteTable, EnvPublicRouteTable)
	require(n.PrivateRouteTable, EnvPrivateRouteTable)
	require(n.PublicSubnetConnect, EnvPublicSubnetConnect)
	require(n.PrivateSubnetConnect, EnvPrivateSubnetConnect)
	require(n.InternetGateway, EnvInternetGateway)
	require(n.PublicRoute, EnvPublicRoute)
	require(n.PublicRouteDestination, EnvPublicRouteDestination)

	require(c.Compute.InstanceType, EnvInstanceType)
	require(c.Compute.AMI, EnvAMI)

	d := c.Database
	if d.AllocatedStorage <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissing, EnvAllocatedStorage))
	}
	require(d.StorageType, EnvStorageType)
	require(d.Engine, EnvEngine)
	require(d.EngineVersion, EnvEngineVersion)
	require(d.InstanceClass, EnvInstanceClass)
	require(d.Username, EnvDBUsername)
	require(d.Password.Reveal(), EnvPassword)
	require(d.Name, EnvDBName)
	require(d.Family, EnvDBFamily)

	if c.Variant == VariantBalanced {
		require(c.DNS.RecordName, EnvRecordName)
		require(c.DNS.HostedZoneID, EnvHostedZoneID)

		s := c.Scaling
		if s.ScaleDownCPU >= s.ScaleUpCPU {
			errs = append(errs, fmt.Errorf("%w: %s=%g, %s=%g", ErrThresholdOrder, EnvScaleDownCPU, s.ScaleDownCPU, EnvScaleUpCPU, s.ScaleUpCPU))
		}
		if s.MinSize < 0 || s.MinSize > s.DesiredCapacity || s.DesiredCapacity > s.MaxSize {
			errs = append(errs, fmt.Errorf("%w: scaling sizes must satisfy 0 <= min (%d) <= desired (%d) <= max (%d)", ErrInvalid, s.MinSize, s.DesiredCapacity, s.MaxSize))
		}
		if s.Period <= 0 || s.EvaluationPeriods <= 0 {
			errs = append(errs, fmt.Errorf("%w: alarm period and evaluation periods must be positive", ErrInvalid))
		}
		lb := c.LoadBalancer
		if lb.HealthyThreshold < 2 || lb.UnhealthyThreshold < 2 {
			errs = append(errs, fmt.Errorf("%w: health check thresholds must be at least 2", ErrInvalid))
		}
		if lb.Timeout >= lb.Interval {
			errs = append(errs, fmt.Errorf("%w: health check timeout (%d) must be shorter than interval (%d)", ErrInvalid, lb.Timeout, lb.Interval))
		}
		if !strings.HasPrefix(lb.HealthCheckPath, "/") {
			errs = append(errs, fmt.Errorf("%w: %s must start with /", ErrInvalid, EnvHealthCheckPath))
		}
	}

	return errors.Join(errs...)
}

// String renders the configuration as YAML with secrets masked.
func (c *Config) String() string {
	redacted := *c
	redacted.Database.Password = Secret(c.Database.Password.String())
	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

func parseInt(key, v string, dst *int) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	*dst = n
	return nil
}

func parseFloat(key, v string, dst *float64) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, v)
	}
	*dst = f
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
