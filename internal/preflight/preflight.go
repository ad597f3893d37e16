// Package preflight checks an AWS account against a configuration before any
// resource is converged: the caller identity resolves, every configured zone is
// offered by the region, the machine image exists, and the VPC block does not
// collide with an existing VPC.
package preflight

import (
	"context"
	"fmt"
	"net/netip"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	twotier "github.com/lex00/twotier-aws-go"
	"github.com/lex00/twotier-aws-go/internal/config"
	"github.com/lex00/twotier-aws-go/internal/network"
)

// IdentityAPI is the subset of the STS client used here.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// EC2API is the subset of the EC2 client used here.
type EC2API interface {
	DescribeAvailabilityZones(ctx context.Context, in *ec2.DescribeAvailabilityZonesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAvailabilityZonesOutput, error)
	DescribeImages(ctx context.Context, in *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	DescribeVpcs(ctx context.Context, in *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
}

// Checker runs the preflight checks.
type Checker struct {
	identity IdentityAPI
	ec2      EC2API
	region   string
	log      *zap.SugaredLogger
}

// New returns a Checker over the given clients.
func New(identity IdentityAPI, client EC2API, region string, log *zap.SugaredLogger) *Checker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Checker{identity: identity, ec2: client, region: region, log: log}
}

// NewFromConfig loads the default credential chain for region.
func NewFromConfig(ctx context.Context, region string, log *zap.SugaredLogger) (*Checker, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(sts.NewFromConfig(cfg), ec2.NewFromConfig(cfg), cfg.Region, log), nil
}

// Run checks cfg against the account. API failures are reported in the
// result; the returned error is only set for a cancelled context.
func (c *Checker) Run(ctx context.Context, cfg *config.Config) (*twotier.PreflightResult, error) {
	result := &twotier.PreflightResult{Region: c.region}
	fail := func(format string, args ...any) {
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	identity, err := c.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fail("caller identity: %v", err)
	} else {
		result.Account = aws.ToString(identity.Account)
		c.log.Debugw("caller identity", "account", result.Account, "arn", aws.ToString(identity.Arn))
	}

	zones, err := c.availableZones(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fail("availability zones: %v", err)
	} else {
		for _, zone := range cfg.ZoneNames() {
			if zones[zone] {
				result.Zones = append(result.Zones, zone)
			} else {
				fail("zone %s is not available in %s", zone, c.region)
			}
		}
	}

	if cfg.Compute.AMI != "" {
		if err := c.checkImage(ctx, cfg.Compute.AMI); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fail("image %s: %v", cfg.Compute.AMI, err)
		}
	}

	block, err := network.ParsePrefix(cfg.Network.CIDRPrefix)
	if err != nil {
		fail("%v", err)
	} else {
		conflicts, err := c.overlappingVPCs(ctx, block)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fail("describe vpcs: %v", err)
		}
		for _, conflict := range conflicts {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s overlaps existing %s", block, conflict))
		}
	}

	result.Success = len(result.Errors) == 0
	c.log.Infow("preflight finished", "account", result.Account, "region", c.region,
		"errors", len(result.Errors), "warnings", len(result.Warnings))
	return result, nil
}

func (c *Checker) availableZones(ctx context.Context) (map[string]bool, error) {
	out, err := c.ec2.DescribeAvailabilityZones(ctx, &ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, err
	}
	zones := make(map[string]bool, len(out.AvailabilityZones))
	for _, z := range out.AvailabilityZones {
		if z.State == ec2types.AvailabilityZoneStateAvailable {
			zones[aws.ToString(z.ZoneName)] = true
		}
	}
	return zones, nil
}

func (c *Checker) checkImage(ctx context.Context, ami string) error {
	out, err := c.ec2.DescribeImages(ctx, &ec2.DescribeImagesInput{ImageIds: []string{ami}})
	if err != nil {
		return err
	}
	for _, img := range out.Images {
		if aws.ToString(img.ImageId) != ami {
			continue
		}
		if img.State != ec2types.ImageStateAvailable {
			return fmt.Errorf("state is %s", img.State)
		}
		return nil
	}
	return fmt.Errorf("not found")
}

// overlappingVPCs returns "<vpc-id> (<cidr>)" for every VPC sharing addresses
// with block.
func (c *Checker) overlappingVPCs(ctx context.Context, block netip.Prefix) ([]string, error) {
	var conflicts []string
	paginator := ec2.NewDescribeVpcsPaginator(c.ec2, &ec2.DescribeVpcsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return conflicts, err
		}
		for _, vpc := range page.Vpcs {
			existing, err := netip.ParsePrefix(aws.ToString(vpc.CidrBlock))
			if err != nil {
				continue
			}
			if network.Overlaps(block, existing) {
				conflicts = append(conflicts, fmt.Sprintf("%s (%s)", aws.ToString(vpc.VpcId), existing))
			}
		}
	}
	sort.Strings(conflicts)
	return conflicts, nil
}
