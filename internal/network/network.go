package network

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lex00/twotier-aws-go/internal/stack"
	"github.com/lex00/twotier-aws-go/intrinsics"
)

// Names holds the configured display names of the network resources. Each is
// also turned into a logical ID.
type Names struct {
	VPC                  string
	PublicRouteTable     string
	PrivateRouteTable    string
	PublicSubnetConnect  string
	PrivateSubnetConnect string
	InternetGateway      string
	PublicRoute          string
}

// Options configures Declare.
type Options struct {
	Names Names
	// RouteDestination is the destination of the public default route.
	RouteDestination string
	Tags             map[string]string
	Log              *zap.SugaredLogger
}

// Network holds the declared network resources.
type Network struct {
	Allocation Allocation

	VPC               *stack.Resource
	PublicSubnets     []*stack.Resource
	PrivateSubnets    []*stack.Resource
	PublicRouteTable  *stack.Resource
	PrivateRouteTable *stack.Resource
	Associations      []*stack.Resource
	InternetGateway   *stack.Resource
	GatewayAttachment *stack.Resource
	PublicRoute       *stack.Resource
}

// PublicSubnetIDs returns the deferred IDs of the public subnets.
func (n *Network) PublicSubnetIDs() []any {
	return subnetIDs(n.PublicSubnets)
}

// PrivateSubnetIDs returns the deferred IDs of the private subnets.
func (n *Network) PrivateSubnetIDs() []any {
	return subnetIDs(n.PrivateSubnets)
}

func subnetIDs(subnets []*stack.Resource) []any {
	ids := make([]any, len(subnets))
	for i, s := range subnets {
		ids[i] = s.ID()
	}
	return ids
}

// Declare adds the VPC, the allocated subnets, both route tables with their
// associations, the internet gateway and the public default route to s.
func Declare(s *stack.Stack, alloc Allocation, opts Options) (*Network, error) {
	if err := alloc.Verify(); err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	names := opts.Names
	n := &Network{Allocation: alloc}

	var err error
	n.VPC, err = s.Declare(stack.LogicalID(names.VPC), stack.TypeVPC, stack.Properties{
		"CidrBlock":          alloc.VPC.String(),
		"InstanceTenancy":    "default",
		"EnableDnsSupport":   true,
		"EnableDnsHostnames": true,
		"Tags":               intrinsics.Tags(names.VPC, opts.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring VPC: %w", err)
	}

	for _, spec := range alloc.Public {
		subnet, err := declareSubnet(s, n.VPC, spec, opts.Tags)
		if err != nil {
			return nil, err
		}
		n.PublicSubnets = append(n.PublicSubnets, subnet)
	}
	for _, spec := range alloc.Private {
		subnet, err := declareSubnet(s, n.VPC, spec, opts.Tags)
		if err != nil {
			return nil, err
		}
		n.PrivateSubnets = append(n.PrivateSubnets, subnet)
	}

	n.PublicRouteTable, err = declareRouteTable(s, n.VPC, names.PublicRouteTable, opts.Tags)
	if err != nil {
		return nil, err
	}
	n.PrivateRouteTable, err = declareRouteTable(s, n.VPC, names.PrivateRouteTable, opts.Tags)
	if err != nil {
		return nil, err
	}

	if err := n.associate(s, n.PublicSubnets, n.PublicRouteTable, names.PublicSubnetConnect); err != nil {
		return nil, err
	}
	if err := n.associate(s, n.PrivateSubnets, n.PrivateRouteTable, names.PrivateSubnetConnect); err != nil {
		return nil, err
	}

	n.InternetGateway, err = s.Declare(stack.LogicalID(names.InternetGateway), stack.TypeInternetGateway, stack.Properties{
		"Tags": intrinsics.Tags(names.InternetGateway, opts.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring internet gateway: %w", err)
	}
	n.GatewayAttachment, err = s.Declare(stack.LogicalID(names.InternetGateway)+"Attachment", stack.TypeGatewayAttachment, stack.Properties{
		"VpcId":             n.VPC.ID(),
		"InternetGatewayId": n.InternetGateway.ID(),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring gateway attachment: %w", err)
	}

	// The route is only valid once the gateway is attached to the VPC.
	n.PublicRoute, err = s.Declare(stack.LogicalID(names.PublicRoute), stack.TypeRoute, stack.Properties{
		"RouteTableId":         n.PublicRouteTable.ID(),
		"DestinationCidrBlock": opts.RouteDestination,
		"GatewayId":            n.InternetGateway.ID(),
	}, stack.DependsOn(n.GatewayAttachment))
	if err != nil {
		return nil, fmt.Errorf("declaring public route: %w", err)
	}

	log.Debugw("declared network",
		"vpc", alloc.VPC.String(),
		"publicSubnets", len(n.PublicSubnets),
		"privateSubnets", len(n.PrivateSubnets),
	)
	return n, nil
}

func declareSubnet(s *stack.Stack, vpc *stack.Resource, spec SubnetSpec, tags map[string]string) (*stack.Resource, error) {
	props := stack.Properties{
		"VpcId":            vpc.ID(),
		"CidrBlock":        spec.CIDR.String(),
		"AvailabilityZone": spec.Zone,
		"Tags":             intrinsics.Tags(spec.Name, tags),
	}
	if spec.Public {
		props["MapPublicIpOnLaunch"] = true
	}
	r, err := s.Declare(stack.LogicalID(spec.Name), stack.TypeSubnet, props)
	if err != nil {
		return nil, fmt.Errorf("declaring subnet %s: %w", spec.Name, err)
	}
	return r, nil
}

func declareRouteTable(s *stack.Stack, vpc *stack.Resource, name string, tags map[string]string) (*stack.Resource, error) {
	r, err := s.Declare(stack.LogicalID(name), stack.TypeRouteTable, stack.Properties{
		"VpcId": vpc.ID(),
		"Tags":  intrinsics.Tags(name, tags),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring route table %s: %w", name, err)
	}
	return r, nil
}

// associate joins each subnet to the route table. An empty tier declares
// nothing.
func (n *Network) associate(s *stack.Stack, subnets []*stack.Resource, table *stack.Resource, name string) error {
	for i, subnet := range subnets {
		assocName := fmt.Sprintf("%s%d", name, i+1)
		r, err := s.Declare(stack.LogicalID(assocName), stack.TypeRouteTableAssociation, stack.Properties{
			"SubnetId":     subnet.ID(),
			"RouteTableId": table.ID(),
		})
		if err != nil {
			return fmt.Errorf("declaring route table association %s: %w", assocName, err)
		}
		n.Associations = append(n.Associations, r)
	}
	return nil
}
