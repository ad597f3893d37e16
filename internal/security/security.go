// Package security declares the layered security groups of an environment:
// the boundary group faces the internet, the app group accepts traffic from
// the boundary group and the data group accepts traffic from the app group.
package security

import (
	"errors"
	"fmt"

	"github.com/lex00/twotier-aws-go/internal/stack"
	"github.com/lex00/twotier-aws-go/intrinsics"
)

// Well-known ports.
const (
	PortSSH      = 22
	PortHTTP     = 80
	PortHTTPS    = 443
	PortPostgres = 5432
)

// Anywhere is the IPv4 block matching every address.
const Anywhere = "0.0.0.0/0"

var (
	// ErrCIDRInDataTier is returned when a data group rule is sourced from a CIDR.
	ErrCIDRInDataTier = errors.New("data tier rules must be sourced from the app group")
	// ErrInvalidRule is returned when a rule has neither or both sources.
	ErrInvalidRule = errors.New("rule must have exactly one of CIDR or source group")
)

// Exposure selects how the app group is reachable.
type Exposure int

const (
	// ExposureBoundary admits app traffic only from the boundary group.
	ExposureBoundary Exposure = iota
	// ExposureDirect admits app traffic from anywhere. No boundary group is
	// declared.
	ExposureDirect
)

// Rule is a single ingress or egress permission. Exactly one of CIDR and
// SourceGroup is set.
type Rule struct {
	Protocol    string
	FromPort    int
	ToPort      int
	CIDR        string
	SourceGroup *stack.Resource
	Description string
}

// TCP returns a rule for one TCP port from a CIDR.
func TCP(port int, cidr string) Rule {
	return Rule{Protocol: "tcp", FromPort: port, ToPort: port, CIDR: cidr}
}

// TCPFrom returns a rule for one TCP port from another group.
func TCPFrom(port int, group *stack.Resource) Rule {
	return Rule{Protocol: "tcp", FromPort: port, ToPort: port, SourceGroup: group}
}

// AllTraffic returns a rule for every protocol and port to a CIDR.
func AllTraffic(cidr string) Rule {
	return Rule{Protocol: "-1", FromPort: 0, ToPort: 0, CIDR: cidr}
}

func (r Rule) validate() error {
	if (r.CIDR == "") == (r.SourceGroup == nil) {
		return fmt.Errorf("%w: %s %d-%d", ErrInvalidRule, r.Protocol, r.FromPort, r.ToPort)
	}
	return nil
}

func (r Rule) properties(sourceKey string) map[string]any {
	props := map[string]any{
		"IpProtocol": r.Protocol,
		"FromPort":   r.FromPort,
		"ToPort":     r.ToPort,
	}
	if r.SourceGroup != nil {
		props[sourceKey] = r.SourceGroup.ID()
	} else {
		props["CidrIp"] = r.CIDR
	}
	if r.Description != "" {
		props["Description"] = r.Description
	}
	return props
}

// GroupSpec describes one security group.
type GroupSpec struct {
	Name        string
	Description string
	Ingress     []Rule
	Egress      []Rule
}

// ValidateDataTier rejects any data group rule that is not sourced from app.
func ValidateDataTier(spec GroupSpec, app *stack.Resource) error {
	for _, r := range spec.Ingress {
		if r.CIDR != "" {
			return fmt.Errorf("%w: %s port %d allows %s", ErrCIDRInDataTier, spec.Name, r.FromPort, r.CIDR)
		}
		if r.SourceGroup != app {
			return fmt.Errorf("%w: %s port %d has a foreign source group", ErrCIDRInDataTier, spec.Name, r.FromPort)
		}
	}
	return nil
}

// Names holds the group names, used both as logical IDs and GroupName.
type Names struct {
	Boundary string
	App      string
	Data     string
}

// DefaultNames returns the group names used by existing deployments.
func DefaultNames() Names {
	return Names{
		Boundary: "loadBalancerSecurityGroup",
		App:      "appSecurityGroup",
		Data:     "dbSecurityGroup",
	}
}

// Options configures Declare.
type Options struct {
	Names    Names
	Exposure Exposure
	// AppPort is the port the application listens on.
	AppPort int
	// DBPort is the port of the database.
	DBPort int
	Tags   map[string]string
}

// Groups holds the declared groups. Boundary is nil for ExposureDirect.
type Groups struct {
	Boundary *stack.Resource
	App      *stack.Resource
	Data     *stack.Resource

	Specs map[string]GroupSpec
}

// Declare adds the security groups to s inside vpc.
func Declare(s *stack.Stack, vpc *stack.Resource, opts Options) (*Groups, error) {
	g := &Groups{Specs: make(map[string]GroupSpec)}
	names := opts.Names

	var appIngress []Rule
	switch opts.Exposure {
	case ExposureBoundary:
		boundary := GroupSpec{
			Name:        names.Boundary,
			Description: "Load balancer ingress from the internet",
			Ingress:     []Rule{TCP(PortHTTP, Anywhere), TCP(PortHTTPS, Anywhere)},
			Egress:      []Rule{AllTraffic(Anywhere)},
		}
		var err error
		g.Boundary, err = g.declare(s, vpc, boundary, opts.Tags)
		if err != nil {
			return nil, err
		}
		appIngress = []Rule{TCPFrom(PortSSH, g.Boundary), TCPFrom(opts.AppPort, g.Boundary)}
	case ExposureDirect:
		appIngress = []Rule{
			TCP(PortSSH, Anywhere),
			TCP(PortHTTP, Anywhere),
			TCP(PortHTTPS, Anywhere),
			TCP(opts.AppPort, Anywhere),
		}
	default:
		return nil, fmt.Errorf("unknown exposure %d", opts.Exposure)
	}

	app := GroupSpec{
		Name:        names.App,
		Description: "Application instances",
		Ingress:     appIngress,
		Egress:      []Rule{AllTraffic(Anywhere)},
	}
	var err error
	g.App, err = g.declare(s, vpc, app, opts.Tags)
	if err != nil {
		return nil, err
	}

	data := GroupSpec{
		Name:        names.Data,
		Description: "Database access from application instances",
		Ingress:     []Rule{TCPFrom(opts.DBPort, g.App)},
	}
	if err := ValidateDataTier(data, g.App); err != nil {
		return nil, err
	}
	g.Data, err = g.declare(s, vpc, data, opts.Tags)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Groups) declare(s *stack.Stack, vpc *stack.Resource, spec GroupSpec, tags map[string]string) (*stack.Resource, error) {
	props := stack.Properties{
		"GroupName":        spec.Name,
		"GroupDescription": spec.Description,
		"VpcId":            vpc.ID(),
		"Tags":             intrinsics.Tags(spec.Name, tags),
	}
	ingress, err := ruleProperties(spec.Ingress, "SourceSecurityGroupId")
	if err != nil {
		return nil, fmt.Errorf("security group %s: %w", spec.Name, err)
	}
	if len(ingress) > 0 {
		props["SecurityGroupIngress"] = ingress
	}
	egress, err := ruleProperties(spec.Egress, "DestinationSecurityGroupId")
	if err != nil {
		return nil, fmt.Errorf("security group %s: %w", spec.Name, err)
	}
	if len(egress) > 0 {
		props["SecurityGroupEgress"] = egress
	}

	r, err := s.Declare(stack.LogicalID(spec.Name), stack.TypeSecurityGroup, props)
	if err != nil {
		return nil, fmt.Errorf("declaring security group %s: %w", spec.Name, err)
	}
	g.Specs[spec.Name] = spec
	return r, nil
}

func ruleProperties(rules []Rule, sourceKey string) ([]any, error) {
	out := make([]any, 0, len(rules))
	for _, r := range rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
		out = append(out, r.properties(sourceKey))
	}
	return out, nil
}
