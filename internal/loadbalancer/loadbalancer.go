// Package loadbalancer declares the application load balancer, its target
// group and the HTTP listener of the balanced topology.
package loadbalancer

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/stack"
	"github.com/lex00/twotier-aws-go/intrinsics"
)

// ErrNoPublicSubnets is returned when there is no public subnet to span.
var ErrNoPublicSubnets = errors.New("load balancer requires at least one public subnet")

// Logical names of the declared resources.
const (
	LoadBalancerName = "MyLoadBalancer"
	TargetGroupName  = "AppTargetGroup"
	ListenerName     = "AppListener"
)

// HealthCheck is the contract a target must satisfy to receive traffic.
type HealthCheck struct {
	Path               string
	Matcher            string
	Interval           int
	Timeout            int
	HealthyThreshold   int
	UnhealthyThreshold int
}

// DefaultHealthCheck returns the health check of the application.
func DefaultHealthCheck() HealthCheck {
	return HealthCheck{
		Path:               "/healthz",
		Matcher:            "200",
		Interval:           30,
		Timeout:            5,
		HealthyThreshold:   2,
		UnhealthyThreshold: 2,
	}
}

// Options configures Declare.
type Options struct {
	// AppPort is the instance port traffic is forwarded to.
	AppPort     int
	HealthCheck HealthCheck
	Tags        map[string]string
}

// LoadBalancer holds the declared resources and their late-bound attributes.
type LoadBalancer struct {
	LoadBalancer *stack.Resource
	TargetGroup  *stack.Resource
	Listener     *stack.Resource

	DNSName        deferred.Output[string]
	CanonicalZone  deferred.Output[string]
	ARN            deferred.Output[string]
	TargetGroupARN deferred.Output[string]

	HealthCheck HealthCheck
}

// Declare adds an internet-facing application load balancer over
// publicSubnets, guarded by boundary, that forwards port 80 to a target group
// on the application port.
func Declare(s *stack.Stack, vpc, boundary *stack.Resource, publicSubnets []*stack.Resource, opts Options) (*LoadBalancer, error) {
	if len(publicSubnets) == 0 {
		return nil, ErrNoPublicSubnets
	}
	hc := opts.HealthCheck
	lb := &LoadBalancer{HealthCheck: hc}

	subnets := make([]any, len(publicSubnets))
	for i, subnet := range publicSubnets {
		subnets[i] = subnet.ID()
	}

	var err error
	lb.LoadBalancer, err = s.Declare(LoadBalancerName, stack.TypeLoadBalancer, stack.Properties{
		"Scheme":         "internet-facing",
		"Type":           "application",
		"SecurityGroups": []any{boundary.ID()},
		"Subnets":        subnets,
		"Tags":           intrinsics.Tags("myLoadBalancer", opts.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring load balancer: %w", err)
	}

	lb.TargetGroup, err = s.Declare(TargetGroupName, stack.TypeTargetGroup, stack.Properties{
		"Port":                       opts.AppPort,
		"Protocol":                   "HTTP",
		"TargetType":                 "instance",
		"VpcId":                      vpc.ID(),
		"HealthCheckEnabled":         true,
		"HealthCheckPath":            hc.Path,
		"HealthCheckProtocol":        "HTTP",
		"HealthCheckPort":            strconv.Itoa(opts.AppPort),
		"HealthCheckIntervalSeconds": hc.Interval,
		"HealthCheckTimeoutSeconds":  hc.Timeout,
		"HealthyThresholdCount":      hc.HealthyThreshold,
		"UnhealthyThresholdCount":    hc.UnhealthyThreshold,
		"Matcher":                    map[string]any{"HttpCode": hc.Matcher},
		"Tags":                       intrinsics.Tags("app-target-group", opts.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("declaring target group: %w", err)
	}

	lb.ARN = lb.LoadBalancer.ID()
	lb.TargetGroupARN = lb.TargetGroup.ID()
	lb.Listener, err = s.Declare(ListenerName, stack.TypeListener, stack.Properties{
		"LoadBalancerArn": lb.ARN,
		"Port":            80,
		"Protocol":        "HTTP",
		"DefaultActions": []any{map[string]any{
			"Type":           "forward",
			"TargetGroupArn": lb.TargetGroupARN,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("declaring listener: %w", err)
	}

	lb.DNSName = lb.LoadBalancer.Attr("DNSName")
	lb.CanonicalZone = lb.LoadBalancer.Attr("CanonicalHostedZoneID")
	return lb, nil
}
