// Package memory implements a convergence engine that keeps every applied
// resource in memory. Physical identifiers are derived deterministically from
// the stack and logical names, so two runs of the same stack agree.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lex00/twotier-aws-go/internal/bootstrap"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

// ErrUnsupportedAttribute is returned when a submission asks for an attribute
// the engine cannot produce for its type.
var ErrUnsupportedAttribute = errors.New("unsupported attribute")

// namespace seeds every generated identifier.
var namespace = uuid.MustParse("6f0f5b8e-8d7c-4f43-9d8c-2c1c8a1f4a57")

// Record is one applied resource.
type Record struct {
	Submission stack.Submission
	PhysicalID string
	Attributes map[string]string
	// UserData is the transport-encoded bootstrap script, if any.
	UserData string
}

// Engine applies submissions in memory. It is safe for concurrent use.
type Engine struct {
	stack   string
	region  string
	account string
	log     *zap.SugaredLogger

	mu      sync.Mutex
	fail    map[string]error
	records []Record
	byName  map[string]int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegion sets the region used in generated ARNs and DNS names.
func WithRegion(region string) Option {
	return func(e *Engine) { e.region = region }
}

// WithAccount sets the account used in generated ARNs.
func WithAccount(account string) Option {
	return func(e *Engine) { e.account = account }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = log }
}

// FailOn makes the engine reject the named resource with err.
func FailOn(name string, err error) Option {
	return func(e *Engine) { e.fail[name] = err }
}

// New returns an engine for the named stack.
func New(stackName string, opts ...Option) *Engine {
	e := &Engine{
		stack:   stackName,
		region:  "us-east-1",
		account: "123456789012",
		log:     zap.NewNop().Sugar(),
		fail:    make(map[string]error),
		byName:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply implements stack.Engine.
func (e *Engine) Apply(ctx context.Context, sub stack.Submission) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	failure, failing := e.fail[sub.Name]
	_, seen := e.byName[sub.Name]
	e.mu.Unlock()
	if failing {
		e.log.Debugw("injected failure", "resource", sub.Name)
		return nil, failure
	}
	if seen {
		return nil, fmt.Errorf("resource %s applied twice", sub.Name)
	}

	id := e.physicalID(sub)
	attrs := make(map[string]string, len(sub.Attributes))
	for _, name := range sub.Attributes {
		v, err := e.attribute(sub, id, name)
		if err != nil {
			return nil, err
		}
		attrs[name] = v
	}

	rec := Record{
		Submission: sub,
		PhysicalID: id,
		Attributes: attrs,
		UserData:   userData(sub.Properties),
	}

	e.mu.Lock()
	e.byName[sub.Name] = len(e.records)
	e.records = append(e.records, rec)
	e.mu.Unlock()

	e.log.Debugw("applied resource", "resource", sub.Name, "type", sub.Type, "physicalID", id)
	return attrs, nil
}

// Records returns the applied resources in completion order.
func (e *Engine) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Record(nil), e.records...)
}

// Record returns the named applied resource.
func (e *Engine) Record(name string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.byName[name]
	if !ok {
		return Record{}, false
	}
	return e.records[i], true
}

// Applied returns the logical names in completion order.
func (e *Engine) Applied() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(e.records))
	for i, r := range e.records {
		names[i] = r.Submission.Name
	}
	return names
}

func (e *Engine) suffix(name string, n int) string {
	id := uuid.NewSHA1(namespace, []byte(e.stack+"/"+name))
	return strings.ReplaceAll(id.String(), "-", "")[:n]
}

var idPrefixes = map[string]string{
	stack.TypeVPC:                   "vpc-",
	stack.TypeSubnet:                "subnet-",
	stack.TypeRouteTable:            "rtb-",
	stack.TypeRouteTableAssociation: "rtbassoc-",
	stack.TypeInternetGateway:       "igw-",
	stack.TypeGatewayAttachment:     "igw-attach-",
	stack.TypeRoute:                 "r-",
	stack.TypeSecurityGroup:         "sg-",
	stack.TypeInstance:              "i-",
	stack.TypeLaunchTemplate:        "lt-",
}

// physicalID is what a Ref of the resource returns.
func (e *Engine) physicalID(sub stack.Submission) string {
	if prefix, ok := idPrefixes[sub.Type]; ok {
		return prefix + e.suffix(sub.Name, 17)
	}
	lower := strings.ToLower(sub.Name)
	switch sub.Type {
	case stack.TypeLoadBalancer, stack.TypeTargetGroup, stack.TypeListener, stack.TypeScalingPolicy:
		return e.arn(sub)
	case stack.TypeRecordSet:
		if name, ok := sub.Properties["Name"].(string); ok {
			return name
		}
	}
	return fmt.Sprintf("%s-%s-%s", e.stack, lower, e.suffix(sub.Name, 12))
}

func (e *Engine) arn(sub stack.Submission) string {
	s := e.suffix(sub.Name, 16)
	switch sub.Type {
	case stack.TypeLoadBalancer:
		return fmt.Sprintf("arn:aws:elasticloadbalancing:%s:%s:loadbalancer/app/%s/%s", e.region, e.account, sub.Name, s)
	case stack.TypeTargetGroup:
		return fmt.Sprintf("arn:aws:elasticloadbalancing:%s:%s:targetgroup/%s/%s", e.region, e.account, sub.Name, s)
	case stack.TypeListener:
		return fmt.Sprintf("arn:aws:elasticloadbalancing:%s:%s:listener/app/%s", e.region, e.account, s)
	case stack.TypeScalingPolicy:
		return fmt.Sprintf("arn:aws:autoscaling:%s:%s:scalingPolicy:%s:policyName/%s", e.region, e.account, s, sub.Name)
	case stack.TypeRole:
		return fmt.Sprintf("arn:aws:iam::%s:role/%s", e.account, e.physicalID(sub))
	case stack.TypeInstanceProfile:
		return fmt.Sprintf("arn:aws:iam::%s:instance-profile/%s", e.account, e.physicalID(sub))
	}
	return fmt.Sprintf("arn:aws:%s:%s:%s:%s", strings.ToLower(stack.Service(sub.Type)), e.region, e.account, e.physicalID(sub))
}

func (e *Engine) attribute(sub stack.Submission, id, name string) (string, error) {
	switch {
	case name == stack.RefAttribute:
		return id, nil
	case name == "Arn":
		return e.arn(sub), nil
	}

	switch sub.Type {
	case stack.TypeLoadBalancer:
		switch name {
		case "DNSName":
			return fmt.Sprintf("%s-%s.%s.elb.amazonaws.com", strings.ToLower(sub.Name), e.suffix(sub.Name, 10), e.region), nil
		case "CanonicalHostedZoneID":
			return "Z35SXDOTRQ7X7K", nil
		case "LoadBalancerFullName":
			return strings.TrimPrefix(id, fmt.Sprintf("arn:aws:elasticloadbalancing:%s:%s:loadbalancer/", e.region, e.account)), nil
		}
	case stack.TypeDBInstance:
		switch name {
		case "Endpoint.Address":
			return fmt.Sprintf("%s.%s.%s.rds.amazonaws.com", strings.ToLower(sub.Name), e.suffix(sub.Name, 12), e.region), nil
		case "Endpoint.Port":
			if port, ok := sub.Properties["Port"]; ok {
				return fmt.Sprint(port), nil
			}
			return "5432", nil
		}
	case stack.TypeLaunchTemplate:
		switch name {
		case "LatestVersionNumber", "DefaultVersionNumber":
			return "1", nil
		}
	case stack.TypeSecurityGroup:
		if name == "GroupId" {
			return id, nil
		}
	case stack.TypeInstance:
		switch name {
		case "PublicIp":
			return "203.0.113.10", nil
		case "PrivateIp":
			return "10.0.1.10", nil
		}
	}
	return "", fmt.Errorf("%w: %s.%s (%s)", ErrUnsupportedAttribute, sub.Name, name, sub.Type)
}

// userData finds bootstrap user data at the top level or inside a launch
// template.
func userData(props map[string]any) string {
	if ud, ok := props["UserData"].(bootstrap.UserData); ok {
		return ud.Encoded()
	}
	if data, ok := props["LaunchTemplateData"].(map[string]any); ok {
		return userData(data)
	}
	return ""
}
