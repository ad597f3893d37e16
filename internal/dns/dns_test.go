package dns

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lex00/twotier-aws-go/internal/stack"
)

func TestDeclare_WaitsForLoadBalancer(t *testing.T) {
	s := stack.New("test")
	lb, err := s.Declare("MyLoadBalancer", stack.TypeLoadBalancer, nil)
	require.NoError(t, err)

	record, err := Declare(s, Target{
		Resource: lb,
		DNSName:  lb.Attr("DNSName"),
		ZoneID:   lb.Attr("CanonicalHostedZoneID"),
	}, Options{Name: "dev.example.com", HostedZoneID: "Z123"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MyLoadBalancer"}, record.ExplicitDependencies())

	var mu sync.Mutex
	var alias map[string]any
	engine := stack.EngineFunc(func(_ context.Context, sub stack.Submission) (map[string]string, error) {
		if sub.Name == "MyLoadBalancer" {
			return map[string]string{
				"Ref":                   "arn:lb",
				"DNSName":               "my-lb-123.us-east-1.elb.amazonaws.com",
				"CanonicalHostedZoneID": "Z35SXDOTRQ7X7K",
			}, nil
		}
		mu.Lock()
		alias = sub.Properties["AliasTarget"].(map[string]any)
		mu.Unlock()
		return map[string]string{"Ref": "dev.example.com"}, nil
	})
	require.NoError(t, s.Run(context.Background(), engine))

	assert.Equal(t, "my-lb-123.us-east-1.elb.amazonaws.com", alias["DNSName"])
	assert.Equal(t, "Z35SXDOTRQ7X7K", alias["HostedZoneId"])
	assert.Equal(t, true, alias["EvaluateTargetHealth"])
}

func TestDeclare_Invalid(t *testing.T) {
	s := stack.New("test")
	lb, _ := s.Declare("MyLoadBalancer", stack.TypeLoadBalancer, nil)
	_, err := Declare(s, Target{Resource: lb, DNSName: lb.Attr("DNSName"), ZoneID: lb.Attr("CanonicalHostedZoneID")}, Options{Name: "dev.example.com"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}
