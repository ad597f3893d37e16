package loadbalancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lex00/twotier-aws-go/internal/stack"
)

func fixture(t *testing.T, publicCount int) (*stack.Stack, *stack.Resource, *stack.Resource, []*stack.Resource) {
	t.Helper()
	s := stack.New("test")
	vpc, err := s.Declare("MyVpc", stack.TypeVPC, nil)
	require.NoError(t, err)
	boundary, err := s.Declare("LoadBalancerSecurityGroup", stack.TypeSecurityGroup, nil)
	require.NoError(t, err)
	var public []*stack.Resource
	for i := 0; i < publicCount; i++ {
		r, err := s.Declare("Public"+string(rune('A'+i)), stack.TypeSubnet, nil)
		require.NoError(t, err)
		public = append(public, r)
	}
	return s, vpc, boundary, public
}

func TestDeclare(t *testing.T) {
	s, vpc, boundary, public := fixture(t, 2)
	lb, err := Declare(s, vpc, boundary, public, Options{AppPort: 8000, HealthCheck: DefaultHealthCheck()})
	require.NoError(t, err)

	props := lb.LoadBalancer.Properties()
	assert.Equal(t, "internet-facing", props["Scheme"])
	assert.Equal(t, "application", props["Type"])
	assert.Len(t, props["Subnets"], 2)
	assert.Equal(t,
		[]string{"LoadBalancerSecurityGroup", "PublicA", "PublicB"},
		lb.LoadBalancer.Dependencies())

	tg := lb.TargetGroup.Properties()
	assert.Equal(t, 8000, tg["Port"])
	assert.Equal(t, "8000", tg["HealthCheckPort"])
	assert.Equal(t, "/healthz", tg["HealthCheckPath"])
	assert.Equal(t, 30, tg["HealthCheckIntervalSeconds"])
	assert.Equal(t, 5, tg["HealthCheckTimeoutSeconds"])
	assert.Equal(t, 2, tg["HealthyThresholdCount"])
	assert.Equal(t, 2, tg["UnhealthyThresholdCount"])
	assert.Equal(t, map[string]any{"HttpCode": "200"}, tg["Matcher"])

	assert.Equal(t, 80, lb.Listener.Properties()["Port"])
	assert.Equal(t, []string{"AppTargetGroup", "MyLoadBalancer"}, lb.Listener.Dependencies())
	assert.Equal(t, "MyLoadBalancer", lb.DNSName.Origin().Resource)
	assert.Equal(t, "CanonicalHostedZoneID", lb.CanonicalZone.Origin().Attribute)
}

func TestDeclare_CustomHealthCheckPath(t *testing.T) {
	s, vpc, boundary, public := fixture(t, 1)
	hc := DefaultHealthCheck()
	hc.Path = "/ready"
	lb, err := Declare(s, vpc, boundary, public, Options{AppPort: 8080, HealthCheck: hc})
	require.NoError(t, err)
	assert.Equal(t, "/ready", lb.TargetGroup.Properties()["HealthCheckPath"])
	assert.Equal(t, "8080", lb.TargetGroup.Properties()["HealthCheckPort"])
}

func TestDeclare_RequiresPublicSubnets(t *testing.T) {
	s, vpc, boundary, public := fixture(t, 0)
	_, err := Declare(s, vpc, boundary, public, Options{AppPort: 8000, HealthCheck: DefaultHealthCheck()})
	assert.ErrorIs(t, err, ErrNoPublicSubnets)
}
