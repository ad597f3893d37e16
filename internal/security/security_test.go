package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

func declare(t *testing.T, exposure Exposure, appPort, dbPort int) (*stack.Stack, *Groups) {
	t.Helper()
	s := stack.New("test")
	vpc, err := s.Declare("MyVpc", stack.TypeVPC, nil)
	require.NoError(t, err)
	g, err := Declare(s, vpc, Options{
		Names:    DefaultNames(),
		Exposure: exposure,
		AppPort:  appPort,
		DBPort:   dbPort,
	})
	require.NoError(t, err)
	return s, g
}

func ingress(r *stack.Resource) []map[string]any {
	raw, _ := r.Properties()["SecurityGroupIngress"].([]any)
	out := make([]map[string]any, len(raw))
	for i, v := range raw {
		out[i] = v.(map[string]any)
	}
	return out
}

func sourceOrigin(rule map[string]any) string {
	src, ok := rule["SourceSecurityGroupId"].(deferred.Output[string])
	if !ok {
		return ""
	}
	return src.Origin().Resource
}

func TestDeclare_BoundaryChain(t *testing.T) {
	_, g := declare(t, ExposureBoundary, 8000, 5432)
	require.NotNil(t, g.Boundary)

	boundary := ingress(g.Boundary)
	require.Len(t, boundary, 2)
	assert.Equal(t, Anywhere, boundary[0]["CidrIp"])
	assert.Equal(t, 80, boundary[0]["FromPort"])
	assert.Equal(t, 443, boundary[1]["FromPort"])

	app := ingress(g.App)
	require.Len(t, app, 2)
	for _, rule := range app {
		assert.Equal(t, "LoadBalancerSecurityGroup", sourceOrigin(rule))
		assert.NotContains(t, rule, "CidrIp")
	}
	assert.Equal(t, 22, app[0]["FromPort"])
	assert.Equal(t, 8000, app[1]["ToPort"])

	assert.Equal(t, []string{"AppSecurityGroup", "MyVpc"}, g.Data.Dependencies())
	assert.Equal(t, "loadBalancerSecurityGroup", g.Boundary.Properties()["GroupName"])
}

func TestDeclare_DirectExposure(t *testing.T) {
	s, g := declare(t, ExposureDirect, 8000, 5432)
	assert.Nil(t, g.Boundary)
	_, ok := s.Lookup("LoadBalancerSecurityGroup")
	assert.False(t, ok)

	var ports []any
	for _, rule := range ingress(g.App) {
		assert.Equal(t, Anywhere, rule["CidrIp"])
		ports = append(ports, rule["FromPort"])
	}
	assert.Equal(t, []any{22, 80, 443, 8000}, ports)
}

func TestDeclare_DataTierOnlyFromApp(t *testing.T) {
	for _, exposure := range []Exposure{ExposureBoundary, ExposureDirect} {
		for _, dbPort := range []int{5432, 3306, 15432} {
			_, g := declare(t, exposure, 8080, dbPort)
			rules := ingress(g.Data)
			require.Len(t, rules, 1)
			for _, rule := range rules {
				assert.NotContains(t, rule, "CidrIp")
				assert.Equal(t, "AppSecurityGroup", sourceOrigin(rule))
				assert.Equal(t, dbPort, rule["FromPort"])
			}
			assert.NotContains(t, g.Data.Properties(), "SecurityGroupEgress")
			assert.NoError(t, ValidateDataTier(g.Specs["dbSecurityGroup"], g.App))
		}
	}
}

func TestValidateDataTier(t *testing.T) {
	s := stack.New("test")
	app, _ := s.Declare("App", stack.TypeSecurityGroup, nil)
	other, _ := s.Declare("Other", stack.TypeSecurityGroup, nil)

	err := ValidateDataTier(GroupSpec{Name: "db", Ingress: []Rule{TCP(PortPostgres, "10.0.0.0/16")}}, app)
	assert.ErrorIs(t, err, ErrCIDRInDataTier)

	err = ValidateDataTier(GroupSpec{Name: "db", Ingress: []Rule{TCPFrom(PortPostgres, other)}}, app)
	assert.ErrorIs(t, err, ErrCIDRInDataTier)

	assert.NoError(t, ValidateDataTier(GroupSpec{Name: "db", Ingress: []Rule{TCPFrom(PortPostgres, app)}}, app))
}

func TestRuleValidation(t *testing.T) {
	assert.ErrorIs(t, Rule{Protocol: "tcp"}.validate(), ErrInvalidRule)

	s := stack.New("test")
	g, _ := s.Declare("G", stack.TypeSecurityGroup, nil)
	both := TCP(22, Anywhere)
	both.SourceGroup = g
	assert.ErrorIs(t, both.validate(), ErrInvalidRule)
}
