package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lex00/twotier-aws-go/internal/bootstrap"
	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

func TestApply_DeterministicIdentifiers(t *testing.T) {
	sub := stack.Submission{Name: "MyVpc", Type: stack.TypeVPC, Attributes: []string{stack.RefAttribute}}

	a, err := New("dev").Apply(context.Background(), sub)
	require.NoError(t, err)
	b, err := New("dev").Apply(context.Background(), sub)
	require.NoError(t, err)
	c, err := New("prod").Apply(context.Background(), sub)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a["Ref"], "vpc-"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestApply_Attributes(t *testing.T) {
	e := New("dev", WithRegion("eu-west-1"))
	ctx := context.Background()

	lb, err := e.Apply(ctx, stack.Submission{
		Name:       "MyLoadBalancer",
		Type:       stack.TypeLoadBalancer,
		Attributes: []string{"Ref", "DNSName", "CanonicalHostedZoneID"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(lb["Ref"], "arn:aws:elasticloadbalancing:eu-west-1:"))
	assert.True(t, strings.HasSuffix(lb["DNSName"], ".eu-west-1.elb.amazonaws.com"))
	assert.NotEmpty(t, lb["CanonicalHostedZoneID"])

	db, err := e.Apply(ctx, stack.Submission{
		Name:       "RdsInstance",
		Type:       stack.TypeDBInstance,
		Properties: map[string]any{"Port": "5433"},
		Attributes: []string{"Endpoint.Address", "Endpoint.Port"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(db["Endpoint.Address"], ".rds.amazonaws.com"))
	assert.Equal(t, "5433", db["Endpoint.Port"])

	_, err = e.Apply(ctx, stack.Submission{Name: "MyVpc", Type: stack.TypeVPC, Attributes: []string{"DNSName"}})
	assert.ErrorIs(t, err, ErrUnsupportedAttribute)
}

func TestApply_InjectedFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	e := New("dev", FailOn("RdsInstance", boom))
	_, err := e.Apply(context.Background(), stack.Submission{Name: "RdsInstance", Type: stack.TypeDBInstance})
	assert.ErrorIs(t, err, boom)
	_, ok := e.Record("RdsInstance")
	assert.False(t, ok)
}

func TestApply_Twice(t *testing.T) {
	e := New("dev")
	sub := stack.Submission{Name: "MyVpc", Type: stack.TypeVPC}
	_, err := e.Apply(context.Background(), sub)
	require.NoError(t, err)
	_, err = e.Apply(context.Background(), sub)
	assert.Error(t, err)
}

func TestApply_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New("dev").Apply(ctx, stack.Submission{Name: "MyVpc", Type: stack.TypeVPC})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_RecordsUserData(t *testing.T) {
	s := stack.New("dev")
	db, err := s.Declare("RdsInstance", stack.TypeDBInstance, nil)
	require.NoError(t, err)

	script := deferred.Apply(db.Attr("Endpoint.Address"), func(addr string) bootstrap.Script {
		return bootstrap.Script("DB_HOST=" + addr)
	})
	_, err = s.Declare("WebAppLaunchTemplate", stack.TypeLaunchTemplate, stack.Properties{
		"LaunchTemplateData": map[string]any{
			"UserData": bootstrap.NewUserData(script, bootstrap.EncodingBase64),
		},
	})
	require.NoError(t, err)
	_, err = s.Declare("WebAppInstance", stack.TypeInstance, stack.Properties{
		"UserData": bootstrap.NewUserData(script, bootstrap.EncodingRaw),
	})
	require.NoError(t, err)

	e := New("dev")
	require.NoError(t, s.Run(context.Background(), e))

	assert.Equal(t, "RdsInstance", e.Applied()[0])
	dbRec, _ := e.Record("RdsInstance")
	addr := dbRec.Attributes["Endpoint.Address"]

	inst, ok := e.Record("WebAppInstance")
	require.True(t, ok)
	assert.Equal(t, "DB_HOST="+addr, inst.UserData)

	lt, ok := e.Record("WebAppLaunchTemplate")
	require.True(t, ok)
	expected := bootstrap.UserData{Script: bootstrap.Script("DB_HOST=" + addr), Encoding: bootstrap.EncodingBase64}
	assert.Equal(t, expected.Encoded(), lt.UserData)
	assert.Len(t, e.Records(), 3)
}
