package deferred

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutput_ResolveOnce(t *testing.T) {
	out := New[string](Origin{Resource: "Db", Attribute: "Endpoint.Address"})

	assert.True(t, out.Resolve("db.internal"))
	assert.False(t, out.Resolve("other.internal"))
	assert.False(t, out.Reject(errors.New("late failure")))

	v, err := out.Value()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", v)
}

func TestOutput_ValuePending(t *testing.T) {
	out := New[int](Origin{Resource: "A"})
	_, err := out.Value()
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestOutput_AwaitHonoursContext(t *testing.T) {
	out := New[string](Origin{Resource: "A", Attribute: "Arn"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := out.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestApply_RunsContinuationExactlyOnce(t *testing.T) {
	src := New[string](Origin{Resource: "Db", Attribute: "Endpoint.Address"})
	calls := 0
	derivedOut := Apply(src, func(addr string) string {
		calls++
		return "host=" + addr
	})

	_, err := derivedOut.Value()
	assert.ErrorIs(t, err, ErrUnresolved)

	src.Resolve("db.internal")
	src.Resolve("db.other")

	v, err := derivedOut.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "host=db.internal", v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []Origin{{Resource: "Db", Attribute: "Endpoint.Address"}}, derivedOut.Origins())
}

func TestApply_AfterResolutionRunsImmediately(t *testing.T) {
	src := Resolved(21)
	doubled := Apply(src, func(v int) int { return v * 2 })

	v, err := doubled.Value()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Empty(t, doubled.Origins())
}

func TestApply_PropagatesRejectionWithOrigin(t *testing.T) {
	src := New[string](Origin{Resource: "Db", Attribute: "Endpoint.Address"})
	chained := Apply(Apply(src, func(s string) string { return s + "!" }), func(s string) int { return len(s) })

	src.Reject(errors.New("quota exceeded"))

	_, err := chained.Await(context.Background())
	require.Error(t, err)

	var re *ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "Db", re.Origin.Resource)
	assert.Contains(t, err.Error(), "Db.Endpoint.Address")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestApplyErr_AttributesContinuationFailure(t *testing.T) {
	src := New[string](Origin{Resource: "Lb", Attribute: "DNSName"})
	out := ApplyErr(src, func(string) (string, error) {
		return "", errors.New("bad template")
	})
	src.Resolve("lb.example.com")

	_, err := out.Value()
	var re *ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, Origin{Resource: "Lb", Attribute: "DNSName"}, re.Origin)
}

func TestAll_JoinsInArgumentOrder(t *testing.T) {
	addr := New[string](Origin{Resource: "Db", Attribute: "Endpoint.Address"})
	user := Resolved("app")
	port := New[int](Origin{Resource: "Db", Attribute: "Endpoint.Port"})

	joined := All(addr, user, port)

	port.Resolve(5432)
	_, err := joined.Value()
	assert.ErrorIs(t, err, ErrUnresolved)

	addr.Resolve("db.internal")

	values, err := joined.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"db.internal", "app", 5432}, values)
	assert.Len(t, joined.Origins(), 2)
}

func TestAll_FirstRejectionWins(t *testing.T) {
	a := New[string](Origin{Resource: "A"})
	b := New[string](Origin{Resource: "B"})
	joined := All(a, b)

	b.Reject(errors.New("b failed"))
	a.Reject(errors.New("a failed"))

	_, err := joined.Value()
	var re *ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "B", re.Origin.Resource)
}

func TestAll_Empty(t *testing.T) {
	values, err := All().Value()
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestAll_ConcurrentResolution(t *testing.T) {
	const n = 32
	inputs := make([]Any, n)
	outs := make([]Output[int], n)
	for i := range outs {
		outs[i] = New[int](Origin{Resource: "R", Attribute: string(rune('a' + i))})
		inputs[i] = outs[i]
	}
	joined := All(inputs...)

	for i := range outs {
		go outs[i].Resolve(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	values, err := joined.Await(ctx)
	require.NoError(t, err)
	for i, v := range values {
		assert.Equal(t, i, v)
	}
}
