package simulate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lex00/twotier-aws-go/internal/loadbalancer"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

// TargetState is the health of one target.
type TargetState string

const (
	TargetInitial   TargetState = "initial"
	TargetHealthy   TargetState = "healthy"
	TargetUnhealthy TargetState = "unhealthy"
)

// HealthCheckFromResource reads the health check of a declared target group.
func HealthCheckFromResource(r *stack.Resource) (loadbalancer.HealthCheck, error) {
	if r.Type() != stack.TypeTargetGroup {
		return loadbalancer.HealthCheck{}, fmt.Errorf("%w: %s is %s", ErrInvalidResource, r.Name(), r.Type())
	}
	props := r.Properties()
	hc := loadbalancer.HealthCheck{}
	hc.Path, _ = props["HealthCheckPath"].(string)
	hc.Interval, _ = props["HealthCheckIntervalSeconds"].(int)
	hc.Timeout, _ = props["HealthCheckTimeoutSeconds"].(int)
	hc.HealthyThreshold, _ = props["HealthyThresholdCount"].(int)
	hc.UnhealthyThreshold, _ = props["UnhealthyThresholdCount"].(int)
	if m, ok := props["Matcher"].(map[string]any); ok {
		hc.Matcher, _ = m["HttpCode"].(string)
	}
	if hc.Path == "" || hc.HealthyThreshold <= 0 || hc.UnhealthyThreshold <= 0 {
		return hc, fmt.Errorf("%w: %s has an incomplete health check", ErrInvalidResource, r.Name())
	}
	if hc.Matcher == "" {
		hc.Matcher = "200"
	}
	return hc, nil
}

// matches reports whether status satisfies a matcher such as "200",
// "200,204" or "200-299".
func matches(matcher string, status int) bool {
	for _, part := range strings.Split(matcher, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			hi = lo
		}
		from, err1 := strconv.Atoi(lo)
		to, err2 := strconv.Atoi(hi)
		if err1 == nil && err2 == nil && status >= from && status <= to {
			return true
		}
	}
	return false
}

type target struct {
	state     TargetState
	successes int
	failures  int
}

// TargetGroup tracks registered targets through consecutive health checks.
// A target enters rotation after HealthyThreshold consecutive passes and
// leaves it after UnhealthyThreshold consecutive failures.
type TargetGroup struct {
	check   loadbalancer.HealthCheck
	targets map[string]*target
}

// NewTargetGroup returns an empty group with the given health check.
func NewTargetGroup(check loadbalancer.HealthCheck) *TargetGroup {
	return &TargetGroup{check: check, targets: make(map[string]*target)}
}

// Register adds a target in the initial state.
func (g *TargetGroup) Register(id string) {
	if _, ok := g.targets[id]; !ok {
		g.targets[id] = &target{state: TargetInitial}
	}
}

// Deregister removes a target.
func (g *TargetGroup) Deregister(id string) {
	delete(g.targets, id)
}

// Probe records the response of a target to one health check. A request for
// a path other than the configured one counts as a failure.
func (g *TargetGroup) Probe(id, path string, status int) (TargetState, error) {
	t, ok := g.targets[id]
	if !ok {
		return "", fmt.Errorf("target %s is not registered", id)
	}
	if path == g.check.Path && matches(g.check.Matcher, status) {
		t.successes++
		t.failures = 0
		if t.successes >= g.check.HealthyThreshold {
			t.state = TargetHealthy
		}
	} else {
		t.failures++
		t.successes = 0
		if t.failures >= g.check.UnhealthyThreshold {
			t.state = TargetUnhealthy
		}
	}
	return t.state, nil
}

// State returns the state of a registered target.
func (g *TargetGroup) State(id string) (TargetState, bool) {
	t, ok := g.targets[id]
	if !ok {
		return "", false
	}
	return t.state, true
}

// InService returns the targets receiving traffic, sorted.
func (g *TargetGroup) InService() []string {
	var ids []string
	for id, t := range g.targets {
		if t.state == TargetHealthy {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
