// Package simulate replays the runtime behavior of declared resources without
// an account: CPU alarms driving scaling policies, and target group health
// checks moving instances in and out of rotation.
package simulate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/lex00/twotier-aws-go/internal/compute"
	"github.com/lex00/twotier-aws-go/internal/deferred"
	"github.com/lex00/twotier-aws-go/internal/stack"
)

// ErrInvalidResource is returned when declared properties cannot be simulated.
var ErrInvalidResource = errors.New("resource cannot be simulated")

// State is the state of an alarm.
type State string

const (
	StateInsufficientData State = "INSUFFICIENT_DATA"
	StateOK               State = "OK"
	StateAlarm            State = "ALARM"
)

// Sample is one metric datapoint.
type Sample struct {
	At    time.Time
	Value float64
}

// Averages groups samples into consecutive periods starting at start and
// returns the average of each period. Periods without samples are skipped.
func Averages(samples []Sample, start time.Time, period time.Duration) []float64 {
	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for _, s := range samples {
		if s.At.Before(start) {
			continue
		}
		bucket := int64(s.At.Sub(start) / period)
		sums[bucket] += s.Value
		counts[bucket]++
	}
	buckets := make([]int64, 0, len(sums))
	for b := range sums {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	out := make([]float64, len(buckets))
	for i, b := range buckets {
		out[i] = sums[b] / float64(counts[b])
	}
	return out
}

// Alarm evaluates one statistic per period against a threshold.
type Alarm struct {
	Name              string
	Comparison        string
	Threshold         float64
	Period            time.Duration
	EvaluationPeriods int
	// Actions are the logical names of the resources notified on ALARM.
	Actions []string

	state     State
	breaching int
}

// AlarmFromResource reads a declared alarm.
func AlarmFromResource(r *stack.Resource) (*Alarm, error) {
	if r.Type() != stack.TypeAlarm {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidResource, r.Name(), r.Type())
	}
	props := r.Properties()
	a := &Alarm{Name: r.Name(), state: StateInsufficientData}

	var ok bool
	if a.Comparison, ok = props["ComparisonOperator"].(string); !ok {
		return nil, fmt.Errorf("%w: %s has no comparison operator", ErrInvalidResource, r.Name())
	}
	if a.Threshold, ok = props["Threshold"].(float64); !ok {
		return nil, fmt.Errorf("%w: %s has no threshold", ErrInvalidResource, r.Name())
	}
	period, ok := props["Period"].(int)
	if !ok || period <= 0 {
		return nil, fmt.Errorf("%w: %s has no period", ErrInvalidResource, r.Name())
	}
	a.Period = time.Duration(period) * time.Second
	if a.EvaluationPeriods, ok = props["EvaluationPeriods"].(int); !ok || a.EvaluationPeriods <= 0 {
		return nil, fmt.Errorf("%w: %s has no evaluation periods", ErrInvalidResource, r.Name())
	}
	if _, err := a.breaches(0); err != nil {
		return nil, err
	}

	actions, _ := props["AlarmActions"].([]any)
	for _, action := range actions {
		name, err := targetName(action)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Name(), err)
		}
		a.Actions = append(a.Actions, name)
	}
	return a, nil
}

// targetName returns the resource an action value points at.
func targetName(v any) (string, error) {
	switch val := v.(type) {
	case *stack.Resource:
		return val.Name(), nil
	case deferred.Any:
		if origins := val.Origins(); len(origins) == 1 {
			return origins[0].Resource, nil
		}
	case string:
		return val, nil
	}
	return "", fmt.Errorf("%w: unsupported alarm action %T", ErrInvalidResource, v)
}

func (a *Alarm) breaches(v float64) (bool, error) {
	switch a.Comparison {
	case "GreaterThanThreshold":
		return v > a.Threshold, nil
	case "GreaterThanOrEqualToThreshold":
		return v >= a.Threshold, nil
	case "LessThanThreshold":
		return v < a.Threshold, nil
	case "LessThanOrEqualToThreshold":
		return v <= a.Threshold, nil
	}
	return false, fmt.Errorf("%w: %s comparison %q", ErrInvalidResource, a.Name, a.Comparison)
}

// State returns the current state.
func (a *Alarm) State() State {
	if a.state == "" {
		return StateInsufficientData
	}
	return a.state
}

// Observe feeds the statistic of one period. It returns the actions to invoke,
// which is non-empty only on a transition into ALARM.
func (a *Alarm) Observe(value float64) []string {
	breach, _ := a.breaches(value)
	if !breach {
		a.breaching = 0
		a.state = StateOK
		return nil
	}
	a.breaching++
	if a.breaching < a.EvaluationPeriods {
		if a.state != StateAlarm {
			a.state = StateOK
		}
		return nil
	}
	if a.state == StateAlarm {
		return nil
	}
	a.state = StateAlarm
	return append([]string(nil), a.Actions...)
}

// Policy is a simple scaling policy.
type Policy struct {
	Name       string
	Adjustment int
}

// PolicyFromResource reads a declared scaling policy.
func PolicyFromResource(r *stack.Resource) (Policy, error) {
	if r.Type() != stack.TypeScalingPolicy {
		return Policy{}, fmt.Errorf("%w: %s is %s", ErrInvalidResource, r.Name(), r.Type())
	}
	adj, ok := r.Properties()["ScalingAdjustment"].(int)
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s has no scaling adjustment", ErrInvalidResource, r.Name())
	}
	return Policy{Name: r.Name(), Adjustment: adj}, nil
}

// Event records a scaling action.
type Event struct {
	// Period is the 0-based index of the evaluated period.
	Period   int
	Alarm    string
	Policy   string
	Capacity int
}

// Autoscaler couples the alarms, policies and bounds of a declared fleet.
type Autoscaler struct {
	Alarms   []*Alarm
	Policies map[string]Policy
	Min, Max int
	Capacity int

	period int
	events []Event
}

// NewAutoscaler reads the alarms, policies and group bounds of fleet.
func NewAutoscaler(fleet *compute.Fleet) (*Autoscaler, error) {
	as := &Autoscaler{Policies: make(map[string]Policy)}
	for _, r := range []*stack.Resource{fleet.ScaleUp, fleet.ScaleDown} {
		p, err := PolicyFromResource(r)
		if err != nil {
			return nil, err
		}
		as.Policies[p.Name] = p
	}
	for _, r := range []*stack.Resource{fleet.HighCPUAlarm, fleet.LowCPUAlarm} {
		a, err := AlarmFromResource(r)
		if err != nil {
			return nil, err
		}
		as.Alarms = append(as.Alarms, a)
	}

	props := fleet.Group.Properties()
	for key, dst := range map[string]*int{
		"MinSize":         &as.Min,
		"MaxSize":         &as.Max,
		"DesiredCapacity": &as.Capacity,
	} {
		s, _ := props[key].(string)
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %s=%q", ErrInvalidResource, fleet.Group.Name(), key, s)
		}
		*dst = n
	}
	return as, nil
}

// Observe feeds one period's average CPU to every alarm and applies the
// policies of the alarms that fired. Capacity stays within the group bounds.
func (as *Autoscaler) Observe(cpu float64) []Event {
	var fired []Event
	for _, a := range as.Alarms {
		for _, action := range a.Observe(cpu) {
			p, ok := as.Policies[action]
			if !ok {
				continue
			}
			as.Capacity = max(as.Min, min(as.Max, as.Capacity+p.Adjustment))
			fired = append(fired, Event{Period: as.period, Alarm: a.Name, Policy: p.Name, Capacity: as.Capacity})
		}
	}
	as.period++
	as.events = append(as.events, fired...)
	return fired
}

// Events returns every scaling action so far.
func (as *Autoscaler) Events() []Event {
	return append([]Event(nil), as.events...)
}
