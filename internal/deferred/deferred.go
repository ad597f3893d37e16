// Package deferred provides a single-assignment promise for values that only
// exist after a cloud resource has been materialized.
//
// An Output is resolved or rejected exactly once. Continuations registered with
// Apply run once, when the value arrives, and produce new Outputs, so a chain of
// derived values follows the data dependency of the resources that feed it:
//
//	addr := db.Attr("Endpoint.Address")
//	url := deferred.Apply(addr, func(a string) string {
//	    return "postgres://" + a + ":5432"
//	})
package deferred

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnresolved is returned by Value when an Output has not settled yet.
var ErrUnresolved = errors.New("deferred: value not yet resolved")

// Origin identifies the resource attribute a deferred value comes from.
type Origin struct {
	// Resource is the logical name of the declaring resource.
	Resource string
	// Attribute is the attribute name (e.g. "Arn", "Endpoint.Address").
	Attribute string
}

// IsZero reports whether the origin is unset.
func (o Origin) IsZero() bool {
	return o.Resource == "" && o.Attribute == ""
}

func (o Origin) String() string {
	if o.Attribute == "" {
		return o.Resource
	}
	return o.Resource + "." + o.Attribute
}

// ResolutionError reports a deferred value whose source failed to materialize.
// It is propagated unchanged through every derived Output so callers always see
// the originating resource.
type ResolutionError struct {
	Origin Origin
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Origin.IsZero() {
		return fmt.Sprintf("resolving deferred value: %v", e.Err)
	}
	return fmt.Sprintf("resolving %s: %v", e.Origin, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Any is the type-erased view of an Output, used by code that walks resource
// properties without knowing their element types.
type Any interface {
	// Origins lists the resource attributes this value depends on.
	Origins() []Origin
	// AwaitAny blocks until the value settles.
	AwaitAny(ctx context.Context) (any, error)

	onSettle(fn func())
	result() (any, error)
}

type state[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     T
	err       error
	origin    Origin
	origins   []Origin
	callbacks []func()
}

// Output is a handle to a value of type T that is resolved at most once.
// The zero Output is not usable; create one with New or Resolved.
type Output[T any] struct {
	st *state[T]
}

// New returns a pending Output produced by the given resource attribute.
func New[T any](origin Origin) Output[T] {
	return Output[T]{st: &state[T]{
		done:    make(chan struct{}),
		origin:  origin,
		origins: mergeOrigins([]Origin{origin}),
	}}
}

// Resolved returns an Output that already holds v. It carries no origin and
// therefore adds no dependency edge.
func Resolved[T any](v T) Output[T] {
	o := Output[T]{st: &state[T]{done: make(chan struct{})}}
	o.settle(v, nil)
	return o
}

func derived[T any](origins []Origin) Output[T] {
	return Output[T]{st: &state[T]{
		done:    make(chan struct{}),
		origins: mergeOrigins(origins),
	}}
}

// Resolve assigns the value. It reports false if the Output was already settled,
// in which case the value is discarded.
func (o Output[T]) Resolve(v T) bool {
	return o.settle(v, nil)
}

// Reject fails the Output. Errors that are not already a *ResolutionError are
// wrapped with the Output's origin. It reports false if the Output was already
// settled.
func (o Output[T]) Reject(err error) bool {
	if err == nil {
		err = errors.New("rejected without cause")
	}
	var re *ResolutionError
	if !errors.As(err, &re) {
		err = &ResolutionError{Origin: o.st.origin, Err: err}
	}
	var zero T
	return o.settle(zero, err)
}

func (o Output[T]) settle(v T, err error) bool {
	o.st.mu.Lock()
	if o.st.settled {
		o.st.mu.Unlock()
		return false
	}
	o.st.settled = true
	o.st.value = v
	o.st.err = err
	callbacks := o.st.callbacks
	o.st.callbacks = nil
	close(o.st.done)
	o.st.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return true
}

// Origin returns the resource attribute that produces this value. Derived and
// pre-resolved Outputs return the zero Origin.
func (o Output[T]) Origin() Origin {
	return o.st.origin
}

// Origins returns every resource attribute this value transitively depends on.
func (o Output[T]) Origins() []Origin {
	out := make([]Origin, len(o.st.origins))
	copy(out, o.st.origins)
	return out
}

// Done is closed once the Output settles.
func (o Output[T]) Done() <-chan struct{} {
	return o.st.done
}

// Await blocks until the Output settles or ctx is done.
func (o Output[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-o.st.done:
		return o.st.value, o.st.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitAny implements Any.
func (o Output[T]) AwaitAny(ctx context.Context) (any, error) {
	return o.Await(ctx)
}

// Value returns the settled value without blocking. It returns ErrUnresolved
// while the Output is pending.
func (o Output[T]) Value() (T, error) {
	select {
	case <-o.st.done:
		return o.st.value, o.st.err
	default:
		var zero T
		return zero, ErrUnresolved
	}
}

func (o Output[T]) onSettle(fn func()) {
	o.st.mu.Lock()
	if !o.st.settled {
		o.st.callbacks = append(o.st.callbacks, fn)
		o.st.mu.Unlock()
		return
	}
	o.st.mu.Unlock()
	fn()
}

func (o Output[T]) result() (any, error) {
	return o.st.value, o.st.err
}

// Apply registers fn to run once o resolves and returns an Output holding its
// result. A rejection of o is passed through untouched.
func Apply[T, U any](o Output[T], fn func(T) U) Output[U] {
	return ApplyErr(o, func(v T) (U, error) {
		return fn(v), nil
	})
}

// ApplyErr is Apply for continuations that can fail. The error is attributed
// to the first origin of o.
func ApplyErr[T, U any](o Output[T], fn func(T) (U, error)) Output[U] {
	out := derived[U](o.st.origins)
	o.onSettle(func() {
		v, err := o.st.value, o.st.err
		if err != nil {
			out.settle(*new(U), err)
			return
		}
		u, err := fn(v)
		if err != nil {
			out.settle(*new(U), &ResolutionError{Origin: firstOrigin(out.st.origins), Err: err})
			return
		}
		out.settle(u, nil)
	})
	return out
}

// All joins the given Outputs. The result resolves to their values, in argument
// order, once every input has resolved, and is rejected with the first input
// rejection.
func All(inputs ...Any) Output[[]any] {
	var origins []Origin
	for _, in := range inputs {
		origins = append(origins, in.Origins()...)
	}
	out := derived[[]any](origins)
	if len(inputs) == 0 {
		out.settle([]any{}, nil)
		return out
	}

	var mu sync.Mutex
	remaining := len(inputs)
	for _, in := range inputs {
		in := in
		in.onSettle(func() {
			if _, err := in.result(); err != nil {
				out.settle(nil, err)
				return
			}
			mu.Lock()
			remaining--
			last := remaining == 0
			mu.Unlock()
			if !last {
				return
			}
			values := make([]any, len(inputs))
			for i, src := range inputs {
				values[i], _ = src.result()
			}
			out.settle(values, nil)
		})
	}
	return out
}

func firstOrigin(origins []Origin) Origin {
	if len(origins) == 0 {
		return Origin{}
	}
	return origins[0]
}

// mergeOrigins drops zero and duplicate origins and sorts the rest.
func mergeOrigins(in []Origin) []Origin {
	seen := make(map[Origin]bool, len(in))
	var out []Origin
	for _, o := range in {
		if o.IsZero() || seen[o] {
			continue
		}
		seen[o] = true
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Attribute < out[j].Attribute
	})
	return out
}
