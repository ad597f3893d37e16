package stack

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lex00/twotier-aws-go/internal/deferred"
)

// Submission is a fully resolved resource specification handed to an engine.
type Submission struct {
	// Name is the logical name.
	Name string
	// Type is the CloudFormation resource type.
	Type string
	// Properties has every deferred value and resource handle replaced by its
	// resolved value.
	Properties map[string]any
	// DependsOn lists explicit (non-data) dependencies.
	DependsOn []string
	// DeletionPolicy is empty unless set with WithDeletionPolicy.
	DeletionPolicy string
	// Attributes lists the attributes the engine must report.
	Attributes []string
}

// Engine converges a single resource and reports its generated attributes.
// Implementations must be safe for concurrent use.
type Engine interface {
	Apply(ctx context.Context, sub Submission) (map[string]string, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, sub Submission) (map[string]string, error)

// Apply implements Engine.
func (f EngineFunc) Apply(ctx context.Context, sub Submission) (map[string]string, error) {
	return f(ctx, sub)
}

// Run submits every resource to the engine in dependency order. Resources that
// do not depend on each other may be submitted concurrently. The first engine
// failure cancels the run; every resource downstream of it fails with an error
// naming the originating resource.
func (s *Stack) Run(ctx context.Context, engine Engine) error {
	order, err := s.Order()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.ran = true
	s.mu.Unlock()

	s.log.Infow("running stack", "stack", s.name, "resources", len(order))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, name := range order {
		r, _ := s.Lookup(name)
		g.Go(func() error {
			return s.apply(gctx, engine, r)
		})
	}
	err = g.Wait()

	// Anything not reached never started because the run was cancelled.
	for _, r := range s.Resources() {
		r.settle(nil, &deferred.ResolutionError{
			Origin: deferred.Origin{Resource: r.name},
			Err:    fmt.Errorf("not applied: %w", context.Canceled),
		})
	}

	if err != nil {
		s.log.Errorw("stack run failed", "stack", s.name, "error", err)
		return fmt.Errorf("stack %s: %w", s.name, err)
	}
	s.log.Infow("stack run complete", "stack", s.name)
	return nil
}

func (s *Stack) apply(ctx context.Context, engine Engine, r *Resource) error {
	for _, dep := range r.deps {
		<-dep.done
		if err := dep.Err(); err != nil {
			r.settle(nil, err)
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		r.settle(nil, &deferred.ResolutionError{Origin: deferred.Origin{Resource: r.name}, Err: err})
		return nil
	}

	props, err := resolveValue(ctx, r.props)
	if err != nil {
		r.settle(nil, err)
		return nil
	}

	sub := Submission{
		Name:           r.name,
		Type:           r.typ,
		Properties:     props.(map[string]any),
		DependsOn:      r.ExplicitDependencies(),
		DeletionPolicy: r.deletion,
		Attributes:     r.requestedAttributes(),
	}

	s.log.Debugw("submitting resource", "resource", r.name, "type", r.typ)
	attributes, err := engine.Apply(ctx, sub)
	if err != nil {
		s.log.Warnw("resource failed", "resource", r.name, "type", r.typ, "error", err)
		failure := &deferred.ResolutionError{Origin: deferred.Origin{Resource: r.name}, Err: err}
		r.settle(nil, failure)
		return failure
	}
	r.settle(attributes, nil)
	s.log.Debugw("resource ready", "resource", r.name)
	return nil
}

// resolveValue replaces handles and deferred values with their resolved values.
func resolveValue(ctx context.Context, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *Resource:
		return val.ID().Await(ctx)
	case deferred.Any:
		resolved, err := val.AwaitAny(ctx)
		if err != nil {
			return nil, err
		}
		return resolveValue(ctx, resolved)
	case Properties:
		return resolveMap(ctx, val)
	case map[string]any:
		return resolveMap(ctx, val)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			elem, err := resolveValue(ctx, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil
	}
	return v, nil
}

func resolveMap(ctx context.Context, m map[string]any) (map[string]any, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(m))
	for _, k := range keys {
		v, err := resolveValue(ctx, m[k])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// ResolveExports waits for every export and returns their values.
func (s *Stack) ResolveExports(ctx context.Context) (map[string]string, error) {
	exports := s.Exports()
	out := make(map[string]string, len(exports))
	for name, v := range exports {
		val, err := v.Await(ctx)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}
