// Package stack builds the desired-state dependency graph of an environment and
// walks it against a convergence engine.
//
// Every declaration returns a *Resource handle. Edges are recorded explicitly:
// either through the DependsOn option or by placing another resource, or a
// deferred value produced by one, in the property map. The graph is written by
// a single goroutine during declaration and is read-only once Run starts.
package stack

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/lex00/twotier-aws-go/internal/deferred"
)

// RefAttribute is the attribute returned by a CloudFormation Ref (usually the
// physical ID or name of the resource).
const RefAttribute = "Ref"

var (
	// ErrDuplicateResource is returned when a logical name is declared twice.
	ErrDuplicateResource = errors.New("duplicate resource")
	// ErrInvalidName is returned for logical names that are not alphanumeric.
	ErrInvalidName = errors.New("invalid logical name")
	// ErrUnknownDependency is returned when a dependency was not declared on this stack.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrMissingAttribute is returned when the engine did not report a requested attribute.
	ErrMissingAttribute = errors.New("attribute not reported by engine")
	// ErrAlreadyRun is returned when Run is called twice or Declare after Run.
	ErrAlreadyRun = errors.New("stack already run")
)

var logicalNamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Properties holds the declared properties of a resource, keyed by
// CloudFormation property name. Values may be literals, *Resource handles,
// deferred values, or nested maps and slices of those.
type Properties map[string]any

// Resource is a node in the stack graph.
type Resource struct {
	name      string
	typ       string
	props     Properties
	deps      []*Resource
	dependsOn []string
	deletion  string

	mu         sync.Mutex
	attrs      map[string]deferred.Output[string]
	done       chan struct{}
	settled    bool
	attributes map[string]string
	err        error
}

// Name returns the logical name.
func (r *Resource) Name() string { return r.name }

// Type returns the CloudFormation resource type.
func (r *Resource) Type() string { return r.typ }

// Properties returns the declared, unresolved properties.
func (r *Resource) Properties() Properties { return r.props }

// Dependencies returns the logical names of every resource this one depends on.
func (r *Resource) Dependencies() []string {
	names := make([]string, len(r.deps))
	for i, d := range r.deps {
		names[i] = d.name
	}
	return names
}

// ExplicitDependencies returns the names passed through DependsOn.
func (r *Resource) ExplicitDependencies() []string {
	return append([]string(nil), r.dependsOn...)
}

// ID is the deferred Ref value of the resource.
func (r *Resource) ID() deferred.Output[string] {
	return r.Attr(RefAttribute)
}

// Attr returns the deferred value of the named attribute. Attributes must be
// requested before the stack runs so the engine can report them.
func (r *Resource) Attr(name string) deferred.Output[string] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if out, ok := r.attrs[name]; ok {
		return out
	}
	out := deferred.New[string](deferred.Origin{Resource: r.name, Attribute: name})
	r.attrs[name] = out
	if r.settled {
		r.settleAttr(name, out)
	}
	return out
}

// Done is closed once the engine has applied the resource or it has failed.
func (r *Resource) Done() <-chan struct{} { return r.done }

// Err returns the failure of a settled resource.
func (r *Resource) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Resource) requestedAttributes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.attrs))
	for name := range r.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Resource) settle(attributes map[string]string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	r.attributes = attributes
	r.err = err
	for name, out := range r.attrs {
		r.settleAttr(name, out)
	}
	close(r.done)
}

func (r *Resource) settleAttr(name string, out deferred.Output[string]) {
	if r.err != nil {
		out.Reject(r.err)
		return
	}
	v, ok := r.attributes[name]
	if !ok {
		out.Reject(fmt.Errorf("%w: %s", ErrMissingAttribute, name))
		return
	}
	out.Resolve(v)
}

// ResourceOption customizes a declaration.
type ResourceOption func(*Resource)

// DependsOn adds explicit edges to resources that are not referenced through
// properties.
func DependsOn(deps ...*Resource) ResourceOption {
	return func(r *Resource) {
		for _, d := range deps {
			if d == nil {
				continue
			}
			r.deps = append(r.deps, d)
			r.dependsOn = append(r.dependsOn, d.name)
		}
	}
}

// Deletion policies.
const (
	DeletionPolicyDelete   = "Delete"
	DeletionPolicyRetain   = "Retain"
	DeletionPolicySnapshot = "Snapshot"
)

// WithDeletionPolicy sets what happens to the resource when it is removed from
// the desired state.
func WithDeletionPolicy(policy string) ResourceOption {
	return func(r *Resource) {
		r.deletion = policy
	}
}

// DeletionPolicy returns the policy set with WithDeletionPolicy.
func (r *Resource) DeletionPolicy() string { return r.deletion }

// Option configures a Stack.
type Option func(*Stack)

// WithLogger sets the logger used during Run.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Stack) {
		if log != nil {
			s.log = log
		}
	}
}

// WithConcurrency limits how many resources are submitted to the engine at once.
func WithConcurrency(n int) Option {
	return func(s *Stack) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Stack is the declared resource graph of one environment.
type Stack struct {
	name        string
	log         *zap.SugaredLogger
	concurrency int

	mu        sync.Mutex
	resources map[string]*Resource
	declared  []*Resource
	exports   map[string]deferred.Output[string]
	ran       bool
}

// New creates an empty stack.
func New(name string, opts ...Option) *Stack {
	s := &Stack{
		name:        name,
		log:         zap.NewNop().Sugar(),
		concurrency: 8,
		resources:   make(map[string]*Resource),
		exports:     make(map[string]deferred.Output[string]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the stack name.
func (s *Stack) Name() string { return s.name }

// Declare adds a resource to the graph and returns its handle.
func (s *Stack) Declare(name, typ string, props Properties, opts ...ResourceOption) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ran {
		return nil, ErrAlreadyRun
	}
	if !logicalNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, exists := s.resources[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateResource, name)
	}
	if props == nil {
		props = Properties{}
	}

	r := &Resource{
		name:  name,
		typ:   typ,
		props: props,
		attrs: make(map[string]deferred.Output[string]),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	implicit, err := s.referencedResources(props)
	if err != nil {
		return nil, fmt.Errorf("declaring %s: %w", name, err)
	}
	for _, d := range r.deps {
		if s.resources[d.name] != d {
			return nil, fmt.Errorf("declaring %s: %w: %s", name, ErrUnknownDependency, d.name)
		}
	}
	r.deps = uniqueResources(append(r.deps, implicit...))

	s.resources[name] = r
	s.declared = append(s.declared, r)
	return r, nil
}

// Lookup returns a declared resource by logical name.
func (s *Stack) Lookup(name string) (*Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[name]
	return r, ok
}

// Resources returns every resource in declaration order.
func (s *Stack) Resources() []*Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Resource(nil), s.declared...)
}

// Len returns the number of declared resources.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.declared)
}

// Export publishes a value for operators once the stack has run.
func (s *Stack) Export(name string, value deferred.Output[string]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports[name] = value
}

// Exports returns the registered exports.
func (s *Stack) Exports() map[string]deferred.Output[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]deferred.Output[string], len(s.exports))
	for k, v := range s.exports {
		out[k] = v
	}
	return out
}

// referencedResources finds every declared resource reachable from a property
// value, either as a handle or as the origin of a deferred value.
func (s *Stack) referencedResources(v any) ([]*Resource, error) {
	var found []*Resource
	var walk func(v any) error
	walk = func(v any) error {
		switch val := v.(type) {
		case nil:
			return nil
		case *Resource:
			if s.resources[val.name] != val {
				return fmt.Errorf("%w: %s", ErrUnknownDependency, val.name)
			}
			// A handle in properties resolves to its Ref.
			val.Attr(RefAttribute)
			found = append(found, val)
			return nil
		case deferred.Any:
			for _, origin := range val.Origins() {
				dep, ok := s.resources[origin.Resource]
				if !ok {
					return fmt.Errorf("%w: %s", ErrUnknownDependency, origin.Resource)
				}
				found = append(found, dep)
			}
			return nil
		case Properties:
			return walkMap(val, walk)
		case map[string]any:
			return walkMap(val, walk)
		}

		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			for i := 0; i < rv.Len(); i++ {
				if err := walk(rv.Index(i).Interface()); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(v); err != nil {
		return nil, err
	}
	return found, nil
}

func walkMap(m map[string]any, walk func(any) error) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := walk(m[k]); err != nil {
			return err
		}
	}
	return nil
}

func uniqueResources(in []*Resource) []*Resource {
	seen := make(map[*Resource]bool, len(in))
	out := make([]*Resource, 0, len(in))
	for _, r := range in {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// LogicalID converts a configured display name such as "my-public-subnet1" into
// a CloudFormation logical ID ("MyPublicSubnet1").
func LogicalID(name string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upperNext = true
			continue
		}
		if r > unicode.MaxASCII {
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
