// Package synth implements an engine that converges nothing. Every requested
// attribute is answered with a substitution token, so running a stack against
// it yields submissions whose late-bound values read ${Logical.Attribute}.
// The template builder turns those tokens into Ref, Fn::GetAtt and Fn::Sub.
package synth

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/lex00/twotier-aws-go/internal/stack"
)

// tokenPattern matches every ${...} expression.
var tokenPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// Token returns the substitution token of a resource attribute. The Ref
// attribute is written without a suffix, as Fn::Sub expects.
func Token(resource, attribute string) string {
	if attribute == stack.RefAttribute {
		return "${" + resource + "}"
	}
	return "${" + resource + "." + attribute + "}"
}

// Reference is a parsed token.
type Reference struct {
	Resource  string
	Attribute string
}

// IsRef reports whether the reference is a plain Ref.
func (r Reference) IsRef() bool { return r.Attribute == stack.RefAttribute }

// parse splits the inside of a ${...} expression.
func parse(inner string) Reference {
	for i := 0; i < len(inner); i++ {
		if inner[i] == '.' {
			return Reference{Resource: inner[:i], Attribute: inner[i+1:]}
		}
	}
	return Reference{Resource: inner, Attribute: stack.RefAttribute}
}

// Scan calls fn for every ${...} expression in s with its byte offsets and
// parsed reference.
func Scan(s string, fn func(start, end int, ref Reference)) {
	for _, m := range tokenPattern.FindAllStringSubmatchIndex(s, -1) {
		fn(m[0], m[1], parse(s[m[2]:m[3]]))
	}
}

// Engine records submissions and answers attributes with tokens. It is safe
// for concurrent use.
type Engine struct {
	mu   sync.Mutex
	subs map[string]stack.Submission
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{subs: make(map[string]stack.Submission)}
}

// Apply implements stack.Engine.
func (e *Engine) Apply(_ context.Context, sub stack.Submission) (map[string]string, error) {
	attrs := make(map[string]string, len(sub.Attributes))
	for _, name := range sub.Attributes {
		attrs[name] = Token(sub.Name, name)
	}
	e.mu.Lock()
	e.subs[sub.Name] = sub
	e.mu.Unlock()
	return attrs, nil
}

// Submissions returns the recorded submissions sorted by logical name.
func (e *Engine) Submissions() []stack.Submission {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]stack.Submission, 0, len(e.subs))
	for _, sub := range e.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Synthesize runs s against a fresh engine and returns the submissions and the
// tokenized exports.
func Synthesize(ctx context.Context, s *stack.Stack) ([]stack.Submission, map[string]string, error) {
	e := New()
	if err := s.Run(ctx, e); err != nil {
		return nil, nil, err
	}
	exports, err := s.ResolveExports(ctx)
	if err != nil {
		return nil, nil, err
	}
	return e.Submissions(), exports, nil
}
