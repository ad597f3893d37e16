package stack

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Order returns logical names in dependency order: every resource appears after
// all resources it depends on. Ties are broken alphabetically so the order is
// deterministic.
func (s *Stack) Order() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Build adjacency list
	dependents := make(map[string][]string, len(s.resources))
	inDegree := make(map[string]int, len(s.resources))
	for name, r := range s.resources {
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
		for _, dep := range r.deps {
			dependents[dep.name] = append(dependents[dep.name], name)
			inDegree[name]++
		}
	}

	// Kahn's algorithm
	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	result := make([]string, 0, len(s.resources))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, next := range dependents[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(s.resources) {
		var stuck []string
		for name, degree := range inDegree {
			if degree > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", errCycle, strings.Join(stuck, ", "))
	}
	return result, nil
}

var errCycle = errors.New("circular dependency detected")

// Levels groups the dependency order into waves. Resources in the same wave do
// not depend on each other and may be created in parallel.
func (s *Stack) Levels() ([][]string, error) {
	order, err := s.Order()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	var levels [][]string
	for _, name := range order {
		r, _ := s.Lookup(name)
		l := 0
		for _, dep := range r.deps {
			if level[dep.name]+1 > l {
				l = level[dep.name] + 1
			}
		}
		level[name] = l
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], name)
	}
	return levels, nil
}
