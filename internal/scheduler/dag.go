package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/gammazero/toposort"
)

// ErrMalformedGraph is returned when the nodes of a slot cannot be ordered.
var ErrMalformedGraph = errors.New("malformed graph")

// resolve orders the nodes each slot needs for target, slot by slot.
// A nil target selects every node.
func resolve(slots []*slot, target *regexp.Regexp) ([]*Node, error) {
	var order []*Node
	for _, s := range slots {
		nodes, err := resolveSlot(s.nodes, target)
		if err != nil {
			return nil, err
		}
		order = append(order, nodes...)
	}
	return order, nil
}

// resolveSlot returns the closure of target within one slot in topological
// order, dependencies first.
//
// The walk starts from the nodes nothing else depends on and moves towards
// their producers, releasing a producer once every consumer that needs it
// has been visited. Reversing that walk puts producers first.
func resolveSlot(nodes []*Node, target *regexp.Regexp) ([]*Node, error) {
	candidates := nodes
	if target != nil {
		candidates = closure(nodes, target)
	}

	dependents := make(map[*Node]int, len(candidates))
	for _, n := range candidates {
		for _, dep := range n.deps {
			dependents[dep]++
		}
	}

	var queue, order []*Node
	for _, n := range candidates {
		if dependents[n] == 0 {
			queue = append(queue, n)
			order = append(order, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, dep := range n.deps {
			dependents[dep]--
			if dependents[dep] == 0 {
				order = append(order, dep)
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != len(candidates) {
		return nil, malformed(candidates, order)
	}
	slices.Reverse(order)
	return order, nil
}

// closure returns every node whose id matches target plus all of its
// transitive dependencies, each once, in first-seen order.
func closure(nodes []*Node, target *regexp.Regexp) []*Node {
	seen := make(map[*Node]bool)
	var out []*Node
	add := func(n *Node) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, n := range nodes {
		if !target.MatchString(n.id) {
			continue
		}
		add(n)
		for _, dep := range n.TransitiveDependencies() {
			add(dep)
		}
	}
	return out
}

// malformed describes why candidates could not be ordered, using a full
// topological sort to name the cycle when there is one.
func malformed(candidates, ordered []*Node) error {
	var edges []toposort.Edge
	for _, n := range candidates {
		if len(n.deps) == 0 {
			edges = append(edges, toposort.Edge{nil, n.String()})
			continue
		}
		for _, dep := range n.deps {
			// Edge (dep, n) means dep must come before n
			edges = append(edges, toposort.Edge{dep.String(), n.String()})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedGraph, err)
	}

	reached := make(map[*Node]bool, len(ordered))
	for _, n := range ordered {
		reached[n] = true
	}
	var missing []string
	for _, n := range candidates {
		if !reached[n] {
			missing = append(missing, n.String())
		}
	}
	return fmt.Errorf("%w: %d nodes unreachable: %s", ErrMalformedGraph, len(missing), strings.Join(missing, ", "))
}
