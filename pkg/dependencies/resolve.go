package dependencies

import (
	"container/heap"
	"errors"
	"sort"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// ResolveOrder returns providers ordered so that every dependency precedes
// its dependents. Independent providers are ordered by (category, name).
//
// Missing dependencies are reported first, joined into one error of
// *plugins.MissingDependencyError values. A cycle yields a
// *plugins.CyclicDependencyError listing every cycle.
func ResolveOrder(providers []plugins.Descriptor) ([]plugins.Descriptor, error) {
	seen := make(map[plugins.Ref]bool, len(providers))
	for _, p := range providers {
		if seen[p.Ref()] {
			return nil, &plugins.DuplicateRegistrationError{Ref: p.Ref()}
		}
		seen[p.Ref()] = true
	}

	g := NewGraph(providers)
	if missing := g.Missing(); len(missing) > 0 {
		errs := make([]error, 0, len(missing))
		for _, m := range missing {
			errs = append(errs, m)
		}
		return nil, errors.Join(errs...)
	}

	refs, err := g.Order()
	if err != nil {
		return nil, err
	}

	out := make([]plugins.Descriptor, 0, len(refs))
	for _, ref := range refs {
		out = append(out, g.nodes[ref])
	}
	return out, nil
}

// Order topologically sorts the graph with Kahn's algorithm. Dependencies on
// refs that are not nodes are ignored.
func (g *Graph) Order() ([]plugins.Ref, error) {
	pending := make(map[plugins.Ref]int, len(g.nodes))
	ready := &refHeap{}

	for ref := range g.nodes {
		n := 0
		for _, dep := range g.edges[ref] {
			if g.Has(dep) {
				n++
			}
		}
		pending[ref] = n
		if n == 0 {
			heap.Push(ready, ref)
		}
	}

	order := make([]plugins.Ref, 0, len(g.nodes))
	for ready.Len() > 0 {
		ref := heap.Pop(ready).(plugins.Ref)
		order = append(order, ref)
		for _, dependent := range g.reverse[ref] {
			if !g.Has(dependent) {
				continue
			}
			pending[dependent]--
			if pending[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) == len(g.nodes) {
		return order, nil
	}

	remaining := make(map[plugins.Ref]bool)
	for ref, n := range pending {
		if n > 0 {
			remaining[ref] = true
		}
	}
	return nil, &plugins.CyclicDependencyError{Cycles: g.cycles(remaining)}
}

// Cycles returns every dependency cycle in the graph
func (g *Graph) Cycles() [][]plugins.Ref {
	all := make(map[plugins.Ref]bool, len(g.nodes))
	for ref := range g.nodes {
		all[ref] = true
	}
	return g.cycles(all)
}

// cycles finds the strongly connected components of the subgraph induced by
// within (Tarjan) and keeps those that are real cycles. Nodes that merely
// depend on a cycle form singleton components and are dropped.
func (g *Graph) cycles(within map[plugins.Ref]bool) [][]plugins.Ref {
	var (
		index   = 0
		stack   []plugins.Ref
		onStack = make(map[plugins.Ref]bool)
		indices = make(map[plugins.Ref]int)
		lowlink = make(map[plugins.Ref]int)
		sccs    [][]plugins.Ref
	)

	var strongConnect func(v plugins.Ref)
	strongConnect = func(v plugins.Ref) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if !within[w] {
				continue
			}
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []plugins.Ref
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]plugins.Ref, 0, len(within))
	for ref := range within {
		nodes = append(nodes, ref)
	}
	sortRefs(nodes)
	for _, v := range nodes {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}

	var out [][]plugins.Ref
	for _, scc := range sccs {
		if len(scc) == 1 && !g.dependsOn(scc[0], scc[0]) {
			continue
		}
		out = append(out, g.walkOrder(scc))
	}
	sortCycles(out)
	return out
}

// walkOrder lists a component's members starting at its smallest ref and
// following dependency edges, so A->B->C->A reads [A, B, C].
func (g *Graph) walkOrder(scc []plugins.Ref) []plugins.Ref {
	members := make(map[plugins.Ref]bool, len(scc))
	start := scc[0]
	for _, r := range scc {
		members[r] = true
		if r.Less(start) {
			start = r
		}
	}

	visited := make(map[plugins.Ref]bool, len(scc))
	out := make([]plugins.Ref, 0, len(scc))
	var walk func(plugins.Ref)
	walk = func(v plugins.Ref) {
		visited[v] = true
		out = append(out, v)
		for _, w := range g.edges[v] {
			if members[w] && !visited[w] {
				walk(w)
			}
		}
	}
	walk(start)
	return out
}

func (g *Graph) dependsOn(a, b plugins.Ref) bool {
	for _, dep := range g.edges[a] {
		if dep == b {
			return true
		}
	}
	return false
}

func sortCycles(cycles [][]plugins.Ref) {
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0].Less(cycles[j][0]) })
}

// refHeap is a min-heap of refs by (category, name)
type refHeap []plugins.Ref

func (h refHeap) Len() int           { return len(h) }
func (h refHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h refHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *refHeap) Push(x any) {
	*h = append(*h, x.(plugins.Ref))
}

func (h *refHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
