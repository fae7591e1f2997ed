package dependencies

import (
	"sort"

	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// Graph is the provider dependency graph. An edge A -> B means A depends on B.
type Graph struct {
	nodes   map[plugins.Ref]plugins.Descriptor
	edges   map[plugins.Ref][]plugins.Ref // ref -> dependencies
	reverse map[plugins.Ref][]plugins.Ref // ref -> dependents
}

// NewGraph builds a graph from descriptors. Edges to refs that are not in
// the input are kept so Missing can report them.
func NewGraph(descs []plugins.Descriptor) *Graph {
	g := &Graph{
		nodes:   make(map[plugins.Ref]plugins.Descriptor, len(descs)),
		edges:   make(map[plugins.Ref][]plugins.Ref, len(descs)),
		reverse: make(map[plugins.Ref][]plugins.Ref),
	}
	for _, d := range descs {
		g.AddNode(d)
	}
	return g
}

// AddNode adds or replaces a descriptor
func (g *Graph) AddNode(d plugins.Descriptor) {
	ref := d.Ref()
	if _, exists := g.nodes[ref]; exists {
		for _, dep := range g.edges[ref] {
			g.reverse[dep] = remove(g.reverse[dep], ref)
		}
	}

	g.nodes[ref] = d

	seen := make(map[plugins.Ref]bool, len(d.Metadata.Dependencies))
	deps := make([]plugins.Ref, 0, len(d.Metadata.Dependencies))
	for _, dep := range d.Metadata.Dependencies {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		deps = append(deps, dep)
		g.reverse[dep] = insertSorted(g.reverse[dep], ref)
	}
	sortRefs(deps)
	g.edges[ref] = deps
}

// Has reports whether ref is a node
func (g *Graph) Has(ref plugins.Ref) bool {
	_, ok := g.nodes[ref]
	return ok
}

// Descriptor returns the node's descriptor
func (g *Graph) Descriptor(ref plugins.Ref) (plugins.Descriptor, bool) {
	d, ok := g.nodes[ref]
	return d, ok
}

// Nodes returns every node sorted by (category, name)
func (g *Graph) Nodes() []plugins.Ref {
	out := make([]plugins.Ref, 0, len(g.nodes))
	for ref := range g.nodes {
		out = append(out, ref)
	}
	sortRefs(out)
	return out
}

// Dependencies returns the direct dependencies of ref
func (g *Graph) Dependencies(ref plugins.Ref) []plugins.Ref {
	return append([]plugins.Ref(nil), g.edges[ref]...)
}

// Dependents returns the nodes that directly depend on ref
func (g *Graph) Dependents(ref plugins.Ref) []plugins.Ref {
	var out []plugins.Ref
	for _, r := range g.reverse[ref] {
		if g.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// TransitiveDependencies returns every node reachable from ref, sorted
func (g *Graph) TransitiveDependencies(ref plugins.Ref) []plugins.Ref {
	return g.reach(ref, g.edges)
}

// TransitiveDependents returns every node that reaches ref, sorted
func (g *Graph) TransitiveDependents(ref plugins.Ref) []plugins.Ref {
	return g.reach(ref, g.reverse)
}

func (g *Graph) reach(start plugins.Ref, adj map[plugins.Ref][]plugins.Ref) []plugins.Ref {
	visited := map[plugins.Ref]bool{start: true}
	var out []plugins.Ref

	var traverse func(plugins.Ref)
	traverse = func(ref plugins.Ref) {
		for _, next := range adj[ref] {
			if visited[next] {
				continue
			}
			visited[next] = true
			if g.Has(next) {
				out = append(out, next)
			}
			traverse(next)
		}
	}
	traverse(start)

	sortRefs(out)
	return out
}

// Missing returns one error per declared dependency that is not a node,
// ordered by dependent then dependency.
func (g *Graph) Missing() []*plugins.MissingDependencyError {
	var out []*plugins.MissingDependencyError
	for _, ref := range g.Nodes() {
		for _, dep := range g.edges[ref] {
			if !g.Has(dep) {
				out = append(out, &plugins.MissingDependencyError{Ref: ref, Missing: dep})
			}
		}
	}
	return out
}

func sortRefs(refs []plugins.Ref) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}

func insertSorted(refs []plugins.Ref, ref plugins.Ref) []plugins.Ref {
	i := sort.Search(len(refs), func(i int) bool { return !refs[i].Less(ref) })
	if i < len(refs) && refs[i] == ref {
		return refs
	}
	refs = append(refs, plugins.Ref{})
	copy(refs[i+1:], refs[i:])
	refs[i] = ref
	return refs
}

func remove(refs []plugins.Ref, ref plugins.Ref) []plugins.Ref {
	out := refs[:0]
	for _, r := range refs {
		if r != ref {
			out = append(out, r)
		}
	}
	return out
}
