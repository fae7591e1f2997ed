package dependencies

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/pluginhost/pkg/httputil"
	"github.com/platinummonkey/pluginhost/pkg/plugins"
)

// CytoscapeNode represents a node in Cytoscape.js format
type CytoscapeNode struct {
	Data CytoscapeNodeData `json:"data"`
}

// CytoscapeNodeData contains node data for Cytoscape.js
type CytoscapeNodeData struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Version  string `json:"version,omitempty"`
	State    string `json:"state,omitempty"`
	Type     string `json:"type"` // "current", "dependency", "dependent", "provider", "missing"
}

// CytoscapeEdge represents an edge in Cytoscape.js format
type CytoscapeEdge struct {
	Data CytoscapeEdgeData `json:"data"`
}

// CytoscapeEdgeData contains edge data for Cytoscape.js
type CytoscapeEdgeData struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// CytoscapeGraph represents the complete graph in Cytoscape.js format
type CytoscapeGraph struct {
	Nodes []CytoscapeNode `json:"nodes"`
	Edges []CytoscapeEdge `json:"edges"`
}

// GraphSource supplies the registered providers and their states
type GraphSource interface {
	Descriptors() []plugins.Descriptor
	State(ref plugins.Ref) plugins.LifecycleState
}

// GraphHandlers serves the provider dependency graph
type GraphHandlers struct {
	source GraphSource
}

// NewGraphHandlers creates graph handlers over source
func NewGraphHandlers(source GraphSource) *GraphHandlers {
	return &GraphHandlers{source: source}
}

// RegisterRoutes registers graph routes
func (h *GraphHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/graph", h.getGraph).Methods("GET")
	router.HandleFunc("/api/v1/graph/order", h.getOrder).Methods("GET")
}

// getGraph handles GET /api/v1/graph
// Query parameters:
//   - ref: CATEGORY/name to focus on (default: whole graph)
//   - direction: "dependencies", "dependents", or "both" (default: "both")
func (h *GraphHandlers) getGraph(w http.ResponseWriter, r *http.Request) {
	g := NewGraph(h.source.Descriptors())

	focus := r.URL.Query().Get("ref")
	if focus == "" {
		httputil.WriteSuccess(w, BuildCytoscapeGraph(g, h.source.State))
		return
	}

	ref, err := plugins.ParseRef(focus)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !g.Has(ref) {
		httputil.WriteNotFoundError(w, (&plugins.PluginNotFoundError{Ref: ref}).Error())
		return
	}

	direction := httputil.ParseQueryString(r, "direction", "both")
	switch direction {
	case "dependencies", "dependents", "both":
	default:
		httputil.WriteBadRequest(w, "direction must be one of dependencies, dependents, both")
		return
	}

	httputil.WriteSuccess(w, BuildFocusedGraph(g, ref, direction, h.source.State))
}

// getOrder handles GET /api/v1/graph/order
func (h *GraphHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := ResolveOrder(h.source.Descriptors())
	if err != nil {
		httputil.WriteConflict(w, err.Error())
		return
	}
	refs := make([]string, 0, len(order))
	for _, d := range order {
		refs = append(refs, d.Ref().String())
	}
	httputil.WriteSuccess(w, map[string][]string{"order": refs})
}

// BuildCytoscapeGraph renders every node and edge. state may be nil.
func BuildCytoscapeGraph(g *Graph, state func(plugins.Ref) plugins.LifecycleState) CytoscapeGraph {
	cyto := CytoscapeGraph{Nodes: make([]CytoscapeNode, 0), Edges: make([]CytoscapeEdge, 0)}
	added := make(map[plugins.Ref]bool)

	for _, ref := range g.Nodes() {
		addNode(&cyto, g, ref, "provider", state, added)
	}
	for _, ref := range g.Nodes() {
		for _, dep := range g.edges[ref] {
			if !added[dep] {
				addNode(&cyto, g, dep, "missing", state, added)
			}
			addEdge(&cyto, ref, dep)
		}
	}
	return cyto
}

// BuildFocusedGraph renders ref with its transitive dependencies and/or dependents
func BuildFocusedGraph(g *Graph, ref plugins.Ref, direction string, state func(plugins.Ref) plugins.LifecycleState) CytoscapeGraph {
	cyto := CytoscapeGraph{Nodes: make([]CytoscapeNode, 0), Edges: make([]CytoscapeEdge, 0)}
	added := make(map[plugins.Ref]bool)
	addNode(&cyto, g, ref, "current", state, added)

	if direction == "dependencies" || direction == "both" {
		for _, dep := range g.TransitiveDependencies(ref) {
			addNode(&cyto, g, dep, "dependency", state, added)
		}
	}
	if direction == "dependents" || direction == "both" {
		for _, dep := range g.TransitiveDependents(ref) {
			addNode(&cyto, g, dep, "dependent", state, added)
		}
	}

	for _, from := range g.Nodes() {
		if !added[from] {
			continue
		}
		for _, to := range g.edges[from] {
			if added[to] {
				addEdge(&cyto, from, to)
			}
		}
	}
	return cyto
}

func addNode(cyto *CytoscapeGraph, g *Graph, ref plugins.Ref, typ string, state func(plugins.Ref) plugins.LifecycleState, added map[plugins.Ref]bool) {
	if added[ref] {
		return
	}
	added[ref] = true

	data := CytoscapeNodeData{
		ID:       ref.String(),
		Name:     ref.Name,
		Category: string(ref.Category),
		Type:     typ,
	}
	if d, ok := g.Descriptor(ref); ok {
		data.Version = d.Metadata.Version
		if state != nil {
			data.State = string(state(ref))
		}
	}
	cyto.Nodes = append(cyto.Nodes, CytoscapeNode{Data: data})
}

func addEdge(cyto *CytoscapeGraph, from, to plugins.Ref) {
	cyto.Edges = append(cyto.Edges, CytoscapeEdge{
		Data: CytoscapeEdgeData{
			ID:     from.String() + "->" + to.String(),
			Source: from.String(),
			Target: to.String(),
		},
	})
}
