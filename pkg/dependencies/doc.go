// Package dependencies orders providers by their declared dependencies.
//
// # Overview
//
// Providers list the (category, name) pairs they need started first. This
// package builds the directed graph (A -> B when A depends on B), sorts it
// topologically and explains why it cannot when the declarations are wrong.
//
// # Key Features
//
// Ordering: Kahn's algorithm, ties broken by (category, name) so identical
// input always yields identical order
// Missing Dependencies: reported before ordering as MissingDependencyError
// Circular Detection: every cycle is reported with all of its members
// Impact: TransitiveDependents tells which providers a failure takes down
// Visualization: Cytoscape.js JSON over HTTP
//
// # Usage Example
//
//	order, err := dependencies.ResolveOrder(descriptors)
//	var cyc *plugins.CyclicDependencyError
//	if errors.As(err, &cyc) {
//		for _, cycle := range cyc.Cycles {
//			fmt.Println(cycle)
//		}
//	}
//
// # Related Packages
//
//   - pkg/registry: calls ResolveOrder during StartAll
package dependencies
