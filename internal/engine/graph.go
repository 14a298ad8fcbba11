package engine

import (
	"fmt"
	"sort"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/schema"
)

// NodeStatus tracks a node through plan and apply.
type NodeStatus string

const (
	StatusPending  NodeStatus = "pending"
	StatusPlanned  NodeStatus = "planned"
	StatusApplying NodeStatus = "applying"
	StatusApplied  NodeStatus = "applied"
	StatusFailed   NodeStatus = "failed"
	StatusBlocked  NodeStatus = "blocked"
)

// Node is a declaration after reference resolution: attributes in tagged
// form and references turned into dependency edges.
type Node struct {
	Name     string
	Kind     string
	Provider string
	Decl     *ir.Declaration
	Attrs    map[string]ir.Value
	Deps     []string
	Status   NodeStatus
}

// Graph is the directed acyclic dependency graph of a declaration set.
type Graph struct {
	nodes    map[string]*Node
	edges    map[string][]string // name -> names it depends on
	revEdges map[string][]string // name -> names that depend on it
	order    []string            // topological (creation) order
	revOrder []string            // reverse (destruction) order
}

// BuildGraph constructs the dependency graph from a declaration set. Edges
// come from reference values and explicit dependsOn entries. It fails with
// an unresolved-reference error when a reference names an unknown
// declaration or an attribute the target kind's schema does not define, and
// with a cycle error naming the cycle's members when the graph is not
// acyclic. Pure transform: declarations are not modified.
func BuildGraph(decls []*ir.Declaration, schemas *schema.Registry) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]*Node, len(decls)),
		edges:    make(map[string][]string),
		revEdges: make(map[string][]string),
	}

	for _, decl := range decls {
		if _, dup := g.nodes[decl.Name]; dup {
			return nil, fmt.Errorf("duplicate logical name %q", decl.Name)
		}
		g.nodes[decl.Name] = &Node{
			Name:     decl.Name,
			Kind:     decl.Kind,
			Provider: decl.Provider,
			Decl:     decl,
			Attrs:    decl.Values(),
			Status:   StatusPending,
		}
	}

	for _, decl := range decls {
		seen := make(map[string]bool)

		for _, ref := range decl.References() {
			target, ok := g.nodes[ref.Node]
			if !ok {
				return nil, unresolvedRefError(decl.Name, ref, "no declaration with that name")
			}
			if schemas != nil {
				if ks, ok := schemas.Get(target.Kind); ok && !ks.HasAttribute(ref.Attribute) {
					return nil, unresolvedRefError(decl.Name, ref,
						fmt.Sprintf("kind %s has no attribute %q", target.Kind, ref.Attribute))
				}
			}
			if ref.Node != decl.Name && !seen[ref.Node] {
				seen[ref.Node] = true
				g.addEdge(decl.Name, ref.Node)
			}
		}

		for _, dep := range decl.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, unresolvedRefError(decl.Name, ir.Reference{Node: dep},
					"dependsOn names no declaration")
			}
			if dep != decl.Name && !seen[dep] {
				seen[dep] = true
				g.addEdge(decl.Name, dep)
			}
		}

		node := g.nodes[decl.Name]
		node.Deps = append([]string(nil), g.edges[decl.Name]...)
		sort.Strings(node.Deps)
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, cycleError(cycle)
	}

	if err := g.sortTopological(); err != nil {
		return nil, err
	}
	return g, nil
}

// BuildGraphFromRecords constructs a graph over state records, using each
// record's persisted dependency list. Used to order destroys for resources
// whose declarations no longer exist.
func BuildGraphFromRecords(records map[string]*ir.ResourceRecord) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[string]*Node, len(records)),
		edges:    make(map[string][]string),
		revEdges: make(map[string][]string),
	}

	for name, rec := range records {
		g.nodes[name] = &Node{
			Name:     name,
			Kind:     rec.Kind,
			Provider: rec.Provider,
			Status:   StatusPending,
		}
	}
	for name, rec := range records {
		for _, dep := range rec.Dependencies {
			if _, ok := g.nodes[dep]; ok && dep != name {
				g.addEdge(name, dep)
			}
		}
		g.nodes[name].Deps = append([]string(nil), g.edges[name]...)
		sort.Strings(g.nodes[name].Deps)
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, cycleError(cycle)
	}
	if err := g.sortTopological(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) addEdge(from, to string) {
	g.edges[from] = append(g.edges[from], to)
	g.revEdges[to] = append(g.revEdges[to], from)
}

// Node returns the node for a logical name, or nil.
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// CreationOrder returns logical names in dependency-respecting order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns logical names in reverse dependency order.
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the names a node depends on.
func (g *Graph) Dependencies(name string) []string {
	return g.edges[name]
}

// Dependents returns the names that depend on a node.
func (g *Graph) Dependents(name string) []string {
	return g.revEdges[name]
}

// TransitiveDependents returns every node that depends on name, directly or
// transitively, unordered.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, dep := range g.revEdges[n] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TransitiveDependencies returns every node that name depends on, directly
// or transitively, unordered.
func (g *Graph) TransitiveDependencies(name string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, dep := range g.edges[n] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(name)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// findCycle runs a depth-first traversal with unvisited/in-progress/done
// marks. An edge back to an in-progress node closes a cycle; the returned
// slice names the cycle's members in path order. Nil when acyclic.
func (g *Graph) findCycle() []string {
	const (
		unvisited  = 0
		inProgress = 1
		done       = 2
	)
	state := make(map[string]int, len(g.nodes))

	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	var cycle []string
	var path []string

	var visit func(string) bool
	visit = func(name string) bool {
		state[name] = inProgress
		path = append(path, name)

		deps := append([]string(nil), g.edges[name]...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch state[dep] {
			case inProgress:
				// Slice the current path from the first occurrence of dep.
				for i, n := range path {
					if n == dep {
						cycle = append([]string(nil), path[i:]...)
						break
					}
				}
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		state[name] = done
		return false
	}

	for _, name := range names {
		if state[name] == unvisited {
			path = path[:0]
			if visit(name) {
				return cycle
			}
		}
	}
	return nil
}

// sortTopological runs Kahn's algorithm and records creation and
// destruction orders. Ties resolve by name so plans are stable.
func (g *Graph) sortTopological() error {
	inDegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		inDegree[name] = len(g.edges[name])
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		sorted = append(sorted, name)

		dependents := append([]string(nil), g.revEdges[name]...)
		sort.Strings(dependents)
		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		// findCycle reports this case first; kept as a guard.
		return fmt.Errorf("dependency graph is not acyclic")
	}

	g.order = sorted
	g.revOrder = make([]string, len(sorted))
	for i, name := range sorted {
		g.revOrder[len(sorted)-1-i] = name
	}
	return nil
}
