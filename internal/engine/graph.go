package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/terrane-io/terrane/internal/ir"
)

// refScheme prefixes a reference to another resource's attribute:
// ptr://<type>/<name>/<attribute>.
const refScheme = "ptr://"

// Edge is a directed producer -> consumer relation, labeled with the
// property path on the consumer that reads the producer's output.
type Edge struct {
	From     string // producer address
	To       string // consumer address
	Property string // consumer property path, "" for explicit dependsOn
}

// Graph is the directed acyclic graph of declared resources.
type Graph struct {
	nodes    map[string]*node
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type node struct {
	addr     string
	edges    []string // addresses this node depends on
	revEdges []string // addresses that depend on this node
	in       []Edge
}

// BuildGraph constructs the dependency graph from declarations. Edges come
// from explicit dependsOn entries and from ptr:// references inside
// properties. Two declarations sharing an address fail with
// *DuplicateResourceError; a reference cycle fails with *CycleError.
func BuildGraph(resources []*ir.Resource) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node)}

	for _, res := range resources {
		addr := res.Addr()
		if _, exists := g.nodes[addr]; exists {
			return nil, &DuplicateResourceError{Address: addr}
		}
		g.nodes[addr] = &node{addr: addr}
	}

	for _, res := range resources {
		addr := res.Addr()
		n := g.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := g.nodes[dep]; ok {
				n.addEdge(Edge{From: dep, To: addr})
			}
		}

		for _, ref := range extractRefs(res.Properties, "") {
			depAddr := refToAddr(ref.value)
			if depAddr == "" || depAddr == addr {
				continue
			}
			if _, ok := g.nodes[depAddr]; ok {
				n.addEdge(Edge{From: depAddr, To: addr, Property: ref.path})
			}
		}
	}

	g.buildReverse()

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	g.revOrder = reversed(order)

	return g, nil
}

// BuildGraphFromState constructs a graph from persisted records, using their
// recorded dependency lists. Used for destroy and for ordering deletions.
func BuildGraphFromState(resources []*ir.ResourceState) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node)}

	for _, res := range resources {
		addr := res.Addr()
		if _, exists := g.nodes[addr]; !exists {
			g.nodes[addr] = &node{addr: addr}
		}
	}
	for _, res := range resources {
		n := g.nodes[res.Addr()]
		for _, dep := range res.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				// Dangling record; treat as an external node so ordering
				// still holds for everything else.
				g.nodes[dep] = &node{addr: dep}
			}
			n.addEdge(Edge{From: dep, To: n.addr})
		}
	}

	g.buildReverse()

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	g.revOrder = reversed(order)

	return g, nil
}

func (n *node) addEdge(e Edge) {
	for _, existing := range n.edges {
		if existing == e.From {
			n.in = append(n.in, e)
			return
		}
	}
	n.edges = append(n.edges, e.From)
	n.in = append(n.in, e)
}

func (g *Graph) buildReverse() {
	for addr, n := range g.nodes {
		for _, dep := range n.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, addr)
		}
	}
}

// CreationOrder returns addresses in dependency-respecting creation order.
func (g *Graph) CreationOrder() []string {
	return g.order
}

// DestructionOrder returns addresses in reverse dependency order, safe for
// deletion (consumers before producers).
func (g *Graph) DestructionOrder() []string {
	return g.revOrder
}

// Dependencies returns the producer addresses of the given node.
func (g *Graph) Dependencies(addr string) []string {
	if n, ok := g.nodes[addr]; ok {
		return n.edges
	}
	return nil
}

// Dependents returns the consumer addresses of the given node.
func (g *Graph) Dependents(addr string) []string {
	if n, ok := g.nodes[addr]; ok {
		return n.revEdges
	}
	return nil
}

// InEdges returns the labeled incoming edges of the given node.
func (g *Graph) InEdges(addr string) []Edge {
	if n, ok := g.nodes[addr]; ok {
		return n.in
	}
	return nil
}

// TransitiveDeps returns every address reachable by following producer
// edges from addr, not including addr itself.
func (g *Graph) TransitiveDeps(addr string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(a string) {
		for _, dep := range g.Dependencies(a) {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	deps := make([]string, 0, len(seen))
	for a := range seen {
		deps = append(deps, a)
	}
	sort.Strings(deps)
	return deps
}

// TransitiveDependents returns every address that transitively reads from
// addr, not including addr itself.
func (g *Graph) TransitiveDependents(addr string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(a string) {
		for _, dep := range g.Dependents(a) {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(addr)

	deps := make([]string, 0, len(seen))
	for a := range seen {
		deps = append(deps, a)
	}
	sort.Strings(deps)
	return deps
}

// findCycle runs a depth-first traversal with a recursion-stack check and
// returns the addresses along the first cycle found, or nil.
func (g *Graph) findCycle() []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the recursion stack
		black = 2 // done
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(addr string) []string
	visit = func(addr string) []string {
		color[addr] = grey
		stack = append(stack, addr)

		for _, dep := range g.nodes[addr].edges {
			switch color[dep] {
			case grey:
				// Found a back edge; slice the stack from dep onward.
				for i, a := range stack {
					if a == dep {
						cycle := append([]string{}, stack[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[addr] = black
		return nil
	}

	// Deterministic traversal order keeps error messages stable.
	addrs := make([]string, 0, len(g.nodes))
	for addr := range g.nodes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		if color[addr] == white {
			if cycle := visit(addr); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topoSort runs Kahn's algorithm. The cycle check has already passed, so a
// short result indicates a builder defect.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for addr, n := range g.nodes {
		inDegree[addr] = len(n.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		sorted = append(sorted, addr)

		next := []string{}
		for _, dependent := range g.nodes[addr].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(sorted) != len(g.nodes) {
		var remaining []string
		for addr := range g.nodes {
			if inDegree[addr] > 0 {
				remaining = append(remaining, addr)
			}
		}
		sort.Strings(remaining)
		return nil, &UnschedulableError{Remaining: remaining}
	}

	return sorted, nil
}

func reversed(order []string) []string {
	rev := make([]string, len(order))
	for i, addr := range order {
		rev[len(order)-1-i] = addr
	}
	return rev
}

type ref struct {
	path  string
	value string
}

// extractRefs walks a property value collecting ptr:// references together
// with the property path that holds them.
func extractRefs(v any, path string) []ref {
	var refs []ref
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, refScheme) {
			refs = append(refs, ref{path: path, value: val})
		}
	case map[string]any:
		for k, v := range val {
			refs = append(refs, extractRefs(v, joinPath(path, k))...)
		}
	case map[any]any:
		for k, v := range val {
			refs = append(refs, extractRefs(v, joinPath(path, fmt.Sprintf("%v", k)))...)
		}
	case []any:
		for i, v := range val {
			refs = append(refs, extractRefs(v, fmt.Sprintf("%s[%d]", path, i))...)
		}
	}
	return refs
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

// refToAddr converts ptr://aws_vpc/app/id to aws_vpc.app.
func refToAddr(r string) string {
	if !strings.HasPrefix(r, refScheme) {
		return ""
	}
	parts := strings.SplitN(r[len(refScheme):], "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}

// refAttribute returns the attribute segment of a ptr:// reference, or "".
func refAttribute(r string) string {
	if !strings.HasPrefix(r, refScheme) {
		return ""
	}
	parts := strings.SplitN(r[len(refScheme):], "/", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
