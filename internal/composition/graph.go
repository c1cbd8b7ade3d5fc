// Package composition holds the in-memory view of the product composition
// graph: an immutable snapshot loaded from storage, reachability queries used
// to keep the graph acyclic, and multiplicity-aware flattening of a product
// into its leaf bill of materials.
package composition

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrCycle is returned when an edge would close a cycle, or when a
	// snapshot turns out to contain one.
	ErrCycle = errors.New("composition: cycle")
	// ErrValidation is returned for out-of-range counts and arithmetic
	// overflow.
	ErrValidation = errors.New("composition: invalid argument")
	// ErrUnknownNode is returned when a root is not part of the snapshot or
	// an edge points at a product with no row.
	ErrUnknownNode = errors.New("composition: unknown node")
)

// Edge is an outgoing composition edge seen from its composite.
type Edge struct {
	Component    uint
	Multiplicity int64
}

// Graph is a snapshot of part of the composition graph. Build it with
// AddNode/AddEdge (Load does this) and treat it as read-only afterwards.
type Graph struct {
	names map[uint]string
	adj   map[uint][]Edge
}

// NewGraph returns an empty snapshot.
func NewGraph() *Graph {
	return &Graph{
		names: make(map[uint]string),
		adj:   make(map[uint][]Edge),
	}
}

// AddNode registers a product id with its display name.
func (g *Graph) AddNode(id uint, name string) {
	g.names[id] = name
}

// AddEdge appends an edge. Edges keep insertion order.
func (g *Graph) AddEdge(composite, component uint, multiplicity int64) {
	g.adj[composite] = append(g.adj[composite], Edge{Component: component, Multiplicity: multiplicity})
}

// Has reports whether id is a node of the snapshot.
func (g *Graph) Has(id uint) bool {
	_, ok := g.names[id]
	return ok
}

// Name returns the name recorded for id.
func (g *Graph) Name(id uint) string {
	return g.names[id]
}

// Children returns the direct components of id in insertion order.
func (g *Graph) Children(id uint) []Edge {
	return g.adj[id]
}

// IsLeaf reports whether id has no outgoing edges.
func (g *Graph) IsLeaf(id uint) bool {
	return len(g.adj[id]) == 0
}

// Len returns the number of nodes in the snapshot.
func (g *Graph) Len() int { return len(g.names) }

// Reaches reports whether a directed path from -> ... -> to exists. A node
// reaches itself.
func (g *Graph) Reaches(from, to uint) bool {
	if from == to {
		return true
	}
	seen := map[uint]bool{from: true}
	queue := []uint{from}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, e := range g.adj[n] {
			if e.Component == to {
				return true
			}
			if !seen[e.Component] {
				seen[e.Component] = true
				queue = append(queue, e.Component)
			}
		}
	}
	return false
}

// Flatten resolves count units of root into the leaf products they consume.
// A leaf root yields itself. Composites never appear in the result.
//
// Demand is pushed down the sub-DAG in topological order, so shared
// sub-assemblies are visited once no matter how many paths reach them.
func (g *Graph) Flatten(root uint, count int64) (BillOfMaterials, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be >= 1, got %d", ErrValidation, count)
	}
	if !g.Has(root) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, root)
	}

	order, err := g.topoOrder(root)
	if err != nil {
		return nil, err
	}

	need := map[uint]int64{root: count}
	bom := make(BillOfMaterials)
	for _, id := range order {
		n := need[id]
		children := g.adj[id]
		if len(children) == 0 {
			if err := bom.Add(g.names[id], n); err != nil {
				return nil, err
			}
			continue
		}
		for _, e := range children {
			m, ok := mul(n, e.Multiplicity)
			if !ok {
				return nil, fmt.Errorf("%w: quantity overflow below %q", ErrValidation, g.names[id])
			}
			sum, ok := add(need[e.Component], m)
			if !ok {
				return nil, fmt.Errorf("%w: quantity overflow at %q", ErrValidation, g.names[e.Component])
			}
			need[e.Component] = sum
		}
	}
	return bom, nil
}

// topoOrder returns the nodes reachable from root in topological order, or
// ErrCycle if the reachable part of the snapshot is not a DAG.
func (g *Graph) topoOrder(root uint) ([]uint, error) {
	indeg := map[uint]int{root: 0}
	stack := []uint{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.adj[n] {
			if _, seen := indeg[e.Component]; !seen {
				indeg[e.Component] = 0
				stack = append(stack, e.Component)
			}
			indeg[e.Component]++
		}
	}

	order := make([]uint, 0, len(indeg))
	ready := []uint{}
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, e := range g.adj[n] {
			indeg[e.Component]--
			if indeg[e.Component] == 0 {
				ready = append(ready, e.Component)
			}
		}
	}
	if len(order) != len(indeg) {
		return nil, fmt.Errorf("%w: reachable from %q", ErrCycle, g.names[root])
	}
	return order, nil
}

// BillOfMaterials maps leaf product names to quantities.
type BillOfMaterials map[string]int64

// Line is one entry of a sorted bill of materials.
type Line struct {
	Product  string `json:"product"`
	Quantity int64  `json:"quantity"`
}

// Add increases the quantity for name by n.
func (b BillOfMaterials) Add(name string, n int64) error {
	sum, ok := add(b[name], n)
	if !ok {
		return fmt.Errorf("%w: quantity overflow for %q", ErrValidation, name)
	}
	b[name] = sum
	return nil
}

// Merge adds every entry of other into b.
func (b BillOfMaterials) Merge(other BillOfMaterials) error {
	for name, n := range other {
		if err := b.Add(name, n); err != nil {
			return err
		}
	}
	return nil
}

// Sorted returns the entries ordered by product name.
func (b BillOfMaterials) Sorted() []Line {
	lines := make([]Line, 0, len(b))
	for name, n := range b {
		lines = append(lines, Line{Product: name, Quantity: n})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Product < lines[j].Product })
	return lines
}

func mul(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

func add(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
