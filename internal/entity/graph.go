package entity

import (
	"sync"

	"github.com/shopspring/decimal"
)

type node struct {
	entity   Entity
	parent   int
	children []int
	removed  bool
}

// Graph is the ownership tree. Nodes live in an arena indexed by position; the
// id index and the parent/children lists reference arena slots.
type Graph struct {
	mu    sync.RWMutex
	nodes []node
	index map[string]int
	root  int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{index: make(map[string]int), root: -1}
}

// FromEntities rebuilds a graph from stored entities. Parents are attached
// before their children whatever the input order; siblings keep their
// relative order.
func FromEntities(list []Entity) (*Graph, error) {
	g := NewGraph()
	pending := append([]Entity(nil), list...)
	for len(pending) > 0 {
		next := pending[:0]
		for _, e := range pending {
			if e.ParentID != "" && !g.Has(e.ParentID) {
				next = append(next, e)
				continue
			}
			if err := g.Add(e, e.ParentID); err != nil {
				return nil, err
			}
		}
		if len(next) == len(pending) {
			return nil, structural(next[0].ID, ErrInvalidParent)
		}
		pending = next
	}
	return g, nil
}

// Add attaches e under parentID. The first entity may be added with an empty
// parentID and becomes the root; every later entity needs an existing parent.
// Nothing is mutated when an error is returned.
func (g *Graph) Add(e Entity, parentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e.ID == "" {
		return structural(e.ID, ErrUnknownEntity)
	}
	if parentID != "" && parentID == e.ID {
		return structural(e.ID, ErrCyclicHierarchy)
	}
	if _, ok := g.index[e.ID]; ok {
		return structural(e.ID, ErrDuplicateID)
	}
	if !validOwnership(e.Ownership) {
		return structural(e.ID, ErrInvalidOwnership)
	}

	parent := -1
	if parentID == "" {
		if g.root >= 0 {
			return structural(e.ID, ErrInvalidParent)
		}
	} else {
		idx, ok := g.index[parentID]
		if !ok {
			return structural(e.ID, ErrInvalidParent)
		}
		parent = idx
	}

	e.ParentID = parentID
	pos := len(g.nodes)
	g.nodes = append(g.nodes, node{entity: e, parent: parent})
	g.index[e.ID] = pos
	if parent < 0 {
		g.root = pos
		g.nodes[pos].entity.Ownership = hundred
	} else {
		g.nodes[parent].children = append(g.nodes[parent].children, pos)
	}
	return nil
}

// Update replaces the descriptive attributes of an existing entity. The parent
// link is left untouched; use Reparent to move a node.
func (g *Graph) Update(e Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[e.ID]
	if !ok {
		return structural(e.ID, ErrUnknownEntity)
	}
	if !validOwnership(e.Ownership) {
		return structural(e.ID, ErrInvalidOwnership)
	}
	cur := &g.nodes[idx].entity
	e.ParentID = cur.ParentID
	if idx == g.root {
		e.Ownership = hundred
	}
	*cur = e
	return nil
}

// Reparent moves id (with its subtree) under newParentID.
func (g *Graph) Reparent(id, newParentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[id]
	if !ok {
		return structural(id, ErrUnknownEntity)
	}
	if idx == g.root {
		return structural(id, ErrInvalidParent)
	}
	target, ok := g.index[newParentID]
	if !ok {
		return structural(id, ErrInvalidParent)
	}
	if g.detectCycle(idx, target) {
		return structural(id, ErrCyclicHierarchy)
	}

	old := g.nodes[idx].parent
	g.nodes[old].children = without(g.nodes[old].children, idx)
	g.nodes[target].children = append(g.nodes[target].children, idx)
	g.nodes[idx].parent = target
	g.nodes[idx].entity.ParentID = newParentID
	return nil
}

// Remove deletes a leaf entity. Children must be re-parented first.
func (g *Graph) Remove(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx, ok := g.index[id]
	if !ok {
		return structural(id, ErrUnknownEntity)
	}
	if len(g.nodes[idx].children) > 0 {
		return structural(id, ErrHasChildren)
	}
	if p := g.nodes[idx].parent; p >= 0 {
		g.nodes[p].children = without(g.nodes[p].children, idx)
	} else {
		g.root = -1
	}
	g.nodes[idx].removed = true
	g.nodes[idx].parent = -1
	delete(g.index, id)
	return nil
}

// detectCycle reports whether attaching child under parent would close a loop,
// i.e. whether child is parent or one of parent's ancestors.
func (g *Graph) detectCycle(child, parent int) bool {
	for cur := parent; cur >= 0; cur = g.nodes[cur].parent {
		if cur == child {
			return true
		}
	}
	return false
}

// Has reports whether id is part of the graph.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.index[id]
	return ok
}

// Get returns the entity stored under id.
func (g *Graph) Get(id string) (Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return Entity{}, structural(id, ErrUnknownEntity)
	}
	return g.nodes[idx].entity, nil
}

// Root returns the root entity, if any.
func (g *Graph) Root() (Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.root < 0 {
		return Entity{}, false
	}
	return g.nodes[g.root].entity, true
}

// Len returns the number of entities in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.index)
}

// Children returns the direct children of id in insertion order.
func (g *Graph) Children(id string) ([]Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return nil, structural(id, ErrUnknownEntity)
	}
	out := make([]Entity, 0, len(g.nodes[idx].children))
	for _, c := range g.nodes[idx].children {
		out = append(out, g.nodes[c].entity)
	}
	return out, nil
}

// Subtree returns id and all of its descendants in pre-order, visiting
// children in insertion order.
func (g *Graph) Subtree(id string) ([]Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return nil, structural(id, ErrUnknownEntity)
	}
	out := make([]Entity, 0, 8)
	stack := []int{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, g.nodes[cur].entity)
		kids := g.nodes[cur].children
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out, nil
}

// Path returns the chain of entities from id up to the ultimate root.
func (g *Graph) Path(id string) ([]Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	idx, ok := g.index[id]
	if !ok {
		return nil, structural(id, ErrUnknownEntity)
	}
	var out []Entity
	for cur := idx; cur >= 0; cur = g.nodes[cur].parent {
		out = append(out, g.nodes[cur].entity)
	}
	return out, nil
}

// EffectiveOwnership returns the percentage of id held by the ultimate root:
// the product of the ownership percentages along the path. The root holds 100%.
func (g *Graph) EffectiveOwnership(id string) (decimal.Decimal, error) {
	path, err := g.Path(id)
	if err != nil {
		return decimal.Zero, err
	}
	share := decimal.NewFromInt(1)
	for _, e := range path {
		if e.IsRoot() {
			break
		}
		share = share.Mul(e.OwnershipFraction())
	}
	return share.Mul(hundred), nil
}

// MinorityShare returns the percentage of id held outside the group.
func (g *Graph) MinorityShare(id string) (decimal.Decimal, error) {
	eff, err := g.EffectiveOwnership(id)
	if err != nil {
		return decimal.Zero, err
	}
	return hundred.Sub(eff), nil
}

func without(list []int, v int) []int {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
