package model

import "github.com/pkg/errors"

// Builder accumulates nodes and produces an immutable Forest. Decoders feed it
// node by node; trees keep the order in which they were first seen.
type Builder struct {
	order []int
	trees map[int]*Tree
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{trees: make(map[int]*Tree)}
}

// AddTree registers a tree id without adding nodes. It is a no-op for ids
// already present.
func (b *Builder) AddTree(treeID int) {
	if _, ok := b.trees[treeID]; ok {
		return
	}
	b.order = append(b.order, treeID)
	b.trees[treeID] = &Tree{id: treeID, nodes: make(map[int]Node)}
}

// Add appends a node to a tree after checking the node invariant and that the
// id is unique within the tree.
func (b *Builder) Add(treeID int, n Node) error {
	if treeID < 0 {
		return errors.Wrapf(ErrIndexRange, "tree id %d", treeID)
	}
	if err := n.Validate(); err != nil {
		return errors.Wrapf(err, "tree %d", treeID)
	}
	b.AddTree(treeID)
	t := b.trees[treeID]
	if _, dup := t.nodes[n.ID]; dup {
		return errors.Wrapf(ErrInvalidNode, "tree %d: duplicate node id %d", treeID, n.ID)
	}
	t.order = append(t.order, n.ID)
	t.nodes[n.ID] = n
	return nil
}

// TreeLen returns the number of nodes added so far to a tree.
func (b *Builder) TreeLen(treeID int) int {
	if t, ok := b.trees[treeID]; ok {
		return t.Len()
	}
	return 0
}

// Build returns the Forest. Structural checks that span nodes (children
// resolve, acyclic) are left to Forest.Validate so that damaged artifacts can
// still be loaded and fail per tree at traversal time.
func (b *Builder) Build() (*Forest, error) {
	if len(b.order) == 0 {
		return nil, errors.New("forest has no trees")
	}
	f := &Forest{
		trees: make([]*Tree, 0, len(b.order)),
		index: make(map[int]int, len(b.order)),
	}
	for _, id := range b.order {
		src := b.trees[id]
		if src.Len() == 0 {
			return nil, errors.Errorf("tree %d has no nodes", id)
		}
		t := &Tree{
			id:    id,
			order: append([]int(nil), src.order...),
			nodes: make(map[int]Node, len(src.nodes)),
		}
		for k, v := range src.nodes {
			t.nodes[k] = v
		}
		f.index[id] = len(f.trees)
		f.trees = append(f.trees, t)
	}
	return f, nil
}
