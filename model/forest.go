// Package model defines the canonical, format-independent representation of a
// decision-tree ensemble.
//
// Every codec decodes into and encodes from the types in this package:
//   - Node: one tree vertex, either a split on a Feature or a leaf carrying a label
//   - Tree: nodes keyed by id and rooted at node 0
//   - Forest: the ordered set of trees that vote together
//
// A Forest is only ever produced by a Builder. Once built it exposes read-only
// accessors, so a single Forest can be shared by any number of concurrent
// classifications without locking.
package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Sentinels for fields that do not apply to a node.
const (
	NoChild      = -1
	NoPrediction = -1
)

// Node is one decision-tree vertex.
type Node struct {
	ID         int
	Feature    Feature
	Threshold  float64
	Left       int
	Right      int
	Prediction int
}

// NewSplit returns a split node testing feature <= threshold.
func NewSplit(id int, feature Feature, threshold float64, left, right int) Node {
	return Node{
		ID:         id,
		Feature:    feature,
		Threshold:  threshold,
		Left:       left,
		Right:      right,
		Prediction: NoPrediction,
	}
}

// NewLeaf returns a terminal node voting for label.
func NewLeaf(id, label int) Node {
	return Node{
		ID:         id,
		Feature:    Leaf,
		Left:       NoChild,
		Right:      NoChild,
		Prediction: label,
	}
}

// IsLeaf reports whether the node is terminal.
func (n Node) IsLeaf() bool {
	return n.Feature == Leaf
}

// Validate checks that the node is exactly one of a split or a leaf.
func (n Node) Validate() error {
	if n.ID < 0 {
		return errors.Wrapf(ErrInvalidNode, "negative node id %d", n.ID)
	}
	if n.IsLeaf() {
		if n.Prediction < 0 {
			return errors.Wrapf(ErrInvalidNode, "leaf %d has no prediction", n.ID)
		}
		if n.Left != NoChild || n.Right != NoChild {
			return errors.Wrapf(ErrInvalidNode, "leaf %d has children", n.ID)
		}
		return nil
	}
	if !n.Feature.Valid() {
		return errors.Wrapf(ErrUnknownFeatureCode, "node %d: code %d", n.ID, uint8(n.Feature))
	}
	if n.Left < 0 || n.Right < 0 {
		return errors.Wrapf(ErrInvalidNode, "split %d is missing a child", n.ID)
	}
	if n.Prediction != NoPrediction {
		return errors.Wrapf(ErrInvalidNode, "split %d carries prediction %d", n.ID, n.Prediction)
	}
	if math.IsNaN(n.Threshold) || math.IsInf(n.Threshold, 0) {
		return errors.Wrapf(ErrInvalidNode, "split %d has threshold %v", n.ID, n.Threshold)
	}
	return nil
}

func (n Node) String() string {
	if n.IsLeaf() {
		return fmt.Sprintf("#%d leaf -> %d", n.ID, n.Prediction)
	}
	return fmt.Sprintf("#%d %s <= %g ? %d : %d", n.ID, n.Feature, n.Threshold, n.Left, n.Right)
}

// Tree is an ordered mapping from node id to Node, rooted at node 0.
type Tree struct {
	id    int
	order []int
	nodes map[int]Node
}

// ID returns the tree id.
func (t *Tree) ID() int {
	return t.id
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.order)
}

// Node returns the node with the given id.
func (t *Tree) Node(id int) (Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns the nodes in insertion order.
func (t *Tree) Nodes() []Node {
	out := make([]Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

// Root returns node 0.
func (t *Tree) Root() (Node, bool) {
	return t.Node(0)
}

// Dense reports whether node ids are exactly 0..Len()-1 in insertion order.
func (t *Tree) Dense() bool {
	for i, id := range t.order {
		if id != i {
			return false
		}
	}
	return true
}

// Validate checks that the tree is rooted at 0, that every child resolves and
// that the nodes form a tree: no cycles, no shared children, nothing
// unreachable from the root.
func (t *Tree) Validate() error {
	if _, ok := t.nodes[0]; !ok {
		return errors.Wrapf(ErrNodeNotFound, "tree %d has no root", t.id)
	}

	parents := make(map[int]int, len(t.nodes))
	for _, id := range t.order {
		n := t.nodes[id]
		if n.IsLeaf() {
			continue
		}
		for _, child := range []int{n.Left, n.Right} {
			if _, ok := t.nodes[child]; !ok {
				return errors.Wrapf(ErrCorruptTree, "tree %d: node %d references missing node %d", t.id, id, child)
			}
			parents[child]++
		}
	}

	if id, ok := t.findCycle(); ok {
		return errors.Wrapf(ErrCycleDetected, "tree %d: node %d is its own ancestor", t.id, id)
	}
	for _, id := range t.order {
		if parents[id] > 1 {
			return errors.Wrapf(ErrInvalidNode, "tree %d: node %d has %d parents", t.id, id, parents[id])
		}
	}
	if parents[0] != 0 {
		return errors.Wrapf(ErrInvalidNode, "tree %d: root has a parent", t.id)
	}

	// Every node but the root now has exactly one parent, so a walk from
	// the root visits each reachable node once.
	reached := 0
	queue := []int{0}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		reached++
		if n := t.nodes[current]; !n.IsLeaf() {
			queue = append(queue, n.Left, n.Right)
		}
	}
	if reached != len(t.nodes) {
		return errors.Wrapf(ErrInvalidNode, "tree %d: %d nodes unreachable from root", t.id, len(t.nodes)-reached)
	}
	return nil
}

// findCycle walks every node depth-first and returns the first node found on
// a back edge.
func (t *Tree) findCycle() (int, bool) {
	const (
		white = iota
		grey
		black
	)
	color := make(map[int]int, len(t.nodes))

	var visit func(id int) (int, bool)
	visit = func(id int) (int, bool) {
		color[id] = grey
		n := t.nodes[id]
		if !n.IsLeaf() {
			for _, child := range []int{n.Left, n.Right} {
				switch color[child] {
				case grey:
					return child, true
				case white:
					if _, ok := t.nodes[child]; !ok {
						continue
					}
					if at, found := visit(child); found {
						return at, true
					}
				}
			}
		}
		color[id] = black
		return 0, false
	}

	for _, id := range t.order {
		if color[id] == white {
			if at, found := visit(id); found {
				return at, true
			}
		}
	}
	return 0, false
}

// Forest is an ordered, immutable sequence of trees.
type Forest struct {
	trees []*Tree
	index map[int]int
}

// TreeCount returns the number of trees.
func (f *Forest) TreeCount() int {
	return len(f.trees)
}

// NodeCount returns the number of nodes across all trees.
func (f *Forest) NodeCount() int {
	total := 0
	for _, t := range f.trees {
		total += t.Len()
	}
	return total
}

// Trees returns the trees in order.
func (f *Forest) Trees() []*Tree {
	out := make([]*Tree, len(f.trees))
	copy(out, f.trees)
	return out
}

// Tree returns the tree with the given id.
func (f *Forest) Tree(id int) (*Tree, error) {
	i, ok := f.index[id]
	if !ok {
		return nil, errors.Errorf("tree %d not in forest", id)
	}
	return f.trees[i], nil
}

// Node returns a node of a tree, or ErrNodeNotFound.
func (f *Forest) Node(treeID, nodeID int) (Node, error) {
	t, err := f.Tree(treeID)
	if err != nil {
		return Node{}, errors.Wrapf(ErrNodeNotFound, "%v", err)
	}
	n, ok := t.Node(nodeID)
	if !ok {
		return Node{}, errors.Wrapf(ErrNodeNotFound, "tree %d node %d", treeID, nodeID)
	}
	return n, nil
}

// IsLeaf reports whether n is terminal.
func (f *Forest) IsLeaf(n Node) bool {
	return n.IsLeaf()
}

// Validate runs Tree.Validate on every tree.
func (f *Forest) Validate() error {
	if len(f.trees) == 0 {
		return errors.New("forest has no trees")
	}
	for _, t := range f.trees {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Subset returns a forest holding only the listed trees, in the given order.
func (f *Forest) Subset(ids []int) (*Forest, error) {
	b := NewBuilder()
	for _, id := range ids {
		t, err := f.Tree(id)
		if err != nil {
			return nil, err
		}
		b.AddTree(id)
		for _, n := range t.Nodes() {
			if err := b.Add(id, n); err != nil {
				return nil, err
			}
		}
	}
	return b.Build()
}
