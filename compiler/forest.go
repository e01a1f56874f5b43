package compiler

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

// Build assembles tuples into a forest. With strict set every tree must pass
// Tree.Validate.
func Build(tuples []Tuple, strict bool) (*model.Forest, error) {
	b := model.NewBuilder()
	for _, tp := range tuples {
		if err := b.Add(tp.Tree, tp.ModelNode()); err != nil {
			return nil, err
		}
	}
	f, err := b.Build()
	if err != nil {
		return nil, err
	}
	if strict {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Group is a set of trees sharing the feature tested at their root.
type Group struct {
	Feature model.Feature
	Forest  *model.Forest
}

// Name is the group's artifact suffix.
func (g Group) Name() string {
	return g.Feature.String()
}

// SplitByRootFeature partitions f by the feature each root splits on. Trees
// whose root is a leaf form the Leaf group. Groups are ordered by feature
// code and keep the original tree order and ids.
func SplitByRootFeature(f *model.Forest) ([]Group, error) {
	ids := make(map[model.Feature][]int)
	for _, t := range f.Trees() {
		root, ok := t.Root()
		if !ok {
			return nil, errors.Wrapf(model.ErrNodeNotFound, "tree %d has no root", t.ID())
		}
		ids[root.Feature] = append(ids[root.Feature], t.ID())
	}

	features := make([]model.Feature, 0, len(ids))
	for feat := range ids {
		features = append(features, feat)
	}
	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })

	groups := make([]Group, 0, len(features))
	for _, feat := range features {
		sub, err := f.Subset(ids[feat])
		if err != nil {
			return nil, err
		}
		groups = append(groups, Group{Feature: feat, Forest: sub})
	}
	return groups, nil
}

// Renumber rewrites every tree so that node ids run 0..n-1 in breadth-first
// order from the root, the dense layout the hex table needs. The forest must
// pass Forest.Validate.
func Renumber(f *model.Forest) (*model.Forest, error) {
	if err := f.Validate(); err != nil {
		return nil, errors.Wrap(err, "renumbering")
	}
	b := model.NewBuilder()
	for _, t := range f.Trees() {
		for _, n := range renumberTree(t) {
			if err := b.Add(t.ID(), n); err != nil {
				return nil, err
			}
		}
	}
	return b.Build()
}

func renumberTree(t *model.Tree) []model.Node {
	var order []model.Node
	ids := make(map[int]int, t.Len())
	queue := []int{0}
	for len(queue) > 0 {
		n, _ := t.Node(queue[0])
		queue = queue[1:]
		ids[n.ID] = len(order)
		order = append(order, n)
		if !n.IsLeaf() {
			queue = append(queue, n.Left, n.Right)
		}
	}

	for i, n := range order {
		n.ID = ids[n.ID]
		if !n.IsLeaf() {
			n.Left, n.Right = ids[n.Left], ids[n.Right]
		}
		order[i] = n
	}
	return order
}
