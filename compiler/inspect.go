package compiler

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/sbl8/canlut/model"
)

// float32Rel covers the rounding of binary32 thresholds.
const float32Rel = 1e-6

// TreeInfo summarizes one tree of a forest.
type TreeInfo struct {
	ID     int
	Nodes  int
	Leaves int
	Depth  int
	Root   model.Feature
	Labels map[int]int

	// Err is set when the tree fails Tree.Validate; Depth is then zero.
	Err error
}

// Describe summarizes every tree of f.
func Describe(f *model.Forest) []TreeInfo {
	trees := f.Trees()
	infos := make([]TreeInfo, 0, len(trees))
	for _, t := range trees {
		info := TreeInfo{ID: t.ID(), Nodes: t.Len(), Labels: make(map[int]int)}
		if root, ok := t.Root(); ok {
			info.Root = root.Feature
		}
		for _, n := range t.Nodes() {
			if n.IsLeaf() {
				info.Leaves++
				info.Labels[n.Prediction]++
			}
		}
		if info.Err = t.Validate(); info.Err == nil {
			info.Depth = depth(t, 0)
		}
		infos = append(infos, info)
	}
	return infos
}

// depth returns the number of edges on the longest root-to-leaf path. The
// tree must be valid.
func depth(t *model.Tree, id int) int {
	n, _ := t.Node(id)
	if n.IsLeaf() {
		return 0
	}
	l, r := depth(t, n.Left), depth(t, n.Right)
	if l > r {
		return l + 1
	}
	return r + 1
}

// Diff compares two forests node by node in tuple form and returns a
// report of the differences, empty when they agree. Thresholds closer than
// tolerance, or within binary32 rounding of each other, are equal.
func Diff(a, b *model.Forest, tolerance float64) string {
	return cmp.Diff(Tuples(a), Tuples(b), cmpopts.EquateApprox(float32Rel, tolerance))
}
