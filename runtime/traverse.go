// Package runtime evaluates a decoded forest against feature vectors.
//
// Key components:
//   - TraverseTree: the per-tree walk from the root to a leaf, bounded by the
//     tree's node count
//   - Classify: sequential evaluation of every tree followed by the vote
//   - Engine: the same evaluation on a bounded worker pool, with statistics
//     and Prometheus metrics
//   - Stream: feature extraction and classification of an ordered frame feed
//
// A forest is decoded completely before any of these run, and is only ever
// read afterwards, so one forest may back any number of engines and streams.
// Failures inside a single tree make that tree abstain; only a forest in
// which every tree abstains fails to produce a verdict.
package runtime

import (
	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

// TraverseTree walks t from node 0 for vec and returns the label of the leaf
// reached along with the number of nodes visited. A walk that visits more
// nodes than the tree holds is reported as ErrCycleDetected.
func TraverseTree(t *model.Tree, vec model.FeatureVector) (int, int, error) {
	budget := t.Len()
	current := 0
	for steps := 1; ; steps++ {
		if steps > budget {
			return model.NoPrediction, steps - 1, errors.Wrapf(model.ErrCycleDetected,
				"tree %d: more than %d visits", t.ID(), budget)
		}
		n, ok := t.Node(current)
		if !ok {
			return model.NoPrediction, steps, errors.Wrapf(model.ErrCorruptTree,
				"tree %d: node %d does not exist", t.ID(), current)
		}
		if n.IsLeaf() {
			return n.Prediction, steps, nil
		}
		v, err := vec.Value(n.Feature)
		if err != nil {
			return model.NoPrediction, steps, errors.Wrapf(err, "tree %d node %d", t.ID(), n.ID)
		}
		if v <= n.Threshold {
			current = n.Left
		} else {
			current = n.Right
		}
	}
}
