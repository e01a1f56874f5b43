package runtime

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/sbl8/canlut/model"
)

// Verdict is the class label chosen by the forest.
type Verdict int

const (
	Normal    Verdict = 0
	Intrusion Verdict = 1
)

func (v Verdict) String() string {
	switch v {
	case Normal:
		return "normal"
	case Intrusion:
		return "intrusion"
	}
	return fmt.Sprintf("class_%d", int(v))
}

// TreeFault records why one tree abstained.
type TreeFault struct {
	Tree int
	Err  error
}

func (f TreeFault) Error() string {
	return fmt.Sprintf("tree %d: %v", f.Tree, f.Err)
}

// Tally is the outcome of one ensemble evaluation.
type Tally struct {
	// Counts maps each label to the number of trees that voted for it.
	Counts map[int]int
	Faults []TreeFault
	Trees  int
}

// Votes returns the number of trees that did not abstain.
func (t Tally) Votes() int {
	total := 0
	for _, c := range t.Counts {
		total += c
	}
	return total
}

// Labels returns the voted labels in ascending order.
func (t Tally) Labels() []int {
	labels := make([]int, 0, len(t.Counts))
	for l := range t.Counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

// Verdict returns the label with the most votes. Ties go to the lowest label.
func (t Tally) Verdict() (Verdict, error) {
	best, bestCount := model.NoPrediction, 0
	for _, l := range t.Labels() {
		if c := t.Counts[l]; c > bestCount {
			best, bestCount = l, c
		}
	}
	if bestCount == 0 {
		return Verdict(model.NoPrediction), errors.Wrapf(model.ErrNoValidVotes,
			"all %d trees abstained", t.Trees)
	}
	return Verdict(best), nil
}

// vote is the result of one tree's traversal.
type vote struct {
	label int
	steps int
	err   error
}

func tallyVotes(trees []*model.Tree, votes []vote) Tally {
	t := Tally{Counts: make(map[int]int), Trees: len(trees)}
	for i, v := range votes {
		if v.err != nil {
			t.Faults = append(t.Faults, TreeFault{Tree: trees[i].ID(), Err: v.err})
			continue
		}
		t.Counts[v.label]++
	}
	return t
}

// Classify evaluates every tree of f for vec in order and returns the
// majority verdict. The tally is returned even when no verdict is possible.
func Classify(f *model.Forest, vec model.FeatureVector) (Verdict, Tally, error) {
	trees := f.Trees()
	votes := make([]vote, len(trees))
	for i, t := range trees {
		label, steps, err := TraverseTree(t, vec)
		votes[i] = vote{label: label, steps: steps, err: err}
	}
	tally := tallyVotes(trees, votes)
	verdict, err := tally.Verdict()
	return verdict, tally, err
}
