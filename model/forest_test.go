package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildForest(t *testing.T, trees map[int][]Node, order ...int) *Forest {
	t.Helper()
	b := NewBuilder()
	for _, id := range order {
		for _, n := range trees[id] {
			require.NoError(t, b.Add(id, n))
		}
	}
	f, err := b.Build()
	require.NoError(t, err)
	return f
}

func stump(threshold float64) []Node {
	return []Node{
		NewSplit(0, DataEntropy, threshold, 1, 2),
		NewLeaf(1, 0),
		NewLeaf(2, 1),
	}
}

func TestNodeValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		node    Node
		wantErr error
	}{
		{"split", NewSplit(0, ArbitrationID, 100, 1, 2), nil},
		{"leaf", NewLeaf(3, 1), nil},
		{"leaf without label", NewLeaf(3, NoPrediction), ErrInvalidNode},
		{"leaf with child", Node{ID: 1, Feature: Leaf, Left: 2, Right: NoChild, Prediction: 0}, ErrInvalidNode},
		{"split missing child", NewSplit(0, DataLength, 4, 1, NoChild), ErrInvalidNode},
		{"split with label", Node{ID: 0, Feature: DataLength, Left: 1, Right: 2, Prediction: 1}, ErrInvalidNode},
		{"unknown feature", NewSplit(0, Feature(9), 1, 1, 2), ErrUnknownFeatureCode},
		{"negative id", NewLeaf(-1, 0), ErrInvalidNode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestForestAccessors(t *testing.T) {
	t.Parallel()
	f := buildForest(t, map[int][]Node{4: stump(1.5), 2: stump(2.5)}, 4, 2)

	assert.Equal(t, 2, f.TreeCount())
	assert.Equal(t, 6, f.NodeCount())

	trees := f.Trees()
	require.Len(t, trees, 2)
	assert.Equal(t, 4, trees[0].ID(), "trees keep first-seen order")
	assert.Equal(t, 2, trees[1].ID())

	n, err := f.Node(2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.5, n.Threshold)
	assert.False(t, f.IsLeaf(n))

	leaf, err := f.Node(2, 2)
	require.NoError(t, err)
	assert.True(t, f.IsLeaf(leaf))

	_, err = f.Node(2, 7)
	assert.True(t, errors.Is(err, ErrNodeNotFound))
	_, err = f.Node(9, 0)
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}

func TestForestIsImmutable(t *testing.T) {
	t.Parallel()
	f := buildForest(t, map[int][]Node{0: stump(1)}, 0)

	trees := f.Trees()
	trees[0] = nil
	assert.NotNil(t, f.Trees()[0])

	tree, err := f.Tree(0)
	require.NoError(t, err)
	nodes := tree.Nodes()
	nodes[0].Threshold = 42
	root, ok := tree.Root()
	require.True(t, ok)
	assert.Equal(t, 1.0, root.Threshold)
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	t.Parallel()
	b := NewBuilder()
	require.NoError(t, b.Add(0, NewLeaf(0, 1)))
	err := b.Add(0, NewLeaf(0, 0))
	assert.True(t, errors.Is(err, ErrInvalidNode))
	assert.Equal(t, 1, b.TreeLen(0))
}

func TestBuilderEmpty(t *testing.T) {
	t.Parallel()
	_, err := NewBuilder().Build()
	assert.Error(t, err)

	b := NewBuilder()
	b.AddTree(3)
	_, err = b.Build()
	assert.Error(t, err)
}

func TestTreeValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		nodes   []Node
		wantErr error
	}{
		{"valid stump", stump(1), nil},
		{"single leaf", []Node{NewLeaf(0, 1)}, nil},
		{"missing root", []Node{NewLeaf(1, 1)}, ErrNodeNotFound},
		{
			name: "dangling child",
			nodes: []Node{
				NewSplit(0, DataLength, 4, 1, 5),
				NewLeaf(1, 0),
			},
			wantErr: ErrCorruptTree,
		},
		{
			name: "cycle",
			nodes: []Node{
				NewSplit(0, DataLength, 4, 1, 2),
				NewSplit(1, DataLength, 2, 2, 3),
				NewSplit(2, DataLength, 1, 1, 3),
				NewLeaf(3, 0),
			},
			wantErr: ErrCycleDetected,
		},
		{
			name: "back edge to root",
			nodes: []Node{
				NewSplit(0, DataLength, 4, 1, 2),
				NewSplit(1, DataLength, 2, 0, 2),
				NewLeaf(2, 0),
			},
			wantErr: ErrCycleDetected,
		},
		{
			name: "shared child",
			nodes: []Node{
				NewSplit(0, DataLength, 4, 1, 2),
				NewSplit(1, DataLength, 2, 3, 3),
				NewLeaf(2, 1),
				NewLeaf(3, 0),
			},
			wantErr: ErrInvalidNode,
		},
		{
			name: "unreachable",
			nodes: []Node{
				NewLeaf(0, 1),
				NewLeaf(1, 0),
			},
			wantErr: ErrInvalidNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := buildForest(t, map[int][]Node{0: tt.nodes}, 0)
			err := f.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestTreeDense(t *testing.T) {
	t.Parallel()
	f := buildForest(t, map[int][]Node{
		0: stump(1),
		1: {NewSplit(0, DataLength, 1, 2, 5), NewLeaf(5, 0), NewLeaf(2, 1)},
	}, 0, 1)
	trees := f.Trees()
	assert.True(t, trees[0].Dense())
	assert.False(t, trees[1].Dense())
}

func TestForestSubset(t *testing.T) {
	t.Parallel()
	f := buildForest(t, map[int][]Node{0: stump(1), 1: stump(2), 2: stump(3)}, 0, 1, 2)
	sub, err := f.Subset([]int{2, 0})
	require.NoError(t, err)
	require.Equal(t, 2, sub.TreeCount())
	assert.Equal(t, 2, sub.Trees()[0].ID())

	_, err = f.Subset([]int{7})
	assert.Error(t, err)
}

func TestParseFeature(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Feature
	}{
		{"arbitration_id", ArbitrationID},
		{"A_ID", ArbitrationID},
		{"01", InterArrivalTime},
		{"T_A", InterArrivalTime},
		{"D_E", DataEntropy},
		{"10", DataEntropy},
		{"DLS", DataLength},
		{"11", DataLength},
		{"N/A", Leaf},
		{"", Leaf},
		{"-2", Leaf},
		{" FF ", Leaf},
	}
	for _, tt := range tests {
		got, err := ParseFeature(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseFeature("payload")
	assert.True(t, errors.Is(err, ErrUnknownFeatureCode))
}

func TestFeatureVectorValue(t *testing.T) {
	t.Parallel()
	v := FeatureVector{ArbitrationID: 0x191, InterArrivalTime: 0.5, DataEntropy: 3, DataLength: 8}

	for f, want := range map[Feature]float64{
		ArbitrationID:    401,
		InterArrivalTime: 0.5,
		DataEntropy:      3,
		DataLength:       8,
	} {
		got, err := v.Value(f)
		require.NoError(t, err)
		assert.Equal(t, want, got, f.String())
	}

	_, err := v.Value(Leaf)
	assert.True(t, errors.Is(err, ErrUnknownFeatureCode))
}
