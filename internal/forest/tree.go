package forest

import (
	"gonum.org/v1/gonum/mat"
)

// Node is one slot in a tree's node arena. Internal nodes carry a split
// over the tree's local feature subset and the ids of their children;
// leaves carry the majority class and the full class-count distribution
// observed at the leaf. Child ids of -1 mark a leaf.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      bool    `json:"leaf"`
	Class     int     `json:"class"`
	Counts    []int   `json:"counts,omitempty"`
	Samples   int     `json:"samples"`
}

// Tree is one fitted member of the ensemble: a node arena with the root
// at id 0, the subset of global feature columns the tree was trained on,
// and the out-of-bag row indices left over from its bootstrap sample.
// A tree is immutable once built.
type Tree struct {
	Nodes    []Node   `json:"nodes"`
	Features []int    `json:"features"`
	OOB      []int    `json:"oob,omitempty"`
	OOBScore *float64 `json:"oob_score,omitempty"`
}

// PredictRow descends from the root and returns the leaf reached by a
// full-width feature vector. Node feature positions are local to the
// tree's subset, so each comparison maps through Features back to the
// global column.
func (t *Tree) PredictRow(row []float64) *Node {
	id := 0
	for !t.Nodes[id].Leaf {
		node := &t.Nodes[id]
		if row[t.Features[node.Feature]] <= node.Threshold {
			id = node.Left
		} else {
			id = node.Right
		}
	}
	return &t.Nodes[id]
}

type treeBuilder struct {
	x               *mat.Dense
	y               []int
	features        []int
	numClasses      int
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	nodes           []Node
}

// build grows a subtree over the given sample rows and returns the arena
// id of its root. Stopping rules, in order: depth limit reached, too few
// samples to split, pure node, no usable split or a split that would
// leave a child below the leaf minimum.
func (b *treeBuilder) build(samples []int, depth int) int {
	if depth >= b.maxDepth || len(samples) < b.minSamplesSplit || b.isPure(samples) {
		return b.appendLeaf(samples)
	}

	split := findBestSplit(b.x, b.y, samples, b.features, b.numClasses)
	if split == nil {
		return b.appendLeaf(samples)
	}

	left, right := partition(b.x, samples, b.features[split.Feature], split.Threshold)
	if len(left) < b.minSamplesLeaf || len(right) < b.minSamplesLeaf {
		return b.appendLeaf(samples)
	}

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:   split.Feature,
		Threshold: split.Threshold,
		Left:      -1,
		Right:     -1,
		Samples:   len(samples),
	})

	leftID := b.build(left, depth+1)
	rightID := b.build(right, depth+1)
	b.nodes[id].Left = leftID
	b.nodes[id].Right = rightID

	return id
}

// appendLeaf stores a leaf holding the class counts of the samples and
// the majority class, ties resolved by the first class index to reach
// the maximum count.
func (b *treeBuilder) appendLeaf(samples []int) int {
	counts := make([]int, b.numClasses)
	for _, s := range samples {
		counts[b.y[s]]++
	}

	majority := 0
	maxCount := 0
	for class, count := range counts {
		if count > maxCount {
			maxCount = count
			majority = class
		}
	}

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature: -1,
		Left:    -1,
		Right:   -1,
		Leaf:    true,
		Class:   majority,
		Counts:  counts,
		Samples: len(samples),
	})
	return id
}

func (b *treeBuilder) isPure(samples []int) bool {
	if len(samples) == 0 {
		return true
	}
	first := b.y[samples[0]]
	for _, s := range samples[1:] {
		if b.y[s] != first {
			return false
		}
	}
	return true
}
