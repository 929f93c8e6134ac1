package forest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTestBuilder(x *mat.Dense, y []int, features []int, numClasses int) *treeBuilder {
	return &treeBuilder{
		x:               x,
		y:               y,
		features:        features,
		numClasses:      numClasses,
		maxDepth:        10,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
}

func leafSampleSum(nodes []Node) int {
	sum := 0
	for _, n := range nodes {
		if n.Leaf {
			sum += n.Samples
		}
	}
	return sum
}

func TestBuildPureNodeIsLeaf(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := []int{1, 1, 1}

	b := newTestBuilder(x, y, []int{0}, 2)
	root := b.build([]int{0, 1, 2}, 0)

	require.Len(t, b.nodes, 1)
	node := b.nodes[root]
	assert.True(t, node.Leaf)
	assert.Equal(t, 1, node.Class)
	assert.Equal(t, []int{0, 3}, node.Counts)
	assert.Equal(t, 3, node.Samples)
}

func TestBuildSeparableTree(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 2, 8, 9})
	y := []int{0, 0, 1, 1}

	b := newTestBuilder(x, y, []int{0}, 2)
	root := b.build([]int{0, 1, 2, 3}, 0)

	node := b.nodes[root]
	require.False(t, node.Leaf)
	assert.Equal(t, 0, node.Feature)
	assert.Equal(t, 5.0, node.Threshold)

	left := b.nodes[node.Left]
	right := b.nodes[node.Right]
	assert.True(t, left.Leaf)
	assert.True(t, right.Leaf)
	assert.Equal(t, 0, left.Class)
	assert.Equal(t, 1, right.Class)
}

func TestBuildRespectsMaxDepth(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := []int{0, 1, 0, 1}

	b := newTestBuilder(x, y, []int{0}, 2)
	b.maxDepth = 0
	root := b.build([]int{0, 1, 2, 3}, 0)

	require.Len(t, b.nodes, 1)
	assert.True(t, b.nodes[root].Leaf)
}

func TestBuildRespectsMinSamplesSplit(t *testing.T) {
	x := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := []int{0, 1, 0}

	b := newTestBuilder(x, y, []int{0}, 2)
	b.minSamplesSplit = 4
	root := b.build([]int{0, 1, 2}, 0)

	assert.True(t, b.nodes[root].Leaf)
}

func TestBuildRespectsMinSamplesLeaf(t *testing.T) {
	// The best split separates row 0 perfectly but strands it alone, so
	// the node must stay a leaf instead.
	x := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	y := []int{0, 1, 1, 1}

	b := newTestBuilder(x, y, []int{0}, 2)
	b.minSamplesLeaf = 2
	root := b.build([]int{0, 1, 2, 3}, 0)

	node := b.nodes[root]
	require.True(t, node.Leaf)
	assert.Equal(t, 1, node.Class)
}

func TestLeafTieBreakFirstClass(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	// Tied counts between classes 0 and 1; the first to reach the max wins.
	y := []int{1, 0, 1, 0}

	b := newTestBuilder(x, y, []int{0}, 2)
	root := b.build([]int{0, 1, 2, 3}, 0)

	node := b.nodes[root]
	require.True(t, node.Leaf)
	assert.Equal(t, 0, node.Class)
	assert.Equal(t, []int{2, 2}, node.Counts)
}

func TestLeafSampleCountsSumToInput(t *testing.T) {
	x := mat.NewDense(8, 2, []float64{
		1, 5,
		2, 4,
		3, 9,
		4, 2,
		5, 7,
		6, 1,
		7, 8,
		8, 3,
	})
	y := []int{0, 0, 1, 0, 1, 0, 1, 1}
	samples := []int{0, 1, 2, 3, 4, 5, 6, 7}

	b := newTestBuilder(x, y, []int{0, 1}, 2)
	b.build(samples, 0)

	assert.Equal(t, len(samples), leafSampleSum(b.nodes))
}

func TestPredictRowMapsGlobalColumns(t *testing.T) {
	// Tree trained on global column 2 only; PredictRow must read index 2
	// of the full-width row even though the node stores local position 0.
	x := mat.NewDense(4, 3, []float64{
		0, 0, 1,
		0, 0, 2,
		0, 0, 8,
		0, 0, 9,
	})
	y := []int{0, 0, 1, 1}

	b := newTestBuilder(x, y, []int{2}, 2)
	b.build([]int{0, 1, 2, 3}, 0)
	tree := &Tree{Nodes: b.nodes, Features: []int{2}}

	assert.Equal(t, 0, tree.PredictRow([]float64{99, 99, 1.5}).Class)
	assert.Equal(t, 1, tree.PredictRow([]float64{-5, 42, 8.5}).Class)
}
