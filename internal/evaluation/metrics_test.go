package evaluation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfusionMatrix(t *testing.T) {
	truth := []int{0, 0, 0, 1, 1, 2}
	predictions := []int{0, 1, 0, 1, 1, 0}

	matrix := BuildConfusionMatrix(truth, predictions, 3)

	assert.Equal(t, [][]int{
		{2, 1, 0},
		{0, 2, 0},
		{1, 0, 0},
	}, matrix)

	// Row sums equal the number of true instances per class.
	for class, row := range matrix {
		sum := 0
		for _, count := range row {
			sum += count
		}
		want := 0
		for _, tc := range truth {
			if tc == class {
				want++
			}
		}
		assert.Equal(t, want, sum)
	}
}

func TestAccuracy(t *testing.T) {
	matrix := [][]int{
		{18, 2},
		{1, 19},
	}
	assert.InDelta(t, 37.0/40.0, Accuracy(matrix), 1e-9)
	assert.Equal(t, 0.0, Accuracy([][]int{{0, 0}, {0, 0}}))
}

func TestMacroScores(t *testing.T) {
	// Perfect prediction yields 1.0 across the board.
	perfect := [][]int{
		{10, 0},
		{0, 10},
	}
	assert.Equal(t, 1.0, MacroPrecision(perfect))
	assert.Equal(t, 1.0, MacroRecall(perfect))

	matrix := [][]int{
		{8, 2},
		{4, 6},
	}
	// Precision: class0 8/12, class1 6/8; recall: class0 8/10, class1 6/10.
	wantPrecision := (8.0/12.0 + 6.0/8.0) / 2.0
	wantRecall := (0.8 + 0.6) / 2.0
	assert.InDelta(t, wantPrecision, MacroPrecision(matrix), 1e-9)
	assert.InDelta(t, wantRecall, MacroRecall(matrix), 1e-9)
}

func TestMacroPrecisionSkipsUnpredictedClasses(t *testing.T) {
	// Class 1 never predicted: its precision is undefined and must not
	// drag the average to zero.
	matrix := [][]int{
		{5, 0},
		{5, 0},
	}
	assert.InDelta(t, 0.5, MacroPrecision(matrix), 1e-9)
}

func TestROCCurveSweep(t *testing.T) {
	scores := []float64{0.9, 0.8, 0.8, 0.3}
	truth := []int{1, 1, 0, 0}

	points := ROCCurve(scores, truth)
	require.Len(t, points, 3)

	assert.Equal(t, 0.9, points[0].Threshold)
	assert.InDelta(t, 0.5, points[0].TPR, 1e-9)
	assert.InDelta(t, 0.0, points[0].FPR, 1e-9)

	// The tied 0.8 scores collapse into a single threshold point.
	assert.Equal(t, 0.8, points[1].Threshold)
	assert.InDelta(t, 1.0, points[1].TPR, 1e-9)
	assert.InDelta(t, 0.5, points[1].FPR, 1e-9)

	assert.Equal(t, 0.3, points[2].Threshold)
	assert.InDelta(t, 1.0, points[2].TPR, 1e-9)
	assert.InDelta(t, 1.0, points[2].FPR, 1e-9)
}

func TestROCCurveRequiresBothClasses(t *testing.T) {
	assert.Nil(t, ROCCurve([]float64{0.5, 0.6}, []int{1, 1}))
	assert.Nil(t, ROCCurve([]float64{0.5, 0.6}, []int{0, 0}))
}

func TestPRCurveSweep(t *testing.T) {
	scores := []float64{0.9, 0.7, 0.4, 0.2}
	truth := []int{1, 0, 1, 0}

	points := PRCurve(scores, truth)
	require.Len(t, points, 4)

	assert.InDelta(t, 1.0, points[0].Precision, 1e-9)
	assert.InDelta(t, 0.5, points[0].Recall, 1e-9)

	assert.InDelta(t, 0.5, points[1].Precision, 1e-9)
	assert.InDelta(t, 0.5, points[1].Recall, 1e-9)

	assert.InDelta(t, 2.0/3.0, points[2].Precision, 1e-9)
	assert.InDelta(t, 1.0, points[2].Recall, 1e-9)

	assert.InDelta(t, 0.5, points[3].Precision, 1e-9)
	assert.InDelta(t, 1.0, points[3].Recall, 1e-9)
}

func TestEvaluateBinary(t *testing.T) {
	truth := []int{0, 0, 1, 1}
	predictions := []int{0, 1, 1, 1}
	probas := [][]float64{
		{0.9, 0.1},
		{0.4, 0.6},
		{0.2, 0.8},
		{0.3, 0.7},
	}

	metrics, err := Evaluate(truth, predictions, probas, []string{"no", "yes"})
	require.NoError(t, err)

	assert.InDelta(t, 0.75, metrics.Accuracy, 1e-9)
	assert.Equal(t, [][]int{{1, 1}, {0, 2}}, metrics.ConfusionMatrix)
	assert.Equal(t, []string{"no", "yes"}, metrics.ClassLabels)
	assert.NotEmpty(t, metrics.ROCCurve)
	assert.NotEmpty(t, metrics.PRCurve)
	assert.Greater(t, metrics.F1, 0.0)
}

func TestEvaluateMulticlassOmitsCurves(t *testing.T) {
	truth := []int{0, 1, 2}
	predictions := []int{0, 1, 2}
	probas := [][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}

	metrics, err := Evaluate(truth, predictions, probas, []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, metrics.Accuracy)
	assert.Nil(t, metrics.ROCCurve)
	assert.Nil(t, metrics.PRCurve)
	require.Len(t, metrics.ConfusionMatrix, 3)
	for _, row := range metrics.ConfusionMatrix {
		assert.Len(t, row, 3)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	_, err := Evaluate(nil, nil, nil, []string{"a", "b"})
	assert.Error(t, err)

	_, err = Evaluate([]int{0, 1}, []int{0}, nil, []string{"a", "b"})
	assert.Error(t, err)
}
