package forest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/exchron/exchron-engine/internal/core/models"
)

// separableData builds n rows over the given feature count with two
// cleanly separated classes, deterministic so runs are repeatable.
func separableData(n, features int) (*mat.Dense, []int) {
	data := make([]float64, n*features)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		class := i % 2
		labels[i] = class
		base := float64(class) * 6.0
		for j := 0; j < features; j++ {
			jitter := float64((i*7+j*3)%10) * 0.2
			data[i*features+j] = base + jitter
		}
	}
	return mat.NewDense(n, features, data), labels
}

func featureNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = string(rune('a' + i))
	}
	return names
}

func testConfig(nEstimators int) models.TrainingConfig {
	seed := int64(7)
	return models.TrainingConfig{
		ModelKind:        models.ModelKindRandomForest,
		TargetColumn:     "label",
		SelectedFeatures: featureNames(5),
		NEstimators:      nEstimators,
		MaxDepth:         5,
		MinSamplesSplit:  2,
		MinSamplesLeaf:   1,
		MaxFeatures:      models.MaxFeatures{Mode: models.MaxFeaturesSqrt},
		Bootstrap:        true,
		RandomState:      &seed,
		TrainSplit:       0.8,
		ImputeStrategy:   models.ImputeMean,
	}
}

func TestFitBuildsConfiguredTrees(t *testing.T) {
	x, y := separableData(100, 5)

	var seen []int
	trainer := NewTrainer(testConfig(10))
	model, err := trainer.Fit(context.Background(), x, y, featureNames(5), []string{"no", "yes"}, func(i int, score *float64) {
		seen = append(seen, i)
	})
	require.NoError(t, err)

	assert.Equal(t, 10, model.NumTrees())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, seen)
	assert.Equal(t, []string{"no", "yes"}, model.Classes)
}

func TestLeafSamplesSumToBootstrapSize(t *testing.T) {
	x, y := separableData(80, 3)

	trainer := NewTrainer(testConfig(5))
	model, err := trainer.Fit(context.Background(), x, y, featureNames(3), []string{"no", "yes"}, nil)
	require.NoError(t, err)

	for _, tree := range model.Trees {
		assert.Equal(t, 80, leafSampleSum(tree.Nodes))
	}
}

func TestPredictProbaRowsSumToOne(t *testing.T) {
	x, y := separableData(100, 5)

	trainer := NewTrainer(testConfig(10))
	model, err := trainer.Fit(context.Background(), x, y, featureNames(5), []string{"no", "yes"}, nil)
	require.NoError(t, err)

	probas, err := model.PredictProba(x)
	require.NoError(t, err)
	require.Len(t, probas, 100)

	for _, row := range probas {
		require.Len(t, row, 2)
		sum := row[0] + row[1]
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestOOBScoresWithinBounds(t *testing.T) {
	x, y := separableData(200, 5)

	var scores []*float64
	trainer := NewTrainer(testConfig(10))
	_, err := trainer.Fit(context.Background(), x, y, featureNames(5), []string{"no", "yes"}, func(i int, score *float64) {
		scores = append(scores, score)
	})
	require.NoError(t, err)

	require.Len(t, scores, 10)
	for _, score := range scores {
		require.NotNil(t, score)
		assert.GreaterOrEqual(t, *score, 0.0)
		assert.LessOrEqual(t, *score, 1.0)
	}
}

func TestBootstrapDisabledHasNoOOB(t *testing.T) {
	x, y := separableData(60, 3)

	cfg := testConfig(5)
	cfg.Bootstrap = false
	trainer := NewTrainer(cfg)
	model, err := trainer.Fit(context.Background(), x, y, featureNames(3), []string{"no", "yes"}, nil)
	require.NoError(t, err)

	for _, tree := range model.Trees {
		assert.Empty(t, tree.OOB)
		assert.Nil(t, tree.OOBScore)
	}
}

func TestHoldoutAccuracy(t *testing.T) {
	x, y := separableData(200, 5)

	train := x.Slice(0, 160, 0, 5).(*mat.Dense)
	holdout := x.Slice(160, 200, 0, 5).(*mat.Dense)

	cfg := testConfig(20)
	trainer := NewTrainer(cfg)
	model, err := trainer.Fit(context.Background(), train, y[:160], featureNames(5), []string{"no", "yes"}, nil)
	require.NoError(t, err)

	predictions, err := model.Predict(holdout)
	require.NoError(t, err)

	correct := 0
	for i, p := range predictions {
		if p == y[160+i] {
			correct++
		}
	}
	accuracy := float64(correct) / 40.0
	assert.GreaterOrEqual(t, accuracy, 0.5)
	assert.LessOrEqual(t, accuracy, 1.0)
}

func TestIdenticalLabelsGrowSingleLeafTrees(t *testing.T) {
	x, _ := separableData(50, 4)
	y := make([]int, 50)

	trainer := NewTrainer(testConfig(8))
	model, err := trainer.Fit(context.Background(), x, y, featureNames(4), []string{"only"}, nil)
	require.NoError(t, err)

	for _, tree := range model.Trees {
		require.Len(t, tree.Nodes, 1)
		assert.True(t, tree.Nodes[0].Leaf)
	}

	importance := model.FeatureImportance()
	for _, share := range importance {
		assert.Zero(t, share)
	}

	predictions, err := model.Predict(x)
	require.NoError(t, err)
	for _, p := range predictions {
		assert.Equal(t, 0, p)
	}
}

func TestCancelAfterThirdTree(t *testing.T) {
	x, y := separableData(100, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trainer := NewTrainer(testConfig(20))
	model, err := trainer.Fit(ctx, x, y, featureNames(5), []string{"no", "yes"}, func(i int, score *float64) {
		if i == 2 {
			cancel()
		}
	})
	require.NoError(t, err)

	assert.Equal(t, 3, model.NumTrees())

	predictions, err := model.Predict(x)
	require.NoError(t, err)
	assert.Len(t, predictions, 100)
}

func TestCancelBeforeFirstTreeYieldsEmptyModel(t *testing.T) {
	x, y := separableData(40, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trainer := NewTrainer(testConfig(10))
	model, err := trainer.Fit(ctx, x, y, featureNames(3), []string{"no", "yes"}, nil)
	require.NoError(t, err)
	assert.Zero(t, model.NumTrees())

	_, err = model.Predict(x)
	require.ErrorIs(t, err, ErrEmptyModel)
	assert.True(t, models.IsValidationError(err))

	_, err = model.PredictProba(x)
	assert.ErrorIs(t, err, ErrEmptyModel)
}

func TestSeededRunsAreReproducible(t *testing.T) {
	x, y := separableData(100, 5)

	first, err := NewTrainer(testConfig(10)).Fit(context.Background(), x, y, featureNames(5), []string{"no", "yes"}, nil)
	require.NoError(t, err)
	second, err := NewTrainer(testConfig(10)).Fit(context.Background(), x, y, featureNames(5), []string{"no", "yes"}, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Trees, second.Trees)

	firstProbas, err := first.PredictProba(x)
	require.NoError(t, err)
	secondProbas, err := second.PredictProba(x)
	require.NoError(t, err)
	assert.Equal(t, firstProbas, secondProbas)
}

func TestFeatureImportanceSumsToOne(t *testing.T) {
	x, y := separableData(100, 5)

	trainer := NewTrainer(testConfig(10))
	model, err := trainer.Fit(context.Background(), x, y, featureNames(5), []string{"no", "yes"}, nil)
	require.NoError(t, err)

	importance := model.FeatureImportance()
	require.Len(t, importance, 5)

	sum := 0.0
	for _, share := range importance {
		assert.GreaterOrEqual(t, share, 0.0)
		sum += share
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	x, y := separableData(40, 3)

	trainer := NewTrainer(testConfig(5))
	model, err := trainer.Fit(context.Background(), x, y, featureNames(3), []string{"no", "yes"}, nil)
	require.NoError(t, err)

	narrow := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	_, err = model.Predict(narrow)
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestFitRejectsMismatchedLabels(t *testing.T) {
	x, _ := separableData(10, 2)

	trainer := NewTrainer(testConfig(3))
	_, err := trainer.Fit(context.Background(), x, []int{0, 1}, featureNames(2), []string{"no", "yes"}, nil)
	assert.ErrorIs(t, err, ErrLabelShape)
}

func TestFitRejectsEmptyMatrix(t *testing.T) {
	trainer := NewTrainer(testConfig(3))
	_, err := trainer.Fit(context.Background(), &mat.Dense{}, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoSamples)
}
