package forest

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/exchron/exchron-engine/internal/core/models"
	"github.com/exchron/exchron-engine/pkg/logger"
)

var (
	ErrNoSamples  = errors.New("training matrix has no samples")
	ErrNoFeatures = errors.New("training matrix has no features")
	ErrLabelShape = errors.New("label vector length does not match sample count")
)

// TreeCompleteFunc is invoked synchronously after each tree finishes,
// with the tree index and that tree's out-of-bag accuracy (nil when the
// tree had no out-of-bag rows).
type TreeCompleteFunc func(treeIndex int, oobScore *float64)

// Trainer grows a bootstrap-aggregated ensemble of decision trees one
// tree at a time. Trees are built strictly sequentially; the context is
// consulted at each tree boundary, never mid-tree, so cancellation takes
// effect after the in-flight tree finishes.
type Trainer struct {
	cfg models.TrainingConfig
	rng *rand.Rand
}

// NewTrainer seeds the run RNG from the configured random state when one
// is set, otherwise from the clock.
func NewTrainer(cfg models.TrainingConfig) *Trainer {
	seed := time.Now().UnixNano()
	if cfg.RandomState != nil {
		seed = *cfg.RandomState
	}
	return &Trainer{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Rand exposes the run RNG so the caller can reuse the same seeded
// stream for the train/validation shuffle.
func (t *Trainer) Rand() *rand.Rand {
	return t.rng
}

// Fit trains up to NEstimators trees on x/y and returns the fitted
// model. When the context is cancelled mid-run the partial ensemble
// built so far is returned without error; a smaller forest is a valid
// result, not a failure. The model may even hold zero trees if
// cancellation lands before the first boundary, in which case its
// predict methods reject it.
func (t *Trainer) Fit(ctx context.Context, x *mat.Dense, y []int, featureNames, classes []string, onTreeComplete TreeCompleteFunc) (*Model, error) {
	numSamples, numFeatures := x.Dims()
	if numSamples == 0 {
		return nil, ErrNoSamples
	}
	if numFeatures == 0 {
		return nil, ErrNoFeatures
	}
	if len(y) != numSamples {
		return nil, ErrLabelShape
	}

	log := logger.WithComponent("forest")
	maxFeatures := t.cfg.MaxFeatures.Resolve(numFeatures)
	numClasses := len(classes)
	started := time.Now()

	log.Debug().
		Int("samples", numSamples).
		Int("features", numFeatures).
		Int("max_features", maxFeatures).
		Int("n_estimators", t.cfg.NEstimators).
		Msg("Starting forest training")

	trees := make([]Tree, 0, t.cfg.NEstimators)
	row := make([]float64, numFeatures)

	for i := 0; i < t.cfg.NEstimators; i++ {
		select {
		case <-ctx.Done():
			log.Info().
				Int("trees_built", len(trees)).
				Int("n_estimators", t.cfg.NEstimators).
				Msg("Training cancelled, returning partial ensemble")
			return t.assemble(trees, featureNames, classes, started), nil
		default:
		}

		sample, oob := t.bootstrap(numSamples)
		subset := t.sampleFeatures(numFeatures, maxFeatures)

		builder := &treeBuilder{
			x:               x,
			y:               y,
			features:        subset,
			numClasses:      numClasses,
			maxDepth:        t.cfg.MaxDepth,
			minSamplesSplit: t.cfg.MinSamplesSplit,
			minSamplesLeaf:  t.cfg.MinSamplesLeaf,
		}
		builder.build(sample, 0)

		tree := Tree{
			Nodes:    builder.nodes,
			Features: subset,
			OOB:      oob,
		}
		tree.OOBScore = t.scoreOOB(&tree, x, y, row)
		trees = append(trees, tree)

		if onTreeComplete != nil {
			onTreeComplete(i, tree.OOBScore)
		}
	}

	model := t.assemble(trees, featureNames, classes, started)
	log.Info().
		Int("trees_built", len(trees)).
		Dur("duration", time.Since(started)).
		Msg("Forest training completed")
	return model, nil
}

func (t *Trainer) assemble(trees []Tree, featureNames, classes []string, started time.Time) *Model {
	return &Model{
		Trees:        trees,
		FeatureNames: featureNames,
		Classes:      classes,
		Config:       t.cfg,
		TrainingTime: time.Since(started),
	}
}

// bootstrap draws n row indices with replacement and collects the rows
// never drawn as the out-of-bag set. Without bootstrapping every tree
// sees all rows identically and no out-of-bag set exists.
func (t *Trainer) bootstrap(n int) (sample []int, oob []int) {
	sample = make([]int, n)
	if !t.cfg.Bootstrap {
		for i := range sample {
			sample[i] = i
		}
		return sample, nil
	}

	drawn := make([]bool, n)
	for i := range sample {
		idx := t.rng.Intn(n)
		sample[i] = idx
		drawn[idx] = true
	}
	for i := 0; i < n; i++ {
		if !drawn[i] {
			oob = append(oob, i)
		}
	}
	return sample, oob
}

// sampleFeatures picks maxFeatures distinct column indices uniformly
// without replacement, returned in ascending order.
func (t *Trainer) sampleFeatures(numFeatures, maxFeatures int) []int {
	subset := append([]int(nil), t.rng.Perm(numFeatures)[:maxFeatures]...)
	sort.Ints(subset)
	return subset
}

// scoreOOB returns this tree's accuracy over its own out-of-bag rows,
// or nil when the out-of-bag set is empty.
func (t *Trainer) scoreOOB(tree *Tree, x *mat.Dense, y []int, row []float64) *float64 {
	if len(tree.OOB) == 0 {
		return nil
	}

	correct := 0
	for _, idx := range tree.OOB {
		mat.Row(row, idx, x)
		if tree.PredictRow(row).Class == y[idx] {
			correct++
		}
	}
	score := float64(correct) / float64(len(tree.OOB))
	return &score
}
