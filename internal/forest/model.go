package forest

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/exchron/exchron-engine/internal/core/models"
)

// ErrEmptyModel rejects prediction on an ensemble with zero trees, the
// legitimate outcome of cancelling before the first tree boundary.
var ErrEmptyModel = models.NewValidationError("model has no trees")

// Model is the trained forest artifact. It is immutable once Fit
// returns; a retrain always builds a fresh model so references held by
// consumers stay valid.
type Model struct {
	Trees        []Tree                `json:"trees"`
	FeatureNames []string              `json:"feature_names"`
	Classes      []string              `json:"classes"`
	Config       models.TrainingConfig `json:"config"`
	TrainingTime time.Duration         `json:"training_time"`
}

func (m *Model) NumTrees() int {
	return len(m.Trees)
}

func (m *Model) check(x *mat.Dense) error {
	if len(m.Trees) == 0 {
		return ErrEmptyModel
	}
	_, cols := x.Dims()
	if cols != len(m.FeatureNames) {
		return models.NewValidationError("expected %d feature columns, got %d", len(m.FeatureNames), cols)
	}
	return nil
}

// Predict returns the majority-vote class index for every row. Each tree
// votes with its leaf class; ties go to the first class index reaching
// the maximum vote count, the same policy leaves use.
func (m *Model) Predict(x *mat.Dense) ([]int, error) {
	if err := m.check(x); err != nil {
		return nil, err
	}

	rows, cols := x.Dims()
	predictions := make([]int, rows)
	row := make([]float64, cols)
	votes := make([]int, len(m.Classes))

	for i := 0; i < rows; i++ {
		mat.Row(row, i, x)
		for c := range votes {
			votes[c] = 0
		}
		for t := range m.Trees {
			votes[m.Trees[t].PredictRow(row).Class]++
		}

		best := 0
		maxVotes := 0
		for class, count := range votes {
			if count > maxVotes {
				maxVotes = count
				best = class
			}
		}
		predictions[i] = best
	}

	return predictions, nil
}

// PredictProba returns one probability row per sample over the global
// class order. The distribution sums the leaf class counts of every
// tree and normalizes by the summed total, a richer signal than
// one-hot-encoding the majority votes.
func (m *Model) PredictProba(x *mat.Dense) ([][]float64, error) {
	if err := m.check(x); err != nil {
		return nil, err
	}

	rows, cols := x.Dims()
	probabilities := make([][]float64, rows)
	row := make([]float64, cols)

	for i := 0; i < rows; i++ {
		mat.Row(row, i, x)
		counts := make([]float64, len(m.Classes))
		total := 0.0
		for t := range m.Trees {
			leaf := m.Trees[t].PredictRow(row)
			for class, count := range leaf.Counts {
				counts[class] += float64(count)
				total += float64(count)
			}
		}
		if total > 0 {
			for class := range counts {
				counts[class] /= total
			}
		}
		probabilities[i] = counts
	}

	return probabilities, nil
}

// FeatureImportance counts one occurrence per internal split node for
// the feature it splits on, mapped back to the global column, and
// normalizes the counts to sum to 1. Features never used by any split
// keep importance 0; when every tree is a single leaf all importances
// are 0.
func (m *Model) FeatureImportance() map[string]float64 {
	counts := make([]float64, len(m.FeatureNames))
	total := 0.0

	for t := range m.Trees {
		tree := &m.Trees[t]
		for n := range tree.Nodes {
			node := &tree.Nodes[n]
			if node.Leaf {
				continue
			}
			counts[tree.Features[node.Feature]]++
			total++
		}
	}

	importance := make(map[string]float64, len(m.FeatureNames))
	for i, name := range m.FeatureNames {
		if total > 0 {
			importance[name] = counts[i] / total
		} else {
			importance[name] = 0
		}
	}
	return importance
}
