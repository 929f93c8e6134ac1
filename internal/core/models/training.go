package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

type ModelKind string

const (
	ModelKindRandomForest  ModelKind = "random_forest"
	ModelKindNeuralNetwork ModelKind = "neural_network"
)

type ImputeStrategy string

const (
	ImputeDrop ImputeStrategy = "drop"
	ImputeMean ImputeStrategy = "mean"
	ImputeMode ImputeStrategy = "mode"
)

type MaxFeaturesMode string

const (
	MaxFeaturesAll   MaxFeaturesMode = "all"
	MaxFeaturesSqrt  MaxFeaturesMode = "sqrt"
	MaxFeaturesLog2  MaxFeaturesMode = "log2"
	MaxFeaturesFixed MaxFeaturesMode = "fixed"
)

// MaxFeatures is the per-tree feature subsample size. On the wire it is
// either the string "sqrt"/"log2", a fixed integer, or absent for all
// features; internally it is carried as a tagged value so it is validated
// once at construction instead of re-interpreted at every use.
type MaxFeatures struct {
	Mode  MaxFeaturesMode
	Count int
}

func (m MaxFeatures) Validate() error {
	switch m.Mode {
	case "", MaxFeaturesAll, MaxFeaturesSqrt, MaxFeaturesLog2:
		return nil
	case MaxFeaturesFixed:
		if m.Count <= 0 {
			return NewValidationError("max_features must be greater than zero, got %d", m.Count)
		}
		return nil
	default:
		return NewValidationError("unsupported max_features mode %q", m.Mode)
	}
}

// Resolve returns the number of features to sample for a tree given the
// total feature count. The result is floored for sqrt/log2, capped at
// numFeatures for fixed counts, and never below 1.
func (m MaxFeatures) Resolve(numFeatures int) int {
	if numFeatures <= 0 {
		return 0
	}
	var n int
	switch m.Mode {
	case MaxFeaturesSqrt:
		n = int(math.Sqrt(float64(numFeatures)))
	case MaxFeaturesLog2:
		n = int(math.Log2(float64(numFeatures)))
	case MaxFeaturesFixed:
		n = m.Count
	default:
		n = numFeatures
	}
	if n < 1 {
		n = 1
	}
	if n > numFeatures {
		n = numFeatures
	}
	return n
}

func (m MaxFeatures) MarshalJSON() ([]byte, error) {
	switch m.Mode {
	case MaxFeaturesSqrt, MaxFeaturesLog2:
		return json.Marshal(string(m.Mode))
	case MaxFeaturesFixed:
		return json.Marshal(m.Count)
	default:
		return json.Marshal(nil)
	}
}

func (m *MaxFeatures) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case string(MaxFeaturesSqrt):
			*m = MaxFeatures{Mode: MaxFeaturesSqrt}
		case string(MaxFeaturesLog2):
			*m = MaxFeatures{Mode: MaxFeaturesLog2}
		case "", string(MaxFeaturesAll):
			*m = MaxFeatures{Mode: MaxFeaturesAll}
		default:
			n, convErr := strconv.Atoi(s)
			if convErr != nil {
				return fmt.Errorf("unsupported max_features value %q", s)
			}
			*m = MaxFeatures{Mode: MaxFeaturesFixed, Count: n}
		}
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*m = MaxFeatures{Mode: MaxFeaturesFixed, Count: n}
		return nil
	}

	var null interface{}
	if err := json.Unmarshal(data, &null); err == nil && null == nil {
		*m = MaxFeatures{Mode: MaxFeaturesAll}
		return nil
	}

	return errors.New("max_features must be \"sqrt\", \"log2\", or an integer")
}

// TrainingConfig holds everything a training run needs beyond the dataset
// itself: the model kind, the column selection, and the hyperparameters.
type TrainingConfig struct {
	ModelKind        ModelKind      `json:"model_kind"`
	TargetColumn     string         `json:"target_column"`
	SelectedFeatures []string       `json:"selected_features"`
	NEstimators      int            `json:"n_estimators"`
	MaxDepth         int            `json:"max_depth"`
	MinSamplesSplit  int            `json:"min_samples_split"`
	MinSamplesLeaf   int            `json:"min_samples_leaf"`
	MaxFeatures      MaxFeatures    `json:"max_features"`
	Bootstrap        bool           `json:"bootstrap"`
	RandomState      *int64         `json:"random_state,omitempty"`
	TrainSplit       float64        `json:"train_split"`
	ImputeStrategy   ImputeStrategy `json:"impute_strategy"`
	Normalize        bool           `json:"normalize"`
	LearningRate     float64        `json:"learning_rate,omitempty"`
}

// ApplyDefaults fills unset hyperparameters with the engine defaults.
func (c *TrainingConfig) ApplyDefaults() {
	if c.ModelKind == "" {
		c.ModelKind = ModelKindRandomForest
	}
	if c.NEstimators == 0 {
		c.NEstimators = 100
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 10
	}
	if c.MinSamplesSplit == 0 {
		c.MinSamplesSplit = 2
	}
	if c.MinSamplesLeaf == 0 {
		c.MinSamplesLeaf = 1
	}
	if c.MaxFeatures.Mode == "" {
		c.MaxFeatures = MaxFeatures{Mode: MaxFeaturesSqrt}
	}
	if c.TrainSplit == 0 {
		c.TrainSplit = 0.8
	}
	if c.ImputeStrategy == "" {
		c.ImputeStrategy = ImputeMean
	}
}

// Validate checks hyperparameter bounds. Dataset-dependent checks (target
// and feature columns actually present) happen when a session starts.
func (c *TrainingConfig) Validate() error {
	if c.TargetColumn == "" {
		return NewValidationError("target column is required")
	}
	if len(c.SelectedFeatures) == 0 {
		return NewValidationError("at least one feature column is required")
	}
	if c.NEstimators <= 0 {
		return NewValidationError("n_estimators must be greater than zero, got %d", c.NEstimators)
	}
	if c.MaxDepth < 0 {
		return NewValidationError("max_depth must not be negative, got %d", c.MaxDepth)
	}
	if c.MinSamplesSplit < 2 {
		return NewValidationError("min_samples_split must be at least 2, got %d", c.MinSamplesSplit)
	}
	if c.MinSamplesLeaf < 1 {
		return NewValidationError("min_samples_leaf must be at least 1, got %d", c.MinSamplesLeaf)
	}
	if err := c.MaxFeatures.Validate(); err != nil {
		return err
	}
	if c.TrainSplit <= 0 || c.TrainSplit >= 1 {
		return NewValidationError("train_split must be inside (0,1), got %g", c.TrainSplit)
	}
	switch c.ImputeStrategy {
	case ImputeDrop, ImputeMean, ImputeMode:
	default:
		return NewValidationError("unsupported impute strategy %q", c.ImputeStrategy)
	}
	if c.ModelKind == ModelKindNeuralNetwork {
		if c.LearningRate <= 0 || c.LearningRate > 1 {
			return NewValidationError("learning_rate must be inside (0,1], got %g", c.LearningRate)
		}
	}
	return nil
}
