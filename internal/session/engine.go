package session

import (
	"context"
	"time"

	"github.com/exchron/exchron-engine/internal/core/models"
	"github.com/exchron/exchron-engine/internal/encoding"
	"github.com/exchron/exchron-engine/internal/forest"
)

// ProgressFunc receives one record per finished tree while a run is live.
type ProgressFunc func(progress models.TrainingProgress)

// Engine is a trainable backend driven by the session service. Prepare
// encodes the raw dataset once per run; Train fits on the training
// partition and reports per-tree progress. Cancelling the context makes
// Train stop after the tree in flight and return the partial model.
type Engine interface {
	Prepare(dataset *models.Dataset, cfg models.TrainingConfig) (*encoding.Prepared, error)
	Train(ctx context.Context, prepared *encoding.Prepared, onProgress ProgressFunc) (*forest.Model, error)
}

// NewEngine selects the backend for the configured model kind. Neural
// network runs are served by the external backend and rejected here.
func NewEngine(cfg models.TrainingConfig) (Engine, error) {
	switch cfg.ModelKind {
	case models.ModelKindRandomForest:
		return newForestEngine(cfg), nil
	case models.ModelKindNeuralNetwork:
		return nil, models.NewValidationError("model kind %q is delegated to the external backend", cfg.ModelKind)
	default:
		return nil, models.NewValidationError("unsupported model kind: %s", cfg.ModelKind)
	}
}

type forestEngine struct {
	trainer *forest.Trainer
}

func newForestEngine(cfg models.TrainingConfig) *forestEngine {
	return &forestEngine{trainer: forest.NewTrainer(cfg)}
}

// Prepare shares the trainer's RNG with the encoder so a seeded run is
// reproducible end to end, split included.
func (e *forestEngine) Prepare(dataset *models.Dataset, cfg models.TrainingConfig) (*encoding.Prepared, error) {
	return encoding.Prepare(dataset, cfg, e.trainer.Rand())
}

func (e *forestEngine) Train(ctx context.Context, prepared *encoding.Prepared, onProgress ProgressFunc) (*forest.Model, error) {
	trainX, trainY := encoding.Subset(prepared.Matrix, prepared.Labels, prepared.TrainIndices)

	started := time.Now()
	return e.trainer.Fit(ctx, trainX, trainY, prepared.Info.FeatureNames(), prepared.Info.Classes,
		func(treeIndex int, oobScore *float64) {
			if onProgress == nil {
				return
			}
			onProgress(models.TrainingProgress{
				TreeIndex: treeIndex,
				OOBScore:  oobScore,
				Completed: true,
				Elapsed:   time.Since(started),
				Timestamp: time.Now(),
			})
		})
}
