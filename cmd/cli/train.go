package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/exchron/exchron-engine/internal/core/config"
	"github.com/exchron/exchron-engine/internal/core/models"
	"github.com/exchron/exchron-engine/internal/session"
	"github.com/exchron/exchron-engine/pkg/logger"
)

// RunTrain trains one model in-process and prints the evaluation metrics
// as JSON. The dataset file carries the columns and rows; the optional
// config file carries the hyperparameters. Features left unset default
// to every column except the target.
func RunTrain(datasetPath, configPath, target string) {
	log := logger.Get()

	cfg, err := config.GetConfigManager().GetConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	dataset, err := loadDataset(datasetPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", datasetPath).Msg("Failed to load dataset")
	}

	trainCfg, err := loadTrainingConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load training config")
	}
	if target != "" {
		trainCfg.TargetColumn = target
	}
	if len(trainCfg.SelectedFeatures) == 0 {
		for _, column := range dataset.Columns {
			if column != trainCfg.TargetColumn {
				trainCfg.SelectedFeatures = append(trainCfg.SelectedFeatures, column)
			}
		}
	}

	svc := session.NewService(nil, cfg.Training)
	sess, err := svc.Start(context.Background(), dataset, trainCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Training rejected")
	}

	log.Info().
		Str("session_id", sess.ID.String()).
		Int("rows", dataset.NumRows()).
		Int("features", len(trainCfg.SelectedFeatures)).
		Msg("Training started")

	progress, unsubscribe, err := svc.Subscribe(sess.ID.String())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to follow training progress")
	}
	defer unsubscribe()

	for p := range progress {
		event := log.Info().Int("tree", p.TreeIndex+1)
		if p.OOBScore != nil {
			event = event.Float64("oob_score", *p.OOBScore)
		}
		event.Msg("Tree trained")
	}

	final, err := svc.Get(sess.ID.String())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch finished session")
	}
	if final.Status != models.SessionStatusCompleted {
		log.Fatal().
			Str("status", string(final.Status)).
			Str("error", final.Error).
			Msg("Training did not complete")
	}

	for _, warning := range final.Warnings {
		log.Warn().Str("kind", string(warning.Kind)).Msg(warning.String())
	}

	out, err := json.MarshalIndent(final.Metrics, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode metrics")
	}
	fmt.Println(string(out))
}

func loadDataset(path string) (*models.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dataset models.Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("invalid dataset file: %w", err)
	}
	if err := dataset.Validate(); err != nil {
		return nil, err
	}
	return &dataset, nil
}

func loadTrainingConfig(path string) (models.TrainingConfig, error) {
	var cfg models.TrainingConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid training config file: %w", err)
	}
	return cfg, nil
}
