package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/exchron/exchron-engine/internal/core/models"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository struct {
	db *sqlx.DB
}

func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

type dbSession struct {
	ID             uuid.UUID            `db:"id"`
	Status         models.SessionStatus `db:"status"`
	Config         []byte               `db:"config"`
	Progress       []byte               `db:"progress"`
	Metrics        []byte               `db:"metrics"`
	Warnings       []byte               `db:"warnings"`
	Error          string               `db:"error"`
	LastProgressAt time.Time            `db:"last_progress_at"`
	CreatedAt      time.Time            `db:"created_at"`
	UpdatedAt      time.Time            `db:"updated_at"`
	CompletedAt    *time.Time           `db:"completed_at"`
}

func sessionParams(session *models.TrainingSession) (map[string]interface{}, error) {
	configJSON, err := json.Marshal(session.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	progressJSON, err := json.Marshal(session.Progress)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal progress: %w", err)
	}

	var metricsJSON []byte
	if session.Metrics != nil {
		metricsJSON, err = json.Marshal(session.Metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metrics: %w", err)
		}
	}

	var warningsJSON []byte
	if len(session.Warnings) > 0 {
		warningsJSON, err = json.Marshal(session.Warnings)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal warnings: %w", err)
		}
	}

	return map[string]interface{}{
		"id":               session.ID,
		"status":           session.Status,
		"config":           configJSON,
		"progress":         progressJSON,
		"metrics":          metricsJSON,
		"warnings":         warningsJSON,
		"error":            session.Error,
		"last_progress_at": session.LastProgressAt,
		"created_at":       session.CreatedAt,
		"updated_at":       session.UpdatedAt,
		"completed_at":     session.CompletedAt,
	}, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *models.TrainingSession) error {
	params, err := sessionParams(session)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO training_sessions (
			id, status, config, progress, metrics, warnings,
			error, last_progress_at, created_at, updated_at, completed_at
		) VALUES (
			:id, :status, :config, :progress, :metrics, :warnings,
			:error, :last_progress_at, :created_at, :updated_at, :completed_at
		)
	`

	_, err = r.db.NamedExecContext(ctx, query, params)
	return err
}

func (r *SessionRepository) Update(ctx context.Context, session *models.TrainingSession) error {
	params, err := sessionParams(session)
	if err != nil {
		return err
	}

	query := `
		UPDATE training_sessions SET
			status = :status,
			config = :config,
			progress = :progress,
			metrics = :metrics,
			warnings = :warnings,
			error = :error,
			last_progress_at = :last_progress_at,
			updated_at = :updated_at,
			completed_at = :completed_at
		WHERE id = :id
	`

	result, err := r.db.NamedExecContext(ctx, query, params)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.TrainingSession, error) {
	var row dbSession
	query := `SELECT * FROM training_sessions WHERE id = $1`

	err := r.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return toSession(row)
}

func (r *SessionRepository) List(ctx context.Context) ([]*models.TrainingSession, error) {
	var rows []dbSession
	query := `SELECT * FROM training_sessions ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &rows, query)
	if err != nil {
		return nil, err
	}

	sessions := make([]*models.TrainingSession, len(rows))
	for i, row := range rows {
		sessions[i], err = toSession(row)
		if err != nil {
			return nil, err
		}
	}

	return sessions, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM training_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func toSession(row dbSession) (*models.TrainingSession, error) {
	session := &models.TrainingSession{
		ID:             row.ID,
		Status:         row.Status,
		Error:          row.Error,
		LastProgressAt: row.LastProgressAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		CompletedAt:    row.CompletedAt,
	}

	if err := json.Unmarshal(row.Config, &session.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(row.Progress) > 0 {
		if err := json.Unmarshal(row.Progress, &session.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
		}
	}

	if len(row.Metrics) > 0 {
		session.Metrics = &models.TrainingMetrics{}
		if err := json.Unmarshal(row.Metrics, session.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}

	if len(row.Warnings) > 0 {
		if err := json.Unmarshal(row.Warnings, &session.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}

	return session, nil
}
