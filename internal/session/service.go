package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/exchron/exchron-engine/internal/core/config"
	"github.com/exchron/exchron-engine/internal/core/models"
	"github.com/exchron/exchron-engine/internal/database/repositories"
	"github.com/exchron/exchron-engine/internal/encoding"
	"github.com/exchron/exchron-engine/internal/evaluation"
	"github.com/exchron/exchron-engine/internal/forest"
	"github.com/exchron/exchron-engine/internal/telemetry"
	"github.com/exchron/exchron-engine/pkg/logger"
)

var (
	ErrSessionNotFound = repositories.ErrSessionNotFound
	ErrNoModel         = errors.New("session has no trained model")
)

const persistTimeout = 5 * time.Second

// Repository persists session snapshots so they survive a restart. The
// service works without one; sessions are then memory-only.
type Repository interface {
	Create(ctx context.Context, session *models.TrainingSession) error
	Update(ctx context.Context, session *models.TrainingSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.TrainingSession, error)
	List(ctx context.Context) ([]*models.TrainingSession, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Prediction is one scored row, labelled with the decoded class.
type Prediction struct {
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// runState pairs a session snapshot with the runtime pieces that never
// leave the process: the cancel handle for the live run, the fitted
// model with its encoding record, and the progress subscribers.
type runState struct {
	session     *models.TrainingSession
	cancel      context.CancelFunc
	live        bool
	model       *forest.Model
	info        *encoding.EncodingInfo
	subscribers map[chan models.TrainingProgress]struct{}
}

// Service owns every training session in the process. It is the single
// writer: all mutations happen under its lock and readers only ever see
// deep copies, so a snapshot can never change underneath a caller.
type Service struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*runState
	repo      Repository
	training  config.TrainingConfig
	newEngine func(cfg models.TrainingConfig) (Engine, error)
	log       zerolog.Logger
}

func NewService(repo Repository, training config.TrainingConfig) *Service {
	return &Service{
		sessions:  make(map[uuid.UUID]*runState),
		repo:      repo,
		training:  training,
		newEngine: NewEngine,
		log:       logger.WithComponent("session"),
	}
}

// Start creates a session and launches a training run on it. When the
// config fails validation the session is kept in state failed and
// returned alongside the validation error.
func (s *Service) Start(ctx context.Context, dataset *models.Dataset, cfg models.TrainingConfig) (*models.TrainingSession, error) {
	session := models.NewTrainingSession()
	st := &runState{session: session}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Create(ctx, session); err != nil {
			return nil, err
		}
	}
	s.sessions[session.ID] = st

	return s.startLocked(st, dataset, cfg)
}

// Restart launches a fresh run on an existing session, replacing its
// previous model, progress and metrics. Only idle and terminal sessions
// can be restarted.
func (s *Service) Restart(ctx context.Context, id string, dataset *models.Dataset, cfg models.TrainingConfig) (*models.TrainingSession, error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, models.NewValidationError("invalid session ID: %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return s.startLocked(st, dataset, cfg)
}

func (s *Service) startLocked(st *runState, dataset *models.Dataset, cfg models.TrainingConfig) (*models.TrainingSession, error) {
	session := st.session
	if !session.Status.CanTransitionTo(models.SessionStatusConfiguring) {
		return nil, models.NewValidationError("session %s cannot start a run while %s", session.ID, session.Status)
	}

	cfg.ApplyDefaults()

	now := time.Now()
	session.Status = models.SessionStatusConfiguring
	session.Config = cfg
	session.Progress = nil
	session.Metrics = nil
	session.Warnings = nil
	session.Error = ""
	session.CompletedAt = nil
	session.LastProgressAt = now
	session.UpdatedAt = now
	st.model = nil
	st.info = nil

	err := cfg.Validate()
	var engine Engine
	if err == nil {
		engine, err = s.newEngine(cfg)
	}
	if err != nil {
		session.Status = models.SessionStatusFailed
		session.Error = err.Error()
		session.CompletedAt = &now
		s.saveLocked(st)
		telemetry.RecordError("validation", "session")
		s.log.Warn().
			Str("session_id", session.ID.String()).
			Err(err).
			Msg("Session configuration rejected")
		return session.Clone(), err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	st.live = true
	s.saveLocked(st)
	telemetry.UpdateRunningSessions(float64(s.liveCountLocked()))

	s.log.Info().
		Str("session_id", session.ID.String()).
		Str("model_kind", string(cfg.ModelKind)).
		Int("n_estimators", cfg.NEstimators).
		Msg("Training session configured")

	go s.run(runCtx, st, engine, dataset, cfg)

	return session.Clone(), nil
}

// run drives one training run to a terminal state. It is the only
// goroutine that advances this session while it is live.
func (s *Service) run(ctx context.Context, st *runState, engine Engine, dataset *models.Dataset, cfg models.TrainingConfig) {
	prepared, err := engine.Prepare(dataset, cfg)
	if err != nil {
		s.fail(st, err)
		return
	}

	s.mu.Lock()
	if st.session.Status != models.SessionStatusConfiguring {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	st.session.Status = models.SessionStatusRunning
	st.session.Warnings = append([]models.DataQualityWarning(nil), prepared.Warnings...)
	st.session.LastProgressAt = now
	st.session.UpdatedAt = now
	st.info = prepared.Info
	s.saveLocked(st)
	s.mu.Unlock()

	model, err := engine.Train(ctx, prepared, func(p models.TrainingProgress) {
		s.recordProgress(st, p)
	})
	if err != nil {
		s.fail(st, err)
		return
	}

	cancelled := ctx.Err() != nil

	var metrics *models.TrainingMetrics
	if !cancelled {
		metrics, err = buildMetrics(prepared, model)
		if err != nil {
			s.fail(st, err)
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The stall guard may have normalized the session mid-run; its
	// verdict wins and the late result is dropped.
	if st.session.Status != models.SessionStatusRunning {
		return
	}

	st.model = model
	st.live = false
	finished := time.Now()
	st.session.UpdatedAt = finished
	st.session.CompletedAt = &finished
	if cancelled {
		st.session.Status = models.SessionStatusCancelled
	} else {
		st.session.Status = models.SessionStatusCompleted
		st.session.Metrics = metrics
	}
	s.saveLocked(st)
	s.closeSubscribersLocked(st)
	telemetry.RecordTrainingRun(string(st.session.Status), model.TrainingTime, model.NumTrees())
	telemetry.UpdateRunningSessions(float64(s.liveCountLocked()))

	s.log.Info().
		Str("session_id", st.session.ID.String()).
		Str("status", string(st.session.Status)).
		Int("trees_built", model.NumTrees()).
		Msg("Training run finished")
}

func (s *Service) fail(st *runState, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st.session.Status {
	case models.SessionStatusConfiguring, models.SessionStatusRunning:
	default:
		return
	}

	st.live = false
	st.session.Status = models.SessionStatusFailed
	st.session.Error = cause.Error()
	now := time.Now()
	st.session.UpdatedAt = now
	st.session.CompletedAt = &now
	s.saveLocked(st)
	s.closeSubscribersLocked(st)
	telemetry.RecordTrainingRun(string(st.session.Status), 0, 0)
	telemetry.UpdateRunningSessions(float64(s.liveCountLocked()))

	s.log.Error().
		Err(cause).
		Str("session_id", st.session.ID.String()).
		Msg("Training run failed")
}

func (s *Service) recordProgress(st *runState, p models.TrainingProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.session.Status != models.SessionStatusRunning {
		return
	}

	st.session.Progress = append(st.session.Progress, p)
	st.session.LastProgressAt = p.Timestamp
	st.session.UpdatedAt = p.Timestamp
	s.saveLocked(st)

	for ch := range st.subscribers {
		select {
		case ch <- p:
		default:
		}
	}
}

// buildMetrics evaluates the fitted model on the validation partition.
// When the split left no holdout rows the training partition serves as a
// proxy so a tiny dataset still completes with metrics.
func buildMetrics(prepared *encoding.Prepared, model *forest.Model) (*models.TrainingMetrics, error) {
	evalIdx := prepared.ValIndices
	if len(evalIdx) == 0 {
		evalIdx = prepared.TrainIndices
	}
	evalX, evalY := encoding.Subset(prepared.Matrix, prepared.Labels, evalIdx)

	preds, err := model.Predict(evalX)
	if err != nil {
		return nil, err
	}
	probas, err := model.PredictProba(evalX)
	if err != nil {
		return nil, err
	}

	metrics, err := evaluation.Evaluate(evalY, preds, probas, model.Classes)
	if err != nil {
		return nil, err
	}
	metrics.FeatureImportance = model.FeatureImportance()
	metrics.TrainingTime = model.TrainingTime
	metrics.TreesBuilt = model.NumTrees()
	return metrics, nil
}

// Get returns a deep-copied snapshot of one session.
func (s *Service) Get(id string) (*models.TrainingSession, error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, models.NewValidationError("invalid session ID: %s", id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st.session.Clone(), nil
}

// List returns snapshots of all sessions, newest first.
func (s *Service) List() []*models.TrainingSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*models.TrainingSession, 0, len(s.sessions))
	for _, st := range s.sessions {
		sessions = append(sessions, st.session.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

// Cancel asks the live run to stop after the tree in flight. The session
// moves to cancelled once the trainer hands back its partial model.
// Cancelling a session with no run in flight is a harmless no-op.
func (s *Service) Cancel(id string) error {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return models.NewValidationError("invalid session ID: %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	if st.cancel != nil && !st.session.Status.IsTerminal() {
		st.cancel()
		s.log.Info().Str("session_id", id).Msg("Cancellation requested")
	}
	return nil
}

// Delete cancels any live run and removes the session everywhere.
func (s *Service) Delete(ctx context.Context, id string) error {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return models.NewValidationError("invalid session ID: %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	if st.cancel != nil {
		st.cancel()
	}
	// Settle any in-flight run on the orphaned state so the run goroutine
	// drops its late result instead of persisting it.
	switch st.session.Status {
	case models.SessionStatusConfiguring:
		st.session.Status = models.SessionStatusFailed
	case models.SessionStatusRunning:
		st.session.Status = models.SessionStatusCancelled
	}
	st.live = false
	s.closeSubscribersLocked(st)
	delete(s.sessions, sessionID)
	telemetry.UpdateRunningSessions(float64(s.liveCountLocked()))

	if s.repo != nil {
		if err := s.repo.Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
	}
	return nil
}

// Subscribe registers a progress listener for one session. The channel
// closes when the run reaches a terminal state or the session is
// deleted; the returned function unsubscribes early.
func (s *Service) Subscribe(id string) (<-chan models.TrainingProgress, func(), error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil, models.NewValidationError("invalid session ID: %s", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	buffer := s.training.ProgressBuffer
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan models.TrainingProgress, buffer)

	if st.subscribers == nil {
		st.subscribers = make(map[chan models.TrainingProgress]struct{})
	}
	st.subscribers[ch] = struct{}{}

	// Sessions already at rest get a closed channel so consumers do not
	// wait on progress that will never arrive.
	if !st.live {
		delete(st.subscribers, ch)
		close(ch)
		return ch, func() {}, nil
	}

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := st.subscribers[ch]; ok {
			delete(st.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

func (s *Service) closeSubscribersLocked(st *runState) {
	for ch := range st.subscribers {
		close(ch)
	}
	st.subscribers = nil
}

// Predict scores raw rows with the session's fitted model, reusing the
// encoding captured at training time.
func (s *Service) Predict(id string, rows []map[string]string) ([]Prediction, error) {
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return nil, models.NewValidationError("invalid session ID: %s", id)
	}
	if len(rows) == 0 {
		return nil, models.NewValidationError("no rows to predict")
	}

	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	var (
		model *forest.Model
		info  *encoding.EncodingInfo
	)
	if ok {
		model = st.model
		info = st.info
	}
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if model == nil || info == nil {
		return nil, ErrNoModel
	}

	x, err := info.EncodeRows(rows)
	if err != nil {
		return nil, err
	}
	preds, err := model.Predict(x)
	if err != nil {
		return nil, err
	}
	probas, err := model.PredictProba(x)
	if err != nil {
		return nil, err
	}

	out := make([]Prediction, len(preds))
	for i, class := range preds {
		probs := make(map[string]float64, len(model.Classes))
		for c, name := range model.Classes {
			probs[name] = probas[i][c]
		}
		out[i] = Prediction{Label: model.Classes[class], Probabilities: probs}
	}
	return out, nil
}

// Rehydrate loads persisted sessions into memory at startup. Sessions
// stored mid-configure failed with the restart; sessions stored as
// running are left for the stall guard, which notices there is no live
// trainer behind them and normalizes them back to idle.
func (s *Service) Rehydrate(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	stored, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range stored {
		if _, ok := s.sessions[session.ID]; ok {
			continue
		}
		st := &runState{session: session}
		if session.Status == models.SessionStatusConfiguring {
			session.Status = models.SessionStatusFailed
			session.Error = "training interrupted by restart"
			session.UpdatedAt = time.Now()
			s.saveLocked(st)
		}
		s.sessions[session.ID] = st
	}

	s.log.Info().Int("session_count", len(stored)).Msg("Rehydrated sessions from store")
	return nil
}

// NormalizeStalled sweeps running sessions and resets the ones that are
// not actually training: either nothing in this process is driving them
// or they have been silent past the stall threshold. Returns how many
// sessions were normalized.
func (s *Service) NormalizeStalled() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	normalized := 0
	for _, st := range s.sessions {
		if st.session.Status != models.SessionStatusRunning {
			continue
		}
		if st.live && now.Sub(st.session.LastProgressAt) <= s.training.StallThreshold {
			continue
		}

		if st.cancel != nil {
			st.cancel()
		}
		st.live = false
		st.session.Status = models.SessionStatusIdle
		st.session.Error = ""
		st.session.Progress = nil
		st.session.Metrics = nil
		st.session.UpdatedAt = now
		s.saveLocked(st)
		s.closeSubscribersLocked(st)
		telemetry.RecordStallNormalized()

		s.log.Warn().
			Str("session_id", st.session.ID.String()).
			Time("last_progress", st.session.LastProgressAt).
			Msg("Stale running session normalized to idle")
		normalized++
	}
	if normalized > 0 {
		telemetry.UpdateRunningSessions(float64(s.liveCountLocked()))
	}
	return normalized
}

func (s *Service) liveCountLocked() int {
	live := 0
	for _, st := range s.sessions {
		if st.live {
			live++
		}
	}
	return live
}

func (s *Service) saveLocked(st *runState) {
	if s.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.repo.Update(ctx, st.session); err != nil {
		s.log.Error().
			Err(err).
			Str("session_id", st.session.ID.String()).
			Msg("Failed to persist session")
	}
}
