package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/exchron/exchron-engine/internal/core/config"
	"github.com/exchron/exchron-engine/internal/core/models"
	"github.com/exchron/exchron-engine/internal/session"
	"github.com/exchron/exchron-engine/internal/telemetry"
	"github.com/exchron/exchron-engine/pkg/logger"
)

// SessionService is the slice of the session service the HTTP surface
// needs. *session.Service satisfies it.
type SessionService interface {
	Start(ctx context.Context, dataset *models.Dataset, cfg models.TrainingConfig) (*models.TrainingSession, error)
	Restart(ctx context.Context, id string, dataset *models.Dataset, cfg models.TrainingConfig) (*models.TrainingSession, error)
	Get(id string) (*models.TrainingSession, error)
	List() []*models.TrainingSession
	Cancel(id string) error
	Delete(ctx context.Context, id string) error
	Predict(id string, rows []map[string]string) ([]session.Prediction, error)
	Subscribe(id string) (<-chan models.TrainingProgress, func(), error)
}

type SessionHandler struct {
	service SessionService
	ws      config.WebsocketConfig
}

func NewSessionHandler(service SessionService, ws config.WebsocketConfig) *SessionHandler {
	return &SessionHandler{service: service, ws: ws}
}

// TrainRequest carries the dataset and hyperparameters for one training
// run. The same payload starts a new session and retrains an existing
// one.
type TrainRequest struct {
	Dataset *models.Dataset       `json:"dataset"`
	Config  models.TrainingConfig `json:"config"`
}

type PredictRequest struct {
	Rows []map[string]string `json:"rows"`
}

type PredictResponse struct {
	Predictions []session.Prediction `json:"predictions"`
}

func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	req, ok := decodeTrainRequest(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Start(r.Context(), req.Dataset, req.Config)
	if err != nil {
		log.Debug().Err(err).Msg("Session start rejected")
		writeRunError(w, sess, err)
		return
	}

	log.Info().Str("session_id", sess.ID.String()).Msg("Session created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess)
}

func (h *SessionHandler) RetrainSession(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	sessionID := mux.Vars(r)["id"]

	req, ok := decodeTrainRequest(w, r)
	if !ok {
		return
	}

	sess, err := h.service.Restart(r.Context(), sessionID, req.Dataset, req.Config)
	if err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("Retrain rejected")
		writeRunError(w, sess, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Get(mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess)
}

func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.service.List())
}

func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Predict(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	sessionID := mux.Vars(r)["id"]

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("Invalid predict payload")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	predictions, err := h.service.Predict(sessionID, req.Rows)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	telemetry.RecordPredictions(len(predictions))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PredictResponse{Predictions: predictions})
}

func (h *SessionHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func decodeTrainRequest(w http.ResponseWriter, r *http.Request) (TrainRequest, bool) {
	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.Dataset == nil {
		http.Error(w, "Dataset is required", http.StatusBadRequest)
		return req, false
	}
	if err := req.Dataset.Validate(); err != nil {
		writeServiceError(w, err)
		return req, false
	}
	return req, true
}

// writeRunError answers a rejected training run. Config rejections still
// create the failed session, so the snapshot goes back with the error
// status for the client to keep the ID.
func writeRunError(w http.ResponseWriter, sess *models.TrainingSession, err error) {
	if sess == nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusInternalServerError
	if models.IsValidationError(err) {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(sess)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrNoModel):
		http.Error(w, "Session has no trained model", http.StatusConflict)
	case models.IsValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
