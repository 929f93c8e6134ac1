package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusIdle        SessionStatus = "idle"
	SessionStatusConfiguring SessionStatus = "configuring"
	SessionStatusRunning     SessionStatus = "running"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusCancelled   SessionStatus = "cancelled"
	SessionStatusFailed      SessionStatus = "failed"
)

// IsTerminal reports whether the status ends a run.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusCancelled, SessionStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status may move to next. A running
// session may fall back to idle, which is the stall-guard normalization
// for sessions rehydrated from the store without a live trainer behind
// them. Terminal sessions may be reconfigured for a retrain.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusIdle:
		return next == SessionStatusConfiguring
	case SessionStatusConfiguring:
		return next == SessionStatusRunning || next == SessionStatusFailed
	case SessionStatusRunning:
		switch next {
		case SessionStatusCompleted, SessionStatusCancelled, SessionStatusFailed, SessionStatusIdle:
			return true
		}
		return false
	case SessionStatusCompleted, SessionStatusCancelled, SessionStatusFailed:
		return next == SessionStatusConfiguring
	}
	return false
}

// TrainingProgress is one per-tree record appended while a run is live.
// The progress list is append-only during a run and cleared when a new
// run starts.
type TrainingProgress struct {
	TreeIndex int           `json:"tree_index"`
	OOBScore  *float64      `json:"oob_score,omitempty"`
	Completed bool          `json:"completed"`
	Elapsed   time.Duration `json:"elapsed"`
	Timestamp time.Time     `json:"timestamp"`
}

type ROCPoint struct {
	Threshold float64 `json:"threshold"`
	FPR       float64 `json:"fpr"`
	TPR       float64 `json:"tpr"`
}

type PRPoint struct {
	Threshold float64 `json:"threshold"`
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
}

// TrainingMetrics is the aggregate evaluation computed when a run
// completes. The ROC and PR curves are present only for binary targets.
type TrainingMetrics struct {
	Accuracy          float64            `json:"accuracy"`
	Precision         float64            `json:"precision"`
	Recall            float64            `json:"recall"`
	F1                float64            `json:"f1"`
	ConfusionMatrix   [][]int            `json:"confusion_matrix"`
	ClassLabels       []string           `json:"class_labels"`
	ROCCurve          []ROCPoint         `json:"roc_curve,omitempty"`
	PRCurve           []PRPoint          `json:"pr_curve,omitempty"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	TrainingTime      time.Duration      `json:"training_time"`
	TreesBuilt        int                `json:"trees_built"`
}

// TrainingSession is the persistent record of one training run. The
// session service is its only writer; everything handed to readers is a
// deep copy.
type TrainingSession struct {
	ID             uuid.UUID            `json:"id" db:"id"`
	Status         SessionStatus        `json:"status" db:"status"`
	Config         TrainingConfig       `json:"config"`
	Progress       []TrainingProgress   `json:"progress"`
	Metrics        *TrainingMetrics     `json:"metrics,omitempty"`
	Warnings       []DataQualityWarning `json:"warnings,omitempty"`
	Error          string               `json:"error,omitempty" db:"error"`
	LastProgressAt time.Time            `json:"last_progress_at" db:"last_progress_at"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" db:"updated_at"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty" db:"completed_at"`
}

func NewTrainingSession() *TrainingSession {
	now := time.Now()
	return &TrainingSession{
		ID:        uuid.New(),
		Status:    SessionStatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to hand to readers while the original
// keeps mutating under the service lock.
func (s *TrainingSession) Clone() *TrainingSession {
	if s == nil {
		return nil
	}
	out := *s

	out.Config.SelectedFeatures = append([]string(nil), s.Config.SelectedFeatures...)
	if s.Config.RandomState != nil {
		seed := *s.Config.RandomState
		out.Config.RandomState = &seed
	}

	if s.Progress != nil {
		out.Progress = make([]TrainingProgress, len(s.Progress))
		copy(out.Progress, s.Progress)
		for i, p := range s.Progress {
			if p.OOBScore != nil {
				score := *p.OOBScore
				out.Progress[i].OOBScore = &score
			}
		}
	}

	if s.Warnings != nil {
		out.Warnings = append([]DataQualityWarning(nil), s.Warnings...)
	}

	if s.Metrics != nil {
		m := *s.Metrics
		m.ClassLabels = append([]string(nil), s.Metrics.ClassLabels...)
		m.ROCCurve = append([]ROCPoint(nil), s.Metrics.ROCCurve...)
		m.PRCurve = append([]PRPoint(nil), s.Metrics.PRCurve...)
		if s.Metrics.ConfusionMatrix != nil {
			m.ConfusionMatrix = make([][]int, len(s.Metrics.ConfusionMatrix))
			for i, row := range s.Metrics.ConfusionMatrix {
				m.ConfusionMatrix[i] = append([]int(nil), row...)
			}
		}
		if s.Metrics.FeatureImportance != nil {
			m.FeatureImportance = make(map[string]float64, len(s.Metrics.FeatureImportance))
			for k, v := range s.Metrics.FeatureImportance {
				m.FeatureImportance[k] = v
			}
		}
		out.Metrics = &m
	}

	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}

	return &out
}
