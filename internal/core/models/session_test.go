package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{name: "idle to configuring", from: SessionStatusIdle, to: SessionStatusConfiguring, allowed: true},
		{name: "idle straight to running", from: SessionStatusIdle, to: SessionStatusRunning, allowed: false},
		{name: "configuring to running", from: SessionStatusConfiguring, to: SessionStatusRunning, allowed: true},
		{name: "configuring to failed", from: SessionStatusConfiguring, to: SessionStatusFailed, allowed: true},
		{name: "running to completed", from: SessionStatusRunning, to: SessionStatusCompleted, allowed: true},
		{name: "running to cancelled", from: SessionStatusRunning, to: SessionStatusCancelled, allowed: true},
		{name: "running to failed", from: SessionStatusRunning, to: SessionStatusFailed, allowed: true},
		{name: "stale running normalized to idle", from: SessionStatusRunning, to: SessionStatusIdle, allowed: true},
		{name: "completed to configuring for retrain", from: SessionStatusCompleted, to: SessionStatusConfiguring, allowed: true},
		{name: "cancelled to configuring for retrain", from: SessionStatusCancelled, to: SessionStatusConfiguring, allowed: true},
		{name: "completed straight to running", from: SessionStatusCompleted, to: SessionStatusRunning, allowed: false},
		{name: "failed to idle", from: SessionStatusFailed, to: SessionStatusIdle, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSessionStatusIsTerminal(t *testing.T) {
	assert.False(t, SessionStatusIdle.IsTerminal())
	assert.False(t, SessionStatusConfiguring.IsTerminal())
	assert.False(t, SessionStatusRunning.IsTerminal())
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusCancelled.IsTerminal())
	assert.True(t, SessionStatusFailed.IsTerminal())
}

func TestSessionCloneIsDeep(t *testing.T) {
	score := 0.75
	seed := int64(42)
	now := time.Now()

	session := NewTrainingSession()
	session.Status = SessionStatusCompleted
	session.Config = TrainingConfig{
		TargetColumn:     "label",
		SelectedFeatures: []string{"a", "b"},
		RandomState:      &seed,
	}
	session.Progress = []TrainingProgress{
		{TreeIndex: 0, OOBScore: &score, Completed: true, Timestamp: now},
	}
	session.Warnings = []DataQualityWarning{
		{Kind: WarningRowsDroppedMissingTarget, Count: 3, Message: "rows dropped"},
	}
	session.Metrics = &TrainingMetrics{
		Accuracy:          0.9,
		ConfusionMatrix:   [][]int{{18, 2}, {1, 19}},
		ClassLabels:       []string{"no", "yes"},
		FeatureImportance: map[string]float64{"a": 0.6, "b": 0.4},
		ROCCurve:          []ROCPoint{{Threshold: 0.5, FPR: 0.1, TPR: 0.9}},
	}

	clone := session.Clone()
	require.NotNil(t, clone)
	assert.Equal(t, session.ID, clone.ID)
	assert.Equal(t, session.Metrics.Accuracy, clone.Metrics.Accuracy)

	// Mutating the clone must not leak back into the original.
	clone.Config.SelectedFeatures[0] = "mutated"
	*clone.Progress[0].OOBScore = 0.1
	*clone.Config.RandomState = 7
	clone.Metrics.ConfusionMatrix[0][0] = 99
	clone.Metrics.FeatureImportance["a"] = 0
	clone.Warnings[0].Count = 100

	assert.Equal(t, "a", session.Config.SelectedFeatures[0])
	assert.Equal(t, 0.75, *session.Progress[0].OOBScore)
	assert.Equal(t, int64(42), *session.Config.RandomState)
	assert.Equal(t, 18, session.Metrics.ConfusionMatrix[0][0])
	assert.Equal(t, 0.6, session.Metrics.FeatureImportance["a"])
	assert.Equal(t, 3, session.Warnings[0].Count)
}

func TestDatasetHelpers(t *testing.T) {
	ds := &Dataset{
		Columns: []string{"a", "b", "label"},
		Rows: []map[string]string{
			{"a": "1", "b": "x", "label": "yes"},
			{"a": "2", "b": "y", "label": "no"},
		},
		Meta: map[string]ColumnMeta{
			"a": {Name: "a", Kind: ColumnKindNumeric},
			"b": {Name: "b", Kind: ColumnKindCategorical},
		},
	}

	require.NoError(t, ds.Validate())
	assert.Equal(t, 2, ds.NumRows())
	assert.True(t, ds.HasColumn("label"))
	assert.False(t, ds.HasColumn("missing"))
	assert.Equal(t, ColumnKindNumeric, ds.ColumnKindOf("a"))
	assert.Equal(t, ColumnKindCategorical, ds.ColumnKindOf("unknown"))

	empty := &Dataset{Columns: []string{"a"}}
	assert.Error(t, empty.Validate())
}
