package types

import "time"

// MigrationPhase is a state of the dual-collection embedding migration state
// machine.
type MigrationPhase string

const (
	MigrationInactive    MigrationPhase = "INACTIVE"
	MigrationPreparation MigrationPhase = "PREPARATION"
	MigrationShadow      MigrationPhase = "SHADOW"
	MigrationCanary      MigrationPhase = "CANARY"
	MigrationGradual     MigrationPhase = "GRADUAL"
	MigrationFull        MigrationPhase = "FULL"
	MigrationCleanup     MigrationPhase = "CLEANUP"
	MigrationCompleted   MigrationPhase = "COMPLETED"
	MigrationRollingBack MigrationPhase = "ROLLING_BACK"
)

// migrationGraph enumerates the legal forward transitions. ROLLING_BACK is
// reachable from any "active" (non-INACTIVE, non-COMPLETED) state and is
// handled separately by the controller rather than listed per-state here.
var migrationGraph = map[MigrationPhase][]MigrationPhase{
	MigrationInactive:    {MigrationPreparation},
	MigrationPreparation: {MigrationShadow},
	MigrationShadow:      {MigrationCanary},
	MigrationCanary:      {MigrationGradual},
	MigrationGradual:     {MigrationFull},
	MigrationFull:        {MigrationCleanup},
	MigrationCleanup:     {MigrationCompleted},
	MigrationCompleted:   {MigrationInactive},
	MigrationRollingBack: {MigrationInactive},
}

// IsActiveMigrationPhase reports whether phase is a state from which
// ROLLING_BACK is reachable (anything except the two quiescent states).
func IsActiveMigrationPhase(phase MigrationPhase) bool {
	return phase != MigrationInactive && phase != MigrationCompleted
}

// IsValidMigrationTransition reports whether moving from `from` to `to` is
// legal per the state graph in §4.6. Rolling back is always legal from an
// active phase; every other transition must follow the linear graph.
func IsValidMigrationTransition(from, to MigrationPhase) bool {
	if to == MigrationRollingBack {
		return IsActiveMigrationPhase(from)
	}
	for _, next := range migrationGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MigrationProgress tracks re-embedding progress during GRADUAL.
type MigrationProgress struct {
	Migrated int `json:"migrated"`
	Total    int `json:"total"`
}

// MigrationQuality tracks the rolling quality signal accumulated from probe
// queries during CANARY/GRADUAL.
type MigrationQuality struct {
	PrimaryScore   float64 `json:"primary_score"`
	SecondaryScore float64 `json:"secondary_score"`
	Samples        int     `json:"samples"`
}

// MigrationState is the singleton record describing the current embedding
// migration, persisted atomically on every state transition.
type MigrationState struct {
	Phase            MigrationPhase     `json:"state"`
	PrimaryModel     string             `json:"primary_model"`
	SecondaryModel   string             `json:"secondary_model,omitempty"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	Progress         MigrationProgress  `json:"progress"`
	Quality          MigrationQuality   `json:"quality"`
	LastCheckpoint   *time.Time         `json:"last_checkpoint,omitempty"`
	LastFailureReason string            `json:"last_failure_reason,omitempty"`
	DeferredIDs      []string           `json:"deferred_ids,omitempty"`
}
