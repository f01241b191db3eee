package types_test

import (
	"testing"

	"github.com/cortexmem/cortexmem/pkg/types"
)

func TestIsValidMigrationTransition_ForwardPath(t *testing.T) {
	path := []types.MigrationPhase{
		types.MigrationInactive,
		types.MigrationPreparation,
		types.MigrationShadow,
		types.MigrationCanary,
		types.MigrationGradual,
		types.MigrationFull,
		types.MigrationCleanup,
		types.MigrationCompleted,
		types.MigrationInactive,
	}
	for i := 0; i < len(path)-1; i++ {
		if !types.IsValidMigrationTransition(path[i], path[i+1]) {
			t.Errorf("expected %s -> %s to be valid", path[i], path[i+1])
		}
	}
}

func TestIsValidMigrationTransition_RejectsSkippingPhases(t *testing.T) {
	if types.IsValidMigrationTransition(types.MigrationShadow, types.MigrationFull) {
		t.Errorf("expected SHADOW -> FULL to be invalid")
	}
	if types.IsValidMigrationTransition(types.MigrationInactive, types.MigrationCanary) {
		t.Errorf("expected INACTIVE -> CANARY to be invalid")
	}
}

func TestIsValidMigrationTransition_RollbackFromAnyActivePhase(t *testing.T) {
	active := []types.MigrationPhase{
		types.MigrationPreparation, types.MigrationShadow, types.MigrationCanary,
		types.MigrationGradual, types.MigrationFull, types.MigrationCleanup,
	}
	for _, phase := range active {
		if !types.IsValidMigrationTransition(phase, types.MigrationRollingBack) {
			t.Errorf("expected %s -> ROLLING_BACK to be valid", phase)
		}
	}
}

func TestIsValidMigrationTransition_RollbackRejectedFromQuiescentPhases(t *testing.T) {
	if types.IsValidMigrationTransition(types.MigrationInactive, types.MigrationRollingBack) {
		t.Errorf("expected INACTIVE -> ROLLING_BACK to be invalid")
	}
	if types.IsValidMigrationTransition(types.MigrationCompleted, types.MigrationRollingBack) {
		t.Errorf("expected COMPLETED -> ROLLING_BACK to be invalid")
	}
}

func TestIsActiveMigrationPhase(t *testing.T) {
	if types.IsActiveMigrationPhase(types.MigrationInactive) {
		t.Errorf("expected INACTIVE to be inactive")
	}
	if types.IsActiveMigrationPhase(types.MigrationCompleted) {
		t.Errorf("expected COMPLETED to be inactive")
	}
	if !types.IsActiveMigrationPhase(types.MigrationCanary) {
		t.Errorf("expected CANARY to be active")
	}
}
