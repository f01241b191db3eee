package domain

import (
	"context"

	"github.com/cortexmem/cortexmem/pkg/types"
)

// MigrationStart provisions a migration to target_model. Readiness is still
// enforced, but an inactive/unconfigured migration controller is reported
// as InvalidTransition rather than silently accepted.
func (m *Manager) MigrationStart(ctx context.Context, args MigrationStartArgs) (*types.MigrationState, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	cfg := m.config()
	if !cfg.Migration.Enabled {
		return nil, types.ErrInvalidTransition
	}
	dim := m.embedder.Dimension(args.TargetModel)
	if dim == 0 {
		dim = cfg.EmbeddingDimension
	}
	return m.migration.Start(ctx, args.TargetModel, dim)
}

func (m *Manager) MigrationStatus(ctx context.Context) (*types.MigrationState, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	return m.migration.Status(), nil
}

func (m *Manager) MigrationAdvance(ctx context.Context) (*types.MigrationState, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	return m.migration.Advance(ctx)
}

func (m *Manager) MigrationPause(ctx context.Context) (*types.MigrationState, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	return m.migration.Pause(ctx)
}

func (m *Manager) MigrationResume(ctx context.Context) (*types.MigrationState, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	return m.migration.Resume(ctx)
}

func (m *Manager) MigrationRollback(ctx context.Context) (*types.MigrationState, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	return m.migration.Rollback(ctx)
}
