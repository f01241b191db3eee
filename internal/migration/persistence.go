package migration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cortexmem/cortexmem/pkg/types"
)

// SidecarStore persists the migration record to a JSON file, rewritten
// atomically (write-temp + rename) so a crash mid-write never leaves a
// truncated or torn record behind.
type SidecarStore struct {
	path string
}

func NewSidecarStore(path string) *SidecarStore {
	return &SidecarStore{path: path}
}

func (s *SidecarStore) Load() (*types.MigrationState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &types.MigrationState{Phase: types.MigrationInactive}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migration: read sidecar: %w", err)
	}
	var state types.MigrationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("migration: decode sidecar: %w", err)
	}
	return &state, nil
}

func (s *SidecarStore) Save(state *types.MigrationState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("migration: encode sidecar: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".migration-*.tmp")
	if err != nil {
		return fmt.Errorf("migration: create temp sidecar: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("migration: write temp sidecar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("migration: close temp sidecar: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("migration: rename sidecar into place: %w", err)
	}
	return nil
}
