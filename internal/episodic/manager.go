package episodic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

const reflectionImportance = 0.7

// Manager owns the per-session excerpt buffer and writes successful
// reflections back into the store as TypeReflection memories.
type Manager struct {
	store  storage.Store
	buffer *Buffer
}

// NewManager wires a Buffer to store, so a successful reflection is
// persisted as a `reflection` memory with importance 0.7 and source
// "episodic_reflection". Only the body is stored: the reflection's refs are
// left empty, so the ids of the summarized excerpts are not recorded.
func NewManager(store storage.Store, generator ReflectionGenerator, dispatcher Dispatcher, opts ...Option) *Manager {
	mgr := &Manager{store: store}
	mgr.buffer = NewBuffer(generator, dispatcher, mgr.persistReflection, opts...)
	return mgr
}

// Observe appends a stored conversation memory's projected text to the
// buffer, potentially triggering a reflection task.
func (mgr *Manager) Observe(ctx context.Context, memoryID, text string) {
	mgr.buffer.Append(ctx, Excerpt{MemoryID: memoryID, Text: text})
}

func (mgr *Manager) persistReflection(ctx context.Context, body string) error {
	now := time.Now().UTC()
	m := &types.Memory{
		ID:         uuid.NewString(),
		Type:       types.TypeReflection,
		Content:    types.ReflectionContent{Body: body},
		Importance: reflectionImportance,
		CreatedAt:  now,
		UpdatedAt:  now,
		Tier:       types.TierShortTerm,
		Source:     "episodic_reflection",
	}
	if err := mgr.store.Put(ctx, m); err != nil {
		return fmt.Errorf("episodic: persist reflection: %w", err)
	}
	return nil
}

// Len exposes the current buffer depth for diagnostics/stats.
func (mgr *Manager) Len() int { return mgr.buffer.Len() }
