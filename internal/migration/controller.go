package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/cortexmem/cortexmem/internal/embedding"
	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// PrimaryCollection and SecondaryCollection are the fixed vector-collection
// names the controller provisions; the domain manager references these
// directly to dual-write and dual-read during an active migration.
const (
	PrimaryCollection   = "primary"
	SecondaryCollection = "secondary"
)

// Controller drives the dual-collection migration state machine. All
// mutating methods are serialized by a single controller mutex, linearizing
// concurrent tool calls as required by §5.
type Controller struct {
	mu      sync.Mutex
	cfg     Config
	state   *types.MigrationState
	sidecar *SidecarStore
	paused  bool
	probes  probeHistory

	store    storage.Store
	vectors  storage.VectorIndex
	embedder embedding.Embedder
	breaker  *gobreaker.CircuitBreaker
}

// NewController loads any persisted migration record from sidecar and
// constructs a Controller ready to serve tool calls.
func NewController(cfg Config, sidecar *SidecarStore, store storage.Store, vectors storage.VectorIndex, embedder embedding.Embedder) (*Controller, error) {
	state, err := sidecar.Load()
	if err != nil {
		return nil, err
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "migration-backend",
		MaxRequests: 2,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Controller{cfg: cfg, state: state, sidecar: sidecar, store: store, vectors: vectors, embedder: embedder, breaker: breaker}, nil
}

// Status returns a copy of the current migration record.
func (c *Controller) Status() *types.MigrationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *c.state
	return &snapshot
}

// CanaryFraction returns the configured fraction of retrieve calls the
// domain manager should sample for dual-collection probing during CANARY.
func (c *Controller) CanaryFraction() float64 {
	return c.cfg.CanaryFraction
}

// backendCall wraps a critical backend operation (collection create/drop,
// batch re-embed) in the shared circuit breaker, translating an open
// breaker into BACKEND_UNAVAILABLE without tearing down the rest of the
// state machine.
func (c *Controller) backendCall(fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return types.ErrBackendUnavailable
	}
	return err
}

// Start begins a migration to targetModel, provisioning the secondary
// collection (PREPARATION). Idempotent: calling Start again with the same
// target while active returns the current snapshot unchanged.
func (c *Controller) Start(ctx context.Context, targetModel string, dimension int) (*types.MigrationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if types.IsActiveMigrationPhase(c.state.Phase) {
		if c.state.SecondaryModel == targetModel {
			snapshot := *c.state
			return &snapshot, nil
		}
		return nil, types.ErrInvalidTransition
	}
	if c.state.Phase != types.MigrationInactive {
		return nil, types.ErrInvalidTransition
	}

	if err := c.backendCall(func() error {
		return c.vectors.CreateCollection(ctx, SecondaryCollection, dimension)
	}); err != nil {
		return nil, c.failAndRollback(ctx, fmt.Sprintf("preparation: create secondary collection: %v", err))
	}

	now := time.Now().UTC()
	c.state = &types.MigrationState{
		Phase:          types.MigrationPreparation,
		PrimaryModel:   c.state.PrimaryModel,
		SecondaryModel: targetModel,
		StartedAt:      &now,
		LastCheckpoint: &now,
	}
	if err := c.sidecar.Save(c.state); err != nil {
		return nil, err
	}
	snapshot := *c.state
	return &snapshot, nil
}

// Pause suspends GRADUAL batch processing without changing phase; Advance
// becomes a no-op (returning the current snapshot) until Resume is called.
func (c *Controller) Pause(ctx context.Context) (*types.MigrationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !types.IsActiveMigrationPhase(c.state.Phase) {
		return nil, types.ErrInvalidTransition
	}
	c.paused = true
	snapshot := *c.state
	return &snapshot, nil
}

func (c *Controller) Resume(ctx context.Context) (*types.MigrationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !types.IsActiveMigrationPhase(c.state.Phase) {
		return nil, types.ErrInvalidTransition
	}
	c.paused = false
	snapshot := *c.state
	return &snapshot, nil
}

// Advance drives the state machine forward by exactly one step. During
// GRADUAL a single re-embed batch is processed; quality gates are
// evaluated after. All other phases perform their documented per-state
// action and move to the next phase in the graph.
func (c *Controller) Advance(ctx context.Context) (*types.MigrationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		snapshot := *c.state
		return &snapshot, nil
	}

	if rolled, err := c.checkTimeBudget(ctx); rolled {
		snapshot := *c.state
		return &snapshot, err
	}

	switch c.state.Phase {
	case types.MigrationPreparation:
		return c.transition(ctx, types.MigrationShadow)
	case types.MigrationShadow:
		return c.transition(ctx, types.MigrationCanary)
	case types.MigrationCanary:
		return c.transition(ctx, types.MigrationGradual)
	case types.MigrationGradual:
		return c.advanceGradual(ctx)
	case types.MigrationFull:
		return c.advanceCleanup(ctx)
	case types.MigrationCleanup:
		return c.transition(ctx, types.MigrationCompleted)
	case types.MigrationCompleted:
		return c.transition(ctx, types.MigrationInactive)
	default:
		return nil, types.ErrInvalidTransition
	}
}

func (c *Controller) transition(ctx context.Context, to types.MigrationPhase) (*types.MigrationState, error) {
	if !types.IsValidMigrationTransition(c.state.Phase, to) {
		return nil, types.ErrInvalidTransition
	}
	c.state.Phase = to
	now := time.Now().UTC()
	c.state.LastCheckpoint = &now
	if to == types.MigrationInactive {
		c.resetState()
	}
	if err := c.sidecar.Save(c.state); err != nil {
		return nil, err
	}
	snapshot := *c.state
	return &snapshot, nil
}

func (c *Controller) resetState() {
	c.state = &types.MigrationState{Phase: types.MigrationInactive, PrimaryModel: c.state.PrimaryModel}
	c.paused = false
	c.probes = probeHistory{}
}

// advanceCleanup performs FULL -> CLEANUP's documented action: drop the old
// primary collection and swap the active model pointer.
func (c *Controller) advanceCleanup(ctx context.Context) (*types.MigrationState, error) {
	if err := c.backendCall(func() error {
		return c.vectors.DropCollection(ctx, PrimaryCollection)
	}); err != nil {
		return nil, c.failAndRollback(ctx, fmt.Sprintf("cleanup: drop old primary collection: %v", err))
	}
	c.state.PrimaryModel = c.state.SecondaryModel
	c.state.SecondaryModel = ""
	return c.transition(ctx, types.MigrationCleanup)
}

// advanceGradual re-embeds up to BatchSize primary-only memories into the
// secondary collection, retrying per-item failures with the fixed backoff
// sequence before deferring them to the end of GRADUAL. After the batch,
// quality gates are evaluated and FULL may be reached.
func (c *Controller) advanceGradual(ctx context.Context) (*types.MigrationState, error) {
	memories, err := c.store.ListForDecay(ctx)
	if err != nil {
		return nil, err
	}

	pending := make([]*types.Memory, 0, c.cfg.BatchSize)
	for _, m := range memories {
		if m.EmbeddingModel == c.state.SecondaryModel {
			continue
		}
		pending = append(pending, m)
		if len(pending) >= c.cfg.BatchSize {
			break
		}
	}

	var deferred []string
	for _, m := range pending {
		if err := c.reembedWithRetry(ctx, m); err != nil {
			deferred = append(deferred, m.ID)
			continue
		}
		c.state.Progress.Migrated++
	}
	c.state.Progress.Total = len(memories)
	c.state.DeferredIDs = append(c.state.DeferredIDs, deferred...)

	if len(pending) == 0 && len(c.state.DeferredIDs) > 0 {
		retrying := c.state.DeferredIDs
		c.state.DeferredIDs = nil
		for _, id := range retrying {
			m, err := c.store.Get(ctx, id)
			if err != nil {
				continue
			}
			if err := c.reembedWithRetry(ctx, m); err != nil {
				c.state.DeferredIDs = append(c.state.DeferredIDs, id)
				continue
			}
			c.state.Progress.Migrated++
		}
	}

	now := time.Now().UTC()
	c.state.LastCheckpoint = &now
	if err := c.sidecar.Save(c.state); err != nil {
		return nil, err
	}

	mean, ok := c.probes.rollingMean(c.cfg.ProbeWindow)
	fullyMigrated := c.state.Progress.Total > 0 && c.state.Progress.Migrated >= c.state.Progress.Total && len(c.state.DeferredIDs) == 0
	if ok && mean >= c.cfg.QualityThreshold && fullyMigrated {
		return c.transition(ctx, types.MigrationFull)
	}

	snapshot := *c.state
	return &snapshot, nil
}

func (c *Controller) reembedWithRetry(ctx context.Context, m *types.Memory) error {
	var vector []float32
	op := func() error {
		v, err := c.embedder.Embed(ctx, m.Content.Project(), c.state.SecondaryModel)
		if err != nil {
			return err
		}
		vector = v
		return nil
	}
	if err := backoff.Retry(op, &fixedSequenceBackOff{delays: backoffSequence}); err != nil {
		return err
	}
	return c.finishReembed(ctx, m, vector)
}

// fixedSequenceBackOff emits exactly the 250ms/500ms/1s/2s/4s delays, then
// stops retrying (backoff.Stop).
type fixedSequenceBackOff struct {
	delays []time.Duration
	next   int
}

func (b *fixedSequenceBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.next]
	b.next++
	return d
}

func (b *fixedSequenceBackOff) Reset() { b.next = 0 }

func (c *Controller) finishReembed(ctx context.Context, m *types.Memory, vector []float32) error {
	if err := c.backendCall(func() error {
		return c.vectors.Upsert(ctx, SecondaryCollection, m.ID, vector)
	}); err != nil {
		return err
	}
	_, err := c.store.Update(ctx, m.ID, func(patch *types.Memory) error {
		patch.EmbeddingModel = c.state.SecondaryModel
		return nil
	})
	return err
}

// RecordProbe folds one retrieval-time probe into the rolling quality
// window and the descriptive PrimaryScore/SecondaryScore running means
// surfaced in the migration snapshot.
func (c *Controller) RecordProbe(p ProbeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !types.IsActiveMigrationPhase(c.state.Phase) {
		return
	}

	signal := qualitySignal(p)
	c.probes.add(signal)

	n := float64(c.state.Quality.Samples)
	primaryTop := averageScore(p.Primary, 10)
	secondaryTop := averageScore(p.Secondary, 10)
	c.state.Quality.PrimaryScore = (c.state.Quality.PrimaryScore*n + primaryTop) / (n + 1)
	c.state.Quality.SecondaryScore = (c.state.Quality.SecondaryScore*n + secondaryTop) / (n + 1)
	c.state.Quality.Samples++

	if mean, ok := c.probes.rollingMean(c.cfg.ProbeWindow); ok && mean < c.cfg.RollbackThreshold {
		_ = c.rollbackLocked(context.Background(), fmt.Sprintf("rolling quality signal %.3f fell below threshold %.3f", mean, c.cfg.RollbackThreshold))
	}
}

func averageScore(hits []storage.ScoredID, k int) float64 {
	top := topK(hits, k)
	if len(top) == 0 {
		return 0
	}
	var sum float64
	for _, h := range top {
		sum += h.Score
	}
	return sum / float64(len(top))
}

func (c *Controller) checkTimeBudget(ctx context.Context) (bool, error) {
	if !types.IsActiveMigrationPhase(c.state.Phase) || c.state.StartedAt == nil {
		return false, nil
	}
	if time.Since(*c.state.StartedAt) > c.cfg.maxTime() {
		reason := fmt.Sprintf("migration wall-time exceeded %dh budget", c.cfg.MaxTimeHours)
		return true, c.rollbackLocked(ctx, reason)
	}
	return false, nil
}

// Rollback transitions an active migration to ROLLING_BACK and back to
// INACTIVE, dropping the secondary collection and restoring the primary
// read pointer.
func (c *Controller) Rollback(ctx context.Context) (*types.MigrationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !types.IsActiveMigrationPhase(c.state.Phase) {
		return nil, types.ErrInvalidTransition
	}
	if err := c.rollbackLocked(ctx, "operator requested rollback"); err != nil {
		return nil, err
	}
	snapshot := *c.state
	return &snapshot, nil
}

func (c *Controller) failAndRollback(ctx context.Context, reason string) error {
	if err := c.rollbackLocked(ctx, reason); err != nil {
		return err
	}
	return types.ErrBackendUnavailable
}

// rollbackLocked performs the rollback mechanics; callers must hold c.mu.
func (c *Controller) rollbackLocked(ctx context.Context, reason string) error {
	c.state.Phase = types.MigrationRollingBack
	_ = c.backendCall(func() error {
		return c.vectors.DropCollection(ctx, SecondaryCollection)
	})

	primaryModel := c.state.PrimaryModel
	c.state = &types.MigrationState{
		Phase:             types.MigrationInactive,
		PrimaryModel:      primaryModel,
		LastFailureReason: reason,
	}
	c.paused = false
	c.probes = probeHistory{}
	return c.sidecar.Save(c.state)
}
