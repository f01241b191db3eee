// Package temporal implements age-aware importance decay, tier
// promotion/demotion, and archived-tier expiry — the Temporal responsibility
// of the engine.
package temporal

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// Config holds the tunables that drive decay and tier bound enforcement.
type Config struct {
	DecayRate             float64 // λ, default 0.01/day
	Floor                 float64 // minimum importance after decay, default 0.2
	ShortTermThreshold    float64 // default 0.3
	ArchivalThresholdDays int     // default 30
	MaxShortTerm          int     // default 1000
	MaxLongTerm           int     // default 10000
	AccessPromotionWindow time.Duration // default 6h
	Interval              time.Duration // loop tick, default 60s
	ArchiveRetentionDays  int           // permanent-delete cutoff for archived memories
}

// DefaultConfig returns the documented default tunables.
func DefaultConfig() Config {
	return Config{
		DecayRate:             0.01,
		Floor:                 0.2,
		ShortTermThreshold:    0.3,
		ArchivalThresholdDays: 30,
		MaxShortTerm:          1000,
		MaxLongTerm:           10000,
		AccessPromotionWindow: 6 * time.Hour,
		Interval:              time.Minute,
		ArchiveRetentionDays:  180,
	}
}

// Loop runs the decay/promotion/demotion/expiry sweep on a fixed interval
// until stopped, mirroring the started/cancel-context lifecycle shape used
// throughout the engine's background components.
type Loop struct {
	store  storage.Store
	cfg    atomic.Pointer[Config]
	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewLoop(store storage.Store, cfg Config) *Loop {
	l := &Loop{store: store}
	l.cfg.Store(&cfg)
	return l
}

// UpdateConfig atomically swaps the tunables the next sweep (and, for
// ArchiveRetentionDays, the current one) consults. Interval is read only at
// Start, so changing it takes effect on the next process restart rather
// than the running ticker.
func (l *Loop) UpdateConfig(cfg Config) {
	l.cfg.Store(&cfg)
}

// Start launches the background sweep goroutine. Calling Start twice is a
// no-op; callers must Stop before restarting.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	go func() {
		ticker := time.NewTicker(l.cfg.Load().Interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := l.Sweep(loopCtx); err != nil {
					log.Printf("temporal: sweep failed: %v", err)
				}
			}
		}
	}()
}

func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// Sweep runs one full decay/promotion/demotion/expiry pass. Exported so
// callers (and tests) can drive it synchronously without waiting on the
// ticker.
func (l *Loop) Sweep(ctx context.Context) error {
	memories, err := l.store.ListForDecay(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, m := range memories {
		l.applyDecay(m, now)
		newTier := l.nextTier(m, now)
		if newTier != "" && newTier != m.Tier {
			if err := l.store.MoveTier(ctx, m.ID, newTier); err != nil {
				log.Printf("temporal: move tier %s %s->%s: %v", m.ID, m.Tier, newTier, err)
				continue
			}
			m.Tier = newTier
		}
		if _, err := l.store.Update(ctx, m.ID, func(patch *types.Memory) error {
			patch.Importance = m.Importance
			return nil
		}); err != nil {
			log.Printf("temporal: write decayed importance for %s: %v", m.ID, err)
		}
	}

	if err := l.enforceBounds(ctx, memories); err != nil {
		return err
	}

	expired, err := l.store.ExpireArchived(ctx, l.cfg.Load().ArchiveRetentionDays)
	if err != nil {
		return err
	}
	for _, e := range expired {
		log.Printf("temporal: permanently expired archived memory %s (importance %.3f)", e.ID, e.Importance)
	}
	return nil
}

// applyDecay mutates m.Importance in place per
// importance <- max(floor, importance * exp(-λ * Δt_days)).
func (l *Loop) applyDecay(m *types.Memory, now time.Time) {
	days := now.Sub(m.UpdatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	decayed := m.Importance * math.Exp(-l.cfg.Load().DecayRate*days)
	if decayed < l.cfg.Load().Floor {
		decayed = l.cfg.Load().Floor
	}
	m.Importance = decayed
}

// nextTier returns the tier m should move to this sweep, or "" for no move.
func (l *Loop) nextTier(m *types.Memory, now time.Time) types.Tier {
	if m.LastAccessedAt != nil && now.Sub(*m.LastAccessedAt) <= l.cfg.Load().AccessPromotionWindow {
		if promoted := promoteOneLevel(m.Tier); promoted != "" {
			return promoted
		}
	}

	age := now.Sub(m.CreatedAt)
	switch m.Tier {
	case types.TierShortTerm:
		if m.Importance < l.cfg.Load().ShortTermThreshold && age > 24*time.Hour {
			return types.TierLongTerm
		}
	case types.TierLongTerm:
		if age > time.Duration(l.cfg.Load().ArchivalThresholdDays)*24*time.Hour && m.AccessCount == 0 {
			return types.TierArchived
		}
	}
	return ""
}

func promoteOneLevel(tier types.Tier) types.Tier {
	switch tier {
	case types.TierArchived:
		return types.TierLongTerm
	case types.TierLongTerm:
		return types.TierShortTerm
	default:
		return ""
	}
}

// enforceBounds demotes the lowest-importance memories in an over-bound tier
// until it satisfies max_short_term/max_long_term, breaking ties by oldest
// last_accessed_at.
func (l *Loop) enforceBounds(ctx context.Context, memories []*types.Memory) error {
	byTier := map[types.Tier][]*types.Memory{}
	for _, m := range memories {
		byTier[m.Tier] = append(byTier[m.Tier], m)
	}

	if err := l.demoteExcess(ctx, byTier[types.TierShortTerm], l.cfg.Load().MaxShortTerm, types.TierLongTerm); err != nil {
		return err
	}
	if err := l.demoteExcess(ctx, byTier[types.TierLongTerm], l.cfg.Load().MaxLongTerm, types.TierArchived); err != nil {
		return err
	}
	return nil
}

func (l *Loop) demoteExcess(ctx context.Context, tierMemories []*types.Memory, bound int, target types.Tier) error {
	if len(tierMemories) <= bound {
		return nil
	}
	sort.Slice(tierMemories, func(i, j int) bool {
		if tierMemories[i].Importance != tierMemories[j].Importance {
			return tierMemories[i].Importance < tierMemories[j].Importance
		}
		return lastAccessed(tierMemories[i]).Before(lastAccessed(tierMemories[j]))
	})

	excess := len(tierMemories) - bound
	for _, m := range tierMemories[:excess] {
		if err := l.store.MoveTier(ctx, m.ID, target); err != nil {
			return err
		}
	}
	return nil
}

func lastAccessed(m *types.Memory) time.Time {
	if m.LastAccessedAt != nil {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}
