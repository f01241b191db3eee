package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cortexmem/cortexmem/internal/config"
	"github.com/cortexmem/cortexmem/internal/embedding"
	"github.com/cortexmem/cortexmem/internal/episodic"
	"github.com/cortexmem/cortexmem/internal/migration"
	"github.com/cortexmem/cortexmem/internal/semantic"
	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

const defaultImportance = 0.5

// assumedRetrieveQPS bounds the CANARY sampler's token-bucket rate: the
// controller's CanaryFraction (default 5%) is scaled against an assumed
// retrieve_memory call rate to turn "sample 5% of calls" into a concrete
// tokens-per-second budget, rather than flipping a weighted coin on every
// call — this is what keeps a traffic spike from driving a proportional
// spike in secondary-collection probe load.
const assumedRetrieveQPS = 20.0

// Manager is the façade over the four domains (Persistence/Temporal folded
// into storage+temporal, Semantic, Episodic, Migration), enforcing
// readiness and argument validation before every dispatch.
type Manager struct {
	// cfgMu guards cfg and semantic: both are replaced wholesale by
	// UpdateConfig when the config file watcher reloads a changed file, so
	// every read goes through config()/engine() rather than the bare field.
	cfgMu    sync.RWMutex
	cfg      *config.Config
	semantic *semantic.Engine

	store     storage.Store
	vectors   storage.VectorIndex
	lexical   storage.LexicalIndex
	embedder  embedding.Embedder
	episodic  *episodic.Manager
	migration *migration.Controller
	readiness *Readiness

	// canarySampler bounds the rate of CANARY-phase dual-collection probes
	// (see migration_probe.go); GRADUAL probes continuously and does not
	// consult it.
	canarySampler *rate.Limiter
}

func NewManager(cfg *config.Config, store storage.Store, vectors storage.VectorIndex, lexical storage.LexicalIndex, embedder embedding.Embedder, semanticEngine *semantic.Engine, episodicMgr *episodic.Manager, migrationCtrl *migration.Controller) *Manager {
	canaryRate := migrationCtrl.CanaryFraction() * assumedRetrieveQPS
	return &Manager{
		cfg:           cfg,
		store:         store,
		vectors:       vectors,
		lexical:       lexical,
		embedder:      embedder,
		semantic:      semanticEngine,
		episodic:      episodicMgr,
		migration:     migrationCtrl,
		readiness:     NewReadiness(),
		canarySampler: rate.NewLimiter(rate.Limit(canaryRate), 1),
	}
}

func (m *Manager) Readiness() *Readiness { return m.readiness }

// config returns the live config, safe to call concurrently with UpdateConfig.
func (m *Manager) config() *config.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// engine returns the live retrieval engine, safe to call concurrently with
// UpdateConfig.
func (m *Manager) engine() *semantic.Engine {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.semantic
}

// UpdateConfig swaps the tunables subsequent calls consult and rebuilds the
// retrieval engine's weights/thresholds from the reloaded values. Invoked by
// the config file watcher after a reload passes validation; fields that are
// fixed at process startup (storage backend, embedding dimension) are
// carried over from the engine already in place rather than re-derived.
func (m *Manager) UpdateConfig(cfg *config.Config) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.cfg = cfg
	m.semantic = m.semantic.WithConfig(semantic.Config{
		FusedWeight:       1 - cfg.Retrieval.RecencyWeight - cfg.Retrieval.ImportanceWeight,
		RecencyWeight:     cfg.Retrieval.RecencyWeight,
		ImportanceWeight:  cfg.Retrieval.ImportanceWeight,
		SemanticThreshold: cfg.Retrieval.SemanticThreshold,
		DedupThreshold:    0.92,
		CollectionName:    cfg.CollectionName,
		CandidateFanout:   4,
	})
}

// StoreMemoryResult is store_memory's return shape.
type StoreMemoryResult struct {
	ID     string `json:"id"`
	Merged bool   `json:"merged"`
}

func (m *Manager) StoreMemory(ctx context.Context, args StoreMemoryArgs) (*StoreMemoryResult, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	memType := types.MemoryType(args.Type)
	content, err := types.DecodeContent(memType, args.Content)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	mem := &types.Memory{
		ID:             uuid.NewString(),
		Type:           memType,
		Content:        content,
		Importance:     defaultImportance,
		CreatedAt:      now,
		UpdatedAt:      now,
		Tier:           types.TierShortTerm,
		Tags:           args.Tags,
		Source:         args.Source,
		EmbeddingModel: m.config().EmbeddingModel,
	}
	if args.Importance != nil {
		mem.Importance = *args.Importance
	}
	mem.ClampImportance()

	vector, err := m.embedder.Embed(ctx, content.Project(), m.config().EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", types.ErrBackendUnavailable, err)
	}

	if mergedID, err := m.engine().Dedup(ctx, mem, vector); err != nil {
		return nil, err
	} else if mergedID != "" {
		return &StoreMemoryResult{ID: mergedID, Merged: true}, nil
	}

	// Index before inline: the vector/lexical entries are written before the
	// record itself, so a concurrent reader never observes a record with no
	// corresponding index entry.
	collection := m.config().CollectionName
	if err := m.vectors.Upsert(ctx, collection, mem.ID, vector); err != nil {
		return nil, fmt.Errorf("%w: vector upsert: %v", types.ErrBackendUnavailable, err)
	}
	if err := m.lexical.Index(ctx, mem.ID, content.Project()); err != nil {
		_ = m.vectors.Delete(ctx, collection, mem.ID)
		return nil, fmt.Errorf("%w: lexical index: %v", types.ErrBackendUnavailable, err)
	}
	ref := mem.ID
	mem.EmbeddingRef = &ref
	if err := m.store.Put(ctx, mem); err != nil {
		_ = m.vectors.Delete(ctx, collection, mem.ID)
		_ = m.lexical.Remove(ctx, mem.ID)
		return nil, err
	}

	if memType == types.TypeConversation {
		m.episodic.Observe(ctx, mem.ID, content.Project())
	}

	m.dualWriteSecondary(ctx, mem.ID, content)

	return &StoreMemoryResult{ID: mem.ID, Merged: false}, nil
}

// RetrieveMemoryResult is retrieve_memory's return shape.
type RetrieveMemoryResult struct {
	Results []RetrievedMemory `json:"results"`
}

type RetrievedMemory struct {
	ID     string        `json:"id"`
	Memory *types.Memory `json:"memory"`
	Score  float64       `json:"score"`
}

func (m *Manager) RetrieveMemory(ctx context.Context, args RetrieveMemoryArgs) (*RetrieveMemoryResult, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	filter := storage.SearchFilter{Types: args.Types}

	status := m.migration.Status()
	engine, model := m.engine(), m.config().EmbeddingModel
	if status.Phase == types.MigrationFull {
		// The active read pointer has flipped: serve from the secondary
		// collection under the secondary (now-current) model.
		engine = engine.WithCollection(migration.SecondaryCollection)
		model = status.SecondaryModel
	}
	results, err := engine.Retrieve(ctx, args.Query, model, args.limitOrDefault(), filter)
	if err != nil {
		return nil, err
	}

	m.maybeProbeMigration(ctx, args.Query, filter)

	threshold := args.minSimilarityOrDefault()
	out := make([]RetrievedMemory, 0, len(results))
	for _, r := range results {
		if r.Score < threshold {
			continue
		}
		out = append(out, RetrievedMemory{ID: r.Memory.ID, Memory: r.Memory, Score: r.Score})
	}
	return &RetrieveMemoryResult{Results: out}, nil
}

// ListMemoriesResult is list_memories's return shape.
type ListMemoriesResult struct {
	Items []*types.Memory `json:"items"`
	Total int             `json:"total"`
}

func (m *Manager) ListMemories(ctx context.Context, args ListMemoriesArgs) (*ListMemoriesResult, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	opts := storage.ListOptions{Types: args.Types, Tier: args.Tier, Limit: args.Limit, Offset: args.Offset}
	opts.Normalize()
	page, err := m.store.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	items := make([]*types.Memory, len(page.Items))
	for i := range page.Items {
		items[i] = &page.Items[i]
	}
	return &ListMemoriesResult{Items: items, Total: page.Total}, nil
}

// UpdateMemoryResult is update_memory's return shape.
type UpdateMemoryResult struct {
	ID string `json:"id"`
}

func (m *Manager) UpdateMemory(ctx context.Context, args UpdateMemoryArgs) (*UpdateMemoryResult, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	updated, err := m.store.Update(ctx, args.ID, func(mem *types.Memory) error {
		return applyPatch(mem, args.Patch)
	})
	if err != nil {
		return nil, err
	}
	updated.ClampImportance()

	if _, touched := args.Patch["content"]; touched {
		vector, err := m.embedder.Embed(ctx, updated.Content.Project(), m.config().EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("%w: re-embed on update: %v", types.ErrBackendUnavailable, err)
		}
		if err := m.vectors.Upsert(ctx, m.config().CollectionName, updated.ID, vector); err != nil {
			return nil, fmt.Errorf("%w: vector upsert on update: %v", types.ErrBackendUnavailable, err)
		}
		if err := m.lexical.Index(ctx, updated.ID, updated.Content.Project()); err != nil {
			return nil, fmt.Errorf("%w: lexical index on update: %v", types.ErrBackendUnavailable, err)
		}
		m.dualWriteSecondary(ctx, updated.ID, updated.Content)
	}

	return &UpdateMemoryResult{ID: updated.ID}, nil
}

func applyPatch(mem *types.Memory, patch map[string]interface{}) error {
	if raw, ok := patch["importance"]; ok {
		f, ok := raw.(float64)
		if !ok || f < 0 || f > 1 {
			return fmt.Errorf("%w: patch.importance must be a number in [0,1]", types.ErrInvalidInput)
		}
		mem.Importance = f
	}
	if raw, ok := patch["source"]; ok {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: patch.source must be a string", types.ErrInvalidInput)
		}
		mem.Source = s
	}
	if raw, ok := patch["tags"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return fmt.Errorf("%w: patch.tags must be an array of strings", types.ErrInvalidInput)
		}
		tags := make([]string, 0, len(list))
		for _, v := range list {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("%w: patch.tags must be an array of strings", types.ErrInvalidInput)
			}
			tags = append(tags, s)
		}
		mem.Tags = tags
	}
	if raw, ok := patch["content"]; ok {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: patch.content must be an object", types.ErrInvalidInput)
		}
		encoded, err := jsonMarshal(obj)
		if err != nil {
			return err
		}
		content, err := types.DecodeContent(mem.Type, encoded)
		if err != nil {
			return err
		}
		mem.Content = content
	}
	mem.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteMemoryResult is delete_memory's return shape.
type DeleteMemoryResult struct {
	Deleted bool `json:"deleted"`
}

func (m *Manager) DeleteMemory(ctx context.Context, args DeleteMemoryArgs) (*DeleteMemoryResult, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}

	// Record before index: the memory row disappears before its vector/
	// lexical entries are swept, so a concurrent reader never observes a
	// hit whose referenced record is already gone.
	if err := m.store.Delete(ctx, args.ID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return &DeleteMemoryResult{Deleted: false}, nil
		}
		return nil, err
	}
	_ = m.vectors.Delete(ctx, m.config().CollectionName, args.ID)
	_ = m.lexical.Remove(ctx, args.ID)
	return &DeleteMemoryResult{Deleted: true}, nil
}

// MemoryStatsResult is memory_stats's return shape.
type MemoryStatsResult struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"by_type"`
	ByTier map[string]int `json:"by_tier"`
	Index  map[string]int `json:"index"`
}

func (m *Manager) MemoryStats(ctx context.Context) (*MemoryStatsResult, error) {
	if err := m.readiness.CheckCallable(); err != nil {
		return nil, err
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &MemoryStatsResult{Total: stats.Total, ByType: stats.ByType, ByTier: stats.ByTier, Index: stats.IndexSizes}, nil
}
