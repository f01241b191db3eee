// cmd/cortexmem-mcp is the entry point for the cortexmem MCP (Model Context
// Protocol) server: a persistent memory service for conversational
// assistants exposed over line-delimited JSON-RPC 2.0 on stdin/stdout.
//
// Startup sequence:
//  1. Load configuration (YAML file via CORTEXMEM_CONFIG_FILE + CORTEXMEM_*
//     env overrides + defaults).
//  2. Open the configured storage backend (sqlite:// or postgres://) and
//     build the vector/lexical indexes on top of it.
//  3. Construct the embedding client (HTTP, wrapped in an LRU cache and a
//     circuit breaker), the semantic retrieval engine, the episodic
//     reflection manager, the migration controller, and the temporal decay
//     loop. Readiness advances starting -> transport_ready only after steps
//     2 and 3 are done, just before the transport is created, so the
//     storage backend is already open when warming begins.
//  4. If CORTEXMEM_CONFIG_FILE is set, start a watcher that reloads it on
//     write and pushes the new retrieval/decay tunables into the running
//     manager and decay loop.
//  5. Warm the embedder with a trivial probe call in the background, then
//     advance readiness warming -> ready.
//  6. Serve JSON-RPC 2.0 requests from stdin, writing responses to stdout,
//     until the process receives SIGINT/SIGTERM, at which point readiness
//     moves ready -> draining -> stopped.
//
// CRITICAL: ALL logging MUST go to stderr. Any bytes written to stdout that
// are not valid JSON-RPC 2.0 response frames will corrupt the protocol.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cortexmem/cortexmem/internal/api/mcp"
	"github.com/cortexmem/cortexmem/internal/config"
	"github.com/cortexmem/cortexmem/internal/domain"
	"github.com/cortexmem/cortexmem/internal/embedding"
	"github.com/cortexmem/cortexmem/internal/episodic"
	"github.com/cortexmem/cortexmem/internal/migration"
	"github.com/cortexmem/cortexmem/internal/semantic"
	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/internal/storage/postgres"
	"github.com/cortexmem/cortexmem/internal/storage/sqlite"
	"github.com/cortexmem/cortexmem/internal/temporal"
)

const embedderCacheSize = 4096

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("cortexmem-mcp: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.Load(os.Getenv("CORTEXMEM_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	store, vectors, lexical, closeStore, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("failed to open storage backend %q: %v", cfg.VectorBackendURL, err)
	}
	defer closeStore()

	if err := vectors.CreateCollection(ctx, cfg.CollectionName, cfg.Dimension); err != nil {
		log.Fatalf("failed to create vector collection %q: %v", cfg.CollectionName, err)
	}

	embedder := buildEmbedder(cfg)

	semEngine := semantic.NewEngine(store, vectors, lexical, embedder, semantic.Config{
		FusedWeight:       1 - cfg.Retrieval.RecencyWeight - cfg.Retrieval.ImportanceWeight,
		RecencyWeight:     cfg.Retrieval.RecencyWeight,
		ImportanceWeight:  cfg.Retrieval.ImportanceWeight,
		SemanticThreshold: cfg.Retrieval.SemanticThreshold,
		DedupThreshold:    0.92,
		CollectionName:    cfg.CollectionName,
		CandidateFanout:   4,
	})

	workers := episodic.NewWorkerPool(ctx, cfg.Background.MaxWorkers, cfg.Background.MaxQueueSize)
	defer workers.Stop()
	reflectionGen := episodic.NewPromptReflectionGenerator(episodic.NewOllamaTextGenerator(cfg.RemoteEmbeddingURL, cfg.ReflectionModel, 10*time.Second))
	episodicMgr := episodic.NewManager(store, reflectionGen, workers)

	migCfg := migration.Config{
		Enabled:           cfg.Migration.Enabled,
		QualityThreshold:  cfg.Migration.QualityThreshold,
		RollbackThreshold: cfg.Migration.RollbackThreshold,
		MaxTimeHours:      cfg.Migration.MaxTimeHours,
		BatchSize:         cfg.Migration.BatchSize,
		CanaryFraction:    0.05,
		ProbeWindow:       50,
	}
	sidecar := migration.NewSidecarStore(sidecarPath())
	migCtrl, err := migration.NewController(migCfg, sidecar, store, vectors, embedder)
	if err != nil {
		log.Fatalf("failed to build migration controller: %v", err)
	}

	decayLoop := temporal.NewLoop(store, temporal.Config{
		DecayRate:             cfg.DecayRate,
		Floor:                 0.2,
		ShortTermThreshold:    cfg.Tiers.ShortTermThreshold,
		ArchivalThresholdDays: cfg.Tiers.ArchivalThresholdDays,
		MaxShortTerm:          cfg.Tiers.MaxShortTerm,
		MaxLongTerm:           cfg.Tiers.MaxLongTerm,
		AccessPromotionWindow: 6 * time.Hour,
		Interval:              config.DecayInterval,
		ArchiveRetentionDays:  cfg.Tiers.ArchiveRetentionDays,
	})

	mgr := domain.NewManager(cfg, store, vectors, lexical, embedder, semEngine, episodicMgr, migCtrl)
	readiness := mgr.Readiness()
	readiness.Advance(domain.StateTransportReady)

	var cfgWatcher *config.Watcher
	if configPath := os.Getenv("CORTEXMEM_CONFIG_FILE"); configPath != "" {
		cfgWatcher = config.NewWatcher(configPath, func(reloaded *config.Config) {
			mgr.UpdateConfig(reloaded)
			decayLoop.UpdateConfig(temporal.Config{
				DecayRate:             reloaded.DecayRate,
				Floor:                 0.2,
				ShortTermThreshold:    reloaded.Tiers.ShortTermThreshold,
				ArchivalThresholdDays: reloaded.Tiers.ArchivalThresholdDays,
				MaxShortTerm:          reloaded.Tiers.MaxShortTerm,
				MaxLongTerm:           reloaded.Tiers.MaxLongTerm,
				AccessPromotionWindow: 6 * time.Hour,
				Interval:              config.DecayInterval,
				ArchiveRetentionDays:  reloaded.Tiers.ArchiveRetentionDays,
			})
			log.Println("config: reloaded and applied to the running manager/decay loop")
		})
		if err := cfgWatcher.Start(); err != nil {
			log.Printf("config: hot-reload watch disabled: %v", err)
			cfgWatcher = nil
		} else {
			defer cfgWatcher.Stop()
		}
	}

	srv := mcp.NewServer(mgr)
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout)

	// Warm the embedder in the background so the tools/list handshake is not
	// gated on an external model round trip; readiness gates tool dispatch,
	// not protocol negotiation.
	go func() {
		readiness.Advance(domain.StateWarming)
		warmCtx, warmCancel := context.WithTimeout(ctx, 10*time.Second)
		defer warmCancel()
		if _, err := embedder.Embed(warmCtx, "warmup probe", cfg.EmbeddingModel); err != nil {
			log.Printf("embedder warmup failed, continuing degraded: %v", err)
		}
		decayLoop.Start(ctx)
		readiness.Advance(domain.StateReady)
		log.Println("ready — serving JSON-RPC 2.0 on stdin/stdout")
	}()

	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		readiness.Advance(domain.StateDraining)
		cancel()
	}()

	if err := transport.Serve(ctx); err != nil {
		log.Printf("transport stopped: %v", err)
	}

	decayLoop.Stop()
	readiness.Advance(domain.StateStopped)
}

// openBackend dispatches on the vector_backend_url scheme to build the
// storage triad (record store, vector index, lexical index) from either the
// sqlite or postgres implementation, which share identical interfaces.
func openBackend(cfg *config.Config) (storage.Store, storage.VectorIndex, storage.LexicalIndex, func(), error) {
	switch {
	case strings.HasPrefix(cfg.VectorBackendURL, "sqlite://"):
		path := strings.TrimPrefix(cfg.VectorBackendURL, "sqlite://")
		store, err := sqlite.NewMemoryStore(path)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return store, sqlite.NewVectorIndex(store.DB()), sqlite.NewLexicalIndex(store.DB()), func() { store.Close() }, nil
	case strings.HasPrefix(cfg.VectorBackendURL, "postgres://"), strings.HasPrefix(cfg.VectorBackendURL, "postgresql://"):
		store, err := postgres.NewMemoryStore(cfg.VectorBackendURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return store, postgres.NewVectorIndex(store.DB()), postgres.NewLexicalIndex(store.DB()), func() { store.Close() }, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unsupported vector_backend_url scheme: %q", cfg.VectorBackendURL)
	}
}

// embedderBurstRate and embedderBurstSize bound the backend's own request
// rate (not the CANARY sampler, which bounds secondary-probe rate): a
// migration GRADUAL batch or a flurry of store_memory calls is smoothed to
// this ceiling before it ever reaches the breaker or the HTTP client.
const (
	embedderBurstRate = 50.0
	embedderBurstSize = 10
)

// buildEmbedder layers the remote HTTP embedder with a rate limiter, a
// circuit breaker, and an LRU cache, in that order from the inside out: the cache is
// outermost so a hit never touches the limiter or breaker at all, and the
// limiter sits closest to the raw HTTP call so it bounds real backend
// traffic regardless of cache hit rate.
func buildEmbedder(cfg *config.Config) embedding.Embedder {
	httpEmbedder := embedding.NewHTTPEmbedder(embedding.HTTPEmbedderConfig{
		BaseURL: cfg.RemoteEmbeddingURL,
		Timeout: 5 * time.Second,
		Dimensions: map[string]int{
			cfg.EmbeddingModel: cfg.EmbeddingDimension,
		},
	})
	limited := embedding.NewRateLimitedEmbedder(httpEmbedder, embedderBurstRate, embedderBurstSize)
	breaker := embedding.NewBreakerEmbedder(limited, embedding.DefaultBreakerConfig())
	cached, err := embedding.NewCachedEmbedder(breaker, embedderCacheSize)
	if err != nil {
		log.Fatalf("failed to build embedding cache: %v", err)
	}
	return cached
}

// sidecarPath resolves the migration state sidecar file, defaulting to a
// path next to wherever the process is run from.
func sidecarPath() string {
	if p := os.Getenv("CORTEXMEM_MIGRATION_STATE_PATH"); p != "" {
		return p
	}
	return "./data/migration.json"
}
