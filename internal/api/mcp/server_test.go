package mcp_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/cortexmem/cortexmem/internal/api/mcp"
	"github.com/cortexmem/cortexmem/internal/config"
	"github.com/cortexmem/cortexmem/internal/domain"
	"github.com/cortexmem/cortexmem/internal/episodic"
	"github.com/cortexmem/cortexmem/internal/migration"
	"github.com/cortexmem/cortexmem/internal/semantic"
	"github.com/cortexmem/cortexmem/internal/storage"
	"github.com/cortexmem/cortexmem/pkg/types"
)

type fakeStore struct{ byID map[string]*types.Memory }

func newFakeStore() *fakeStore { return &fakeStore{byID: map[string]*types.Memory{}} }

func (s *fakeStore) Put(ctx context.Context, m *types.Memory) error { s.byID[m.ID] = m; return nil }
func (s *fakeStore) Get(ctx context.Context, id string) (*types.Memory, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return m, nil
}
func (s *fakeStore) Update(ctx context.Context, id string, patch func(*types.Memory) error) (*types.Memory, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if err := patch(m); err != nil {
		return nil, err
	}
	return m, nil
}
func (s *fakeStore) Delete(ctx context.Context, id string) error {
	if _, ok := s.byID[id]; !ok {
		return types.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}
func (s *fakeStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error) {
	var items []types.Memory
	for _, m := range s.byID {
		items = append(items, *m)
	}
	return &storage.PaginatedResult[types.Memory]{Items: items, Total: len(items)}, nil
}
func (s *fakeStore) MoveTier(ctx context.Context, id string, newTier types.Tier) error { return nil }
func (s *fakeStore) Stats(ctx context.Context) (storage.Stats, error) {
	return storage.Stats{Total: len(s.byID), ByType: map[string]int{}, ByTier: map[string]int{}, IndexSizes: map[string]int{}}, nil
}
func (s *fakeStore) ApplyAccess(ctx context.Context, updates []storage.AccessUpdate) error { return nil }
func (s *fakeStore) ListForDecay(ctx context.Context) ([]*types.Memory, error)             { return nil, nil }
func (s *fakeStore) ExpireArchived(ctx context.Context, olderThanDays int) ([]storage.ExpiredMemory, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

type fakeVectors struct{ vecs map[string][]float32 }

func newFakeVectors() *fakeVectors { return &fakeVectors{vecs: map[string][]float32{}} }

func (v *fakeVectors) Upsert(ctx context.Context, collection, id string, vector []float32) error {
	v.vecs[id] = vector
	return nil
}
func (v *fakeVectors) Delete(ctx context.Context, collection, id string) error {
	delete(v.vecs, id)
	return nil
}
func (v *fakeVectors) Search(ctx context.Context, collection string, vector []float32, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	var hits []storage.ScoredID
	for id := range v.vecs {
		hits = append(hits, storage.ScoredID{ID: id, Score: 0.5})
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
func (v *fakeVectors) Dimension(ctx context.Context, collection string) (int, error) { return 4, nil }
func (v *fakeVectors) CreateCollection(ctx context.Context, collection string, dimension int) error {
	return nil
}
func (v *fakeVectors) DropCollection(ctx context.Context, collection string) error { return nil }
func (v *fakeVectors) Count(ctx context.Context, collection string) (int, error)   { return len(v.vecs), nil }

type fakeLexical struct{ text map[string]string }

func newFakeLexical() *fakeLexical { return &fakeLexical{text: map[string]string{}} }

func (l *fakeLexical) Index(ctx context.Context, id, text string) error { l.text[id] = text; return nil }
func (l *fakeLexical) Remove(ctx context.Context, id string) error     { delete(l.text, id); return nil }
func (l *fakeLexical) Search(ctx context.Context, query string, k int, filter storage.SearchFilter) ([]storage.ScoredID, error) {
	var hits []storage.ScoredID
	for id := range l.text {
		hits = append(hits, storage.ScoredID{ID: id, Score: 0.5})
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

type fakeEmbedder struct{ dim int }

func (e *fakeEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	return make([]float32, e.dim), nil
}
func (e *fakeEmbedder) Dimension(model string) int { return e.dim }

type fakeReflectionGen struct{}

func (fakeReflectionGen) Reflect(ctx context.Context, excerpts []episodic.Excerpt) (string, error) {
	return "summary", nil
}

type syncDispatcher struct{}

func (syncDispatcher) Dispatch(task func(ctx context.Context)) { task(context.Background()) }

func newTestServer(t *testing.T) *mcp.Server {
	t.Helper()
	cfg := config.Default()
	store := newFakeStore()
	vectors := newFakeVectors()
	lexical := newFakeLexical()
	embedder := &fakeEmbedder{dim: 4}
	semEngine := semantic.NewEngine(store, vectors, lexical, embedder, semantic.DefaultConfig())
	episodicMgr := episodic.NewManager(store, fakeReflectionGen{}, syncDispatcher{})
	sidecar := migration.NewSidecarStore(filepath.Join(t.TempDir(), "migration.json"))
	migCtrl, err := migration.NewController(migration.DefaultConfig(), sidecar, store, vectors, embedder)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	mgr := domain.NewManager(cfg, store, vectors, lexical, embedder, semEngine, episodicMgr, migCtrl)
	mgr.Readiness().Advance(domain.StateTransportReady)
	mgr.Readiness().Advance(domain.StateWarming)
	mgr.Readiness().Advance(domain.StateReady)
	return mcp.NewServer(mgr)
}

func call(t *testing.T, srv *mcp.Server, method string, params interface{}, id int) mcp.JSONRPCResponse {
	t.Helper()
	req := mcp.JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	respJSON, err := srv.HandleRequest(context.Background(), raw)
	if err != nil {
		t.Fatalf("HandleRequest returned error: %v", err)
	}
	var resp mcp.JSONRPCResponse
	if err := json.Unmarshal(respJSON, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func toolCall(name string, args interface{}) mcp.MCPToolCallParams {
	raw, _ := json.Marshal(args)
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return mcp.MCPToolCallParams{Name: name, Arguments: m}
}

func TestHandleRequest_Initialize(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "initialize", map[string]interface{}{}, 1)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestHandleRequest_ToolsListIncludesAllTwelveTools(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "tools/list", map[string]interface{}{}, 1)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var listResult mcp.MCPToolsListResult
	if err := json.Unmarshal(data, &listResult); err != nil {
		t.Fatalf("unmarshal tools list: %v", err)
	}
	if len(listResult.Tools) != 12 {
		t.Fatalf("expected 12 tools, got %d", len(listResult.Tools))
	}
}

func TestHandleRequest_ToolsCallStoreThenRetrieveMemory(t *testing.T) {
	srv := newTestServer(t)

	storeParams := toolCall("store_memory", map[string]interface{}{
		"type":    "fact",
		"content": map[string]interface{}{"statement": "the sky is blue"},
	})
	storeResp := call(t, srv, "tools/call", storeParams, 1)
	if storeResp.Error != nil {
		t.Fatalf("store_memory error: %+v", storeResp.Error)
	}

	retrieveParams := toolCall("retrieve_memory", map[string]interface{}{"query": "sky"})
	retrieveResp := call(t, srv, "tools/call", retrieveParams, 2)
	if retrieveResp.Error != nil {
		t.Fatalf("retrieve_memory error: %+v", retrieveResp.Error)
	}
}

func TestHandleRequest_ToolsCallRejectsUnknownMemoryType(t *testing.T) {
	srv := newTestServer(t)
	params := toolCall("store_memory", map[string]interface{}{"type": "bogus", "content": map[string]interface{}{}})
	resp := call(t, srv, "tools/call", params, 1)
	if resp.Error != nil {
		t.Fatalf("expected a tool-level error envelope, not a JSON-RPC error: %+v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var toolResult mcp.MCPToolCallResult
	if err := json.Unmarshal(data, &toolResult); err != nil {
		t.Fatalf("unmarshal tool result: %v", err)
	}
	if !toolResult.IsError {
		t.Fatalf("expected IsError=true for unknown memory type")
	}
}

func TestHandleRequest_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, "not_a_real_method", map[string]interface{}{}, 1)
	if resp.Error == nil || resp.Error.Code != mcp.ErrCodeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestHandleRequest_MalformedJSONReturnsParseError(t *testing.T) {
	srv := newTestServer(t)
	respJSON, err := srv.HandleRequest(context.Background(), []byte("{not json"))
	if err != nil {
		t.Fatalf("HandleRequest returned error: %v", err)
	}
	var resp mcp.JSONRPCResponse
	if err := json.Unmarshal(respJSON, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != mcp.ErrCodeParseError {
		t.Fatalf("expected parse error, got %+v", resp.Error)
	}
}

func TestHandleRequest_MigrationLifecycle(t *testing.T) {
	srv := newTestServer(t)

	start := call(t, srv, "tools/call", toolCall("migration_start", map[string]interface{}{"target_model": "new-model"}), 1)
	if start.Error != nil {
		t.Fatalf("migration_start error: %+v", start.Error)
	}

	status := call(t, srv, "tools/call", toolCall("migration_status", map[string]interface{}{}), 2)
	if status.Error != nil {
		t.Fatalf("migration_status error: %+v", status.Error)
	}

	advance := call(t, srv, "tools/call", toolCall("migration_advance", map[string]interface{}{}), 3)
	if advance.Error != nil {
		t.Fatalf("migration_advance error: %+v", advance.Error)
	}
}
