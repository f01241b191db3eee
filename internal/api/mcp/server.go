package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cortexmem/cortexmem/internal/domain"
	"github.com/cortexmem/cortexmem/pkg/types"
)

// Server dispatches JSON-RPC 2.0 / MCP requests to a domain.Manager. It owns
// no business logic of its own: argument decoding, schema advertisement, and
// error-class mapping are the only responsibilities here.
type Server struct {
	manager *domain.Manager
}

func NewServer(manager *domain.Manager) *Server {
	return &Server{manager: manager}
}

// HandleRequest processes a single JSON-RPC 2.0 request and returns the
// encoded response. It never returns a non-nil error: every failure is
// folded into a JSON-RPC error response so the transport always has a
// frame to write.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponseForErr(req.ID, err)
	}
	return s.successResponse(req.ID, result)
}

func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
		ServerInfo:      MCPServerInfo{Name: "cortexmem", Version: "1.0.0"},
	}, nil
}

func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: toolSchemas()}, nil
}

// handleToolsCall dispatches a tools/call request to the matching tool
// handler and wraps the result (or error) in the MCP content envelope.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	argsJSON, err := json.Marshal(p.Arguments)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal arguments: %v", types.ErrInvalidInput, err)
	}

	handler, ok := toolHandlers[p.Name]
	if !ok {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	result, handlerErr := handler(ctx, s.manager, argsJSON)
	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal result: %v", types.ErrInternal, err)
	}
	return &MCPToolCallResult{Content: []MCPToolCallContent{{Type: "text", Text: string(text)}}}, nil
}

// toolHandlerFunc unmarshals raw tool arguments, invokes the matching
// domain.Manager operation, and returns its result.
type toolHandlerFunc func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error)

var toolHandlers = map[string]toolHandlerFunc{
	"store_memory": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		var args domain.StoreMemoryArgs
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		return m.StoreMemory(ctx, args)
	},
	"retrieve_memory": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		var args domain.RetrieveMemoryArgs
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		return m.RetrieveMemory(ctx, args)
	},
	"list_memories": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		var args domain.ListMemoriesArgs
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		return m.ListMemories(ctx, args)
	},
	"update_memory": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		var args domain.UpdateMemoryArgs
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		return m.UpdateMemory(ctx, args)
	},
	"delete_memory": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		var args domain.DeleteMemoryArgs
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		return m.DeleteMemory(ctx, args)
	},
	"memory_stats": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		return m.MemoryStats(ctx)
	},
	"migration_start": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		var args domain.MigrationStartArgs
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
		}
		return m.MigrationStart(ctx, args)
	},
	"migration_status": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		return m.MigrationStatus(ctx)
	},
	"migration_advance": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		return m.MigrationAdvance(ctx)
	},
	"migration_pause": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		return m.MigrationPause(ctx)
	},
	"migration_resume": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		return m.MigrationResume(ctx)
	},
	"migration_rollback": func(ctx context.Context, m *domain.Manager, argsJSON []byte) (interface{}, error) {
		return m.MigrationRollback(ctx)
	},
}

// unmarshalParams decodes JSON-RPC params into a typed struct via a
// marshal/unmarshal round trip, since params arrives pre-decoded as
// interface{}.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: marshal params: %v", types.ErrInvalidInput, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: unmarshal params: %v", types.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id}
	return json.Marshal(resp)
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponseForErr maps a domain-level error to a JSON-RPC error code.
// Argument/validation failures become -32602 (Invalid params) per the
// tool-call contract; everything else is reported as a server error so the
// caller can distinguish "you sent something wrong" from "we failed".
func (s *Server) errorResponseForErr(id interface{}, err error) ([]byte, error) {
	switch {
	case errors.Is(err, types.ErrInvalidInput), errors.Is(err, types.ErrInvalidContent):
		return s.errorResponse(id, ErrCodeInvalidParams, err.Error(), nil)
	case errors.Is(err, types.ErrNotFound):
		return s.errorResponse(id, ErrCodeServerError, err.Error(), map[string]string{"reason": "not_found"})
	case errors.Is(err, types.ErrInvalidTransition):
		return s.errorResponse(id, ErrCodeServerError, err.Error(), map[string]string{"reason": "invalid_transition"})
	case errors.Is(err, types.ErrInitializing):
		return s.errorResponse(id, ErrCodeServerError, err.Error(), map[string]string{"reason": "initializing"})
	case errors.Is(err, types.ErrDraining):
		return s.errorResponse(id, ErrCodeServerError, err.Error(), map[string]string{"reason": "draining"})
	case errors.Is(err, types.ErrBackendUnavailable):
		return s.errorResponse(id, ErrCodeServerError, err.Error(), map[string]string{"reason": "backend_unavailable"})
	default:
		return s.errorResponse(id, ErrCodeInternalError, err.Error(), nil)
	}
}
