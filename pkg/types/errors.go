package types

import "errors"

// Sentinel errors shared by every layer of the engine. Callers use
// errors.Is/errors.As against these; the api/mcp layer translates them into
// the external {code, message} error shape.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidContent     = errors.New("invalid content")
	ErrConflict           = errors.New("conflict")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrDimensionMismatch  = errors.New("dimension mismatch")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrTimeout            = errors.New("timeout")
	ErrInitializing       = errors.New("initializing")
	ErrDraining           = errors.New("draining")
	ErrInternal           = errors.New("internal error")
)
