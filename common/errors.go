package common

import "errors"

// Sentinel errors shared across storage, delegation and the protocol layer.
// The websocket handler maps these onto wire-level error envelopes.
var (
	ErrNotFound         = errors.New("not found")
	ErrBadTransition    = errors.New("bad transition")
	ErrConflict         = errors.New("conflict")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotAcceptingWork = errors.New("not accepting work")
	ErrUpstreamFailure  = errors.New("upstream failure")

	// ErrTerminal signals a write against a block already in a terminal
	// status. Callers that race stream completion may ignore it.
	ErrTerminal = errors.New("block is terminal")
)
