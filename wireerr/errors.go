// Package wireerr collects the typed error kinds the networking core
// reports, per spec §7. Codec and validator errors drop the offending frame
// or connection; the synchronizer surfaces only Cancelled/Failed/success;
// the relay engine never returns an error from its public entry points, it
// only counts.
package wireerr

import "errors"

// Sentinel kinds. Use errors.Is against these, or errors.As against *Failed
// for the synchronizer's reason string.
var (
	// ErrMalformedFrame is returned when a frame's length prefix is absent,
	// truncated, or otherwise not a valid frame header.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownMessageType is returned when a frame's type byte has no
	// registered variant.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrPayloadOutOfRange is returned by a variant constructor or
	// deserializer when a field violates its documented bound.
	ErrPayloadOutOfRange = errors.New("payload field out of range")
	// ErrTimeout is returned when a per-request deadline expires.
	ErrTimeout = errors.New("request timed out")
	// ErrRateLimited is returned when a source exceeded its token bucket.
	ErrRateLimited = errors.New("rate limited")
	// ErrBandwidthExceeded is an outbound drop that is not a reputation event.
	ErrBandwidthExceeded = errors.New("bandwidth exceeded")
	// ErrValidationFailed is returned when the block validator rejects a
	// downloaded block.
	ErrValidationFailed = errors.New("validation failed")
	// ErrCancelled is surfaced by any long running operation whose
	// cancellation signal tripped; distinct from Failed.
	ErrCancelled = errors.New("cancelled")
	// ErrChainStoreError wraps a fatal error from the external chain store.
	ErrChainStoreError = errors.New("chain store error")
	// ErrNoPeersAvailable is fatal to the current sync run.
	ErrNoPeersAvailable = errors.New("no peers available")
	// ErrStreamClosed signals a clean EOF on receive (§4.6).
	ErrStreamClosed = errors.New("stream closed")
)

// Failed wraps a non-cancellation synchronizer failure with its human
// readable reason, e.g. "missing block at height h" (§4.13 Phase 4).
type Failed struct {
	Reason string
	Err    error
}

func (f *Failed) Error() string {
	if f.Err != nil {
		return f.Reason + ": " + f.Err.Error()
	}
	return f.Reason
}

func (f *Failed) Unwrap() error { return f.Err }

// NewFailed builds a Failed error for a given reason, optionally wrapping a
// lower level cause.
func NewFailed(reason string, cause error) *Failed {
	return &Failed{Reason: reason, Err: cause}
}
