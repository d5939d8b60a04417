package service

import "errors"

var (
	// ErrInvalidRequest means the caller sent a request that can never
	// succeed; it is not retried.
	ErrInvalidRequest = errors.New("invalid payment request")
	// ErrDuplicatePendingRequest means the order already has an active
	// PENDING request; the caller should wait for it or fetch it.
	ErrDuplicatePendingRequest = errors.New("order already has a pending payment request")
	// ErrProviderUnavailable is a transient outbound failure; the caller may
	// retry initiate with backoff. A retry always gets a fresh correlation id.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrMalformedCallback means the callback body is missing required
	// fields or has the wrong shape.
	ErrMalformedCallback = errors.New("malformed provider callback")
	// ErrUnknownCorrelation means no payment request matches the callback's
	// correlation id; logged and acknowledged, needs manual reconciliation.
	ErrUnknownCorrelation = errors.New("no payment request for correlation id")
	// ErrConflictingCallback means a callback disagrees with an already
	// recorded terminal outcome; never auto-resolved.
	ErrConflictingCallback = errors.New("callback conflicts with recorded outcome")
	// ErrAlreadyTerminal means the request already reached a terminal state;
	// the attempted operation is a no-op.
	ErrAlreadyTerminal = errors.New("payment request already terminal")
	// ErrNotFound for lookups by correlation id.
	ErrNotFound = errors.New("payment request not found")
)
