package domain

// Payment request states. A request starts PENDING and reaches exactly one
// terminal state; terminal states never transition again.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusFailed    = "FAILED"
	StatusTimedOut  = "TIMED_OUT"
	StatusCancelled = "CANCELLED"
)

// Audit event actions recorded in the payment event log.
const (
	EventRequestCreated      = "request_created"
	EventProviderAccepted    = "provider_accepted"
	EventProviderRejected    = "provider_rejected"
	EventConfirmed           = "payment_confirmed"
	EventFailed              = "payment_failed"
	EventTimedOut            = "payment_timed_out"
	EventCancelled           = "payment_cancelled"
	EventDuplicateDelivery   = "duplicate_delivery"
	EventConflictingCallback = "conflicting_callback"
	EventUnknownCorrelation  = "unknown_correlation"
)

// Sources of a transition attempt.
const (
	SourceCheckout = "checkout"
	SourceProvider = "provider"
	SourceCallback = "callback"
	SourceSweep    = "sweep"
)

func IsTerminal(status string) bool {
	switch status {
	case StatusConfirmed, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a request may move from one state to another.
// Only PENDING has outgoing edges.
func CanTransition(from, to string) bool {
	if from != StatusPending {
		return false
	}
	return IsTerminal(to)
}
