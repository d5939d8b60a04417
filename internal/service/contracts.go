package service

import (
	"time"

	"nutbutter/internal/events"
	"nutbutter/internal/models"
)

// RequestStore is the persistence contract for payment requests. Transition
// is the only state mutation: a compare-and-swap on the current status plus
// the audit append, applied atomically (repository.ErrStateConflict when the
// record is no longer in the expected state).
type RequestStore interface {
	Create(p *models.PaymentRequest) error
	GetByCorrelationID(id string) (*models.PaymentRequest, error)
	GetPendingByOrderReference(ref string) (*models.PaymentRequest, error)
	ListByOrderReference(ref string) ([]*models.PaymentRequest, error)
	ListPendingOlderThan(cutoff time.Time) ([]*models.PaymentRequest, error)
	MergeCorrelationID(oldID, newID, merchantRequestID, raw string) error
	SetRawResponse(correlationID, raw string) error
	SetReceiptNumber(correlationID, receipt string) error
	Transition(correlationID, from, to string, ev *models.PaymentEvent) (*models.PaymentRequest, error)
}

// EventStore is the append-only audit log.
type EventStore interface {
	Append(ev *models.PaymentEvent) error
	ListByCorrelationID(correlationID string) ([]*models.PaymentEvent, error)
}

// OrderNotifier is the narrow interface into the order system: payment
// status and timestamp, nothing else.
type OrderNotifier interface {
	UpdatePaymentStatus(ref, status string, occurredAt time.Time) error
}

// NoticePublisher emits terminal payment events for downstream consumers.
type NoticePublisher interface {
	Publish(n events.PaymentNotice) error
}

// StatusBroadcaster pushes status changes to connected checkout sessions.
type StatusBroadcaster interface {
	BroadcastStatus(correlationID, status string)
}
