package models

import (
	"time"
)

// PaymentEvent is one append-only audit entry for a transition attempt,
// keyed by (correlation id, attempt timestamp). Entries are never updated
// or deleted; the request state can be rebuilt by folding them in order.
type PaymentEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CorrelationID string    `gorm:"size:128;not null;uniqueIndex:idx_event_attempt" json:"correlation_id"`
	AttemptedAt   time.Time `gorm:"not null;uniqueIndex:idx_event_attempt" json:"attempted_at"`
	Action        string    `gorm:"size:50;not null;index" json:"action"`
	FromStatus    string    `gorm:"size:20" json:"from_status"`
	ToStatus      string    `gorm:"size:20" json:"to_status"` // empty for non-transition events (duplicates, conflicts)
	Source        string    `gorm:"size:20" json:"source"`    // checkout, provider, callback, sweep
	SourceIP      string    `gorm:"size:45" json:"source_ip"`
	Detail        string    `gorm:"type:text" json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

func (PaymentEvent) TableName() string {
	return "payment_events"
}
