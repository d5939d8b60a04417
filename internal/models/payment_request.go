package models

import (
	"time"
)

// PaymentRequest is one STK-push attempt for an order. CorrelationID starts
// as a locally generated id and is replaced by the provider's
// CheckoutRequestID once the STK push is accepted; callbacks match on it.
type PaymentRequest struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	CorrelationID       string     `gorm:"size:128;uniqueIndex;not null" json:"correlation_id"`
	OrderReference      string     `gorm:"size:64;not null;index" json:"order_reference"`
	CustomerID          uint       `gorm:"index" json:"customer_id"`
	AmountCents         int64      `gorm:"not null" json:"amount_cents"`
	Currency            string     `gorm:"size:3;default:'KES'" json:"currency"`
	PayerPhone          string     `gorm:"size:20;not null" json:"payer_phone"`
	Status              string     `gorm:"size:20;not null;index" json:"status"` // PENDING, CONFIRMED, FAILED, TIMED_OUT, CANCELLED
	// PendingOrderRef holds the order reference while the request is PENDING
	// and is cleared on every transition out of it. The unique index makes
	// "at most one PENDING request per order" a database guarantee instead of
	// a read-then-create check.
	PendingOrderRef *string `gorm:"size:64;uniqueIndex" json:"-"`
	MerchantRequestID   string     `gorm:"size:128" json:"merchant_request_id"`
	ReceiptNumber       string     `gorm:"size:64" json:"receipt_number"`
	FailureReason       string     `gorm:"size:255" json:"failure_reason"`
	ProviderRawResponse string     `gorm:"type:text" json:"-"` // kept verbatim for audit, never re-parsed
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastTransitionAt    *time.Time `json:"last_transition_at"`
}

func (PaymentRequest) TableName() string {
	return "payment_requests"
}
