package payment

import (
	"context"
)

type STKRequest struct {
	OrderReference string
	CorrelationID  string // local correlation id, passed as the account reference
	AmountCents    int64
	Currency       string
	PayerPhone     string // e.g. 254712345678
	Description    string
	CallbackURL    string
}

type STKResponse struct {
	CheckoutRequestID string // provider-assigned correlation id
	MerchantRequestID string
	ResponseCode      string
	CustomerMessage   string
	Raw               string // response body verbatim, kept for audit
}

type QueryResponse struct {
	ResultCode string
	ResultDesc string
	Raw        string
}

type Provider interface {
	InitiateSTKPush(ctx context.Context, req STKRequest) (*STKResponse, error)
	// QuerySTKStatus asks the provider for the current state of a push,
	// used for manual reconciliation of unmatched callbacks.
	QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*QueryResponse, error)
}
