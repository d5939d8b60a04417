package payment

import (
	"context"
	"fmt"
	"time"
)

// StubProvider accepts every push without calling out; for development
// without Daraja credentials.
type StubProvider struct{}

func (s *StubProvider) InitiateSTKPush(ctx context.Context, req STKRequest) (*STKResponse, error) {
	ref := fmt.Sprintf("ws_CO_stub_%d", time.Now().UnixNano())
	return &STKResponse{
		CheckoutRequestID: ref,
		MerchantRequestID: fmt.Sprintf("stub-%s", req.OrderReference),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
		Raw:               fmt.Sprintf(`{"CheckoutRequestID":%q,"ResponseCode":"0"}`, ref),
	}, nil
}

func (s *StubProvider) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*QueryResponse, error) {
	return &QueryResponse{ResultCode: "0", ResultDesc: "The service request is processed successfully."}, nil
}
