package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"nutbutter/internal/domain"
	"nutbutter/internal/models"
	"nutbutter/internal/repository"
)

// CallbackSource identifies where a callback delivery came from, recorded
// in the audit trail.
type CallbackSource struct {
	IP        string
	UserAgent string
}

type ReconciliationResult struct {
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	Duplicate     bool   `json:"duplicate"`
	ReceiptNumber string `json:"receipt_number,omitempty"`
}

// Reconciler matches asynchronous provider callbacks to pending payment
// requests and applies the resulting state transition exactly once.
type Reconciler struct {
	requests  RequestStore
	auditLog  EventStore
	orders    OrderNotifier
	publisher NoticePublisher
	hub       StatusBroadcaster
}

func NewReconciler(
	requests RequestStore,
	auditLog EventStore,
	orders OrderNotifier,
	publisher NoticePublisher,
	hub StatusBroadcaster,
) *Reconciler {
	return &Reconciler{
		requests:  requests,
		auditLog:  auditLog,
		orders:    orders,
		publisher: publisher,
		hub:       hub,
	}
}

// stkCallback is the Daraja callback after structural validation. Unknown
// and extra fields in the raw payload are ignored.
type stkCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
}

func (cb *stkCallback) outcome() string {
	if cb.ResultCode == 0 {
		return domain.StatusConfirmed
	}
	return domain.StatusFailed
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func parseSTKCallback(raw []byte) (*stkCallback, error) {
	var env stkCallbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	sc := env.Body.StkCallback
	if sc == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}
	if sc.CheckoutRequestID == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	if sc.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}
	cb := &stkCallback{
		MerchantRequestID: sc.MerchantRequestID,
		CheckoutRequestID: sc.CheckoutRequestID,
		ResultCode:        *sc.ResultCode,
		ResultDesc:        sc.ResultDesc,
	}
	for _, item := range sc.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if s, ok := item.Value.(string); ok {
				cb.ReceiptNumber = s
			}
		}
	}
	return cb, nil
}

// HandleCallback validates the raw payload, matches it by correlation id and
// applies the transition. Redelivered callbacks for an already settled
// request are acknowledged without a second transition; a callback that
// disagrees with the recorded outcome is surfaced as ErrConflictingCallback
// and never overwrites it.
func (r *Reconciler) HandleCallback(ctx context.Context, raw []byte, src CallbackSource) (*ReconciliationResult, error) {
	cb, err := parseSTKCallback(raw)
	if err != nil {
		return nil, err
	}

	pr, err := r.requests.GetByCorrelationID(cb.CheckoutRequestID)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		log.Printf("[RECONCILE] unknown correlation_id=%s result_code=%d", cb.CheckoutRequestID, cb.ResultCode)
		if aerr := r.auditLog.Append(&models.PaymentEvent{
			CorrelationID: cb.CheckoutRequestID,
			AttemptedAt:   time.Now(),
			Action:        domain.EventUnknownCorrelation,
			Source:        domain.SourceCallback,
			SourceIP:      src.IP,
			Detail:        fmt.Sprintf("result_code=%d desc=%s", cb.ResultCode, cb.ResultDesc),
		}); aerr != nil {
			log.Printf("[RECONCILE] audit append failed correlation_id=%s action=%s: %v", cb.CheckoutRequestID, domain.EventUnknownCorrelation, aerr)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownCorrelation, cb.CheckoutRequestID)
	}

	// Keep the payload verbatim whatever happens next.
	_ = r.requests.SetRawResponse(pr.CorrelationID, string(raw))

	if domain.IsTerminal(pr.Status) {
		return r.resolveTerminal(pr, cb, src)
	}

	outcome := cb.outcome()
	action := domain.EventConfirmed
	if outcome == domain.StatusFailed {
		action = domain.EventFailed
	}
	updated, err := r.requests.Transition(pr.CorrelationID, domain.StatusPending, outcome, &models.PaymentEvent{
		CorrelationID: pr.CorrelationID,
		AttemptedAt:   time.Now(),
		Action:        action,
		FromStatus:    domain.StatusPending,
		ToStatus:      outcome,
		Source:        domain.SourceCallback,
		SourceIP:      src.IP,
		Detail:        cb.ResultDesc,
	})
	if errors.Is(err, repository.ErrStateConflict) {
		// A twin callback or the timeout sweep won; re-read and treat this
		// delivery as terminal.
		cur, gerr := r.requests.GetByCorrelationID(pr.CorrelationID)
		if gerr != nil {
			return nil, gerr
		}
		if cur == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCorrelation, pr.CorrelationID)
		}
		return r.resolveTerminal(cur, cb, src)
	}
	if err != nil {
		return nil, err
	}
	if cb.ReceiptNumber != "" {
		_ = r.requests.SetReceiptNumber(updated.CorrelationID, cb.ReceiptNumber)
		updated.ReceiptNumber = cb.ReceiptNumber
	}
	log.Printf("[RECONCILE] correlation_id=%s %s -> %s order_ref=%s", updated.CorrelationID, domain.StatusPending, outcome, updated.OrderReference)

	now := time.Now()
	if r.orders != nil {
		if oerr := r.orders.UpdatePaymentStatus(updated.OrderReference, outcome, now); oerr != nil {
			log.Printf("[RECONCILE] order update failed order_ref=%s: %v", updated.OrderReference, oerr)
		}
	}
	if r.publisher != nil {
		_ = r.publisher.Publish(paymentNotice(updated, outcome, now))
	}
	if r.hub != nil {
		r.hub.BroadcastStatus(updated.CorrelationID, outcome)
	}
	return &ReconciliationResult{
		CorrelationID: updated.CorrelationID,
		Status:        outcome,
		ReceiptNumber: updated.ReceiptNumber,
	}, nil
}

// resolveTerminal handles a callback for an already settled request. A
// redelivery is consistent when it agrees with the recorded outcome about
// whether money moved: CONFIRMED matches only a success report, and any
// non-success report matches FAILED, TIMED_OUT or CANCELLED.
func (r *Reconciler) resolveTerminal(pr *models.PaymentRequest, cb *stkCallback, src CallbackSource) (*ReconciliationResult, error) {
	recordedPaid := pr.Status == domain.StatusConfirmed
	reportedPaid := cb.outcome() == domain.StatusConfirmed
	if recordedPaid == reportedPaid {
		if aerr := r.auditLog.Append(&models.PaymentEvent{
			CorrelationID: pr.CorrelationID,
			AttemptedAt:   time.Now(),
			Action:        domain.EventDuplicateDelivery,
			FromStatus:    pr.Status,
			Source:        domain.SourceCallback,
			SourceIP:      src.IP,
			Detail:        fmt.Sprintf("result_code=%d desc=%s", cb.ResultCode, cb.ResultDesc),
		}); aerr != nil {
			log.Printf("[RECONCILE] audit append failed correlation_id=%s action=%s: %v", pr.CorrelationID, domain.EventDuplicateDelivery, aerr)
		}
		return &ReconciliationResult{
			CorrelationID: pr.CorrelationID,
			Status:        pr.Status,
			Duplicate:     true,
			ReceiptNumber: pr.ReceiptNumber,
		}, nil
	}
	log.Printf("[RECONCILE] CONFLICT correlation_id=%s recorded=%s reported=%s", pr.CorrelationID, pr.Status, cb.outcome())
	if aerr := r.auditLog.Append(&models.PaymentEvent{
		CorrelationID: pr.CorrelationID,
		AttemptedAt:   time.Now(),
		Action:        domain.EventConflictingCallback,
		FromStatus:    pr.Status,
		Source:        domain.SourceCallback,
		SourceIP:      src.IP,
		Detail:        fmt.Sprintf("recorded=%s reported=%s result_code=%d desc=%s", pr.Status, cb.outcome(), cb.ResultCode, cb.ResultDesc),
	}); aerr != nil {
		log.Printf("[RECONCILE] audit append failed correlation_id=%s action=%s: %v", pr.CorrelationID, domain.EventConflictingCallback, aerr)
	}
	return nil, fmt.Errorf("%w: recorded=%s reported=%s", ErrConflictingCallback, pr.Status, cb.outcome())
}

// RebuildState folds the audit log for a correlation id back into the state
// the request should be in; used to verify the primary record or recover it.
// Events recorded before the provider id was merged in live under the local
// correlation id referenced in the provider_accepted entry's detail.
func (r *Reconciler) RebuildState(correlationID string) (string, error) {
	evs, err := r.auditLog.ListByCorrelationID(correlationID)
	if err != nil {
		return "", err
	}
	if len(evs) == 0 {
		return "", ErrNotFound
	}
	state := ""
	for _, ev := range evs {
		if ev.ToStatus == "" {
			continue
		}
		if state == "" || ev.FromStatus == state {
			state = ev.ToStatus
		}
	}
	if state == "" {
		// Only the merge entry exists under the provider id; the request
		// was created PENDING under its local id.
		state = domain.StatusPending
	}
	return state, nil
}
