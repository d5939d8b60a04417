package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"nutbutter/config"
	"nutbutter/internal/domain"
	"nutbutter/internal/events"
	"nutbutter/internal/models"
	"nutbutter/internal/repository"
	"nutbutter/pkg/payment"
)

// Safaricom MSISDN: 2547XXXXXXXX or 2541XXXXXXXX.
var phoneRe = regexp.MustCompile(`^254[17]\d{8}$`)

type InitiateParams struct {
	OrderReference string
	CustomerID     uint
	AmountCents    int64
	Currency       string
	PayerPhone     string
	Description    string
}

// Tracker creates payment requests, pushes them to the provider and owns
// the PENDING side of the state machine (cancel, timeout sweep).
type Tracker struct {
	requests        RequestStore
	auditLog        EventStore
	provider        payment.Provider
	orders          OrderNotifier
	publisher       NoticePublisher
	hub             StatusBroadcaster
	callbackURL     string
	providerTimeout time.Duration
}

func NewTracker(
	cfg *config.Config,
	requests RequestStore,
	auditLog EventStore,
	provider payment.Provider,
	orders OrderNotifier,
	publisher NoticePublisher,
	hub StatusBroadcaster,
) *Tracker {
	callbackURL := ""
	if cfg.Daraja.WebhookBaseURL != "" {
		callbackURL = cfg.Daraja.WebhookBaseURL + "/api/v1/webhooks/mpesa"
	}
	return &Tracker{
		requests:        requests,
		auditLog:        auditLog,
		provider:        provider,
		orders:          orders,
		publisher:       publisher,
		hub:             hub,
		callbackURL:     callbackURL,
		providerTimeout: cfg.Payment.ProviderTimeout,
	}
}

// Initiate persists a PENDING request, then pushes the STK prompt. The
// record exists before the outbound call is made, so a callback can never
// beat its own request into the store. The provider's CheckoutRequestID
// replaces the local correlation id once returned.
func (t *Tracker) Initiate(ctx context.Context, in InitiateParams) (*models.PaymentRequest, error) {
	if in.OrderReference == "" {
		return nil, fmt.Errorf("%w: order reference required", ErrInvalidRequest)
	}
	if in.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if !phoneRe.MatchString(in.PayerPhone) {
		return nil, fmt.Errorf("%w: payer phone must be a 254XXXXXXXXX MSISDN", ErrInvalidRequest)
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "KES"
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidRequest)
	}

	existing, err := t.requests.GetPendingByOrderReference(in.OrderReference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: order %s already tracked by %s", ErrDuplicatePendingRequest, in.OrderReference, existing.CorrelationID)
	}

	correlationID := "nbs-" + uuid.NewString()
	pendingRef := in.OrderReference
	pr := &models.PaymentRequest{
		CorrelationID:   correlationID,
		OrderReference:  in.OrderReference,
		CustomerID:      in.CustomerID,
		AmountCents:     in.AmountCents,
		Currency:        currency,
		PayerPhone:      in.PayerPhone,
		Status:          domain.StatusPending,
		PendingOrderRef: &pendingRef,
	}
	// The unique index on pending_order_ref settles the race the lookup above
	// cannot: two concurrent initiates for one order, exactly one create wins.
	if err := t.requests.Create(pr); err != nil {
		if errors.Is(err, repository.ErrDuplicatePendingOrder) {
			return nil, fmt.Errorf("%w: order %s", ErrDuplicatePendingRequest, in.OrderReference)
		}
		return nil, err
	}
	if aerr := t.auditLog.Append(&models.PaymentEvent{
		CorrelationID: correlationID,
		AttemptedAt:   time.Now(),
		Action:        domain.EventRequestCreated,
		ToStatus:      domain.StatusPending,
		Source:        domain.SourceCheckout,
		Detail:        fmt.Sprintf("order_ref=%s amount_cents=%d", in.OrderReference, in.AmountCents),
	}); aerr != nil {
		log.Printf("[TRACKER] audit append failed correlation_id=%s action=%s: %v", correlationID, domain.EventRequestCreated, aerr)
	}

	description := in.Description
	if description == "" {
		description = "Linda's Nut Butter Store order " + in.OrderReference
	}
	cctx, cancel := context.WithTimeout(ctx, t.providerTimeout)
	defer cancel()
	resp, err := t.provider.InitiateSTKPush(cctx, payment.STKRequest{
		OrderReference: in.OrderReference,
		CorrelationID:  correlationID,
		AmountCents:    in.AmountCents,
		Currency:       currency,
		PayerPhone:     in.PayerPhone,
		Description:    description,
		CallbackURL:    t.callbackURL,
	})
	if err != nil {
		log.Printf("[TRACKER] stk push failed order_ref=%s correlation_id=%s: %v", in.OrderReference, correlationID, err)
		// Synchronous provider failure: settle the record as FAILED so a
		// retry mints a fresh correlation id instead of reusing this one.
		if _, terr := t.requests.Transition(correlationID, domain.StatusPending, domain.StatusFailed, &models.PaymentEvent{
			CorrelationID: correlationID,
			AttemptedAt:   time.Now(),
			Action:        domain.EventProviderRejected,
			FromStatus:    domain.StatusPending,
			ToStatus:      domain.StatusFailed,
			Source:        domain.SourceProvider,
			Detail:        err.Error(),
		}); terr != nil && !errors.Is(terr, repository.ErrStateConflict) {
			log.Printf("[TRACKER] could not fail request %s: %v", correlationID, terr)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if resp.CheckoutRequestID != "" {
		if err := t.requests.MergeCorrelationID(correlationID, resp.CheckoutRequestID, resp.MerchantRequestID, resp.Raw); err != nil {
			return nil, err
		}
		if aerr := t.auditLog.Append(&models.PaymentEvent{
			CorrelationID: resp.CheckoutRequestID,
			AttemptedAt:   time.Now(),
			Action:        domain.EventProviderAccepted,
			Source:        domain.SourceProvider,
			Detail:        fmt.Sprintf("local_ref=%s merchant_request_id=%s", correlationID, resp.MerchantRequestID),
		}); aerr != nil {
			log.Printf("[TRACKER] audit append failed correlation_id=%s action=%s: %v", resp.CheckoutRequestID, domain.EventProviderAccepted, aerr)
		}
		correlationID = resp.CheckoutRequestID
	}
	log.Printf("[TRACKER] stk push sent order_ref=%s correlation_id=%s", in.OrderReference, correlationID)
	out, err := t.requests.GetByCorrelationID(correlationID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotFound
	}
	return out, nil
}

func (t *Tracker) GetByCorrelationID(id string) (*models.PaymentRequest, error) {
	pr, err := t.requests.GetByCorrelationID(id)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, ErrNotFound
	}
	return pr, nil
}

func (t *Tracker) ListByOrderReference(ref string) ([]*models.PaymentRequest, error) {
	return t.requests.ListByOrderReference(ref)
}

func (t *Tracker) ListEvents(correlationID string) ([]*models.PaymentEvent, error) {
	return t.auditLog.ListByCorrelationID(correlationID)
}

// CurrentStatus satisfies the websocket hub's lookup for the initial push.
func (t *Tracker) CurrentStatus(correlationID string) (string, bool) {
	pr, err := t.requests.GetByCorrelationID(correlationID)
	if err != nil || pr == nil {
		return "", false
	}
	return pr.Status, true
}

// Cancel moves a PENDING request to CANCELLED. Cancelling a terminal record
// is a no-op reported as ErrAlreadyTerminal.
func (t *Tracker) Cancel(ctx context.Context, correlationID string) (*models.PaymentRequest, error) {
	pr, err := t.requests.GetByCorrelationID(correlationID)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, ErrNotFound
	}
	if domain.IsTerminal(pr.Status) {
		return pr, ErrAlreadyTerminal
	}
	updated, err := t.requests.Transition(correlationID, domain.StatusPending, domain.StatusCancelled, &models.PaymentEvent{
		CorrelationID: correlationID,
		AttemptedAt:   time.Now(),
		Action:        domain.EventCancelled,
		FromStatus:    domain.StatusPending,
		ToStatus:      domain.StatusCancelled,
		Source:        domain.SourceCheckout,
	})
	if errors.Is(err, repository.ErrStateConflict) {
		// Lost the race against a callback or the sweep.
		cur, gerr := t.requests.GetByCorrelationID(correlationID)
		if gerr != nil || cur == nil {
			return nil, ErrNotFound
		}
		return cur, ErrAlreadyTerminal
	}
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if t.orders != nil {
		if oerr := t.orders.UpdatePaymentStatus(updated.OrderReference, domain.StatusCancelled, now); oerr != nil {
			log.Printf("[TRACKER] order update failed order_ref=%s: %v", updated.OrderReference, oerr)
		}
	}
	if t.publisher != nil {
		_ = t.publisher.Publish(paymentNotice(updated, domain.StatusCancelled, now))
	}
	if t.hub != nil {
		t.hub.BroadcastStatus(updated.CorrelationID, domain.StatusCancelled)
	}
	return updated, nil
}

// SweepTimeouts moves PENDING requests older than maxAge to TIMED_OUT and
// returns the records it transitioned. Propagating TIMED_OUT to the order
// system is the caller's job (the sweeper loop does it).
func (t *Tracker) SweepTimeouts(ctx context.Context, maxAge time.Duration) ([]*models.PaymentRequest, error) {
	cutoff := time.Now().Add(-maxAge)
	stale, err := t.requests.ListPendingOlderThan(cutoff)
	if err != nil {
		return nil, err
	}
	var swept []*models.PaymentRequest
	for _, pr := range stale {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		updated, terr := t.requests.Transition(pr.CorrelationID, domain.StatusPending, domain.StatusTimedOut, &models.PaymentEvent{
			CorrelationID: pr.CorrelationID,
			AttemptedAt:   time.Now(),
			Action:        domain.EventTimedOut,
			FromStatus:    domain.StatusPending,
			ToStatus:      domain.StatusTimedOut,
			Source:        domain.SourceSweep,
			Detail:        fmt.Sprintf("pending longer than %s", maxAge),
		})
		if errors.Is(terr, repository.ErrStateConflict) {
			continue // a callback settled it first
		}
		if terr != nil {
			log.Printf("[SWEEP] transition failed correlation_id=%s: %v", pr.CorrelationID, terr)
			continue
		}
		swept = append(swept, updated)
	}
	return swept, nil
}

func paymentNotice(pr *models.PaymentRequest, status string, occurredAt time.Time) events.PaymentNotice {
	return events.PaymentNotice{
		Type:           "payment." + strings.ToLower(status),
		CorrelationID:  pr.CorrelationID,
		OrderReference: pr.OrderReference,
		Status:         status,
		AmountCents:    pr.AmountCents,
		Currency:       pr.Currency,
		ReceiptNumber:  pr.ReceiptNumber,
		OccurredAt:     occurredAt.Format(time.RFC3339),
	}
}
