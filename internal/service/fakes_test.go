package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"nutbutter/config"
	"nutbutter/internal/events"
	"nutbutter/internal/models"
	"nutbutter/internal/repository"
	"nutbutter/internal/service"
	"nutbutter/pkg/payment"
)

// memRequestStore is an in-memory RequestStore with the same CAS semantics
// as the gorm repository: Transition checks the current status under the
// lock and appends the audit entry in the same critical section.
type memRequestStore struct {
	mu       sync.Mutex
	byCorr   map[string]*models.PaymentRequest
	eventLog *memEventStore
}

func newMemRequestStore(eventLog *memEventStore) *memRequestStore {
	return &memRequestStore{byCorr: make(map[string]*models.PaymentRequest), eventLog: eventLog}
}

func (s *memRequestStore) Create(p *models.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors the unique index on pending_order_ref: the check and the
	// insert happen under one lock, like the database constraint.
	if p.PendingOrderRef != nil {
		for _, existing := range s.byCorr {
			if existing.PendingOrderRef != nil && *existing.PendingOrderRef == *p.PendingOrderRef {
				return repository.ErrDuplicatePendingOrder
			}
		}
	}
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.byCorr[cp.CorrelationID] = &cp
	return nil
}

func (s *memRequestStore) GetByCorrelationID(id string) (*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byCorr[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memRequestStore) GetPendingByOrderReference(ref string) (*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byCorr {
		if p.OrderReference == ref && p.Status == "PENDING" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memRequestStore) ListByOrderReference(ref string) ([]*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PaymentRequest
	for _, p := range s.byCorr {
		if p.OrderReference == ref {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memRequestStore) ListPendingOlderThan(cutoff time.Time) ([]*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PaymentRequest
	for _, p := range s.byCorr {
		if p.Status == "PENDING" && p.CreatedAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memRequestStore) MergeCorrelationID(oldID, newID, merchantRequestID, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byCorr[oldID]
	if !ok {
		return service.ErrNotFound
	}
	delete(s.byCorr, oldID)
	p.CorrelationID = newID
	p.MerchantRequestID = merchantRequestID
	p.ProviderRawResponse = raw
	s.byCorr[newID] = p
	return nil
}

func (s *memRequestStore) SetRawResponse(correlationID, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byCorr[correlationID]; ok {
		p.ProviderRawResponse = raw
	}
	return nil
}

func (s *memRequestStore) SetReceiptNumber(correlationID, receipt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byCorr[correlationID]; ok {
		p.ReceiptNumber = receipt
	}
	return nil
}

func (s *memRequestStore) Transition(correlationID, from, to string, ev *models.PaymentEvent) (*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byCorr[correlationID]
	if !ok {
		return nil, service.ErrNotFound
	}
	if p.Status != from {
		return nil, repository.ErrStateConflict
	}
	now := time.Now()
	p.Status = to
	p.LastTransitionAt = &now
	p.PendingOrderRef = nil
	if ev != nil {
		_ = s.eventLog.Append(ev)
	}
	cp := *p
	return &cp, nil
}

// setCreatedAt backdates a record for sweep tests.
func (s *memRequestStore) setCreatedAt(correlationID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.byCorr[correlationID]; ok {
		p.CreatedAt = t
	}
}

type memEventStore struct {
	mu        sync.Mutex
	evs       []models.PaymentEvent
	appendErr error
}

func (s *memEventStore) append(ev *models.PaymentEvent) {
	cp := *ev
	if cp.AttemptedAt.IsZero() {
		cp.AttemptedAt = time.Now()
	}
	s.evs = append(s.evs, cp)
}

func (s *memEventStore) Append(ev *models.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.append(ev)
	return nil
}

func (s *memEventStore) ListByCorrelationID(correlationID string) ([]*models.PaymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PaymentEvent
	for i := range s.evs {
		if s.evs[i].CorrelationID == correlationID {
			cp := s.evs[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memEventStore) actions(correlationID string) []string {
	evs, _ := s.ListByCorrelationID(correlationID)
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Action)
	}
	return out
}

type fakeOrders struct {
	mu      sync.Mutex
	updates map[string][]string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{updates: make(map[string][]string)}
}

func (f *fakeOrders) UpdatePaymentStatus(ref, status string, occurredAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[ref] = append(f.updates[ref], status)
	return nil
}

func (f *fakeOrders) statuses(ref string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.updates[ref]...)
}

type fakePublisher struct {
	mu      sync.Mutex
	notices []events.PaymentNotice
}

func (f *fakePublisher) Publish(n events.PaymentNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

type fakeHub struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeHub) BroadcastStatus(correlationID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, correlationID+":"+status)
}

type fakeProvider struct {
	mu       sync.Mutex
	resp     *payment.STKResponse
	err      error
	requests []payment.STKRequest
	seq      int
}

func (f *fakeProvider) InitiateSTKPush(ctx context.Context, req payment.STKRequest) (*payment.STKResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	f.seq++
	return &payment.STKResponse{
		CheckoutRequestID: "ws_CO_" + req.OrderReference,
		MerchantRequestID: "mr_" + req.OrderReference,
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
		Raw:               `{"ResponseCode":"0"}`,
	}, nil
}

func (f *fakeProvider) QuerySTKStatus(ctx context.Context, checkoutRequestID string) (*payment.QueryResponse, error) {
	return &payment.QueryResponse{ResultCode: "0"}, nil
}

// stack bundles a fully wired tracker/reconciler/sweeper over the in-memory
// stores for tests.
type stack struct {
	cfg        *config.Config
	requests   *memRequestStore
	eventLog   *memEventStore
	orders     *fakeOrders
	publisher  *fakePublisher
	hub        *fakeHub
	provider   *fakeProvider
	tracker    *service.Tracker
	reconciler *service.Reconciler
	sweeper    *service.Sweeper
}

func newStack() *stack {
	cfg := &config.Config{}
	cfg.Payment.ProviderTimeout = time.Second
	cfg.Payment.PendingMaxAge = time.Minute
	cfg.Payment.SweepInterval = time.Second
	cfg.Daraja.WebhookBaseURL = "https://shop.test"

	eventLog := &memEventStore{}
	requests := newMemRequestStore(eventLog)
	orders := newFakeOrders()
	publisher := &fakePublisher{}
	hub := &fakeHub{}
	provider := &fakeProvider{}

	tracker := service.NewTracker(cfg, requests, eventLog, provider, orders, publisher, hub)
	reconciler := service.NewReconciler(requests, eventLog, orders, publisher, hub)
	sweeper := service.NewSweeper(cfg, tracker, orders, publisher, hub)
	return &stack{
		cfg:        cfg,
		requests:   requests,
		eventLog:   eventLog,
		orders:     orders,
		publisher:  publisher,
		hub:        hub,
		provider:   provider,
		tracker:    tracker,
		reconciler: reconciler,
		sweeper:    sweeper,
	}
}

func successCallback(correlationID string) []byte {
	return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":"` + correlationID + `","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":500},{"Name":"MpesaReceiptNumber","Value":"QK12XYZ789"},{"Name":"PhoneNumber","Value":254700000000}]}}}}`)
}

func failureCallback(correlationID string) []byte {
	return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"mr-1","CheckoutRequestID":"` + correlationID + `","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`)
}
