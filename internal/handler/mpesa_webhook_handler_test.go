package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nutbutter/internal/domain"
	"nutbutter/internal/models"
	"nutbutter/internal/repository"
	"nutbutter/internal/service"

	"github.com/gin-gonic/gin"
)

// webhookStore holds a single seeded payment request, enough to drive the
// reconciler through the handler.
type webhookStore struct {
	record *models.PaymentRequest
	events []models.PaymentEvent
}

func (s *webhookStore) Create(p *models.PaymentRequest) error { return nil }

func (s *webhookStore) GetByCorrelationID(id string) (*models.PaymentRequest, error) {
	if s.record != nil && s.record.CorrelationID == id {
		cp := *s.record
		return &cp, nil
	}
	return nil, nil
}

func (s *webhookStore) GetPendingByOrderReference(ref string) (*models.PaymentRequest, error) {
	return nil, nil
}

func (s *webhookStore) ListByOrderReference(ref string) ([]*models.PaymentRequest, error) {
	return nil, nil
}

func (s *webhookStore) ListPendingOlderThan(cutoff time.Time) ([]*models.PaymentRequest, error) {
	return nil, nil
}

func (s *webhookStore) MergeCorrelationID(oldID, newID, merchantRequestID, raw string) error {
	return nil
}

func (s *webhookStore) SetRawResponse(correlationID, raw string) error {
	if s.record != nil && s.record.CorrelationID == correlationID {
		s.record.ProviderRawResponse = raw
	}
	return nil
}

func (s *webhookStore) SetReceiptNumber(correlationID, receipt string) error {
	if s.record != nil && s.record.CorrelationID == correlationID {
		s.record.ReceiptNumber = receipt
	}
	return nil
}

func (s *webhookStore) Transition(correlationID, from, to string, ev *models.PaymentEvent) (*models.PaymentRequest, error) {
	if s.record == nil || s.record.CorrelationID != correlationID {
		return nil, service.ErrNotFound
	}
	if s.record.Status != from {
		return nil, repository.ErrStateConflict
	}
	s.record.Status = to
	if ev != nil {
		s.events = append(s.events, *ev)
	}
	cp := *s.record
	return &cp, nil
}

func (s *webhookStore) Append(ev *models.PaymentEvent) error {
	s.events = append(s.events, *ev)
	return nil
}

func (s *webhookStore) ListByCorrelationID(correlationID string) ([]*models.PaymentEvent, error) {
	var out []*models.PaymentEvent
	for i := range s.events {
		if s.events[i].CorrelationID == correlationID {
			cp := s.events[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newWebhookRouter(store *webhookStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	reconciler := service.NewReconciler(store, store, nil, nil, nil)
	r := gin.New()
	r.POST("/api/v1/webhooks/mpesa", NewMpesaWebhookHandler(reconciler).Handle)
	return r
}

func postCallback(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/mpesa", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_SuccessCallbackAcked(t *testing.T) {
	store := &webhookStore{record: &models.PaymentRequest{
		CorrelationID:  "ws_CO_1",
		OrderReference: "A1",
		Status:         domain.StatusPending,
	}}
	r := newWebhookRouter(store)

	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"MpesaReceiptNumber","Value":"QK12XYZ789"}]}}}}`
	w := postCallback(r, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"ResultCode":0`) {
		t.Fatalf("expected provider ack, got %s", w.Body.String())
	}
	if store.record.Status != domain.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", store.record.Status)
	}
	if store.record.ReceiptNumber != "QK12XYZ789" {
		t.Fatalf("receipt not stored, got %q", store.record.ReceiptNumber)
	}
}

func TestWebhook_MalformedRejected(t *testing.T) {
	r := newWebhookRouter(&webhookStore{})
	for _, body := range []string{`{{{`, `{}`, `{"Body":{"stkCallback":{"ResultCode":0}}}`} {
		w := postCallback(r, body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
}

func TestWebhook_UnknownCorrelationStillAcked(t *testing.T) {
	store := &webhookStore{}
	r := newWebhookRouter(store)
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_ghost","ResultCode":0,"ResultDesc":"ok"}}}`
	w := postCallback(r, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ack for unknown correlation, got %d", w.Code)
	}
	if len(store.events) != 1 || store.events[0].Action != domain.EventUnknownCorrelation {
		t.Fatalf("expected unknown_correlation audit entry, got %+v", store.events)
	}
}

func TestWebhook_ConflictStillAcked(t *testing.T) {
	store := &webhookStore{record: &models.PaymentRequest{
		CorrelationID:  "ws_CO_1",
		OrderReference: "A1",
		Status:         domain.StatusConfirmed,
	}}
	r := newWebhookRouter(store)
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	w := postCallback(r, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ack for conflicting callback, got %d", w.Code)
	}
	if store.record.Status != domain.StatusConfirmed {
		t.Fatalf("conflict must not overwrite, got %s", store.record.Status)
	}
}

func TestWebhook_DuplicateAcked(t *testing.T) {
	store := &webhookStore{record: &models.PaymentRequest{
		CorrelationID:  "ws_CO_1",
		OrderReference: "A1",
		Status:         domain.StatusFailed,
	}}
	r := newWebhookRouter(store)
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	w := postCallback(r, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 ack for duplicate, got %d", w.Code)
	}
	if store.record.Status != domain.StatusFailed {
		t.Fatalf("duplicate must not change state, got %s", store.record.Status)
	}
}
