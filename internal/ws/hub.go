package ws

import (
	"encoding/json"
	"sync"
)

// Client is a single checkout session waiting on one payment request.
type Client struct {
	CorrelationID string
	Send          chan []byte
	hub           *PaymentHub
	mu            sync.Mutex
	closed        bool
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
	if c.hub != nil {
		c.hub.unregister(c)
	}
}

// trySend delivers a message unless the client is closed or its buffer is
// full. Held under the same mutex as Close so a broadcast can never race a
// close onto the channel.
func (c *Client) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// PaymentHub fans payment status changes out to the checkout sessions
// subscribed to each correlation id.
type PaymentHub struct {
	mu            sync.RWMutex
	byCorrelation map[string]map[*Client]struct{}
}

func NewPaymentHub() *PaymentHub {
	return &PaymentHub{byCorrelation: make(map[string]map[*Client]struct{})}
}

func (h *PaymentHub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.hub = h
	if h.byCorrelation[c.CorrelationID] == nil {
		h.byCorrelation[c.CorrelationID] = make(map[*Client]struct{})
	}
	h.byCorrelation[c.CorrelationID][c] = struct{}{}
}

func (h *PaymentHub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byCorrelation[c.CorrelationID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byCorrelation, c.CorrelationID)
		}
	}
}

// BroadcastStatus pushes a status change to every session watching the
// correlation id. Slow clients are skipped, never blocked on.
func (h *PaymentHub) BroadcastStatus(correlationID, status string) {
	if h == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{
		"type":           "payment_status",
		"correlation_id": correlationID,
		"status":         status,
	})
	h.mu.RLock()
	m := h.byCorrelation[correlationID]
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.trySend(data)
	}
}

func (h *PaymentHub) SubscriberCount(correlationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byCorrelation[correlationID])
}
