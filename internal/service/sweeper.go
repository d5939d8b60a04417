package service

import (
	"context"
	"log"
	"time"

	"nutbutter/config"
	"nutbutter/internal/domain"
)

// Sweeper periodically times out stale PENDING requests and propagates the
// TIMED_OUT outcome to the order system and downstream consumers.
type Sweeper struct {
	tracker   *Tracker
	orders    OrderNotifier
	publisher NoticePublisher
	hub       StatusBroadcaster
	interval  time.Duration
	maxAge    time.Duration
}

func NewSweeper(cfg *config.Config, tracker *Tracker, orders OrderNotifier, publisher NoticePublisher, hub StatusBroadcaster) *Sweeper {
	return &Sweeper{
		tracker:   tracker,
		orders:    orders,
		publisher: publisher,
		hub:       hub,
		interval:  cfg.Payment.SweepInterval,
		maxAge:    cfg.Payment.PendingMaxAge,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		log.Printf("[SWEEP] started interval=%s max_age=%s", s.interval, s.maxAge)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[SWEEP] stopped")
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// SweepOnce runs a single pass; split out so tests can drive it directly.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	swept, err := s.tracker.SweepTimeouts(ctx, s.maxAge)
	if err != nil {
		log.Printf("[SWEEP] sweep failed: %v", err)
	}
	for _, pr := range swept {
		occurredAt := time.Now()
		if pr.LastTransitionAt != nil {
			occurredAt = *pr.LastTransitionAt
		}
		if s.orders != nil {
			if oerr := s.orders.UpdatePaymentStatus(pr.OrderReference, domain.StatusTimedOut, occurredAt); oerr != nil {
				log.Printf("[SWEEP] order update failed order_ref=%s: %v", pr.OrderReference, oerr)
			}
		}
		if s.publisher != nil {
			_ = s.publisher.Publish(paymentNotice(pr, domain.StatusTimedOut, occurredAt))
		}
		if s.hub != nil {
			s.hub.BroadcastStatus(pr.CorrelationID, domain.StatusTimedOut)
		}
	}
	if len(swept) > 0 {
		log.Printf("[SWEEP] timed out %d pending requests", len(swept))
	}
	return len(swept)
}
