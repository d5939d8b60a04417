package repository

import (
	"errors"
	"time"

	"nutbutter/internal/models"

	"gorm.io/gorm"
)

// ErrStateConflict is returned when a compare-and-swap transition finds the
// record no longer in the expected state (a concurrent callback or sweep won).
var ErrStateConflict = errors.New("payment request state changed concurrently")

// ErrDuplicatePendingOrder is returned when Create hits the unique index on
// pending_order_ref: another PENDING request for the same order already
// exists. The constraint makes the one-pending-per-order rule hold even for
// concurrent creates.
var ErrDuplicatePendingOrder = errors.New("order already has a pending payment request")

type PaymentRequestRepository struct {
	db *gorm.DB
}

func NewPaymentRequestRepository(db *gorm.DB) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db}
}

func (r *PaymentRequestRepository) Create(p *models.PaymentRequest) error {
	err := r.db.Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicatePendingOrder
	}
	return err
}

func (r *PaymentRequestRepository) GetByCorrelationID(id string) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := r.db.Where("correlation_id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRequestRepository) GetPendingByOrderReference(ref string) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := r.db.Where("order_reference = ? AND status = ?", ref, "PENDING").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRequestRepository) ListByOrderReference(ref string) ([]*models.PaymentRequest, error) {
	var out []*models.PaymentRequest
	err := r.db.Where("order_reference = ?", ref).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (r *PaymentRequestRepository) ListPendingOlderThan(cutoff time.Time) ([]*models.PaymentRequest, error) {
	var out []*models.PaymentRequest
	err := r.db.Where("status = ? AND created_at < ?", "PENDING", cutoff).Find(&out).Error
	return out, err
}

// MergeCorrelationID replaces the locally generated correlation id with the
// provider-assigned one and stores the raw provider response.
func (r *PaymentRequestRepository) MergeCorrelationID(oldID, newID, merchantRequestID, raw string) error {
	res := r.db.Model(&models.PaymentRequest{}).
		Where("correlation_id = ?", oldID).
		Updates(map[string]interface{}{
			"correlation_id":        newID,
			"merchant_request_id":   merchantRequestID,
			"provider_raw_response": raw,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetRawResponse stores the latest callback payload verbatim for audit.
func (r *PaymentRequestRepository) SetRawResponse(correlationID, raw string) error {
	return r.db.Model(&models.PaymentRequest{}).
		Where("correlation_id = ?", correlationID).
		Update("provider_raw_response", raw).Error
}

// Transition applies a state change and its audit entry as one atomic unit.
// The update is guarded on the current status, so two racing transitions on
// the same record cannot both win; the loser gets ErrStateConflict.
func (r *PaymentRequestRepository) Transition(correlationID, from, to string, ev *models.PaymentEvent) (*models.PaymentRequest, error) {
	var out models.PaymentRequest
	err := r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{
			"status":             to,
			"last_transition_at": now,
			"pending_order_ref":  nil,
		}
		if ev != nil && ev.Detail != "" && to == "FAILED" {
			updates["failure_reason"] = ev.Detail
		}
		res := tx.Model(&models.PaymentRequest{}).
			Where("correlation_id = ? AND status = ?", correlationID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		if ev != nil {
			if err := tx.Create(ev).Error; err != nil {
				return err
			}
		}
		return tx.Where("correlation_id = ?", correlationID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetReceiptNumber records the provider receipt after a confirmed callback.
func (r *PaymentRequestRepository) SetReceiptNumber(correlationID, receipt string) error {
	return r.db.Model(&models.PaymentRequest{}).
		Where("correlation_id = ?", correlationID).
		Update("receipt_number", receipt).Error
}
