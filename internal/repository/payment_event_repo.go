package repository

import (
	"nutbutter/internal/models"

	"gorm.io/gorm"
)

// PaymentEventRepository is append-only: Append is the only mutation, and
// nothing may edit or delete an entry once written.
type PaymentEventRepository struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Append(ev *models.PaymentEvent) error {
	return r.db.Create(ev).Error
}

func (r *PaymentEventRepository) ListByCorrelationID(correlationID string) ([]*models.PaymentEvent, error) {
	var out []*models.PaymentEvent
	err := r.db.Where("correlation_id = ?", correlationID).
		Order("attempted_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
