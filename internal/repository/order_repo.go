package repository

import (
	"errors"
	"time"

	"nutbutter/internal/models"

	"gorm.io/gorm"
)

// OrderRepository is the narrow write path into the commerce system's
// orders: payment status and its timestamp only.
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetByReference(ref string) (*models.Order, error) {
	var o models.Order
	err := r.db.Where("reference = ?", ref).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) UpdatePaymentStatus(ref, status string, occurredAt time.Time) error {
	return r.db.Model(&models.Order{}).
		Where("reference = ?", ref).
		Updates(map[string]interface{}{
			"payment_status":     status,
			"payment_updated_at": occurredAt,
		}).Error
}
