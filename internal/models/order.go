package models

import (
	"time"
)

// Order is the narrow projection of the commerce system's order that this
// service touches: it only ever reads Reference and writes the payment
// status fields. Everything else belongs to the order service.
type Order struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Reference        string     `gorm:"size:64;uniqueIndex;not null" json:"reference"`
	CustomerID       uint       `gorm:"index" json:"customer_id"`
	PaymentStatus    string     `gorm:"size:20;index" json:"payment_status"`
	PaymentUpdatedAt *time.Time `json:"payment_updated_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
