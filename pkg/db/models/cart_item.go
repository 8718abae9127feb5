package models

import (
	"time"

	"github.com/google/uuid"
)

// CartItem snapshots one product line inside a cart. UnitPriceCents is the
// price at the moment the line was added, not the live catalog price.
type CartItem struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID            uuid.UUID `gorm:"column:cart_id;type:uuid;not null;index"`
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ProductSKU        string    `gorm:"column:product_sku;not null"`
	Qty               int       `gorm:"column:qty;not null"`
	UnitPriceCents    int       `gorm:"column:unit_price_cents;not null"`
	LineSubtotalCents int       `gorm:"column:line_subtotal_cents;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
