package models

import (
	"time"

	"github.com/google/uuid"
)

// StockLevel tracks the per-product warehouse counters.
//
// Invariant: 0 <= reserved_qty <= quantity_on_hand. Every mutation goes
// through a guarded UPDATE so the invariant holds after each statement.
type StockLevel struct {
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	QuantityOnHand int       `gorm:"column:quantity_on_hand;not null;default:0"`
	ReservedQty    int       `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Available returns the units a new shopper may still claim.
func (s StockLevel) Available() int {
	return s.QuantityOnHand - s.ReservedQty
}
