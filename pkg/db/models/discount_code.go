package models

import (
	"time"

	"github.com/oakmere/storefront-backend/pkg/enums"
)

// DiscountCode is a redeemable cart-level code. Value is a decimal string:
// a percentage (e.g. "10.5") for percentage codes, a cent amount for fixed.
type DiscountCode struct {
	Code      string             `gorm:"column:code;primaryKey"`
	Kind      enums.DiscountKind `gorm:"column:kind;not null"`
	Value     string             `gorm:"column:value;not null"`
	IsActive  bool               `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}
