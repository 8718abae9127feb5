package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the canonical storefront listing.
type Product struct {
	ID                uuid.UUID   `gorm:"column:id;type:uuid;primaryKey"`
	SKU               string      `gorm:"column:sku;not null;uniqueIndex"`
	Name              string      `gorm:"column:name;not null"`
	Description       *string     `gorm:"column:description"`
	PriceCents        int         `gorm:"column:price_cents;not null"`
	LowStockThreshold int         `gorm:"column:low_stock_threshold;not null;default:0"`
	IsActive          bool        `gorm:"column:is_active;not null;default:true"`
	Stock             *StockLevel `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}
