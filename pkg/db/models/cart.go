package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/oakmere/storefront-backend/pkg/enums"
)

// Cart is the per-session aggregate. The cart is the unit of reservation:
// while a cart is active or reserved, its line items account for the
// reserved_qty they hold on each product's stock level. There is no separate
// reservation table.
type Cart struct {
	ID                   uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SessionID            string           `gorm:"column:session_id;not null;uniqueIndex"`
	Status               enums.CartStatus `gorm:"column:status;not null;default:'active'"`
	DiscountCode         *string          `gorm:"column:discount_code"`
	DiscountCents        int              `gorm:"column:discount_cents;not null;default:0"`
	SubtotalCents        int              `gorm:"column:subtotal_cents;not null;default:0"`
	TotalCents           int              `gorm:"column:total_cents;not null;default:0"`
	ReservationExpiresAt *time.Time       `gorm:"column:reservation_expires_at"`
	LastActivityAt       time.Time        `gorm:"column:last_activity_at;not null"`
	SyncFlags            pq.StringArray   `gorm:"column:sync_flags;type:text[]"`
	Items                []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt            time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// ItemFor returns the line item holding the given product, if any.
func (c *Cart) ItemFor(productID uuid.UUID) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}
