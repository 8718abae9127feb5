package enums

import "fmt"

// CartStatus tracks where a cart sits in the reservation lifecycle.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusReserved  CartStatus = "reserved"
	CartStatusCommitted CartStatus = "committed"
	CartStatusExpired   CartStatus = "expired"
	CartStatusAbandoned CartStatus = "abandoned"
)

var validCartStatuses = []CartStatus{
	CartStatusActive,
	CartStatusReserved,
	CartStatusCommitted,
	CartStatusExpired,
	CartStatusAbandoned,
}

// String implements fmt.Stringer.
func (c CartStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CartStatus.
func (c CartStatus) IsValid() bool {
	for _, candidate := range validCartStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the cart can no longer be mutated by shoppers.
func (c CartStatus) IsTerminal() bool {
	return c == CartStatusCommitted || c == CartStatusAbandoned
}

// HoldsStock reports whether carts in this status account for reserved units.
func (c CartStatus) HoldsStock() bool {
	return c == CartStatusActive || c == CartStatusReserved
}

// ParseCartStatus converts raw input into a CartStatus.
func ParseCartStatus(value string) (CartStatus, error) {
	for _, candidate := range validCartStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cart status %q", value)
}
