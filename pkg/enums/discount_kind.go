package enums

import "fmt"

// DiscountKind distinguishes percentage codes from fixed-amount codes.
type DiscountKind string

const (
	DiscountKindPercentage DiscountKind = "percentage"
	DiscountKindFixed      DiscountKind = "fixed"
)

var validDiscountKinds = []DiscountKind{
	DiscountKindPercentage,
	DiscountKindFixed,
}

func (d DiscountKind) String() string {
	return string(d)
}

func (d DiscountKind) IsValid() bool {
	for _, candidate := range validDiscountKinds {
		if candidate == d {
			return true
		}
	}
	return false
}

func ParseDiscountKind(value string) (DiscountKind, error) {
	for _, candidate := range validDiscountKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid discount kind %q", value)
}
