package cart

import (
	"github.com/shopspring/decimal"

	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
)

// RecomputeTotals re-derives subtotal, discount and total from the line items
// and the applied discount. The total is floored at zero so a fixed-amount
// code larger than the subtotal never produces a negative charge.
func RecomputeTotals(cart *models.Cart, discount *models.DiscountCode) error {
	subtotal := 0
	for _, item := range cart.Items {
		subtotal += item.LineSubtotalCents
	}
	cart.SubtotalCents = subtotal

	discountCents := 0
	if discount != nil {
		cents, err := discountAmountCents(subtotal, discount)
		if err != nil {
			return err
		}
		discountCents = cents
	}
	if discountCents > subtotal {
		discountCents = subtotal
	}
	cart.DiscountCents = discountCents
	cart.TotalCents = subtotal - discountCents
	return nil
}

func discountAmountCents(subtotalCents int, discount *models.DiscountCode) (int, error) {
	value, err := decimal.NewFromString(discount.Value)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parsing discount value")
	}
	switch discount.Kind {
	case enums.DiscountKindPercentage:
		cents := decimal.NewFromInt(int64(subtotalCents)).
			Mul(value).
			Div(decimal.NewFromInt(100)).
			Round(0)
		return int(cents.IntPart()), nil
	case enums.DiscountKindFixed:
		return int(value.Round(0).IntPart()), nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "unknown discount kind "+discount.Kind.String())
	}
}
