package booking

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

var oneHundred = decimal.NewFromInt(100)

// priceOrder computes the checkout total in cents from seat prices,
// combo lines and an optional voucher.  Discount arithmetic runs on
// decimals and is rounded half-up to whole cents at the end; the total
// never goes below zero.
func priceOrder(seatPrices map[string]int64, seatIDs []string, combos []model.ComboLine, catalogCombos map[string]model.Combo, voucher *model.Voucher) (int64, error) {
	subtotal := decimal.Zero
	for _, id := range seatIDs {
		price, ok := seatPrices[id]
		if !ok {
			return 0, fmt.Errorf("%w: seat %s has no price", ErrValidation, id)
		}
		subtotal = subtotal.Add(decimal.NewFromInt(price))
	}
	for _, line := range combos {
		if line.Quantity <= 0 {
			return 0, fmt.Errorf("%w: combo %s has non-positive quantity", ErrValidation, line.ComboID)
		}
		combo, ok := catalogCombos[line.ComboID]
		if !ok {
			return 0, fmt.Errorf("%w: unknown combo %s", ErrValidation, line.ComboID)
		}
		subtotal = subtotal.Add(decimal.NewFromInt(combo.PriceCents).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	if voucher != nil {
		switch voucher.Kind {
		case model.VoucherPercent:
			discount := subtotal.Mul(decimal.NewFromInt(voucher.Value)).Div(oneHundred)
			subtotal = subtotal.Sub(discount)
		case model.VoucherFixed:
			subtotal = subtotal.Sub(decimal.NewFromInt(voucher.Value))
		default:
			return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidVoucher, voucher.Kind)
		}
	}

	if subtotal.IsNegative() {
		return 0, nil
	}
	return subtotal.Round(0).IntPart(), nil
}
