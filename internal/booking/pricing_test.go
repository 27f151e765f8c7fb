package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-engine/internal/model"
)

var (
	seatPrices = map[string]int64{"A1": 12000, "A2": 12000, "P1": 18000}
	catCombos  = map[string]model.Combo{
		"popcorn": {ID: "popcorn", Name: "Popcorn L", PriceCents: 4500, Active: true},
		"soda":    {ID: "soda", Name: "Soda", PriceCents: 2500, Active: true},
	}
)

func TestPriceSeatsOnly(t *testing.T) {
	total, err := priceOrder(seatPrices, []string{"A1", "P1"}, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), total)
}

func TestPriceWithCombos(t *testing.T) {
	lines := []model.ComboLine{
		{ComboID: "popcorn", Quantity: 1},
		{ComboID: "soda", Quantity: 2},
	}
	total, err := priceOrder(seatPrices, []string{"A1"}, lines, catCombos, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12000+4500+5000), total)
}

func TestPercentVoucherRoundsHalfUp(t *testing.T) {
	// 15% of 12000+4500 = 2475; total 14025, no rounding needed.
	lines := []model.ComboLine{{ComboID: "popcorn", Quantity: 1}}
	v := &model.Voucher{ID: "v1", Kind: model.VoucherPercent, Value: 15, Active: true}
	total, err := priceOrder(seatPrices, []string{"A1"}, lines, catCombos, v)
	require.NoError(t, err)
	assert.Equal(t, int64(14025), total)

	// 33% of 10... exercises the fractional-cent path: 12000 * 0.67 = 8040.
	v.Value = 33
	total, err = priceOrder(seatPrices, []string{"A1"}, nil, nil, v)
	require.NoError(t, err)
	assert.Equal(t, int64(8040), total)
}

func TestFixedVoucherFloorsAtZero(t *testing.T) {
	v := &model.Voucher{ID: "v2", Kind: model.VoucherFixed, Value: 99999, Active: true}
	total, err := priceOrder(seatPrices, []string{"A1"}, nil, nil, v)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestPriceValidationErrors(t *testing.T) {
	_, err := priceOrder(seatPrices, []string{"Z9"}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = priceOrder(seatPrices, []string{"A1"}, []model.ComboLine{{ComboID: "nachos", Quantity: 1}}, catCombos, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = priceOrder(seatPrices, []string{"A1"}, []model.ComboLine{{ComboID: "soda", Quantity: 0}}, catCombos, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = priceOrder(seatPrices, []string{"A1"}, nil, nil, &model.Voucher{Kind: "BOGUS"})
	assert.ErrorIs(t, err, ErrInvalidVoucher)
}
