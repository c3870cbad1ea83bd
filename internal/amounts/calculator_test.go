package amounts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/awecode/awecount-sub001/internal/shared"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func TestComputeVoucherPercentDiscountWithTax(t *testing.T) {
	res, err := Compute([]Row{{Quantity: d("2"), Rate: d("100"), TaxRate: d("10")}}, &Discount{Type: DiscountPercent, Value: d("10")})
	require.NoError(t, err)

	requireDecimal(t, "200", res.Totals.SubTotal)
	requireDecimal(t, "200", res.Totals.SubTotalAfterRowDiscounts)
	requireDecimal(t, "20", res.Totals.Discount)
	requireDecimal(t, "18", res.Totals.Tax)
	requireDecimal(t, "180", res.Totals.Taxable)
	requireDecimal(t, "0", res.Totals.NonTaxable)
	requireDecimal(t, "198", res.Totals.GrandTotal)

	require.Len(t, res.Rows, 1)
	requireDecimal(t, "20", res.Rows[0].Dividend)
	requireDecimal(t, "180", res.Rows[0].PureTotal)
	requireDecimal(t, "198", res.Rows[0].Total)
}

func TestComputeAmountDiscountDistributedProportionally(t *testing.T) {
	rows := []Row{
		{Quantity: d("1"), Rate: d("300")},
		{Quantity: d("1"), Rate: d("100"), TaxRate: d("13")},
	}
	res, err := Compute(rows, &Discount{Type: DiscountAmount, Value: d("40")})
	require.NoError(t, err)

	requireDecimal(t, "30", res.Rows[0].Dividend)
	requireDecimal(t, "10", res.Rows[1].Dividend)
	requireDecimal(t, "270", res.Totals.NonTaxable)
	requireDecimal(t, "90", res.Totals.Taxable)
	requireDecimal(t, "11.7", res.Totals.Tax)
	requireDecimal(t, "371.7", res.Totals.GrandTotal)
}

func TestComputeDiscountObjectWinsOverInline(t *testing.T) {
	row := Row{
		Quantity: d("4"),
		Rate:     d("25"),
		Discount: &Discount{Type: DiscountAmount, Value: d("50")},
		Object:   &Discount{Type: DiscountPercent, Value: d("10"), Trade: true},
	}
	res, err := Compute([]Row{row}, nil)
	require.NoError(t, err)

	requireDecimal(t, "10", res.Rows[0].RowDiscount)
	require.True(t, res.Rows[0].RowTrade)
	requireDecimal(t, "10", res.Rows[0].TradeDiscount())
	requireDecimal(t, "0", res.Rows[0].NonTradeDiscount())
	requireDecimal(t, "90", res.Totals.GrandTotal)
}

func TestComputeInlineDiscountIsNonTrade(t *testing.T) {
	row := Row{Quantity: d("1"), Rate: d("100"), Discount: &Discount{Type: DiscountAmount, Value: d("5"), Trade: true}}
	res, err := Compute([]Row{row}, &Discount{Type: DiscountPercent, Value: d("10"), Trade: true})
	require.NoError(t, err)

	r := res.Rows[0]
	require.False(t, r.RowTrade)
	requireDecimal(t, "9.5", r.TradeDiscount())
	requireDecimal(t, "5", r.NonTradeDiscount())
	requireDecimal(t, "14.5", res.Totals.Discount)
}

func TestComputeZeroSubTotalAmountDiscount(t *testing.T) {
	rows := []Row{{Quantity: d("0"), Rate: d("100"), TaxRate: d("13")}}
	res, err := Compute(rows, &Discount{Type: DiscountAmount, Value: d("10")})
	require.NoError(t, err)

	requireDecimal(t, "0", res.Rows[0].Dividend)
	requireDecimal(t, "0", res.Totals.GrandTotal)
	requireDecimal(t, "0", res.Totals.Discount)
}

func TestComputeRoundsOnlyAtTheEnd(t *testing.T) {
	rows := []Row{
		{Quantity: d("1"), Rate: d("0.334")},
		{Quantity: d("1"), Rate: d("0.334")},
		{Quantity: d("1"), Rate: d("0.334")},
	}
	res, err := Compute(rows, nil)
	require.NoError(t, err)

	// Rounding each row first would drift to 3 * 0.33 = 0.99.
	requireDecimal(t, "1", res.Totals.SubTotal)
	requireDecimal(t, "1", res.Totals.GrandTotal)
	requireDecimal(t, "0.33", res.Rows[0].Total)
}

func TestComputeValidation(t *testing.T) {
	cases := map[string]struct {
		rows []Row
		disc *Discount
	}{
		"negative quantity":  {rows: []Row{{Quantity: d("-1"), Rate: d("1")}}},
		"negative rate":      {rows: []Row{{Quantity: d("1"), Rate: d("-1")}}},
		"percent over 100":   {rows: []Row{{Quantity: d("1"), Rate: d("1")}}, disc: &Discount{Type: DiscountPercent, Value: d("101")}},
		"unknown type":       {rows: []Row{{Quantity: d("1"), Rate: d("1"), Discount: &Discount{Type: "Bogus", Value: d("1")}}}},
		"row over discount":  {rows: []Row{{Quantity: d("1"), Rate: d("1"), Discount: &Discount{Type: DiscountAmount, Value: d("2")}}}},
		"voucher over total": {rows: []Row{{Quantity: d("1"), Rate: d("1")}}, disc: &Discount{Type: DiscountAmount, Value: d("2")}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compute(tc.rows, tc.disc)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestComputeZeroDiscountObjectStillWins(t *testing.T) {
	row := Row{
		Quantity: d("1"),
		Rate:     d("100"),
		Discount: &Discount{Type: DiscountAmount, Value: d("20")},
		Object:   &Discount{Type: DiscountPercent, Value: d("0"), Trade: true},
	}
	res, err := Compute([]Row{row}, nil)
	require.NoError(t, err)

	requireDecimal(t, "0", res.Rows[0].RowDiscount)
	requireDecimal(t, "0", res.Totals.Discount)
	requireDecimal(t, "100", res.Totals.GrandTotal)
}

func TestComputeSharesSumToRoundedTotals(t *testing.T) {
	rows := []Row{
		{Quantity: d("1"), Rate: d("1"), TaxRate: d("13")},
		{Quantity: d("1"), Rate: d("1"), TaxRate: d("13")},
		{Quantity: d("1"), Rate: d("1"), TaxRate: d("13")},
	}
	res, err := Compute(rows, &Discount{Type: DiscountAmount, Value: d("1")})
	require.NoError(t, err)
	requireDecimal(t, "2.26", res.Totals.GrandTotal)

	// Row-rounded values would post 3 * 0.75 = 2.25 to the party.
	requireDecimal(t, "0.75", res.Rows[0].Total)

	total, tax, discount, item := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	require.Len(t, res.Shares, 3)
	for _, s := range res.Shares {
		total = total.Add(s.Total)
		tax = tax.Add(s.Tax)
		discount = discount.Add(s.NonTradeDiscount)
		item = item.Add(s.ItemAmount())
	}
	requireDecimal(t, res.Totals.GrandTotal.String(), total)
	requireDecimal(t, res.Totals.Tax.String(), tax)
	requireDecimal(t, res.Totals.Discount.String(), discount)
	requireDecimal(t, res.Totals.SubTotal.String(), item)
	requireDecimal(t, "0.76", res.Shares[1].Total)
}
