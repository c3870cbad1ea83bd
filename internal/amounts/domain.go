package amounts

import (
	"github.com/shopspring/decimal"
)

// DiscountType enumerates how a discount value is applied.
type DiscountType string

const (
	// DiscountAmount subtracts a flat value.
	DiscountAmount DiscountType = "Amount"
	// DiscountPercent subtracts a percentage of the base.
	DiscountPercent DiscountType = "Percent"
)

// Discount is a resolved discount, either inline or from a named discount object.
type Discount struct {
	Type  DiscountType
	Value decimal.Decimal
	Trade bool
}

// IsZero reports whether the discount has no effect.
func (d *Discount) IsZero() bool {
	return d == nil || d.Value.IsZero()
}

// Row is the calculator view of a voucher row.
type Row struct {
	Quantity decimal.Decimal
	Rate     decimal.Decimal
	// Inline discount; always treated as non-trade.
	Discount *Discount
	// Named discount object; wins over Discount when both are present.
	Object  *Discount
	TaxRate decimal.Decimal
}

// RowAmounts is the per-row breakdown. All values are rounded to 2 dp.
type RowAmounts struct {
	SubTotal      decimal.Decimal
	RowDiscount   decimal.Decimal
	RowTrade      bool
	Gross         decimal.Decimal
	Dividend      decimal.Decimal
	DividendTrade bool
	PureTotal     decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
}

// TradeDiscount is the part of the row discount that reduces the recorded amount itself.
func (r RowAmounts) TradeDiscount() decimal.Decimal {
	out := decimal.Zero
	if r.RowTrade {
		out = out.Add(r.RowDiscount)
	}
	if r.DividendTrade {
		out = out.Add(r.Dividend)
	}
	return out
}

// NonTradeDiscount is the part of the row discount recorded against a discount account.
func (r RowAmounts) NonTradeDiscount() decimal.Decimal {
	return r.RowDiscount.Add(r.Dividend).Sub(r.TradeDiscount())
}

// Totals summarises a voucher.
type Totals struct {
	SubTotal                  decimal.Decimal
	SubTotalAfterRowDiscounts decimal.Decimal
	Discount                  decimal.Decimal
	NonTaxable                decimal.Decimal
	Taxable                   decimal.Decimal
	Tax                       decimal.Decimal
	GrandTotal                decimal.Decimal
}

// Share is a row's part of the rounded voucher totals, for posting. Each
// column summed over the rows equals the matching rounded total, so the
// party legs of a voucher add up to its GrandTotal.
type Share struct {
	// NonTradeDiscount is the row's part of the discount booked to a discount account.
	NonTradeDiscount decimal.Decimal
	Tax              decimal.Decimal
	// Total is what the party owes for the row: pure total plus tax.
	Total            decimal.Decimal
}

// ItemAmount is the amount booked to the item account: the row total
// before non-trade discount and tax.
func (s Share) ItemAmount() decimal.Decimal {
	return s.Total.Sub(s.Tax).Add(s.NonTradeDiscount)
}

// Result groups totals and the per-row breakdown in input order.
type Result struct {
	Totals Totals
	Rows   []RowAmounts
	Shares []Share
}
