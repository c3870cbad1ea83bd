package amounts

import (
	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/shared"
)

const places = 2

var hundred = decimal.NewFromInt(100)

type rowWork struct {
	subTotal    decimal.Decimal
	rowDiscount decimal.Decimal
	rowTrade    bool
	gross       decimal.Decimal
	dividend    decimal.Decimal
	pure        decimal.Decimal
	tax         decimal.Decimal
}

// Compute turns rows and the voucher-level discount into per-row amounts and
// voucher totals. Intermediate values stay unrounded; every output is rounded
// to 2 dp once at the end.
func Compute(rows []Row, voucherDiscount *Discount) (Result, error) {
	if err := validateDiscount(voucherDiscount, "voucher"); err != nil {
		return Result{}, err
	}
	work := make([]rowWork, len(rows))
	subTotal := decimal.Zero
	afterRowDiscounts := decimal.Zero
	for i, row := range rows {
		if row.Quantity.IsNegative() {
			return Result{}, shared.Validationf("row %d: quantity must be >= 0", i)
		}
		if row.Rate.IsNegative() {
			return Result{}, shared.Validationf("row %d: rate must be >= 0", i)
		}
		if row.TaxRate.IsNegative() {
			return Result{}, shared.Validationf("row %d: tax rate must be >= 0", i)
		}
		disc := rowDiscount(row)
		if err := validateDiscount(disc, "row"); err != nil {
			return Result{}, err
		}
		w := rowWork{subTotal: row.Quantity.Mul(row.Rate)}
		if disc != nil {
			w.rowDiscount = discountOn(w.subTotal, disc)
			w.rowTrade = disc.Trade
		}
		if w.rowDiscount.GreaterThan(w.subTotal) {
			return Result{}, shared.Validationf("row %d: discount exceeds row amount", i)
		}
		w.gross = w.subTotal.Sub(w.rowDiscount)
		subTotal = subTotal.Add(w.subTotal)
		afterRowDiscounts = afterRowDiscounts.Add(w.gross)
		work[i] = w
	}

	if !voucherDiscount.IsZero() && voucherDiscount.Type == DiscountAmount &&
		afterRowDiscounts.IsPositive() && voucherDiscount.Value.GreaterThan(afterRowDiscounts) {
		return Result{}, shared.Validationf("voucher discount exceeds sub total")
	}

	totals := Totals{}
	voucherTrade := voucherDiscount != nil && voucherDiscount.Trade
	for i := range work {
		w := &work[i]
		w.dividend = dividendShare(w.gross, afterRowDiscounts, voucherDiscount)
		w.pure = w.gross.Sub(w.dividend)
		w.tax = w.pure.Mul(rows[i].TaxRate).Div(hundred)
		totals.Discount = totals.Discount.Add(w.rowDiscount).Add(w.dividend)
		totals.Tax = totals.Tax.Add(w.tax)
		if w.tax.IsZero() {
			totals.NonTaxable = totals.NonTaxable.Add(w.pure)
		} else {
			totals.Taxable = totals.Taxable.Add(w.pure)
		}
	}
	totals.SubTotal = subTotal
	totals.SubTotalAfterRowDiscounts = afterRowDiscounts
	totals.GrandTotal = subTotal.Sub(totals.Discount).Add(totals.Tax)

	out := Result{Totals: totals.rounded(), Rows: make([]RowAmounts, len(work)), Shares: shares(work, voucherTrade)}
	for i, w := range work {
		out.Rows[i] = RowAmounts{
			SubTotal:      w.subTotal.Round(places),
			RowDiscount:   w.rowDiscount.Round(places),
			RowTrade:      w.rowTrade,
			Gross:         w.gross.Round(places),
			Dividend:      w.dividend.Round(places),
			DividendTrade: voucherTrade,
			PureTotal:     w.pure.Round(places),
			Tax:           w.tax.Round(places),
			Total:         w.pure.Add(w.tax).Round(places),
		}
	}
	return out, nil
}

// shares splits each posted column across rows by rounding running totals:
// row i gets round(sum up to i) - round(sum before i).
func shares(work []rowWork, voucherTrade bool) []Share {
	out := make([]Share, len(work))
	var nonTrade, tax, total running
	for i, w := range work {
		rowNonTrade := decimal.Zero
		if !w.rowTrade {
			rowNonTrade = rowNonTrade.Add(w.rowDiscount)
		}
		if !voucherTrade {
			rowNonTrade = rowNonTrade.Add(w.dividend)
		}
		out[i] = Share{
			NonTradeDiscount: nonTrade.next(rowNonTrade),
			Tax:              tax.next(w.tax),
			Total:            total.next(w.pure.Add(w.tax)),
		}
	}
	return out
}

type running struct {
	exact   decimal.Decimal
	rounded decimal.Decimal
}

func (r *running) next(v decimal.Decimal) decimal.Decimal {
	r.exact = r.exact.Add(v)
	prev := r.rounded
	r.rounded = r.exact.Round(places)
	return r.rounded.Sub(prev)
}

// rowDiscount picks the discount applied to a row. An attached discount
// object always wins, even with a zero value.
func rowDiscount(row Row) *Discount {
	if row.Object != nil {
		return row.Object
	}
	if row.Discount.IsZero() {
		return nil
	}
	inline := *row.Discount
	inline.Trade = false
	return &inline
}

func discountOn(base decimal.Decimal, d *Discount) decimal.Decimal {
	if d.Type == DiscountPercent {
		return base.Mul(d.Value).Div(hundred)
	}
	return d.Value
}

func dividendShare(gross, afterRowDiscounts decimal.Decimal, d *Discount) decimal.Decimal {
	if d.IsZero() {
		return decimal.Zero
	}
	if d.Type == DiscountPercent {
		return gross.Mul(d.Value).Div(hundred)
	}
	if afterRowDiscounts.IsZero() {
		return decimal.Zero
	}
	return gross.Mul(d.Value).Div(afterRowDiscounts)
}

func validateDiscount(d *Discount, level string) error {
	if d == nil {
		return nil
	}
	switch d.Type {
	case DiscountAmount, DiscountPercent:
	case "":
		if d.Value.IsZero() {
			return nil
		}
		return shared.Validationf("%s discount type required", level)
	default:
		return shared.Validationf("%s discount type %q not supported", level, d.Type)
	}
	if d.Value.IsNegative() {
		return shared.Validationf("%s discount must be >= 0", level)
	}
	if d.Type == DiscountPercent && d.Value.GreaterThan(hundred) {
		return shared.Validationf("%s discount percent must be <= 100", level)
	}
	return nil
}

func (t Totals) rounded() Totals {
	return Totals{
		SubTotal:                  t.SubTotal.Round(places),
		SubTotalAfterRowDiscounts: t.SubTotalAfterRowDiscounts.Round(places),
		Discount:                  t.Discount.Round(places),
		NonTaxable:                t.NonTaxable.Round(places),
		Taxable:                   t.Taxable.Round(places),
		Tax:                       t.Tax.Round(places),
		GrandTotal:                t.GrandTotal.Round(places),
	}
}
