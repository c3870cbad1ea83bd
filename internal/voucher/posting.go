package voucher

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/amounts"
	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// postingContext is the master data one voucher posts against.
type postingContext struct {
	voucher      Voucher
	items        map[int64]Item
	taxes        map[int64]TaxScheme
	discounts    map[int64]DiscountObject
	settings     Settings
	partyAccount int64
}

// MasterData is the read-only master data posting depends on.
type MasterData interface {
	Items(ctx context.Context, scope shared.Scope, ids []int64) (map[int64]Item, error)
	Party(ctx context.Context, scope shared.Scope, id int64) (Party, error)
	TaxSchemes(ctx context.Context, scope shared.Scope, ids []int64) (map[int64]TaxScheme, error)
	DiscountObjects(ctx context.Context, scope shared.Scope, ids []int64) (map[int64]DiscountObject, error)
	Settings(ctx context.Context, scope shared.Scope) (Settings, error)
}

func loadContext(ctx context.Context, md MasterData, scope shared.Scope, v Voucher) (postingContext, error) {
	pc := postingContext{voucher: v}
	settings, err := md.Settings(ctx, scope)
	if err != nil {
		return pc, err
	}
	pc.settings = settings

	var itemIDs, taxIDs, discountIDs []int64
	if v.DiscountID > 0 {
		discountIDs = append(discountIDs, v.DiscountID)
	}
	for _, row := range v.Rows {
		itemIDs = append(itemIDs, row.ItemID)
		if row.TaxSchemeID > 0 {
			taxIDs = append(taxIDs, row.TaxSchemeID)
		}
		if row.DiscountID > 0 {
			discountIDs = append(discountIDs, row.DiscountID)
		}
	}
	if pc.items, err = md.Items(ctx, scope, uniqueIDs(itemIDs)); err != nil {
		return pc, err
	}
	if pc.taxes, err = md.TaxSchemes(ctx, scope, uniqueIDs(taxIDs)); err != nil {
		return pc, err
	}
	if pc.discounts, err = md.DiscountObjects(ctx, scope, uniqueIDs(discountIDs)); err != nil {
		return pc, err
	}
	for _, row := range v.Rows {
		if _, ok := pc.items[row.ItemID]; !ok {
			return pc, shared.NotFoundf("item %d", row.ItemID)
		}
		if _, ok := pc.taxes[row.TaxSchemeID]; row.TaxSchemeID > 0 && !ok {
			return pc, shared.NotFoundf("tax scheme %d", row.TaxSchemeID)
		}
		if _, ok := pc.discounts[row.DiscountID]; row.DiscountID > 0 && !ok {
			return pc, shared.NotFoundf("discount %d", row.DiscountID)
		}
	}
	if _, ok := pc.discounts[v.DiscountID]; v.DiscountID > 0 && !ok {
		return pc, shared.NotFoundf("discount %d", v.DiscountID)
	}

	if v.Kind.Commercial() {
		if v.PartyID > 0 {
			party, err := md.Party(ctx, scope, v.PartyID)
			if err != nil {
				return pc, err
			}
			pc.partyAccount = party.AccountID
		} else {
			pc.partyAccount = settings.CashAccountID
		}
	}
	return pc, nil
}

// calculatorInput resolves discount objects and tax rates into calculator rows.
func (pc postingContext) calculatorInput() ([]amounts.Row, *amounts.Discount) {
	v := pc.voucher
	rows := make([]amounts.Row, len(v.Rows))
	commercial := v.Kind.Commercial()
	for i, row := range v.Rows {
		in := amounts.Row{Quantity: row.Quantity, Rate: row.Rate}
		if commercial {
			if row.TaxSchemeID > 0 {
				in.TaxRate = pc.taxes[row.TaxSchemeID].Rate
			}
			if row.DiscountID > 0 {
				obj := pc.discounts[row.DiscountID]
				in.Object = &amounts.Discount{Type: obj.Type, Value: obj.Value, Trade: obj.Trade}
			} else if !row.Discount.IsZero() {
				in.Discount = &amounts.Discount{Type: row.DiscountType, Value: row.Discount}
			}
		}
		rows[i] = in
	}
	if !commercial {
		return rows, nil
	}
	if v.DiscountID > 0 {
		obj := pc.discounts[v.DiscountID]
		return rows, &amounts.Discount{Type: obj.Type, Value: obj.Value, Trade: obj.Trade}
	}
	if !v.Discount.IsZero() {
		return rows, &amounts.Discount{Type: v.DiscountType, Value: v.Discount}
	}
	return rows, nil
}

func (pc postingContext) compute() (amounts.Result, error) {
	rows, discount := pc.calculatorInput()
	return amounts.Compute(rows, discount)
}

// entries builds one monetary entry and, for tracked items, one inventory
// entry per row. Commercial legs come from the rounded row shares, so the
// party legs sum to the grand total and the item leg absorbs the rounding.
func (pc postingContext) entries(res amounts.Result) ([]ledger.Entry, error) {
	v := pc.voucher
	var out []ledger.Entry
	for i, row := range v.Rows {
		item := pc.items[row.ItemID]
		ref := v.Kind.Source(row.ID)
		monetary, err := pc.monetaryLegs(row, item, res.Rows[i], res.Shares[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row.ID, err)
		}
		if len(monetary) > 0 {
			out = append(out, ledger.Entry{
				Namespace: ledger.NamespaceMonetary,
				Date:      v.Date,
				Source:    ref,
				Type:      ledger.EntryTypeIssue,
				Legs:      monetary,
			})
		}
		if !item.TrackInventory || row.Quantity.IsZero() {
			continue
		}
		if item.InventoryAccountID <= 0 {
			return nil, shared.Validationf("item %d: inventory account required", item.ID)
		}
		stock := ledger.Leg{AccountID: item.InventoryAccountID, Rate: row.Rate}
		if v.Kind.Direction(row) == DirectionIn {
			stock.Dr = row.Quantity
		} else {
			stock.Cr = row.Quantity
		}
		out = append(out, ledger.Entry{
			Namespace: ledger.NamespaceInventory,
			Date:      v.Date,
			Source:    ref,
			Type:      ledger.EntryTypeIssue,
			Legs:      []ledger.Leg{stock},
		})
	}
	return out, nil
}

func (pc postingContext) monetaryLegs(row Row, item Item, amt amounts.RowAmounts, share amounts.Share) ([]ledger.Leg, error) {
	v := pc.voucher
	b := legBuilder{}
	switch v.Kind {
	case KindSales, KindPurchase, KindCreditNote, KindDebitNote:
		// Purchase and credit note debit the item account; sales and debit
		// note credit it. Discount and party legs sit on the other side.
		mainDebit := v.Kind == KindPurchase || v.Kind == KindCreditNote
		mainAccount, discountAccount := item.SalesAccountID, pc.settings.DiscountAllowedAccountID
		if v.Kind == KindPurchase || v.Kind == KindDebitNote {
			mainAccount, discountAccount = item.PurchaseAccountID, pc.settings.DiscountReceivedAccountID
		}
		b.add("item account", mainAccount, share.ItemAmount(), mainDebit)
		b.add("discount account", discountAccount, share.NonTradeDiscount, !mainDebit)
		if !share.Tax.IsZero() {
			b.add("tax account", pc.taxes[row.TaxSchemeID].AccountID, share.Tax, mainDebit)
		}
		b.add("party account", pc.partyAccount, share.Total, !mainDebit)
	case KindStockAdjustment:
		if v.Kind.Direction(row) == "" {
			return nil, shared.Validationf("stock adjustment row requires a direction")
		}
		in := v.Kind.Direction(row) == DirectionIn
		b.add("item purchase account", item.PurchaseAccountID, amt.SubTotal, in)
		b.add("stock adjustment account", pc.settings.StockAdjustmentAccountID, amt.SubTotal, !in)
	case KindInventoryConversion:
		if v.Kind.Direction(row) == "" {
			return nil, shared.Validationf("inventory conversion row requires a direction")
		}
	default:
		return nil, shared.Validationf("unknown voucher kind %q", v.Kind)
	}
	return b.legs, b.err
}

type legBuilder struct {
	legs []ledger.Leg
	err  error
}

// add appends a leg for a non-zero amount; a negative amount flips the side.
func (b *legBuilder) add(name string, accountID int64, amount decimal.Decimal, debit bool) {
	if b.err != nil || amount.IsZero() {
		return
	}
	if accountID <= 0 {
		b.err = shared.Validationf("%s not configured", name)
		return
	}
	if amount.IsNegative() {
		amount = amount.Neg()
		debit = !debit
	}
	leg := ledger.Leg{AccountID: accountID}
	if debit {
		leg.Dr = amount
	} else {
		leg.Cr = amount
	}
	b.legs = append(b.legs, leg)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
