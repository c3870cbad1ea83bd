package postgres

import (
	"context"

	"github.com/awecode/awecount-sub001/internal/amounts"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/internal/voucher"
)

func (r *txRepo) Items(ctx context.Context, scope shared.Scope, ids []int64) (map[int64]voucher.Item, error) {
	out := make(map[int64]voucher.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, name, track_inventory, COALESCE(inventory_account_id, 0),
COALESCE(sales_account_id, 0), COALESCE(purchase_account_id, 0)
FROM items WHERE company_id = $1 AND id = ANY($2)`, scope.CompanyID, ids)
	if err != nil {
		return nil, mapErr(err, "items of company", scope.CompanyID)
	}
	defer rows.Close()
	for rows.Next() {
		var item voucher.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.TrackInventory, &item.InventoryAccountID,
			&item.SalesAccountID, &item.PurchaseAccountID); err != nil {
			return nil, err
		}
		out[item.ID] = item
	}
	return out, rows.Err()
}

func (r *txRepo) Party(ctx context.Context, scope shared.Scope, id int64) (voucher.Party, error) {
	party := voucher.Party{ID: id}
	err := r.tx.QueryRow(ctx, `SELECT account_id FROM parties WHERE company_id = $1 AND id = $2`,
		scope.CompanyID, id).Scan(&party.AccountID)
	if err != nil {
		return voucher.Party{}, mapErr(err, "party", id)
	}
	return party, nil
}

func (r *txRepo) TaxSchemes(ctx context.Context, scope shared.Scope, ids []int64) (map[int64]voucher.TaxScheme, error) {
	out := make(map[int64]voucher.TaxScheme, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, rate, account_id FROM tax_schemes WHERE company_id = $1 AND id = ANY($2)`,
		scope.CompanyID, ids)
	if err != nil {
		return nil, mapErr(err, "tax schemes of company", scope.CompanyID)
	}
	defer rows.Close()
	for rows.Next() {
		var tax voucher.TaxScheme
		if err := rows.Scan(&tax.ID, &tax.Rate, &tax.AccountID); err != nil {
			return nil, err
		}
		out[tax.ID] = tax
	}
	return out, rows.Err()
}

func (r *txRepo) DiscountObjects(ctx context.Context, scope shared.Scope, ids []int64) (map[int64]voucher.DiscountObject, error) {
	out := make(map[int64]voucher.DiscountObject, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, type, value, trade FROM discounts WHERE company_id = $1 AND id = ANY($2)`,
		scope.CompanyID, ids)
	if err != nil {
		return nil, mapErr(err, "discounts of company", scope.CompanyID)
	}
	defer rows.Close()
	for rows.Next() {
		var d voucher.DiscountObject
		var typ string
		if err := rows.Scan(&d.ID, &typ, &d.Value, &d.Trade); err != nil {
			return nil, err
		}
		d.Type = amounts.DiscountType(typ)
		out[d.ID] = d
	}
	return out, rows.Err()
}

// Settings returns zero settings for a company without a settings row.
func (r *txRepo) Settings(ctx context.Context, scope shared.Scope) (voucher.Settings, error) {
	rows, err := r.tx.Query(ctx, `SELECT COALESCE(cash_account_id, 0), COALESCE(discount_allowed_account_id, 0),
COALESCE(discount_received_account_id, 0), COALESCE(stock_adjustment_account_id, 0), allow_negative_stock
FROM company_settings WHERE company_id = $1`, scope.CompanyID)
	if err != nil {
		return voucher.Settings{}, mapErr(err, "settings of company", scope.CompanyID)
	}
	defer rows.Close()
	var s voucher.Settings
	if rows.Next() {
		if err := rows.Scan(&s.CashAccountID, &s.DiscountAllowedAccountID, &s.DiscountReceivedAccountID,
			&s.StockAdjustmentAccountID, &s.AllowNegativeStock); err != nil {
			return voucher.Settings{}, err
		}
	}
	return s, rows.Err()
}
