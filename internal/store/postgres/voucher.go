package postgres

import (
	"context"

	"github.com/awecode/awecount-sub001/internal/amounts"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/internal/voucher"
)

const voucherColumns = `id, company_id, fiscal_year_id, kind, status, date, COALESCE(party_id, 0), discount, discount_type,
COALESCE(discount_id, 0), cancel_reason, created_at, updated_at`

func (r *txRepo) GetVoucherForUpdate(ctx context.Context, scope shared.Scope, id int64) (voucher.Voucher, error) {
	var v voucher.Voucher
	var kind, status, discountType string
	err := r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE company_id = $1 AND id = $2 FOR UPDATE`,
		scope.CompanyID, id).Scan(&v.ID, &v.CompanyID, &v.FiscalYearID, &kind, &status, &v.Date, &v.PartyID,
		&v.Discount, &discountType, &v.DiscountID, &v.CancelReason, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return voucher.Voucher{}, mapErr(err, "voucher", id)
	}
	v.Kind = voucher.Kind(kind)
	v.Status = voucher.Status(status)
	v.DiscountType = amounts.DiscountType(discountType)

	rows, err := r.tx.Query(ctx, `SELECT id, item_id, quantity, rate, discount, discount_type, COALESCE(discount_id, 0),
COALESCE(tax_scheme_id, 0), direction FROM voucher_rows WHERE voucher_id = $1 ORDER BY position, id`, id)
	if err != nil {
		return voucher.Voucher{}, mapErr(err, "voucher rows", id)
	}
	defer rows.Close()
	for rows.Next() {
		row := voucher.Row{VoucherID: id}
		var rowDiscountType, direction string
		if err := rows.Scan(&row.ID, &row.ItemID, &row.Quantity, &row.Rate, &row.Discount, &rowDiscountType,
			&row.DiscountID, &row.TaxSchemeID, &direction); err != nil {
			return voucher.Voucher{}, err
		}
		row.DiscountType = amounts.DiscountType(rowDiscountType)
		row.Direction = voucher.Direction(direction)
		v.Rows = append(v.Rows, row)
	}
	return v, rows.Err()
}

func (r *txRepo) InsertVoucher(ctx context.Context, scope shared.Scope, v voucher.Voucher) (voucher.Voucher, error) {
	v.CompanyID = scope.CompanyID
	err := r.tx.QueryRow(ctx, `INSERT INTO vouchers (company_id, fiscal_year_id, kind, status, date, party_id, discount,
discount_type, discount_id, cancel_reason, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		scope.CompanyID, v.FiscalYearID, string(v.Kind), string(v.Status), v.Date, nullID(v.PartyID), v.Discount,
		string(v.DiscountType), nullID(v.DiscountID), v.CancelReason, v.CreatedAt, v.UpdatedAt).Scan(&v.ID)
	if err != nil {
		return voucher.Voucher{}, mapErr(err, "voucher", 0)
	}
	rows := make([]voucher.Row, 0, len(v.Rows))
	for i, row := range v.Rows {
		row.ID = 0
		saved, err := r.insertRow(ctx, v.ID, i, row)
		if err != nil {
			return voucher.Voucher{}, err
		}
		rows = append(rows, saved)
	}
	v.Rows = rows
	return v, nil
}

func (r *txRepo) UpdateVoucher(ctx context.Context, scope shared.Scope, v voucher.Voucher) error {
	tag, err := r.tx.Exec(ctx, `UPDATE vouchers SET status = $3, date = $4, party_id = $5, discount = $6, discount_type = $7,
discount_id = $8, cancel_reason = $9, updated_at = $10 WHERE company_id = $1 AND id = $2`,
		scope.CompanyID, v.ID, string(v.Status), v.Date, nullID(v.PartyID), v.Discount, string(v.DiscountType),
		nullID(v.DiscountID), v.CancelReason, v.UpdatedAt)
	return expectOne(tag, err, "voucher", v.ID)
}

func (r *txRepo) ReplaceRows(ctx context.Context, scope shared.Scope, voucherID int64, rows []voucher.Row) ([]voucher.Row, error) {
	var owner int64
	if err := r.tx.QueryRow(ctx, `SELECT id FROM vouchers WHERE company_id = $1 AND id = $2`, scope.CompanyID, voucherID).Scan(&owner); err != nil {
		return nil, mapErr(err, "voucher", voucherID)
	}
	keep := make([]int64, 0, len(rows))
	for _, row := range rows {
		if row.ID != 0 {
			keep = append(keep, row.ID)
		}
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM voucher_rows WHERE voucher_id = $1 AND NOT (id = ANY($2))`, voucherID, keep); err != nil {
		return nil, mapErr(err, "voucher rows", voucherID)
	}
	out := make([]voucher.Row, 0, len(rows))
	for i, row := range rows {
		if row.ID == 0 {
			saved, err := r.insertRow(ctx, voucherID, i, row)
			if err != nil {
				return nil, err
			}
			out = append(out, saved)
			continue
		}
		tag, err := r.tx.Exec(ctx, `UPDATE voucher_rows SET position = $3, item_id = $4, quantity = $5, rate = $6, discount = $7,
discount_type = $8, discount_id = $9, tax_scheme_id = $10, direction = $11 WHERE voucher_id = $1 AND id = $2`,
			voucherID, row.ID, i, row.ItemID, row.Quantity, row.Rate, row.Discount, string(row.DiscountType),
			nullID(row.DiscountID), nullID(row.TaxSchemeID), string(row.Direction))
		if err := expectOne(tag, err, "voucher row", row.ID); err != nil {
			return nil, err
		}
		row.VoucherID = voucherID
		out = append(out, row)
	}
	return out, nil
}

func (r *txRepo) insertRow(ctx context.Context, voucherID int64, position int, row voucher.Row) (voucher.Row, error) {
	row.VoucherID = voucherID
	err := r.tx.QueryRow(ctx, `INSERT INTO voucher_rows (voucher_id, position, item_id, quantity, rate, discount, discount_type,
discount_id, tax_scheme_id, direction) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		voucherID, position, row.ItemID, row.Quantity, row.Rate, row.Discount, string(row.DiscountType),
		nullID(row.DiscountID), nullID(row.TaxSchemeID), string(row.Direction)).Scan(&row.ID)
	if err != nil {
		return voucher.Row{}, mapErr(err, "item", row.ItemID)
	}
	return row, nil
}

func (r *txRepo) TrackedItemIDs(ctx context.Context, scope shared.Scope) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `SELECT id FROM items WHERE company_id = $1 AND track_inventory ORDER BY id`, scope.CompanyID)
	if err != nil {
		return nil, mapErr(err, "items of company", scope.CompanyID)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
