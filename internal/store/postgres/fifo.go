package postgres

import (
	"context"

	"github.com/awecode/awecount-sub001/internal/fifo"
	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// LotsForUpdate locks the item row before its lots so an item without lots
// still serialises concurrent writers.
func (r *txRepo) LotsForUpdate(ctx context.Context, scope shared.Scope, itemID int64) ([]fifo.Lot, error) {
	var locked int64
	if err := r.tx.QueryRow(ctx, `SELECT id FROM items WHERE company_id = $1 AND id = $2 FOR UPDATE`,
		scope.CompanyID, itemID).Scan(&locked); err != nil {
		return nil, mapErr(err, "item", itemID)
	}
	rows, err := r.tx.Query(ctx, `SELECT id, item_id, source_kind, source_id, date, quantity, remaining, rate, opening
FROM fifo_lots WHERE company_id = $1 AND item_id = $2 ORDER BY id FOR UPDATE`, scope.CompanyID, itemID)
	if err != nil {
		return nil, mapErr(err, "lots of item", itemID)
	}
	defer rows.Close()
	var lots []fifo.Lot
	for rows.Next() {
		lot := fifo.Lot{CompanyID: scope.CompanyID}
		var kind string
		if err := rows.Scan(&lot.ID, &lot.ItemID, &kind, &lot.Source.ID, &lot.Date, &lot.Quantity, &lot.Remaining, &lot.Rate, &lot.Opening); err != nil {
			return nil, err
		}
		lot.Source.Kind = ledger.SourceKind(kind)
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *txRepo) InsertLot(ctx context.Context, scope shared.Scope, lot fifo.Lot) (fifo.Lot, error) {
	lot.CompanyID = scope.CompanyID
	err := r.tx.QueryRow(ctx, `INSERT INTO fifo_lots (company_id, item_id, source_kind, source_id, date, quantity, remaining, rate, opening)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		scope.CompanyID, lot.ItemID, string(lot.Source.Kind), lot.Source.ID, lot.Date, lot.Quantity, lot.Remaining, lot.Rate, lot.Opening).Scan(&lot.ID)
	if err != nil {
		return fifo.Lot{}, mapErr(err, "lot of item", lot.ItemID)
	}
	return lot, nil
}

func (r *txRepo) UpdateLot(ctx context.Context, scope shared.Scope, lot fifo.Lot) error {
	tag, err := r.tx.Exec(ctx, `UPDATE fifo_lots SET date = $3, quantity = $4, remaining = $5, rate = $6
WHERE company_id = $1 AND id = $2`, scope.CompanyID, lot.ID, lot.Date, lot.Quantity, lot.Remaining, lot.Rate)
	return expectOne(tag, err, "lot", lot.ID)
}

func (r *txRepo) DeleteLot(ctx context.Context, scope shared.Scope, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM fifo_lots WHERE company_id = $1 AND id = $2`, scope.CompanyID, id)
	return expectOne(tag, err, "lot", id)
}

func (r *txRepo) Consumptions(ctx context.Context, scope shared.Scope, itemID int64) ([]fifo.Consumption, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, item_id, source_kind, source_id, date, quantity, shortfall
FROM fifo_consumptions WHERE company_id = $1 AND item_id = $2 ORDER BY id FOR UPDATE`, scope.CompanyID, itemID)
	if err != nil {
		return nil, mapErr(err, "consumptions of item", itemID)
	}
	var out []fifo.Consumption
	index := map[int64]int{}
	for rows.Next() {
		c := fifo.Consumption{CompanyID: scope.CompanyID}
		var kind string
		if err := rows.Scan(&c.ID, &c.ItemID, &kind, &c.Source.ID, &c.Date, &c.Quantity, &c.Shortfall); err != nil {
			rows.Close()
			return nil, err
		}
		c.Source.Kind = ledger.SourceKind(kind)
		index[c.ID] = len(out)
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(out))
	for i, c := range out {
		ids[i] = c.ID
	}
	allocs, err := r.tx.Query(ctx, `SELECT consumption_id, lot_id, quantity, rate
FROM fifo_allocations WHERE consumption_id = ANY($1) ORDER BY consumption_id, position`, ids)
	if err != nil {
		return nil, mapErr(err, "allocations of item", itemID)
	}
	defer allocs.Close()
	for allocs.Next() {
		var consumptionID int64
		var a fifo.Allocation
		if err := allocs.Scan(&consumptionID, &a.LotID, &a.Quantity, &a.Rate); err != nil {
			return nil, err
		}
		i := index[consumptionID]
		out[i].Allocations = append(out[i].Allocations, a)
	}
	return out, allocs.Err()
}

func (r *txRepo) InsertConsumption(ctx context.Context, scope shared.Scope, c fifo.Consumption) (fifo.Consumption, error) {
	c.CompanyID = scope.CompanyID
	err := r.tx.QueryRow(ctx, `INSERT INTO fifo_consumptions (company_id, item_id, source_kind, source_id, date, quantity, shortfall)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		scope.CompanyID, c.ItemID, string(c.Source.Kind), c.Source.ID, c.Date, c.Quantity, c.Shortfall).Scan(&c.ID)
	if err != nil {
		return fifo.Consumption{}, mapErr(err, "consumption of item", c.ItemID)
	}
	if err := r.writeAllocations(ctx, c); err != nil {
		return fifo.Consumption{}, err
	}
	return c, nil
}

func (r *txRepo) UpdateConsumption(ctx context.Context, scope shared.Scope, c fifo.Consumption) error {
	tag, err := r.tx.Exec(ctx, `UPDATE fifo_consumptions SET date = $3, quantity = $4, shortfall = $5
WHERE company_id = $1 AND id = $2`, scope.CompanyID, c.ID, c.Date, c.Quantity, c.Shortfall)
	if err := expectOne(tag, err, "consumption", c.ID); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM fifo_allocations WHERE consumption_id = $1`, c.ID); err != nil {
		return mapErr(err, "consumption", c.ID)
	}
	return r.writeAllocations(ctx, c)
}

func (r *txRepo) DeleteConsumption(ctx context.Context, scope shared.Scope, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM fifo_consumptions WHERE company_id = $1 AND id = $2`, scope.CompanyID, id)
	return expectOne(tag, err, "consumption", id)
}

func (r *txRepo) writeAllocations(ctx context.Context, c fifo.Consumption) error {
	for i, a := range c.Allocations {
		if _, err := r.tx.Exec(ctx, `INSERT INTO fifo_allocations (consumption_id, lot_id, position, quantity, rate)
VALUES ($1,$2,$3,$4,$5)`, c.ID, a.LotID, i, a.Quantity, a.Rate); err != nil {
			return mapErr(err, "lot", a.LotID)
		}
	}
	return nil
}
