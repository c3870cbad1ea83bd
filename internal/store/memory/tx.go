package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/fifo"
	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/internal/voucher"
)

type tx struct {
	d *data
}

var _ voucher.TxRepository = (*tx)(nil)

func (t *tx) InsertJournalEntry(_ context.Context, scope shared.Scope, entry ledger.JournalEntry) (ledger.JournalEntry, error) {
	entry.ID = t.d.id()
	entry.CompanyID = scope.CompanyID
	txs := make([]ledger.Transaction, len(entry.Transactions))
	for i, leg := range entry.Transactions {
		leg.ID = t.d.id()
		leg.JournalEntryID = entry.ID
		txs[i] = leg
	}
	entry.Transactions = txs
	t.d.entries[entry.ID] = cloneEntry(entry)
	return entry, nil
}

func (t *tx) JournalEntriesBySource(_ context.Context, scope shared.Scope, refs []ledger.SourceRef) ([]ledger.JournalEntry, error) {
	want := make(map[ledger.SourceRef]bool, len(refs))
	for _, ref := range refs {
		want[ref] = true
	}
	var out []ledger.JournalEntry
	for _, e := range t.d.entries {
		if e.CompanyID == scope.CompanyID && want[e.Source] {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *tx) DeleteJournalEntries(_ context.Context, scope shared.Scope, ids []int64) error {
	for _, id := range ids {
		if e, ok := t.d.entries[id]; ok && e.CompanyID == scope.CompanyID {
			delete(t.d.entries, id)
		}
	}
	return nil
}

func (t *tx) ApplyAccountDelta(_ context.Context, scope shared.Scope, accountID int64, dr, cr decimal.Decimal) error {
	acc, ok := t.d.accounts[accountID]
	if !ok || acc.CompanyID != scope.CompanyID {
		return notFound("account", accountID)
	}
	acc.CurrentDr = acc.CurrentDr.Add(dr)
	acc.CurrentCr = acc.CurrentCr.Add(cr)
	t.d.accounts[accountID] = acc
	return nil
}

func (t *tx) LotsForUpdate(_ context.Context, scope shared.Scope, itemID int64) ([]fifo.Lot, error) {
	return t.d.lotsOf(scope.CompanyID, itemID), nil
}

func (t *tx) InsertLot(_ context.Context, scope shared.Scope, lot fifo.Lot) (fifo.Lot, error) {
	lot.ID = t.d.id()
	lot.CompanyID = scope.CompanyID
	t.d.lots[lot.ID] = lot
	return lot, nil
}

func (t *tx) UpdateLot(_ context.Context, scope shared.Scope, lot fifo.Lot) error {
	existing, ok := t.d.lots[lot.ID]
	if !ok || existing.CompanyID != scope.CompanyID {
		return notFound("lot", lot.ID)
	}
	lot.CompanyID = existing.CompanyID
	t.d.lots[lot.ID] = lot
	return nil
}

func (t *tx) DeleteLot(_ context.Context, scope shared.Scope, id int64) error {
	existing, ok := t.d.lots[id]
	if !ok || existing.CompanyID != scope.CompanyID {
		return notFound("lot", id)
	}
	for _, c := range t.d.consumptions {
		for _, a := range c.Allocations {
			if a.LotID == id {
				return shared.Validationf("lot %d still referenced by consumption %d", id, c.ID)
			}
		}
	}
	delete(t.d.lots, id)
	return nil
}

func (t *tx) Consumptions(_ context.Context, scope shared.Scope, itemID int64) ([]fifo.Consumption, error) {
	return t.d.consumptionsOf(scope.CompanyID, itemID), nil
}

func (t *tx) InsertConsumption(_ context.Context, scope shared.Scope, c fifo.Consumption) (fifo.Consumption, error) {
	c.ID = t.d.id()
	c.CompanyID = scope.CompanyID
	t.d.consumptions[c.ID] = cloneConsumption(c)
	return c, nil
}

func (t *tx) UpdateConsumption(_ context.Context, scope shared.Scope, c fifo.Consumption) error {
	existing, ok := t.d.consumptions[c.ID]
	if !ok || existing.CompanyID != scope.CompanyID {
		return notFound("consumption", c.ID)
	}
	c.CompanyID = existing.CompanyID
	t.d.consumptions[c.ID] = cloneConsumption(c)
	return nil
}

func (t *tx) DeleteConsumption(_ context.Context, scope shared.Scope, id int64) error {
	existing, ok := t.d.consumptions[id]
	if !ok || existing.CompanyID != scope.CompanyID {
		return notFound("consumption", id)
	}
	delete(t.d.consumptions, id)
	return nil
}

func (t *tx) Items(_ context.Context, scope shared.Scope, ids []int64) (map[int64]voucher.Item, error) {
	out := make(map[int64]voucher.Item, len(ids))
	for _, id := range ids {
		if item, ok := t.d.items[key{scope.CompanyID, id}]; ok {
			out[id] = item
		}
	}
	return out, nil
}

func (t *tx) Party(_ context.Context, scope shared.Scope, id int64) (voucher.Party, error) {
	party, ok := t.d.parties[key{scope.CompanyID, id}]
	if !ok {
		return voucher.Party{}, notFound("party", id)
	}
	return party, nil
}

func (t *tx) TaxSchemes(_ context.Context, scope shared.Scope, ids []int64) (map[int64]voucher.TaxScheme, error) {
	out := make(map[int64]voucher.TaxScheme, len(ids))
	for _, id := range ids {
		if tax, ok := t.d.taxes[key{scope.CompanyID, id}]; ok {
			out[id] = tax
		}
	}
	return out, nil
}

func (t *tx) DiscountObjects(_ context.Context, scope shared.Scope, ids []int64) (map[int64]voucher.DiscountObject, error) {
	out := make(map[int64]voucher.DiscountObject, len(ids))
	for _, id := range ids {
		if discount, ok := t.d.discounts[key{scope.CompanyID, id}]; ok {
			out[id] = discount
		}
	}
	return out, nil
}

func (t *tx) Settings(_ context.Context, scope shared.Scope) (voucher.Settings, error) {
	return t.d.settings[scope.CompanyID], nil
}

func (t *tx) GetVoucherForUpdate(_ context.Context, scope shared.Scope, id int64) (voucher.Voucher, error) {
	v, ok := t.d.vouchers[id]
	if !ok || v.CompanyID != scope.CompanyID {
		return voucher.Voucher{}, notFound("voucher", id)
	}
	return cloneVoucher(v), nil
}

func (t *tx) InsertVoucher(_ context.Context, scope shared.Scope, v voucher.Voucher) (voucher.Voucher, error) {
	v.ID = t.d.id()
	v.CompanyID = scope.CompanyID
	rows := make([]voucher.Row, len(v.Rows))
	for i, row := range v.Rows {
		row.ID = t.d.id()
		row.VoucherID = v.ID
		rows[i] = row
	}
	v.Rows = rows
	t.d.vouchers[v.ID] = cloneVoucher(v)
	return v, nil
}

func (t *tx) UpdateVoucher(_ context.Context, scope shared.Scope, v voucher.Voucher) error {
	existing, ok := t.d.vouchers[v.ID]
	if !ok || existing.CompanyID != scope.CompanyID {
		return notFound("voucher", v.ID)
	}
	v.Rows = existing.Rows
	t.d.vouchers[v.ID] = cloneVoucher(v)
	return nil
}

func (t *tx) ReplaceRows(_ context.Context, scope shared.Scope, voucherID int64, rows []voucher.Row) ([]voucher.Row, error) {
	existing, ok := t.d.vouchers[voucherID]
	if !ok || existing.CompanyID != scope.CompanyID {
		return nil, notFound("voucher", voucherID)
	}
	out := make([]voucher.Row, len(rows))
	for i, row := range rows {
		if row.ID == 0 {
			row.ID = t.d.id()
		}
		row.VoucherID = voucherID
		out[i] = row
	}
	existing.Rows = out
	t.d.vouchers[voucherID] = cloneVoucher(existing)
	return append([]voucher.Row(nil), out...), nil
}

func (t *tx) TrackedItemIDs(_ context.Context, scope shared.Scope) ([]int64, error) {
	var ids []int64
	for k, item := range t.d.items {
		if k.company == scope.CompanyID && item.TrackInventory {
			ids = append(ids, item.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
