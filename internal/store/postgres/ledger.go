package postgres

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
)

func (r *txRepo) InsertJournalEntry(ctx context.Context, scope shared.Scope, entry ledger.JournalEntry) (ledger.JournalEntry, error) {
	entry.CompanyID = scope.CompanyID
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, namespace, date, source_kind, source_id, type)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		scope.CompanyID, string(entry.Namespace), entry.Date, string(entry.Source.Kind), entry.Source.ID, string(entry.Type))
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return ledger.JournalEntry{}, mapErr(err, "journal entry", 0)
	}
	for i := range entry.Transactions {
		leg := &entry.Transactions[i]
		leg.JournalEntryID = entry.ID
		err := r.tx.QueryRow(ctx, `INSERT INTO transactions (journal_entry_id, account_id, dr, cr, rate)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, entry.ID, leg.AccountID, leg.Dr, leg.Cr, leg.Rate).Scan(&leg.ID)
		if err != nil {
			return ledger.JournalEntry{}, mapErr(err, "account", leg.AccountID)
		}
	}
	return entry, nil
}

func (r *txRepo) JournalEntriesBySource(ctx context.Context, scope shared.Scope, refs []ledger.SourceRef) ([]ledger.JournalEntry, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	kinds := make([]string, len(refs))
	ids := make([]int64, len(refs))
	for i, ref := range refs {
		kinds[i] = string(ref.Kind)
		ids[i] = ref.ID
	}
	rows, err := r.tx.Query(ctx, `SELECT je.id, je.namespace, je.date, je.source_kind, je.source_id, je.type, je.created_at
FROM journal_entries je
JOIN unnest($2::text[], $3::bigint[]) AS src(kind, id) ON src.kind = je.source_kind AND src.id = je.source_id
WHERE je.company_id = $1
ORDER BY je.id
FOR UPDATE OF je`, scope.CompanyID, kinds, ids)
	if err != nil {
		return nil, mapErr(err, "journal entries", 0)
	}
	var entries []ledger.JournalEntry
	index := map[int64]int{}
	for rows.Next() {
		e := ledger.JournalEntry{CompanyID: scope.CompanyID}
		var ns, kind, typ string
		if err := rows.Scan(&e.ID, &ns, &e.Date, &kind, &e.Source.ID, &typ, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.Namespace = ledger.Namespace(ns)
		e.Source.Kind = ledger.SourceKind(kind)
		e.Type = ledger.EntryType(typ)
		index[e.ID] = len(entries)
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	entryIDs := make([]int64, len(entries))
	for i, e := range entries {
		entryIDs[i] = e.ID
	}
	legs, err := r.tx.Query(ctx, `SELECT id, journal_entry_id, account_id, dr, cr, rate
FROM transactions WHERE journal_entry_id = ANY($1) ORDER BY id`, entryIDs)
	if err != nil {
		return nil, mapErr(err, "transactions", 0)
	}
	defer legs.Close()
	for legs.Next() {
		var t ledger.Transaction
		if err := legs.Scan(&t.ID, &t.JournalEntryID, &t.AccountID, &t.Dr, &t.Cr, &t.Rate); err != nil {
			return nil, err
		}
		i := index[t.JournalEntryID]
		entries[i].Transactions = append(entries[i].Transactions, t)
	}
	return entries, legs.Err()
}

func (r *txRepo) DeleteJournalEntries(ctx context.Context, scope shared.Scope, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM journal_entries WHERE company_id = $1 AND id = ANY($2)`, scope.CompanyID, ids)
	return mapErr(err, "journal entries", 0)
}

func (r *txRepo) ApplyAccountDelta(ctx context.Context, scope shared.Scope, accountID int64, dr, cr decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounts SET current_dr = current_dr + $3, current_cr = current_cr + $4
WHERE company_id = $1 AND id = $2`, scope.CompanyID, accountID, dr, cr)
	return expectOne(tag, err, "account", accountID)
}
