package ledger

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/observability"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// Poster writes and removes journal entries inside a caller owned transaction.
type Poster struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPoster constructs the posting engine. Both arguments are optional.
func NewPoster(logger *slog.Logger, metrics *observability.Metrics) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{logger: logger, metrics: metrics}
}

// Validate checks the entry header and every leg.
func (e Entry) Validate() error {
	if e.Namespace != NamespaceMonetary && e.Namespace != NamespaceInventory {
		return shared.Validationf("ledger: unknown namespace %q", e.Namespace)
	}
	if e.Source.Kind == "" || e.Source.ID <= 0 {
		return shared.Validationf("ledger: source required")
	}
	if e.Date.IsZero() {
		return shared.Validationf("ledger: date required")
	}
	switch e.Type {
	case EntryTypeIssue, EntryTypeCancel, EntryTypeClosing:
	default:
		return shared.Validationf("ledger: unknown entry type %q", e.Type)
	}
	for idx, leg := range e.Legs {
		if leg.AccountID <= 0 {
			return shared.Validationf("ledger: leg %d missing account", idx)
		}
		if leg.Dr.IsNegative() || leg.Cr.IsNegative() {
			return shared.Validationf("ledger: leg %d negative amount", idx)
		}
		if !leg.Dr.IsZero() && !leg.Cr.IsZero() {
			return shared.Validationf("ledger: leg %d cannot be both debit and credit", idx)
		}
	}
	return nil
}

// Post validates, merges and persists one entry, then applies the balance
// deltas of every leg. Zero legs are dropped; an entry left with no legs is
// not persisted and the zero JournalEntry is returned.
func (p *Poster) Post(ctx context.Context, st Store, scope shared.Scope, e Entry) (JournalEntry, error) {
	if err := e.Validate(); err != nil {
		p.metrics.ObservePosting(string(e.Namespace), "invalid")
		return JournalEntry{}, err
	}
	txs := mergeLegs(e.Legs)
	if len(txs) == 0 {
		p.metrics.ObservePosting(string(e.Namespace), "empty")
		return JournalEntry{}, nil
	}
	entry := JournalEntry{
		CompanyID:    scope.CompanyID,
		Namespace:    e.Namespace,
		Date:         e.Date,
		Source:       e.Source,
		Type:         e.Type,
		Transactions: txs,
	}
	if err := CheckBalanced(entry); err != nil {
		p.metrics.ObservePosting(string(e.Namespace), "imbalanced")
		p.logger.ErrorContext(ctx, "ledger posting imbalance",
			slog.Int64("company_id", scope.CompanyID),
			slog.String("source", e.Source.String()),
			slog.Any("error", err))
		return JournalEntry{}, err
	}
	saved, err := st.InsertJournalEntry(ctx, scope, entry)
	if err != nil {
		return JournalEntry{}, err
	}
	for _, tx := range saved.Transactions {
		if err := st.ApplyAccountDelta(ctx, scope, tx.AccountID, tx.Dr, tx.Cr); err != nil {
			return JournalEntry{}, err
		}
	}
	p.metrics.ObservePosting(string(e.Namespace), "posted")
	return saved, nil
}

// Reverse deletes every entry keyed to refs in both namespaces and subtracts
// their balance deltas. It returns the number of entries removed.
func (p *Poster) Reverse(ctx context.Context, st Store, scope shared.Scope, refs []SourceRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	entries, err := st.JournalEntriesBySource(ctx, scope, refs)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(entries))
	perNamespace := map[Namespace]int{}
	for _, entry := range entries {
		for _, tx := range entry.Transactions {
			if err := st.ApplyAccountDelta(ctx, scope, tx.AccountID, tx.Dr.Neg(), tx.Cr.Neg()); err != nil {
				return 0, err
			}
		}
		ids = append(ids, entry.ID)
		perNamespace[entry.Namespace]++
	}
	if err := st.DeleteJournalEntries(ctx, scope, ids); err != nil {
		return 0, err
	}
	for ns, count := range perNamespace {
		p.metrics.ObserveReversal(string(ns), count)
	}
	return len(ids), nil
}

// Entries returns the entries keyed to refs.
func (p *Poster) Entries(ctx context.Context, st Store, scope shared.Scope, refs []SourceRef) ([]JournalEntry, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	return st.JournalEntriesBySource(ctx, scope, refs)
}

// CheckBalanced enforces Σdr == Σcr for monetary entries. Inventory entries
// are quantity movements and always pass.
func CheckBalanced(entry JournalEntry) error {
	if entry.Namespace != NamespaceMonetary {
		return nil
	}
	dr, cr := decimal.Zero, decimal.Zero
	for _, tx := range entry.Transactions {
		dr = dr.Add(tx.Dr)
		cr = cr.Add(tx.Cr)
	}
	if !dr.Equal(cr) {
		return &shared.Error{
			Code:    shared.CodePostingImbalance,
			Message: "debits and credits differ",
			Details: map[string]any{
				"source": entry.Source.String(),
				"dr":     dr.String(),
				"cr":     cr.String(),
			},
		}
	}
	return nil
}

// mergeLegs collapses legs per account into one net transaction each,
// ordered by account id. Accounts netting to zero are dropped.
func mergeLegs(legs []Leg) []Transaction {
	type acc struct {
		dr, cr, rate decimal.Decimal
	}
	byAccount := map[int64]*acc{}
	for _, leg := range legs {
		if leg.Dr.IsZero() && leg.Cr.IsZero() {
			continue
		}
		a, ok := byAccount[leg.AccountID]
		if !ok {
			a = &acc{}
			byAccount[leg.AccountID] = a
		}
		a.dr = a.dr.Add(leg.Dr)
		a.cr = a.cr.Add(leg.Cr)
		if !leg.Rate.IsZero() {
			a.rate = leg.Rate
		}
	}
	ids := make([]int64, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Transaction, 0, len(ids))
	for _, id := range ids {
		a := byAccount[id]
		net := a.dr.Sub(a.cr)
		tx := Transaction{AccountID: id, Rate: a.rate}
		switch {
		case net.IsPositive():
			tx.Dr = net
		case net.IsNegative():
			tx.Cr = net.Neg()
		default:
			continue
		}
		out = append(out, tx)
	}
	return out
}
