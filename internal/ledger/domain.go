package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/shared"
)

// Namespace separates the monetary ledger from the inventory (quantity) ledger.
type Namespace string

const (
	NamespaceMonetary  Namespace = "MONETARY"
	NamespaceInventory Namespace = "INVENTORY"
)

// SourceKind names the row type a journal entry was posted for.
type SourceKind string

const (
	SourceSalesRow           SourceKind = "sales_voucher_row"
	SourcePurchaseRow        SourceKind = "purchase_voucher_row"
	SourceCreditNoteRow      SourceKind = "credit_note_row"
	SourceDebitNoteRow       SourceKind = "debit_note_row"
	SourceStockAdjustmentRow SourceKind = "stock_adjustment_row"
	SourceConversionRow      SourceKind = "inventory_conversion_row"
)

// SourceRef points from a journal entry (or lot) to the row that caused it.
type SourceRef struct {
	Kind SourceKind
	ID   int64
}

func (r SourceRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// IsZero reports whether the reference is unset.
func (r SourceRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

// EntryType enumerates the logical accounting events.
type EntryType string

const (
	EntryTypeIssue   EntryType = "Issue"
	EntryTypeCancel  EntryType = "Cancel"
	EntryTypeClosing EntryType = "Closing"
)

// Account is a ledger node with its running balance pair.
type Account struct {
	ID         int64
	CompanyID  int64
	CategoryID int64
	Code       string
	Name       string
	Namespace  Namespace
	CurrentDr  decimal.Decimal
	CurrentCr  decimal.Decimal
}

// Balance returns CurrentDr - CurrentCr.
func (a Account) Balance() decimal.Decimal {
	return a.CurrentDr.Sub(a.CurrentCr)
}

// JournalEntry is one logical accounting event.
type JournalEntry struct {
	ID           int64
	CompanyID    int64
	Namespace    Namespace
	Date         time.Time
	Source       SourceRef
	Type         EntryType
	Transactions []Transaction
	CreatedAt    time.Time
}

// Transaction is one leg of a journal entry. In the inventory namespace Dr
// and Cr are quantities and Rate carries the unit cost.
type Transaction struct {
	ID             int64
	JournalEntryID int64
	AccountID      int64
	Dr             decimal.Decimal
	Cr             decimal.Decimal
	Rate           decimal.Decimal
}

// Leg is a requested transaction before merging and validation.
type Leg struct {
	AccountID int64
	Dr        decimal.Decimal
	Cr        decimal.Decimal
	Rate      decimal.Decimal
}

// Entry describes a journal entry to post.
type Entry struct {
	Namespace Namespace
	Date      time.Time
	Source    SourceRef
	Type      EntryType
	Legs      []Leg
}

// Store is the transaction-scoped persistence used by the poster.
type Store interface {
	InsertJournalEntry(ctx context.Context, scope shared.Scope, entry JournalEntry) (JournalEntry, error)
	JournalEntriesBySource(ctx context.Context, scope shared.Scope, refs []SourceRef) ([]JournalEntry, error)
	DeleteJournalEntries(ctx context.Context, scope shared.Scope, ids []int64) error
	ApplyAccountDelta(ctx context.Context, scope shared.Scope, accountID int64, dr, cr decimal.Decimal) error
}
