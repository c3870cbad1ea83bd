package voucher

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/awecode/awecount-sub001/internal/amounts"
	"github.com/awecode/awecount-sub001/internal/ledger"
)

// Kind enumerates the voucher types handled by the posting core.
type Kind string

const (
	KindSales               Kind = "sales"
	KindPurchase            Kind = "purchase"
	KindCreditNote          Kind = "credit_note"
	KindDebitNote           Kind = "debit_note"
	KindStockAdjustment     Kind = "stock_adjustment"
	KindInventoryConversion Kind = "inventory_conversion"
)

// Status enumerates the voucher lifecycle states.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusIssued    Status = "Issued"
	StatusCancelled Status = "Cancelled"
	StatusCleared   Status = "Cleared"
	StatusResolved  Status = "Resolved"
)

// Direction tells whether a row brings stock in or takes it out.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Voucher is the document header with its rows. PartyID 0 marks a cash voucher.
type Voucher struct {
	ID           int64
	CompanyID    int64
	FiscalYearID int64
	Kind         Kind      `validate:"required,oneof=sales purchase credit_note debit_note stock_adjustment inventory_conversion"`
	Status       Status
	Date         time.Time `validate:"required"`
	PartyID      int64     `validate:"gte=0"`
	Discount     decimal.Decimal
	DiscountType amounts.DiscountType `validate:"omitempty,oneof=Amount Percent"`
	DiscountID   int64                `validate:"gte=0"`
	Rows         []Row                `validate:"required,min=1,dive"`
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Row is one line of a voucher.
type Row struct {
	ID           int64
	VoucherID    int64
	ItemID       int64 `validate:"required,gt=0"`
	Quantity     decimal.Decimal
	Rate         decimal.Decimal
	Discount     decimal.Decimal
	DiscountType amounts.DiscountType `validate:"omitempty,oneof=Amount Percent"`
	DiscountID   int64                `validate:"gte=0"`
	TaxSchemeID  int64                `validate:"gte=0"`
	// Direction is required on stock adjustment and inventory conversion rows.
	Direction    Direction            `validate:"omitempty,oneof=in out"`
}

// Item is the master data the core reads for an inventory item.
type Item struct {
	ID                 int64
	Name               string
	TrackInventory     bool
	InventoryAccountID int64
	SalesAccountID     int64
	PurchaseAccountID  int64
}

// Party is a customer or supplier with its ledger account.
type Party struct {
	ID        int64
	AccountID int64
}

// TaxScheme is a named tax rate posted to its own account.
type TaxScheme struct {
	ID        int64
	Rate      decimal.Decimal
	AccountID int64
}

// DiscountObject is a reusable named discount.
type DiscountObject struct {
	ID    int64
	Type  amounts.DiscountType
	Value decimal.Decimal
	Trade bool
}

// Settings holds the company accounts and policy the core posts against.
type Settings struct {
	CashAccountID             int64
	DiscountAllowedAccountID  int64
	DiscountReceivedAccountID int64
	StockAdjustmentAccountID  int64
	AllowNegativeStock        bool
}

// Overrides are the caller's opt-ins to lift FIFO rejections.
type Overrides struct {
	AllowNegativeStock     bool
	AllowFIFOInconsistency bool
}

// Source returns the ledger and FIFO source reference of a row of this kind.
func (k Kind) Source(rowID int64) ledger.SourceRef {
	var kind ledger.SourceKind
	switch k {
	case KindSales:
		kind = ledger.SourceSalesRow
	case KindPurchase:
		kind = ledger.SourcePurchaseRow
	case KindCreditNote:
		kind = ledger.SourceCreditNoteRow
	case KindDebitNote:
		kind = ledger.SourceDebitNoteRow
	case KindStockAdjustment:
		kind = ledger.SourceStockAdjustmentRow
	case KindInventoryConversion:
		kind = ledger.SourceConversionRow
	}
	return ledger.SourceRef{Kind: kind, ID: rowID}
}

// Direction returns the stock direction of a row of this kind.
func (k Kind) Direction(row Row) Direction {
	switch k {
	case KindSales, KindDebitNote:
		return DirectionOut
	case KindPurchase, KindCreditNote:
		return DirectionIn
	default:
		return row.Direction
	}
}

// Commercial reports whether the kind carries prices, discounts and a party.
func (k Kind) Commercial() bool {
	switch k {
	case KindSales, KindPurchase, KindCreditNote, KindDebitNote:
		return true
	}
	return false
}

// Refs returns the source references of every saved row.
func (v Voucher) Refs() []ledger.SourceRef {
	refs := make([]ledger.SourceRef, 0, len(v.Rows))
	for _, row := range v.Rows {
		if row.ID != 0 {
			refs = append(refs, v.Kind.Source(row.ID))
		}
	}
	return refs
}
