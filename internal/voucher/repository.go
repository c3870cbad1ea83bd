package voucher

import (
	"context"

	"github.com/awecode/awecount-sub001/internal/fifo"
	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes every read and write one voucher mutation needs
// inside a single transaction.
type TxRepository interface {
	ledger.Store
	fifo.Store
	MasterData

	// GetVoucherForUpdate loads and locks the voucher with its rows.
	GetVoucherForUpdate(ctx context.Context, scope shared.Scope, id int64) (Voucher, error)
	InsertVoucher(ctx context.Context, scope shared.Scope, v Voucher) (Voucher, error)
	// UpdateVoucher persists header fields and status.
	UpdateVoucher(ctx context.Context, scope shared.Scope, v Voucher) error
	// ReplaceRows keeps rows with a known id, inserts new ones and deletes
	// the rest. It returns the rows with ids assigned, in input order.
	ReplaceRows(ctx context.Context, scope shared.Scope, voucherID int64, rows []Row) ([]Row, error)
	// TrackedItemIDs lists inventory-tracked items of the company in ascending id order.
	TrackedItemIDs(ctx context.Context, scope shared.Scope) ([]int64, error)
}

// AuditPort records lifecycle events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}
