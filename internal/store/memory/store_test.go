package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/awecode/awecount-sub001/internal/fifo"
	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/internal/voucher"
)

var scope = shared.Scope{CompanyID: 7, FiscalYearID: 1}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	acc := s.AddAccount(ledger.Account{CompanyID: scope.CompanyID, Code: "cash"})
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), func(ctx context.Context, tx voucher.TxRepository) error {
		require.NoError(t, tx.ApplyAccountDelta(ctx, scope, acc.ID, decimal.NewFromInt(10), decimal.Zero))
		_, err := tx.InsertLot(ctx, scope, fifo.Lot{ItemID: 1, Quantity: decimal.NewFromInt(5), Remaining: decimal.NewFromInt(5)})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, ok := s.Account(acc.ID)
	require.True(t, ok)
	require.True(t, got.Balance().IsZero())
	require.Empty(t, s.Lots(1))
}

func TestWithTxCommits(t *testing.T) {
	s := New()
	acc := s.AddAccount(ledger.Account{CompanyID: scope.CompanyID, Code: "cash"})

	err := s.WithTx(context.Background(), func(ctx context.Context, tx voucher.TxRepository) error {
		return tx.ApplyAccountDelta(ctx, scope, acc.ID, decimal.NewFromInt(10), decimal.NewFromInt(4))
	})
	require.NoError(t, err)

	got, _ := s.Account(acc.ID)
	require.True(t, got.Balance().Equal(decimal.NewFromInt(6)))
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.WithTx(ctx, func(context.Context, voucher.TxRepository) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestCompanyIsolation(t *testing.T) {
	s := New()
	acc := s.AddAccount(ledger.Account{CompanyID: 99, Code: "foreign"})
	other := shared.Scope{CompanyID: 99}

	err := s.WithTx(context.Background(), func(ctx context.Context, tx voucher.TxRepository) error {
		return tx.ApplyAccountDelta(ctx, scope, acc.ID, decimal.NewFromInt(1), decimal.Zero)
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	err = s.WithTx(context.Background(), func(ctx context.Context, tx voucher.TxRepository) error {
		v, err := tx.InsertVoucher(ctx, other, voucher.Voucher{Kind: voucher.KindSales, Date: time.Now()})
		if err != nil {
			return err
		}
		_, err = tx.GetVoucherForUpdate(ctx, scope, v.ID)
		return err
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeleteLotRefusesReferencedLot(t *testing.T) {
	s := New()
	err := s.WithTx(context.Background(), func(ctx context.Context, tx voucher.TxRepository) error {
		lot, err := tx.InsertLot(ctx, scope, fifo.Lot{ItemID: 1, Quantity: decimal.NewFromInt(5)})
		require.NoError(t, err)
		_, err = tx.InsertConsumption(ctx, scope, fifo.Consumption{
			ItemID:      1,
			Quantity:    decimal.NewFromInt(2),
			Allocations: []fifo.Allocation{{LotID: lot.ID, Quantity: decimal.NewFromInt(2)}},
		})
		require.NoError(t, err)
		return tx.DeleteLot(ctx, scope, lot.ID)
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, s.Lots(1))
	require.Empty(t, s.Consumptions(1))
}

func TestReplaceRowsKeepsKnownIDs(t *testing.T) {
	s := New()
	var kept, added int64
	err := s.WithTx(context.Background(), func(ctx context.Context, tx voucher.TxRepository) error {
		v, err := tx.InsertVoucher(ctx, scope, voucher.Voucher{
			Kind: voucher.KindSales,
			Rows: []voucher.Row{{ItemID: 1}, {ItemID: 2}},
		})
		if err != nil {
			return err
		}
		kept = v.Rows[1].ID
		rows, err := tx.ReplaceRows(ctx, scope, v.ID, []voucher.Row{{ID: kept, ItemID: 2}, {ItemID: 3}})
		if err != nil {
			return err
		}
		added = rows[1].ID
		got, err := tx.GetVoucherForUpdate(ctx, scope, v.ID)
		if err != nil {
			return err
		}
		require.Len(t, got.Rows, 2)
		require.Equal(t, kept, got.Rows[0].ID)
		require.Equal(t, v.ID, got.Rows[1].VoucherID)
		return nil
	})
	require.NoError(t, err)
	require.NotZero(t, added)
	require.NotEqual(t, kept, added)
}
