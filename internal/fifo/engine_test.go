package fifo

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
)

type fakeStore struct {
	nextID int64
	lots   map[int64]Lot
	cons   map[int64]Consumption
}

func newFakeStore() *fakeStore {
	return &fakeStore{lots: map[int64]Lot{}, cons: map[int64]Consumption{}}
}

func copyCons(c Consumption) Consumption {
	c.Allocations = append([]Allocation(nil), c.Allocations...)
	return c
}

func (f *fakeStore) LotsForUpdate(_ context.Context, _ shared.Scope, itemID int64) ([]Lot, error) {
	var out []Lot
	for _, lot := range f.lots {
		if lot.ItemID == itemID {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) InsertLot(_ context.Context, _ shared.Scope, lot Lot) (Lot, error) {
	f.nextID++
	lot.ID = f.nextID
	f.lots[lot.ID] = lot
	return lot, nil
}

func (f *fakeStore) UpdateLot(_ context.Context, _ shared.Scope, lot Lot) error {
	f.lots[lot.ID] = lot
	return nil
}

func (f *fakeStore) DeleteLot(_ context.Context, _ shared.Scope, id int64) error {
	delete(f.lots, id)
	return nil
}

func (f *fakeStore) Consumptions(_ context.Context, _ shared.Scope, itemID int64) ([]Consumption, error) {
	var out []Consumption
	for _, c := range f.cons {
		if c.ItemID == itemID {
			out = append(out, copyCons(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) InsertConsumption(_ context.Context, _ shared.Scope, c Consumption) (Consumption, error) {
	f.nextID++
	c.ID = f.nextID
	f.cons[c.ID] = copyCons(c)
	return c, nil
}

func (f *fakeStore) UpdateConsumption(_ context.Context, _ shared.Scope, c Consumption) error {
	f.cons[c.ID] = copyCons(c)
	return nil
}

func (f *fakeStore) DeleteConsumption(_ context.Context, _ shared.Scope, id int64) error {
	delete(f.cons, id)
	return nil
}

func (f *fakeStore) lotFor(src ledger.SourceRef) Lot {
	for _, lot := range f.lots {
		if lot.Source == src {
			return lot
		}
	}
	return Lot{}
}

func (f *fakeStore) consFor(src ledger.SourceRef) Consumption {
	for _, c := range f.cons {
		if c.Source == src {
			return c
		}
	}
	return Consumption{}
}

const item int64 = 42

var (
	scope = shared.Scope{CompanyID: 1, FiscalYearID: 1}
	base  = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(n int) time.Time {
	return base.AddDate(0, 0, n)
}

func purchase(id int64) ledger.SourceRef {
	return ledger.SourceRef{Kind: ledger.SourcePurchaseRow, ID: id}
}

func sale(id int64) ledger.SourceRef {
	return ledger.SourceRef{Kind: ledger.SourceSalesRow, ID: id}
}

func addLot(t *testing.T, e *Engine, st Store, src ledger.SourceRef, date time.Time, qty, rate string) Lot {
	t.Helper()
	lot, err := e.AddLot(context.Background(), st, scope, Lot{ItemID: item, Source: src, Date: date, Quantity: d(qty), Rate: d(rate)}, Policy{})
	require.NoError(t, err)
	return lot
}

func consume(e *Engine, st Store, src ledger.SourceRef, date time.Time, qty string, policy Policy) (Consumption, error) {
	return e.Consume(context.Background(), st, scope, Consumption{ItemID: item, Source: src, Date: date, Quantity: d(qty)}, policy)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func requireAllocations(t *testing.T, want, got []Allocation) {
	t.Helper()
	require.Lenf(t, got, len(want), "allocations %+v", got)
	for i := range want {
		require.Equal(t, want[i].LotID, got[i].LotID)
		requireDecimal(t, want[i].Quantity.String(), got[i].Quantity)
		requireDecimal(t, want[i].Rate.String(), got[i].Rate)
	}
}

func requireConserved(t *testing.T, st *fakeStore) {
	t.Helper()
	lhs, rhs := decimal.Zero, decimal.Zero
	for _, lot := range st.lots {
		require.False(t, lot.Remaining.IsNegative(), "lot %d negative", lot.ID)
		lhs = lhs.Add(lot.Remaining)
		rhs = rhs.Add(lot.Quantity)
	}
	for _, c := range st.cons {
		lhs = lhs.Add(c.Allocated())
		requireDecimal(t, c.Quantity.String(), c.Allocated().Add(c.Shortfall))
	}
	require.Truef(t, lhs.Equal(rhs), "remaining+consumed %s != purchased %s", lhs, rhs)
}

func TestTenUnitLotExample(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	l1 := addLot(t, e, st, purchase(1), day(0), "10", "5")

	first, err := consume(e, st, sale(1), day(1), "4", Policy{})
	require.NoError(t, err)
	requireAllocations(t, []Allocation{{LotID: l1.ID, Quantity: d("4"), Rate: d("5")}}, first.Allocations)
	requireDecimal(t, "6", st.lotFor(purchase(1)).Remaining)

	_, err = consume(e, st, sale(2), day(2), "8", Policy{})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var coded *shared.Error
	require.ErrorAs(t, err, &coded)
	require.Equal(t, shared.OverrideNegativeStock, coded.Override)

	require.NoError(t, e.Release(context.Background(), st, scope, item, sale(1), Policy{}))
	requireDecimal(t, "10", st.lotFor(purchase(1)).Remaining)
	require.Empty(t, st.cons)
}

func TestConsumeDrawsOpeningThenOldestLots(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	newer := addLot(t, e, st, purchase(2), day(5), "5", "12")
	older := addLot(t, e, st, purchase(1), day(1), "5", "10")
	opening, err := e.SetOpening(context.Background(), st, scope, item, day(0), d("3"), d("8"), Policy{})
	require.NoError(t, err)
	require.Equal(t, OpeningKey, opening.Key())

	c, err := consume(e, st, sale(1), day(6), "10", Policy{})
	require.NoError(t, err)
	requireAllocations(t, []Allocation{
		{LotID: opening.ID, Quantity: d("3"), Rate: d("8")},
		{LotID: older.ID, Quantity: d("5"), Rate: d("10")},
		{LotID: newer.ID, Quantity: d("2"), Rate: d("12")},
	}, c.Allocations)
	requireDecimal(t, "98", c.Cost())
	requireDecimal(t, "3", st.lotFor(purchase(2)).Remaining)
	requireConserved(t, st)
}

func TestNegativeStockRecordsShortfallAndLaterLotAbsorbsIt(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(0), "2", "5")

	c, err := consume(e, st, sale(1), day(1), "5", Policy{AllowNegativeStock: true})
	require.NoError(t, err)
	requireDecimal(t, "3", c.Shortfall)

	addLot(t, e, st, purchase(2), day(2), "10", "6")
	got := st.consFor(sale(1))
	requireDecimal(t, "0", got.Shortfall)
	requireDecimal(t, "5", got.Allocated())
	requireDecimal(t, "7", st.lotFor(purchase(2)).Remaining)
	requireConserved(t, st)
}

func TestReleaseRefusedWhenLaterConsumerSharesLot(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(0), "10", "5")
	_, err := consume(e, st, sale(1), day(1), "4", Policy{})
	require.NoError(t, err)
	_, err = consume(e, st, sale(2), day(2), "4", Policy{})
	require.NoError(t, err)

	err = e.Release(context.Background(), st, scope, item, sale(1), Policy{})
	require.ErrorIs(t, err, shared.ErrFIFOInconsistency)
	requireDecimal(t, "2", st.lotFor(purchase(1)).Remaining)

	require.NoError(t, e.Release(context.Background(), st, scope, item, sale(1), Policy{AllowFIFOInconsistency: true}))
	requireDecimal(t, "6", st.lotFor(purchase(1)).Remaining)
	requireConserved(t, st)
}

func TestReleaseOfLatestConsumerNeedsNoOverride(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(0), "10", "5")
	_, err := consume(e, st, sale(1), day(1), "4", Policy{})
	require.NoError(t, err)
	_, err = consume(e, st, sale(2), day(2), "4", Policy{})
	require.NoError(t, err)

	require.NoError(t, e.Release(context.Background(), st, scope, item, sale(2), Policy{}))
	requireDecimal(t, "6", st.lotFor(purchase(1)).Remaining)
}

func TestLotDecreaseCascadeMatchesReplay(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	l1 := addLot(t, e, st, purchase(1), day(0), "10", "5")
	l2 := addLot(t, e, st, purchase(2), day(1), "10", "7")
	_, err := consume(e, st, sale(1), day(2), "8", Policy{})
	require.NoError(t, err)

	_, err = e.ReviseLot(context.Background(), st, scope, item, purchase(1), d("5"), d("5"), Policy{})
	require.ErrorIs(t, err, shared.ErrFIFOInconsistency)

	lot, err := e.ReviseLot(context.Background(), st, scope, item, purchase(1), d("5"), d("5"), Policy{AllowFIFOInconsistency: true})
	require.NoError(t, err)
	requireDecimal(t, "0", lot.Remaining)

	c := st.consFor(sale(1))
	requireAllocations(t, []Allocation{
		{LotID: l1.ID, Quantity: d("5"), Rate: d("5")},
		{LotID: l2.ID, Quantity: d("3"), Rate: d("7")},
	}, c.Allocations)
	requireDecimal(t, "7", st.lotFor(purchase(2)).Remaining)
	requireConserved(t, st)

	report, err := e.Reconcile(context.Background(), st, scope, item)
	require.NoError(t, err)
	require.False(t, report.Changed())
}

func TestLotDecreaseWithinRemainingNeedsNoOverride(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(0), "10", "5")
	_, err := consume(e, st, sale(1), day(1), "4", Policy{})
	require.NoError(t, err)

	lot, err := e.ReviseLot(context.Background(), st, scope, item, purchase(1), d("6"), d("5"), Policy{})
	require.NoError(t, err)
	requireDecimal(t, "2", lot.Remaining)
	requireConserved(t, st)
}

func TestRateEditPropagatesToAllocations(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(0), "10", "5")
	_, err := consume(e, st, sale(1), day(1), "4", Policy{})
	require.NoError(t, err)

	_, err = e.ReviseLot(context.Background(), st, scope, item, purchase(1), d("10"), d("6"), Policy{})
	require.NoError(t, err)
	requireDecimal(t, "24", st.consFor(sale(1)).Cost())
}

func TestRemoveLotWithConsumersCascades(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(0), "4", "5")
	l2 := addLot(t, e, st, purchase(2), day(1), "10", "5")
	_, err := consume(e, st, sale(1), day(2), "3", Policy{})
	require.NoError(t, err)

	err = e.RemoveLot(context.Background(), st, scope, item, purchase(1), Policy{})
	require.ErrorIs(t, err, shared.ErrFIFOInconsistency)

	require.NoError(t, e.RemoveLot(context.Background(), st, scope, item, purchase(1), Policy{AllowFIFOInconsistency: true}))
	require.Len(t, st.lots, 1)
	requireAllocations(t, []Allocation{{LotID: l2.ID, Quantity: d("3"), Rate: d("5")}}, st.consFor(sale(1)).Allocations)
	requireConserved(t, st)
}

func TestRemoveUnconsumedLot(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(0), "4", "5")

	require.NoError(t, e.RemoveLot(context.Background(), st, scope, item, purchase(1), Policy{}))
	require.Empty(t, st.lots)
}

func TestResizeConsumption(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	l1 := addLot(t, e, st, purchase(1), day(0), "3", "5")
	l2 := addLot(t, e, st, purchase(2), day(1), "10", "6")
	_, err := consume(e, st, sale(1), day(2), "2", Policy{})
	require.NoError(t, err)

	c, err := e.ResizeConsumption(context.Background(), st, scope, item, sale(1), d("6"), Policy{})
	require.NoError(t, err)
	requireAllocations(t, []Allocation{
		{LotID: l1.ID, Quantity: d("3"), Rate: d("5")},
		{LotID: l2.ID, Quantity: d("3"), Rate: d("6")},
	}, c.Allocations)

	c, err = e.ResizeConsumption(context.Background(), st, scope, item, sale(1), d("1"), Policy{})
	require.NoError(t, err)
	requireAllocations(t, []Allocation{{LotID: l1.ID, Quantity: d("1"), Rate: d("5")}}, c.Allocations)
	requireDecimal(t, "2", st.lotFor(purchase(1)).Remaining)
	requireDecimal(t, "10", st.lotFor(purchase(2)).Remaining)

	_, err = e.ResizeConsumption(context.Background(), st, scope, item, sale(1), d("20"), Policy{})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	requireConserved(t, st)
}

func TestResizeConsumptionDecreaseConflictsWithLaterConsumer(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(0), "10", "5")
	_, err := consume(e, st, sale(1), day(1), "4", Policy{})
	require.NoError(t, err)
	_, err = consume(e, st, sale(2), day(2), "1", Policy{})
	require.NoError(t, err)

	_, err = e.ResizeConsumption(context.Background(), st, scope, item, sale(1), d("2"), Policy{})
	require.ErrorIs(t, err, shared.ErrFIFOInconsistency)
}

func TestValidation(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)

	_, err := e.AddLot(context.Background(), st, scope, Lot{ItemID: item, Source: purchase(1), Date: day(0), Quantity: d("-1")}, Policy{})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = consume(e, st, ledger.SourceRef{}, day(0), "1", Policy{})
	require.ErrorIs(t, err, shared.ErrValidation)

	addLot(t, e, st, purchase(1), day(0), "1", "1")
	_, err = e.AddLot(context.Background(), st, scope, Lot{ItemID: item, Source: purchase(1), Date: day(0), Quantity: d("1")}, Policy{})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = e.Release(context.Background(), st, scope, item, sale(9), Policy{})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconcileRepairsDriftAndIsIdempotent(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	l1 := addLot(t, e, st, purchase(1), day(0), "10", "5")
	addLot(t, e, st, purchase(2), day(1), "10", "5")
	_, err := consume(e, st, sale(1), day(2), "12", Policy{})
	require.NoError(t, err)

	// Simulate a bulk edit that bypassed the engine.
	broken := st.lots[l1.ID]
	broken.Remaining = d("4")
	st.lots[l1.ID] = broken

	report, err := e.Reconcile(context.Background(), st, scope, item)
	require.NoError(t, err)
	require.True(t, report.Changed())
	require.Equal(t, []int64{l1.ID}, report.LotsChanged)
	requireDecimal(t, "4", report.Drift)
	requireDecimal(t, "0", st.lots[l1.ID].Remaining)
	requireConserved(t, st)

	again, err := e.Reconcile(context.Background(), st, scope, item)
	require.NoError(t, err)
	require.False(t, again.Changed())
}

func TestReplayPermitsShortfall(t *testing.T) {
	lots := []Lot{{ID: 1, ItemID: item, Date: day(0), Quantity: d("2"), Remaining: d("2"), Rate: d("1")}}
	cons := []Consumption{{ID: 2, ItemID: item, Source: sale(1), Date: day(1), Quantity: d("5")}}

	outLots, outCons, report := Replay(lots, cons)
	requireDecimal(t, "0", outLots[0].Remaining)
	requireDecimal(t, "3", outCons[0].Shortfall)
	requireDecimal(t, "3", report.Shortfall)
	require.Equal(t, []int64{2}, report.ConsumptionsChanged)
	requireDecimal(t, "2", lots[0].Remaining)
}

// In-order operations must leave the same state a full replay would produce.
func TestRandomInOrderOperationsMatchReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		st := newFakeStore()
		e := NewEngine(nil, nil)
		policy := Policy{AllowNegativeStock: true}
		var sales []ledger.SourceRef
		for step := 0; step < 30; step++ {
			id := int64(step + 1)
			date := day(step)
			switch rng.Intn(3) {
			case 0:
				addLot(t, e, st, purchase(id), date, decimal.NewFromInt(int64(rng.Intn(10)+1)).String(), decimal.NewFromInt(int64(rng.Intn(5)+1)).String())
			case 1:
				_, err := consume(e, st, sale(id), date, decimal.NewFromInt(int64(rng.Intn(8)+1)).String(), policy)
				require.NoError(t, err)
				sales = append(sales, sale(id))
			default:
				if len(sales) == 0 {
					continue
				}
				last := sales[len(sales)-1]
				require.NoError(t, e.Release(context.Background(), st, scope, item, last, policy))
				sales = sales[:len(sales)-1]
			}
			requireConserved(t, st)
		}
		report, err := e.Reconcile(context.Background(), st, scope, item)
		require.NoError(t, err)
		require.Falsef(t, report.Changed(), "round %d drifted: %+v", round, report)
	}
}

func requireReplayed(t *testing.T, e *Engine, st *fakeStore) {
	t.Helper()
	report, err := e.Reconcile(context.Background(), st, scope, item)
	require.NoError(t, err)
	require.Falsef(t, report.Changed(), "state differs from replay: %+v", report)
}

// requireFIFOOrder checks that no consumer holds stock from a lot while an
// earlier lot of the item still has stock left.
func requireFIFOOrder(t *testing.T, st *fakeStore) {
	t.Helper()
	lots := make([]*Lot, 0, len(st.lots))
	for id := range st.lots {
		lot := st.lots[id]
		lots = append(lots, &lot)
	}
	sort.Slice(lots, func(i, j int) bool { return lotBefore(lots[i], lots[j]) })
	pos := make(map[int64]int, len(lots))
	for i, lot := range lots {
		pos[lot.ID] = i
	}
	for _, c := range st.cons {
		for _, a := range c.Allocations {
			for _, earlier := range lots[:pos[a.LotID]] {
				require.Falsef(t, earlier.Remaining.IsPositive(),
					"consumption %d draws lot %d while earlier lot %d has %s left", c.ID, a.LotID, earlier.ID, earlier.Remaining)
			}
		}
	}
}

func TestReleaseOfEarlierConsumerReSourcesLaterOnes(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	l1 := addLot(t, e, st, purchase(1), day(1), "10", "5")
	l2 := addLot(t, e, st, purchase(2), day(2), "10", "6")
	_, err := consume(e, st, sale(1), day(3), "10", Policy{})
	require.NoError(t, err)
	_, err = consume(e, st, sale(2), day(4), "3", Policy{})
	require.NoError(t, err)

	err = e.Release(context.Background(), st, scope, item, sale(1), Policy{})
	require.ErrorIs(t, err, shared.ErrFIFOInconsistency)
	var coded *shared.Error
	require.ErrorAs(t, err, &coded)
	require.Equal(t, shared.OverrideFIFOInconsistency, coded.Override)

	require.NoError(t, e.Release(context.Background(), st, scope, item, sale(1), Policy{AllowFIFOInconsistency: true}))
	requireAllocations(t, []Allocation{{LotID: l1.ID, Quantity: d("3"), Rate: d("5")}}, st.consFor(sale(2)).Allocations)
	requireDecimal(t, "7", st.lots[l1.ID].Remaining)
	requireDecimal(t, "10", st.lots[l2.ID].Remaining)
	requireFIFOOrder(t, st)
	requireReplayed(t, e, st)
}

func TestGrowingEarlierConsumerConflictsWithLaterOnes(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	l1 := addLot(t, e, st, purchase(1), day(1), "10", "5")
	l2 := addLot(t, e, st, purchase(2), day(2), "10", "6")
	_, err := consume(e, st, sale(1), day(3), "5", Policy{})
	require.NoError(t, err)
	_, err = consume(e, st, sale(2), day(4), "5", Policy{})
	require.NoError(t, err)

	_, err = e.ResizeConsumption(context.Background(), st, scope, item, sale(1), d("8"), Policy{})
	require.ErrorIs(t, err, shared.ErrFIFOInconsistency)

	grown, err := e.ResizeConsumption(context.Background(), st, scope, item, sale(1), d("8"), Policy{AllowFIFOInconsistency: true})
	require.NoError(t, err)
	requireAllocations(t, []Allocation{{LotID: l1.ID, Quantity: d("8"), Rate: d("5")}}, grown.Allocations)
	requireAllocations(t, []Allocation{
		{LotID: l1.ID, Quantity: d("2"), Rate: d("5")},
		{LotID: l2.ID, Quantity: d("3"), Rate: d("6")},
	}, st.consFor(sale(2)).Allocations)
	requireFIFOOrder(t, st)
	requireReplayed(t, e, st)
}

func TestGrowingLatestConsumerNeedsNoOverride(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(1), "10", "5")
	addLot(t, e, st, purchase(2), day(2), "10", "6")
	_, err := consume(e, st, sale(1), day(3), "5", Policy{})
	require.NoError(t, err)
	_, err = consume(e, st, sale(2), day(4), "5", Policy{})
	require.NoError(t, err)

	_, err = e.ResizeConsumption(context.Background(), st, scope, item, sale(2), d("9"), Policy{})
	require.NoError(t, err)
	requireFIFOOrder(t, st)
	requireReplayed(t, e, st)
}

func TestBackdatedLotConflictsWithConsumedLaterLots(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	later := addLot(t, e, st, purchase(1), day(5), "10", "6")
	_, err := consume(e, st, sale(1), day(6), "4", Policy{})
	require.NoError(t, err)

	_, err = e.AddLot(context.Background(), st, scope, Lot{ItemID: item, Source: purchase(2), Date: day(1), Quantity: d("10"), Rate: d("5")}, Policy{})
	require.ErrorIs(t, err, shared.ErrFIFOInconsistency)

	early, err := e.AddLot(context.Background(), st, scope, Lot{ItemID: item, Source: purchase(2), Date: day(1), Quantity: d("10"), Rate: d("5")}, Policy{AllowFIFOInconsistency: true})
	require.NoError(t, err)
	require.NotZero(t, early.ID)
	requireDecimal(t, "6", early.Remaining)
	requireAllocations(t, []Allocation{{LotID: early.ID, Quantity: d("4"), Rate: d("5")}}, st.consFor(sale(1)).Allocations)
	requireDecimal(t, "10", st.lots[later.ID].Remaining)
	requireFIFOOrder(t, st)
	requireReplayed(t, e, st)
}

func TestBackdatedLotAfterUnconsumedStockNeedsNoOverride(t *testing.T) {
	st := newFakeStore()
	e := NewEngine(nil, nil)
	addLot(t, e, st, purchase(1), day(1), "10", "5")
	_, err := consume(e, st, sale(1), day(6), "4", Policy{})
	require.NoError(t, err)

	addLot(t, e, st, purchase(2), day(3), "10", "6")
	requireFIFOOrder(t, st)
	requireReplayed(t, e, st)
}

// Any sequence of operations, in or out of date order, must leave exactly
// the state a full replay would produce.
func TestRandomOperationsMatchReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	policy := Policy{AllowNegativeStock: true, AllowFIFOInconsistency: true}
	qty := func(n int) decimal.Decimal { return decimal.NewFromInt(int64(rng.Intn(n) + 1)) }
	for round := 0; round < 25; round++ {
		st := newFakeStore()
		e := NewEngine(nil, nil)
		var sales, purchases []ledger.SourceRef
		for step := 0; step < 40; step++ {
			id := int64(step + 1)
			date := day(rng.Intn(20))
			switch op := rng.Intn(6); {
			case op == 0 || len(purchases) == 0:
				_, err := e.AddLot(context.Background(), st, scope, Lot{ItemID: item, Source: purchase(id), Date: date, Quantity: qty(10), Rate: qty(5)}, policy)
				require.NoError(t, err)
				purchases = append(purchases, purchase(id))
			case op == 1:
				_, err := e.Consume(context.Background(), st, scope, Consumption{ItemID: item, Source: sale(id), Date: date, Quantity: qty(8)}, policy)
				require.NoError(t, err)
				sales = append(sales, sale(id))
			case op == 2 && len(sales) > 0:
				i := rng.Intn(len(sales))
				require.NoError(t, e.Release(context.Background(), st, scope, item, sales[i], policy))
				sales = append(sales[:i], sales[i+1:]...)
			case op == 3 && len(sales) > 0:
				_, err := e.ResizeConsumption(context.Background(), st, scope, item, sales[rng.Intn(len(sales))], qty(12), policy)
				require.NoError(t, err)
			case op == 4:
				_, err := e.ReviseLot(context.Background(), st, scope, item, purchases[rng.Intn(len(purchases))], qty(10), qty(5), policy)
				require.NoError(t, err)
			case op == 5 && len(purchases) > 1:
				i := rng.Intn(len(purchases))
				require.NoError(t, e.RemoveLot(context.Background(), st, scope, item, purchases[i], policy))
				purchases = append(purchases[:i], purchases[i+1:]...)
			}
			requireConserved(t, st)
			requireFIFOOrder(t, st)
			requireReplayed(t, e, st)
		}
	}
}
