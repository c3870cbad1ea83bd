// Package memory is an in-process implementation of the voucher repository.
// Transactions are serialised by a mutex and rolled back from a snapshot.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/awecode/awecount-sub001/internal/fifo"
	"github.com/awecode/awecount-sub001/internal/ledger"
	"github.com/awecode/awecount-sub001/internal/shared"
	"github.com/awecode/awecount-sub001/internal/voucher"
)

type key struct {
	company int64
	id      int64
}

type data struct {
	nextID       int64
	accounts     map[int64]ledger.Account
	entries      map[int64]ledger.JournalEntry
	lots         map[int64]fifo.Lot
	consumptions map[int64]fifo.Consumption
	vouchers     map[int64]voucher.Voucher
	items        map[key]voucher.Item
	parties      map[key]voucher.Party
	taxes        map[key]voucher.TaxScheme
	discounts    map[key]voucher.DiscountObject
	settings     map[int64]voucher.Settings
}

func newData() *data {
	return &data{
		accounts:     map[int64]ledger.Account{},
		entries:      map[int64]ledger.JournalEntry{},
		lots:         map[int64]fifo.Lot{},
		consumptions: map[int64]fifo.Consumption{},
		vouchers:     map[int64]voucher.Voucher{},
		items:        map[key]voucher.Item{},
		parties:      map[key]voucher.Party{},
		taxes:        map[key]voucher.TaxScheme{},
		discounts:    map[key]voucher.DiscountObject{},
		settings:     map[int64]voucher.Settings{},
	}
}

func (d *data) clone() *data {
	out := newData()
	out.nextID = d.nextID
	for k, v := range d.accounts {
		out.accounts[k] = v
	}
	for k, v := range d.entries {
		out.entries[k] = cloneEntry(v)
	}
	for k, v := range d.lots {
		out.lots[k] = v
	}
	for k, v := range d.consumptions {
		out.consumptions[k] = cloneConsumption(v)
	}
	for k, v := range d.vouchers {
		out.vouchers[k] = cloneVoucher(v)
	}
	for k, v := range d.items {
		out.items[k] = v
	}
	for k, v := range d.parties {
		out.parties[k] = v
	}
	for k, v := range d.taxes {
		out.taxes[k] = v
	}
	for k, v := range d.discounts {
		out.discounts[k] = v
	}
	for k, v := range d.settings {
		out.settings[k] = v
	}
	return out
}

func (d *data) id() int64 {
	d.nextID++
	return d.nextID
}

func cloneEntry(e ledger.JournalEntry) ledger.JournalEntry {
	e.Transactions = append([]ledger.Transaction(nil), e.Transactions...)
	return e
}

func cloneConsumption(c fifo.Consumption) fifo.Consumption {
	c.Allocations = append([]fifo.Allocation(nil), c.Allocations...)
	return c
}

func cloneVoucher(v voucher.Voucher) voucher.Voucher {
	v.Rows = append([]voucher.Row(nil), v.Rows...)
	return v
}

// Store keeps every record in memory.
type Store struct {
	mu   sync.Mutex
	data *data
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newData()}
}

// WithTx runs fn with exclusive access. Any error restores the state held
// before fn started.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, voucher.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.data.clone()
	if err := fn(ctx, &tx{d: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Seeding and inspection helpers. They take the lock themselves and must not
// be called from inside WithTx.

// AddAccount registers a ledger account and returns it with its id.
func (s *Store) AddAccount(acc ledger.Account) ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc.ID == 0 {
		acc.ID = s.data.id()
	}
	s.data.accounts[acc.ID] = acc
	return acc
}

// PutItem registers or replaces an item of the company.
func (s *Store) PutItem(companyID int64, item voucher.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.items[key{companyID, item.ID}] = item
}

// PutParty registers or replaces a party of the company.
func (s *Store) PutParty(companyID int64, party voucher.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.parties[key{companyID, party.ID}] = party
}

// PutTaxScheme registers or replaces a tax scheme of the company.
func (s *Store) PutTaxScheme(companyID int64, tax voucher.TaxScheme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.taxes[key{companyID, tax.ID}] = tax
}

// PutDiscount registers or replaces a discount object of the company.
func (s *Store) PutDiscount(companyID int64, discount voucher.DiscountObject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.discounts[key{companyID, discount.ID}] = discount
}

// PutSettings stores the company settings.
func (s *Store) PutSettings(companyID int64, settings voucher.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.settings[companyID] = settings
}

// Account returns a copy of one account.
func (s *Store) Account(id int64) (ledger.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.data.accounts[id]
	return acc, ok
}

// Accounts returns every account ordered by id.
func (s *Store) Accounts() []ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Account, 0, len(s.data.accounts))
	for _, acc := range s.data.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// JournalEntries returns every entry ordered by id.
func (s *Store) JournalEntries() []ledger.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.JournalEntry, 0, len(s.data.entries))
	for _, e := range s.data.entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lots returns the lots of an item ordered by id.
func (s *Store) Lots(itemID int64) []fifo.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.lotsOf(0, itemID)
}

// Consumptions returns the consumptions of an item ordered by id.
func (s *Store) Consumptions(itemID int64) []fifo.Consumption {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.consumptionsOf(0, itemID)
}

// MutateLot applies fn to a stored lot. It exists to simulate edits that
// bypass the engine, such as bulk imports.
func (s *Store) MutateLot(id int64, fn func(*fifo.Lot)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lot, ok := s.data.lots[id]
	if !ok {
		return false
	}
	fn(&lot)
	s.data.lots[id] = lot
	return true
}

func (d *data) lotsOf(companyID, itemID int64) []fifo.Lot {
	var out []fifo.Lot
	for _, lot := range d.lots {
		if lot.ItemID == itemID && (companyID == 0 || lot.CompanyID == companyID) {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *data) consumptionsOf(companyID, itemID int64) []fifo.Consumption {
	var out []fifo.Consumption
	for _, c := range d.consumptions {
		if c.ItemID == itemID && (companyID == 0 || c.CompanyID == companyID) {
			out = append(out, cloneConsumption(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

var _ voucher.RepositoryPort = (*Store)(nil)

func notFound(what string, id int64) error {
	return shared.NotFoundf("%s %d", what, id)
}
