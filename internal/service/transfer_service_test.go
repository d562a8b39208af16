package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bank-cards/card-service/internal/apperr"
	"github.com/bank-cards/card-service/internal/models"
	"github.com/bank-cards/card-service/internal/repository/memstore"
)

type transferFixture struct {
	store     *memstore.Store
	cards     *CardService
	transfers *TransferService
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()
	store := memstore.New()
	cards := newCardService(t, store)
	transfers := NewTransferService(store, testLogger(), nil)
	transfers.now = func() time.Time { return testNow }
	return &transferFixture{store: store, cards: cards, transfers: transfers}
}

func (f *transferFixture) card(t *testing.T, owner, number, balance string) *models.Card {
	t.Helper()
	c, err := f.cards.Create(context.Background(), owner, number, "12/29", money(balance))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *transferFixture) balance(t *testing.T, owner string, id int64) decimal.Decimal {
	t.Helper()
	c, err := f.cards.GetOwned(context.Background(), id, owner)
	if err != nil {
		t.Fatal(err)
	}
	return c.Balance
}

func TestTransfer(t *testing.T) {
	f := newTransferFixture(t)
	seedUser(t, f.store, "alice")
	from := f.card(t, "alice", "1111222233334444", "1000.00")
	to := f.card(t, "alice", "5555666677778888", "100.00")

	id, err := f.transfers.Transfer(context.Background(), "alice", from.ID, to.ID, money("250.00"))
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("receipt id not assigned")
	}
	if got := f.balance(t, "alice", from.ID); !got.Equal(money("750.00")) {
		t.Fatalf("source balance = %s, want 750.00", got)
	}
	if got := f.balance(t, "alice", to.ID); !got.Equal(money("350.00")) {
		t.Fatalf("target balance = %s, want 350.00", got)
	}

	log := f.store.Transfers()
	if len(log) != 1 {
		t.Fatalf("transfer log has %d entries, want 1", len(log))
	}
	rec := log[0]
	if rec.ID != id || rec.FromCardID != from.ID || rec.ToCardID != to.ID || !rec.Amount.Equal(money("250.00")) {
		t.Fatalf("receipt mismatch: %+v", rec)
	}
}

func TestTransferValidation(t *testing.T) {
	f := newTransferFixture(t)
	seedUser(t, f.store, "alice")
	seedUser(t, f.store, "mallory")
	from := f.card(t, "alice", "1111222233334444", "10.00")
	to := f.card(t, "alice", "5555666677778888", "0.00")
	foreign := f.card(t, "mallory", "9999000011112222", "50.00")

	blocked := f.card(t, "alice", "3333444455556666", "10.00")
	if _, err := f.cards.Block(context.Background(), blocked.ID); err != nil {
		t.Fatal(err)
	}
	expired, err := f.cards.Create(context.Background(), "alice", "7777888899990000", "01/26", money("10.00"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		user     string
		from, to int64
		amount   decimal.Decimal
		wantKind apperr.Kind
		wantMsg  string
	}{
		{"zero from id", "alice", 0, to.ID, money("1.00"), apperr.KindValidation, "card ids required"},
		{"zero to id", "alice", from.ID, 0, money("1.00"), apperr.KindValidation, "card ids required"},
		{"same card", "alice", from.ID, from.ID, money("1.00"), apperr.KindValidation, "from and to must differ"},
		{"amount below minimum", "alice", from.ID, to.ID, money("0.001"), apperr.KindValidation, "amount must be >= 0.01"},
		{"zero amount", "alice", from.ID, to.ID, money("0"), apperr.KindValidation, "amount must be >= 0.01"},
		{"negative amount", "alice", from.ID, to.ID, money("-5.00"), apperr.KindValidation, "amount must be >= 0.01"},
		{"foreign source", "alice", foreign.ID, to.ID, money("1.00"), apperr.KindForbidden, "not your source card"},
		{"foreign target", "alice", from.ID, foreign.ID, money("1.00"), apperr.KindForbidden, "not your target card"},
		{"missing source", "alice", 404404, to.ID, money("1.00"), apperr.KindForbidden, "not your source card"},
		{"blocked source", "alice", blocked.ID, to.ID, money("1.00"), apperr.KindValidation, "cards must be ACTIVE"},
		{"expired target", "alice", from.ID, expired.ID, money("1.00"), apperr.KindValidation, "cards must be ACTIVE"},
		{"insufficient funds", "alice", to.ID, from.ID, money("10.00"), apperr.KindValidation, "insufficient funds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.transfers.Transfer(context.Background(), tt.user, tt.from, tt.to, tt.amount)
			if apperr.KindOf(err) != tt.wantKind {
				t.Fatalf("kind = %v, err = %v, want %v", apperr.KindOf(err), err, tt.wantKind)
			}
			if err.Error() != tt.wantMsg {
				t.Fatalf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}

	// No failed attempt may move money or leave a receipt.
	if got := f.balance(t, "alice", from.ID); !got.Equal(money("10.00")) {
		t.Fatalf("source balance changed by failed transfers: %s", got)
	}
	if got := f.balance(t, "alice", to.ID); !got.Equal(money("0.00")) {
		t.Fatalf("target balance changed by failed transfers: %s", got)
	}
	if log := f.store.Transfers(); len(log) != 0 {
		t.Fatalf("failed transfers logged %d receipts", len(log))
	}
}

func TestTransferExactBalance(t *testing.T) {
	f := newTransferFixture(t)
	seedUser(t, f.store, "alice")
	from := f.card(t, "alice", "1111222233334444", "10.00")
	to := f.card(t, "alice", "5555666677778888", "0.00")

	if _, err := f.transfers.Transfer(context.Background(), "alice", from.ID, to.ID, money("10.00")); err != nil {
		t.Fatalf("transfer of the full balance must succeed: %v", err)
	}
	if got := f.balance(t, "alice", from.ID); !got.Equal(money("0.00")) {
		t.Fatalf("source balance = %s, want 0.00", got)
	}
}

func TestTransferUnknownUser(t *testing.T) {
	f := newTransferFixture(t)
	seedUser(t, f.store, "alice")
	from := f.card(t, "alice", "1111222233334444", "10.00")
	to := f.card(t, "alice", "5555666677778888", "0.00")

	_, err := f.transfers.Transfer(context.Background(), "ghost", from.ID, to.ID, money("1.00"))
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("want not-found for unknown user, got %v", err)
	}
}

// Concurrent withdrawals from one shared source must serialize: every
// success debits real money, the sum is conserved, and the source never
// goes negative.
func TestTransferConcurrentSharedSource(t *testing.T) {
	f := newTransferFixture(t)
	seedUser(t, f.store, "alice")
	from := f.card(t, "alice", "1111222233334444", "50.00")
	to := f.card(t, "alice", "5555666677778888", "0.00")

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.transfers.Transfer(context.Background(), "alice", from.ID, to.ID, money("10.00"))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if apperr.KindOf(err) != apperr.KindValidation {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("%d transfers succeeded, want exactly 5", succeeded)
	}
	fromBal := f.balance(t, "alice", from.ID)
	toBal := f.balance(t, "alice", to.ID)
	if !fromBal.Equal(money("0.00")) || !toBal.Equal(money("50.00")) {
		t.Fatalf("balances = %s / %s, want 0.00 / 50.00", fromBal, toBal)
	}
	if log := f.store.Transfers(); len(log) != 5 {
		t.Fatalf("transfer log has %d receipts, want 5", len(log))
	}
}

// Opposite-direction transfers between the same pair must not deadlock
// and must conserve the total.
func TestTransferOppositeDirectionsNoDeadlock(t *testing.T) {
	f := newTransferFixture(t)
	seedUser(t, f.store, "alice")
	a := f.card(t, "alice", "1111222233334444", "500.00")
	b := f.card(t, "alice", "5555666677778888", "500.00")

	const rounds = 100
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if _, err := f.transfers.Transfer(context.Background(), "alice", a.ID, b.ID, money("1.00")); err != nil {
				t.Errorf("a->b: %v", err)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if _, err := f.transfers.Transfer(context.Background(), "alice", b.ID, a.ID, money("1.00")); err != nil {
				t.Errorf("b->a: %v", err)
			}
		}
	}()
	wg.Wait()

	balA := f.balance(t, "alice", a.ID)
	balB := f.balance(t, "alice", b.ID)
	if !balA.Add(balB).Equal(money("1000.00")) {
		t.Fatalf("total not conserved: %s + %s", balA, balB)
	}
	if balA.IsNegative() || balB.IsNegative() {
		t.Fatalf("negative balance: %s / %s", balA, balB)
	}
}

// Transfers over disjoint card pairs run independently.
func TestTransferDisjointPairsConcurrent(t *testing.T) {
	f := newTransferFixture(t)
	seedUser(t, f.store, "alice")

	type pair struct{ from, to int64 }
	numbers := [][2]string{
		{"1111222233334444", "5555666677778888"},
		{"9999000011112222", "3333444455556666"},
		{"7777888899990000", "1212343456567878"},
	}
	var pairs []pair
	for _, n := range numbers {
		from := f.card(t, "alice", n[0], "100.00")
		to := f.card(t, "alice", n[1], "0.00")
		pairs = append(pairs, pair{from.ID, to.ID})
	}

	var wg sync.WaitGroup
	for _, p := range pairs {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := f.transfers.Transfer(context.Background(), "alice", p.from, p.to, money("10.00")); err != nil {
					t.Errorf("pair %d->%d: %v", p.from, p.to, err)
				}
			}
		}(p)
	}
	wg.Wait()

	for _, p := range pairs {
		if got := f.balance(t, "alice", p.from); !got.Equal(money("0.00")) {
			t.Fatalf("pair %d source balance = %s", p.from, got)
		}
		if got := f.balance(t, "alice", p.to); !got.Equal(money("100.00")) {
			t.Fatalf("pair %d target balance = %s", p.to, got)
		}
	}
	if log := f.store.Transfers(); len(log) != 30 {
		t.Fatalf("transfer log has %d receipts, want 30", len(log))
	}
}
