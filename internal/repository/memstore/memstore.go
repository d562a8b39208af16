// Package memstore is an in-memory store with the same transactional
// guarantees as the Postgres repository. It backs the test suite and works
// as a zero-dependency development backend.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bank-cards/card-service/internal/apperr"
	"github.com/bank-cards/card-service/internal/models"
)

// cardRecord pairs a card with its own lock. Balance reads and writes go
// through rec.mu so a transfer in flight is never observed half-applied.
type cardRecord struct {
	mu   sync.Mutex
	card models.Card
}

// Store keeps everything in maps guarded by a table-level RWMutex, with
// per-card locks for balance mutation. Transfers lock the two card records
// in ascending id order regardless of direction; transfers over disjoint
// pairs run fully in parallel.
type Store struct {
	mu             sync.RWMutex
	users          map[int64]*models.User
	usersByName    map[string]int64
	cards          map[int64]*cardRecord
	transfers      []*models.Transfer
	nextUserID     int64
	nextCardID     int64
	nextTransferID int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:       make(map[int64]*models.User),
		usersByName: make(map[string]int64),
		cards:       make(map[int64]*cardRecord),
	}
}

// CreateUser inserts a user, enforcing username uniqueness.
func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByName[u.Username]; ok {
		return apperr.Validation("username taken")
	}
	s.nextUserID++
	u.ID = s.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.users[u.ID] = &cp
	s.usersByName[u.Username] = u.ID
	return nil
}

// FindUserByUsername returns a copy of the user with that username.
func (s *Store) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[username]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *s.users[id]
	return &cp, nil
}

// FindUserByID returns a copy of the user with that id.
func (s *Store) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

// CreateCard inserts a card and assigns its id.
func (s *Store) CreateCard(_ context.Context, c *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCardID++
	c.ID = s.nextCardID
	s.cards[c.ID] = &cardRecord{card: *c}
	return nil
}

// record looks up the live card record for id.
func (s *Store) record(id int64) (*cardRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cards[id]
	return rec, ok
}

// snapshot copies a card under its record lock.
func (rec *cardRecord) snapshot() models.Card {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.card
}

// FindCardByID returns a copy of the card with that id.
func (s *Store) FindCardByID(_ context.Context, id int64) (*models.Card, error) {
	rec, ok := s.record(id)
	if !ok {
		return nil, apperr.NotFound("card not found")
	}
	cp := rec.snapshot()
	return &cp, nil
}

// FindCardByIDAndOwner returns the card only when owned by ownerID; absent
// and foreign cards are indistinguishable to the caller.
func (s *Store) FindCardByIDAndOwner(_ context.Context, id, ownerID int64) (*models.Card, error) {
	rec, ok := s.record(id)
	if !ok {
		return nil, apperr.NotFound("card not found")
	}
	cp := rec.snapshot()
	if cp.OwnerID != ownerID {
		return nil, apperr.NotFound("card not found")
	}
	return &cp, nil
}

// ListCards pages through cards matching the filter, ordered by id.
func (s *Store) ListCards(_ context.Context, f models.CardFilter) ([]*models.Card, int64, error) {
	s.mu.RLock()
	recs := make([]*cardRecord, 0, len(s.cards))
	for _, rec := range s.cards {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	matched := make([]models.Card, 0, len(recs))
	for _, rec := range recs {
		c := rec.snapshot()
		if f.OwnerID != nil && c.OwnerID != *f.OwnerID {
			continue
		}
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.Last4 != "" && !strings.Contains(c.Last4, f.Last4) {
			continue
		}
		if f.Expiry != "" && c.Expiry != f.Expiry {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := int64(len(matched))
	// The offset is derived without multiplying page by size: the product
	// overflows for huge page values and a negative index would panic the
	// copy below.
	start, end := 0, len(matched)
	if f.Size > 0 && f.Page > 0 {
		if f.Page > len(matched)/f.Size {
			start = len(matched)
		} else {
			start = f.Page * f.Size
		}
	}
	if f.Size > 0 && start+f.Size < end {
		end = start + f.Size
	}
	out := make([]*models.Card, 0, end-start)
	for i := start; i < end; i++ {
		cp := matched[i]
		out = append(out, &cp)
	}
	return out, total, nil
}

// UpdateCardStatus mutates only the stored status and returns the new state.
func (s *Store) UpdateCardStatus(_ context.Context, id int64, status models.CardStatus) (*models.Card, error) {
	rec, ok := s.record(id)
	if !ok {
		return nil, apperr.NotFound("card not found")
	}
	rec.mu.Lock()
	rec.card.Status = status
	cp := rec.card
	rec.mu.Unlock()
	return &cp, nil
}

// DeleteCard hard-deletes a card; an absent id is not an error. The record
// lock is taken first so a delete cannot interleave with a transfer that
// already holds the card.
func (s *Store) DeleteCard(_ context.Context, id int64) error {
	rec, ok := s.record(id)
	if !ok {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	s.mu.Lock()
	delete(s.cards, id)
	s.mu.Unlock()
	return nil
}

// PerformTransfer validates and applies a transfer atomically. Both card
// records are locked in ascending id order, so two transfers over the same
// pair serialize no matter their direction, while transfers over disjoint
// pairs proceed concurrently.
func (s *Store) PerformTransfer(_ context.Context, ownerID, fromID, toID int64, amount decimal.Decimal, now time.Time) (*models.Transfer, error) {
	if fromID == toID {
		return nil, apperr.Validation("from and to must differ")
	}
	fromRec, fromOK := s.record(fromID)
	toRec, toOK := s.record(toID)

	ordered := make([]*cardRecord, 0, 2)
	if fromOK {
		ordered = append(ordered, fromRec)
	}
	if toOK {
		ordered = append(ordered, toRec)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].card.ID < ordered[j].card.ID })
	for _, rec := range ordered {
		rec.mu.Lock()
	}
	defer func() {
		for _, rec := range ordered {
			rec.mu.Unlock()
		}
	}()

	var from, to *models.Card
	if fromOK && s.present(fromID) {
		from = &fromRec.card
	}
	if toOK && s.present(toID) {
		to = &toRec.card
	}
	if err := models.ValidateTransferPair(from, to, ownerID, amount, now); err != nil {
		return nil, err
	}

	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)

	s.mu.Lock()
	s.nextTransferID++
	t := &models.Transfer{
		ID:         s.nextTransferID,
		FromCardID: fromID,
		ToCardID:   toID,
		UserID:     ownerID,
		Amount:     amount,
		CreatedAt:  now,
	}
	s.transfers = append(s.transfers, t)
	s.mu.Unlock()

	cp := *t
	return &cp, nil
}

// present re-checks that a card is still in the table; a concurrent hard
// delete may have removed it between lookup and lock acquisition.
func (s *Store) present(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cards[id]
	return ok
}

// Transfers returns a copy of the append-only transfer log.
func (s *Store) Transfers() []*models.Transfer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Transfer, len(s.transfers))
	copy(out, s.transfers)
	return out
}
