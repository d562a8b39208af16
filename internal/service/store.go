package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bank-cards/card-service/internal/models"
)

// Store is the durable keyed storage the services run against. Any backend
// with transactional read-modify-write works; the repository package ships
// a Postgres implementation and an in-memory one.
//
// PerformTransfer executes the ownership, status and funds checks plus the
// two balance mutations and the receipt append as one atomic unit. Card
// locks are acquired in ascending id order regardless of direction so that
// opposite transfers over the same pair cannot deadlock. Contention errors
// surface to the caller; the store never retries internally.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)

	CreateCard(ctx context.Context, c *models.Card) error
	FindCardByID(ctx context.Context, id int64) (*models.Card, error)
	// FindCardByIDAndOwner returns the same not-found outcome whether the
	// card is absent or owned by someone else.
	FindCardByIDAndOwner(ctx context.Context, id, ownerID int64) (*models.Card, error)
	ListCards(ctx context.Context, f models.CardFilter) ([]*models.Card, int64, error)
	// UpdateCardStatus mutates only the stored status and returns the row
	// as re-read after the commit.
	UpdateCardStatus(ctx context.Context, id int64, status models.CardStatus) (*models.Card, error)
	// DeleteCard is a hard delete and is safe to call on an absent id.
	DeleteCard(ctx context.Context, id int64) error

	PerformTransfer(ctx context.Context, ownerID, fromID, toID int64, amount decimal.Decimal, now time.Time) (*models.Transfer, error)
}

// Notifier delivers best-effort user notifications. Implementations must
// not be relied on for correctness; failures are logged and swallowed by
// the services.
type Notifier interface {
	SendTransferNotification(to, username string, amount decimal.Decimal, fromMasked, toMasked string) error
	SendExpiryReminder(to, username, masked, expiry string) error
}
