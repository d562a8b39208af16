package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bank-cards/card-service/internal/apperr"
	"github.com/bank-cards/card-service/internal/models"
)

// TransferService moves funds between two cards of the same owner and
// records an immutable receipt atomically with the balance mutation.
type TransferService struct {
	store    Store
	log      *logrus.Logger
	notifier Notifier
	now      func() time.Time
}

// NewTransferService initializes a new transfer service. notifier may be
// nil when notifications are not configured.
func NewTransferService(store Store, log *logrus.Logger, notifier Notifier) *TransferService {
	return &TransferService{store: store, log: log, notifier: notifier, now: time.Now}
}

// Transfer validates and executes a transfer, returning the receipt id.
//
// The cheap shape checks run first; ownership, status and funds are then
// verified by the store inside the same transaction that mutates both
// balances and appends the receipt, so a failed validation never leaves
// partial state and a concurrent transfer never applies against a stale
// balance. Contention failures surface to the caller, which may retry the
// whole call.
func (s *TransferService) Transfer(ctx context.Context, username string, fromID, toID int64, amount decimal.Decimal) (int64, error) {
	if fromID == 0 || toID == 0 {
		return 0, apperr.Validation("card ids required")
	}
	if fromID == toID {
		return 0, apperr.Validation("from and to must differ")
	}
	if amount.Cmp(models.MinTransferAmount) < 0 {
		return 0, apperr.Validation("amount must be >= 0.01")
	}

	owner, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		return 0, err
	}

	t, err := s.store.PerformTransfer(ctx, owner.ID, fromID, toID, amount, s.now().UTC())
	if err != nil {
		return 0, err
	}

	s.log.Infof("Transfer %d: user %d moved %s from card %d to card %d",
		t.ID, owner.ID, amount.StringFixed(2), fromID, toID)
	s.notify(ctx, owner, t)
	return t.ID, nil
}

// notify sends a best-effort email about the committed transfer. Errors
// are logged and never affect the transfer outcome.
func (s *TransferService) notify(ctx context.Context, owner *models.User, t *models.Transfer) {
	if s.notifier == nil || owner.Email == "" {
		return
	}
	from, err := s.store.FindCardByID(ctx, t.FromCardID)
	if err != nil {
		return
	}
	to, err := s.store.FindCardByID(ctx, t.ToCardID)
	if err != nil {
		return
	}
	if err := s.notifier.SendTransferNotification(owner.Email, owner.Username, t.Amount, from.Masked(), to.Masked()); err != nil {
		s.log.Errorf("Failed to send transfer notification to %s: %v", owner.Email, err)
	}
}
