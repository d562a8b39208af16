package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bank-cards/card-service/internal/apperr"
)

// MinTransferAmount is the smallest transferable unit.
var MinTransferAmount = decimal.RequireFromString("0.01")

// Transfer is an immutable receipt of a completed card-to-card transfer.
// It is written in the same transaction as the two balance mutations it
// describes and is never updated or deleted.
type Transfer struct {
	ID         int64           `json:"id"`
	FromCardID int64           `json:"from_card_id"`
	ToCardID   int64           `json:"to_card_id"`
	UserID     int64           `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ValidateTransferPair checks ownership, effective status and funds for a
// locked (from, to) card pair, in that order, short-circuiting on the first
// failure. Both store implementations call this after acquiring their locks
// so the checks cannot drift apart. A nil card means the row was absent.
func ValidateTransferPair(from, to *Card, ownerID int64, amount decimal.Decimal, now time.Time) error {
	if from == nil || from.OwnerID != ownerID {
		return apperr.Forbidden("not your source card")
	}
	if to == nil || to.OwnerID != ownerID {
		return apperr.Forbidden("not your target card")
	}
	if EffectiveStatus(from, now) != StatusActive || EffectiveStatus(to, now) != StatusActive {
		return apperr.Validation("cards must be ACTIVE")
	}
	if from.Balance.Cmp(amount) < 0 {
		return apperr.Validation("insufficient funds")
	}
	return nil
}
