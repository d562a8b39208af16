package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus is a card lifecycle state. ACTIVE and BLOCKED are stored;
// EXPIRED is only ever derived from the expiry date and never persisted.
type CardStatus string

const (
	StatusActive  CardStatus = "ACTIVE"
	StatusBlocked CardStatus = "BLOCKED"
	StatusExpired CardStatus = "EXPIRED"
)

// Card represents a bank card. The number is stored encrypted as
// "base64(nonce):base64(ciphertext)"; only the last 4 digits are kept in
// plaintext for masked display and search.
type Card struct {
	ID        int64           `json:"id"`
	EncNumber string          `json:"-"`
	Last4     string          `json:"last4"`
	OwnerID   int64           `json:"owner_id"`
	Expiry    string          `json:"expiry"` // MM/yy
	Status    CardStatus      `json:"status"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// expiryLayout parses MM/yy expiry strings.
const expiryLayout = "01/06"

// Expired reports whether the MM/yy expiry month is strictly before the
// month of now. A card remains valid through the last day of its expiry
// month. Malformed expiry strings cannot occur on stored cards (validated
// at creation) and are treated as not expired.
func Expired(expiry string, now time.Time) bool {
	exp, err := time.Parse(expiryLayout, expiry)
	if err != nil {
		return false
	}
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return exp.Before(monthStart)
}

// EffectiveStatus computes the status a card presents externally: EXPIRED
// when the expiry month has passed, overriding whatever is stored,
// otherwise the stored status verbatim. Every read path and the transfer
// validation go through this single function.
func EffectiveStatus(c *Card, now time.Time) CardStatus {
	if Expired(c.Expiry, now) {
		return StatusExpired
	}
	return c.Status
}

// Masked renders the card number for display: **** **** **** 1234.
// It never touches the encrypted number.
func (c *Card) Masked() string {
	return "**** **** **** " + c.Last4
}

// CardFilter narrows a card listing. Nil/empty fields are not applied;
// non-empty fields combine conjunctively.
type CardFilter struct {
	OwnerID *int64
	Status  *CardStatus
	Last4   string
	Expiry  string
	Page    int
	Size    int
}
