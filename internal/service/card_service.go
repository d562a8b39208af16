package service

import (
	"context"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bank-cards/card-service/internal/apperr"
	"github.com/bank-cards/card-service/internal/crypto"
	"github.com/bank-cards/card-service/internal/models"
)

var (
	cardNumberRe = regexp.MustCompile(`^\d{16}$`)
	expiryRe     = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{2}$`)
)

// CardService handles card lifecycle: creation with an encrypted number,
// owner-scoped lookup, listing, status changes and deletion.
type CardService struct {
	store Store
	vault *crypto.Vault
	log   *logrus.Logger
	now   func() time.Time
}

// NewCardService initializes a new card service
func NewCardService(store Store, vault *crypto.Vault, log *logrus.Logger) *CardService {
	return &CardService{store: store, vault: vault, log: log, now: time.Now}
}

// Create validates input, seals the card number, derives the last 4 digits
// and persists a new ACTIVE card for an existing owner.
func (s *CardService) Create(ctx context.Context, ownerUsername, number, expiry string, initialBalance decimal.Decimal) (*models.Card, error) {
	if !cardNumberRe.MatchString(number) {
		return nil, apperr.Validation("card number must be 16 digits")
	}
	if !expiryRe.MatchString(expiry) {
		return nil, apperr.Validation("expiry must be MM/yy")
	}
	if initialBalance.IsNegative() {
		return nil, apperr.Validation("initialBalance must be >= 0")
	}

	owner, err := s.store.FindUserByUsername(ctx, ownerUsername)
	if err != nil {
		return nil, err
	}

	encNumber, err := s.vault.Encrypt(number)
	if err != nil {
		return nil, err
	}

	card := &models.Card{
		EncNumber: encNumber,
		Last4:     number[len(number)-4:],
		OwnerID:   owner.ID,
		Expiry:    expiry,
		Status:    models.StatusActive,
		Balance:   initialBalance,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateCard(ctx, card); err != nil {
		return nil, err
	}

	s.log.Infof("Card created for user %d: %s", owner.ID, card.Masked())
	return card, nil
}

// GetOwned returns the caller's card by id. A card that exists but belongs
// to someone else is reported exactly like a missing one.
func (s *CardService) GetOwned(ctx context.Context, id int64, username string) (*models.Card, error) {
	owner, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.store.FindCardByIDAndOwner(ctx, id, owner.ID)
}

// ListOwned pages through the caller's cards; status and last4 filters
// combine conjunctively.
func (s *CardService) ListOwned(ctx context.Context, username string, status *models.CardStatus, last4 string, page, size int) ([]*models.Card, int64, error) {
	owner, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, 0, err
	}
	return s.store.ListCards(ctx, models.CardFilter{
		OwnerID: &owner.ID,
		Status:  status,
		Last4:   last4,
		Page:    ClampPage(page),
		Size:    ClampSize(size),
	})
}

// ListAll pages through every card (administrative scope).
func (s *CardService) ListAll(ctx context.Context, page, size int) ([]*models.Card, int64, error) {
	return s.store.ListCards(ctx, models.CardFilter{Page: ClampPage(page), Size: ClampSize(size)})
}

// Block sets the stored status to BLOCKED.
func (s *CardService) Block(ctx context.Context, id int64) (*models.Card, error) {
	return s.setStatus(ctx, id, models.StatusBlocked)
}

// Activate sets the stored status to ACTIVE. It does not resurrect an
// expired card: the effective status stays EXPIRED until the expiry changes.
func (s *CardService) Activate(ctx context.Context, id int64) (*models.Card, error) {
	return s.setStatus(ctx, id, models.StatusActive)
}

func (s *CardService) setStatus(ctx context.Context, id int64, status models.CardStatus) (*models.Card, error) {
	card, err := s.store.UpdateCardStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Card %d status set to %s", id, status)
	return card, nil
}

// Delete hard-deletes a card. Deleting an absent id is not an error.
func (s *CardService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteCard(ctx, id); err != nil {
		return err
	}
	s.log.Infof("Card %d deleted", id)
	return nil
}

// EffectiveStatus exposes the derived status for read paths.
func (s *CardService) EffectiveStatus(c *models.Card) models.CardStatus {
	return models.EffectiveStatus(c, s.now())
}

// reminderPageSize is how many expiring cards one sweep iteration fetches.
const reminderPageSize = 100

// SendExpiryReminders mails the owner of every card that expires in the
// current month, paging until the filter is exhausted. Read-only: stored
// status is never touched by expiry.
func (s *CardService) SendExpiryReminders(ctx context.Context, notifier Notifier) error {
	if notifier == nil {
		return nil
	}
	expiry := s.now().UTC().Format("01/06")
	seen := int64(0)
	for page := 0; ; page++ {
		cards, total, err := s.store.ListCards(ctx, models.CardFilter{Expiry: expiry, Page: page, Size: reminderPageSize})
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			return nil
		}
		for _, c := range cards {
			owner, err := s.store.FindUserByID(ctx, c.OwnerID)
			if err != nil || owner.Email == "" {
				continue
			}
			if err := notifier.SendExpiryReminder(owner.Email, owner.Username, c.Masked(), c.Expiry); err != nil {
				s.log.Errorf("Failed to send expiry reminder for card %d: %v", c.ID, err)
			}
		}
		seen += int64(len(cards))
		if seen >= total {
			return nil
		}
	}
}

// ClampPage normalizes a page index; negative values read page zero.
func ClampPage(p int) int {
	if p < 0 {
		return 0
	}
	return p
}

// ClampSize normalizes a page size; anything outside [1,100] falls back to
// the default of 10. The HTTP layer uses the same clamps so the page/size
// it reports are the values the listing actually ran with.
func ClampSize(s int) int {
	if s < 1 || s > 100 {
		return 10
	}
	return s
}
