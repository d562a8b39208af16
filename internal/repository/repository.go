// Package repository provides the Postgres-backed store.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/bank-cards/card-service/internal/apperr"
	"github.com/bank-cards/card-service/internal/models"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO bank.users (username, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash, user.Role).
		Scan(&user.ID, &user.CreatedAt)
	if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
		return apperr.Validation("username taken")
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByUsername retrieves a user by username
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, role, created_at
		FROM bank.users
		WHERE username = $1`
	err := r.db.QueryRowContext(ctx, query, username).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, role, created_at
		FROM bank.users
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateCard creates a new card in the database
func (r *Repository) CreateCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO bank.cards (enc_number, last4, owner_id, expiry, status, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		card.EncNumber, card.Last4, card.OwnerID, card.Expiry, card.Status, card.Balance, card.CreatedAt).
		Scan(&card.ID)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

const cardColumns = "id, enc_number, last4, owner_id, expiry, status, balance, created_at"

func scanCard(row interface{ Scan(...any) error }) (*models.Card, error) {
	card := &models.Card{}
	err := row.Scan(&card.ID, &card.EncNumber, &card.Last4, &card.OwnerID,
		&card.Expiry, &card.Status, &card.Balance, &card.CreatedAt)
	if err != nil {
		return nil, err
	}
	return card, nil
}

// FindCardByID retrieves a card by id
func (r *Repository) FindCardByID(ctx context.Context, id int64) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM bank.cards WHERE id = $1`
	card, err := scanCard(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("card not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// FindCardByIDAndOwner retrieves a card only when it belongs to ownerID.
// An absent card and a foreign card produce the same outcome.
func (r *Repository) FindCardByIDAndOwner(ctx context.Context, id, ownerID int64) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM bank.cards WHERE id = $1 AND owner_id = $2`
	card, err := scanCard(r.db.QueryRowContext(ctx, query, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("card not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// ListCards pages through cards matching the filter; all filter fields
// combine conjunctively.
func (r *Repository) ListCards(ctx context.Context, f models.CardFilter) ([]*models.Card, int64, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.OwnerID != nil {
		where = append(where, "owner_id = "+arg(*f.OwnerID))
	}
	if f.Status != nil {
		where = append(where, "status = "+arg(*f.Status))
	}
	if f.Last4 != "" {
		where = append(where, "last4 LIKE "+arg("%"+f.Last4+"%"))
	}
	if f.Expiry != "" {
		where = append(where, "expiry = "+arg(f.Expiry))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bank.cards"+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cards: %w", err)
	}

	// Guard the offset against multiplication overflow: a huge page must
	// read as "past the end", never as a negative OFFSET.
	offset := 0
	if f.Size > 0 && f.Page > 0 {
		if f.Page > math.MaxInt/f.Size {
			offset = math.MaxInt
		} else {
			offset = f.Page * f.Size
		}
	}
	query := "SELECT " + cardColumns + " FROM bank.cards" + cond +
		" ORDER BY id" + " LIMIT " + arg(f.Size) + " OFFSET " + arg(offset)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	cards := make([]*models.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, total, nil
}

// UpdateCardStatus mutates the stored status only and returns the row as
// committed.
func (r *Repository) UpdateCardStatus(ctx context.Context, id int64, status models.CardStatus) (*models.Card, error) {
	query := `UPDATE bank.cards SET status = $2 WHERE id = $1 RETURNING ` + cardColumns
	card, err := scanCard(r.db.QueryRowContext(ctx, query, id, status))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("card not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update card status: %w", err)
	}
	return card, nil
}

// DeleteCard hard-deletes a card; deleting an absent id is not an error.
func (r *Repository) DeleteCard(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM bank.cards WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	return nil
}

// PerformTransfer runs the whole transfer commit in one transaction: both
// card rows are locked with SELECT ... FOR UPDATE in ascending id order
// (never from-then-to, so opposite transfers over the same pair cannot
// deadlock), validated, mutated, and the receipt inserted. Either all of
// it commits or none of it does.
func (r *Repository) PerformTransfer(ctx context.Context, ownerID, fromID, toID int64, amount decimal.Decimal, now time.Time) (*models.Transfer, error) {
	if fromID == toID {
		return nil, apperr.Validation("from and to must differ")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}
	locked := make(map[int64]*models.Card, 2)
	lockQuery := `SELECT ` + cardColumns + ` FROM bank.cards WHERE id = $1 FOR UPDATE`
	for _, id := range []int64{first, second} {
		card, err := scanCard(tx.QueryRowContext(ctx, lockQuery, id))
		if err == sql.ErrNoRows {
			continue // absent rows are reported by the validation below
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock card %d: %w", id, err)
		}
		locked[id] = card
	}

	from, to := locked[fromID], locked[toID]
	if err := models.ValidateTransferPair(from, to, ownerID, amount, now); err != nil {
		return nil, err
	}

	adjust := `UPDATE bank.cards SET balance = $2 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, adjust, fromID, from.Balance.Sub(amount)); err != nil {
		return nil, fmt.Errorf("failed to debit card %d: %w", fromID, err)
	}
	if _, err := tx.ExecContext(ctx, adjust, toID, to.Balance.Add(amount)); err != nil {
		return nil, fmt.Errorf("failed to credit card %d: %w", toID, err)
	}

	t := &models.Transfer{
		FromCardID: fromID,
		ToCardID:   toID,
		UserID:     ownerID,
		Amount:     amount,
		CreatedAt:  now,
	}
	insert := `
		INSERT INTO bank.transfers (from_card_id, to_card_id, user_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, insert, t.FromCardID, t.ToCardID, t.UserID, t.Amount, t.CreatedAt).Scan(&t.ID); err != nil {
		return nil, fmt.Errorf("failed to record transfer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return t, nil
}
