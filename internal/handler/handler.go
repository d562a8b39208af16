package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/bank-cards/card-service/internal/apperr"
	"github.com/bank-cards/card-service/internal/middleware"
	"github.com/bank-cards/card-service/internal/models"
	"github.com/bank-cards/card-service/internal/service"
)

// Handler exposes the services over HTTP.
type Handler struct {
	users     *service.UserService
	cards     *service.CardService
	transfers *service.TransferService
}

// NewHandler initializes a new handler
func NewHandler(users *service.UserService, cards *service.CardService, transfers *service.TransferService) *Handler {
	return &Handler{users: users, cards: cards, transfers: transfers}
}

// apiError is the uniform error body.
type apiError struct {
	Message   string    `json:"message"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// cardResponse renders a card with its masked number and effective status.
type cardResponse struct {
	ID        int64             `json:"id"`
	Number    string            `json:"number"`
	OwnerID   int64             `json:"owner_id"`
	Expiry    string            `json:"expiry"`
	Status    models.CardStatus `json:"status"`
	Balance   decimal.Decimal   `json:"balance"`
	CreatedAt time.Time         `json:"created_at"`
}

// pageResponse wraps a listing.
type pageResponse struct {
	Content []cardResponse `json:"content"`
	Page    int            `json:"page"`
	Size    int            `json:"size"`
	Total   int64          `json:"total"`
}

func (h *Handler) cardDTO(c *models.Card) cardResponse {
	return cardResponse{
		ID:        c.ID,
		Number:    c.Masked(),
		OwnerID:   c.OwnerID,
		Expiry:    c.Expiry,
		Status:    h.cards.EffectiveStatus(c),
		Balance:   c.Balance,
		CreatedAt: c.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Unknown and
// crypto errors surface as a generic 500 so internals never leak.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status, message = http.StatusBadRequest, err.Error()
	case apperr.KindNotFound:
		status, message = http.StatusNotFound, err.Error()
	case apperr.KindForbidden:
		status, message = http.StatusForbidden, err.Error()
	}
	writeJSON(w, status, apiError{Message: message, Path: r.URL.Path, Timestamp: time.Now().UTC()})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if middleware.Role(r.Context()) != models.RoleAdmin {
		writeError(w, r, apperr.Forbidden("access denied"))
		return false
	}
	return true
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Register handles user registration and returns a JWT right away.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	user, err := h.users.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := h.users.Token(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token})
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	token, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token})
}

type createCardRequest struct {
	Number         string          `json:"number"`
	Expiry         string          `json:"expiry"`
	OwnerUsername  string          `json:"owner_username"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// CreateCard opens a card for an existing user (admin only).
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req createCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	card, err := h.cards.Create(r.Context(), req.OwnerUsername, req.Number, req.Expiry, req.InitialBalance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.cardDTO(card))
}

// queryInt parses an optional integer query parameter. A present but
// non-numeric (or out-of-range) value is a validation error, not a silent
// default.
func queryInt(raw, name string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("invalid %s", name)
	}
	return v, nil
}

// ListCards pages cards: admins see every card, users see their own with
// optional status and last4 filters. The response reports the page and size
// the listing actually ran with, after clamping.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(q.Get("size"), "size", 10)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, size = service.ClampPage(page), service.ClampSize(size)

	var (
		cards []*models.Card
		total int64
	)
	if middleware.Role(r.Context()) == models.RoleAdmin {
		cards, total, err = h.cards.ListAll(r.Context(), page, size)
	} else {
		var status *models.CardStatus
		if v := q.Get("status"); v != "" {
			st := models.CardStatus(v)
			status = &st
		}
		cards, total, err = h.cards.ListOwned(r.Context(), middleware.Username(r.Context()), status, q.Get("last4"), page, size)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	content := make([]cardResponse, 0, len(cards))
	for _, c := range cards {
		content = append(content, h.cardDTO(c))
	}
	writeJSON(w, http.StatusOK, pageResponse{Content: content, Page: page, Size: size, Total: total})
}

// GetCard returns one of the caller's cards. Someone else's card looks
// exactly like a missing one.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	card, err := h.cards.GetOwned(r.Context(), id, middleware.Username(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cardDTO(card))
}

// BlockCard sets the stored status to BLOCKED (admin only).
func (h *Handler) BlockCard(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.cards.Block)
}

// ActivateCard sets the stored status to ACTIVE (admin only).
func (h *Handler) ActivateCard(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.cards.Activate)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int64) (*models.Card, error)) {
	if !requireAdmin(w, r) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	card, err := op(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.cardDTO(card))
}

// DeleteCard hard-deletes a card (admin only).
func (h *Handler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.cards.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	FromCardID *int64           `json:"from_card_id"`
	ToCardID   *int64           `json:"to_card_id"`
	Amount     *decimal.Decimal `json:"amount"`
}

type transferResponse struct {
	ID int64 `json:"id"`
}

// Transfer moves funds between two of the caller's cards and returns the
// receipt id.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	var fromID, toID int64
	if req.FromCardID != nil {
		fromID = *req.FromCardID
	}
	if req.ToCardID != nil {
		toID = *req.ToCardID
	}
	amount := decimal.Zero
	if req.Amount != nil {
		amount = *req.Amount
	}
	id, err := h.transfers.Transfer(r.Context(), middleware.Username(r.Context()), fromID, toID, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{ID: id})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid card id")
	}
	return id, nil
}
