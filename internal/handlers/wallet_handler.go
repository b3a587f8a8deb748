package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/models"
	"github.com/coinvault/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const maxBodyBytes = 1_048_576 // 1 MB

// WalletHandler exposes the ledger operations over HTTP.
type WalletHandler struct {
	store       *services.LedgerStore
	deposits    *services.DepositService
	withdrawals *services.WithdrawService
	moves       *services.MoveService
	confirms    *services.ConfirmService
	validator   *services.ValidationHelper
}

func NewWalletHandler(store *services.LedgerStore, deposits *services.DepositService, withdrawals *services.WithdrawService, moves *services.MoveService, confirms *services.ConfirmService) *WalletHandler {
	return &WalletHandler{
		store:       store,
		deposits:    deposits,
		withdrawals: withdrawals,
		moves:       moves,
		confirms:    confirms,
		validator:   services.NewValidationHelper(),
	}
}

// NotifyDeposit ingests a deposit/block notification from a coin adapter
// @Summary Ingest a deposit notification
// @Description Idempotently record or refresh a blockchain deposit event
// @Tags deposits
// @Accept json
// @Produce json
// @Param event body models.DepositEvent true "Deposit event"
// @Success 202 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Router /deposits/notify [post]
func (h *WalletHandler) NotifyDeposit(w http.ResponseWriter, r *http.Request) {
	var event models.DepositEvent
	if !decodeBody(w, r, &event) {
		return
	}

	if err := h.validator.ValidateStruct(&event); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.deposits.Ingest(r.Context(), &event); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// GetBalance returns the caller's confirmed and available balance
// @Summary Get balance
// @Description Confirmed and available balance for one symbol; issues a deposit address on first request
// @Tags balance
// @Produce json
// @Param symbol query string true "Currency symbol"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Router /balance [get]
func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := middleware.Account(r)
	tenant := middleware.Tenant(r)
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		services.SendErrorResponse(w, "symbol is required", http.StatusBadRequest, nil)
		return
	}

	// First contact for this (account, symbol) pair issues an address so
	// the user can deposit immediately.
	if _, err := h.deposits.EnsureDepositAddress(r.Context(), tenant, account, symbol, false); err != nil {
		if !errors.Is(err, models.ErrAdapterDisabled) {
			writeServiceError(w, err)
			return
		}
	}

	confirmed, err := h.store.Balance(r.Context(), tenant, account, symbol, services.BalanceConfirmed)
	if err != nil {
		services.SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		return
	}
	available, err := h.store.Balance(r.Context(), tenant, account, symbol, services.BalanceAvailable)
	if err != nil {
		services.SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"symbol":    symbol,
		"confirmed": confirmed.String(),
		"available": available.String(),
	})
}

// GetDepositAddress returns the caller's current deposit address
// @Summary Get deposit address
// @Description Current (or forced-new) deposit address with a QR rendering
// @Tags deposits
// @Produce json
// @Param symbol query string true "Currency symbol"
// @Param new query bool false "Force a fresh address"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Router /deposit-address [get]
func (h *WalletHandler) GetDepositAddress(w http.ResponseWriter, r *http.Request) {
	account := middleware.Account(r)
	tenant := middleware.Tenant(r)
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		services.SendErrorResponse(w, "symbol is required", http.StatusBadRequest, nil)
		return
	}
	forceNew, _ := strconv.ParseBool(r.URL.Query().Get("new"))

	addr, err := h.deposits.EnsureDepositAddress(r.Context(), tenant, account, symbol, forceNew)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := map[string]string{
		"symbol":  addr.Symbol,
		"address": addr.Address,
		"extra":   addr.Extra,
	}
	if png, err := qrcode.Encode(addr.Address, qrcode.Medium, 256); err == nil {
		response["qr_png"] = base64.StdEncoding.EncodeToString(png)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

type withdrawBody struct {
	Symbol      string           `json:"symbol" validate:"required,symbol"`
	Address     string           `json:"address" validate:"required,max=128"`
	Amount      decimal.Decimal  `json:"amount"`
	Fee         *decimal.Decimal `json:"fee,omitempty"`
	Comment     string           `json:"comment" validate:"max=200"`
	Extra       string           `json:"extra" validate:"max=128"`
	SkipConfirm bool             `json:"skip_confirm"`
}

// RequestWithdrawal queues a withdrawal to an external address
// @Summary Request a withdrawal
// @Description Validate and queue a withdrawal; destinations on this system settle as internal moves
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param withdrawal body withdrawBody true "Withdrawal request"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /withdrawals [post]
func (h *WalletHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body withdrawBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	t, err := h.withdrawals.RequestWithdrawal(r.Context(), &services.WithdrawRequest{
		Tenant:      middleware.Tenant(r),
		Account:     middleware.Account(r),
		Symbol:      body.Symbol,
		Address:     body.Address,
		Amount:      body.Amount,
		Fee:         body.Fee,
		Comment:     body.Comment,
		Extra:       body.Extra,
		SkipConfirm: body.SkipConfirm,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

type moveBody struct {
	To          string           `json:"to" validate:"required,max=64"`
	Symbol      string           `json:"symbol" validate:"required,symbol"`
	Amount      decimal.Decimal  `json:"amount"`
	Fee         *decimal.Decimal `json:"fee,omitempty"`
	Comment     string           `json:"comment" validate:"max=200"`
	Tags        string           `json:"tags" validate:"max=200"`
	SkipConfirm bool             `json:"skip_confirm"`
}

// RequestMove queues an internal transfer
// @Summary Request an internal transfer
// @Description Atomically record both legs of a transfer to another account on this system
// @Tags moves
// @Accept json
// @Produce json
// @Param move body moveBody true "Move request"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Router /moves [post]
func (h *WalletHandler) RequestMove(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	t, err := h.moves.RequestMove(r.Context(), &services.MoveRequest{
		Tenant:      middleware.Tenant(r),
		From:        middleware.Account(r),
		To:          body.To,
		Symbol:      body.Symbol,
		Amount:      body.Amount,
		Fee:         body.Fee,
		Comment:     body.Comment,
		Tags:        body.Tags,
		SkipConfirm: body.SkipConfirm,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(t)
}

// ListTransactions lists the caller's transactions
// @Summary List transactions
// @Description Filtered transaction listing, newest first
// @Tags transactions
// @Produce json
// @Param category query string false "Filter by category"
// @Param symbol query string false "Filter by symbol"
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size (default 50)"
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]interface{}
// @Router /transactions [get]
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	transactions, err := h.store.FindTransactions(r.Context(), services.TransactionFilter{
		Tenant:   middleware.Tenant(r),
		Account:  middleware.Account(r),
		Category: r.URL.Query().Get("category"),
		Symbol:   r.URL.Query().Get("symbol"),
		Status:   r.URL.Query().Get("status"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// ConfirmTransaction consumes a user confirmation link
// @Summary Confirm a transaction
// @Description Consume the single-use confirmation nonce from the emailed link
// @Tags transactions
// @Produce json
// @Param id path int true "Transaction id"
// @Param nonce query string true "Single-use confirmation token"
// @Param tenant query string false "Tenant key"
// @Success 200 {object} map[string]string
// @Failure 409 {object} services.ErrorResponse
// @Router /transactions/{id}/confirm [get]
func (h *WalletHandler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	nonce := r.URL.Query().Get("nonce")
	tenant := r.URL.Query().Get("tenant")
	if err := h.confirms.UserConfirm(r.Context(), tenant, id, nonce); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "confirmed"})
}

// AdminConfirmTransaction records the admin approval signal
// @Summary Admin-confirm a transaction
// @Tags admin
// @Produce json
// @Param id path int true "Transaction id"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/transactions/{id}/confirm [post]
func (h *WalletHandler) AdminConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	if err := h.confirms.AdminConfirm(r.Context(), middleware.Tenant(r), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "confirmed"})
}

// CancelTransaction cancels a transaction
// @Summary Cancel a transaction
// @Description Cancel an unconfirmed/pending transaction; done moves may be reversed, done withdrawals never
// @Tags admin
// @Produce json
// @Param id path int true "Transaction id"
// @Success 200 {object} map[string]string
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/transactions/{id}/cancel [post]
func (h *WalletHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	if err := h.confirms.Cancel(r.Context(), middleware.Tenant(r), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
}

// decodeBody applies the shared request decoding discipline. It reports
// whether decoding succeeded; on failure the response is already written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// writeServiceError maps the ledger error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		services.SendErrorResponse(w, err.Error(), http.StatusPaymentRequired, nil)
	case errors.Is(err, models.ErrBelowMinimum),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrSelfTransfer),
		errors.Is(err, models.ErrSelfWithdrawal):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrAddressNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, models.ErrAlreadyConfirmed), errors.Is(err, models.ErrNotCancellable):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, models.ErrAdapterDisabled):
		services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
	default:
		services.SendErrorResponse(w, "Internal error", http.StatusInternalServerError, nil)
	}
}
