/**
 * @description
 * This file contains the HTTP handlers for the transaction-service's API
 * endpoints. Handlers parse incoming requests, call the ledger engine, and
 * translate its typed errors into HTTP responses. They are the bridge between
 * the web layer and the business logic layer; no money-movement decision
 * lives here.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, and typed errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/harborbank/transaction-service/internal/app"
	"github.com/harborbank/transaction-service/internal/domain"
	"github.com/harborbank/transaction-service/internal/store"
)

// TransactionHandlers holds the application service that handlers will use.
type TransactionHandlers struct {
	service *app.Service
}

// NewTransactionHandlers creates a new instance of TransactionHandlers.
func NewTransactionHandlers(service *app.Service) *TransactionHandlers {
	return &TransactionHandlers{service: service}
}

// transactionResponse is returned after a movement has been accepted. Pending
// submissions carry no balance snapshot; completed ones carry the primary
// account's post-commit balance.
type transactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	Amount        int64  `json:"amount"`
	BalanceAfter  *int64 `json:"balance_after,omitempty"`
}

func buildTransactionResponse(tx *domain.Transaction, message string) transactionResponse {
	return transactionResponse{
		TransactionID: tx.ID.String(),
		Reference:     tx.Reference,
		Status:        string(tx.Status),
		Message:       message,
		Amount:        tx.Amount,
		BalanceAfter:  tx.BalanceAfter,
	}
}

func (h *TransactionHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *TransactionHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeMovementError maps the engine's typed errors onto HTTP statuses.
// Persistence failures collapse to a generic internal error; the full cause
// is logged, never leaked.
func (h *TransactionHandlers) writeMovementError(w http.ResponseWriter, endpoint string, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusUnprocessableEntity, validationErr.Reason)
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, "Transaction not found")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, "Insufficient balance for this transaction")
	case errors.Is(err, store.ErrTransactionNotPending):
		h.writeError(w, http.StatusConflict, "Transaction has already been decided")
	case errors.Is(err, app.ErrAccountInactive):
		h.writeError(w, http.StatusUnprocessableEntity, "Account is not active")
	case errors.Is(err, app.ErrApproverRoleInsufficient):
		h.writeError(w, http.StatusForbidden, "This transaction requires a manager's approval")
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many submissions; try again shortly")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"internal error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// DepositHandler handles deposit submissions.
func (h *TransactionHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.service.Deposit(r.Context(), req)
	if err != nil {
		h.writeMovementError(w, "deposit", err)
		return
	}

	h.respondMovement(w, tx)
}

// WithdrawalHandler handles withdrawal submissions.
func (h *TransactionHandlers) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.service.Withdraw(r.Context(), req)
	if err != nil {
		h.writeMovementError(w, "withdrawal", err)
		return
	}

	h.respondMovement(w, tx)
}

// TransferHandler handles transfer submissions.
func (h *TransactionHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		h.writeMovementError(w, "transfer", err)
		return
	}

	h.respondMovement(w, tx)
}

func (h *TransactionHandlers) respondMovement(w http.ResponseWriter, tx *domain.Transaction) {
	if tx.Status == domain.TransactionStatusPending {
		h.writeJSON(w, http.StatusAccepted, buildTransactionResponse(tx, "Transaction submitted for approval"))
		return
	}
	h.writeJSON(w, http.StatusCreated, buildTransactionResponse(tx, "Transaction completed"))
}

// DecisionHandler handles an approver's decision on a pending transaction.
func (h *TransactionHandlers) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	staffID, staffRole, ok := GetStaffIdentity(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Staff identity missing")
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	var req domain.ApprovalDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.service.ApproveOrReject(r.Context(), transactionID, staffID, staffRole, req.Approve, req.Remarks)
	if err != nil {
		h.writeMovementError(w, "decision", err)
		return
	}

	message := "Transaction rejected"
	if tx.Status == domain.TransactionStatusCompleted {
		message = "Transaction approved and completed"
	}
	h.writeJSON(w, http.StatusOK, buildTransactionResponse(tx, message))
}

// GetTransactionHandler returns a single transaction.
func (h *TransactionHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), transactionID)
	if err != nil {
		h.writeMovementError(w, "get_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// TransactionByReferenceHandler returns a single transaction looked up by the
// reference quoted on a receipt.
func (h *TransactionHandlers) TransactionByReferenceHandler(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction reference")
		return
	}

	tx, err := h.service.GetTransactionByReference(r.Context(), reference)
	if err != nil {
		h.writeMovementError(w, "get_by_reference", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// AccountHistoryHandler returns a page of one account's ledger history,
// newest first. limit and offset arrive as query parameters; out-of-range
// values fall back to the store's defaults.
func (h *TransactionHandlers) AccountHistoryHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	txs, err := h.service.ListAccountTransactions(r.Context(), accountID, limit, offset)
	if err != nil {
		h.writeMovementError(w, "account_history", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// ListPendingHandler returns the approval queue, optionally filtered by branch.
func (h *TransactionHandlers) ListPendingHandler(w http.ResponseWriter, r *http.Request) {
	var branchID *uuid.UUID
	if raw := r.URL.Query().Get("branch_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid branch id")
			return
		}
		branchID = &parsed
	}

	txs, err := h.service.ListPending(r.Context(), branchID)
	if err != nil {
		h.writeMovementError(w, "list_pending", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, txs)
}
