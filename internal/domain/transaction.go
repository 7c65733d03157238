/**
 * @description
 * This file defines the transaction ledger record and the DTOs accepted by the
 * transaction engine's API surface. The transaction row is the immutable audit
 * trail of every money movement: once a transaction reaches a terminal status
 * its balance effect is final and corrections happen only through new reversal
 * transactions.
 *
 * @notes
 * - Amounts are `int64` in the smallest currency unit (kobo).
 * - A pure deposit has no FromAccountID; a pure withdrawal has no ToAccountID.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionType identifies the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
)

// TransactionStatus is the lifecycle state of a transaction. Pending is the
// only non-terminal state; the approval path is the sole exit from it.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// DepositMode is the instrument used to fund a deposit. Cheque and demand
// draft deposits must carry the instrument's reference number.
type DepositMode string

const (
	DepositModeCash        DepositMode = "cash"
	DepositModeCheque      DepositMode = "cheque"
	DepositModeDemandDraft DepositMode = "demand_draft"
)

// RequiresInstrumentRef reports whether the mode needs an external instrument
// reference before the deposit can be accepted.
func (m DepositMode) RequiresInstrumentRef() bool {
	return m == DepositModeCheque || m == DepositModeDemandDraft
}

// Transaction is the central ledger record. It maps to the `transactions`
// table. BalanceAfter snapshots the debited (or, for pure deposits, credited)
// account's balance at completion time and is nil while pending.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	Reference     string            `json:"reference"`
	FromAccountID *uuid.UUID        `json:"from_account_id,omitempty"`
	ToAccountID   *uuid.UUID        `json:"to_account_id,omitempty"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Amount        int64             `json:"amount"` // in kobo
	DepositMode   *DepositMode      `json:"deposit_mode,omitempty"`
	InstrumentRef *string           `json:"instrument_ref,omitempty"`
	Description   string            `json:"description"`
	BalanceAfter  *int64            `json:"balance_after,omitempty"`
	BranchID      *uuid.UUID        `json:"branch_id,omitempty"`
	ApprovalLevel *string           `json:"approval_level,omitempty"`
	DecidedBy     *string           `json:"decided_by,omitempty"`
	Remarks       *string           `json:"remarks,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsTerminal reports whether the transaction can no longer change.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted || t.Status == TransactionStatusFailed
}

// NewReference derives a unique, human-quotable transaction reference. The
// UUID suffix carries the uniqueness; the date prefix exists for branch staff
// reading receipts.
func NewReference(now time.Time, id uuid.UUID) string {
	compact := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return fmt.Sprintf("TXN-%s-%s", now.UTC().Format("20060102"), compact[:12])
}

// DepositRequest is the DTO for incoming deposit API requests. Source account
// is optional and only meaningful for cheque/demand-draft deposits drawn on
// another account held in this bank.
type DepositRequest struct {
	AccountNumber       string      `json:"account_number"`
	Amount              int64       `json:"amount"` // in kobo
	Mode                DepositMode `json:"mode"`
	InstrumentRef       string      `json:"reference_number,omitempty"`
	SourceAccountNumber string      `json:"source_account_number,omitempty"`
	Description         string      `json:"description,omitempty"`
}

// WithdrawalRequest is the DTO for incoming withdrawal API requests.
type WithdrawalRequest struct {
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"` // in kobo
	Description   string `json:"description,omitempty"`
}

// TransferRequest is the DTO for incoming transfer API requests.
type TransferRequest struct {
	FromAccountNumber string `json:"from_account_number"`
	ToAccountNumber   string `json:"to_account_number"`
	Amount            int64  `json:"amount"` // in kobo
	Description       string `json:"description,omitempty"`
}

// ApprovalDecisionRequest is the DTO for an approver's decision on a pending
// transaction, arriving over HTTP.
type ApprovalDecisionRequest struct {
	Approve bool   `json:"approve"`
	Remarks string `json:"remarks,omitempty"`
}

// ApprovalDecisionEvent is the AMQP payload published by branch-operations
// tooling when an approver decides a pending transaction outside this service.
type ApprovalDecisionEvent struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ApproverID    string    `json:"approver_id"`
	ApproverRole  string    `json:"approver_role"`
	Approve       bool      `json:"approve"`
	Remarks       string    `json:"remarks,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

// ValidationError is returned when a request fails business-rule validation.
// It is always surfaced to the caller and never retried automatically.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
