/**
 * @description
 * This file contains the transaction ledger engine: the core state machine
 * that validates a proposed money movement, decides whether it completes
 * immediately or queues for approval, drives the atomic balance mutation
 * through the repository, and records the immutable transaction history.
 *
 * Key properties:
 * - No transaction skips validation; the validator runs on fetched snapshots
 *   and the repository re-checks the debit floor under row locks at commit.
 * - Approval-gated transactions are persisted pending with no balance
 *   mutation; the approval path is the only exit from pending.
 * - Notification events are published strictly after commit and are
 *   best-effort; a broker failure never fails a money movement.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/approval, internal/domain, internal/rules, internal/store: Core components.
 * - pkg/rabbitmq: Post-commit event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/transaction-service/internal/approval"
	"github.com/harborbank/transaction-service/internal/domain"
	"github.com/harborbank/transaction-service/internal/rules"
	"github.com/harborbank/transaction-service/internal/store"
	"github.com/harborbank/transaction-service/pkg/rabbitmq"
)

var (
	// ErrAccountInactive is returned when a non-active account is asked to
	// move money.
	ErrAccountInactive = errors.New("account is not active")
	// ErrApproverRoleInsufficient is returned when a teller decides a
	// transaction routed to a manager.
	ErrApproverRoleInsufficient = errors.New("approver role is insufficient for this transaction")
	// ErrRateLimited is returned when an account exceeds its submission
	// throttle.
	ErrRateLimited = errors.New("too many transaction submissions; try again shortly")
)

// RateLimiter throttles transaction submissions per account. A nil limiter
// disables throttling.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for money movement.
type Service struct {
	repo      store.Repository
	validator *rules.Validator
	policy    *approval.Policy
	events    rabbitmq.Publisher
	exchange  string

	limiter                  RateLimiter
	submissionLimitPerMinute int
}

// NewService creates a new ledger engine instance. The publisher may be nil
// when the broker is unavailable; notifications degrade to log lines.
func NewService(repo store.Repository, validator *rules.Validator, policy *approval.Policy, events rabbitmq.Publisher, exchange string) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		policy:    policy,
		events:    events,
		exchange:  exchange,
	}
}

// SetSubmissionRateLimiter enables per-account submission throttling.
func (s *Service) SetSubmissionRateLimiter(limiter RateLimiter, perMinute int) {
	s.limiter = limiter
	s.submissionLimitPerMinute = perMinute
}

func (s *Service) checkSubmissionRate(ctx context.Context, accountNumber string) error {
	if s.limiter == nil || s.submissionLimitPerMinute <= 0 {
		return nil
	}
	count, _, err := s.limiter.ConsumeRateLimit(ctx, "submit", accountNumber, s.submissionLimitPerMinute, time.Minute)
	if err != nil {
		// Throttling is an availability guard, not a correctness one.
		log.Printf("level=warn component=ledger msg=\"rate limiter unavailable; allowing request\" account=%s err=%v", accountNumber, err)
		return nil
	}
	if count > s.submissionLimitPerMinute {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) resolveActiveAccount(ctx context.Context, number string) (*domain.Account, error) {
	acct, err := s.repo.FindAccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !acct.CanTransact() {
		return nil, fmt.Errorf("account %s: %w", number, ErrAccountInactive)
	}
	return acct, nil
}

func newTransaction(txType domain.TransactionType, amount int64, description string) *domain.Transaction {
	id := uuid.New()
	now := time.Now().UTC()
	return &domain.Transaction{
		ID:          id,
		Reference:   domain.NewReference(now, id),
		Type:        txType,
		Amount:      amount,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Deposit credits the target account, optionally funded by a debit against a
// linked source account for cheque and demand-draft deposits. High-value
// deposits queue for approval with no balance mutation.
func (s *Service) Deposit(ctx context.Context, req domain.DepositRequest) (*domain.Transaction, error) {
	if err := s.checkSubmissionRate(ctx, req.AccountNumber); err != nil {
		return nil, err
	}

	switch req.Mode {
	case domain.DepositModeCash, domain.DepositModeCheque, domain.DepositModeDemandDraft:
	default:
		return nil, domain.NewValidationError("unknown deposit mode %q", req.Mode)
	}
	if req.Mode.RequiresInstrumentRef() && req.InstrumentRef == "" {
		return nil, domain.NewValidationError("%s deposits require an instrument reference number", req.Mode)
	}
	if req.SourceAccountNumber != "" && !req.Mode.RequiresInstrumentRef() {
		return nil, domain.NewValidationError("a linked source account is only valid for cheque or demand draft deposits")
	}

	target, err := s.resolveActiveAccount(ctx, req.AccountNumber)
	if err != nil {
		return nil, err
	}

	var source *domain.Account
	if req.SourceAccountNumber != "" {
		if req.SourceAccountNumber == req.AccountNumber {
			return nil, domain.NewValidationError("deposit source and target must differ")
		}
		source, err = s.resolveActiveAccount(ctx, req.SourceAccountNumber)
		if err != nil {
			return nil, err
		}
		if source.Balance < req.Amount {
			return nil, store.ErrInsufficientFunds
		}
		if ok, reason := s.validator.ValidateDebit(source, req.Amount); !ok {
			return nil, &domain.ValidationError{Reason: reason}
		}
	}

	if ok, reason := s.validator.Validate(target, domain.TransactionTypeDeposit, req.Amount); !ok {
		return nil, &domain.ValidationError{Reason: reason}
	}

	tx := newTransaction(domain.TransactionTypeDeposit, req.Amount, req.Description)
	mode := req.Mode
	tx.DepositMode = &mode
	if req.InstrumentRef != "" {
		ref := req.InstrumentRef
		tx.InstrumentRef = &ref
	}
	tx.ToAccountID = &target.ID
	tx.BranchID = &target.BranchID
	if source != nil {
		tx.FromAccountID = &source.ID
	}

	if s.policy.RequiresApproval(domain.TransactionTypeDeposit, req.Amount) {
		return s.queueForApproval(ctx, tx, target.OwnerEmail)
	}

	var debitFloor int64
	if source != nil {
		debitFloor = s.validator.MinimumBalance(source.Type)
	}
	if _, err := s.repo.ApplyTransaction(ctx, tx, debitFloor); err != nil {
		return nil, err
	}

	s.publishTransactionEvent(ctx, tx, target.OwnerEmail,
		fmt.Sprintf("Deposit of %s to account %s completed. Reference %s.", domain.FormatAmount(tx.Amount), target.Number, tx.Reference))
	return tx, nil
}

// Withdraw debits the account and records a completed transaction.
// Withdrawals never queue for approval: the account's own balance and
// minimum-balance floor bound them.
func (s *Service) Withdraw(ctx context.Context, req domain.WithdrawalRequest) (*domain.Transaction, error) {
	if err := s.checkSubmissionRate(ctx, req.AccountNumber); err != nil {
		return nil, err
	}

	acct, err := s.resolveActiveAccount(ctx, req.AccountNumber)
	if err != nil {
		return nil, err
	}
	if acct.Balance < req.Amount {
		return nil, store.ErrInsufficientFunds
	}
	if ok, reason := s.validator.Validate(acct, domain.TransactionTypeWithdrawal, req.Amount); !ok {
		return nil, &domain.ValidationError{Reason: reason}
	}

	tx := newTransaction(domain.TransactionTypeWithdrawal, req.Amount, req.Description)
	tx.FromAccountID = &acct.ID
	tx.BranchID = &acct.BranchID

	if _, err := s.repo.ApplyTransaction(ctx, tx, s.validator.MinimumBalance(acct.Type)); err != nil {
		return nil, err
	}

	s.publishTransactionEvent(ctx, tx, acct.OwnerEmail,
		fmt.Sprintf("Withdrawal of %s from account %s completed. Reference %s.", domain.FormatAmount(tx.Amount), acct.Number, tx.Reference))
	return tx, nil
}

// Transfer moves funds between two accounts in this bank. High-value
// transfers queue for approval with both balances untouched.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.Transaction, error) {
	if err := s.checkSubmissionRate(ctx, req.FromAccountNumber); err != nil {
		return nil, err
	}

	if req.FromAccountNumber == req.ToAccountNumber {
		return nil, domain.NewValidationError("transfer source and destination must be different accounts")
	}

	source, err := s.resolveActiveAccount(ctx, req.FromAccountNumber)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolveActiveAccount(ctx, req.ToAccountNumber)
	if err != nil {
		return nil, err
	}
	if source.ID == dest.ID {
		return nil, domain.NewValidationError("transfer source and destination must be different accounts")
	}

	if source.Balance < req.Amount {
		return nil, store.ErrInsufficientFunds
	}
	if ok, reason := s.validator.Validate(source, domain.TransactionTypeTransfer, req.Amount); !ok {
		return nil, &domain.ValidationError{Reason: reason}
	}
	// The credit leg is checked with deposit semantics: the destination's
	// minimum balance cannot be violated by an inbound credit.
	if ok, reason := s.validator.Validate(dest, domain.TransactionTypeDeposit, req.Amount); !ok {
		return nil, &domain.ValidationError{Reason: reason}
	}

	tx := newTransaction(domain.TransactionTypeTransfer, req.Amount, req.Description)
	tx.FromAccountID = &source.ID
	tx.ToAccountID = &dest.ID
	tx.BranchID = &source.BranchID

	if s.policy.RequiresApproval(domain.TransactionTypeTransfer, req.Amount) {
		return s.queueForApproval(ctx, tx, source.OwnerEmail)
	}

	if _, err := s.repo.ApplyTransaction(ctx, tx, s.validator.MinimumBalance(source.Type)); err != nil {
		return nil, err
	}

	s.publishTransactionEvent(ctx, tx, source.OwnerEmail,
		fmt.Sprintf("Transfer of %s from %s to %s completed. Reference %s.", domain.FormatAmount(tx.Amount), source.Number, dest.Number, tx.Reference))
	return tx, nil
}

// queueForApproval persists the transaction pending with no balance mutation.
func (s *Service) queueForApproval(ctx context.Context, tx *domain.Transaction, ownerEmail string) (*domain.Transaction, error) {
	tx.Status = domain.TransactionStatusPending
	level := string(s.policy.RequiredLevel(tx.Amount))
	tx.ApprovalLevel = &level

	if err := s.repo.CreatePendingTransaction(ctx, tx); err != nil {
		return nil, err
	}

	s.publishTransactionEvent(ctx, tx, ownerEmail,
		fmt.Sprintf("Your %s of %s (reference %s) has been submitted for %s approval.", tx.Type, domain.FormatAmount(tx.Amount), tx.Reference, level))
	return tx, nil
}

// ApproveOrReject is the only path that transitions a transaction out of
// pending. Approving re-validates the source balance under the repository's
// row locks; a shortfall leaves the transaction pending for a retry or an
// alternate decision. Replays against a decided transaction fail with
// store.ErrTransactionNotPending and never double-apply.
func (s *Service) ApproveOrReject(ctx context.Context, transactionID uuid.UUID, approverID, approverRole string, approve bool, remarks string) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.TransactionStatusPending {
		return nil, store.ErrTransactionNotPending
	}
	if tx.ApprovalLevel != nil && *tx.ApprovalLevel == string(approval.LevelManager) && approverRole != string(approval.LevelManager) {
		return nil, ErrApproverRoleInsufficient
	}

	if !approve {
		failed, err := s.repo.FailPendingTransaction(ctx, transactionID, approverID, remarks)
		if err != nil {
			return nil, err
		}
		s.notifyDecision(ctx, failed)
		return failed, nil
	}

	var debitFloor int64
	if tx.FromAccountID != nil {
		source, err := s.repo.FindAccountByID(ctx, *tx.FromAccountID)
		if err != nil {
			return nil, err
		}
		if !source.CanTransact() {
			return nil, fmt.Errorf("account %s: %w", source.Number, ErrAccountInactive)
		}
		debitFloor = s.validator.MinimumBalance(source.Type)
	}
	if tx.ToAccountID != nil {
		dest, err := s.repo.FindAccountByID(ctx, *tx.ToAccountID)
		if err != nil {
			return nil, err
		}
		if !dest.CanTransact() {
			return nil, fmt.Errorf("account %s: %w", dest.Number, ErrAccountInactive)
		}
	}

	completed, err := s.repo.CompletePendingTransaction(ctx, transactionID, approverID, remarks, debitFloor)
	if err != nil {
		return nil, err
	}
	s.notifyDecision(ctx, completed)
	return completed, nil
}

// GetTransaction retrieves a single transaction by id.
func (s *Service) GetTransaction(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return s.repo.FindTransactionByID(ctx, transactionID)
}

// GetTransactionByReference retrieves a transaction by its human-quotable
// reference, the identifier printed on receipts.
func (s *Service) GetTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	return s.repo.FindTransactionByReference(ctx, reference)
}

// ListPending returns the approval queue, optionally filtered to one branch.
func (s *Service) ListPending(ctx context.Context, branchID *uuid.UUID) ([]domain.Transaction, error) {
	return s.repo.ListPendingTransactions(ctx, branchID)
}

// ListAccountTransactions returns a page of one account's ledger history.
func (s *Service) ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	return s.repo.ListTransactionsByAccount(ctx, accountID, limit, offset)
}

func (s *Service) notifyDecision(ctx context.Context, tx *domain.Transaction) {
	email := s.primaryOwnerEmail(ctx, tx)
	var msg string
	if tx.Status == domain.TransactionStatusCompleted {
		msg = fmt.Sprintf("Your %s of %s (reference %s) has been approved and completed.", tx.Type, domain.FormatAmount(tx.Amount), tx.Reference)
	} else {
		msg = fmt.Sprintf("Your %s of %s (reference %s) was rejected.", tx.Type, domain.FormatAmount(tx.Amount), tx.Reference)
	}
	s.publishTransactionEvent(ctx, tx, email, msg)
}

// primaryOwnerEmail resolves the debited account's owner, falling back to the
// credited one. Lookup failures degrade to an event without a recipient.
func (s *Service) primaryOwnerEmail(ctx context.Context, tx *domain.Transaction) string {
	id := tx.FromAccountID
	if id == nil {
		id = tx.ToAccountID
	}
	if id == nil {
		return ""
	}
	acct, err := s.repo.FindAccountByID(ctx, *id)
	if err != nil {
		log.Printf("level=warn component=ledger msg=\"owner lookup for notification failed\" transaction_id=%s err=%v", tx.ID, err)
		return ""
	}
	return acct.OwnerEmail
}

// publishTransactionEvent emits a post-commit lifecycle event. Failures are
// logged and dropped: the movement has already durably committed.
func (s *Service) publishTransactionEvent(ctx context.Context, tx *domain.Transaction, recipientEmail, message string) {
	if s.events == nil {
		log.Printf("level=info component=ledger msg=\"notification skipped; no broker\" transaction_id=%s status=%s", tx.ID, tx.Status)
		return
	}

	routingKey := "transaction." + string(tx.Status)
	if tx.Status == domain.TransactionStatusPending {
		routingKey = "transaction.pending_approval"
	}

	event := rabbitmq.TransactionEvent{
		TransactionID:  tx.ID,
		Reference:      tx.Reference,
		Type:           string(tx.Type),
		Status:         string(tx.Status),
		Amount:         tx.Amount,
		RecipientEmail: recipientEmail,
		Message:        message,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, s.exchange, routingKey, event); err != nil {
		log.Printf("level=warn component=ledger msg=\"notification publish failed\" transaction_id=%s routing_key=%s err=%v", tx.ID, routingKey, err)
	}
}
