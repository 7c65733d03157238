/**
 * @description
 * This file defines the `Repository` interface: the contract for all data
 * access the transaction engine needs. The engine never talks to the database
 * directly; everything that must be atomic (balance mutation plus transaction
 * persistence) is expressed as a single repository method so the Postgres
 * implementation can commit it as one unit and tests can stub it.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/harborbank/transaction-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account lookups. Accounts are owned by the account-service; this
	// service reads them and mutates balances only through the atomic
	// methods below.
	FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error)

	// CreatePendingTransaction persists an approval-gated transaction with
	// no balance mutation.
	CreatePendingTransaction(ctx context.Context, tx *domain.Transaction) error

	// ApplyTransaction commits a non-gated movement as one atomic unit:
	// it locks the touched account rows (ordered by id), re-checks that the
	// debited account retains at least debitFloor after the debit, mutates
	// balances, and inserts the transaction row as completed. It returns
	// the primary account's post-commit balance.
	ApplyTransaction(ctx context.Context, tx *domain.Transaction, debitFloor int64) (int64, error)

	// CompletePendingTransaction is the approve half of the only legal exit
	// from Pending. Under the same lock discipline as ApplyTransaction it
	// re-checks the debit floor, mutates balances, and flips the status to
	// completed. A non-pending transaction yields ErrTransactionNotPending
	// and an insufficient source balance yields ErrInsufficientFunds with
	// the transaction left pending.
	CompletePendingTransaction(ctx context.Context, transactionID uuid.UUID, decidedBy string, remarks string, debitFloor int64) (*domain.Transaction, error)

	// FailPendingTransaction is the reject half: it flips a pending
	// transaction to failed. No balance mutation ever occurs here.
	FailPendingTransaction(ctx context.Context, transactionID uuid.UUID, decidedBy string, remarks string) (*domain.Transaction, error)

	// Transaction history reads.
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	ListPendingTransactions(ctx context.Context, branchID *uuid.UUID) ([]domain.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error)
}
