/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. All money movement runs through two atomic paths
 * (ApplyTransaction and CompletePendingTransaction) that share one locking
 * discipline: account rows are locked with SELECT ... FOR UPDATE in ascending
 * id order, the debit floor is re-checked under the lock, and the balance
 * update commits in the same database transaction as the ledger row. A
 * partially applied movement is therefore structurally impossible.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/harborbank/transaction-service/internal/domain"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrTransactionNotPending = errors.New("transaction is not pending")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, account_number, account_type, status, balance, owner_id, owner_email, branch_id, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Number, &a.Type, &a.Status, &a.Balance, &a.OwnerID, &a.OwnerEmail, &a.BranchID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindAccountByNumber retrieves an account by its externally visible number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	return scanAccount(r.db.QueryRow(ctx, query, number))
}

// FindAccountByID retrieves an account by its internal id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountsByOwner retrieves all accounts held by one customer.
func (r *PostgresRepository) FindAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

const transactionColumns = `id, reference, from_account_id, to_account_id, tx_type, status, amount, deposit_mode, instrument_ref, description, balance_after, branch_id, approval_level, decided_by, remarks, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.Reference, &t.FromAccountID, &t.ToAccountID, &t.Type, &t.Status,
		&t.Amount, &t.DepositMode, &t.InstrumentRef, &t.Description, &t.BalanceAfter,
		&t.BranchID, &t.ApprovalLevel, &t.DecidedBy, &t.Remarks, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

const insertTransactionQuery = `
	INSERT INTO transactions (
		id, reference, from_account_id, to_account_id, tx_type, status, amount,
		deposit_mode, instrument_ref, description, balance_after, branch_id, approval_level
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// CreatePendingTransaction persists an approval-gated transaction. No account
// row is touched: the balances stay exactly as they were at submission.
func (r *PostgresRepository) CreatePendingTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := r.db.Exec(ctx, insertTransactionQuery,
		t.ID, t.Reference, t.FromAccountID, t.ToAccountID, t.Type, t.Status, t.Amount,
		t.DepositMode, t.InstrumentRef, t.Description, t.BalanceAfter, t.BranchID, t.ApprovalLevel,
	)
	return err
}

// lockedBalance reads one account's balance under FOR UPDATE within tx.
func lockedBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// applyMovement locks the movement's account rows in ascending id order,
// re-checks the debit floor, and writes the new balances. It returns the
// primary account's balance after the movement: the debited account when one
// exists, otherwise the credited account.
func applyMovement(ctx context.Context, tx pgx.Tx, fromID, toID *uuid.UUID, amount, debitFloor int64) (int64, error) {
	// Deterministic lock order prevents deadlock between two movements
	// touching the same account pair in opposite directions.
	lockOrder := make([]uuid.UUID, 0, 2)
	if fromID != nil {
		lockOrder = append(lockOrder, *fromID)
	}
	if toID != nil {
		lockOrder = append(lockOrder, *toID)
	}
	if len(lockOrder) == 2 && lockOrder[1].String() < lockOrder[0].String() {
		lockOrder[0], lockOrder[1] = lockOrder[1], lockOrder[0]
	}

	balances := make(map[uuid.UUID]int64, 2)
	for _, id := range lockOrder {
		b, err := lockedBalance(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		balances[id] = b
	}

	var primaryAfter int64

	if fromID != nil {
		after := domain.SaturatingSub(balances[*fromID], amount)
		if after < debitFloor {
			return 0, ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`, after, *fromID); err != nil {
			return 0, err
		}
		primaryAfter = after
	}

	if toID != nil {
		after := domain.SaturatingAdd(balances[*toID], amount)
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1, updated_at = NOW() WHERE id = $2`, after, *toID); err != nil {
			return 0, err
		}
		if fromID == nil {
			primaryAfter = after
		}
	}

	return primaryAfter, nil
}

// ApplyTransaction commits a non-gated movement: balance mutation and the
// completed ledger row in one database transaction.
func (r *PostgresRepository) ApplyTransaction(ctx context.Context, t *domain.Transaction, debitFloor int64) (int64, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer dbTx.Rollback(ctx)

	balanceAfter, err := applyMovement(ctx, dbTx, t.FromAccountID, t.ToAccountID, t.Amount, debitFloor)
	if err != nil {
		return 0, err
	}

	t.Status = domain.TransactionStatusCompleted
	t.BalanceAfter = &balanceAfter

	if _, err := dbTx.Exec(ctx, insertTransactionQuery,
		t.ID, t.Reference, t.FromAccountID, t.ToAccountID, t.Type, t.Status, t.Amount,
		t.DepositMode, t.InstrumentRef, t.Description, t.BalanceAfter, t.BranchID, t.ApprovalLevel,
	); err != nil {
		return 0, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, err
	}
	return balanceAfter, nil
}

// CompletePendingTransaction applies an approved pending transaction. The
// pending row itself is locked FOR UPDATE so a concurrent decision on the
// same transaction blocks here and then fails the status guard, which makes
// replayed approvals apply the mutation at most once.
func (r *PostgresRepository) CompletePendingTransaction(ctx context.Context, transactionID uuid.UUID, decidedBy string, remarks string, debitFloor int64) (*domain.Transaction, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx)

	t, err := scanTransaction(dbTx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, transactionID))
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TransactionStatusPending {
		return nil, ErrTransactionNotPending
	}

	balanceAfter, err := applyMovement(ctx, dbTx, t.FromAccountID, t.ToAccountID, t.Amount, debitFloor)
	if err != nil {
		// Insufficient balance at approval time leaves the transaction
		// pending so the approver can retry or reject.
		return nil, err
	}

	row := dbTx.QueryRow(ctx, `
		UPDATE transactions
		SET status = 'completed', balance_after = $2, decided_by = $3, remarks = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING `+transactionColumns,
		transactionID, balanceAfter, decidedBy, remarks,
	)
	updated, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// FailPendingTransaction rejects a pending transaction. Balances are never
// touched on this path.
func (r *PostgresRepository) FailPendingTransaction(ctx context.Context, transactionID uuid.UUID, decidedBy string, remarks string) (*domain.Transaction, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx)

	t, err := scanTransaction(dbTx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, transactionID))
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TransactionStatusPending {
		return nil, ErrTransactionNotPending
	}

	row := dbTx.QueryRow(ctx, `
		UPDATE transactions
		SET status = 'failed', decided_by = $2, remarks = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING `+transactionColumns,
		transactionID, decidedBy, remarks,
	)
	updated, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// FindTransactionByID retrieves a single transaction.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, transactionID))
}

// FindTransactionByReference retrieves a transaction by its unique reference.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, reference))
}

// ListPendingTransactions returns the approval queue, optionally filtered to
// one branch, oldest first.
func (r *PostgresRepository) ListPendingTransactions(ctx context.Context, branchID *uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE status = 'pending'`
	args := []any{}
	if branchID != nil {
		query += ` AND branch_id = $1`
		args = append(args, *branchID)
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ListTransactionsByAccount returns a page of an account's history, newest first.
func (r *PostgresRepository) ListTransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}
