package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harborbank/transaction-service/internal/approval"
	"github.com/harborbank/transaction-service/internal/domain"
	"github.com/harborbank/transaction-service/internal/rules"
	"github.com/harborbank/transaction-service/internal/store"
)

// fakeRepository is an in-memory store.Repository with the same semantics as
// the Postgres implementation: atomic apply with a debit-floor re-check, and
// status guards on the pending-transaction exits. A mutex stands in for row
// locks.
type fakeRepository struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*domain.Account
	byNumber     map[string]uuid.UUID
	transactions map[uuid.UUID]*domain.Transaction
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		accounts:     make(map[uuid.UUID]*domain.Account),
		byNumber:     make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID]*domain.Transaction),
	}
}

func (r *fakeRepository) addAccount(acct *domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acct.ID] = acct
	r.byNumber[acct.Number] = acct.ID
}

func (r *fakeRepository) balance(id uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id].Balance
}

func (r *fakeRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byNumber[number]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	snapshot := *r.accounts[id]
	return &snapshot, nil
}

func (r *fakeRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	snapshot := *acct
	return &snapshot, nil
}

func (r *fakeRepository) FindAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Account
	for _, acct := range r.accounts {
		if acct.OwnerID == ownerID {
			out = append(out, *acct)
		}
	}
	return out, nil
}

func (r *fakeRepository) CreatePendingTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *tx
	r.transactions[tx.ID] = &stored
	return nil
}

// applyMovement mirrors the locked movement in the Postgres store: it
// re-checks the debit floor against the live balance and returns the primary
// account's post-mutation balance. Caller holds the mutex.
func (r *fakeRepository) applyMovement(tx *domain.Transaction, debitFloor int64) (int64, error) {
	var primary int64
	if tx.FromAccountID != nil {
		from, ok := r.accounts[*tx.FromAccountID]
		if !ok {
			return 0, store.ErrAccountNotFound
		}
		next := domain.SaturatingSub(from.Balance, tx.Amount)
		if next < debitFloor {
			return 0, store.ErrInsufficientFunds
		}
		from.Balance = next
		primary = next
	}
	if tx.ToAccountID != nil {
		to, ok := r.accounts[*tx.ToAccountID]
		if !ok {
			return 0, store.ErrAccountNotFound
		}
		to.Balance = domain.SaturatingAdd(to.Balance, tx.Amount)
		if tx.FromAccountID == nil {
			primary = to.Balance
		}
	}
	return primary, nil
}

func (r *fakeRepository) ApplyTransaction(ctx context.Context, tx *domain.Transaction, debitFloor int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balanceAfter, err := r.applyMovement(tx, debitFloor)
	if err != nil {
		return 0, err
	}
	tx.Status = domain.TransactionStatusCompleted
	tx.BalanceAfter = &balanceAfter
	stored := *tx
	r.transactions[tx.ID] = &stored
	return balanceAfter, nil
}

func (r *fakeRepository) CompletePendingTransaction(ctx context.Context, transactionID uuid.UUID, decidedBy string, remarks string, debitFloor int64) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusPending {
		return nil, store.ErrTransactionNotPending
	}
	balanceAfter, err := r.applyMovement(tx, debitFloor)
	if err != nil {
		return nil, err
	}
	tx.Status = domain.TransactionStatusCompleted
	tx.BalanceAfter = &balanceAfter
	tx.DecidedBy = &decidedBy
	if remarks != "" {
		tx.Remarks = &remarks
	}
	tx.UpdatedAt = time.Now().UTC()
	snapshot := *tx
	return &snapshot, nil
}

func (r *fakeRepository) FailPendingTransaction(ctx context.Context, transactionID uuid.UUID, decidedBy string, remarks string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusPending {
		return nil, store.ErrTransactionNotPending
	}
	tx.Status = domain.TransactionStatusFailed
	tx.DecidedBy = &decidedBy
	if remarks != "" {
		tx.Remarks = &remarks
	}
	tx.UpdatedAt = time.Now().UTC()
	snapshot := *tx
	return &snapshot, nil
}

func (r *fakeRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	snapshot := *tx
	return &snapshot, nil
}

func (r *fakeRepository) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.transactions {
		if tx.Reference == reference {
			snapshot := *tx
			return &snapshot, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (r *fakeRepository) ListPendingTransactions(ctx context.Context, branchID *uuid.UUID) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.Status != domain.TransactionStatusPending {
			continue
		}
		if branchID != nil && (tx.BranchID == nil || *tx.BranchID != *branchID) {
			continue
		}
		out = append(out, *tx)
	}
	return out, nil
}

func (r *fakeRepository) ListTransactionsByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.transactions {
		if (tx.FromAccountID != nil && *tx.FromAccountID == accountID) ||
			(tx.ToAccountID != nil && *tx.ToAccountID == accountID) {
			out = append(out, *tx)
		}
	}
	return out, nil
}

// capturingPublisher records every published event for assertions.
type capturingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
}

func (p *capturingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey})
	return nil
}

func (p *capturingPublisher) Close() {}

func (p *capturingPublisher) lastRoutingKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return ""
	}
	return p.events[len(p.events)-1].routingKey
}

const (
	testHighValueThreshold = 5_000_000
	testManagerThreshold   = 20_000_000
)

func newTestService(repo *fakeRepository) (*Service, *capturingPublisher) {
	publisher := &capturingPublisher{}
	svc := NewService(
		repo,
		rules.NewValidator(rules.Defaults()),
		approval.NewPolicy(testHighValueThreshold, testManagerThreshold),
		publisher,
		"bank.events",
	)
	return svc, publisher
}

func seedAccount(repo *fakeRepository, number string, accountType domain.AccountType, balance int64) *domain.Account {
	acct := &domain.Account{
		ID:         uuid.New(),
		Number:     number,
		Type:       accountType,
		Status:     domain.AccountStatusActive,
		Balance:    balance,
		OwnerID:    uuid.New(),
		OwnerEmail: number + "@example.com",
		BranchID:   uuid.New(),
	}
	repo.addAccount(acct)
	return acct
}

func TestDepositCashCompletes(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeSavings, 200_000)
	svc, publisher := newTestService(repo)

	tx, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber: acct.Number,
		Amount:        150_000,
		Mode:          domain.DepositModeCash,
	})
	if err != nil {
		t.Fatalf("Deposit() returned error: %v", err)
	}
	if tx.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if got := repo.balance(acct.ID); got != 350_000 {
		t.Fatalf("expected balance 350000, got %d", got)
	}
	if tx.BalanceAfter == nil || *tx.BalanceAfter != 350_000 {
		t.Fatalf("expected balance_after 350000, got %v", tx.BalanceAfter)
	}
	if key := publisher.lastRoutingKey(); key != "transaction.completed" {
		t.Fatalf("expected transaction.completed event, got %q", key)
	}
}

func TestDepositModeValidation(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeSavings, 200_000)
	svc, _ := newTestService(repo)

	tests := []struct {
		name string
		req  domain.DepositRequest
	}{
		{
			name: "unknown mode",
			req:  domain.DepositRequest{AccountNumber: acct.Number, Amount: 1000, Mode: "wire"},
		},
		{
			name: "cheque without instrument reference",
			req:  domain.DepositRequest{AccountNumber: acct.Number, Amount: 1000, Mode: domain.DepositModeCheque},
		},
		{
			name: "demand draft without instrument reference",
			req:  domain.DepositRequest{AccountNumber: acct.Number, Amount: 1000, Mode: domain.DepositModeDemandDraft},
		},
		{
			name: "source account on cash deposit",
			req: domain.DepositRequest{
				AccountNumber: acct.Number, Amount: 1000,
				Mode: domain.DepositModeCash, SourceAccountNumber: "0099999999",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deposit(context.Background(), tt.req)
			var validationErr *domain.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestDepositChequeDebitsLinkedSource(t *testing.T) {
	repo := newFakeRepository()
	target := seedAccount(repo, "0011111111", domain.AccountTypeSavings, 0)
	source := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 2_000_000)
	svc, _ := newTestService(repo)

	tx, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber:       target.Number,
		Amount:              400_000,
		Mode:                domain.DepositModeCheque,
		InstrumentRef:       "CHQ-2201",
		SourceAccountNumber: source.Number,
	})
	if err != nil {
		t.Fatalf("Deposit() returned error: %v", err)
	}
	if tx.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if got := repo.balance(source.ID); got != 1_600_000 {
		t.Fatalf("expected source balance 1600000, got %d", got)
	}
	if got := repo.balance(target.ID); got != 400_000 {
		t.Fatalf("expected target balance 400000, got %d", got)
	}
}

func TestDepositSourceEqualsTargetRejected(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 2_000_000)
	svc, _ := newTestService(repo)

	_, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber:       acct.Number,
		Amount:              100_000,
		Mode:                domain.DepositModeCheque,
		InstrumentRef:       "CHQ-1",
		SourceAccountNumber: acct.Number,
	})
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDepositLinkedSourceInsufficientFunds(t *testing.T) {
	repo := newFakeRepository()
	target := seedAccount(repo, "0011111111", domain.AccountTypeSavings, 0)
	source := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 50_000)
	svc, _ := newTestService(repo)

	_, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber:       target.Number,
		Amount:              100_000,
		Mode:                domain.DepositModeCheque,
		InstrumentRef:       "CHQ-2",
		SourceAccountNumber: source.Number,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := repo.balance(target.ID); got != 0 {
		t.Fatalf("expected target untouched, got %d", got)
	}
}

func TestDepositHighValueQueuesForApproval(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeCurrent, 0)
	svc, publisher := newTestService(repo)

	tx, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber: acct.Number,
		Amount:        testHighValueThreshold,
		Mode:          domain.DepositModeCash,
	})
	if err != nil {
		t.Fatalf("Deposit() returned error: %v", err)
	}
	if tx.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
	if tx.ApprovalLevel == nil || *tx.ApprovalLevel != string(approval.LevelTeller) {
		t.Fatalf("expected teller approval level, got %v", tx.ApprovalLevel)
	}
	if got := repo.balance(acct.ID); got != 0 {
		t.Fatalf("pending deposit must not credit balance, got %d", got)
	}
	if key := publisher.lastRoutingKey(); key != "transaction.pending_approval" {
		t.Fatalf("expected transaction.pending_approval event, got %q", key)
	}
}

func TestDepositAccountNotFound(t *testing.T) {
	repo := newFakeRepository()
	svc, _ := newTestService(repo)

	_, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber: "0000000000",
		Amount:        1000,
		Mode:          domain.DepositModeCash,
	})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDepositInactiveAccount(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeSavings, 0)
	repo.accounts[acct.ID].Status = domain.AccountStatusDormant
	svc, _ := newTestService(repo)

	_, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber: acct.Number,
		Amount:        1000,
		Mode:          domain.DepositModeCash,
	})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestWithdrawCompletes(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeCurrent, 2_000_000)
	svc, _ := newTestService(repo)

	tx, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
		AccountNumber: acct.Number,
		Amount:        1_000_000,
	})
	if err != nil {
		t.Fatalf("Withdraw() returned error: %v", err)
	}
	if tx.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if got := repo.balance(acct.ID); got != 1_000_000 {
		t.Fatalf("expected balance 1000000, got %d", got)
	}
	// The balance snapshot follows the debited account.
	if tx.BalanceAfter == nil || *tx.BalanceAfter != 1_000_000 {
		t.Fatalf("expected balance_after 1000000, got %v", tx.BalanceAfter)
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeCurrent, 100_000)
	svc, _ := newTestService(repo)

	_, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
		AccountNumber: acct.Number,
		Amount:        200_000,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestWithdrawMinimumBalanceEnforced(t *testing.T) {
	repo := newFakeRepository()
	// Current accounts keep a 500000 kobo floor.
	acct := seedAccount(repo, "0012345678", domain.AccountTypeCurrent, 600_000)
	svc, _ := newTestService(repo)

	_, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
		AccountNumber: acct.Number,
		Amount:        200_000,
	})
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := repo.balance(acct.ID); got != 600_000 {
		t.Fatalf("expected balance untouched, got %d", got)
	}
}

func TestWithdrawHighValueNeverQueues(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeCurrent, 19_000_000)
	svc, _ := newTestService(repo)

	tx, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
		AccountNumber: acct.Number,
		Amount:        10_000_000,
	})
	if err != nil {
		t.Fatalf("Withdraw() returned error: %v", err)
	}
	if tx.Status != domain.TransactionStatusCompleted {
		t.Fatalf("withdrawals must never queue for approval, got %s", tx.Status)
	}
}

func TestTransferCompletes(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 2_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeSavings, 100_000)
	svc, _ := newTestService(repo)

	tx, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            500_000,
	})
	if err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}
	if tx.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", tx.Status)
	}
	if got := repo.balance(source.ID); got != 1_500_000 {
		t.Fatalf("expected source 1500000, got %d", got)
	}
	if got := repo.balance(dest.ID); got != 600_000 {
		t.Fatalf("expected destination 600000, got %d", got)
	}
	// The snapshot follows the debited source, not the credited destination.
	if tx.BalanceAfter == nil || *tx.BalanceAfter != 1_500_000 {
		t.Fatalf("expected balance_after 1500000, got %v", tx.BalanceAfter)
	}
}

func TestTransferSameAccountRejected(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 2_000_000)
	svc, _ := newTestService(repo)

	_, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: acct.Number,
		ToAccountNumber:   acct.Number,
		Amount:            100_000,
	})
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestTransferInactiveDestination(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 2_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeSavings, 0)
	repo.accounts[dest.ID].Status = domain.AccountStatusClosed
	svc, _ := newTestService(repo)

	_, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            100_000,
	})
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if got := repo.balance(source.ID); got != 2_000_000 {
		t.Fatalf("expected source untouched, got %d", got)
	}
}

func TestTransferHighValueQueuesAtManagerLevel(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 30_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 0)
	svc, _ := newTestService(repo)

	tx, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            testManagerThreshold,
	})
	if err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}
	if tx.Status != domain.TransactionStatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}
	if tx.ApprovalLevel == nil || *tx.ApprovalLevel != string(approval.LevelManager) {
		t.Fatalf("expected manager approval level, got %v", tx.ApprovalLevel)
	}
	if got := repo.balance(source.ID); got != 30_000_000 {
		t.Fatalf("pending transfer must not touch source, got %d", got)
	}
	if got := repo.balance(dest.ID); got != 0 {
		t.Fatalf("pending transfer must not touch destination, got %d", got)
	}
}

func TestApproveCompletesPendingTransfer(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 10_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 600_000)
	svc, publisher := newTestService(repo)

	pending, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            6_000_000,
	})
	if err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}

	decided, err := svc.ApproveOrReject(context.Background(), pending.ID, "teller-7", string(approval.LevelTeller), true, "verified with customer")
	if err != nil {
		t.Fatalf("ApproveOrReject() returned error: %v", err)
	}
	if decided.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", decided.Status)
	}
	if decided.DecidedBy == nil || *decided.DecidedBy != "teller-7" {
		t.Fatalf("expected decided_by teller-7, got %v", decided.DecidedBy)
	}
	if got := repo.balance(source.ID); got != 4_000_000 {
		t.Fatalf("expected source 4000000, got %d", got)
	}
	if got := repo.balance(dest.ID); got != 6_600_000 {
		t.Fatalf("expected destination 6600000, got %d", got)
	}
	// The snapshot follows the debited source at decision time.
	if decided.BalanceAfter == nil || *decided.BalanceAfter != 4_000_000 {
		t.Fatalf("expected balance_after 4000000, got %v", decided.BalanceAfter)
	}
	if key := publisher.lastRoutingKey(); key != "transaction.completed" {
		t.Fatalf("expected transaction.completed event, got %q", key)
	}
}

func TestApproveReplayDoesNotDoubleApply(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 10_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 600_000)
	svc, _ := newTestService(repo)

	pending, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            6_000_000,
	})
	if err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}
	if _, err := svc.ApproveOrReject(context.Background(), pending.ID, "teller-7", string(approval.LevelTeller), true, ""); err != nil {
		t.Fatalf("first decision returned error: %v", err)
	}

	_, err = svc.ApproveOrReject(context.Background(), pending.ID, "teller-7", string(approval.LevelTeller), true, "")
	if !errors.Is(err, store.ErrTransactionNotPending) {
		t.Fatalf("expected ErrTransactionNotPending on replay, got %v", err)
	}
	if got := repo.balance(source.ID); got != 4_000_000 {
		t.Fatalf("replay must not double-debit, got %d", got)
	}
}

func TestApproveManagerLevelRejectsTeller(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 30_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 600_000)
	svc, _ := newTestService(repo)

	pending, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            testManagerThreshold,
	})
	if err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}

	_, err = svc.ApproveOrReject(context.Background(), pending.ID, "teller-7", string(approval.LevelTeller), true, "")
	if !errors.Is(err, ErrApproverRoleInsufficient) {
		t.Fatalf("expected ErrApproverRoleInsufficient, got %v", err)
	}

	decided, err := svc.ApproveOrReject(context.Background(), pending.ID, "manager-2", string(approval.LevelManager), true, "")
	if err != nil {
		t.Fatalf("manager decision returned error: %v", err)
	}
	if decided.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", decided.Status)
	}
}

func TestRejectLeavesBalancesUntouched(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 10_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 600_000)
	svc, publisher := newTestService(repo)

	pending, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            6_000_000,
	})
	if err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}

	decided, err := svc.ApproveOrReject(context.Background(), pending.ID, "teller-7", string(approval.LevelTeller), false, "signature mismatch")
	if err != nil {
		t.Fatalf("ApproveOrReject() returned error: %v", err)
	}
	if decided.Status != domain.TransactionStatusFailed {
		t.Fatalf("expected failed, got %s", decided.Status)
	}
	if decided.Remarks == nil || *decided.Remarks != "signature mismatch" {
		t.Fatalf("expected remarks recorded, got %v", decided.Remarks)
	}
	if got := repo.balance(source.ID); got != 10_000_000 {
		t.Fatalf("reject must not touch source, got %d", got)
	}
	if got := repo.balance(dest.ID); got != 600_000 {
		t.Fatalf("reject must not touch destination, got %d", got)
	}
	if key := publisher.lastRoutingKey(); key != "transaction.failed" {
		t.Fatalf("expected transaction.failed event, got %q", key)
	}
}

func TestApproveWithDriftedBalanceLeavesPending(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 10_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 600_000)
	svc, _ := newTestService(repo)

	pending, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            6_000_000,
	})
	if err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}

	// The source balance drains between submission and decision.
	if _, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
		AccountNumber: source.Number,
		Amount:        8_000_000,
	}); err != nil {
		t.Fatalf("Withdraw() returned error: %v", err)
	}

	_, err = svc.ApproveOrReject(context.Background(), pending.ID, "teller-7", string(approval.LevelTeller), true, "")
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	stored, err := svc.GetTransaction(context.Background(), pending.ID)
	if err != nil {
		t.Fatalf("GetTransaction() returned error: %v", err)
	}
	if stored.Status != domain.TransactionStatusPending {
		t.Fatalf("a failed approval attempt must leave the transaction pending, got %s", stored.Status)
	}
}

func TestRoundTripTransferRestoresBalances(t *testing.T) {
	repo := newFakeRepository()
	a := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 3_000_000)
	b := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 3_000_000)
	svc, _ := newTestService(repo)

	if _, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 750_000,
	}); err != nil {
		t.Fatalf("first leg returned error: %v", err)
	}
	if _, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: b.Number, ToAccountNumber: a.Number, Amount: 750_000,
	}); err != nil {
		t.Fatalf("second leg returned error: %v", err)
	}

	if got := repo.balance(a.ID); got != 3_000_000 {
		t.Fatalf("expected account A restored to 3000000, got %d", got)
	}
	if got := repo.balance(b.ID); got != 3_000_000 {
		t.Fatalf("expected account B restored to 3000000, got %d", got)
	}
}

func TestListPendingFiltersByBranch(t *testing.T) {
	repo := newFakeRepository()
	source := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 30_000_000)
	dest := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 600_000)
	svc, _ := newTestService(repo)

	pending, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: source.Number,
		ToAccountNumber:   dest.Number,
		Amount:            6_000_000,
	})
	if err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}

	all, err := svc.ListPending(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListPending() returned error: %v", err)
	}
	if len(all) != 1 || all[0].ID != pending.ID {
		t.Fatalf("expected one pending transaction, got %d", len(all))
	}

	// A transfer queues under the source account's branch.
	matching, err := svc.ListPending(context.Background(), &source.BranchID)
	if err != nil {
		t.Fatalf("ListPending() returned error: %v", err)
	}
	if len(matching) != 1 {
		t.Fatalf("expected one pending transaction for source branch, got %d", len(matching))
	}

	other := uuid.New()
	none, err := svc.ListPending(context.Background(), &other)
	if err != nil {
		t.Fatalf("ListPending() returned error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no pending transactions for unrelated branch, got %d", len(none))
	}
}

func TestGetTransactionByReference(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeSavings, 200_000)
	svc, _ := newTestService(repo)

	tx, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber: acct.Number,
		Amount:        50_000,
		Mode:          domain.DepositModeCash,
	})
	if err != nil {
		t.Fatalf("Deposit() returned error: %v", err)
	}

	found, err := svc.GetTransactionByReference(context.Background(), tx.Reference)
	if err != nil {
		t.Fatalf("GetTransactionByReference() returned error: %v", err)
	}
	if found.ID != tx.ID {
		t.Fatalf("expected transaction %s, got %s", tx.ID, found.ID)
	}

	_, err = svc.GetTransactionByReference(context.Background(), "TXN-20260101-UNKNOWN00000")
	if !errors.Is(err, store.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestListAccountTransactions(t *testing.T) {
	repo := newFakeRepository()
	a := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 3_000_000)
	b := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 3_000_000)
	other := seedAccount(repo, "0033333333", domain.AccountTypeCurrent, 3_000_000)
	svc, _ := newTestService(repo)

	if _, err := svc.Transfer(context.Background(), domain.TransferRequest{
		FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 100_000,
	}); err != nil {
		t.Fatalf("Transfer() returned error: %v", err)
	}
	if _, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
		AccountNumber: a.Number, Amount: 200_000,
	}); err != nil {
		t.Fatalf("Withdraw() returned error: %v", err)
	}
	if _, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
		AccountNumber: other.Number, Amount: 200_000,
	}); err != nil {
		t.Fatalf("Withdraw() returned error: %v", err)
	}

	history, err := svc.ListAccountTransactions(context.Background(), a.ID, 50, 0)
	if err != nil {
		t.Fatalf("ListAccountTransactions() returned error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 transactions for account A, got %d", len(history))
	}
	for _, tx := range history {
		touchesA := (tx.FromAccountID != nil && *tx.FromAccountID == a.ID) ||
			(tx.ToAccountID != nil && *tx.ToAccountID == a.ID)
		if !touchesA {
			t.Fatalf("history contains a transaction not touching account A: %s", tx.ID)
		}
	}
}

// stubRateLimiter returns a fixed count, or an error, for every call.
type stubRateLimiter struct {
	count int
	err   error
}

func (l *stubRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if l.err != nil {
		return 0, 0, l.err
	}
	return l.count, 0, nil
}

func TestSubmissionRateLimit(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeSavings, 1_000_000)
	svc, _ := newTestService(repo)
	svc.SetSubmissionRateLimiter(&stubRateLimiter{count: 61}, 60)

	_, err := svc.Deposit(context.Background(), domain.DepositRequest{
		AccountNumber: acct.Number,
		Amount:        1000,
		Mode:          domain.DepositModeCash,
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSubmissionRateLimiterFailureAllowsRequest(t *testing.T) {
	repo := newFakeRepository()
	acct := seedAccount(repo, "0012345678", domain.AccountTypeSavings, 1_000_000)
	svc, _ := newTestService(repo)
	svc.SetSubmissionRateLimiter(&stubRateLimiter{err: errors.New("redis down")}, 60)

	if _, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
		AccountNumber: acct.Number,
		Amount:        100_000,
	}); err != nil {
		t.Fatalf("limiter outage must not block movement, got %v", err)
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	repo := newFakeRepository()
	// Savings floor is 100000; 9 of the 20 attempted withdrawals fit.
	acct := seedAccount(repo, "0012345678", domain.AccountTypeSavings, 1_000_000)
	svc, _ := newTestService(repo)

	const (
		workers = 20
		amount  = 100_000
	)

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(context.Background(), domain.WithdrawalRequest{
				AccountNumber: acct.Number,
				Amount:        amount,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var validationErr *domain.ValidationError
		if !errors.Is(err, store.ErrInsufficientFunds) && !errors.As(err, &validationErr) {
			t.Fatalf("unexpected error from concurrent withdrawal: %v", err)
		}
	}

	final := repo.balance(acct.ID)
	if final < 100_000 {
		t.Fatalf("balance %d breached the minimum-balance floor", final)
	}
	if want := int64(1_000_000) - int64(succeeded)*amount; final != want {
		t.Fatalf("debited total inconsistent: %d succeeded but balance is %d", succeeded, final)
	}
}

func TestConcurrentOpposingTransfersConserveTotal(t *testing.T) {
	repo := newFakeRepository()
	a := seedAccount(repo, "0011111111", domain.AccountTypeCurrent, 5_000_000)
	b := seedAccount(repo, "0022222222", domain.AccountTypeCurrent, 5_000_000)
	svc, _ := newTestService(repo)

	const rounds = 25

	var wg sync.WaitGroup
	results := make(chan error, 2*rounds)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := svc.Transfer(context.Background(), domain.TransferRequest{
				FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 50_000,
			})
			results <- err
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			_, err := svc.Transfer(context.Background(), domain.TransferRequest{
				FromAccountNumber: b.Number, ToAccountNumber: a.Number, Amount: 50_000,
			})
			results <- err
		}
	}()
	wg.Wait()
	close(results)

	for err := range results {
		if err == nil {
			continue
		}
		var validationErr *domain.ValidationError
		if !errors.Is(err, store.ErrInsufficientFunds) && !errors.As(err, &validationErr) {
			t.Fatalf("unexpected error from concurrent transfer: %v", err)
		}
	}

	total := repo.balance(a.ID) + repo.balance(b.ID)
	if total != 10_000_000 {
		t.Fatalf("transfers must conserve the combined balance, got %d", total)
	}
}
