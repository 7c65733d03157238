/**
 * @description
 * The business-rules validator: a pure, table-driven policy component. Given
 * an already-fetched account snapshot, a transaction type, and an amount, it
 * answers allow/deny with a reason. It performs no I/O, so the ledger engine
 * passes in snapshots and the package is unit-testable in isolation.
 *
 * Per-account-type limits live in a single RuleSet table injected at
 * construction time; there is deliberately no other place in the codebase
 * that knows what a "minor account daily limit" is.
 */

package rules

import (
	"fmt"

	"github.com/harborbank/transaction-service/internal/domain"
)

// RuleSet holds the money-movement limits for one account type, in kobo.
// SingleTransferCap of zero means no per-transfer cap beyond the daily limit.
type RuleSet struct {
	DailyLimit        int64
	MinimumBalance    int64
	SingleTransferCap int64
}

// Defaults returns the standard per-type rule table, in kobo. Figures are
// configuration, not business truth; config may override any of them. Minor
// accounts cap any single transfer at half their daily limit.
func Defaults() map[domain.AccountType]RuleSet {
	return map[domain.AccountType]RuleSet{
		domain.AccountTypeMinor:   {DailyLimit: 1_000_000, MinimumBalance: 50_000, SingleTransferCap: 500_000},
		domain.AccountTypeMajor:   {DailyLimit: 5_000_000, MinimumBalance: 100_000},
		domain.AccountTypeSavings: {DailyLimit: 10_000_000, MinimumBalance: 100_000},
		domain.AccountTypeCurrent: {DailyLimit: 20_000_000, MinimumBalance: 500_000},
	}
}

// Validator answers allow/deny for a proposed money movement against one
// account snapshot. It is stateless and safe for concurrent use.
type Validator struct {
	table map[domain.AccountType]RuleSet
}

// NewValidator builds a validator over the supplied rule table. Account types
// missing from the table fall back to the zero RuleSet, which denies nothing
// beyond the amount-positivity check, so callers should pass a complete table.
func NewValidator(table map[domain.AccountType]RuleSet) *Validator {
	if table == nil {
		table = Defaults()
	}
	return &Validator{table: table}
}

// DailyLimit returns the per-day movement cap for an account type, in kobo.
func (v *Validator) DailyLimit(t domain.AccountType) int64 {
	return v.table[t].DailyLimit
}

// MinimumBalance returns the floor an account of the given type must retain
// after any debit, in kobo.
func (v *Validator) MinimumBalance(t domain.AccountType) int64 {
	return v.table[t].MinimumBalance
}

// Validate checks a proposed movement of `amount` of type `txType` against
// the account. For debit legs (withdrawals, and transfers evaluated against
// the source account) the post-debit balance must not fall below the type's
// minimum. The returned reason is empty when the movement is allowed.
func (v *Validator) Validate(acct *domain.Account, txType domain.TransactionType, amount int64) (bool, string) {
	if amount <= 0 {
		return false, "amount must be greater than zero"
	}

	rs := v.table[acct.Type]

	if isDebit(txType) {
		remaining := domain.SaturatingSub(acct.Balance, amount)
		if remaining < rs.MinimumBalance {
			return false, fmt.Sprintf(
				"debit of %s would leave balance below the %s minimum of %s",
				domain.FormatAmount(amount), acct.Type, domain.FormatAmount(rs.MinimumBalance),
			)
		}
	}

	if rs.DailyLimit > 0 && amount > rs.DailyLimit {
		return false, fmt.Sprintf(
			"amount %s exceeds the %s daily limit of %s",
			domain.FormatAmount(amount), acct.Type, domain.FormatAmount(rs.DailyLimit),
		)
	}

	if txType == domain.TransactionTypeTransfer && rs.SingleTransferCap > 0 && amount > rs.SingleTransferCap {
		return false, fmt.Sprintf(
			"single transfer of %s exceeds the %s per-transfer cap of %s",
			domain.FormatAmount(amount), acct.Type, domain.FormatAmount(rs.SingleTransferCap),
		)
	}

	return true, ""
}

// ValidateDebit evaluates the account as the debited leg of the movement.
// Deposits funded from a linked account use this to check the source account
// with debit semantics even though the transaction type is "deposit".
func (v *Validator) ValidateDebit(acct *domain.Account, amount int64) (bool, string) {
	return v.Validate(acct, domain.TransactionTypeWithdrawal, amount)
}

func isDebit(t domain.TransactionType) bool {
	return t == domain.TransactionTypeWithdrawal || t == domain.TransactionTypeTransfer
}
