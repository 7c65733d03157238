/**
 * @description
 * The approval policy: a pure decision on whether a validated transaction
 * completes synchronously or queues for a human approver. Approval gating is
 * orthogonal to business-rule validation and runs only after the validator
 * has allowed the movement.
 *
 * Withdrawals never queue for approval regardless of amount. That asymmetry
 * is inherited from the product rules (withdrawals are self-limited by the
 * account's own balance) and is a policy decision, not an invariant.
 */

package approval

import "github.com/harborbank/transaction-service/internal/domain"

// Level is the approver role a pending transaction routes to. It is
// informational for routing; it does not affect movement correctness.
type Level string

const (
	LevelTeller  Level = "teller"
	LevelManager Level = "manager"
)

// Policy decides approval gating from two configured thresholds, in kobo.
type Policy struct {
	highValueThreshold int64
	managerThreshold   int64
}

// NewPolicy builds an approval policy. Movements of highValueThreshold kobo
// or more queue for approval; those of managerThreshold or more route to a
// manager rather than a teller.
func NewPolicy(highValueThreshold, managerThreshold int64) *Policy {
	return &Policy{
		highValueThreshold: highValueThreshold,
		managerThreshold:   managerThreshold,
	}
}

// RequiresApproval reports whether the movement must wait for a human
// decision before any balance mutation.
func (p *Policy) RequiresApproval(txType domain.TransactionType, amount int64) bool {
	if txType == domain.TransactionTypeWithdrawal {
		return false
	}
	return amount >= p.highValueThreshold
}

// RequiredLevel classifies which approver role the amount routes to.
func (p *Policy) RequiredLevel(amount int64) Level {
	if amount >= p.managerThreshold {
		return LevelManager
	}
	return LevelTeller
}
