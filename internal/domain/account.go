/**
 * @description
 * This file defines the account model consumed by the transaction engine. Account
 * records are owned by the account-service; this service only reads them and
 * mutates balances through the store's locked update paths.
 *
 * @notes
 * - Balances are stored as `int64` in the smallest currency unit (kobo), which
 *   avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountType classifies an account for business-rule purposes.
type AccountType string

const (
	AccountTypeMinor   AccountType = "minor"
	AccountTypeMajor   AccountType = "major"
	AccountTypeSavings AccountType = "savings"
	AccountTypeCurrent AccountType = "current"
)

// AccountStatus is the lifecycle state of an account. Only active accounts may
// participate in money movement.
type AccountStatus string

const (
	AccountStatusPending  AccountStatus = "pending"
	AccountStatusActive   AccountStatus = "active"
	AccountStatusVerified AccountStatus = "verified"
	AccountStatusDormant  AccountStatus = "dormant"
	AccountStatusClosed   AccountStatus = "closed"
	AccountStatusRejected AccountStatus = "rejected"
)

// Account maps to the `accounts` table. Number is the externally visible
// account number; ID is the internal key all balance mutations run against.
type Account struct {
	ID         uuid.UUID     `json:"id"`
	Number     string        `json:"account_number"`
	Type       AccountType   `json:"type"`
	Status     AccountStatus `json:"status"`
	Balance    int64         `json:"balance"` // in kobo
	OwnerID    uuid.UUID     `json:"owner_id"`
	OwnerEmail string        `json:"owner_email"`
	BranchID   uuid.UUID     `json:"branch_id"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// CanTransact reports whether the account is in a state that allows money
// movement. Verified accounts have passed KYC but are not yet activated, so
// they are excluded along with dormant and terminal states.
func (a *Account) CanTransact() bool {
	return a.Status == AccountStatusActive
}
