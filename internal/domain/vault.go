/**
 * @description
 * This file defines the core domain models for the vault-mirror-service: the
 * mirrored collateral vault and its transition state machine, plus the
 * append-only transaction history record.
 *
 * @notes
 * - Balances are `uint64` (the on-chain program stores u64 lamport-denominated
 *   token amounts). They are never represented as floating point, and all
 *   arithmetic is checked so an overflow can never be applied silently.
 * - Transition methods validate before mutating: a rejected transition leaves
 *   the vault untouched, so the total == available + locked invariant holds
 *   after every call regardless of outcome.
 */

package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Transition error taxonomy. Validation errors (ErrInvalidAmount) are
// permanent; the remaining ones indicate a divergence between the mirror and
// the on-chain program, which enforces the same rules before a transaction
// can ever land.
var (
	ErrInvalidAmount                = errors.New("invalid amount: must be greater than zero")
	ErrInsufficientAvailableBalance = errors.New("insufficient available balance")
	ErrInsufficientLockedBalance    = errors.New("insufficient locked balance")
	ErrArithmeticOverflow           = errors.New("balance arithmetic overflow")
)

// TransitionType identifies one of the vault program's balance transitions.
type TransitionType string

const (
	TransitionInitialize TransitionType = "initialize"
	TransitionDeposit    TransitionType = "deposit"
	TransitionWithdraw   TransitionType = "withdraw"
	TransitionLock       TransitionType = "lock"
	TransitionUnlock     TransitionType = "unlock"
)

// Vault is the mirrored state of one on-chain collateral vault.
// It maps directly to the `vaults` table.
type Vault struct {
	Owner               string    `json:"owner_pubkey"`
	VaultAddress        string    `json:"vault_pda"`
	TokenAccountAddress string    `json:"token_account_pda"`
	TradingAuthority    string    `json:"trading_authority"`
	TotalBalance        uint64    `json:"total_balance"`
	AvailableBalance    uint64    `json:"available_balance"`
	LockedBalance       uint64    `json:"locked_balance"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewVault creates a freshly initialized vault with all balances at zero.
func NewVault(owner, vaultAddress, tokenAccountAddress, tradingAuthority string) *Vault {
	return &Vault{
		Owner:               owner,
		VaultAddress:        vaultAddress,
		TokenAccountAddress: tokenAccountAddress,
		TradingAuthority:    tradingAuthority,
	}
}

// Deposit credits the available and total balances.
func (v *Vault) Deposit(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	total, ok := checkedAdd(v.TotalBalance, amount)
	if !ok {
		return ErrArithmeticOverflow
	}
	available, ok := checkedAdd(v.AvailableBalance, amount)
	if !ok {
		return ErrArithmeticOverflow
	}
	v.TotalBalance = total
	v.AvailableBalance = available
	return nil
}

// Withdraw debits the available and total balances.
func (v *Vault) Withdraw(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if amount > v.AvailableBalance {
		return ErrInsufficientAvailableBalance
	}
	v.AvailableBalance -= amount
	v.TotalBalance -= amount
	return nil
}

// Lock moves collateral from the available balance to the locked balance.
// The total balance is unchanged. Authorization (only the vault's trading
// authority may lock) is enforced by the on-chain program; the mirror trusts
// the decoded event.
func (v *Vault) Lock(amount uint64) error {
	if amount > v.AvailableBalance {
		return ErrInsufficientAvailableBalance
	}
	v.AvailableBalance -= amount
	v.LockedBalance += amount
	return nil
}

// Unlock releases locked collateral back to the available balance.
func (v *Vault) Unlock(amount uint64) error {
	if amount > v.LockedBalance {
		return ErrInsufficientLockedBalance
	}
	v.LockedBalance -= amount
	v.AvailableBalance += amount
	return nil
}

// Apply dispatches a non-initialize transition to the matching method.
func (v *Vault) Apply(transition TransitionType, amount uint64) error {
	switch transition {
	case TransitionDeposit:
		return v.Deposit(amount)
	case TransitionWithdraw:
		return v.Withdraw(amount)
	case TransitionLock:
		return v.Lock(amount)
	case TransitionUnlock:
		return v.Unlock(amount)
	default:
		return errors.New("unknown transition type: " + string(transition))
	}
}

// VaultTransaction is one append-only history record, keyed by the unique
// signature of the originating on-chain transaction. It maps directly to the
// `vault_transactions` table.
type VaultTransaction struct {
	ID           uuid.UUID      `json:"id"`
	VaultAddress string         `json:"vault_pda"`
	Signature    string         `json:"signature"`
	Type         TransitionType `json:"transaction_type"`
	Amount       uint64         `json:"amount"`
	CreatedAt    time.Time      `json:"created_at"`
}

func checkedAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}
