/**
 * @description
 * This file defines the `Repository` interface, the contract for all mirror
 * store access required by the vault-mirror-service. The reconciliation
 * engine and the balance query service depend on this interface rather than
 * on PostgreSQL directly, so tests can substitute an in-memory mirror.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/solcustody/vault-mirror-service/internal/domain"
)

// Repository defines the set of methods for interacting with the mirror store.
type Repository interface {
	// GetVaultByOwner returns the mirrored vault for an owner pubkey, or
	// ErrVaultNotFound.
	GetVaultByOwner(ctx context.Context, owner string) (*domain.Vault, error)

	// CreateVault inserts a freshly initialized vault row. Returns
	// ErrVaultExists when a vault for the owner is already mirrored, so
	// redelivered initialize notifications stay benign.
	CreateVault(ctx context.Context, vault *domain.Vault) error

	// HistoryExists reports whether a history record with the given
	// on-chain signature has already been applied.
	HistoryExists(ctx context.Context, signature string) (bool, error)

	// ApplyVaultTransition runs one balance transition as a single atomic
	// unit: it locks the owner's vault row (per-owner critical section),
	// appends the history record, runs the mutation, and persists the new
	// balances, all committed or rolled back together.
	//
	// Returns ErrVaultNotFound when no vault is mirrored for the owner
	// (the initialize event has not been processed yet; retriable), and
	// ErrDuplicateTransaction when the signature was already recorded
	// (benign redelivery). Errors returned by mutate roll everything back
	// and are passed through unchanged.
	ApplyVaultTransition(ctx context.Context, owner string, record *domain.VaultTransaction, mutate func(*domain.Vault) error) error
}
