/**
 * @description
 * This file contains the core business logic for the vault-mirror-service.
 * The `Service` struct is the reconciliation engine: it consumes decoded
 * transition events, applies them to the mirrored vault exactly once, and
 * serves read-only balance lookups.
 *
 * Key features:
 * - Idempotent application: redelivered notifications (same on-chain
 *   signature) and redelivered initializes are benign no-ops.
 * - Out-of-order tolerance: a balance transition arriving before its vault's
 *   initialize surfaces store.ErrVaultNotFound, which callers treat as
 *   retriable and requeue instead of discarding.
 * - Atomicity: the balance update and the history record are committed in
 *   one unit by the repository; the state machine itself is pure computation.
 *
 * @dependencies
 * - context, errors, fmt, log: Standard Go libraries.
 * - github.com/google/uuid: For history record ids.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/solcustody/vault-mirror-service/internal/domain"
	"github.com/solcustody/vault-mirror-service/internal/store"
)

// Service provides the reconciliation and balance query logic.
type Service struct {
	repo store.Repository
}

// NewService creates a new mirror service instance.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// ApplyEvent reconciles one decoded transition event into the mirror store.
// A nil return means the mirror reflects the event (including the benign
// duplicate cases). store.ErrVaultNotFound is returned unwrapped for
// non-initialize events so callers can schedule a retry.
func (s *Service) ApplyEvent(ctx context.Context, event *domain.TransitionEvent) error {
	if event.Type == domain.TransitionInitialize {
		return s.applyInitialize(ctx, event)
	}

	// Fast path: skip the row lock entirely for signatures we have already
	// applied. The repository re-checks under the lock, so this is purely an
	// optimization for chatty relays.
	applied, err := s.repo.HistoryExists(ctx, event.Signature)
	if err != nil {
		return fmt.Errorf("idempotency check for %s: %w", event.Signature, err)
	}
	if applied {
		log.Printf("level=info component=reconciler outcome=duplicate signature=%s type=%s", event.Signature, event.Type)
		return nil
	}

	record := &domain.VaultTransaction{
		ID:        uuid.New(),
		Signature: event.Signature,
		Type:      event.Type,
		Amount:    event.Amount,
	}

	err = s.repo.ApplyVaultTransition(ctx, event.Owner, record, func(vault *domain.Vault) error {
		if err := vault.Apply(event.Type, event.Amount); err != nil {
			return err
		}
		if event.NewTotalBalance != nil && vault.TotalBalance != *event.NewTotalBalance {
			// The program reported a different total than the mirror derives.
			// Mirror state stays authoritative for queries; the divergence is
			// an operator signal, not a reason to reject the deposit.
			log.Printf("level=error component=reconciler outcome=drift owner=%s signature=%s mirrored_total=%d reported_total=%d",
				event.Owner, event.Signature, vault.TotalBalance, *event.NewTotalBalance)
		}
		return nil
	})

	switch {
	case err == nil:
		log.Printf("level=info component=reconciler outcome=applied owner=%s signature=%s type=%s amount=%d",
			event.Owner, event.Signature, event.Type, event.Amount)
		return nil
	case errors.Is(err, store.ErrDuplicateTransaction):
		log.Printf("level=info component=reconciler outcome=duplicate owner=%s signature=%s type=%s",
			event.Owner, event.Signature, event.Type)
		return nil
	case errors.Is(err, store.ErrVaultNotFound):
		// Initialize for this owner has not been mirrored yet; retriable.
		return err
	default:
		return err
	}
}

func (s *Service) applyInitialize(ctx context.Context, event *domain.TransitionEvent) error {
	vault := domain.NewVault(event.Owner, event.VaultAddress, event.TokenAccountAddress, event.TradingAuthority)
	err := s.repo.CreateVault(ctx, vault)
	if errors.Is(err, store.ErrVaultExists) {
		log.Printf("level=info component=reconciler outcome=duplicate_initialize owner=%s signature=%s", event.Owner, event.Signature)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create vault for %s: %w", event.Owner, err)
	}
	log.Printf("level=info component=reconciler outcome=initialized owner=%s vault=%s signature=%s",
		event.Owner, event.VaultAddress, event.Signature)
	return nil
}

// GetVault returns the mirrored vault for an owner. The result reflects the
// latest committed mirror state, which may lag the chain by the pipeline's
// propagation delay.
func (s *Service) GetVault(ctx context.Context, owner string) (*domain.Vault, error) {
	return s.repo.GetVaultByOwner(ctx, owner)
}

// IsAnomaly reports whether a reconcile error is a state-invariant violation:
// the authoritative program should have rejected the transition, so the event
// is dropped and surfaced for operator attention rather than retried.
func IsAnomaly(err error) bool {
	return errors.Is(err, domain.ErrInsufficientAvailableBalance) ||
		errors.Is(err, domain.ErrInsufficientLockedBalance) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrArithmeticOverflow)
}

// IsRetriable reports whether a reconcile error should be requeued: the only
// such condition is a transition observed before its vault's initialize.
func IsRetriable(err error) bool {
	return errors.Is(err, store.ErrVaultNotFound)
}
