/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL needed to maintain the mirrored `vaults`
 * projection and the append-only `vault_transactions` history.
 *
 * Expected schema:
 *
 *   CREATE TABLE vaults (
 *       owner_pubkey      TEXT PRIMARY KEY,
 *       vault_pda         TEXT NOT NULL UNIQUE,
 *       token_account_pda TEXT NOT NULL,
 *       trading_authority TEXT NOT NULL,
 *       total_balance     NUMERIC(20,0) NOT NULL DEFAULT 0,
 *       available_balance NUMERIC(20,0) NOT NULL DEFAULT 0,
 *       locked_balance    NUMERIC(20,0) NOT NULL DEFAULT 0,
 *       created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
 *       updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
 *   );
 *
 *   CREATE TABLE vault_transactions (
 *       id               UUID PRIMARY KEY,
 *       vault_pda        TEXT NOT NULL REFERENCES vaults (vault_pda),
 *       signature        TEXT NOT NULL UNIQUE,
 *       transaction_type TEXT NOT NULL,
 *       amount           NUMERIC(20,0) NOT NULL,
 *       created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
 *   );
 *
 * @notes
 * - Balances are NUMERIC(20,0) because u64 values exceed BIGINT's range.
 *   They cross the driver boundary as text and are parsed into uint64, so no
 *   value is ever coerced through a float.
 * - The UNIQUE constraint on vault_transactions.signature is the idempotency
 *   backstop: ApplyVaultTransition inserts the history record with
 *   ON CONFLICT DO NOTHING inside the same transaction that updates the
 *   balances, which makes redelivered notifications exactly-once effective.
 *
 * @dependencies
 * - context, errors, strconv: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solcustody/vault-mirror-service/internal/domain"
)

var (
	ErrVaultNotFound        = errors.New("vault not found")
	ErrVaultExists          = errors.New("vault already exists")
	ErrDuplicateTransaction = errors.New("transaction signature already recorded")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const vaultColumns = `owner_pubkey, vault_pda, token_account_pda, trading_authority,
	total_balance::text, available_balance::text, locked_balance::text, created_at, updated_at`

// GetVaultByOwner retrieves a mirrored vault by its owner pubkey.
func (r *PostgresRepository) GetVaultByOwner(ctx context.Context, owner string) (*domain.Vault, error) {
	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE owner_pubkey = $1`
	vault, err := scanVault(r.db.QueryRow(ctx, query, owner))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrVaultNotFound
		}
		return nil, err
	}
	return vault, nil
}

// CreateVault inserts a new vault row with zero balances.
func (r *PostgresRepository) CreateVault(ctx context.Context, vault *domain.Vault) error {
	query := `
		INSERT INTO vaults (owner_pubkey, vault_pda, token_account_pda, trading_authority, total_balance, available_balance, locked_balance)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_pubkey) DO NOTHING
	`
	result, err := r.db.Exec(ctx, query,
		vault.Owner,
		vault.VaultAddress,
		vault.TokenAccountAddress,
		vault.TradingAuthority,
		formatBalance(vault.TotalBalance),
		formatBalance(vault.AvailableBalance),
		formatBalance(vault.LockedBalance),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrVaultExists
	}
	return nil
}

// HistoryExists reports whether a transaction signature has been recorded.
func (r *PostgresRepository) HistoryExists(ctx context.Context, signature string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM vault_transactions WHERE signature = $1)`, signature).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ApplyVaultTransition applies one balance transition and its history record
// in a single database transaction. The SELECT ... FOR UPDATE serializes
// concurrent transitions for the same owner; transitions for different owners
// proceed in parallel on separate rows.
func (r *PostgresRepository) ApplyVaultTransition(ctx context.Context, owner string, record *domain.VaultTransaction, mutate func(*domain.Vault) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + vaultColumns + ` FROM vaults WHERE owner_pubkey = $1 FOR UPDATE`
	vault, err := scanVault(tx.QueryRow(ctx, query, owner))
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrVaultNotFound
		}
		return err
	}

	// Idempotency barrier: the unique signature index decides, under the row
	// lock, whether this delivery is the first one.
	record.VaultAddress = vault.VaultAddress
	insert := `
		INSERT INTO vault_transactions (id, vault_pda, signature, transaction_type, amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (signature) DO NOTHING
	`
	result, err := tx.Exec(ctx, insert,
		record.ID,
		record.VaultAddress,
		record.Signature,
		string(record.Type),
		formatBalance(record.Amount),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDuplicateTransaction
	}

	if err := mutate(vault); err != nil {
		return err
	}

	update := `
		UPDATE vaults
		SET total_balance = $1, available_balance = $2, locked_balance = $3, updated_at = NOW()
		WHERE owner_pubkey = $4
	`
	if _, err := tx.Exec(ctx, update,
		formatBalance(vault.TotalBalance),
		formatBalance(vault.AvailableBalance),
		formatBalance(vault.LockedBalance),
		owner,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func scanVault(row pgx.Row) (*domain.Vault, error) {
	var vault domain.Vault
	var total, available, locked string
	err := row.Scan(
		&vault.Owner,
		&vault.VaultAddress,
		&vault.TokenAccountAddress,
		&vault.TradingAuthority,
		&total,
		&available,
		&locked,
		&vault.CreatedAt,
		&vault.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if vault.TotalBalance, err = parseBalance(total); err != nil {
		return nil, err
	}
	if vault.AvailableBalance, err = parseBalance(available); err != nil {
		return nil, err
	}
	if vault.LockedBalance, err = parseBalance(locked); err != nil {
		return nil, err
	}
	return &vault, nil
}

func formatBalance(value uint64) string {
	return strconv.FormatUint(value, 10)
}

func parseBalance(value string) (uint64, error) {
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stored balance %q is not a valid u64: %w", value, err)
	}
	return parsed, nil
}
