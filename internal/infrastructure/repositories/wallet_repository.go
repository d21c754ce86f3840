package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/infrastructure/database"
)

const walletColumns = `id, user_id, derivation_index, address, encrypted_private_key,
		key_iv, key_auth_tag, is_active, created_at, deactivated_at`

// WalletRepository persists custodial wallets in PostgreSQL
type WalletRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *sqlx.DB, logger *zap.Logger) *WalletRepository {
	return &WalletRepository{
		db:     db,
		logger: logger,
	}
}

// NextDerivationIndex returns max(derivation_index)+1 over every wallet ever created, or 0.
func (r *WalletRepository) NextDerivationIndex(ctx context.Context) (int64, error) {
	var next int64
	err := r.db.GetContext(ctx, &next, `SELECT COALESCE(MAX(derivation_index) + 1, 0) FROM custodial_wallets`)
	if err != nil {
		return 0, fmt.Errorf("failed to get next derivation index: %w", err)
	}
	return next, nil
}

// CreateActive inserts wallet as the user's first active wallet. An existing
// active wallet is a conflict on "wallet"; a taken derivation index is a
// conflict on "derivation_index".
func (r *WalletRepository) CreateActive(ctx context.Context, wallet *entities.CustodialWallet) error {
	return r.insertActive(ctx, wallet, false, 0)
}

// ReplaceActive inserts wallet as the user's active wallet and deactivates the
// previous one in the same transaction. A previous wallet younger than minAge
// is a rate limit error; the age is checked under the per-user lock.
func (r *WalletRepository) ReplaceActive(ctx context.Context, wallet *entities.CustodialWallet, minAge time.Duration) error {
	return r.insertActive(ctx, wallet, true, minAge)
}

func (r *WalletRepository) insertActive(ctx context.Context, wallet *entities.CustodialWallet, replace bool, minAge time.Duration) error {
	err := database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		// serialize wallet changes per user
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, wallet.UserID.String()); err != nil {
			return fmt.Errorf("failed to lock user wallets: %w", err)
		}

		var active entities.CustodialWallet
		err := tx.GetContext(ctx, &active,
			`SELECT id, created_at FROM custodial_wallets WHERE user_id = $1 AND is_active FOR UPDATE`, wallet.UserID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to check active wallet: %w", err)
		case !replace:
			return domainerrors.ConflictError("wallet", "user already has an active wallet")
		case active.CooldownRemaining(time.Now(), minAge) > 0:
			return domainerrors.RateLimitError(1, minAge.String())
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE custodial_wallets SET is_active = FALSE, deactivated_at = $2 WHERE id = $1`,
				active.ID, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to deactivate wallet: %w", err)
			}
		}

		query := `
			INSERT INTO custodial_wallets (
				id, user_id, derivation_index, address, encrypted_private_key,
				key_iv, key_auth_tag, is_active, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, TRUE, $8
			)`
		_, err = tx.ExecContext(ctx, query,
			wallet.ID,
			wallet.UserID,
			wallet.DerivationIndex,
			wallet.Address,
			wallet.EncryptedPrivateKey,
			wallet.KeyIV,
			wallet.KeyAuthTag,
			wallet.CreatedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
				if pqErr.Constraint == "custodial_wallets_derivation_index_key" {
					return domainerrors.ConflictError("derivation_index", "derivation index already used")
				}
				return domainerrors.ConflictError("wallet", pqErr.Constraint)
			}
			return fmt.Errorf("failed to create wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		if !domainerrors.IsConflict(err) && !domainerrors.IsRateLimit(err) {
			r.logger.Error("Failed to create wallet", zap.Error(err), zap.String("user_id", wallet.UserID.String()))
		}
		return err
	}

	wallet.IsActive = true
	r.logger.Debug("Wallet created",
		zap.String("wallet_id", wallet.ID.String()),
		zap.Int64("derivation_index", wallet.DerivationIndex))
	return nil
}

// GetActiveByUser returns the user's active wallet.
func (r *WalletRepository) GetActiveByUser(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error) {
	query := `SELECT ` + walletColumns + ` FROM custodial_wallets WHERE user_id = $1 AND is_active`

	var wallet entities.CustodialWallet
	if err := r.db.GetContext(ctx, &wallet, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.WalletNotFoundError(userID.String())
		}
		return nil, fmt.Errorf("failed to get active wallet: %w", err)
	}
	return &wallet, nil
}

// GetByAddress returns the wallet owning address, active or not.
func (r *WalletRepository) GetByAddress(ctx context.Context, address string) (*entities.CustodialWallet, error) {
	query := `SELECT ` + walletColumns + ` FROM custodial_wallets WHERE LOWER(address) = LOWER($1)`

	var wallet entities.CustodialWallet
	if err := r.db.GetContext(ctx, &wallet, query, address); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainerrors.UnknownAddressError(address)
		}
		return nil, fmt.Errorf("failed to get wallet by address: %w", err)
	}
	return &wallet, nil
}
