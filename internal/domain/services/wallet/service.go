package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/domain/services/keys"
)

// Service handles the custodial deposit wallet lifecycle of each user
type Service struct {
	walletRepo WalletRepository
	deriver    KeyDeriver
	sealer     KeySealer
	logger     *zap.Logger
	config     Config
}

// Config captures runtime configuration for the wallet service
type Config struct {
	// RegenCooldown is the minimum age of the active wallet before it can be replaced.
	RegenCooldown time.Duration
}

// Repository interfaces
type WalletRepository interface {
	NextDerivationIndex(ctx context.Context) (int64, error)
	CreateActive(ctx context.Context, wallet *entities.CustodialWallet) error
	ReplaceActive(ctx context.Context, wallet *entities.CustodialWallet, minAge time.Duration) error
	GetActiveByUser(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error)
}

// Key interfaces
type KeyDeriver interface {
	DeriveWallet(index uint32) (*keys.DerivedKey, error)
}

type KeySealer interface {
	Encrypt(privateKey *ecdsa.PrivateKey) (entities.SealedKey, error)
}

// NewService creates a new wallet service
func NewService(walletRepo WalletRepository, deriver KeyDeriver, sealer KeySealer, cfg Config, logger *zap.Logger) *Service {
	if cfg.RegenCooldown <= 0 {
		cfg.RegenCooldown = 10 * time.Second
	}
	return &Service{
		walletRepo: walletRepo,
		deriver:    deriver,
		sealer:     sealer,
		logger:     logger,
		config:     cfg,
	}
}

// GetOrCreate returns the user's active wallet, deriving one on first use.
func (s *Service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error) {
	wallet, err := s.walletRepo.GetActiveByUser(ctx, userID)
	if err == nil {
		return wallet, nil
	}
	if !domainerrors.IsWalletNotFound(err) {
		return nil, err
	}

	wallet, err = s.create(ctx, userID, false)
	if err != nil && conflictOn(err, "wallet") {
		// a concurrent request created it first
		return s.walletRepo.GetActiveByUser(ctx, userID)
	}
	return wallet, err
}

// Get returns the user's active wallet.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error) {
	return s.walletRepo.GetActiveByUser(ctx, userID)
}

// Regenerate replaces the user's active wallet with a freshly derived one. The
// previous wallet is deactivated, never deleted, and its index is never reused.
// The repository re-checks the cooldown under its per-user lock, so concurrent
// requests cannot both replace the same wallet.
func (s *Service) Regenerate(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error) {
	current, err := s.walletRepo.GetActiveByUser(ctx, userID)
	switch {
	case err == nil:
		if remaining := current.CooldownRemaining(time.Now(), s.config.RegenCooldown); remaining > 0 {
			return nil, s.refuseRegeneration(userID, remaining)
		}
	case domainerrors.IsWalletNotFound(err):
	default:
		return nil, err
	}

	wallet, err := s.create(ctx, userID, true)
	if domainerrors.IsRateLimit(err) {
		return nil, s.refuseRegeneration(userID, s.config.RegenCooldown)
	}
	return wallet, err
}

func (s *Service) refuseRegeneration(userID uuid.UUID, remaining time.Duration) error {
	s.logger.Info("Wallet regeneration refused during cooldown",
		zap.String("user_id", userID.String()),
		zap.Duration("remaining", remaining))
	return domainerrors.RateLimitError(1, s.config.RegenCooldown.String())
}

// create derives the next wallet and stores it as active. A derivation index
// taken by a concurrent creation is retried once with a fresh index.
func (s *Service) create(ctx context.Context, userID uuid.UUID, replace bool) (*entities.CustodialWallet, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		wallet, err := s.build(ctx, userID)
		if err != nil {
			return nil, err
		}

		if replace {
			err = s.walletRepo.ReplaceActive(ctx, wallet, s.config.RegenCooldown)
		} else {
			err = s.walletRepo.CreateActive(ctx, wallet)
		}
		if err == nil {
			s.logger.Info("Custodial wallet created",
				zap.String("user_id", userID.String()),
				zap.String("address", wallet.Address),
				zap.Int64("derivation_index", wallet.DerivationIndex),
				zap.Bool("regenerated", replace))
			return wallet, nil
		}
		if !conflictOn(err, "derivation_index") {
			return nil, err
		}
		s.logger.Warn("Derivation index taken, retrying",
			zap.String("user_id", userID.String()),
			zap.Int64("derivation_index", wallet.DerivationIndex))
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) build(ctx context.Context, userID uuid.UUID) (*entities.CustodialWallet, error) {
	index, err := s.walletRepo.NextDerivationIndex(ctx)
	if err != nil {
		return nil, err
	}
	if index < 0 || index > math.MaxInt32 {
		return nil, fmt.Errorf("derivation index %d out of range", index)
	}

	derived, err := s.deriver.DeriveWallet(uint32(index))
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Encrypt(derived.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal wallet key: %w", err)
	}

	return &entities.CustodialWallet{
		ID:                  uuid.New(),
		UserID:              userID,
		DerivationIndex:     index,
		Address:             derived.Address.Hex(),
		EncryptedPrivateKey: sealed.Ciphertext,
		KeyIV:               sealed.IV,
		KeyAuthTag:          sealed.AuthTag,
		IsActive:            true,
		CreatedAt:           time.Now().UTC(),
	}, nil
}

func conflictOn(err error, resource string) bool {
	if !domainerrors.IsConflict(err) {
		return false
	}
	r, _ := domainerrors.GetErrorDetails(err)["resource"].(string)
	return r == resource
}
