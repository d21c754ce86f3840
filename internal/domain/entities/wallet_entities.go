package entities

import (
	"time"

	"github.com/google/uuid"
)

// CustodialWallet is a user's deposit address derived from the master key.
// Only one wallet per user is active; regenerated wallets are deactivated, never deleted.
type CustodialWallet struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	UserID              uuid.UUID  `json:"userId" db:"user_id"`
	DerivationIndex     int64      `json:"derivationIndex" db:"derivation_index"`
	Address             string     `json:"address" db:"address"`
	EncryptedPrivateKey string     `json:"-" db:"encrypted_private_key"` // Never expose in JSON
	KeyIV               string     `json:"-" db:"key_iv"`
	KeyAuthTag          string     `json:"-" db:"key_auth_tag"`
	IsActive            bool       `json:"isActive" db:"is_active"`
	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
	DeactivatedAt       *time.Time `json:"deactivatedAt,omitempty" db:"deactivated_at"`
}

// SealedKey is encrypted private key material as stored alongside a wallet.
type SealedKey struct {
	Ciphertext string
	IV         string
	AuthTag    string
}

// Sealed returns the wallet's stored key material.
func (w *CustodialWallet) Sealed() SealedKey {
	return SealedKey{
		Ciphertext: w.EncryptedPrivateKey,
		IV:         w.KeyIV,
		AuthTag:    w.KeyAuthTag,
	}
}

// CooldownRemaining is how long until the wallet is old enough to be
// replaced under cooldown, zero when it already is.
func (w *CustodialWallet) CooldownRemaining(now time.Time, cooldown time.Duration) time.Duration {
	if remaining := cooldown - now.Sub(w.CreatedAt); remaining > 0 {
		return remaining
	}
	return 0
}

// WalletResponse is the public view of a custodial wallet.
type WalletResponse struct {
	Address         string    `json:"address"`
	DerivationIndex int64     `json:"derivationIndex"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ToResponse converts a wallet to its public view.
func (w *CustodialWallet) ToResponse() *WalletResponse {
	return &WalletResponse{
		Address:         w.Address,
		DerivationIndex: w.DerivationIndex,
		CreatedAt:       w.CreatedAt,
	}
}
