package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	pkgcrypto "github.com/rail-service/custody_service/pkg/crypto"
)

// Sealer encrypts wallet private keys at rest with AES-256-GCM.
type Sealer struct {
	key []byte
}

// NewSealer derives the at-rest key from the configured wallet secret.
func NewSealer(secret string) *Sealer {
	return &Sealer{key: pkgcrypto.KeyFromSecret(secret)}
}

// Encrypt seals the 0x-prefixed hex form of privateKey with a fresh IV.
func (s *Sealer) Encrypt(privateKey *ecdsa.PrivateKey) (entities.SealedKey, error) {
	if privateKey == nil {
		return entities.SealedKey{}, fmt.Errorf("private key is required")
	}

	box, err := pkgcrypto.Seal([]byte(hexutil.Encode(crypto.FromECDSA(privateKey))), s.key)
	if err != nil {
		return entities.SealedKey{}, fmt.Errorf("failed to seal private key: %w", err)
	}

	return entities.SealedKey{
		Ciphertext: hex.EncodeToString(box.Ciphertext),
		IV:         hex.EncodeToString(box.IV),
		AuthTag:    hex.EncodeToString(box.AuthTag),
	}, nil
}

// Decrypt opens stored key material. Any tampering or encoding fault is a DecryptionError.
func (s *Sealer) Decrypt(sealed entities.SealedKey) (*ecdsa.PrivateKey, error) {
	var (
		box pkgcrypto.SealedBox
		err error
	)
	if box.Ciphertext, err = hex.DecodeString(sealed.Ciphertext); err != nil {
		return nil, domainerrors.DecryptionError("")
	}
	if box.IV, err = hex.DecodeString(sealed.IV); err != nil {
		return nil, domainerrors.DecryptionError("")
	}
	if box.AuthTag, err = hex.DecodeString(sealed.AuthTag); err != nil {
		return nil, domainerrors.DecryptionError("")
	}

	plaintext, err := pkgcrypto.Open(&box, s.key)
	if err != nil {
		return nil, domainerrors.DecryptionError("")
	}

	raw, err := hexutil.Decode(string(plaintext))
	if err != nil {
		return nil, domainerrors.DecryptionError("")
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, domainerrors.DecryptionError("")
	}
	return priv, nil
}

// DecryptWallet opens a wallet's key and checks it signs for the wallet's address.
func (s *Sealer) DecryptWallet(wallet *entities.CustodialWallet) (*ecdsa.PrivateKey, error) {
	priv, err := s.Decrypt(wallet.Sealed())
	if err != nil {
		return nil, domainerrors.DecryptionError(wallet.Address)
	}
	if !strings.EqualFold(crypto.PubkeyToAddress(priv.PublicKey).Hex(), wallet.Address) {
		return nil, domainerrors.DecryptionError(wallet.Address)
	}
	return priv, nil
}
