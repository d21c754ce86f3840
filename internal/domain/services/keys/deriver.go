package keys

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"

	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/infrastructure/config"
	pkgcrypto "github.com/rail-service/custody_service/pkg/crypto"
)

// DerivedKey is the signing key and address at one derivation index.
type DerivedKey struct {
	Index      uint32
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Deriver derives per-user wallets from the master extended key.
// It is safe for concurrent use; the underlying keys are never mutated.
type Deriver struct {
	master *bip32.Key
	public *bip32.Key
	signer *ecdsa.PrivateKey
}

// LoadMasterKey opens a passphrase envelope holding a base58 extended key.
func LoadMasterKey(envelope, passphrase string) (*bip32.Key, error) {
	raw, err := pkgcrypto.OpenEnvelope(envelope, passphrase)
	if err != nil {
		return nil, domainerrors.DecryptionError("master")
	}
	key, err := bip32.B58Deserialize(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, domainerrors.DecryptionError("master")
	}
	return key, nil
}

// LoadDeriver decrypts both master envelopes from the custody config.
// The xpub must be the public half of the xprv.
func LoadDeriver(cfg config.CustodyConfig) (*Deriver, error) {
	master, err := LoadMasterKey(cfg.XPrivEnvelope, cfg.MasterPassphrase)
	if err != nil {
		return nil, err
	}
	if !master.IsPrivate {
		return nil, domainerrors.ConfigurationError("custody.xpriv_envelope", "extended key is not private")
	}

	public, err := LoadMasterKey(cfg.XPubEnvelope, cfg.MasterPassphrase)
	if err != nil {
		return nil, err
	}

	return NewDeriver(master, public)
}

// NewDeriver builds a deriver from already decoded keys. A nil public key
// falls back to the public half of master.
func NewDeriver(master, public *bip32.Key) (*Deriver, error) {
	if master == nil || !master.IsPrivate {
		return nil, domainerrors.ConfigurationError("custody.xpriv_envelope", "extended private key is required")
	}
	if public == nil {
		public = master.PublicKey()
	}
	if public.IsPrivate {
		public = public.PublicKey()
	}
	if public.B58Serialize() != master.PublicKey().B58Serialize() {
		return nil, domainerrors.ConfigurationError("custody.xpub_envelope", "extended public key does not match the private key")
	}

	signer, err := crypto.ToECDSA(common.LeftPadBytes(master.Key, 32))
	if err != nil {
		return nil, domainerrors.ConfigurationError("custody.xpriv_envelope", "master key is not a valid secp256k1 key")
	}

	return &Deriver{master: master, public: public, signer: signer}, nil
}

// DeriveWallet derives the non-hardened child at index.
func (d *Deriver) DeriveWallet(index uint32) (*DerivedKey, error) {
	if index >= bip32.FirstHardenedChild {
		return nil, domainerrors.ValidationError("index", "derivation index must be below 2^31")
	}

	child, err := d.master.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("failed to derive child %d: %w", index, err)
	}
	// child keys with leading zero bytes come back short
	priv, err := crypto.ToECDSA(common.LeftPadBytes(child.Key, 32))
	if err != nil {
		return nil, fmt.Errorf("failed to convert child %d: %w", index, err)
	}

	return &DerivedKey{
		Index:      index,
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}, nil
}

// DeriveAddress derives only the address at index, from the extended public key.
func (d *Deriver) DeriveAddress(index uint32) (common.Address, error) {
	if index >= bip32.FirstHardenedChild {
		return common.Address{}, domainerrors.ValidationError("index", "derivation index must be below 2^31")
	}

	child, err := d.public.NewChildKey(index)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to derive public child %d: %w", index, err)
	}
	pub, err := crypto.DecompressPubkey(child.Key)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decompress public child %d: %w", index, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyOwnership reports whether address is the child at index of the custody xpub.
func (d *Deriver) VerifyOwnership(index int64, address string) (bool, error) {
	if index < 0 || index >= int64(bip32.FirstHardenedChild) {
		return false, nil
	}
	if !common.IsHexAddress(address) {
		return false, nil
	}
	derived, err := d.DeriveAddress(uint32(index))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(derived.Hex(), address), nil
}

// MasterSigner returns the funding key.
func (d *Deriver) MasterSigner() *ecdsa.PrivateKey {
	return d.signer
}

// MasterAddress returns the funding address.
func (d *Deriver) MasterAddress() common.Address {
	return crypto.PubkeyToAddress(d.signer.PublicKey)
}
