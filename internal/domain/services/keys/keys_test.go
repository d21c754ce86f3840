package keys

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/rail-service/custody_service/internal/domain/entities"
	domainerrors "github.com/rail-service/custody_service/internal/domain/errors"
	"github.com/rail-service/custody_service/internal/infrastructure/config"
	pkgcrypto "github.com/rail-service/custody_service/pkg/crypto"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testMaster(t *testing.T) *bip32.Key {
	t.Helper()
	master, err := bip32.NewMasterKey(bip39.NewSeed(testMnemonic, ""))
	require.NoError(t, err)
	return master
}

func testDeriver(t *testing.T) *Deriver {
	t.Helper()
	d, err := NewDeriver(testMaster(t), nil)
	require.NoError(t, err)
	return d
}

func TestDeriveWallet_UniqueAndDeterministic(t *testing.T) {
	d := testDeriver(t)

	seen := make(map[string]uint32)
	for i := uint32(0); i < 25; i++ {
		k, err := d.DeriveWallet(i)
		require.NoError(t, err)
		prev, dup := seen[k.Address.Hex()]
		assert.False(t, dup, "index %d collides with %d", i, prev)
		seen[k.Address.Hex()] = i

		again, err := d.DeriveWallet(i)
		require.NoError(t, err)
		assert.Equal(t, k.Address, again.Address)
		assert.Equal(t, crypto.FromECDSA(k.PrivateKey), crypto.FromECDSA(again.PrivateKey))
	}
}

func TestDeriveWallet_PublicMatchesPrivate(t *testing.T) {
	d := testDeriver(t)

	for _, i := range []uint32{0, 1, 7, 1 << 20} {
		k, err := d.DeriveWallet(i)
		require.NoError(t, err)
		addr, err := d.DeriveAddress(i)
		require.NoError(t, err)
		assert.Equal(t, k.Address, addr)
	}
}

func TestDeriveWallet_RejectsHardenedIndex(t *testing.T) {
	d := testDeriver(t)

	_, err := d.DeriveWallet(bip32.FirstHardenedChild)
	require.Error(t, err)
	assert.True(t, domainerrors.IsInvalidInput(err))
}

func TestVerifyOwnership(t *testing.T) {
	d := testDeriver(t)
	k, err := d.DeriveWallet(3)
	require.NoError(t, err)

	ok, err := d.VerifyOwnership(3, strings.ToLower(k.Address.Hex()))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.VerifyOwnership(4, k.Address.Hex())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.VerifyOwnership(-1, k.Address.Hex())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.VerifyOwnership(3, "not-an-address")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMasterSigner(t *testing.T) {
	master := testMaster(t)
	d, err := NewDeriver(master, nil)
	require.NoError(t, err)

	assert.Equal(t, master.Key, crypto.FromECDSA(d.MasterSigner()))
	assert.Equal(t, crypto.PubkeyToAddress(d.MasterSigner().PublicKey), d.MasterAddress())
}

func TestNewDeriver_MismatchedXPub(t *testing.T) {
	other, err := bip32.NewMasterKey(bip39.NewSeed(testMnemonic, "other"))
	require.NoError(t, err)

	_, err = NewDeriver(testMaster(t), other.PublicKey())
	require.Error(t, err)
	assert.True(t, domainerrors.IsConfiguration(err))
}

func TestLoadDeriver(t *testing.T) {
	master := testMaster(t)
	xprv, err := pkgcrypto.SealEnvelope([]byte(master.B58Serialize()), "passphrase")
	require.NoError(t, err)
	xpub, err := pkgcrypto.SealEnvelope([]byte(master.PublicKey().B58Serialize()), "passphrase")
	require.NoError(t, err)

	cfg := config.CustodyConfig{MasterPassphrase: "passphrase", XPrivEnvelope: xprv, XPubEnvelope: xpub}
	d, err := LoadDeriver(cfg)
	require.NoError(t, err)

	want, err := testDeriver(t).DeriveWallet(0)
	require.NoError(t, err)
	got, err := d.DeriveWallet(0)
	require.NoError(t, err)
	assert.Equal(t, want.Address, got.Address)

	cfg.MasterPassphrase = "wrong"
	_, err = LoadDeriver(cfg)
	require.Error(t, err)
	assert.True(t, domainerrors.IsDecryption(err))
}

func TestSealer_RoundTrip(t *testing.T) {
	d := testDeriver(t)
	s := NewSealer("wallet-secret")

	for i := uint32(0); i < 5; i++ {
		k, err := d.DeriveWallet(i)
		require.NoError(t, err)

		sealed, err := s.Encrypt(k.PrivateKey)
		require.NoError(t, err)
		assert.NotContains(t, sealed.Ciphertext, hex.EncodeToString(crypto.FromECDSA(k.PrivateKey)))

		opened, err := s.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, crypto.FromECDSA(k.PrivateKey), crypto.FromECDSA(opened))
	}
}

func TestSealer_FreshIVPerCall(t *testing.T) {
	k, err := testDeriver(t).DeriveWallet(0)
	require.NoError(t, err)
	s := NewSealer("wallet-secret")

	a, err := s.Encrypt(k.PrivateKey)
	require.NoError(t, err)
	b, err := s.Encrypt(k.PrivateKey)
	require.NoError(t, err)
	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

// flipHex flips the low bit of the first byte of a hex string.
func flipHex(t *testing.T, s string) string {
	t.Helper()
	raw, err := hex.DecodeString(s)
	require.NoError(t, err)
	raw[0] ^= 0x01
	return hex.EncodeToString(raw)
}

func TestSealer_TamperIsDecryptionError(t *testing.T) {
	k, err := testDeriver(t).DeriveWallet(0)
	require.NoError(t, err)
	s := NewSealer("wallet-secret")
	sealed, err := s.Encrypt(k.PrivateKey)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(entities.SealedKey) entities.SealedKey
	}{
		{"ciphertext", func(sk entities.SealedKey) entities.SealedKey { sk.Ciphertext = flipHex(t, sk.Ciphertext); return sk }},
		{"iv", func(sk entities.SealedKey) entities.SealedKey { sk.IV = flipHex(t, sk.IV); return sk }},
		{"auth tag", func(sk entities.SealedKey) entities.SealedKey { sk.AuthTag = flipHex(t, sk.AuthTag); return sk }},
		{"bad hex", func(sk entities.SealedKey) entities.SealedKey { sk.IV = "zz"; return sk }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Decrypt(tt.mutate(sealed))
			require.Error(t, err)
			assert.True(t, domainerrors.IsDecryption(err))
		})
	}

	_, err = NewSealer("another-secret").Decrypt(sealed)
	assert.True(t, domainerrors.IsDecryption(err))
}

func TestSealer_DecryptWalletChecksAddress(t *testing.T) {
	d := testDeriver(t)
	s := NewSealer("wallet-secret")
	k0, err := d.DeriveWallet(0)
	require.NoError(t, err)
	k1, err := d.DeriveWallet(1)
	require.NoError(t, err)

	sealed, err := s.Encrypt(k0.PrivateKey)
	require.NoError(t, err)

	wallet := &entities.CustodialWallet{
		Address:             k0.Address.Hex(),
		EncryptedPrivateKey: sealed.Ciphertext,
		KeyIV:               sealed.IV,
		KeyAuthTag:          sealed.AuthTag,
	}
	priv, err := s.DecryptWallet(wallet)
	require.NoError(t, err)
	assert.Equal(t, k0.Address, crypto.PubkeyToAddress(priv.PublicKey))

	wallet.Address = k1.Address.Hex()
	_, err = s.DecryptWallet(wallet)
	assert.True(t, domainerrors.IsDecryption(err))
}
