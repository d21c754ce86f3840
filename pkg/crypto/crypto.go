package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// IVSize is the GCM nonce length used for sealed boxes.
	IVSize  = 16
	tagSize = 16

	// scrypt parameters for passphrase envelopes. The fixed salt is only
	// acceptable because a single process-wide secret is sealed this way.
	scryptSalt   = "salt"
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// ErrAuthentication is returned when a sealed box fails GCM tag verification.
var ErrAuthentication = errors.New("message authentication failed")

// SealedBox is AES-256-GCM output with the nonce and tag kept apart from the ciphertext.
type SealedBox struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// Envelope is the JSON form of a SealedBox with base64 fields.
type Envelope struct {
	EncryptedData string `json:"encryptedData"`
	IV            string `json:"iv"`
	AuthTag       string `json:"authTag"`
}

// KeyFromSecret turns a configured secret into a 32 byte AES key.
// A 64 character hex secret is used as-is; anything else is hashed with SHA-256.
func KeyFromSecret(secret string) []byte {
	secret = strings.TrimSpace(secret)
	if len(secret) == 64 {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw
		}
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// KeyFromPassphrase stretches a passphrase with scrypt.
func KeyFromPassphrase(passphrase string) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), []byte(scryptSalt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext under key with a fresh random IV.
func Seal(plaintext, key []byte) (*SealedBox, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to create iv: %w", err)
	}

	out := gcm.Seal(nil, iv, plaintext, nil)
	split := len(out) - tagSize
	return &SealedBox{
		Ciphertext: out[:split],
		IV:         iv,
		AuthTag:    out[split:],
	}, nil
}

// Open verifies and decrypts a sealed box. Any tampering yields ErrAuthentication.
func Open(box *SealedBox, key []byte) ([]byte, error) {
	if box == nil || len(box.IV) != IVSize || len(box.AuthTag) != tagSize {
		return nil, ErrAuthentication
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(box.Ciphertext)+len(box.AuthTag))
	sealed = append(sealed, box.Ciphertext...)
	sealed = append(sealed, box.AuthTag...)

	plaintext, err := gcm.Open(nil, box.IV, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// SealEnvelope seals plaintext under a passphrase and returns the JSON envelope.
func SealEnvelope(plaintext []byte, passphrase string) (string, error) {
	key, err := KeyFromPassphrase(passphrase)
	if err != nil {
		return "", err
	}
	box, err := Seal(plaintext, key)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(Envelope{
		EncryptedData: base64.StdEncoding.EncodeToString(box.Ciphertext),
		IV:            base64.StdEncoding.EncodeToString(box.IV),
		AuthTag:       base64.StdEncoding.EncodeToString(box.AuthTag),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(raw), nil
}

// OpenEnvelope parses a JSON envelope and decrypts it with the passphrase.
func OpenEnvelope(envelope, passphrase string) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(envelope), &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}

	box := &SealedBox{}
	var err error
	if box.Ciphertext, err = base64.StdEncoding.DecodeString(env.EncryptedData); err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if box.IV, err = base64.StdEncoding.DecodeString(env.IV); err != nil {
		return nil, fmt.Errorf("failed to decode iv: %w", err)
	}
	if box.AuthTag, err = base64.StdEncoding.DecodeString(env.AuthTag); err != nil {
		return nil, fmt.Errorf("failed to decode auth tag: %w", err)
	}

	key, err := KeyFromPassphrase(passphrase)
	if err != nil {
		return nil, err
	}
	return Open(box, key)
}
