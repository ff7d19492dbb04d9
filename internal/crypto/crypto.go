// Package crypto provides the primitives the authentication and session
// layers depend on: secure randomness, password-based key derivation,
// authenticated encryption, digests and digital signatures.
//
// Every operation returns a typed error; none silently degrades to a weaker
// algorithm or returns unauthenticated plaintext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInsufficientEntropy  = errors.New("crypto: insufficient entropy")
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")
	ErrUnsupportedAlgorithm = errors.New("crypto: unsupported algorithm")
	ErrWeakParameters       = errors.New("crypto: parameters below safe floor")
	ErrInvalidKey           = errors.New("crypto: invalid key")
)

const (
	// minDeriveIterations is the floor for the argon2id time parameter.
	minDeriveIterations = 2
	// minSaltLength rejects salts too short to prevent precomputation.
	minSaltLength = 8
	// derivedKeyLength matches the AES-256 key size used by Encrypt.
	derivedKeyLength = 32

	argonMemory      = 64 * 1024
	argonParallelism = 1
)

// RandomBytes returns n cryptographically strong random bytes. It fails with
// ErrInsufficientEntropy when the platform generator is unavailable rather
// than falling back to a weak source.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: byte count must be positive", ErrWeakParameters)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientEntropy, err)
	}
	return buf, nil
}

// RandomToken returns a URL-safe token with n bytes of entropy. Session
// identifiers use n=32, which is well above the 128-bit minimum.
func RandomToken(n int) (string, error) {
	buf, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DeriveKey stretches a password into a 32-byte key using argon2id.
// The same password, salt and iteration count always yield the same key.
// Iterations below the safe floor are rejected, not silently raised.
func DeriveKey(password, salt []byte, iterations uint32) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: empty password", ErrWeakParameters)
	}
	if len(salt) < minSaltLength {
		return nil, fmt.Errorf("%w: salt shorter than %d bytes", ErrWeakParameters, minSaltLength)
	}
	if iterations < minDeriveIterations {
		return nil, fmt.Errorf("%w: iterations below %d", ErrWeakParameters, minDeriveIterations)
	}
	return argon2.IDKey(password, salt, iterations, argonMemory, argonParallelism, derivedKeyLength), nil
}

// SealedBox is the result of authenticated encryption: the GCM nonce plus the
// ciphertext with its authentication tag appended.
type SealedBox struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Encrypt seals plaintext with AES-256-GCM under the given 32-byte key.
func Encrypt(plaintext, key []byte) (SealedBox, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return SealedBox{}, err
	}
	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return SealedBox{}, err
	}
	return SealedBox{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Decrypt opens a SealedBox. A tampered ciphertext or wrong key fails with
// ErrAuthenticationFailed; garbage plaintext is never returned.
func Decrypt(box SealedBox, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(box.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", ErrAuthenticationFailed)
	}
	plaintext, err := aead.Open(nil, box.Nonce, box.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != derivedKeyLength {
		return nil, fmt.Errorf("%w: expected %d-byte key, got %d", ErrInvalidKey, derivedKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return aead, nil
}

// Hash computes a one-way digest. Intended for device fingerprints and
// integrity checks; password storage goes through DeriveKey.
func Hash(data []byte, algorithm string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "sha-256", "sha256":
		sum := sha256.Sum256(data)
		return sum[:], nil
	case "sha-512", "sha512":
		sum := sha512.Sum512(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// Fingerprint derives a stable hex identifier from client characteristics.
// Used for anomaly detection, never as an authentication factor.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// GenerateSigningKey produces an Ed25519 key pair for operations that need
// non-repudiation.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientEntropy, err)
	}
	return pub, priv, nil
}

// Sign returns an Ed25519 signature over data.
func Sign(data []byte, priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: bad private key size", ErrInvalidKey)
	}
	return ed25519.Sign(priv, data), nil
}

// Verify checks an Ed25519 signature and fails with ErrAuthenticationFailed
// on mismatch.
func Verify(data, signature []byte, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key size", ErrInvalidKey)
	}
	if !ed25519.Verify(pub, data, signature) {
		return ErrAuthenticationFailed
	}
	return nil
}
