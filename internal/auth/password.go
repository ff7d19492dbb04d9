package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"trustcore.org/internal/crypto"
)

const (
	argonPrefix    = "argon2id"
	hashIterations = 3
	hashSaltBytes  = 16
	minPasswordLen = 8
)

// HashPassword derives an argon2id hash in the self-describing
// "argon2id$iterations$salt$key" format.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", fmt.Errorf("auth: password shorter than %d characters", minPasswordLen)
	}
	salt, err := crypto.RandomBytes(hashSaltBytes)
	if err != nil {
		return "", err
	}
	key, err := crypto.DeriveKey([]byte(password), salt, hashIterations)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		argonPrefix,
		strconv.FormatUint(hashIterations, 10),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$"), nil
}

// VerifyPassword checks plaintext against a stored hash. Legacy bcrypt
// hashes remain verifiable so existing accounts keep working.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("auth: password hash is empty")
	}
	if strings.HasPrefix(hash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 4 || parts[0] != argonPrefix {
		return errors.New("auth: unrecognized password hash format")
	}
	iterations, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return errors.New("auth: malformed password hash")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return errors.New("auth: malformed password hash")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return errors.New("auth: malformed password hash")
	}
	got, err := crypto.DeriveKey([]byte(password), salt, uint32(iterations))
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return errors.New("auth: password mismatch")
	}
	return nil
}
