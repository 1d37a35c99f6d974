package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 600_000
	saltBytes        = 16
	keyBytes         = 32

	// MinPasswordLength is the minimum accepted password length.
	MinPasswordLength = 8
)

// ErrPasswordTooShort is returned by ValidatePassword.
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// ValidatePassword applies the password policy for registration.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

// HashPassword derives a PBKDF2-SHA256 hash encoded as
// "pbkdf2-sha256$iterations$salt$hash" with hex salt and hash.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyBytes, sha256.New)
	return fmt.Sprintf("pbkdf2-sha256$%d$%s$%s",
		pbkdf2Iterations,
		hex.EncodeToString(salt),
		hex.EncodeToString(key),
	), nil
}

// CheckPassword verifies a password against a stored hash in constant time.
// Malformed stored values verify as false rather than erroring, so a
// corrupted row behaves like a wrong password.
func CheckPassword(password, stored string) bool {
	iterations, salt, want, err := parseStoredHash(stored)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func parseStoredHash(stored string) (int, []byte, []byte, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != "pbkdf2-sha256" {
		return 0, nil, nil, errors.New("unrecognized hash format")
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, errors.New("invalid iteration count")
	}
	salt, err := hex.DecodeString(parts[2])
	if err != nil {
		return 0, nil, nil, errors.New("invalid salt encoding")
	}
	key, err := hex.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, errors.New("invalid hash encoding")
	}
	return iterations, salt, key, nil
}
