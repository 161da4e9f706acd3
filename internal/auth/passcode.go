package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidPasscode = errors.New("invalid passcode")
	ErrWeakPasscode    = errors.New("passcode must be at least 4 characters")
)

// minPasscodeLength is deliberately short. The passcode keeps casual eyes
// off a private ledger; the share token is the real capability.
const minPasscodeLength = 4

// HashPasscode validates and hashes a ledger passcode for storage.
func HashPasscode(passcode string) (string, error) {
	if len(passcode) < minPasscodeLength {
		return "", ErrWeakPasscode
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash passcode: %w", err)
	}
	return string(hash), nil
}

// CheckPasscode verifies a presented passcode against the stored hash.
// An empty hash means the ledger is public and any passcode passes.
func CheckPasscode(hash, passcode string) error {
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)); err != nil {
		return ErrInvalidPasscode
	}
	return nil
}
