package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the bcrypt input limit. It counts bytes, not characters.
const MaxPasswordBytes = 72

var (
	ErrPasswordMismatch = errors.New("password does not match")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
)

// HashPassword returns a salted bcrypt hash of plain.
func HashPassword(plain string) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword reports ErrPasswordMismatch when plain does not produce hash.
func CheckPassword(hash, plain string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
