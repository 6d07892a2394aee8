package auth

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and checks local account passwords.
type PasswordHasher interface {
	Hash(plain []byte) (string, error)
	Matches(plain []byte, digest string) bool
}

// BcryptHasher is the only accepted PasswordHasher for local credentials.
type BcryptHasher struct{}

var _ PasswordHasher = BcryptHasher{}

// Hash hashes plaintext password using bcrypt.
func (BcryptHasher) Hash(plain []byte) (string, error) {
	if len(plain) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword(plain, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Matches compares plaintext password with stored hash.
func (BcryptHasher) Matches(plain []byte, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), plain) == nil
}

var (
	dummyOnce   sync.Once
	dummyDigest string
)

// dummyHash is compared against when the username is unknown so both failure
// paths cost one bcrypt comparison.
func dummyHash() string {
	dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("helix-placeholder-password"), bcrypt.DefaultCost)
		if err == nil {
			dummyDigest = string(h)
		}
	})
	return dummyDigest
}
