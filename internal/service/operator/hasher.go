package operator

import (
	"crypto/sha256"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt key hasher
// Key is prehashed with sha256 so keys longer than 72 bytes stay distinct
type BcryptHasher struct{}

func (h BcryptHasher) Hash(key string) (string, error) {
	sum := sha256.Sum256([]byte(key))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.DefaultCost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedKey string, key string) error {
	sum := sha256.Sum256([]byte(key))
	return bcrypt.CompareHashAndPassword([]byte(hashedKey), sum[:])
}
