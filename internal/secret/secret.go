// Package secret stores and verifies share passwords.
package secret

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"share-go/internal/config"
	"share-go/internal/share"
)

// BcryptHasher stores bcrypt hashes of share passwords. Passwords are
// reduced to a base64 SHA-256 digest first, since bcrypt reads at most 72
// bytes. Secrets that are not bcrypt hashes are compared as legacy
// plaintext so registries written in plaintext mode stay readable after
// switching.
type BcryptHasher struct {
	cost int
}

var _ share.SecretHasher = (*BcryptHasher)(nil)

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(prehash(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(secret, supplied string) bool {
	if !isBcrypt(secret) {
		return constantTimeEqual(secret, supplied)
	}
	return bcrypt.CompareHashAndPassword([]byte(secret), prehash(supplied)) == nil
}

func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum[:])
	return out
}

func isBcrypt(secret string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(secret, prefix) {
			return true
		}
	}
	return false
}

// PlaintextHasher stores passwords as given.
type PlaintextHasher struct{}

var _ share.SecretHasher = PlaintextHasher{}

func (PlaintextHasher) Hash(password string) (string, error) {
	return password, nil
}

func (PlaintextHasher) Verify(secret, supplied string) bool {
	return constantTimeEqual(secret, supplied)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewHasherFromConfig creates a SecretHasher based on the secrets mode.
func NewHasherFromConfig(cfg config.SecretsConfig) (share.SecretHasher, error) {
	switch cfg.Mode {
	case "bcrypt", "":
		if cfg.BcryptCost != 0 && (cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost) {
			return nil, fmt.Errorf("bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
		}
		return NewBcryptHasher(cfg.BcryptCost), nil
	case "plaintext":
		return PlaintextHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown secrets mode: %s", cfg.Mode)
	}
}
