// Package account provides account value types and pure credential functions.
// This package has NO dependencies on I/O or external packages.
package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// Account represents a metered account (immutable value type).
type Account struct {
	ID                   string
	KeyID                string // Public identifier, "dk_" prefixed
	KeyDigest            string // SHA-256 hex digest of the full key
	Name                 string
	Tier                 string
	Credits              int64
	CreditsUsed          int64
	DocumentsProcessed   int64
	PagesProcessed       int64
	IsActive             bool
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	LastUsed             *time.Time
}

// Tiers an account can be created on.
const (
	TierStarter      = "starter"
	TierProfessional = "professional"
	TierBusiness     = "business"
)

// InitialCredits returns the credit grant a new account receives for a tier.
func InitialCredits(tier string) int64 {
	switch tier {
	case TierProfessional:
		return 1000
	case TierBusiness:
		return 5000
	default:
		return 100
	}
}

// ValidTier reports whether tier is one of the known tiers.
func ValidTier(tier string) bool {
	switch tier {
	case TierStarter, TierProfessional, TierBusiness:
		return true
	}
	return false
}

// ValidationResult represents the outcome of account validation (value type).
type ValidationResult struct {
	Valid   bool
	Account Account // Populated only if Valid=true
	Reason  string  // Populated only if Valid=false
}

// Reasons for validation failure.
const (
	ReasonValid     = ""
	ReasonNotFound  = "key_not_found"
	ReasonInactive  = "account_inactive"
	ReasonBadFormat = "invalid_format"
)

// KeyIDPrefix is the public prefix of every issued key identifier.
const KeyIDPrefix = "dk_"

// Credentials holds the parts of a freshly issued key.
// FullKey is shown to the caller exactly once and never stored.
type Credentials struct {
	KeyID   string
	FullKey string
	Digest  string
}

// Generate creates new account credentials.
// The full key is "{key_id}_{secret}" where the key id is the prefix plus
// an 8-byte urlsafe token and the secret is a 32-byte urlsafe token.
// Only the SHA-256 digest of the full key is ever persisted.
func Generate() Credentials {
	keyID := KeyIDPrefix + token(8)
	secret := token(32)
	fullKey := keyID + "_" + secret
	return Credentials{
		KeyID:   keyID,
		FullKey: fullKey,
		Digest:  Digest(fullKey),
	}
}

// Digest returns the SHA-256 hex digest of a presented key.
// Deterministic so the stored digest can back a unique index lookup.
// This is a PURE function.
func Digest(fullKey string) string {
	sum := sha256.Sum256([]byte(fullKey))
	return hex.EncodeToString(sum[:])
}

// Validate checks whether an account may use the service.
// This is a PURE function - no side effects, deterministic.
func Validate(a Account) ValidationResult {
	if !a.IsActive {
		return ValidationResult{Valid: false, Reason: ReasonInactive}
	}
	return ValidationResult{Valid: true, Account: a}
}

// ValidateFormat checks if a presented key has valid format.
// This is a PURE function.
func ValidateFormat(rawKey string) bool {
	if len(rawKey) < len(KeyIDPrefix) {
		return false
	}
	if rawKey[:len(KeyIDPrefix)] != KeyIDPrefix {
		return false
	}
	// Key id token plus separator plus secret token.
	minLen := len(KeyIDPrefix) + encodedLen(8) + 1 + encodedLen(32)
	return len(rawKey) >= minLen
}

func token(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func encodedLen(n int) int {
	return base64.RawURLEncoding.EncodedLen(n)
}
