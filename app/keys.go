package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivek1240/docling-api/domain/account"
	"github.com/vivek1240/docling-api/domain/usage"
	"github.com/vivek1240/docling-api/ports"
)

// KeyService manages API key lifecycle: issuance, lookup, deactivation and
// usage reporting. The full key is returned exactly once at issuance; only
// its digest is stored.
type KeyService struct {
	accounts ports.AccountStore
	usage    ports.UsageStore
	clock    ports.Clock
	idGen    ports.IDGenerator
	logger   zerolog.Logger
}

// NewKeyService creates a new key service.
func NewKeyService(accounts ports.AccountStore, usageStore ports.UsageStore, clock ports.Clock, idGen ports.IDGenerator, logger zerolog.Logger) *KeyService {
	return &KeyService{
		accounts: accounts,
		usage:    usageStore,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
	}
}

// IssuedKey is the one-time response to key creation. FullKey is not
// recoverable afterwards.
type IssuedKey struct {
	Account account.Account
	FullKey string
}

// Issue creates a new account with a fresh API key and the tier's initial
// credit allowance.
func (s *KeyService) Issue(ctx context.Context, name, tier string) (IssuedKey, error) {
	if tier == "" {
		tier = account.TierStarter
	}
	if !account.ValidTier(tier) {
		return IssuedKey{}, fmt.Errorf("unknown tier %q", tier)
	}

	creds := account.Generate()
	now := s.clock.Now()

	acct := account.Account{
		ID:        s.idGen.New(),
		KeyID:     creds.KeyID,
		KeyDigest: creds.Digest,
		Name:      name,
		Tier:      tier,
		Credits:   account.InitialCredits(tier),
		IsActive:  true,
		CreatedAt: now,
	}

	if err := s.accounts.Create(ctx, acct); err != nil {
		return IssuedKey{}, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info().
		Str("account_id", acct.ID).
		Str("key_id", acct.KeyID).
		Str("tier", tier).
		Int64("credits", acct.Credits).
		Msg("api key issued")

	return IssuedKey{Account: acct, FullKey: creds.FullKey}, nil
}

// Validate resolves a raw API key to its account. The raw key is digested;
// nothing sensitive is logged.
func (s *KeyService) Validate(ctx context.Context, rawKey string) (account.Account, account.ValidationResult) {
	if !account.ValidateFormat(rawKey) {
		return account.Account{}, account.ValidationResult{Reason: account.ReasonBadFormat}
	}

	acct, err := s.accounts.GetByDigest(ctx, account.Digest(rawKey))
	if err != nil {
		return account.Account{}, account.ValidationResult{Reason: account.ReasonNotFound}
	}

	result := account.Validate(acct)
	if result.Valid {
		// Authenticated reads count as key activity too, not just metered
		// conversions.
		if err := s.accounts.UpdateLastUsed(ctx, acct.KeyID, s.clock.Now()); err != nil {
			s.logger.Warn().Err(err).Str("key_id", acct.KeyID).Msg("update last_used failed")
		}
	}
	return acct, result
}

// Get returns the account behind a key id.
func (s *KeyService) Get(ctx context.Context, keyID string) (account.Account, error) {
	return s.accounts.GetByKeyID(ctx, keyID)
}

// List returns all accounts, newest first.
func (s *KeyService) List(ctx context.Context) ([]account.Account, error) {
	return s.accounts.List(ctx)
}

// Deactivate revokes a key. Deactivation is immediate and permanent; issue a
// new key to restore access.
func (s *KeyService) Deactivate(ctx context.Context, keyID string) error {
	if err := s.accounts.Deactivate(ctx, keyID); err != nil {
		return err
	}
	s.logger.Info().Str("key_id", keyID).Msg("api key deactivated")
	return nil
}

// Stats returns aggregated usage for an account over the trailing number of
// days, plus its most recent events.
func (s *KeyService) Stats(ctx context.Context, accountID string, days, limit int) (usage.Stats, []usage.Event, error) {
	if days <= 0 {
		days = 30
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	since := s.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return s.usage.Stats(ctx, accountID, since, limit)
}
