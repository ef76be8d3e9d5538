// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivek1240/docling-api/domain/account"
	"github.com/vivek1240/docling-api/domain/convert"
	"github.com/vivek1240/docling-api/domain/pricing"
	"github.com/vivek1240/docling-api/domain/ratelimit"
	"github.com/vivek1240/docling-api/domain/usage"
	"github.com/vivek1240/docling-api/ports"
)

// GatewayService meters conversion requests: it authenticates the API key,
// enforces rate limits, forwards the batch to the conversion backend, prices
// the outcome, and deducts credits atomically with the usage record.
type GatewayService struct {
	accounts  ports.AccountStore
	ledger    ports.Ledger
	usage     ports.UsageStore
	rateLimit ports.RateLimitStore
	backend   ports.Backend
	clock     ports.Clock
	idGen     ports.IDGenerator
	logger    zerolog.Logger

	// Hot-reloadable configuration.
	dynamicCfg atomic.Pointer[GatewayConfig]
}

// GatewayConfig contains the hot-reloadable gateway settings.
type GatewayConfig struct {
	Pricing       pricing.Config
	RateLimit     int // requests per window
	RateWindowSec int
	RateBurst     int
}

// GatewayDeps contains dependencies for GatewayService.
type GatewayDeps struct {
	Accounts  ports.AccountStore
	Ledger    ports.Ledger
	Usage     ports.UsageStore
	RateLimit ports.RateLimitStore
	Backend   ports.Backend
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Logger    zerolog.Logger
}

// NewGatewayService creates a new gateway service.
func NewGatewayService(deps GatewayDeps, cfg GatewayConfig) *GatewayService {
	s := &GatewayService{
		accounts:  deps.Accounts,
		ledger:    deps.Ledger,
		usage:     deps.Usage,
		rateLimit: deps.RateLimit,
		backend:   deps.Backend,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		logger:    deps.Logger,
	}
	s.UpdateConfig(cfg)
	return s
}

// UpdateConfig swaps the hot-reloadable configuration. Safe to call while
// requests are in flight.
func (s *GatewayService) UpdateConfig(cfg GatewayConfig) {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 60
	}
	if cfg.RateWindowSec <= 0 {
		cfg.RateWindowSec = 60
	}
	if cfg.Pricing.CreditsPerPage <= 0 {
		cfg.Pricing = pricing.DefaultConfig()
	}
	s.dynamicCfg.Store(&cfg)
}

func (s *GatewayService) getConfig() *GatewayConfig {
	return s.dynamicCfg.Load()
}

// ConvertResult is the outcome of a metered conversion.
type ConvertResult struct {
	RequestID        string
	Status           string
	Results          []convert.DocumentResult
	DocumentsCharged int
	PagesProcessed   int64
	CreditsUsed      int64
	CreditsRemaining int64
	ProcessingTimeMs int64
}

// ErrorResult describes a rejected or failed request.
type ErrorResult struct {
	Status     int
	Code       string
	Message    string
	RetryAfter int // seconds, rate limiting only
}

// Error strings used as ErrorResult codes.
const (
	CodeInvalidKey          = "invalid_api_key"
	CodeKeyInactive         = "key_inactive"
	CodeInsufficientCredits = "insufficient_credits"
	CodeRateLimited         = "rate_limit_exceeded"
	CodeInvalidRequest      = "invalid_request"
	CodeBackendUnavailable  = "backend_unavailable"
	CodeBackendTimeout      = "backend_timeout"
)

// Convert processes a metered conversion request. The endpoint names the
// API surface the request arrived on and is recorded with the usage event.
// A non-nil ErrorResult means the request was rejected; exactly one of the
// two return values is set.
func (s *GatewayService) Convert(ctx context.Context, rawKey, endpoint string, req convert.Request) (*ConvertResult, *ErrorResult) {
	now := s.clock.Now()
	cfg := s.getConfig()

	// 1. Validate key format before touching storage.
	if !account.ValidateFormat(rawKey) {
		return nil, &ErrorResult{Status: 401, Code: CodeInvalidKey, Message: "Invalid API key"}
	}

	// 2. Look up the account by key digest.
	acct, err := s.accounts.GetByDigest(ctx, account.Digest(rawKey))
	if err != nil {
		return nil, &ErrorResult{Status: 401, Code: CodeInvalidKey, Message: "Invalid API key"}
	}

	// 3. Check account status.
	if v := account.Validate(acct); !v.Valid {
		return nil, &ErrorResult{Status: 401, Code: CodeKeyInactive, Message: "API key has been deactivated"}
	}

	// 4. Rate limit per key.
	rlCfg := ratelimit.Config{
		Limit:       cfg.RateLimit,
		Window:      time.Duration(cfg.RateWindowSec) * time.Second,
		BurstTokens: cfg.RateBurst,
	}
	rlResult, err := s.rateLimit.GetAndCheck(ctx, acct.KeyID, rlCfg, now)
	if err != nil {
		// A broken limiter store must not take the service down; admit the
		// request and let the credit check do its job.
		s.logger.Warn().Err(err).Str("key_id", acct.KeyID).Msg("rate limit check failed")
	} else if !rlResult.Allowed {
		return nil, &ErrorResult{
			Status:     429,
			Code:       CodeRateLimited,
			Message:    "Rate limit exceeded",
			RetryAfter: ratelimit.RetryAfterSeconds(rlResult, now),
		}
	}

	// 5. Validate the request body.
	if reason, ok := req.Validate(); !ok {
		return nil, &ErrorResult{Status: 400, Code: CodeInvalidRequest, Message: reason}
	}

	// 6. Pre-flight credit check. The authoritative check happens in the
	// deduction transaction; this rejects exhausted accounts before paying
	// for a backend conversion.
	if acct.Credits <= 0 {
		return nil, &ErrorResult{
			Status:  402,
			Code:    CodeInsufficientCredits,
			Message: "Account has no remaining credits",
		}
	}

	requestID := s.idGen.New()

	// 7. Forward to the conversion backend.
	result, err := s.backend.Convert(ctx, req)
	if err != nil {
		s.recordFailure(acct.ID, requestID, endpoint, now, err)
		if errors.Is(err, ports.ErrBackendTimeout) {
			return nil, &ErrorResult{Status: 504, Code: CodeBackendTimeout, Message: "Conversion backend timed out"}
		}
		return nil, &ErrorResult{Status: 502, Code: CodeBackendUnavailable, Message: "Conversion backend unavailable"}
	}

	// 8. Price the batch. Only successful documents are charged.
	successfulDocs, pages := convert.Tally(result.Results)
	credits := pricing.Charge(successfulDocs, pages, cfg.Pricing)
	status := convert.BatchStatus(result.Results)

	eventStatus := status
	if status == convert.StatusFailure {
		eventStatus = usage.StatusError
	}
	// Only documents that actually converted count toward the account's
	// processed totals; failed sources are visible in the per-document
	// results but never in the counters.
	event := usage.NewEvent(acct.ID, requestID, endpoint, int64(successfulDocs), pages, credits, result.ProcessingTimeMs, eventStatus, now)
	if status == convert.StatusFailure {
		event = event.WithError(firstError(result.Results))
	}

	// 9. Deduct credits and record usage in one transaction.
	if credits > 0 {
		if err := s.ledger.TryDeduct(ctx, acct.ID, event); err != nil {
			if errors.Is(err, ports.ErrInsufficientCredits) {
				// Converted but could not charge. Nothing was deducted.
				s.logger.Warn().
					Str("account_id", acct.ID).
					Str("request_id", requestID).
					Int64("credits", credits).
					Msg("conversion completed but balance was insufficient")
				return nil, &ErrorResult{
					Status:  402,
					Code:    CodeInsufficientCredits,
					Message: fmt.Sprintf("Insufficient credits. Required: %d, Available: %d", credits, acct.Credits),
				}
			}
			s.logger.Error().Err(err).
				Str("account_id", acct.ID).
				Str("request_id", requestID).
				Msg("failed to deduct credits")
			return nil, &ErrorResult{Status: 500, Code: "internal_error", Message: "Failed to record usage"}
		}
	} else if err := s.usage.Record(ctx, event); err != nil {
		s.logger.Error().Err(err).
			Str("account_id", acct.ID).
			Str("request_id", requestID).
			Msg("failed to record usage event")
	}

	// 10. Refresh last-used off the request path.
	go s.accounts.UpdateLastUsed(context.Background(), acct.KeyID, now)

	remaining := acct.Credits - credits
	if remaining < 0 {
		remaining = 0
	}

	s.logger.Info().
		Str("account_id", acct.ID).
		Str("request_id", requestID).
		Int("documents", len(req.Sources)).
		Int64("pages", pages).
		Int64("credits", credits).
		Str("status", status).
		Msg("conversion metered")

	return &ConvertResult{
		RequestID:        requestID,
		Status:           status,
		Results:          result.Results,
		DocumentsCharged: successfulDocs,
		PagesProcessed:   pages,
		CreditsUsed:      credits,
		CreditsRemaining: remaining,
		ProcessingTimeMs: result.ProcessingTimeMs,
	}, nil
}

// recordFailure writes a zero-credit usage event for a failed backend call so
// the request still shows up in the account's history.
func (s *GatewayService) recordFailure(accountID, requestID, endpoint string, now time.Time, cause error) {
	event := usage.NewEvent(accountID, requestID, endpoint, 0, 0, 0, 0, usage.StatusError, now).
		WithError(cause.Error())
	if err := s.usage.Record(context.Background(), event); err != nil {
		s.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("request_id", requestID).
			Msg("failed to record backend failure")
	}
}

func firstError(results []convert.DocumentResult) string {
	for _, r := range results {
		if !r.Succeeded() && r.Error != "" {
			return r.Error
		}
	}
	return ""
}
