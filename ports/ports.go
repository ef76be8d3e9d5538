// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/vivek1240/docling-api/domain/account"
	"github.com/vivek1240/docling-api/domain/convert"
	"github.com/vivek1240/docling-api/domain/ratelimit"
	"github.com/vivek1240/docling-api/domain/usage"
)

// Sentinel errors shared across layers.
var (
	// ErrInsufficientCredits is returned by Ledger.TryDeduct when the
	// account balance cannot cover the charge. Nothing is written.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrDuplicateEvent is returned by PaymentEventStore.Process when the
	// event id has already been processed.
	ErrDuplicateEvent = errors.New("payment event already processed")

	// ErrInvalidSignature is returned by PaymentProvider.ParseWebhook when
	// signature verification fails.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNotConfigured is returned by payment operations when no provider
	// credentials were supplied at startup.
	ErrNotConfigured = errors.New("payment provider not configured")

	// ErrBackendUnavailable is returned by Backend.Convert when the
	// conversion service cannot be reached or fails.
	ErrBackendUnavailable = errors.New("conversion backend unavailable")

	// ErrBackendTimeout is returned by Backend.Convert when the conversion
	// service does not answer within the configured timeout.
	ErrBackendTimeout = errors.New("conversion backend timeout")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// AccountStore persists metered accounts.
type AccountStore interface {
	// Create stores a new account.
	Create(ctx context.Context, a account.Account) error

	// GetByKeyID retrieves an account by its public key id.
	GetByKeyID(ctx context.Context, keyID string) (account.Account, error)

	// GetByDigest retrieves an active-or-not account by credential digest.
	GetByDigest(ctx context.Context, digest string) (account.Account, error)

	// GetByStripeCustomer retrieves an account by Stripe customer id.
	GetByStripeCustomer(ctx context.Context, customerID string) (account.Account, error)

	// List returns all accounts, newest first.
	List(ctx context.Context) ([]account.Account, error)

	// Deactivate marks an account inactive. Its key stops validating.
	Deactivate(ctx context.Context, keyID string) error

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, keyID string, at time.Time) error

	// UpdateStripeInfo sets the Stripe customer and subscription ids.
	UpdateStripeInfo(ctx context.Context, accountID, customerID, subscriptionID string) error
}

// Ledger applies credit movements atomically.
type Ledger interface {
	// TryDeduct deducts ev.Credits from the account and records the usage
	// event in a single transaction. The balance never goes negative: when
	// credits are insufficient it returns ErrInsufficientCredits and
	// writes nothing.
	TryDeduct(ctx context.Context, accountID string, ev usage.Event) error

	// Grant atomically adds credits to the account balance.
	Grant(ctx context.Context, accountID string, credits int64) error
}

// UsageStore persists and queries usage events.
type UsageStore interface {
	// Record stores a usage event outside the deduction path
	// (failed requests that charge nothing).
	Record(ctx context.Context, ev usage.Event) error

	// Stats returns aggregated usage since the cutoff together with the
	// most recent events, newest first, capped at limit.
	Stats(ctx context.Context, accountID string, since time.Time, limit int) (usage.Stats, []usage.Event, error)
}

// EventMutation describes the credit effect of a payment event.
// The zero value records the event without touching any account.
type EventMutation struct {
	GrantAccountID    string // Account to receive credits
	GrantCredits      int64  // Credits to add
	ClearSubAccountID string // Account whose subscription id is cleared
}

// PaymentEventStore records processed payment events exactly once.
type PaymentEventStore interface {
	// Process applies the mutation and records the event id in a single
	// transaction. A replayed event id returns ErrDuplicateEvent and
	// applies nothing.
	Process(ctx context.Context, eventID, eventType string, m EventMutation) error
}

// RateLimitStore persists rate limit state.
type RateLimitStore interface {
	// GetAndCheck atomically loads the window for a limiter key, applies the
	// limit, and stores the updated window. Two concurrent requests can never
	// both consume the same slot.
	GetAndCheck(ctx context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.CheckResult, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// Backend is the document conversion service being metered.
type Backend interface {
	// Convert forwards a batch conversion request and returns per-document
	// results. Transport failures surface as errors; per-document failures
	// come back inside the result.
	Convert(ctx context.Context, req convert.Request) (convert.Result, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases idle connections.
	Close() error
}

// WebhookEvent is a verified payment provider event.
type WebhookEvent struct {
	ID             string
	Type           string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

// PaymentProvider interfaces with the payment processor.
type PaymentProvider interface {
	// Name returns the provider name (e.g., "stripe", "noop").
	Name() string

	// CreateCustomer creates a customer in the payment system.
	CreateCustomer(ctx context.Context, name, accountID string) (customerID string, err error)

	// CreateCheckoutSession creates a checkout session for a credit
	// package purchase. Metadata carries the target key id and credits.
	CreateCheckoutSession(ctx context.Context, customerID, keyID, packageID string, credits, priceCents int64, successURL, cancelURL string) (sessionURL string, err error)

	// CreatePortalSession creates a customer portal session.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (portalURL string, err error)

	// ParseWebhook verifies the signature and parses an incoming webhook.
	// Returns ErrInvalidSignature when verification fails.
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}
