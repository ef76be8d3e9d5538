package app_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vivek1240/docling-api/domain/account"
	"github.com/vivek1240/docling-api/domain/convert"
	"github.com/vivek1240/docling-api/domain/ratelimit"
	"github.com/vivek1240/docling-api/domain/usage"
	"github.com/vivek1240/docling-api/ports"
)

var errNotFound = errors.New("not found")

// fakeAccounts is an in-memory AccountStore for service tests.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]account.Account // by ID
}

func newFakeAccounts(accts ...account.Account) *fakeAccounts {
	f := &fakeAccounts{accounts: make(map[string]account.Account)}
	for _, a := range accts {
		f.accounts[a.ID] = a
	}
	return f
}

func (f *fakeAccounts) Create(ctx context.Context, a account.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[a.ID]; ok {
		return errors.New("duplicate id")
	}
	f.accounts[a.ID] = a
	return nil
}

func (f *fakeAccounts) get(match func(account.Account) bool) (account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if match(a) {
			return a, nil
		}
	}
	return account.Account{}, errNotFound
}

func (f *fakeAccounts) GetByKeyID(ctx context.Context, keyID string) (account.Account, error) {
	return f.get(func(a account.Account) bool { return a.KeyID == keyID })
}

func (f *fakeAccounts) GetByDigest(ctx context.Context, digest string) (account.Account, error) {
	return f.get(func(a account.Account) bool { return a.KeyDigest == digest })
}

func (f *fakeAccounts) GetByStripeCustomer(ctx context.Context, customerID string) (account.Account, error) {
	return f.get(func(a account.Account) bool { return a.StripeCustomerID == customerID })
}

func (f *fakeAccounts) List(ctx context.Context) ([]account.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]account.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccounts) Deactivate(ctx context.Context, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, a := range f.accounts {
		if a.KeyID == keyID {
			a.IsActive = false
			f.accounts[id] = a
			return nil
		}
	}
	return errNotFound
}

func (f *fakeAccounts) UpdateLastUsed(ctx context.Context, keyID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, a := range f.accounts {
		if a.KeyID == keyID {
			a.LastUsed = &at
			f.accounts[id] = a
			return nil
		}
	}
	return errNotFound
}

func (f *fakeAccounts) UpdateStripeInfo(ctx context.Context, accountID, customerID, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return errNotFound
	}
	a.StripeCustomerID = customerID
	a.StripeSubscriptionID = subscriptionID
	f.accounts[accountID] = a
	return nil
}

func (f *fakeAccounts) byID(id string) account.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id]
}

// fakeLedger deducts against the fakeAccounts balances.
type fakeLedger struct {
	accounts *fakeAccounts
	usage    *fakeUsage
}

func (f *fakeLedger) TryDeduct(ctx context.Context, accountID string, ev usage.Event) error {
	f.accounts.mu.Lock()
	a, ok := f.accounts.accounts[accountID]
	if !ok {
		f.accounts.mu.Unlock()
		return errNotFound
	}
	if a.Credits < ev.Credits {
		f.accounts.mu.Unlock()
		return ports.ErrInsufficientCredits
	}
	a.Credits -= ev.Credits
	a.CreditsUsed += ev.Credits
	a.DocumentsProcessed += ev.Documents
	a.PagesProcessed += ev.Pages
	f.accounts.accounts[accountID] = a
	f.accounts.mu.Unlock()
	return f.usage.Record(ctx, ev)
}

func (f *fakeLedger) Grant(ctx context.Context, accountID string, credits int64) error {
	f.accounts.mu.Lock()
	defer f.accounts.mu.Unlock()
	a, ok := f.accounts.accounts[accountID]
	if !ok {
		return errNotFound
	}
	a.Credits += credits
	f.accounts.accounts[accountID] = a
	return nil
}

// fakeUsage collects recorded events.
type fakeUsage struct {
	mu     sync.Mutex
	events []usage.Event
}

func (f *fakeUsage) Record(ctx context.Context, ev usage.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeUsage) Stats(ctx context.Context, accountID string, since time.Time, limit int) (usage.Stats, []usage.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var recent []usage.Event
	for _, ev := range f.events {
		if ev.AccountID == accountID && !ev.CreatedAt.Before(since) {
			recent = append(recent, ev)
		}
	}
	stats := usage.Aggregate(recent, since, time.Now())
	stats.AccountID = accountID
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return stats, recent, nil
}

func (f *fakeUsage) recorded() []usage.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]usage.Event, len(f.events))
	copy(out, f.events)
	return out
}

// fakeRateLimit is a map-backed RateLimitStore. A non-nil err simulates a
// broken limiter store.
type fakeRateLimit struct {
	mu     sync.Mutex
	states map[string]ratelimit.WindowState
	err    error
}

func newFakeRateLimit() *fakeRateLimit {
	return &fakeRateLimit{states: make(map[string]ratelimit.WindowState)}
}

func (f *fakeRateLimit) GetAndCheck(ctx context.Context, key string, cfg ratelimit.Config, now time.Time) (ratelimit.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ratelimit.CheckResult{}, f.err
	}
	result, newState := ratelimit.Check(f.states[key], cfg, now)
	f.states[key] = newState
	return result, nil
}

// fakeBackend returns a canned conversion result or error.
type fakeBackend struct {
	mu     sync.Mutex
	result convert.Result
	err    error
	calls  int
}

func (f *fakeBackend) Convert(ctx context.Context, req convert.Request) (convert.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return convert.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeBackend) HealthCheck(ctx context.Context) error { return f.err }
func (f *fakeBackend) Close() error                          { return nil }

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEvents records processed payment events exactly once and applies the
// mutation through the ledger.
type fakeEvents struct {
	mu     sync.Mutex
	seen   map[string]bool
	ledger *fakeLedger
}

func newFakeEvents(ledger *fakeLedger) *fakeEvents {
	return &fakeEvents{seen: make(map[string]bool), ledger: ledger}
}

func (f *fakeEvents) Process(ctx context.Context, eventID, eventType string, m ports.EventMutation) error {
	f.mu.Lock()
	if f.seen[eventID] {
		f.mu.Unlock()
		return ports.ErrDuplicateEvent
	}
	f.mu.Unlock()

	if m.GrantAccountID != "" {
		if err := f.ledger.Grant(ctx, m.GrantAccountID, m.GrantCredits); err != nil {
			return err
		}
	}
	if m.ClearSubAccountID != "" {
		f.ledger.accounts.mu.Lock()
		a := f.ledger.accounts.accounts[m.ClearSubAccountID]
		a.StripeSubscriptionID = ""
		f.ledger.accounts.accounts[m.ClearSubAccountID] = a
		f.ledger.accounts.mu.Unlock()
	}

	f.mu.Lock()
	f.seen[eventID] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeEvents) wasProcessed(eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[eventID]
}

// fakeProvider hands back canned webhook events and session URLs.
type fakeProvider struct {
	event       ports.WebhookEvent
	parseErr    error
	customerID  string
	sessionURL  string
	portalURL   string
	createdName string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateCustomer(ctx context.Context, name, accountID string) (string, error) {
	f.createdName = name
	if f.customerID == "" {
		return "", errors.New("no customer configured")
	}
	return f.customerID, nil
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, customerID, keyID, packageID string, credits, priceCents int64, successURL, cancelURL string) (string, error) {
	if f.sessionURL == "" {
		return "", errors.New("no session configured")
	}
	return f.sessionURL, nil
}

func (f *fakeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if f.portalURL == "" {
		return "", errors.New("no portal configured")
	}
	return f.portalURL, nil
}

func (f *fakeProvider) ParseWebhook(payload []byte, signature string) (ports.WebhookEvent, error) {
	if f.parseErr != nil {
		return ports.WebhookEvent{}, f.parseErr
	}
	return f.event, nil
}

// Interface compliance for the fakes.
var (
	_ ports.AccountStore      = (*fakeAccounts)(nil)
	_ ports.Ledger            = (*fakeLedger)(nil)
	_ ports.UsageStore        = (*fakeUsage)(nil)
	_ ports.RateLimitStore    = (*fakeRateLimit)(nil)
	_ ports.Backend           = (*fakeBackend)(nil)
	_ ports.PaymentEventStore = (*fakeEvents)(nil)
	_ ports.PaymentProvider   = (*fakeProvider)(nil)
)
