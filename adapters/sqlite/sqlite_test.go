package sqlite_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/vivek1240/docling-api/adapters/sqlite"
	"github.com/vivek1240/docling-api/domain/account"
	"github.com/vivek1240/docling-api/domain/usage"
	"github.com/vivek1240/docling-api/ports"
)

func setupTestDB(t *testing.T) (*sqlite.DB, func()) {
	t.Helper()

	// Create temp file for test database
	f, err := os.CreateTemp("", "doclingapi-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := sqlite.Open(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("open database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		os.Remove(path)
		t.Fatalf("migrate: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(path)
	}

	return db, cleanup
}

func newTestAccount(id string, credits int64) account.Account {
	creds := account.Generate()
	return account.Account{
		ID:        id,
		KeyID:     creds.KeyID,
		KeyDigest: creds.Digest,
		Name:      "Test Account",
		Tier:      account.TierStarter,
		Credits:   credits,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}

// -----------------------------------------------------------------------------
// AccountStore Tests
// -----------------------------------------------------------------------------

func TestAccountStore_CreateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAccountStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 100)

	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	got, err := store.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get by key id: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("ID = %s, want %s", got.ID, a.ID)
	}
	if got.Credits != 100 {
		t.Errorf("Credits = %d, want 100", got.Credits)
	}
	if !got.IsActive {
		t.Error("IsActive = false, want true")
	}

	byDigest, err := store.GetByDigest(ctx, a.KeyDigest)
	if err != nil {
		t.Fatalf("get by digest: %v", err)
	}
	if byDigest.ID != a.ID {
		t.Errorf("GetByDigest ID = %s, want %s", byDigest.ID, a.ID)
	}
}

func TestAccountStore_NotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAccountStore(db)
	ctx := context.Background()

	if _, err := store.GetByKeyID(ctx, "dk_missing"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("GetByKeyID error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByDigest(ctx, "nope"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("GetByDigest error = %v, want ErrNotFound", err)
	}
	if err := store.Deactivate(ctx, "dk_missing"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("Deactivate error = %v, want ErrNotFound", err)
	}
}

func TestAccountStore_Deactivate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAccountStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 100)
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := store.Deactivate(ctx, a.KeyID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := store.GetByDigest(ctx, a.KeyDigest)
	if err != nil {
		t.Fatalf("get by digest: %v", err)
	}
	if got.IsActive {
		t.Error("IsActive = true after Deactivate, want false")
	}
}

func TestAccountStore_List(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAccountStore(db)
	ctx := context.Background()

	old := newTestAccount("acct-old", 100)
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	recent := newTestAccount("acct-new", 100)

	if err := store.Create(ctx, old); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, recent); err != nil {
		t.Fatalf("create: %v", err)
	}

	accounts, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("len = %d, want 2", len(accounts))
	}
	if accounts[0].ID != "acct-new" {
		t.Errorf("first account = %s, want acct-new (newest first)", accounts[0].ID)
	}
}

func TestAccountStore_UpdateStripeInfo(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAccountStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 100)
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := store.UpdateStripeInfo(ctx, a.ID, "cus_123", "sub_456"); err != nil {
		t.Fatalf("update stripe info: %v", err)
	}

	got, err := store.GetByStripeCustomer(ctx, "cus_123")
	if err != nil {
		t.Fatalf("get by stripe customer: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("ID = %s, want %s", got.ID, a.ID)
	}
	if got.StripeSubscriptionID != "sub_456" {
		t.Errorf("StripeSubscriptionID = %s, want sub_456", got.StripeSubscriptionID)
	}
}

func TestAccountStore_UpdateLastUsed(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewAccountStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 100)
	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := store.UpdateLastUsed(ctx, a.KeyID, at); err != nil {
		t.Fatalf("update last used: %v", err)
	}

	got, err := store.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastUsed == nil || !got.LastUsed.Equal(at) {
		t.Errorf("LastUsed = %v, want %v", got.LastUsed, at)
	}
}

// -----------------------------------------------------------------------------
// Ledger Tests
// -----------------------------------------------------------------------------

func TestLedger_TryDeduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accounts := sqlite.NewAccountStore(db)
	ledger := sqlite.NewLedger(db)
	usageStore := sqlite.NewUsageStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 100)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	ev := usage.Event{
		AccountID:        a.ID,
		RequestID:        "req-1",
		Endpoint:         "/v1/convert/source",
		Documents:        2,
		Pages:            70,
		Credits:          70,
		ProcessingTimeMs: 1200,
		Status:           usage.StatusSuccess,
		CreatedAt:        time.Now().UTC(),
	}

	if err := ledger.TryDeduct(ctx, a.ID, ev); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	got, err := accounts.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credits != 30 {
		t.Errorf("Credits = %d, want 30", got.Credits)
	}
	if got.CreditsUsed != 70 {
		t.Errorf("CreditsUsed = %d, want 70", got.CreditsUsed)
	}
	if got.DocumentsProcessed != 2 {
		t.Errorf("DocumentsProcessed = %d, want 2", got.DocumentsProcessed)
	}
	if got.PagesProcessed != 70 {
		t.Errorf("PagesProcessed = %d, want 70", got.PagesProcessed)
	}

	// The usage event committed with the deduction.
	_, events, err := usageStore.Stats(ctx, a.ID, time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].RequestID != "req-1" {
		t.Errorf("RequestID = %s, want req-1", events[0].RequestID)
	}
}

func TestLedger_TryDeductInsufficient(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accounts := sqlite.NewAccountStore(db)
	ledger := sqlite.NewLedger(db)
	usageStore := sqlite.NewUsageStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 100)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	deduct := func(requestID string, credits int64) error {
		return ledger.TryDeduct(ctx, a.ID, usage.Event{
			AccountID: a.ID,
			RequestID: requestID,
			Endpoint:  "/v1/convert/source",
			Documents: 1,
			Pages:     credits,
			Credits:   credits,
			Status:    usage.StatusSuccess,
			CreatedAt: time.Now().UTC(),
		})
	}

	if err := deduct("req-1", 70); err != nil {
		t.Fatalf("first deduct: %v", err)
	}

	// 30 remaining cannot cover another 70.
	err := deduct("req-2", 70)
	if !errors.Is(err, ports.ErrInsufficientCredits) {
		t.Fatalf("second deduct error = %v, want ErrInsufficientCredits", err)
	}

	got, err := accounts.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credits != 30 {
		t.Errorf("Credits = %d, want 30 (failed deduct must not write)", got.Credits)
	}

	// The failed deduction left no usage event behind.
	_, events, err := usageStore.Stats(ctx, a.ID, time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestLedger_TryDeductUnknownAccount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ledger := sqlite.NewLedger(db)
	ctx := context.Background()

	err := ledger.TryDeduct(ctx, "acct-missing", usage.Event{
		AccountID: "acct-missing",
		RequestID: "req-1",
		Endpoint:  "/v1/convert/source",
		Credits:   1,
		Status:    usage.StatusSuccess,
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestLedger_ConcurrentDeductsNeverGoNegative(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accounts := sqlite.NewAccountStore(db)
	ledger := sqlite.NewLedger(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 50)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	// 20 goroutines each try to deduct 10 from a balance of 50.
	// Exactly 5 can succeed.
	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = ledger.TryDeduct(ctx, a.ID, usage.Event{
				AccountID: a.ID,
				RequestID: "req-" + itoa(n),
				Endpoint:  "/v1/convert/source",
				Documents: 1,
				Pages:     10,
				Credits:   10,
				Status:    usage.StatusSuccess,
				CreatedAt: time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ports.ErrInsufficientCredits):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 5 {
		t.Errorf("succeeded = %d, want 5", succeeded)
	}
	if insufficient != workers-5 {
		t.Errorf("insufficient = %d, want %d", insufficient, workers-5)
	}

	got, err := accounts.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credits != 0 {
		t.Errorf("Credits = %d, want 0", got.Credits)
	}
	if got.Credits < 0 {
		t.Error("balance went negative")
	}
}

func TestLedger_Grant(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accounts := sqlite.NewAccountStore(db)
	ledger := sqlite.NewLedger(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 10)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := ledger.Grant(ctx, a.ID, 1000); err != nil {
		t.Fatalf("grant: %v", err)
	}

	got, err := accounts.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credits != 1010 {
		t.Errorf("Credits = %d, want 1010", got.Credits)
	}

	if err := ledger.Grant(ctx, "acct-missing", 10); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("grant to missing account error = %v, want ErrNotFound", err)
	}
}

// -----------------------------------------------------------------------------
// UsageStore Tests
// -----------------------------------------------------------------------------

func TestUsageStore_Stats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accounts := sqlite.NewAccountStore(db)
	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 100)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	now := time.Now().UTC()
	events := []usage.Event{
		{AccountID: a.ID, RequestID: "req-1", Endpoint: "/v1/convert/source", Documents: 1, Pages: 10, Credits: 10, ProcessingTimeMs: 100, Status: usage.StatusSuccess, CreatedAt: now.Add(-2 * time.Minute)},
		{AccountID: a.ID, RequestID: "req-2", Endpoint: "/v1/convert/source", Documents: 1, Pages: 20, Credits: 20, ProcessingTimeMs: 300, Status: usage.StatusSuccess, CreatedAt: now.Add(-time.Minute)},
		{AccountID: a.ID, RequestID: "req-old", Endpoint: "/v1/convert/source", Documents: 1, Pages: 99, Credits: 99, ProcessingTimeMs: 900, Status: usage.StatusSuccess, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for _, ev := range events {
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	stats, recent, err := store.Stats(ctx, a.ID, now.Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.TotalRequests != 2 {
		t.Errorf("TotalRequests = %d, want 2 (old event excluded)", stats.TotalRequests)
	}
	if stats.TotalPages != 30 {
		t.Errorf("TotalPages = %d, want 30", stats.TotalPages)
	}
	if stats.TotalCredits != 30 {
		t.Errorf("TotalCredits = %d, want 30", stats.TotalCredits)
	}
	if stats.AvgProcessingTimeMs != 200 {
		t.Errorf("AvgProcessingTimeMs = %d, want 200", stats.AvgProcessingTimeMs)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	if recent[0].RequestID != "req-2" {
		t.Errorf("first recent = %s, want req-2 (newest first)", recent[0].RequestID)
	}
}

func TestUsageStore_StatsCapsRecentEvents(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accounts := sqlite.NewAccountStore(db)
	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 100)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	now := time.Now().UTC()
	const total = 120
	for i := 0; i < total; i++ {
		ev := usage.Event{
			AccountID: a.ID,
			RequestID: "req-" + itoa(i),
			Endpoint:  "/v1/convert/source",
			Documents: 1,
			Pages:     1,
			Credits:   1,
			Status:    usage.StatusSuccess,
			CreatedAt: now.Add(time.Duration(i-total) * time.Second),
		}
		if err := store.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	stats, recent, err := store.Stats(ctx, a.ID, now.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	if stats.TotalRequests != total {
		t.Errorf("TotalRequests = %d, want %d (totals cover everything)", stats.TotalRequests, total)
	}
	if len(recent) != sqlite.MaxStatsEvents {
		t.Errorf("recent = %d, want %d", len(recent), sqlite.MaxStatsEvents)
	}
	if recent[0].RequestID != "req-"+itoa(total-1) {
		t.Errorf("first recent = %s, want req-%d", recent[0].RequestID, total-1)
	}
}

// -----------------------------------------------------------------------------
// PaymentEventStore Tests
// -----------------------------------------------------------------------------

func TestPaymentEventStore_ProcessGrantsOnce(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accounts := sqlite.NewAccountStore(db)
	store := sqlite.NewPaymentEventStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 0)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	m := ports.EventMutation{GrantAccountID: a.ID, GrantCredits: 100}

	if err := store.Process(ctx, "evt_123", "checkout.session.completed", m); err != nil {
		t.Fatalf("first process: %v", err)
	}

	// Same event delivered again must not grant twice.
	err := store.Process(ctx, "evt_123", "checkout.session.completed", m)
	if !errors.Is(err, ports.ErrDuplicateEvent) {
		t.Fatalf("replay error = %v, want ErrDuplicateEvent", err)
	}

	got, err := accounts.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credits != 100 {
		t.Errorf("Credits = %d, want 100 (granted exactly once)", got.Credits)
	}
}

func TestPaymentEventStore_ProcessRecordOnly(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewPaymentEventStore(db)
	ctx := context.Background()

	// Zero mutation records the event without touching accounts.
	if err := store.Process(ctx, "evt_ignored", "invoice.created", ports.EventMutation{}); err != nil {
		t.Fatalf("process: %v", err)
	}

	// The id is consumed even though nothing was mutated.
	err := store.Process(ctx, "evt_ignored", "invoice.created", ports.EventMutation{})
	if !errors.Is(err, ports.ErrDuplicateEvent) {
		t.Fatalf("replay error = %v, want ErrDuplicateEvent", err)
	}
}

func TestPaymentEventStore_ProcessClearsSubscription(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	accounts := sqlite.NewAccountStore(db)
	store := sqlite.NewPaymentEventStore(db)
	ctx := context.Background()

	a := newTestAccount("acct-1", 0)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := accounts.UpdateStripeInfo(ctx, a.ID, "cus_1", "sub_1"); err != nil {
		t.Fatalf("update stripe info: %v", err)
	}

	m := ports.EventMutation{ClearSubAccountID: a.ID}
	if err := store.Process(ctx, "evt_sub_del", "customer.subscription.deleted", m); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := accounts.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StripeSubscriptionID != "" {
		t.Errorf("StripeSubscriptionID = %q, want empty", got.StripeSubscriptionID)
	}
	if got.StripeCustomerID != "cus_1" {
		t.Errorf("StripeCustomerID = %q, want cus_1 (untouched)", got.StripeCustomerID)
	}
}

func TestPaymentEventStore_GrantToUnknownAccountRollsBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewPaymentEventStore(db)
	ctx := context.Background()

	m := ports.EventMutation{GrantAccountID: "acct-missing", GrantCredits: 100}
	err := store.Process(ctx, "evt_orphan", "checkout.session.completed", m)
	if !errors.Is(err, sqlite.ErrNotFound) {
		t.Fatalf("process error = %v, want ErrNotFound", err)
	}

	// The failed grant must not leave the event marked processed; a provider
	// retry after the account exists has to succeed.
	accounts := sqlite.NewAccountStore(db)
	a := newTestAccount("acct-missing", 0)
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := store.Process(ctx, "evt_orphan", "checkout.session.completed", m); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
	got, err := accounts.GetByKeyID(ctx, a.KeyID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Credits != 100 {
		t.Errorf("Credits = %d, want 100", got.Credits)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
