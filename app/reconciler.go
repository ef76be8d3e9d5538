package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/vivek1240/docling-api/ports"
)

// Webhook outcomes reported by ReconcilerService.Ingest.
const (
	OutcomeSuccess   = "success"   // event applied
	OutcomeDuplicate = "duplicate" // event id seen before, nothing applied
	OutcomeIgnored   = "ignored"   // event type we do not act on
	OutcomeSkipped   = "skipped"   // event recognized but not actionable
)

// Credits granted when a subscription invoice settles.
const renewalCredits = 1000

// Metadata keys attached to checkout sessions at creation.
const (
	metaKeyID   = "api_key_id"
	metaCredits = "credits"
)

// ReconcilerService turns verified payment provider webhooks into credit
// grants. Every event is recorded exactly once; replays are detected by
// event id and applied nowhere.
type ReconcilerService struct {
	provider ports.PaymentProvider
	accounts ports.AccountStore
	events   ports.PaymentEventStore
	logger   zerolog.Logger
}

// NewReconcilerService creates a new webhook reconciler.
func NewReconcilerService(provider ports.PaymentProvider, accounts ports.AccountStore, events ports.PaymentEventStore, logger zerolog.Logger) *ReconcilerService {
	return &ReconcilerService{
		provider: provider,
		accounts: accounts,
		events:   events,
		logger:   logger,
	}
}

// Ingest verifies and applies a raw webhook delivery. The returned outcome
// is one of the Outcome constants; ports.ErrInvalidSignature means the
// payload must be rejected with 401.
func (s *ReconcilerService) Ingest(ctx context.Context, payload []byte, signature string) (string, error) {
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		return "", err
	}

	outcome, mutation, err := s.resolve(ctx, event)
	if err != nil {
		return "", err
	}

	if err := s.events.Process(ctx, event.ID, event.Type, mutation); err != nil {
		if errors.Is(err, ports.ErrDuplicateEvent) {
			s.logger.Info().
				Str("event_id", event.ID).
				Str("event_type", event.Type).
				Msg("webhook replay detected, nothing applied")
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("process payment event %s: %w", event.ID, err)
	}

	s.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Str("outcome", outcome).
		Int64("credits", mutation.GrantCredits).
		Msg("webhook processed")

	return outcome, nil
}

// resolve maps a verified event to the credit mutation it implies. The
// mutation is applied together with the event record so that lookups happen
// before anything is written.
func (s *ReconcilerService) resolve(ctx context.Context, event ports.WebhookEvent) (string, ports.EventMutation, error) {
	switch event.Type {
	case "checkout.session.completed":
		return s.resolveCheckout(ctx, event)

	case "invoice.paid":
		return s.resolveInvoice(ctx, event)

	case "customer.subscription.deleted":
		return s.resolveSubscriptionDeleted(ctx, event)

	default:
		s.logger.Debug().
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Msg("ignoring webhook event type")
		return OutcomeIgnored, ports.EventMutation{}, nil
	}
}

func (s *ReconcilerService) resolveCheckout(ctx context.Context, event ports.WebhookEvent) (string, ports.EventMutation, error) {
	keyID := event.Metadata[metaKeyID]
	creditsStr := event.Metadata[metaCredits]
	if keyID == "" || creditsStr == "" {
		// Checkout not initiated through us. Record the event so a replay
		// with the metadata filled in later does not double-apply.
		s.logger.Warn().
			Str("event_id", event.ID).
			Msg("checkout completed without purchase metadata, skipping")
		return OutcomeSkipped, ports.EventMutation{}, nil
	}

	credits, err := strconv.ParseInt(creditsStr, 10, 64)
	if err != nil || credits <= 0 {
		s.logger.Warn().
			Str("event_id", event.ID).
			Str("credits", creditsStr).
			Msg("checkout metadata carries an unusable credit amount, skipping")
		return OutcomeSkipped, ports.EventMutation{}, nil
	}

	acct, err := s.accounts.GetByKeyID(ctx, keyID)
	if err != nil {
		return "", ports.EventMutation{}, fmt.Errorf("checkout for unknown key %s: %w", keyID, err)
	}

	m := ports.EventMutation{GrantAccountID: acct.ID, GrantCredits: credits}
	if event.CustomerID != "" && acct.StripeCustomerID == "" {
		// First purchase binds the payment customer to the account.
		if err := s.accounts.UpdateStripeInfo(ctx, acct.ID, event.CustomerID, event.SubscriptionID); err != nil {
			s.logger.Error().Err(err).
				Str("account_id", acct.ID).
				Msg("failed to bind payment customer to account")
		}
	}
	return OutcomeSuccess, m, nil
}

func (s *ReconcilerService) resolveInvoice(ctx context.Context, event ports.WebhookEvent) (string, ports.EventMutation, error) {
	if event.CustomerID == "" {
		return OutcomeSkipped, ports.EventMutation{}, nil
	}

	acct, err := s.accounts.GetByStripeCustomer(ctx, event.CustomerID)
	if err != nil {
		// Invoices can fire for customers we never issued a key to.
		s.logger.Warn().
			Str("event_id", event.ID).
			Str("customer_id", event.CustomerID).
			Msg("invoice paid for unknown customer, skipping")
		return OutcomeSkipped, ports.EventMutation{}, nil
	}

	return OutcomeSuccess, ports.EventMutation{GrantAccountID: acct.ID, GrantCredits: renewalCredits}, nil
}

func (s *ReconcilerService) resolveSubscriptionDeleted(ctx context.Context, event ports.WebhookEvent) (string, ports.EventMutation, error) {
	if event.CustomerID == "" {
		return OutcomeSkipped, ports.EventMutation{}, nil
	}

	acct, err := s.accounts.GetByStripeCustomer(ctx, event.CustomerID)
	if err != nil {
		s.logger.Warn().
			Str("event_id", event.ID).
			Str("customer_id", event.CustomerID).
			Msg("subscription deleted for unknown customer, skipping")
		return OutcomeSkipped, ports.EventMutation{}, nil
	}

	return OutcomeSuccess, ports.EventMutation{ClearSubAccountID: acct.ID}, nil
}
