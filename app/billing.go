package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vivek1240/docling-api/domain/pricing"
	"github.com/vivek1240/docling-api/ports"
)

// ErrNoPaymentCustomer is returned by Portal when the account never
// completed a purchase and has no payment customer on file.
var ErrNoPaymentCustomer = errors.New("account has no payment customer")

// BillingService creates checkout and portal sessions with the payment
// provider. Credit grants themselves arrive later through the webhook
// reconciler; this service only starts the purchase.
type BillingService struct {
	provider ports.PaymentProvider
	accounts ports.AccountStore
	logger   zerolog.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(provider ports.PaymentProvider, accounts ports.AccountStore, logger zerolog.Logger) *BillingService {
	return &BillingService{
		provider: provider,
		accounts: accounts,
		logger:   logger,
	}
}

// Packages returns the purchasable credit packages.
func (s *BillingService) Packages() []pricing.Package {
	return pricing.Packages()
}

// Checkout creates a checkout session for a credit package. The session
// metadata carries the key id so the webhook can credit the right account.
func (s *BillingService) Checkout(ctx context.Context, keyID, packageID, successURL, cancelURL string) (string, error) {
	pkg, ok := pricing.LookupPackage(packageID)
	if !ok {
		return "", fmt.Errorf("unknown credit package %q", packageID)
	}

	acct, err := s.accounts.GetByKeyID(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}

	customerID := acct.StripeCustomerID
	if customerID == "" {
		customerID, err = s.provider.CreateCustomer(ctx, acct.Name, acct.ID)
		if err != nil {
			return "", fmt.Errorf("create payment customer: %w", err)
		}
		if err := s.accounts.UpdateStripeInfo(ctx, acct.ID, customerID, acct.StripeSubscriptionID); err != nil {
			return "", fmt.Errorf("store payment customer: %w", err)
		}
	}

	sessionURL, err := s.provider.CreateCheckoutSession(ctx, customerID, acct.KeyID, pkg.ID, pkg.Credits, pkg.PriceCents, successURL, cancelURL)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.Info().
		Str("account_id", acct.ID).
		Str("package", pkg.ID).
		Int64("credits", pkg.Credits).
		Msg("checkout session created")

	return sessionURL, nil
}

// Portal creates a customer portal session for managing payment details.
func (s *BillingService) Portal(ctx context.Context, keyID, returnURL string) (string, error) {
	acct, err := s.accounts.GetByKeyID(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}
	if acct.StripeCustomerID == "" {
		return "", ErrNoPaymentCustomer
	}

	return s.provider.CreatePortalSession(ctx, acct.StripeCustomerID, returnURL)
}
