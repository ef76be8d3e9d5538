// Package payment provides payment provider adapters.
package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vivek1240/docling-api/ports"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	PublicKey     string
	WebhookSecret string
}

// StripeProvider implements ports.PaymentProvider for Stripe.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe payment provider.
func NewStripeProvider(config StripeConfig) *StripeProvider {
	stripe.Key = config.SecretKey
	return &StripeProvider{config: config}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// CreateCustomer creates a customer in Stripe.
func (p *StripeProvider) CreateCustomer(ctx context.Context, name, accountID string) (string, error) {
	params := &stripe.CustomerParams{
		Name: stripe.String(name),
	}
	params.AddMetadata("account_id", accountID)

	c, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreateCheckoutSession creates a Stripe Checkout session for a one-time
// credit package purchase. The metadata lets the webhook route the grant
// back to the right key.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, customerID, keyID, packageID string, credits, priceCents int64, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(priceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%d conversion credits", credits)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("api_key_id", keyID)
	params.AddMetadata("package", packageID)
	params.AddMetadata("credits", fmt.Sprintf("%d", credits))

	s, err := checkoutsession.New(params)
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

// CreatePortalSession creates a customer portal session.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	s, err := session.New(params)
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

// ParseWebhook verifies the signature and parses a Stripe webhook.
func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (ports.WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.config.WebhookSecret)
	if err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("%w: %v", ports.ErrInvalidSignature, err)
	}

	// The fields we care about share names across checkout sessions,
	// invoices and subscriptions.
	var obj struct {
		ID           string            `json:"id"`
		Customer     string            `json:"customer"`
		Subscription string            `json:"subscription"`
		Metadata     map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return ports.WebhookEvent{}, fmt.Errorf("decode event object: %w", err)
	}

	ev := ports.WebhookEvent{
		ID:             event.ID,
		Type:           string(event.Type),
		CustomerID:     obj.Customer,
		SubscriptionID: obj.Subscription,
		Metadata:       obj.Metadata,
	}
	// Subscription events carry the subscription id as the object id.
	if ev.SubscriptionID == "" && event.Type == "customer.subscription.deleted" {
		ev.SubscriptionID = obj.ID
	}
	return ev, nil
}

// Ensure interface compliance.
var _ ports.PaymentProvider = (*StripeProvider)(nil)
