package payment

import (
	"context"

	"github.com/vivek1240/docling-api/ports"
)

// NoopProvider is a no-op payment provider for when payments are disabled.
// Every operation returns ports.ErrNotConfigured.
type NoopProvider struct{}

// NewNoopProvider creates a new no-op payment provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// Name returns the provider name.
func (p *NoopProvider) Name() string {
	return "none"
}

// CreateCustomer returns an error as payments are disabled.
func (p *NoopProvider) CreateCustomer(ctx context.Context, name, accountID string) (string, error) {
	return "", ports.ErrNotConfigured
}

// CreateCheckoutSession returns an error as payments are disabled.
func (p *NoopProvider) CreateCheckoutSession(ctx context.Context, customerID, keyID, packageID string, credits, priceCents int64, successURL, cancelURL string) (string, error) {
	return "", ports.ErrNotConfigured
}

// CreatePortalSession returns an error as payments are disabled.
func (p *NoopProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "", ports.ErrNotConfigured
}

// ParseWebhook returns an error as payments are disabled.
func (p *NoopProvider) ParseWebhook(payload []byte, signature string) (ports.WebhookEvent, error) {
	return ports.WebhookEvent{}, ports.ErrNotConfigured
}

// Ensure interface compliance.
var _ ports.PaymentProvider = (*NoopProvider)(nil)
