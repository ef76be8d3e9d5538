package payment

import (
	"fmt"

	"github.com/vivek1240/docling-api/ports"
)

// NewProvider creates a payment provider from configuration. Whether
// payments are enabled is decided here, once, at startup: missing
// credentials yield the noop provider and every billing operation
// fails fast with ports.ErrNotConfigured.
func NewProvider(provider string, cfg StripeConfig) (ports.PaymentProvider, error) {
	switch provider {
	case "stripe":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		if cfg.WebhookSecret == "" {
			return nil, fmt.Errorf("stripe webhook secret is required")
		}
		return NewStripeProvider(cfg), nil

	case "none", "":
		return NewNoopProvider(), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s", provider)
	}
}
