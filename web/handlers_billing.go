package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/vivek1240/docling-api/app"
	"github.com/vivek1240/docling-api/ports"
)

// -----------------------------------------------------------------------------
// Billing
// -----------------------------------------------------------------------------

// Packages lists the purchasable credit packages.
func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	type pkg struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Credits    int64  `json:"credits"`
		PriceCents int64  `json:"price_cents"`
	}

	packages := h.billing.Packages()
	out := make([]pkg, 0, len(packages))
	for _, p := range packages {
		out = append(out, pkg{ID: p.ID, Name: p.Name, Credits: p.Credits, PriceCents: p.PriceCents})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"packages": out})
}

// CheckoutRequest starts a credit package purchase.
type CheckoutRequest struct {
	Package    string `json:"package"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// Checkout creates a payment checkout session for the authenticated key.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Package == "" {
		writeError(w, http.StatusBadRequest, "missing_package", "package is required")
		return
	}

	sessionURL, err := h.billing.Checkout(r.Context(), acct.KeyID, req.Package, req.SuccessURL, req.CancelURL)
	if err != nil {
		if errors.Is(err, ports.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "billing_unavailable", "Payments are not configured")
			return
		}
		writeError(w, http.StatusBadRequest, "checkout_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": sessionURL})
}

// PortalRequest opens the payment provider's customer portal.
type PortalRequest struct {
	ReturnURL string `json:"return_url"`
}

// Portal creates a customer portal session for the authenticated key.
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req PortalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	portalURL, err := h.billing.Portal(r.Context(), acct.KeyID, req.ReturnURL)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "billing_unavailable", "Payments are not configured")
		case errors.Is(err, app.ErrNoPaymentCustomer):
			writeError(w, http.StatusConflict, "no_payment_customer", "Complete a purchase before opening the portal")
		default:
			writeError(w, http.StatusInternalServerError, "portal_failed", "Failed to create portal session")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"portal_url": portalURL})
}

// -----------------------------------------------------------------------------
// Webhooks
// -----------------------------------------------------------------------------

// StripeWebhook ingests a signed payment provider event. Replays are
// acknowledged with 200 so the provider stops redelivering.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Failed to read webhook body")
		return
	}

	outcome, err := h.reconciler.Ingest(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ports.ErrInvalidSignature) {
			if h.collector != nil {
				h.collector.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
			}
			writeError(w, http.StatusUnauthorized, "invalid_signature", "Webhook signature verification failed")
			return
		}
		h.logger.Error().Err(err).Msg("webhook processing failed")
		// Non-2xx makes the provider retry the delivery.
		writeError(w, http.StatusInternalServerError, "webhook_failed", "Failed to process webhook")
		return
	}

	if h.collector != nil {
		h.collector.WebhookEvents.WithLabelValues("stripe", outcome).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}
