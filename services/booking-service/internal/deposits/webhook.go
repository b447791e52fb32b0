package deposits

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/slotpage/slotpage/libs/httpx"
	"github.com/slotpage/slotpage/services/booking-service/internal/booking"
)

// Webhook handles Stripe deposit webhooks. No JWT auth; the signature check
// is the auth. The gateway exposes this path publicly.
func (g *Gate) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(g.cfg.WebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, g.cfg.WebhookSecret, g.cfg.WebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	g.logger.Info("deposit provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	// Idempotency: ignore replayed Stripe events.
	if err := g.repo.InsertProviderEvent(r.Context(), ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, ErrDuplicateProviderEvent) {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			g.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		businessID := strings.TrimSpace(session.Metadata["business_id"])
		appointmentID := strings.TrimSpace(session.Metadata["appointment_id"])
		if businessID == "" || appointmentID == "" {
			g.logger.Warn("stripe: missing metadata on checkout session (business_id/appointment_id)")
			break
		}
		_ = g.repo.MarkCheckoutCompleted(r.Context(), session.ID, occurredAt)

		_, err := g.confirmer.MarkDepositPaid(r.Context(), businessID, appointmentID)
		switch {
		case err == nil:
		case errors.Is(err, booking.ErrSlotNoLongerAvailable):
			// The operator alert is already committed; acknowledge so Stripe
			// stops retrying a webhook that can never succeed.
			g.logger.Warn("deposit settled for a lost slot", "appointment_id", appointmentID)
		case errors.Is(err, booking.ErrCalendarSync):
			// Confirmed internally; the calendar retries in the background.
			g.logger.Warn("deposit confirmed, calendar sync pending", "appointment_id", appointmentID)
		case errors.Is(err, booking.ErrNotFound):
			g.logger.Warn("deposit webhook for unknown appointment", "appointment_id", appointmentID)
		default:
			// Release the idempotency row before failing: Stripe's retry must
			// re-apply the deposit, not land on the duplicate path.
			if derr := g.repo.DeleteProviderEvent(r.Context(), "stripe", evt.ID); derr != nil {
				g.logger.Error("provider event not released for retry", "provider_event_id", evt.ID, "err", derr)
			}
			http.Error(w, "failed to apply deposit", http.StatusInternalServerError)
			return
		}

	case "checkout.session.expired":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			g.logger.Error("stripe: invalid checkout session payload", "err", err)
			break
		}
		_ = g.repo.MarkCheckoutExpired(r.Context(), session.ID, occurredAt)
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
