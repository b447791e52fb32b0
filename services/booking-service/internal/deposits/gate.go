package deposits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/slotpage/slotpage/services/booking-service/internal/model"
)

var ErrNotConfigured = errors.New("stripe deposits not configured")

// Confirmer is the lifecycle operation the webhook drives once a deposit
// settles.
type Confirmer interface {
	MarkDepositPaid(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
}

// Store persists checkout sessions and provider-event idempotency rows.
// *Repository is the production implementation.
type Store interface {
	InsertProviderEvent(ctx context.Context, evt ProviderEvent) error
	DeleteProviderEvent(ctx context.Context, provider, providerEventID string) error
	RecordCheckoutSession(ctx context.Context, sessionID, businessID, appointmentID string, amountCents int64) error
	MarkCheckoutCompleted(ctx context.Context, sessionID string, at time.Time) error
	MarkCheckoutExpired(ctx context.Context, sessionID string, at time.Time) error
}

type Config struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	SuccessURL       string
	CancelURL        string
	Currency         string
}

// Gate creates Stripe Checkout sessions for awaiting_deposit appointments
// and confirms them from signature-verified webhooks.
type Gate struct {
	cfg       Config
	repo      Store
	confirmer Confirmer
	logger    *slog.Logger
}

func NewGate(cfg Config, repo Store, confirmer Confirmer, logger *slog.Logger) *Gate {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	return &Gate{cfg: cfg, repo: repo, confirmer: confirmer, logger: logger}
}

func (g *Gate) Configured() bool {
	return strings.TrimSpace(g.cfg.SecretKey) != ""
}

// CreateCheckout opens a one-time payment session for the appointment's
// deposit amount and returns the hosted payment URL.
func (g *Gate) CreateCheckout(ctx context.Context, appt model.Appointment, serviceName string) (string, error) {
	if !g.Configured() {
		return "", ErrNotConfigured
	}
	if appt.State != model.StateAwaitingDeposit || appt.DepositAmountCents <= 0 {
		return "", fmt.Errorf("appointment %s has no deposit due", appt.ID)
	}

	// Stripe uses a global API key. Keep usage limited to this call.
	stripe.Key = g.cfg.SecretKey

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		ClientReferenceID: stripe.String(appt.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.cfg.Currency),
					UnitAmount: stripe.Int64(appt.DepositAmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Deposit: %s", serviceName)),
					},
				},
			},
		},
		Metadata: map[string]string{
			"business_id":    appt.BusinessID,
			"appointment_id": appt.ID,
		},
	}
	// One session per appointment; retried requests reuse it on Stripe's side.
	params.IdempotencyKey = stripe.String("deposit-" + appt.ID)

	sess, err := checkoutsession.New(params)
	if err != nil {
		g.logger.Error("stripe checkout session create failed", "appointment_id", appt.ID, "err", err)
		return "", err
	}
	if err := g.repo.RecordCheckoutSession(ctx, sess.ID, appt.BusinessID, appt.ID, appt.DepositAmountCents); err != nil {
		return "", err
	}
	g.logger.Info("deposit checkout created", "appointment_id", appt.ID, "session_id", sess.ID, "amount_cents", appt.DepositAmountCents)
	return sess.URL, nil
}
