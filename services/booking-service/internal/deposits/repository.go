package deposits

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/slotpage/slotpage/libs/db"
)

var ErrDuplicateProviderEvent = errors.New("provider event already processed")

// ProviderEvent is a received payment-provider webhook event, stored for
// idempotency: replayed deliveries hit the unique constraint and are ignored.
type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InsertProviderEvent(ctx context.Context, evt ProviderEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateProviderEvent
	}
	return err
}

// DeleteProviderEvent releases an idempotency row after the event's side
// effects failed to apply. The provider's retry then re-processes the event
// instead of landing on the duplicate path with the work still undone.
func (r *Repository) DeleteProviderEvent(ctx context.Context, provider, providerEventID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM payment_provider_events
		WHERE provider = $1 AND provider_event_id = $2
	`, provider, providerEventID)
	return err
}

// RecordCheckoutSession links a Stripe checkout session to its appointment so
// the webhook can resolve the booking even without metadata.
func (r *Repository) RecordCheckoutSession(ctx context.Context, sessionID, businessID, appointmentID string, amountCents int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO deposit_checkout_sessions (session_id, business_id, appointment_id, amount_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, businessID, appointmentID, amountCents)
	return err
}

func (r *Repository) MarkCheckoutCompleted(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deposit_checkout_sessions
		SET completed_at = $2
		WHERE session_id = $1
	`, sessionID, at)
	return err
}

func (r *Repository) MarkCheckoutExpired(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deposit_checkout_sessions
		SET expired_at = $2
		WHERE session_id = $1
	`, sessionID, at)
	return err
}
