package storage

import (
	"context"
	"encoding/json"

	"github.com/slotpage/slotpage/libs/db"
)

// Notification is one delivery attempt, logged whether it succeeded or not.
type Notification struct {
	AppointmentID string
	BusinessID    string
	EventType     string
	Channel       string
	Recipient     string
	Subject       string
	Payload       map[string]any
	Status        string
	ProviderID    string
	FailureReason string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, business_id, event_type, channel, recipient, subject, payload, status, provider_id, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.AppointmentID, n.BusinessID, n.EventType, n.Channel, n.Recipient, n.Subject, payload, n.Status, n.ProviderID, n.FailureReason)
	return err
}
