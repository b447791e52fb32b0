package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRecord is the stored outcome of a keyed booking request. A row
// with StatusCode 0 was claimed but not finalized, meaning the original
// request is still in flight.
type IdempotencyRecord struct {
	BusinessID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

// ClaimIdempotencyKey registers a key for a new booking request. claimed is
// true when this call inserted the row and the caller owns the request;
// false means a previous request holds it and rec carries whatever outcome
// that request recorded so far.
func (r *Repository) ClaimIdempotencyKey(ctx context.Context, businessID, key string) (IdempotencyRecord, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if tag.RowsAffected() > 0 {
		return IdempotencyRecord{BusinessID: businessID, IdempotencyKey: key}, true, nil
	}

	rec, err := r.getIdempotencyRecord(ctx, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

// FinalizeIdempotencyKey records the request's outcome so retries replay it.
func (r *Repository) FinalizeIdempotencyKey(ctx context.Context, businessID, key, appointmentID string, statusCode int, response []byte) error {
	var apptID any
	if appointmentID != "" {
		apptID = appointmentID
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, apptID, statusCode, response)
	return err
}

// ReleaseIdempotencyKey drops an unfinalized claim so the client can retry
// after an internal failure.
func (r *Repository) ReleaseIdempotencyKey(ctx context.Context, businessID, key string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2 AND status_code IS NULL
	`, businessID, key)
	return err
}

func (r *Repository) getIdempotencyRecord(ctx context.Context, businessID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := r.pool.QueryRow(ctx, `
		SELECT business_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key).Scan(
		&rec.BusinessID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, ErrNotFound
	}
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
