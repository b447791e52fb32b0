package deposits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/slotpage/slotpage/services/booking-service/internal/booking"
	"github.com/slotpage/slotpage/services/booking-service/internal/model"
)

const testWebhookSecret = "whsec_test_secret"

type fakeStore struct {
	events    map[string]bool
	completed map[string]time.Time
	expired   map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:    make(map[string]bool),
		completed: make(map[string]time.Time),
		expired:   make(map[string]time.Time),
	}
}

func (s *fakeStore) InsertProviderEvent(_ context.Context, evt ProviderEvent) error {
	key := evt.Provider + "/" + evt.ProviderEventID
	if s.events[key] {
		return ErrDuplicateProviderEvent
	}
	s.events[key] = true
	return nil
}

func (s *fakeStore) DeleteProviderEvent(_ context.Context, provider, providerEventID string) error {
	delete(s.events, provider+"/"+providerEventID)
	return nil
}

func (s *fakeStore) RecordCheckoutSession(_ context.Context, sessionID, businessID, appointmentID string, amountCents int64) error {
	return nil
}

func (s *fakeStore) MarkCheckoutCompleted(_ context.Context, sessionID string, at time.Time) error {
	s.completed[sessionID] = at
	return nil
}

func (s *fakeStore) MarkCheckoutExpired(_ context.Context, sessionID string, at time.Time) error {
	s.expired[sessionID] = at
	return nil
}

type fakeConfirmer struct {
	err   error
	calls int
}

func (c *fakeConfirmer) MarkDepositPaid(_ context.Context, businessID, appointmentID string) (model.Appointment, error) {
	c.calls++
	if c.err != nil {
		return model.Appointment{}, c.err
	}
	return model.Appointment{ID: appointmentID, BusinessID: businessID, State: model.StateConfirmed}, nil
}

func newTestGate(store Store, confirmer Confirmer) *Gate {
	return NewGate(Config{WebhookSecret: testWebhookSecret}, store, confirmer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func signedCheckoutEvent(t *testing.T, eventID, eventType string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     time.Now().Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":     "cs_test_1",
				"object": "checkout.session",
				"metadata": map[string]any{
					"business_id":    "biz-1",
					"appointment_id": "appt-1",
				},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return payload, signed.Header
}

func deliver(g *Gate, payload []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	g.Webhook(rec, req)
	return rec
}

// A transient failure while applying the deposit must not poison the
// idempotency table: the 500 tells Stripe to retry, and the retry has to be
// processed as a fresh delivery rather than acknowledged as a duplicate.
func TestWebhookApplyFailureIsRetryable(t *testing.T) {
	store := newFakeStore()
	confirmer := &fakeConfirmer{err: errors.New("database unavailable")}
	g := newTestGate(store, confirmer)

	payload, sig := signedCheckoutEvent(t, "evt_1", "checkout.session.completed")

	rec := deliver(g, payload, sig)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("first delivery status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if store.events["stripe/evt_1"] {
		t.Fatal("idempotency row retained after failed apply; retry would be dropped as duplicate")
	}

	confirmer.err = nil
	rec = deliver(g, payload, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d, want %d", rec.Code, http.StatusOK)
	}
	if confirmer.calls != 2 {
		t.Fatalf("confirmer calls = %d, want 2", confirmer.calls)
	}
	if !store.events["stripe/evt_1"] {
		t.Fatal("idempotency row missing after successful apply")
	}
}

func TestWebhookDuplicateDeliveryIsAcknowledged(t *testing.T) {
	store := newFakeStore()
	confirmer := &fakeConfirmer{}
	g := newTestGate(store, confirmer)

	payload, sig := signedCheckoutEvent(t, "evt_2", "checkout.session.completed")

	if rec := deliver(g, payload, sig); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d, want %d", rec.Code, http.StatusOK)
	}
	rec := deliver(g, payload, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "duplicate" {
		t.Errorf("replay status field = %v, want duplicate", body["status"])
	}
	if confirmer.calls != 1 {
		t.Errorf("confirmer calls = %d, want 1", confirmer.calls)
	}
}

// A deposit that settles after the slot was lost can never be applied, so the
// webhook acknowledges it and the idempotency row stays to absorb replays.
func TestWebhookLostSlotIsAcknowledged(t *testing.T) {
	store := newFakeStore()
	confirmer := &fakeConfirmer{err: booking.ErrSlotNoLongerAvailable}
	g := newTestGate(store, confirmer)

	payload, sig := signedCheckoutEvent(t, "evt_3", "checkout.session.completed")

	rec := deliver(g, payload, sig)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !store.events["stripe/evt_3"] {
		t.Error("idempotency row released for a terminal failure")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	store := newFakeStore()
	confirmer := &fakeConfirmer{}
	g := newTestGate(store, confirmer)

	payload, _ := signedCheckoutEvent(t, "evt_4", "checkout.session.completed")

	rec := deliver(g, payload, "t=1,v1=deadbeef")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if confirmer.calls != 0 {
		t.Error("confirmer reached with invalid signature")
	}
}
