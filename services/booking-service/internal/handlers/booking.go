package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slotpage/slotpage/libs/httpx"
	"github.com/slotpage/slotpage/services/booking-service/internal/booking"
	"github.com/slotpage/slotpage/services/booking-service/internal/deposits"
	"github.com/slotpage/slotpage/services/booking-service/internal/model"
	"github.com/slotpage/slotpage/services/booking-service/internal/scheduling"
	"github.com/slotpage/slotpage/services/booking-service/internal/storage"
)

type BookingHandler struct {
	engine   *booking.Engine
	repo     *storage.Repository
	deposits *deposits.Gate
	logger   *slog.Logger
}

func NewBookingHandler(engine *booking.Engine, repo *storage.Repository, gate *deposits.Gate, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, repo: repo, deposits: gate, logger: logger}
}

type requestBookingRequest struct {
	BusinessID  string `json:"business_id"`
	ServiceID   string `json:"service_id"`
	WorkerID    string `json:"worker_id"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
	StartTime   string `json:"start_time"`
}

type appointmentResponse struct {
	AppointmentID      string `json:"appointment_id"`
	WorkerID           string `json:"worker_id,omitempty"`
	ServiceID          string `json:"service_id"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	State              string `json:"state"`
	DepositRequired    bool   `json:"deposit_required,omitempty"`
	DepositAmountCents int64  `json:"deposit_amount_cents,omitempty"`
	CalendarSyncStatus string `json:"calendar_sync_status,omitempty"`
	ManageToken        string `json:"manage_token,omitempty"`
	CancelledAt        string `json:"cancelled_at,omitempty"`
	CreatedAt          string `json:"created_at,omitempty"`
}

func toResponse(appt model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		AppointmentID:      appt.ID,
		WorkerID:           appt.WorkerID,
		ServiceID:          appt.ServiceID,
		StartTime:          appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:            appt.EndTime.UTC().Format(time.RFC3339),
		State:              string(appt.State),
		DepositRequired:    appt.DepositRequired,
		DepositAmountCents: appt.DepositAmountCents,
	}
	if appt.CalendarSyncPending {
		resp.CalendarSyncStatus = "pending"
	}
	if appt.CancelledAt != nil {
		resp.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	if !appt.CreatedAt.IsZero() {
		resp.CreatedAt = appt.CreatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Slots serves the public availability listing for a landing page.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	businessID := strings.TrimSpace(q.Get("business_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	workerID := strings.TrimSpace(q.Get("worker_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if businessID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "business_id, service_id, and date are required", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("2006-01-02", dateStr); err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	slots, err := h.engine.ListSlots(r.Context(), businessID, serviceID, workerID, dateStr)
	if err != nil {
		h.writeEngineError(w, err, "failed to list slots")
		return
	}
	if slots == nil {
		slots = []booking.Slot{}
	}
	httpx.WriteJSON(w, http.StatusOK, slots)
}

// Request handles a public booking request. The Idempotency-Key header makes
// retries replay the original outcome instead of booking twice.
func (h *BookingHandler) Request(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req requestBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	req.ClientName = strings.TrimSpace(req.ClientName)
	req.ClientEmail = strings.TrimSpace(req.ClientEmail)
	if req.BusinessID == "" || req.ServiceID == "" || req.ClientName == "" || req.ClientEmail == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, claimed, err := h.repo.ClaimIdempotencyKey(ctx, req.BusinessID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to claim idempotency key", http.StatusInternalServerError)
			return
		}
		if !claimed {
			if rec.StatusCode > 0 && len(rec.ResponsePayload) > 0 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(rec.StatusCode)
				_, _ = w.Write(rec.ResponsePayload)
				return
			}
			http.Error(w, "request with this idempotency key is in progress", http.StatusConflict)
			return
		}
	}

	appt, token, err := h.engine.Request(ctx, booking.RequestInput{
		BusinessID:  req.BusinessID,
		ServiceID:   req.ServiceID,
		WorkerID:    req.WorkerID,
		Start:       start,
		ClientName:  req.ClientName,
		ClientEmail: req.ClientEmail,
		ClientPhone: strings.TrimSpace(req.ClientPhone),
	})
	// Calendar sync failure still booked the appointment; report it as created.
	if err != nil && !errors.Is(err, booking.ErrCalendarSync) {
		status, msg := bookingErrorStatus(err, "failed to create appointment")
		if idempotencyKey != "" && status < http.StatusInternalServerError {
			h.finalizeIdempotencyError(ctx, req.BusinessID, idempotencyKey, status, msg)
		} else if idempotencyKey != "" {
			// Internal failure: free the key so the client can retry.
			_ = h.repo.ReleaseIdempotencyKey(ctx, req.BusinessID, idempotencyKey)
		}
		http.Error(w, msg, status)
		return
	}

	resp := toResponse(appt)
	resp.ManageToken = token
	body, merr := json.Marshal(resp)
	if merr != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotencyKey(ctx, req.BusinessID, idempotencyKey, appt.ID, http.StatusCreated, body); err != nil {
			h.logger.Error("failed to finalize idempotency key", "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

type appointmentActionRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
	ManageToken   string `json:"manage_token"`
	StartTime     string `json:"start_time"`
}

func decodeAction(w http.ResponseWriter, r *http.Request) (appointmentActionRequest, bool) {
	var req appointmentActionRequest
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return req, false
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// Approve is the operator's manual confirmation.
func (h *BookingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.Approve(r.Context(), req.BusinessID, req.AppointmentID)
	if err != nil && !errors.Is(err, booking.ErrCalendarSync) {
		h.writeEngineError(w, err, "failed to approve appointment")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

// Cancel is the operator cancellation path.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by business"
	}
	appt, err := h.engine.Cancel(r.Context(), req.BusinessID, req.AppointmentID, reason)
	if err != nil && !errors.Is(err, booking.ErrCalendarSync) {
		h.writeEngineError(w, err, "failed to cancel appointment")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

// ManageCancel lets the client cancel with the manage token from the booking
// confirmation, no account needed.
func (h *BookingHandler) ManageCancel(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.ManageToken) == "" {
		http.Error(w, "manage_token required", http.StatusBadRequest)
		return
	}
	appt, err := h.engine.CancelWithToken(r.Context(), req.BusinessID, req.AppointmentID, req.ManageToken)
	if err != nil && !errors.Is(err, booking.ErrCalendarSync) {
		h.writeEngineError(w, err, "failed to cancel appointment")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

// Reschedule moves an appointment to a new start time.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	appt, err := h.engine.Reschedule(r.Context(), req.BusinessID, req.AppointmentID, start)
	if err != nil && !errors.Is(err, booking.ErrCalendarSync) {
		h.writeEngineError(w, err, "failed to reschedule appointment")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

// DepositPaid records a deposit collected outside Stripe (cash at the
// counter, bank transfer) and confirms the appointment.
func (h *BookingHandler) DepositPaid(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.MarkDepositPaid(r.Context(), req.BusinessID, req.AppointmentID)
	if err != nil && !errors.Is(err, booking.ErrCalendarSync) {
		h.writeEngineError(w, err, "failed to record deposit")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(appt))
}

// DepositCheckout opens the Stripe payment page for an awaiting_deposit
// appointment.
func (h *BookingHandler) DepositCheckout(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAction(w, r)
	if !ok {
		return
	}
	if h.deposits == nil || !h.deposits.Configured() {
		http.Error(w, "deposits not configured", http.StatusNotImplemented)
		return
	}
	appt, err := h.engine.Get(r.Context(), req.BusinessID, req.AppointmentID)
	if err != nil {
		h.writeEngineError(w, err, "failed to load appointment")
		return
	}
	url, err := h.deposits.CreateCheckout(r.Context(), appt, appt.ServiceID)
	if err != nil {
		if errors.Is(err, deposits.ErrNotConfigured) {
			http.Error(w, "deposits not configured", http.StatusNotImplemented)
			return
		}
		h.logger.Error("deposit checkout failed", "appointment_id", appt.ID, "err", err)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"checkout_url": url})
}

// List serves the operator dashboard's appointment history.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.Header.Get("X-Business-Id"))
	if businessID == "" {
		businessID = strings.TrimSpace(r.URL.Query().Get("business_id"))
	}
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, -1, 0)
	to := now.AddDate(0, 3, 0)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
		from = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid to date", http.StatusBadRequest)
			return
		}
		to = t.AddDate(0, 0, 1)
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	appts, err := h.repo.ListByBusiness(r.Context(), businessID, from, to, limit)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toResponse(appt))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) finalizeIdempotencyError(ctx context.Context, businessID, key string, statusCode int, msg string) {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return
	}
	if err := h.repo.FinalizeIdempotencyKey(ctx, businessID, key, "", statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency key (error)", "err", err)
	}
}

func bookingErrorStatus(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, booking.ErrInvalidSchedule):
		return http.StatusUnprocessableEntity, "requested time is outside business availability"
	case errors.Is(err, booking.ErrSlotUnavailable):
		return http.StatusConflict, "time slot already booked"
	case errors.Is(err, booking.ErrSlotNoLongerAvailable):
		return http.StatusConflict, "time slot no longer available"
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "appointment state does not allow this action"
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "appointment not found"
	case errors.Is(err, scheduling.ErrBusinessNotFound),
		errors.Is(err, scheduling.ErrServiceNotFound),
		errors.Is(err, scheduling.ErrWorkerNotFound):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, fallback
	}
}

func (h *BookingHandler) writeEngineError(w http.ResponseWriter, err error, fallback string) {
	status, msg := bookingErrorStatus(err, fallback)
	if status == http.StatusInternalServerError {
		h.logger.Error(fallback, "err", err)
	}
	http.Error(w, msg, status)
}
