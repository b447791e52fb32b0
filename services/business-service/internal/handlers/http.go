package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/slotpage/slotpage/libs/httpx"
	"github.com/slotpage/slotpage/services/business-service/internal/dayconfig"
	"github.com/slotpage/slotpage/services/business-service/internal/schedule"
	"github.com/slotpage/slotpage/services/business-service/internal/storage"
)

type Handler struct {
	repo   *storage.Repository
	logger *slog.Logger
}

func New(repo *storage.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func businessIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Business-Id"))
}

func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	b, err := h.repo.GetOrCreateBusiness(r.Context(), businessID)
	if err != nil {
		h.logger.Error("load business failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to load business", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) UpdateBusiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Name             string         `json:"name"`
		Timezone         string         `json:"timezone"`
		AvailabilityMode string         `json:"availability_mode"`
		CalendarRef      string         `json:"calendar_ref"`
		Policy           storage.Policy `json:"policy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "invalid timezone", http.StatusBadRequest)
		return
	}
	switch req.AvailabilityMode {
	case "":
		req.AvailabilityMode = dayconfig.ModePerWorker
	case dayconfig.ModePerWorker, dayconfig.ModeSingleResource:
	default:
		http.Error(w, "availability_mode must be per_worker or single_resource", http.StatusBadRequest)
		return
	}
	if req.Policy.DepositPercentage < 0 || req.Policy.DepositPercentage > 100 {
		http.Error(w, "deposit_percentage must be between 0 and 100", http.StatusBadRequest)
		return
	}
	if req.Policy.RequestDeposit && req.Policy.DepositPercentage == 0 {
		http.Error(w, "request_deposit needs a deposit_percentage", http.StatusBadRequest)
		return
	}
	if req.Policy.SlotStepMinutes <= 0 {
		req.Policy.SlotStepMinutes = 15
	}
	var offsets []int
	for _, v := range req.Policy.ReminderOffsetsMinutes {
		if v <= 0 || v > 365*24*60 {
			http.Error(w, "invalid reminder_offsets_minutes", http.StatusBadRequest)
			return
		}
		offsets = append(offsets, v)
	}
	if len(offsets) == 0 {
		offsets = []int{1440, 60}
	}
	req.Policy.ReminderOffsetsMinutes = offsets

	// First write may land before any read; ensure the row exists.
	if _, err := h.repo.GetOrCreateBusiness(r.Context(), businessID); err != nil {
		h.logger.Error("ensure business failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to update business", http.StatusInternalServerError)
		return
	}
	if err := h.repo.UpdateBusiness(r.Context(), businessID, req.Name, req.Timezone, req.AvailabilityMode, req.CalendarRef, req.Policy); err != nil {
		h.logger.Error("update business failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to update business", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Schedule schedule.Weekly `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.Schedule.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetOrCreateBusiness(r.Context(), businessID); err != nil {
		h.logger.Error("ensure business failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to update schedule", http.StatusInternalServerError)
		return
	}
	if err := h.repo.UpdateBusinessSchedule(r.Context(), businessID, req.Schedule); err != nil {
		h.logger.Error("update schedule failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to update schedule", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Name         string `json:"name"`
		DurationMins int    `json:"duration_minutes"`
		PriceCents   int64  `json:"price_cents"`
		Description  string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" || req.DurationMins <= 0 {
		http.Error(w, "name and duration_minutes required", http.StatusBadRequest)
		return
	}
	if req.PriceCents < 0 {
		http.Error(w, "price_cents must not be negative", http.StatusBadRequest)
		return
	}

	if _, err := h.repo.GetOrCreateBusiness(r.Context(), businessID); err != nil {
		h.logger.Error("ensure business failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to create service", http.StatusInternalServerError)
		return
	}
	id, err := h.repo.CreateService(r.Context(), businessID, req.Name, req.DurationMins, req.PriceCents, req.Description)
	if err != nil {
		h.logger.Error("create service failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to create service", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	services, err := h.repo.ListServices(r.Context(), businessID, 100)
	if err != nil {
		h.logger.Error("list services failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, services)
}

func (h *Handler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	var req struct {
		Name        string `json:"name"`
		CalendarRef string `json:"calendar_ref"`
		IsActive    *bool  `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	if _, err := h.repo.GetOrCreateBusiness(r.Context(), businessID); err != nil {
		h.logger.Error("ensure business failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to create worker", http.StatusInternalServerError)
		return
	}
	id, err := h.repo.CreateWorker(r.Context(), businessID, req.Name, strings.TrimSpace(req.CalendarRef), isActive)
	if err != nil {
		h.logger.Error("create worker failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to create worker", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	workers, err := h.repo.ListWorkers(r.Context(), businessID, false, 100)
	if err != nil {
		h.logger.Error("list workers failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to list workers", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, workers)
}

func (h *Handler) UpdateWorker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}
	workerID := strings.TrimSpace(r.URL.Query().Get("worker_id"))
	if workerID == "" {
		http.Error(w, "worker_id is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Name        string `json:"name"`
		CalendarRef string `json:"calendar_ref"`
		IsActive    *bool  `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	err := h.repo.UpdateWorker(r.Context(), businessID, workerID, req.Name, strings.TrimSpace(req.CalendarRef), isActive)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "worker not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("update worker failed", "err", err, "business_id", businessID, "worker_id", workerID)
		http.Error(w, "failed to update worker", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateWorkerSchedule sets a per-worker override; a body with "schedule": null
// clears it so the worker inherits the business schedule again.
func (h *Handler) UpdateWorkerSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}
	workerID := strings.TrimSpace(r.URL.Query().Get("worker_id"))
	if workerID == "" {
		http.Error(w, "worker_id is required", http.StatusBadRequest)
		return
	}

	var req struct {
		Schedule *schedule.Weekly `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Schedule != nil {
		if err := req.Schedule.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	err := h.repo.UpdateWorkerSchedule(r.Context(), businessID, workerID, req.Schedule)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "worker not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("update worker schedule failed", "err", err, "business_id", businessID, "worker_id", workerID)
		http.Error(w, "failed to update worker schedule", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}
	// Empty worker_id means a business-wide closure.
	workerID := strings.TrimSpace(r.URL.Query().Get("worker_id"))

	var req struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(req.EndTime))
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateTimeOff(r.Context(), businessID, workerID, start.UTC(), end.UTC(), req.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "worker not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("create time off failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to create time off", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListTimeOff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}
	workerID := strings.TrimSpace(r.URL.Query().Get("worker_id"))

	fromStr := strings.TrimSpace(r.URL.Query().Get("from"))
	toStr := strings.TrimSpace(r.URL.Query().Get("to"))
	if fromStr == "" || toStr == "" {
		http.Error(w, "from and to are required (RFC3339)", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	items, err := h.repo.ListTimeOff(r.Context(), businessID, workerID, from.UTC(), to.UTC(), 200)
	if err != nil {
		h.logger.Error("list time off failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to list time off", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) DeleteTimeOff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := businessIDFromHeader(r)
	if businessID == "" {
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	err := h.repo.DeleteTimeOff(r.Context(), businessID, id)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "time off not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("delete time off failed", "err", err, "business_id", businessID)
		http.Error(w, "failed to delete time off", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AvailabilityConfig serves booking-service's internal lookup. The 404
// bodies are load-bearing: the caller distinguishes business, service, and
// worker misses by message text.
func (h *Handler) AvailabilityConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	params := dayconfig.Params{
		BusinessID: strings.TrimSpace(q.Get("business_id")),
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
		WorkerID:   strings.TrimSpace(q.Get("worker_id")),
		Date:       strings.TrimSpace(q.Get("date")),
	}
	if params.BusinessID == "" || params.ServiceID == "" {
		http.Error(w, "business_id and service_id are required", http.StatusBadRequest)
		return
	}
	if atStr := strings.TrimSpace(q.Get("at")); atStr != "" {
		at, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			http.Error(w, "invalid at (RFC3339)", http.StatusBadRequest)
			return
		}
		params.At = &at
	} else if params.Date == "" {
		http.Error(w, "date or at is required", http.StatusBadRequest)
		return
	} else if _, err := time.Parse("2006-01-02", params.Date); err != nil {
		http.Error(w, "invalid date (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	cfg, err := dayconfig.Build(r.Context(), h.repo, params)
	switch {
	case errors.Is(err, dayconfig.ErrBusinessNotFound):
		http.Error(w, "business not found", http.StatusNotFound)
		return
	case errors.Is(err, dayconfig.ErrServiceNotFound):
		http.Error(w, "service not found", http.StatusNotFound)
		return
	case errors.Is(err, dayconfig.ErrWorkerNotFound):
		http.Error(w, "worker not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("availability config failed", "err", err, "business_id", params.BusinessID)
		http.Error(w, "failed to build availability config", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cfg)
}
