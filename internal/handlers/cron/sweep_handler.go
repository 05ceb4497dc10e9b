// Package cron exposes endpoints for scheduler-triggered billing runs.
package cron

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agendly/billing-service/internal/billing/sweep"
	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	"go.uber.org/zap"
)

// SweepHandler handles cron job endpoints for the billing sweep
type SweepHandler struct {
	sweeper    *sweep.Sweeper
	subRepo    ports.SubscriptionRepository
	logger     *zap.Logger
	cronSecret string
}

// NewSweepHandler creates a new sweep cron handler
func NewSweepHandler(sweeper *sweep.Sweeper, subRepo ports.SubscriptionRepository, logger *zap.Logger, cronSecret string) *SweepHandler {
	return &SweepHandler{
		sweeper:    sweeper,
		subRepo:    subRepo,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// RunSweepRequest represents the request body for a manual sweep trigger
type RunSweepRequest struct {
	AsOfDate  *string `json:"as_of_date"` // Optional: ISO date string, defaults to now
	BatchSize *int    `json:"batch_size"` // Optional: defaults to 100
}

// RunSweepResponse represents the sweep run result
type RunSweepResponse struct {
	Success     bool     `json:"success"`
	Selected    int      `json:"selected"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	Skipped     int      `json:"skipped"`
	Suspended   int      `json:"suspended"`
	Transient   int      `json:"transient"`
	Errors      []string `json:"errors,omitempty"`
	ProcessedAt string   `json:"processed_at"`
}

// RunSweep handles the POST /cron/run-sweep endpoint, called by the
// external scheduler or operators for a manual run.
func (h *SweepHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Sweep cron job triggered",
		zap.String("method", r.Method),
		zap.String("remote_addr", r.RemoteAddr),
	)

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request",
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RunSweepRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Warn("Failed to parse request body", zap.Error(err))
			// Continue with defaults if parsing fails
		}
	}

	asOf := time.Now().UTC()
	if req.AsOfDate != nil {
		parsed, err := time.Parse("2006-01-02", *req.AsOfDate)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid as_of_date format: %v", err))
			return
		}
		asOf = parsed
	}

	batchSize := 100
	if req.BatchSize != nil {
		if *req.BatchSize < 1 || *req.BatchSize > 1000 {
			h.respondError(w, http.StatusBadRequest, "batch_size must be between 1 and 1000")
			return
		}
		batchSize = *req.BatchSize
	}

	result, err := h.sweeper.Run(r.Context(), asOf, batchSize)
	if err != nil {
		h.logger.Error("Sweep run failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "sweep run failed")
		return
	}

	resp := RunSweepResponse{
		Success:     result.Failed == 0,
		Selected:    result.Selected,
		Succeeded:   result.Succeeded,
		Failed:      result.Failed,
		Skipped:     result.Skipped,
		Suspended:   result.Suspended,
		Transient:   result.Transient,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, sweepErr := range result.Errors {
		resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %s", sweepErr.SubscriptionID, sweepErr.Error))
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Success {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusPartialContent)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// HealthCheck handles GET /cron/health for monitoring
func (h *SweepHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	json.NewEncoder(w).Encode(resp)
}

// Stats handles GET /cron/stats for monitoring the subscription population
func (h *SweepHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.authenticateRequest(r) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	counts, err := h.subRepo.CountByStatus(r.Context(), nil)
	if err != nil {
		h.logger.Error("Failed to count subscriptions", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := map[string]interface{}{
		"success": true,
		"stats": map[string]interface{}{
			"total_subscriptions": total,
			"active":              counts[models.SubStatusActive],
			"payment_failed":      counts[models.SubStatusPaymentFailed],
			"grace_period":        counts[models.SubStatusGracePeriod],
			"suspended":           counts[models.SubStatusSuspended],
			"cancelled":           counts[models.SubStatusCancelled],
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// authenticateRequest verifies the cron request is authorized
func (h *SweepHandler) authenticateRequest(r *http.Request) bool {
	cronSecret := r.Header.Get("X-Cron-Secret")
	if cronSecret != "" && cronSecret == h.cronSecret {
		return true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "Bearer "+h.cronSecret {
		return true
	}

	return false
}

func (h *SweepHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := map[string]interface{}{
		"success": false,
		"error":   message,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}
