// Package webhook exposes the gateway notification endpoint.
package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/agendly/billing-service/internal/billing/webhook"
	"go.uber.org/zap"
)

// Gateway bodies are small; anything larger is not a legitimate event
const maxBodySize = 64 * 1024

// Handler handles gateway webhook deliveries
type Handler struct {
	reconciler *webhook.Reconciler
	logger     *zap.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(reconciler *webhook.Reconciler, logger *zap.Logger) *Handler {
	return &Handler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleWebhook handles POST /subscription-webhook. A 2xx tells the gateway
// the event is consumed; a 5xx asks for redelivery.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.respond(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", zap.Error(err))
		h.respond(w, http.StatusBadRequest, "unreadable body")
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		h.logger.Warn("Malformed webhook body",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.respond(w, http.StatusBadRequest, "malformed event")
		return
	}

	h.logger.Info("Webhook event received",
		zap.String("type", event.Type),
		zap.String("data_id", event.Data.ID),
	)

	if err := h.reconciler.Process(r.Context(), event, time.Now().UTC()); err != nil {
		h.logger.Error("Webhook processing failed",
			zap.String("type", event.Type),
			zap.String("data_id", event.Data.ID),
			zap.Error(err),
		)
		// 5xx so the gateway redelivers later
		h.respond(w, http.StatusInternalServerError, "processing failed")
		return
	}

	h.respond(w, http.StatusOK, "ok")
}

func (h *Handler) respond(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := map[string]interface{}{
		"status": message,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
