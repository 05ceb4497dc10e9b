// Package admin exposes operator endpoints for subscription support
// workflows.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agendly/billing-service/internal/billing/service"
	"github.com/agendly/billing-service/internal/domain/models"
	pkgerrors "github.com/agendly/billing-service/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SubscriptionHandler handles operator subscription endpoints
type SubscriptionHandler struct {
	service     *service.Service
	logger      *zap.Logger
	adminSecret string
}

// NewSubscriptionHandler creates a new admin subscription handler
func NewSubscriptionHandler(svc *service.Service, logger *zap.Logger, adminSecret string) *SubscriptionHandler {
	return &SubscriptionHandler{
		service:     svc,
		logger:      logger,
		adminSecret: adminSecret,
	}
}

// Register wires the handler's routes onto mux
func (h *SubscriptionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/subscriptions", h.Create)
	mux.HandleFunc("GET /admin/subscriptions/{id}", h.Get)
	mux.HandleFunc("GET /admin/tenants/{tenantID}/subscriptions", h.ListByTenant)
	mux.HandleFunc("POST /admin/subscriptions/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /admin/subscriptions/{id}/billing-date", h.OverrideBillingDate)
}

// CreateRequest is the subscription creation body
type CreateRequest struct {
	TenantID     string            `json:"tenant_id"`
	PlanType     string            `json:"plan_type"`
	BillingCycle string            `json:"billing_cycle"`
	PriceAmount  string            `json:"price_amount"`
	Currency     string            `json:"currency"`
	StartDate    string            `json:"start_date"` // Optional: YYYY-MM-DD
	BackURL      string            `json:"back_url"`
	Metadata     map[string]string `json:"metadata"`
}

// Create handles POST /admin/subscriptions
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.PriceAmount)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid price_amount")
		return
	}

	var startDate time.Time
	if req.StartDate != "" {
		startDate, err = time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid start_date, expected YYYY-MM-DD")
			return
		}
	}

	resp, err := h.service.CreateSubscription(r.Context(), service.CreateSubscriptionRequest{
		TenantID:     req.TenantID,
		PlanType:     req.PlanType,
		BillingCycle: models.BillingCycle(req.BillingCycle),
		PriceAmount:  amount,
		Currency:     req.Currency,
		StartDate:    startDate,
		BackURL:      req.BackURL,
		Metadata:     req.Metadata,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"subscription": toSubscriptionView(resp.Subscription),
		"checkout_url": resp.CheckoutURL,
	})
}

// Get handles GET /admin/subscriptions/{id}
func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	detail, err := h.service.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	payments := make([]map[string]interface{}, len(detail.Payments))
	for i, p := range detail.Payments {
		payments[i] = toPaymentView(p)
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscription": toSubscriptionView(detail.Subscription),
		"payments":     payments,
	})
}

// ListByTenant handles GET /admin/tenants/{tenantID}/subscriptions
func (h *SubscriptionHandler) ListByTenant(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	subs, err := h.service.ListByTenant(r.Context(), r.PathValue("tenantID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	views := make([]map[string]interface{}, len(subs))
	for i, sub := range subs {
		views[i] = toSubscriptionView(sub)
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": views,
	})
}

// CancelRequest is the cancellation body
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /admin/subscriptions/{id}/cancel
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	var req CancelRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sub, err := h.service.CancelSubscription(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscription": toSubscriptionView(sub),
	})
}

// OverrideBillingDateRequest is the billing date override body
type OverrideBillingDateRequest struct {
	NextBillingDate string `json:"next_billing_date"` // YYYY-MM-DD
}

// OverrideBillingDate handles POST /admin/subscriptions/{id}/billing-date
func (h *SubscriptionHandler) OverrideBillingDate(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}

	var req OverrideBillingDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := time.Parse("2006-01-02", req.NextBillingDate)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid next_billing_date, expected YYYY-MM-DD")
		return
	}

	sub, err := h.service.OverrideNextBillingDate(r.Context(), r.PathValue("id"), date)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.logger.Warn("Billing date overridden by operator",
		zap.String("subscription_id", sub.ID),
		zap.String("next_billing_date", req.NextBillingDate),
	)

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscription": toSubscriptionView(sub),
	})
}

func (h *SubscriptionHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	secret := r.Header.Get("X-Admin-Secret")
	if secret == "" || secret != h.adminSecret {
		h.logger.Warn("Unauthorized admin request",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("path", r.URL.Path),
		)
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

func (h *SubscriptionHandler) respondServiceError(w http.ResponseWriter, err error) {
	var ve *pkgerrors.ValidationError
	if errors.As(err, &ve) {
		h.respondError(w, http.StatusBadRequest, ve.Error())
		return
	}
	h.respondError(w, http.StatusInternalServerError, err.Error())
}

func (h *SubscriptionHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func (h *SubscriptionHandler) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func toSubscriptionView(sub *models.Subscription) map[string]interface{} {
	view := map[string]interface{}{
		"id":                      sub.ID,
		"tenant_id":               sub.TenantID,
		"plan_type":               sub.PlanType,
		"billing_cycle":           string(sub.BillingCycle),
		"price_amount":            sub.PriceAmount.String(),
		"currency":                sub.Currency,
		"status":                  string(sub.Status),
		"next_billing_date":       sub.NextBillingDate.Format(time.RFC3339),
		"retry_count":             sub.RetryCount,
		"gateway_subscription_id": sub.GatewaySubscriptionID,
		"created_at":              sub.CreatedAt.Format(time.RFC3339),
		"updated_at":              sub.UpdatedAt.Format(time.RFC3339),
	}
	if sub.GraceEnteredAt != nil {
		view["grace_entered_at"] = sub.GraceEnteredAt.Format(time.RFC3339)
	}
	if sub.CancelledAt != nil {
		view["cancelled_at"] = sub.CancelledAt.Format(time.RFC3339)
	}
	return view
}

func toPaymentView(p *models.Payment) map[string]interface{} {
	view := map[string]interface{}{
		"id":                 p.ID,
		"amount":             p.Amount.String(),
		"currency":           p.Currency,
		"billing_cycle":      string(p.BillingCycle),
		"status":             string(p.Status),
		"gateway_payment_id": p.GatewayPaymentID,
		"failure_reason":     p.FailureReason,
		"created_at":         p.CreatedAt.Format(time.RFC3339),
	}
	if p.PaidAt != nil {
		view["paid_at"] = p.PaidAt.Format(time.RFC3339)
	}
	return view
}
