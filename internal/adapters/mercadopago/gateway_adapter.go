// Package mercadopago implements the charge gateway against the
// Mercado Pago REST API.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	pkgerrors "github.com/agendly/billing-service/pkg/errors"
	"github.com/agendly/billing-service/pkg/resilience"
	"github.com/shopspring/decimal"
)

// DefaultBaseURL is the production Mercado Pago API endpoint
const DefaultBaseURL = "https://api.mercadopago.com"

const maxRequestAttempts = 3

// GatewayAdapter implements ports.ChargeGateway for Mercado Pago
type GatewayAdapter struct {
	accessToken string
	baseURL     string
	httpClient  ports.HTTPClient
	backoff     resilience.BackoffStrategy
	logger      ports.Logger
}

// NewGatewayAdapter creates a new Mercado Pago adapter with dependency injection
func NewGatewayAdapter(accessToken, baseURL string, httpClient ports.HTTPClient, logger ports.Logger) *GatewayAdapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GatewayAdapter{
		accessToken: accessToken,
		baseURL:     baseURL,
		httpClient:  httpClient,
		backoff:     resilience.DefaultExponentialBackoff(),
		logger:      logger,
	}
}

// paymentRequest is the Mercado Pago payment creation body
type paymentRequest struct {
	TransactionAmount float64           `json:"transaction_amount"`
	Description       string            `json:"description"`
	ExternalReference string            `json:"external_reference"`
	PreapprovalID     string            `json:"preapproval_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// paymentResponse is the Mercado Pago payment representation
type paymentResponse struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	StatusDetail      string  `json:"status_detail"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	ExternalReference string  `json:"external_reference"`
	DateApproved      string  `json:"date_approved"`
}

// preapprovalRequest is the Mercado Pago recurring authorization body
type preapprovalRequest struct {
	Reason            string `json:"reason"`
	ExternalReference string `json:"external_reference"`
	BackURL           string `json:"back_url"`
	AutoRecurring     struct {
		Frequency         int     `json:"frequency"`
		FrequencyType     string  `json:"frequency_type"`
		TransactionAmount float64 `json:"transaction_amount"`
		CurrencyID        string  `json:"currency_id"`
	} `json:"auto_recurring"`
}

// preapprovalResponse is the Mercado Pago preapproval representation
type preapprovalResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	InitPoint string `json:"init_point"`
}

// CreateCharge implements ChargeGateway.CreateCharge. The idempotency key is
// forwarded as X-Idempotency-Key so network-level retries of the same logical
// attempt never create two gateway charges.
func (a *GatewayAdapter) CreateCharge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	if req.GatewaySubscriptionID == "" {
		return nil, pkgerrors.NewValidationError("gateway_subscription_id", "gateway subscription id is required")
	}
	if req.IdempotencyKey == "" {
		return nil, pkgerrors.NewValidationError("idempotency_key", "idempotency key is required")
	}

	apiReq := paymentRequest{
		TransactionAmount: req.Amount.InexactFloat64(),
		Description:       fmt.Sprintf("%s subscription renewal", req.BillingCycle),
		ExternalReference: req.SubscriptionID,
		PreapprovalID:     req.GatewaySubscriptionID,
		Metadata:          req.Metadata,
	}

	headers := map[string]string{"X-Idempotency-Key": req.IdempotencyKey}

	var resp paymentResponse
	if err := a.makeRequest(ctx, http.MethodPost, "/v1/payments", headers, apiReq, &resp); err != nil {
		return nil, err
	}

	return &ports.ChargeResult{
		Outcome:          mapPaymentStatus(resp.Status),
		GatewayPaymentID: fmt.Sprintf("%d", resp.ID),
		Amount:           decimal.NewFromFloat(resp.TransactionAmount),
		StatusDetail:     resp.StatusDetail,
		PaidAt:           parseAPITime(resp.DateApproved),
	}, nil
}

// GetPaymentDetail implements ChargeGateway.GetPaymentDetail
func (a *GatewayAdapter) GetPaymentDetail(ctx context.Context, gatewayPaymentID string) (*ports.PaymentDetail, error) {
	endpoint := fmt.Sprintf("/v1/payments/%s", gatewayPaymentID)

	var resp paymentResponse
	if err := a.makeRequest(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
		return nil, err
	}

	return &ports.PaymentDetail{
		GatewayPaymentID:  fmt.Sprintf("%d", resp.ID),
		ExternalReference: resp.ExternalReference,
		Outcome:           mapPaymentStatus(resp.Status),
		Amount:            decimal.NewFromFloat(resp.TransactionAmount),
		Currency:          resp.CurrencyID,
		StatusDetail:      resp.StatusDetail,
		PaidAt:            parseAPITime(resp.DateApproved),
	}, nil
}

// CreatePreapproval implements ChargeGateway.CreatePreapproval
func (a *GatewayAdapter) CreatePreapproval(ctx context.Context, req ports.PreapprovalRequest) (*ports.PreapprovalResult, error) {
	apiReq := preapprovalRequest{
		Reason:            req.Reason,
		ExternalReference: req.ExternalReference,
		BackURL:           req.BackURL,
	}
	apiReq.AutoRecurring.Frequency = 1
	apiReq.AutoRecurring.FrequencyType = mapCycleToFrequencyType(req.BillingCycle)
	apiReq.AutoRecurring.TransactionAmount = req.Amount.InexactFloat64()
	apiReq.AutoRecurring.CurrencyID = req.Currency

	var resp preapprovalResponse
	if err := a.makeRequest(ctx, http.MethodPost, "/preapproval", nil, apiReq, &resp); err != nil {
		return nil, err
	}

	return &ports.PreapprovalResult{
		GatewaySubscriptionID: resp.ID,
		CheckoutURL:           resp.InitPoint,
		Status:                resp.Status,
	}, nil
}

// CancelPreapproval implements ChargeGateway.CancelPreapproval
func (a *GatewayAdapter) CancelPreapproval(ctx context.Context, gatewaySubscriptionID string) error {
	endpoint := fmt.Sprintf("/preapproval/%s", gatewaySubscriptionID)
	body := map[string]string{"status": "cancelled"}

	var resp preapprovalResponse
	return a.makeRequest(ctx, http.MethodPut, endpoint, nil, body, &resp)
}

// makeRequest performs one API call, retrying transient failures with
// backoff. Non-2xx classification: 5xx retriable, 4xx permanent.
func (a *GatewayAdapter) makeRequest(ctx context.Context, method, endpoint string, headers map[string]string, request, response interface{}) error {
	var payloadBytes []byte
	var err error

	if request != nil {
		payloadBytes, err = json.Marshal(request)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxRequestAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return pkgerrors.NewPaymentError("NETWORK_ERROR", "request cancelled", pkgerrors.CategoryNetworkError, true)
			case <-time.After(a.backoff.NextDelay(attempt - 1)):
			}
		}

		lastErr = a.doRequest(ctx, method, endpoint, headers, payloadBytes, response)
		if lastErr == nil {
			return nil
		}
		if !pkgerrors.IsTransient(lastErr) {
			return lastErr
		}

		a.logger.Warn("gateway request failed, retrying",
			ports.String("method", method),
			ports.String("endpoint", endpoint),
			ports.Int("attempt", attempt+1),
			ports.Err(lastErr))
	}

	return lastErr
}

func (a *GatewayAdapter) doRequest(ctx context.Context, method, endpoint string, headers map[string]string, payload []byte, response interface{}) error {
	url := a.baseURL + endpoint
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.accessToken)
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.NewPaymentError("NETWORK_ERROR", "failed to reach payment gateway", pkgerrors.CategoryNetworkError, true)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return pkgerrors.NewPaymentError("NETWORK_ERROR", "failed to read gateway response", pkgerrors.CategoryNetworkError, true)
	}

	if httpResp.StatusCode >= 500 {
		return pkgerrors.NewPaymentError("GATEWAY_ERROR", "payment gateway error", pkgerrors.CategorySystemError, true)
	}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return pkgerrors.NewPaymentError("RATE_LIMITED", "payment gateway rate limit", pkgerrors.CategorySystemError, true)
	}
	if httpResp.StatusCode >= 400 {
		return a.apiError(body, httpResp.StatusCode)
	}

	if response != nil {
		if err := json.Unmarshal(body, response); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// apiError maps a Mercado Pago error body to a permanent PaymentError
func (a *GatewayAdapter) apiError(body []byte, statusCode int) error {
	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)

	message := apiErr.Message
	if message == "" {
		message = apiErr.Error
	}
	if message == "" {
		message = fmt.Sprintf("gateway returned status %d", statusCode)
	}

	return &pkgerrors.PaymentError{
		Code:           "REQUEST_ERROR",
		Message:        "invalid request to payment gateway",
		GatewayMessage: message,
		Category:       pkgerrors.CategoryInvalidRequest,
		IsRetriable:    false,
	}
}

// mapPaymentStatus normalizes Mercado Pago payment statuses
func mapPaymentStatus(status string) ports.ChargeOutcome {
	switch status {
	case "approved":
		return ports.OutcomeApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return ports.OutcomeRejected
	default:
		// pending, in_process, authorized
		return ports.OutcomePending
	}
}

func mapCycleToFrequencyType(cycle models.BillingCycle) string {
	if cycle == models.CycleYearly {
		return "years"
	}
	return "months"
}

func parseAPITime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
