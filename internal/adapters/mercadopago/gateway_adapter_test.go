package mercadopago

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	pkgerrors "github.com/agendly/billing-service/pkg/errors"
	"github.com/agendly/billing-service/pkg/resilience"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	mock.Mock
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*http.Response), args.Error(1)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestAdapter(client ports.HTTPClient) *GatewayAdapter {
	adapter := NewGatewayAdapter("test-token", "https://api.test", client, nopLogger{})
	adapter.backoff = &resilience.FixedBackoff{Delay: 0}
	return adapter
}

type nopLogger struct{}

func (nopLogger) Info(msg string, fields ...ports.Field)  {}
func (nopLogger) Error(msg string, fields ...ports.Field) {}
func (nopLogger) Warn(msg string, fields ...ports.Field)  {}
func (nopLogger) Debug(msg string, fields ...ports.Field) {}

func chargeRequest() ports.ChargeRequest {
	return ports.ChargeRequest{
		SubscriptionID:        "4f8b2f5e-0000-0000-0000-000000000001",
		TenantID:              "tenant-1",
		GatewaySubscriptionID: "mp-preapproval-1",
		Amount:                decimal.NewFromInt(49),
		Currency:              "BRL",
		BillingCycle:          models.CycleMonthly,
		IdempotencyKey:        "sub-x-2025-06-01",
	}
}

func TestCreateCharge_Approved(t *testing.T) {
	client := &mockHTTPClient{}
	client.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.Method == http.MethodPost &&
			req.URL.Path == "/v1/payments" &&
			req.Header.Get("X-Idempotency-Key") == "sub-x-2025-06-01" &&
			req.Header.Get("Authorization") == "Bearer test-token"
	})).Return(jsonResponse(201, `{
		"id": 123456,
		"status": "approved",
		"status_detail": "accredited",
		"transaction_amount": 49.0,
		"date_approved": "2025-06-01T03:00:05Z"
	}`), nil)

	adapter := newTestAdapter(client)
	result, err := adapter.CreateCharge(context.Background(), chargeRequest())

	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApproved, result.Outcome)
	assert.Equal(t, "123456", result.GatewayPaymentID)
	assert.Equal(t, "accredited", result.StatusDetail)
	require.NotNil(t, result.PaidAt)
}

func TestCreateCharge_DeclineIsResultNotError(t *testing.T) {
	client := &mockHTTPClient{}
	client.On("Do", mock.Anything).Return(jsonResponse(201, `{
		"id": 123457,
		"status": "rejected",
		"status_detail": "cc_rejected_insufficient_amount",
		"transaction_amount": 49.0
	}`), nil)

	adapter := newTestAdapter(client)
	result, err := adapter.CreateCharge(context.Background(), chargeRequest())

	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeRejected, result.Outcome)
	assert.Equal(t, "cc_rejected_insufficient_amount", result.StatusDetail)
}

func TestCreateCharge_ServerErrorRetriesThenFailsTransient(t *testing.T) {
	client := &mockHTTPClient{}
	client.On("Do", mock.Anything).Return(jsonResponse(502, `{}`), nil)

	adapter := newTestAdapter(client)
	_, err := adapter.CreateCharge(context.Background(), chargeRequest())

	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
	client.AssertNumberOfCalls(t, "Do", maxRequestAttempts)
}

func TestCreateCharge_ClientErrorIsPermanent(t *testing.T) {
	client := &mockHTTPClient{}
	client.On("Do", mock.Anything).Return(jsonResponse(400, `{"message":"invalid preapproval_id"}`), nil)

	adapter := newTestAdapter(client)
	_, err := adapter.CreateCharge(context.Background(), chargeRequest())

	require.Error(t, err)
	assert.False(t, pkgerrors.IsTransient(err))

	var pe *pkgerrors.PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "invalid preapproval_id", pe.GatewayMessage)
	client.AssertNumberOfCalls(t, "Do", 1)
}

func TestCreateCharge_NetworkErrorIsTransient(t *testing.T) {
	client := &mockHTTPClient{}
	client.On("Do", mock.Anything).Return(nil, assert.AnError)

	adapter := newTestAdapter(client)
	_, err := adapter.CreateCharge(context.Background(), chargeRequest())

	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestCreateCharge_MissingIdempotencyKey(t *testing.T) {
	client := &mockHTTPClient{}
	adapter := newTestAdapter(client)

	req := chargeRequest()
	req.IdempotencyKey = ""

	_, err := adapter.CreateCharge(context.Background(), req)
	require.Error(t, err)
	client.AssertNotCalled(t, "Do", mock.Anything)
}

func TestGetPaymentDetail(t *testing.T) {
	client := &mockHTTPClient{}
	client.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.Method == http.MethodGet && req.URL.Path == "/v1/payments/123456"
	})).Return(jsonResponse(200, `{
		"id": 123456,
		"status": "approved",
		"status_detail": "accredited",
		"transaction_amount": 49.0,
		"currency_id": "BRL",
		"external_reference": "4f8b2f5e-0000-0000-0000-000000000001",
		"date_approved": "2025-06-01T03:00:05Z"
	}`), nil)

	adapter := newTestAdapter(client)
	detail, err := adapter.GetPaymentDetail(context.Background(), "123456")

	require.NoError(t, err)
	assert.Equal(t, ports.OutcomeApproved, detail.Outcome)
	assert.Equal(t, "4f8b2f5e-0000-0000-0000-000000000001", detail.ExternalReference)
	assert.Equal(t, "BRL", detail.Currency)
}

func TestCreatePreapproval(t *testing.T) {
	client := &mockHTTPClient{}
	client.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.Method == http.MethodPost && req.URL.Path == "/preapproval"
	})).Return(jsonResponse(201, `{
		"id": "mp-preapproval-77",
		"status": "pending",
		"init_point": "https://www.mercadopago.com/checkout/77"
	}`), nil)

	adapter := newTestAdapter(client)
	result, err := adapter.CreatePreapproval(context.Background(), ports.PreapprovalRequest{
		Reason:            "Agendly Pro monthly",
		Amount:            decimal.NewFromInt(49),
		Currency:          "BRL",
		BillingCycle:      models.CycleMonthly,
		BackURL:           "https://app.agendly.com/billing/return",
		ExternalReference: "4f8b2f5e-0000-0000-0000-000000000001",
	})

	require.NoError(t, err)
	assert.Equal(t, "mp-preapproval-77", result.GatewaySubscriptionID)
	assert.Equal(t, "https://www.mercadopago.com/checkout/77", result.CheckoutURL)
}

func TestCancelPreapproval(t *testing.T) {
	client := &mockHTTPClient{}
	client.On("Do", mock.MatchedBy(func(req *http.Request) bool {
		return req.Method == http.MethodPut && req.URL.Path == "/preapproval/mp-preapproval-77"
	})).Return(jsonResponse(200, `{"id":"mp-preapproval-77","status":"cancelled"}`), nil)

	adapter := newTestAdapter(client)
	err := adapter.CancelPreapproval(context.Background(), "mp-preapproval-77")
	require.NoError(t, err)
}

func TestMapPaymentStatus(t *testing.T) {
	assert.Equal(t, ports.OutcomeApproved, mapPaymentStatus("approved"))
	assert.Equal(t, ports.OutcomeRejected, mapPaymentStatus("rejected"))
	assert.Equal(t, ports.OutcomeRejected, mapPaymentStatus("cancelled"))
	assert.Equal(t, ports.OutcomePending, mapPaymentStatus("pending"))
	assert.Equal(t, ports.OutcomePending, mapPaymentStatus("in_process"))
}
