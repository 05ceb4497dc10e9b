package webhook

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agendly/billing-service/internal/billing/engine"
	"github.com/agendly/billing-service/internal/billing/policy"
	"github.com/agendly/billing-service/internal/billing/webhook"
	"github.com/agendly/billing-service/internal/domain/ports"
	"github.com/agendly/billing-service/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func newTestHandler(gateway *mocks.MockChargeGateway) *Handler {
	db := &mocks.MockDBPort{}
	db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}

	eng := engine.New(db, subRepo, payRepo, policy.Default(), mocks.NopLogger{})
	reconciler := webhook.New(gateway, subRepo, eng, mocks.NopLogger{})
	return NewHandler(reconciler, zap.NewNop())
}

func TestHandleWebhook_NonPaymentEventIsConsumed(t *testing.T) {
	handler := newTestHandler(&mocks.MockChargeGateway{})

	req := httptest.NewRequest(http.MethodPost, "/subscription-webhook",
		bytes.NewBufferString(`{"type":"plan","data":{"id":"1"}}`))
	rec := httptest.NewRecorder()

	handler.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWebhook_MalformedBody(t *testing.T) {
	handler := newTestHandler(&mocks.MockChargeGateway{})

	req := httptest.NewRequest(http.MethodPost, "/subscription-webhook",
		bytes.NewBufferString(`{not json`))
	rec := httptest.NewRecorder()

	handler.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_MethodNotAllowed(t *testing.T) {
	handler := newTestHandler(&mocks.MockChargeGateway{})

	req := httptest.NewRequest(http.MethodGet, "/subscription-webhook", nil)
	rec := httptest.NewRecorder()

	handler.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleWebhook_ProcessingFailureAsksForRedelivery(t *testing.T) {
	gateway := &mocks.MockChargeGateway{}
	gateway.On("GetPaymentDetail", mock.Anything, "42").Return(nil, assert.AnError)
	handler := newTestHandler(gateway)

	req := httptest.NewRequest(http.MethodPost, "/subscription-webhook",
		bytes.NewBufferString(`{"type":"payment","data":{"id":"42"}}`))
	rec := httptest.NewRecorder()

	handler.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleWebhook_PendingPaymentIsConsumed(t *testing.T) {
	gateway := &mocks.MockChargeGateway{}
	gateway.On("GetPaymentDetail", mock.Anything, "43").Return(&ports.PaymentDetail{
		GatewayPaymentID: "43",
		Outcome:          ports.OutcomePending,
	}, nil)
	handler := newTestHandler(gateway)

	req := httptest.NewRequest(http.MethodPost, "/subscription-webhook",
		bytes.NewBufferString(`{"type":"payment","data":{"id":"43"}}`))
	rec := httptest.NewRecorder()

	handler.HandleWebhook(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
