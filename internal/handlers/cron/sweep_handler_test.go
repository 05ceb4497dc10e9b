package cron

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agendly/billing-service/internal/billing/engine"
	"github.com/agendly/billing-service/internal/billing/policy"
	"github.com/agendly/billing-service/internal/billing/sweep"
	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "cron-secret"

func newTestSweepHandler(subRepo *mocks.MockSubscriptionRepository) *SweepHandler {
	db := &mocks.MockDBPort{}
	db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)

	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	eng := engine.New(db, subRepo, payRepo, policy.Default(), mocks.NopLogger{})
	sweeper := sweep.New(db, subRepo, eng, gateway, mocks.NopLogger{})
	return NewSweepHandler(sweeper, subRepo, zap.NewNop(), testSecret)
}

func TestRunSweep_Unauthorized(t *testing.T) {
	handler := newTestSweepHandler(&mocks.MockSubscriptionRepository{})

	req := httptest.NewRequest(http.MethodPost, "/cron/run-sweep", nil)
	rec := httptest.NewRecorder()

	handler.RunSweep(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRunSweep_EmptyRun(t *testing.T) {
	subRepo := &mocks.MockSubscriptionRepository{}
	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, mock.Anything, int32(100)).
		Return([]*models.Subscription{}, nil)

	handler := newTestSweepHandler(subRepo)

	req := httptest.NewRequest(http.MethodPost, "/cron/run-sweep", nil)
	req.Header.Set("X-Cron-Secret", testSecret)
	rec := httptest.NewRecorder()

	handler.RunSweep(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RunSweepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 0, resp.Selected)
}

func TestRunSweep_BearerAuth(t *testing.T) {
	subRepo := &mocks.MockSubscriptionRepository{}
	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, mock.Anything, int32(100)).
		Return([]*models.Subscription{}, nil)

	handler := newTestSweepHandler(subRepo)

	req := httptest.NewRequest(http.MethodPost, "/cron/run-sweep", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()

	handler.RunSweep(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunSweep_BadBatchSize(t *testing.T) {
	handler := newTestSweepHandler(&mocks.MockSubscriptionRepository{})

	body := bytes.NewBufferString(`{"batch_size": 5000}`)
	req := httptest.NewRequest(http.MethodPost, "/cron/run-sweep", body)
	req.Header.Set("X-Cron-Secret", testSecret)
	req.ContentLength = int64(body.Len())
	rec := httptest.NewRecorder()

	handler.RunSweep(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunSweep_MethodNotAllowed(t *testing.T) {
	handler := newTestSweepHandler(&mocks.MockSubscriptionRepository{})

	req := httptest.NewRequest(http.MethodGet, "/cron/run-sweep", nil)
	rec := httptest.NewRecorder()

	handler.RunSweep(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStats(t *testing.T) {
	subRepo := &mocks.MockSubscriptionRepository{}
	subRepo.On("CountByStatus", mock.Anything, mock.Anything).
		Return(map[models.SubscriptionStatus]int64{
			models.SubStatusActive:    7,
			models.SubStatusSuspended: 2,
		}, nil)

	handler := newTestSweepHandler(subRepo)

	req := httptest.NewRequest(http.MethodGet, "/cron/stats", nil)
	req.Header.Set("X-Cron-Secret", testSecret)
	rec := httptest.NewRecorder()

	handler.Stats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Stats struct {
			Total     int64 `json:"total_subscriptions"`
			Active    int64 `json:"active"`
			Suspended int64 `json:"suspended"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(9), resp.Stats.Total)
	assert.Equal(t, int64(7), resp.Stats.Active)
	assert.Equal(t, int64(2), resp.Stats.Suspended)
}

func TestStats_Unauthorized(t *testing.T) {
	handler := newTestSweepHandler(&mocks.MockSubscriptionRepository{})

	req := httptest.NewRequest(http.MethodGet, "/cron/stats", nil)
	rec := httptest.NewRecorder()

	handler.Stats(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	handler := newTestSweepHandler(&mocks.MockSubscriptionRepository{})

	req := httptest.NewRequest(http.MethodGet, "/cron/health", nil)
	rec := httptest.NewRecorder()

	handler.HealthCheck(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
