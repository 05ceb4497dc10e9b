package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/agendly/billing-service/internal/billing/engine"
	"github.com/agendly/billing-service/internal/billing/policy"
	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	"github.com/agendly/billing-service/internal/testutil/mocks"
	pkgerrors "github.com/agendly/billing-service/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSweeper(subRepo *mocks.MockSubscriptionRepository, payRepo *mocks.MockPaymentRepository, gateway *mocks.MockChargeGateway) *Sweeper {
	db := &mocks.MockDBPort{}
	db.On("WithTransaction", mock.Anything, mock.Anything).Return(nil)

	eng := engine.New(db, subRepo, payRepo, policy.Default(), mocks.NopLogger{})
	return New(db, subRepo, eng, gateway, mocks.NopLogger{}, WithConcurrency(1))
}

func activeSub(now time.Time) *models.Subscription {
	return &models.Subscription{
		ID:                    uuid.New().String(),
		TenantID:              "tenant-1",
		PlanType:              "pro",
		BillingCycle:          models.CycleMonthly,
		PriceAmount:           decimal.NewFromInt(49),
		Currency:              "BRL",
		Status:                models.SubStatusActive,
		NextBillingDate:       now.AddDate(0, 0, -1),
		GatewaySubscriptionID: "mp-preapproval-1",
	}
}

func TestRun_ApprovedChargeRenewsSubscription(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	sub := activeSub(now)
	sub.NextBillingDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, now, int32(100)).
		Return([]*models.Subscription{sub}, nil)
	payRepo.On("CreatePendingIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req ports.ChargeRequest) bool {
		return req.SubscriptionID == sub.ID && req.IdempotencyKey != ""
	})).Return(&ports.ChargeResult{
		Outcome:          ports.OutcomeApproved,
		GatewayPaymentID: "mp-pay-1",
	}, nil)
	subRepo.On("GetByIDForUpdate", mock.Anything, mock.Anything, mock.Anything).Return(sub, nil)
	payRepo.On("Settle", mock.Anything, mock.Anything, mock.Anything, models.PaymentStatusApproved, "mp-pay-1", "").Return(nil)
	subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	sweeper := newTestSweeper(subRepo, payRepo, gateway)
	result, err := sweeper.Run(context.Background(), now, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Selected)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, models.SubStatusActive, sub.Status)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), sub.NextBillingDate)
}

func TestRun_TransientGatewayErrorDoesNotAdvanceDunning(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	sub := activeSub(now)
	originalDate := sub.NextBillingDate

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, now, int32(100)).
		Return([]*models.Subscription{sub}, nil)
	payRepo.On("CreatePendingIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	gateway.On("CreateCharge", mock.Anything, mock.Anything).
		Return(nil, pkgerrors.NewPaymentError("GATEWAY_TIMEOUT", "gateway timed out", pkgerrors.CategoryNetworkError, true))
	payRepo.On("Settle", mock.Anything, mock.Anything, mock.Anything, models.PaymentStatusRejected, "", mock.Anything).Return(nil)

	sweeper := newTestSweeper(subRepo, payRepo, gateway)
	result, err := sweeper.Run(context.Background(), now, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Transient)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, models.SubStatusActive, sub.Status)
	assert.Equal(t, 0, sub.RetryCount)
	assert.Equal(t, originalDate, sub.NextBillingDate)
	subRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_PermanentDeclineAdvancesDunning(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	sub := activeSub(now)

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, now, int32(100)).
		Return([]*models.Subscription{sub}, nil)
	payRepo.On("CreatePendingIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	gateway.On("CreateCharge", mock.Anything, mock.Anything).
		Return(nil, pkgerrors.NewPaymentError("CARD_DECLINED", "insufficient funds", pkgerrors.CategoryDeclined, false))
	subRepo.On("GetByIDForUpdate", mock.Anything, mock.Anything, mock.Anything).Return(sub, nil)
	payRepo.On("Settle", mock.Anything, mock.Anything, mock.Anything, models.PaymentStatusRejected, "", mock.Anything).Return(nil)
	subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	sweeper := newTestSweeper(subRepo, payRepo, gateway)
	result, err := sweeper.Run(context.Background(), now, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Transient)
	assert.Equal(t, models.SubStatusPaymentFailed, sub.Status)
	assert.Equal(t, 1, sub.RetryCount)
	assert.Equal(t, now.AddDate(0, 0, 1), sub.NextBillingDate)
}

func TestRun_SkipsSubscriptionWithPendingPayment(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	sub := activeSub(now)

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, now, int32(100)).
		Return([]*models.Subscription{sub}, nil)
	payRepo.On("CreatePendingIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	sweeper := newTestSweeper(subRepo, payRepo, gateway)
	result, err := sweeper.Run(context.Background(), now, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestRun_GraceExpirySuspends(t *testing.T) {
	now := time.Date(2025, 6, 20, 3, 0, 0, 0, time.UTC)
	entered := now.AddDate(0, 0, -11)
	sub := activeSub(now)
	sub.Status = models.SubStatusGracePeriod
	sub.GraceEnteredAt = &entered

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, now, int32(100)).
		Return([]*models.Subscription{sub}, nil)
	subRepo.On("GetByIDForUpdate", mock.Anything, mock.Anything, mock.Anything).Return(sub, nil)
	subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	sweeper := newTestSweeper(subRepo, payRepo, gateway)
	result, err := sweeper.Run(context.Background(), now, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Suspended)
	assert.Equal(t, models.SubStatusSuspended, sub.Status)
	gateway.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestRun_GraceInsideWindowIsSkipped(t *testing.T) {
	now := time.Date(2025, 6, 20, 3, 0, 0, 0, time.UTC)
	entered := now.AddDate(0, 0, -5)
	sub := activeSub(now)
	sub.Status = models.SubStatusGracePeriod
	sub.GraceEnteredAt = &entered

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, now, int32(100)).
		Return([]*models.Subscription{sub}, nil)
	subRepo.On("GetByIDForUpdate", mock.Anything, mock.Anything, mock.Anything).Return(sub, nil)

	sweeper := newTestSweeper(subRepo, payRepo, gateway)
	result, err := sweeper.Run(context.Background(), now, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, models.SubStatusGracePeriod, sub.Status)
	subRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_OneFailureDoesNotAbortOthers(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	bad := activeSub(now)
	good := activeSub(now)

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, now, int32(100)).
		Return([]*models.Subscription{bad, good}, nil)

	// The first subscription cannot even register its attempt
	payRepo.On("CreatePendingIfAbsent", mock.Anything, mock.Anything, mock.MatchedBy(func(p *models.Payment) bool {
		return p.SubscriptionID == bad.ID
	})).Return(false, assert.AnError)

	payRepo.On("CreatePendingIfAbsent", mock.Anything, mock.Anything, mock.MatchedBy(func(p *models.Payment) bool {
		return p.SubscriptionID == good.ID
	})).Return(true, nil)
	gateway.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req ports.ChargeRequest) bool {
		return req.SubscriptionID == good.ID
	})).Return(&ports.ChargeResult{Outcome: ports.OutcomeApproved, GatewayPaymentID: "mp-pay-2"}, nil)
	subRepo.On("GetByIDForUpdate", mock.Anything, mock.Anything, uuid.MustParse(good.ID)).Return(good, nil)
	payRepo.On("Settle", mock.Anything, mock.Anything, mock.Anything, models.PaymentStatusApproved, "mp-pay-2", "").Return(nil)
	subRepo.On("Update", mock.Anything, mock.Anything, good).Return(nil)

	sweeper := newTestSweeper(subRepo, payRepo, gateway)
	result, err := sweeper.Run(context.Background(), now, 100)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Selected)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, bad.ID, result.Errors[0].SubscriptionID)
	assert.Equal(t, models.SubStatusActive, good.Status)
}

func TestRun_PendingOutcomeLeavesSubscriptionUntouched(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	sub := activeSub(now)
	originalDate := sub.NextBillingDate

	subRepo := &mocks.MockSubscriptionRepository{}
	payRepo := &mocks.MockPaymentRepository{}
	gateway := &mocks.MockChargeGateway{}

	subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, now, int32(100)).
		Return([]*models.Subscription{sub}, nil)
	payRepo.On("CreatePendingIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	gateway.On("CreateCharge", mock.Anything, mock.Anything).
		Return(&ports.ChargeResult{Outcome: ports.OutcomePending, GatewayPaymentID: "mp-pay-3"}, nil)

	sweeper := newTestSweeper(subRepo, payRepo, gateway)
	result, err := sweeper.Run(context.Background(), now, 100)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, models.SubStatusActive, sub.Status)
	assert.Equal(t, originalDate, sub.NextBillingDate)
	subRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}
