// Package mocks provides shared mock implementations for testing.
package mocks

import (
	"context"
	"time"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/mock"
)

// MockDBPort mocks the database port. WithTransaction executes the callback
// with a nil transaction so repository mocks can run underneath it.
type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx, nil)
}

func (m *MockDBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// MockSubscriptionRepository mocks the subscription repository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetByGatewaySubscriptionID(ctx context.Context, tx ports.DBTX, gatewayID string) (*models.Subscription, error) {
	args := m.Called(ctx, tx, gatewayID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Subscription, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *models.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ListDueForBilling(ctx context.Context, tx ports.DBTX, asOf time.Time, limit int32) ([]*models.Subscription, error) {
	args := m.Called(ctx, tx, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) ListByTenant(ctx context.Context, tx ports.DBTX, tenantID string) ([]*models.Subscription, error) {
	args := m.Called(ctx, tx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) CountByStatus(ctx context.Context, tx ports.DBTX) (map[models.SubscriptionStatus]int64, error) {
	args := m.Called(ctx, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[models.SubscriptionStatus]int64), args.Error(1)
}

// MockPaymentRepository mocks the payment repository
type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *models.Payment) error {
	args := m.Called(ctx, tx, payment)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentRepository) GetByGatewayPaymentID(ctx context.Context, tx ports.DBTX, gatewayPaymentID string) (*models.Payment, error) {
	args := m.Called(ctx, tx, gatewayPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentRepository) CreatePendingIfAbsent(ctx context.Context, tx ports.DBTX, payment *models.Payment) (bool, error) {
	args := m.Called(ctx, tx, payment)
	return args.Bool(0), args.Error(1)
}

func (m *MockPaymentRepository) GetPendingBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, tx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockPaymentRepository) Settle(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.PaymentStatus, gatewayPaymentID, failureReason string) error {
	args := m.Called(ctx, tx, id, status, gatewayPaymentID, failureReason)
	return args.Error(0)
}

func (m *MockPaymentRepository) ListBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID, limit int32) ([]*models.Payment, error) {
	args := m.Called(ctx, tx, subscriptionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Payment), args.Error(1)
}

// MockChargeGateway mocks the charge gateway
type MockChargeGateway struct {
	mock.Mock
}

func (m *MockChargeGateway) CreateCharge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.ChargeResult), args.Error(1)
}

func (m *MockChargeGateway) GetPaymentDetail(ctx context.Context, gatewayPaymentID string) (*ports.PaymentDetail, error) {
	args := m.Called(ctx, gatewayPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.PaymentDetail), args.Error(1)
}

func (m *MockChargeGateway) CreatePreapproval(ctx context.Context, req ports.PreapprovalRequest) (*ports.PreapprovalResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.PreapprovalResult), args.Error(1)
}

func (m *MockChargeGateway) CancelPreapproval(ctx context.Context, gatewaySubscriptionID string) error {
	args := m.Called(ctx, gatewaySubscriptionID)
	return args.Error(0)
}

// NopLogger is a Logger that discards everything. Tests that assert on log
// output should use a mock instead.
type NopLogger struct{}

func (NopLogger) Info(msg string, fields ...ports.Field)  {}
func (NopLogger) Error(msg string, fields ...ports.Field) {}
func (NopLogger) Warn(msg string, fields ...ports.Field)  {}
func (NopLogger) Debug(msg string, fields ...ports.Field) {}
