// Package service exposes the subscription lifecycle operations used by
// handlers and external collaborators.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/agendly/billing-service/internal/billing/engine"
	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	pkgerrors "github.com/agendly/billing-service/pkg/errors"
	"github.com/agendly/billing-service/pkg/timeutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CreateSubscriptionRequest describes a new tenant subscription
type CreateSubscriptionRequest struct {
	TenantID     string
	PlanType     string
	BillingCycle models.BillingCycle
	PriceAmount  decimal.Decimal
	Currency     string
	StartDate    time.Time
	BackURL      string
	Metadata     map[string]string
}

// SubscriptionResponse is the lifecycle operation result. CheckoutURL is
// set only on creation; the tenant completes the recurring authorization
// there.
type SubscriptionResponse struct {
	Subscription *models.Subscription
	CheckoutURL  string
}

// SubscriptionDetail is a subscription with its recent payment history
type SubscriptionDetail struct {
	Subscription *models.Subscription
	Payments     []*models.Payment
}

// Service implements the subscription lifecycle operations
type Service struct {
	db      ports.DBPort
	subRepo ports.SubscriptionRepository
	payRepo ports.PaymentRepository
	gateway ports.ChargeGateway
	engine  *engine.Engine
	logger  ports.Logger
}

// NewService creates a new subscription service
func NewService(
	db ports.DBPort,
	subRepo ports.SubscriptionRepository,
	payRepo ports.PaymentRepository,
	gateway ports.ChargeGateway,
	eng *engine.Engine,
	logger ports.Logger,
) *Service {
	return &Service{
		db:      db,
		subRepo: subRepo,
		payRepo: payRepo,
		gateway: gateway,
		engine:  eng,
		logger:  logger,
	}
}

// CreateSubscription registers a subscription and sets up the gateway-side
// recurring authorization. The returned checkout URL must be completed by
// the tenant before the first charge can succeed.
func (s *Service) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*SubscriptionResponse, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	startDate := timeutil.StartOfDay(req.StartDate)
	if req.StartDate.IsZero() {
		startDate = timeutil.StartOfDay(timeutil.Now())
	}

	subscription := &models.Subscription{
		ID:              uuid.New().String(),
		TenantID:        req.TenantID,
		PlanType:        req.PlanType,
		BillingCycle:    req.BillingCycle,
		PriceAmount:     req.PriceAmount,
		Currency:        req.Currency,
		Status:          models.SubStatusActive,
		NextBillingDate: startDate,
		Metadata:        req.Metadata,
		CreatedAt:       timeutil.Now(),
		UpdatedAt:       timeutil.Now(),
	}

	var response *SubscriptionResponse

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.subRepo.Create(ctx, tx, subscription); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}

		gatewayResp, err := s.gateway.CreatePreapproval(ctx, ports.PreapprovalRequest{
			Reason:            fmt.Sprintf("%s plan (%s)", req.PlanType, req.BillingCycle),
			Amount:            req.PriceAmount,
			Currency:          req.Currency,
			BillingCycle:      req.BillingCycle,
			BackURL:           req.BackURL,
			ExternalReference: subscription.ID,
			Metadata:          req.Metadata,
		})
		if err != nil {
			return fmt.Errorf("create gateway preapproval: %w", err)
		}

		subscription.GatewaySubscriptionID = gatewayResp.GatewaySubscriptionID
		if err := s.subRepo.Update(ctx, tx, subscription); err != nil {
			return fmt.Errorf("update subscription with gateway ID: %w", err)
		}

		response = &SubscriptionResponse{
			Subscription: subscription,
			CheckoutURL:  gatewayResp.CheckoutURL,
		}
		return nil
	})

	if err != nil {
		s.logger.Error("create subscription failed",
			ports.String("tenant_id", req.TenantID),
			ports.String("plan_type", req.PlanType),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("subscription created",
		ports.String("subscription_id", subscription.ID),
		ports.String("tenant_id", req.TenantID),
		ports.String("billing_cycle", string(req.BillingCycle)),
		ports.String("next_billing", subscription.NextBillingDate.Format(time.RFC3339)))

	return response, nil
}

// GetSubscription returns a subscription with its recent payment history
func (s *Service) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionDetail, error) {
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, pkgerrors.NewValidationError("subscription_id", "must be a valid UUID")
	}

	sub, err := s.subRepo.GetByID(ctx, nil, subID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %s not found", subscriptionID)
	}

	payments, err := s.payRepo.ListBySubscription(ctx, nil, subID, 20)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	return &SubscriptionDetail{
		Subscription: sub,
		Payments:     payments,
	}, nil
}

// ListByTenant lists a tenant's subscriptions
func (s *Service) ListByTenant(ctx context.Context, tenantID string) ([]*models.Subscription, error) {
	if tenantID == "" {
		return nil, pkgerrors.NewValidationError("tenant_id", "tenant id is required")
	}
	return s.subRepo.ListByTenant(ctx, nil, tenantID)
}

// CancelSubscription cancels a subscription and tears down the gateway-side
// recurring authorization. Gateway teardown is best effort: the local state
// is terminal either way and the sweep never touches cancelled rows.
func (s *Service) CancelSubscription(ctx context.Context, subscriptionID, reason string) (*models.Subscription, error) {
	sub, err := s.engine.Cancel(ctx, subscriptionID, reason, timeutil.Now())
	if err != nil {
		return nil, err
	}

	if sub.GatewaySubscriptionID != "" {
		if err := s.gateway.CancelPreapproval(ctx, sub.GatewaySubscriptionID); err != nil {
			s.logger.Warn("gateway preapproval cancellation failed",
				ports.String("subscription_id", sub.ID),
				ports.String("gateway_subscription_id", sub.GatewaySubscriptionID),
				ports.Err(err))
		}
	}

	return sub, nil
}

// OverrideNextBillingDate moves the next billing date for support workflows
func (s *Service) OverrideNextBillingDate(ctx context.Context, subscriptionID string, date time.Time) (*models.Subscription, error) {
	if date.IsZero() {
		return nil, pkgerrors.NewValidationError("next_billing_date", "date is required")
	}
	return s.engine.OverrideNextBillingDate(ctx, subscriptionID, date, timeutil.Now())
}

func validateCreateRequest(req CreateSubscriptionRequest) error {
	if req.TenantID == "" {
		return pkgerrors.NewValidationError("tenant_id", "tenant id is required")
	}
	if req.PlanType == "" {
		return pkgerrors.NewValidationError("plan_type", "plan type is required")
	}
	if req.BillingCycle != models.CycleMonthly && req.BillingCycle != models.CycleYearly {
		return pkgerrors.NewValidationError("billing_cycle", "must be monthly or yearly")
	}
	if req.PriceAmount.IsNegative() || req.PriceAmount.IsZero() {
		return pkgerrors.NewValidationError("price_amount", "must be positive")
	}
	if req.Currency == "" {
		return pkgerrors.NewValidationError("currency", "currency is required")
	}
	return nil
}
