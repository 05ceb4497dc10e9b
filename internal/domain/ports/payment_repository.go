package ports

import (
	"context"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/google/uuid"
)

// PaymentRepository persists charge attempts in the billing ledger.
// Payment rows are append-only apart from the pending -> approved/rejected
// status settlement.
type PaymentRepository interface {
	Create(ctx context.Context, tx DBTX, payment *models.Payment) error
	GetByID(ctx context.Context, tx DBTX, id uuid.UUID) (*models.Payment, error)

	// GetByGatewayPaymentID is the idempotency lookup for webhook ingestion.
	// Returns (nil, nil) when no payment with that gateway id exists.
	GetByGatewayPaymentID(ctx context.Context, tx DBTX, gatewayPaymentID string) (*models.Payment, error)

	// CreatePendingIfAbsent inserts a pending payment for the subscription
	// only if no other pending payment exists for it. Returns false without
	// error when one already does (test-and-set in-flight guard).
	CreatePendingIfAbsent(ctx context.Context, tx DBTX, payment *models.Payment) (bool, error)

	// GetPendingBySubscription returns the in-flight pending payment for a
	// subscription, or (nil, nil) when none exists. At most one can exist.
	GetPendingBySubscription(ctx context.Context, tx DBTX, subscriptionID uuid.UUID) (*models.Payment, error)

	// Settle moves a pending payment to its final status
	Settle(ctx context.Context, tx DBTX, id uuid.UUID, status models.PaymentStatus, gatewayPaymentID, failureReason string) error

	ListBySubscription(ctx context.Context, tx DBTX, subscriptionID uuid.UUID, limit int32) ([]*models.Payment, error)
}
