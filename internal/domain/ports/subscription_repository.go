package ports

import (
	"context"
	"time"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/google/uuid"
)

// SubscriptionRepository persists subscriptions in the billing ledger
type SubscriptionRepository interface {
	Create(ctx context.Context, tx DBTX, subscription *models.Subscription) error

	// GetByID and GetByGatewaySubscriptionID return (nil, nil) when no
	// matching subscription exists.
	GetByID(ctx context.Context, tx DBTX, id uuid.UUID) (*models.Subscription, error)
	GetByGatewaySubscriptionID(ctx context.Context, tx DBTX, gatewayID string) (*models.Subscription, error)

	// GetByIDForUpdate locks the subscription row for the duration of the
	// enclosing transaction (SELECT ... FOR UPDATE).
	GetByIDForUpdate(ctx context.Context, tx DBTX, id uuid.UUID) (*models.Subscription, error)

	Update(ctx context.Context, tx DBTX, subscription *models.Subscription) error

	// ListDueForBilling returns subscriptions with a billable status and
	// next_billing_date <= asOf, excluding any subscription that already
	// has a pending payment attempt.
	ListDueForBilling(ctx context.Context, tx DBTX, asOf time.Time, limit int32) ([]*models.Subscription, error)

	ListByTenant(ctx context.Context, tx DBTX, tenantID string) ([]*models.Subscription, error)

	// CountByStatus returns the number of subscriptions per status
	CountByStatus(ctx context.Context, tx DBTX) (map[models.SubscriptionStatus]int64, error)
}
