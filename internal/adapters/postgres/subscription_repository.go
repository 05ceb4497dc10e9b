package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const subscriptionColumns = `id, tenant_id, plan_type, billing_cycle, price_amount, currency,
	status, next_billing_date, retry_count, grace_entered_at,
	gateway_subscription_id, metadata, created_at, updated_at, cancelled_at`

// SubscriptionRepository implements ports.SubscriptionRepository on PostgreSQL
type SubscriptionRepository struct {
	db ports.DBPort
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db ports.DBPort) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) executor(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create inserts a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, subscription *models.Subscription) error {
	subID, err := uuid.Parse(subscription.ID)
	if err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}

	metadataBytes := []byte("{}")
	if subscription.Metadata != nil {
		metadataBytes, err = json.Marshal(subscription.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	amount, err := decimalToNumeric(subscription.PriceAmount)
	if err != nil {
		return fmt.Errorf("convert price amount: %w", err)
	}

	_, err = r.executor(tx).Exec(ctx, `
		INSERT INTO subscriptions (
			id, tenant_id, plan_type, billing_cycle, price_amount, currency,
			status, next_billing_date, retry_count, grace_entered_at,
			gateway_subscription_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		subID,
		subscription.TenantID,
		subscription.PlanType,
		string(subscription.BillingCycle),
		amount,
		subscription.Currency,
		string(subscription.Status),
		subscription.NextBillingDate,
		int32(subscription.RetryCount),
		nullTimestamptz(subscription.GraceEnteredAt),
		nullText(subscription.GatewaySubscriptionID),
		metadataBytes,
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}

	return nil
}

// GetByID retrieves a subscription by its ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Subscription, error) {
	row := r.executor(tx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by id: %w", err)
	}
	return sub, nil
}

// GetByGatewaySubscriptionID retrieves a subscription by its gateway-side id
func (r *SubscriptionRepository) GetByGatewaySubscriptionID(ctx context.Context, tx ports.DBTX, gatewayID string) (*models.Subscription, error) {
	row := r.executor(tx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE gateway_subscription_id = $1`, gatewayID)

	sub, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by gateway id: %w", err)
	}
	return sub, nil
}

// GetByIDForUpdate locks and retrieves a subscription row. Must run inside
// a transaction; the lock is held until commit or rollback.
func (r *SubscriptionRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Subscription, error) {
	row := r.executor(tx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("get subscription for update: %w", err)
	}
	return sub, nil
}

// Update persists the mutable subscription fields
func (r *SubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, subscription *models.Subscription) error {
	subID, err := uuid.Parse(subscription.ID)
	if err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}

	amount, err := decimalToNumeric(subscription.PriceAmount)
	if err != nil {
		return fmt.Errorf("convert price amount: %w", err)
	}

	tag, err := r.executor(tx).Exec(ctx, `
		UPDATE subscriptions SET
			plan_type = $2,
			billing_cycle = $3,
			price_amount = $4,
			status = $5,
			next_billing_date = $6,
			retry_count = $7,
			grace_entered_at = $8,
			gateway_subscription_id = $9,
			cancelled_at = $10,
			updated_at = now()
		WHERE id = $1`,
		subID,
		subscription.PlanType,
		string(subscription.BillingCycle),
		amount,
		string(subscription.Status),
		subscription.NextBillingDate,
		int32(subscription.RetryCount),
		nullTimestamptz(subscription.GraceEnteredAt),
		nullText(subscription.GatewaySubscriptionID),
		nullTimestamptz(subscription.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s not found", subscription.ID)
	}

	return nil
}

// ListDueForBilling returns billable subscriptions due as of asOf. A
// subscription with a pending payment attempt is excluded so two sweeps
// never charge it concurrently.
func (r *SubscriptionRepository) ListDueForBilling(ctx context.Context, tx ports.DBTX, asOf time.Time, limit int32) ([]*models.Subscription, error) {
	rows, err := r.executor(tx).Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions s
		WHERE s.status IN ('active', 'payment_failed', 'grace_period')
		  AND s.next_billing_date <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM payments p
			WHERE p.subscription_id = s.id AND p.status = 'pending'
		  )
		ORDER BY s.next_billing_date
		LIMIT $2`,
		asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListByTenant lists all subscriptions for a tenant, newest first
func (r *SubscriptionRepository) ListByTenant(ctx context.Context, tx ports.DBTX, tenantID string) ([]*models.Subscription, error) {
	rows, err := r.executor(tx).Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by tenant: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// CountByStatus returns the number of subscriptions per status
func (r *SubscriptionRepository) CountByStatus(ctx context.Context, tx ports.DBTX) (map[models.SubscriptionStatus]int64, error) {
	rows, err := r.executor(tx).Query(ctx,
		`SELECT status, count(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SubscriptionStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.SubscriptionStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func collectSubscriptions(rows pgx.Rows) ([]*models.Subscription, error) {
	var subscriptions []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subscriptions = append(subscriptions, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subscriptions, nil
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		id                    uuid.UUID
		tenantID              string
		planType              string
		billingCycle          string
		priceAmount           pgtype.Numeric
		currency              string
		status                string
		nextBillingDate       time.Time
		retryCount            int32
		graceEnteredAt        pgtype.Timestamptz
		gatewaySubscriptionID pgtype.Text
		metadataBytes         []byte
		createdAt             time.Time
		updatedAt             time.Time
		cancelledAt           pgtype.Timestamptz
	)

	if err := row.Scan(
		&id, &tenantID, &planType, &billingCycle, &priceAmount, &currency,
		&status, &nextBillingDate, &retryCount, &graceEnteredAt,
		&gatewaySubscriptionID, &metadataBytes, &createdAt, &updatedAt, &cancelledAt,
	); err != nil {
		return nil, err
	}

	amount, err := pgNumericToDecimal(priceAmount)
	if err != nil {
		return nil, fmt.Errorf("convert price amount: %w", err)
	}

	var metadata map[string]string
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	sub := &models.Subscription{
		ID:                    id.String(),
		TenantID:              tenantID,
		PlanType:              planType,
		BillingCycle:          models.BillingCycle(billingCycle),
		PriceAmount:           amount,
		Currency:              currency,
		Status:                models.SubscriptionStatus(status),
		NextBillingDate:       nextBillingDate,
		RetryCount:            int(retryCount),
		GatewaySubscriptionID: gatewaySubscriptionID.String,
		Metadata:              metadata,
		CreatedAt:             createdAt,
		UpdatedAt:             updatedAt,
	}
	if graceEnteredAt.Valid {
		sub.GraceEnteredAt = &graceEnteredAt.Time
	}
	if cancelledAt.Valid {
		sub.CancelledAt = &cancelledAt.Time
	}

	return sub, nil
}
