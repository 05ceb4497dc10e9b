package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, subscription_id, amount, currency, billing_cycle, status,
	gateway_payment_id, idempotency_key, failure_reason, paid_at, created_at`

// PaymentRepository implements ports.PaymentRepository on PostgreSQL
type PaymentRepository struct {
	db ports.DBPort
}

// NewPaymentRepository creates a new payment repository
func NewPaymentRepository(db ports.DBPort) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) executor(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create inserts a payment row with its final status already known
func (r *PaymentRepository) Create(ctx context.Context, tx ports.DBTX, payment *models.Payment) error {
	payID, err := uuid.Parse(payment.ID)
	if err != nil {
		return fmt.Errorf("invalid payment ID: %w", err)
	}
	subID, err := uuid.Parse(payment.SubscriptionID)
	if err != nil {
		return fmt.Errorf("invalid subscription ID: %w", err)
	}

	amount, err := decimalToNumeric(payment.Amount)
	if err != nil {
		return fmt.Errorf("convert amount: %w", err)
	}

	_, err = r.executor(tx).Exec(ctx, `
		INSERT INTO payments (
			id, subscription_id, amount, currency, billing_cycle, status,
			gateway_payment_id, idempotency_key, failure_reason, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		payID,
		subID,
		amount,
		payment.Currency,
		string(payment.BillingCycle),
		string(payment.Status),
		nullText(payment.GatewayPaymentID),
		nullText(payment.IdempotencyKey),
		nullText(payment.FailureReason),
		nullTimestamptz(payment.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	return nil
}

// GetByID retrieves a payment by its ID
func (r *PaymentRepository) GetByID(ctx context.Context, tx ports.DBTX, id uuid.UUID) (*models.Payment, error) {
	row := r.executor(tx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)

	payment, err := scanPayment(row)
	if err != nil {
		return nil, fmt.Errorf("get payment by id: %w", err)
	}
	return payment, nil
}

// GetByGatewayPaymentID is the idempotency lookup for webhook ingestion
func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, tx ports.DBTX, gatewayPaymentID string) (*models.Payment, error) {
	row := r.executor(tx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1`, gatewayPaymentID)

	payment, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by gateway id: %w", err)
	}
	return payment, nil
}

// CreatePendingIfAbsent inserts a pending payment unless one already exists
// for the subscription. The partial unique index on pending payments makes
// the test-and-set atomic; no advisory lock needed.
func (r *PaymentRepository) CreatePendingIfAbsent(ctx context.Context, tx ports.DBTX, payment *models.Payment) (bool, error) {
	payID, err := uuid.Parse(payment.ID)
	if err != nil {
		return false, fmt.Errorf("invalid payment ID: %w", err)
	}
	subID, err := uuid.Parse(payment.SubscriptionID)
	if err != nil {
		return false, fmt.Errorf("invalid subscription ID: %w", err)
	}

	amount, err := decimalToNumeric(payment.Amount)
	if err != nil {
		return false, fmt.Errorf("convert amount: %w", err)
	}

	tag, err := r.executor(tx).Exec(ctx, `
		INSERT INTO payments (
			id, subscription_id, amount, currency, billing_cycle, status, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (subscription_id) WHERE status = 'pending' DO NOTHING`,
		payID,
		subID,
		amount,
		payment.Currency,
		string(payment.BillingCycle),
		nullText(payment.IdempotencyKey),
	)
	if err != nil {
		return false, fmt.Errorf("create pending payment: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// GetPendingBySubscription returns the in-flight pending payment, if any
func (r *PaymentRepository) GetPendingBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID) (*models.Payment, error) {
	row := r.executor(tx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE subscription_id = $1 AND status = 'pending'`,
		subscriptionID)

	payment, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending payment: %w", err)
	}
	return payment, nil
}

// Settle moves a pending payment to its final status
func (r *PaymentRepository) Settle(ctx context.Context, tx ports.DBTX, id uuid.UUID, status models.PaymentStatus, gatewayPaymentID, failureReason string) error {
	var paidAt pgtype.Timestamptz
	if status == models.PaymentStatusApproved {
		paidAt = pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
	}

	tag, err := r.executor(tx).Exec(ctx, `
		UPDATE payments SET
			status = $2,
			gateway_payment_id = COALESCE($3, gateway_payment_id),
			failure_reason = $4,
			paid_at = $5
		WHERE id = $1 AND status = 'pending'`,
		id,
		string(status),
		nullText(gatewayPaymentID),
		nullText(failureReason),
		paidAt,
	)
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s is not pending", id)
	}

	return nil
}

// ListBySubscription lists payment attempts for a subscription, newest first
func (r *PaymentRepository) ListBySubscription(ctx context.Context, tx ports.DBTX, subscriptionID uuid.UUID, limit int32) ([]*models.Payment, error) {
	rows, err := r.executor(tx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE subscription_id = $1 ORDER BY created_at DESC LIMIT $2`,
		subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return payments, nil
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		id               uuid.UUID
		subscriptionID   uuid.UUID
		amount           pgtype.Numeric
		currency         string
		billingCycle     string
		status           string
		gatewayPaymentID pgtype.Text
		idempotencyKey   pgtype.Text
		failureReason    pgtype.Text
		paidAt           pgtype.Timestamptz
		createdAt        time.Time
	)

	if err := row.Scan(
		&id, &subscriptionID, &amount, &currency, &billingCycle, &status,
		&gatewayPaymentID, &idempotencyKey, &failureReason, &paidAt, &createdAt,
	); err != nil {
		return nil, err
	}

	dec, err := pgNumericToDecimal(amount)
	if err != nil {
		return nil, fmt.Errorf("convert amount: %w", err)
	}

	payment := &models.Payment{
		ID:               id.String(),
		SubscriptionID:   subscriptionID.String(),
		Amount:           dec,
		Currency:         currency,
		BillingCycle:     models.BillingCycle(billingCycle),
		Status:           models.PaymentStatus(status),
		GatewayPaymentID: gatewayPaymentID.String,
		IdempotencyKey:   idempotencyKey.String,
		FailureReason:    failureReason.String,
		CreatedAt:        createdAt,
	}
	if paidAt.Valid {
		payment.PaidAt = &paidAt.Time
	}

	return payment, nil
}
