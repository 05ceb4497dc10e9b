package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/agendly/billing-service/internal/billing/policy"
	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	"github.com/agendly/billing-service/pkg/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Engine is the dunning state machine. Given a subscription and a charge
// outcome it decides the next state and next billing date, and persists the
// result together with the payment attempt row in one transaction.
type Engine struct {
	db      ports.DBPort
	subRepo ports.SubscriptionRepository
	payRepo ports.PaymentRepository
	policy  policy.Policy
	logger  ports.Logger
}

// New creates a new state transition engine
func New(
	db ports.DBPort,
	subRepo ports.SubscriptionRepository,
	payRepo ports.PaymentRepository,
	pol policy.Policy,
	logger ports.Logger,
) *Engine {
	return &Engine{
		db:      db,
		subRepo: subRepo,
		payRepo: payRepo,
		policy:  pol,
		logger:  logger,
	}
}

// BeginAttempt registers a pending payment row for the subscription before
// the gateway call goes out. The insert is a test-and-set: if another
// pending payment already exists (a concurrent sweep or webhook won the
// race) it returns started=false and the caller must skip the charge.
func (e *Engine) BeginAttempt(ctx context.Context, sub *models.Subscription, idempotencyKey string) (*models.Payment, bool, error) {
	payment := &models.Payment{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		Amount:         sub.PriceAmount,
		Currency:       sub.Currency,
		BillingCycle:   sub.BillingCycle,
		Status:         models.PaymentStatusPending,
		IdempotencyKey: idempotencyKey,
	}

	var started bool
	err := e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		ok, err := e.payRepo.CreatePendingIfAbsent(ctx, tx, payment)
		if err != nil {
			return fmt.Errorf("create pending payment: %w", err)
		}
		started = ok
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !started {
		e.logger.Debug("charge attempt skipped, pending payment in flight",
			ports.String("subscription_id", sub.ID))
		return nil, false, nil
	}

	e.logger.Info("attempt_started",
		ports.String("subscription_id", sub.ID),
		ports.String("payment_id", payment.ID),
		ports.String("amount", payment.Amount.String()))

	return payment, true, nil
}

// AbortAttempt settles a pending payment as rejected without advancing the
// dunning state. Used when the gateway call failed transiently: the retry
// slot is not consumed and the subscription stays due for the next sweep.
func (e *Engine) AbortAttempt(ctx context.Context, paymentID string, reason string) error {
	id, err := uuid.Parse(paymentID)
	if err != nil {
		return fmt.Errorf("invalid payment ID: %w", err)
	}

	return e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := e.payRepo.Settle(ctx, tx, id, models.PaymentStatusRejected, "", reason); err != nil {
			return fmt.Errorf("settle aborted payment: %w", err)
		}
		return nil
	})
}

// ApplyAttemptOutcome settles the pending payment created by BeginAttempt
// and drives the state machine with the gateway result, all in one
// transaction. A pending gateway outcome leaves the payment row pending and
// the subscription untouched; the webhook reconciler finishes it later.
func (e *Engine) ApplyAttemptOutcome(ctx context.Context, subscriptionID, paymentID string, result *ports.ChargeResult, now time.Time) (*models.Subscription, error) {
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription ID: %w", err)
	}
	payID, err := uuid.Parse(paymentID)
	if err != nil {
		return nil, fmt.Errorf("invalid payment ID: %w", err)
	}

	if result.Outcome == ports.OutcomePending {
		e.logger.Info("charge outcome pending, awaiting gateway confirmation",
			ports.String("subscription_id", subscriptionID),
			ports.String("gateway_payment_id", result.GatewayPaymentID))
		return nil, nil
	}

	var updated *models.Subscription
	err = e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := e.subRepo.GetByIDForUpdate(ctx, tx, subID)
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}

		status := models.PaymentStatusRejected
		if result.Outcome == ports.OutcomeApproved {
			status = models.PaymentStatusApproved
		}
		if err := e.payRepo.Settle(ctx, tx, payID, status, result.GatewayPaymentID, result.StatusDetail); err != nil {
			return fmt.Errorf("settle payment: %w", err)
		}

		if err := e.transition(sub, result.Outcome, now); err != nil {
			return err
		}

		if err := e.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// ApplyGatewayPayment records a gateway-initiated payment (reported by
// webhook, confirmed by a detail fetch) and drives the state machine with
// it. The idempotency check by gateway payment id runs inside the same
// transaction so duplicate deliveries settle on exactly one payment row.
func (e *Engine) ApplyGatewayPayment(ctx context.Context, subscriptionID string, detail *ports.PaymentDetail, now time.Time) (*models.Subscription, bool, error) {
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, false, fmt.Errorf("invalid subscription ID: %w", err)
	}

	var updated *models.Subscription
	var applied bool

	err = e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := e.payRepo.GetByGatewayPaymentID(ctx, tx, detail.GatewayPaymentID)
		if err != nil {
			return fmt.Errorf("lookup payment by gateway id: %w", err)
		}
		if existing != nil {
			return nil // duplicate delivery, no-op
		}

		sub, err := e.subRepo.GetByIDForUpdate(ctx, tx, subID)
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}

		status := models.PaymentStatusRejected
		var paidAt *time.Time
		if detail.Outcome == ports.OutcomeApproved {
			status = models.PaymentStatusApproved
			if detail.PaidAt != nil {
				paidAt = detail.PaidAt
			} else {
				paidAt = &now
			}
		}

		// A charge the sweep dispatched may still be sitting pending while
		// the gateway confirms asynchronously. Settle that row rather than
		// creating a second one, so the in-flight guard is released.
		pending, err := e.payRepo.GetPendingBySubscription(ctx, tx, subID)
		if err != nil {
			return fmt.Errorf("lookup pending payment: %w", err)
		}
		if pending != nil {
			if err := e.payRepo.Settle(ctx, tx, uuid.MustParse(pending.ID), status, detail.GatewayPaymentID, detail.StatusDetail); err != nil {
				return fmt.Errorf("settle pending payment: %w", err)
			}
		} else {
			payment := &models.Payment{
				ID:               uuid.New().String(),
				SubscriptionID:   sub.ID,
				Amount:           detail.Amount,
				Currency:         sub.Currency,
				BillingCycle:     sub.BillingCycle,
				Status:           status,
				GatewayPaymentID: detail.GatewayPaymentID,
				FailureReason:    detail.StatusDetail,
				PaidAt:           paidAt,
			}
			if err := e.payRepo.Create(ctx, tx, payment); err != nil {
				return fmt.Errorf("create payment: %w", err)
			}
		}

		if err := e.transition(sub, detail.Outcome, now); err != nil {
			return err
		}

		if err := e.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		updated = sub
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return updated, applied, nil
}

// CheckGraceExpiry suspends a grace-period subscription whose window has
// closed. No payment row is involved; this is the only transition without
// a charge attempt.
func (e *Engine) CheckGraceExpiry(ctx context.Context, subscriptionID string, now time.Time) (*models.Subscription, bool, error) {
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, false, fmt.Errorf("invalid subscription ID: %w", err)
	}

	var updated *models.Subscription
	var expired bool

	err = e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := e.subRepo.GetByIDForUpdate(ctx, tx, subID)
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}

		if sub.Status != models.SubStatusGracePeriod || sub.GraceEnteredAt == nil {
			return nil
		}
		if !e.policy.IsGraceExpired(*sub.GraceEnteredAt, now) {
			return nil
		}

		e.setStatus(sub, models.SubStatusSuspended, now)
		if err := e.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		updated = sub
		expired = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return updated, expired, nil
}

// Cancel marks a subscription cancelled. Cancellation is terminal: no sweep
// or webhook moves the subscription out of it afterwards.
func (e *Engine) Cancel(ctx context.Context, subscriptionID, reason string, now time.Time) (*models.Subscription, error) {
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription ID: %w", err)
	}

	var updated *models.Subscription
	err = e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := e.subRepo.GetByIDForUpdate(ctx, tx, subID)
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}

		if sub.IsTerminal() {
			return fmt.Errorf("subscription already cancelled")
		}

		e.setStatus(sub, models.SubStatusCancelled, now)
		sub.CancelledAt = &now
		if err := e.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("subscription cancelled",
		ports.String("subscription_id", subscriptionID),
		ports.String("reason", reason))

	return updated, nil
}

// OverrideNextBillingDate is the operator escape hatch for support
// workflows. It is the only path besides a successful charge that may move
// next_billing_date backwards.
func (e *Engine) OverrideNextBillingDate(ctx context.Context, subscriptionID string, date, now time.Time) (*models.Subscription, error) {
	subID, err := uuid.Parse(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("invalid subscription ID: %w", err)
	}

	var updated *models.Subscription
	err = e.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		sub, err := e.subRepo.GetByIDForUpdate(ctx, tx, subID)
		if err != nil {
			return fmt.Errorf("lock subscription: %w", err)
		}

		if sub.IsTerminal() {
			return fmt.Errorf("cannot override billing date on cancelled subscription")
		}

		sub.NextBillingDate = date.UTC()
		sub.UpdatedAt = now
		if err := e.subRepo.Update(ctx, tx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Warn("next billing date overridden",
		ports.String("subscription_id", subscriptionID),
		ports.String("next_billing_date", date.Format(time.RFC3339)))

	return updated, nil
}

// transition applies the dunning state table to sub in place
func (e *Engine) transition(sub *models.Subscription, outcome ports.ChargeOutcome, now time.Time) error {
	if sub.IsTerminal() {
		// Payment row is still recorded for audit, state stays cancelled
		e.logger.Warn("payment outcome for cancelled subscription ignored",
			ports.String("subscription_id", sub.ID))
		return nil
	}

	from := sub.Status

	switch outcome {
	case ports.OutcomeApproved:
		base := now
		if sub.Status == models.SubStatusActive {
			// Regular renewal extends from the scheduled date, not the
			// processing time, so late sweeps don't drift the cycle
			base = sub.NextBillingDate
		}
		sub.NextBillingDate = e.policy.NextCycleDate(base, sub.BillingCycle)
		sub.RetryCount = 0
		sub.GraceEnteredAt = nil
		e.setStatus(sub, models.SubStatusActive, now)

	case ports.OutcomeRejected:
		switch sub.Status {
		case models.SubStatusActive:
			next, err := e.policy.NextRetryDate(now, 0)
			if err != nil {
				return fmt.Errorf("schedule first retry: %w", err)
			}
			sub.RetryCount = 1
			sub.NextBillingDate = next
			e.setStatus(sub, models.SubStatusPaymentFailed, now)

		case models.SubStatusPaymentFailed:
			if sub.RetryCount >= e.policy.MaxRetries {
				sub.GraceEnteredAt = &now
				sub.NextBillingDate = e.policy.GraceDeadline(now)
				e.setStatus(sub, models.SubStatusGracePeriod, now)
				break
			}
			next, err := e.policy.NextRetryDate(now, sub.RetryCount)
			if err != nil {
				return fmt.Errorf("schedule retry %d: %w", sub.RetryCount, err)
			}
			sub.RetryCount++
			sub.NextBillingDate = next
			sub.UpdatedAt = now

		default:
			// A decline during grace or suspension changes nothing; the
			// tenant is already lapsing
			sub.UpdatedAt = now
		}

	default:
		return fmt.Errorf("unexpected charge outcome %q", outcome)
	}

	if sub.Status != from {
		e.logger.Info("state_transitioned",
			ports.String("subscription_id", sub.ID),
			ports.String("from", string(from)),
			ports.String("to", string(sub.Status)),
			ports.Int("retry_count", sub.RetryCount),
			ports.String("next_billing_date", sub.NextBillingDate.Format(time.RFC3339)))
	}

	return nil
}

func (e *Engine) setStatus(sub *models.Subscription, to models.SubscriptionStatus, now time.Time) {
	if sub.Status != to {
		observability.RecordStateTransition(string(sub.Status), string(to))
	}
	sub.Status = to
	sub.UpdatedAt = now
}
