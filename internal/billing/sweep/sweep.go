package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agendly/billing-service/internal/billing/engine"
	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	pkgerrors "github.com/agendly/billing-service/pkg/errors"
	"github.com/agendly/billing-service/pkg/observability"
)

// Sweeper is the periodic scan-and-process job over all due subscriptions.
// It holds no mutable state between runs; all state lives in the ledger,
// so it is safely restartable and horizontally stateless.
type Sweeper struct {
	db             ports.DBPort
	subRepo        ports.SubscriptionRepository
	engine         *engine.Engine
	gateway        ports.ChargeGateway
	logger         ports.Logger
	concurrency    int
	attemptTimeout time.Duration
}

// Option configures a Sweeper
type Option func(*Sweeper)

// WithConcurrency bounds how many charge attempts run at once
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithAttemptTimeout bounds how long one gateway call may block
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

// New creates a new Sweeper
func New(
	db ports.DBPort,
	subRepo ports.SubscriptionRepository,
	eng *engine.Engine,
	gateway ports.ChargeGateway,
	logger ports.Logger,
	opts ...Option,
) *Sweeper {
	s := &Sweeper{
		db:             db,
		subRepo:        subRepo,
		engine:         eng,
		gateway:        gateway,
		logger:         logger,
		concurrency:    4,
		attemptTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepError records why one subscription failed during a run
type SweepError struct {
	SubscriptionID string
	TenantID       string
	Error          string
	Transient      bool
}

// Result aggregates one sweep run
type Result struct {
	Selected  int
	Succeeded int
	Failed    int
	Skipped   int
	Suspended int
	Transient int
	Errors    []SweepError
}

// Run executes one sweep as of now. Each subscription is processed in
// isolation: a failure on one never aborts the others. Ordering across
// subscriptions is unspecified.
func (s *Sweeper) Run(ctx context.Context, now time.Time, batchSize int) (*Result, error) {
	started := time.Now()

	subs, err := s.subRepo.ListDueForBilling(ctx, nil, now, int32(batchSize))
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}

	result := &Result{Selected: len(subs)}

	s.logger.Info("sweep started",
		ports.String("as_of", now.Format(time.RFC3339)),
		ports.Int("due", len(subs)))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.concurrency)
	)

	for _, sub := range subs {
		wg.Add(1)
		sem <- struct{}{}
		go func(sub *models.Subscription) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.processOne(ctx, sub, now)

			mu.Lock()
			defer mu.Unlock()
			switch outcome.kind {
			case sweepSucceeded:
				result.Succeeded++
				observability.RecordSweepResult("success")
			case sweepSkipped:
				result.Skipped++
				observability.RecordSweepResult("skipped")
			case sweepSuspended:
				result.Suspended++
				observability.RecordSweepResult("success")
			case sweepTransient:
				result.Transient++
				observability.RecordSweepResult("failed")
				result.Errors = append(result.Errors, SweepError{
					SubscriptionID: sub.ID,
					TenantID:       sub.TenantID,
					Error:          outcome.err.Error(),
					Transient:      true,
				})
			case sweepFailed:
				result.Failed++
				observability.RecordSweepResult("failed")
				if outcome.err != nil {
					result.Errors = append(result.Errors, SweepError{
						SubscriptionID: sub.ID,
						TenantID:       sub.TenantID,
						Error:          outcome.err.Error(),
					})
				}
			}
		}(sub)
	}

	wg.Wait()

	observability.RecordSweepDuration(time.Since(started).Seconds())

	s.logger.Info("sweep completed",
		ports.Int("selected", result.Selected),
		ports.Int("succeeded", result.Succeeded),
		ports.Int("failed", result.Failed),
		ports.Int("skipped", result.Skipped),
		ports.Int("suspended", result.Suspended),
		ports.Int("transient", result.Transient))

	return result, nil
}

type outcomeKind int

const (
	sweepSucceeded outcomeKind = iota
	sweepFailed
	sweepSkipped
	sweepSuspended
	sweepTransient
)

type sweepOutcome struct {
	kind outcomeKind
	err  error
}

// processOne drives a single due subscription through one sweep step
func (s *Sweeper) processOne(ctx context.Context, sub *models.Subscription, now time.Time) sweepOutcome {
	// Grace-period subscriptions are not re-charged automatically; the
	// sweep only checks whether the window has closed.
	if sub.Status == models.SubStatusGracePeriod {
		_, expired, err := s.engine.CheckGraceExpiry(ctx, sub.ID, now)
		if err != nil {
			s.logger.Error("grace expiry check failed",
				ports.String("subscription_id", sub.ID),
				ports.Err(err))
			return sweepOutcome{kind: sweepFailed, err: err}
		}
		if expired {
			return sweepOutcome{kind: sweepSuspended}
		}
		return sweepOutcome{kind: sweepSkipped}
	}

	// One idempotency key per logical attempt: retries of the network
	// call reuse it, so the gateway never books two charges for one
	// intended attempt.
	idempotencyKey := fmt.Sprintf("sub-%s-%s", sub.ID, sub.NextBillingDate.Format("2006-01-02"))

	payment, startedAttempt, err := s.engine.BeginAttempt(ctx, sub, idempotencyKey)
	if err != nil {
		return sweepOutcome{kind: sweepFailed, err: fmt.Errorf("begin attempt: %w", err)}
	}
	if !startedAttempt {
		return sweepOutcome{kind: sweepSkipped}
	}

	chargeCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	chargeResult, err := s.gateway.CreateCharge(chargeCtx, ports.ChargeRequest{
		SubscriptionID:        sub.ID,
		TenantID:              sub.TenantID,
		GatewaySubscriptionID: sub.GatewaySubscriptionID,
		Amount:                payment.Amount,
		Currency:              payment.Currency,
		BillingCycle:          payment.BillingCycle,
		IdempotencyKey:        idempotencyKey,
		Metadata: map[string]string{
			"subscription_id": sub.ID,
			"tenant_id":       sub.TenantID,
			"plan_type":       sub.PlanType,
			"billing_cycle":   string(sub.BillingCycle),
		},
	})

	if err != nil {
		if pkgerrors.IsTransient(err) || chargeCtx.Err() != nil {
			// Do not consume a retry slot; clear the in-flight guard and
			// let the next tick re-attempt with the same idempotency key
			observability.RecordChargeAttempt("transient_error", string(sub.BillingCycle))
			if abortErr := s.engine.AbortAttempt(ctx, payment.ID, err.Error()); abortErr != nil {
				s.logger.Error("abort attempt failed",
					ports.String("subscription_id", sub.ID),
					ports.Err(abortErr))
				return sweepOutcome{kind: sweepFailed, err: abortErr}
			}
			s.logger.Warn("attempt_failed",
				ports.String("subscription_id", sub.ID),
				ports.Bool("transient", true),
				ports.Err(err))
			return sweepOutcome{kind: sweepTransient, err: err}
		}

		// Permanent failure for this attempt: advances the dunning state
		chargeResult = &ports.ChargeResult{
			Outcome:      ports.OutcomeRejected,
			StatusDetail: err.Error(),
		}
	}

	observability.RecordChargeAttempt(string(chargeResult.Outcome), string(sub.BillingCycle))

	updated, err := s.engine.ApplyAttemptOutcome(ctx, sub.ID, payment.ID, chargeResult, now)
	if err != nil {
		return sweepOutcome{kind: sweepFailed, err: fmt.Errorf("apply outcome: %w", err)}
	}

	if chargeResult.Outcome == ports.OutcomePending {
		// The webhook reconciler settles this one; the pending row keeps
		// further sweeps away in the meantime
		return sweepOutcome{kind: sweepSkipped}
	}

	if chargeResult.Outcome == ports.OutcomeApproved {
		s.logger.Info("attempt_succeeded",
			ports.String("subscription_id", sub.ID),
			ports.String("payment_id", payment.ID))
		return sweepOutcome{kind: sweepSucceeded}
	}

	retryCount := sub.RetryCount
	if updated != nil {
		retryCount = updated.RetryCount
	}
	s.logger.Warn("attempt_failed",
		ports.String("subscription_id", sub.ID),
		ports.Int("retry_count", retryCount),
		ports.String("detail", chargeResult.StatusDetail))

	return sweepOutcome{kind: sweepFailed}
}
