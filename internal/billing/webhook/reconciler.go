// Package webhook reconciles asynchronous gateway payment notifications
// with the billing ledger.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agendly/billing-service/internal/billing/engine"
	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/internal/domain/ports"
	"github.com/agendly/billing-service/pkg/observability"
	"github.com/google/uuid"
)

// EventTypePayment is the only event type the reconciler acts on
const EventTypePayment = "payment"

// Event is the parsed webhook notification. The body only carries the
// gateway payment id; the authoritative record is always fetched back.
type Event struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ParseEvent decodes a webhook body
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode webhook body: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("webhook event missing type")
	}
	return &event, nil
}

// Reconciler ingests gateway payment events. Processing is idempotent:
// duplicate deliveries of the same gateway payment are no-ops, and events
// that cannot be matched to a subscription are logged and dropped so the
// gateway stops redelivering them.
type Reconciler struct {
	gateway ports.ChargeGateway
	subRepo ports.SubscriptionRepository
	engine  *engine.Engine
	logger  ports.Logger
}

// New creates a new Reconciler
func New(
	gateway ports.ChargeGateway,
	subRepo ports.SubscriptionRepository,
	eng *engine.Engine,
	logger ports.Logger,
) *Reconciler {
	return &Reconciler{
		gateway: gateway,
		subRepo: subRepo,
		engine:  eng,
		logger:  logger,
	}
}

// Process handles one webhook event. A nil error means the event is fully
// consumed and the gateway should not redeliver; an error means delivery
// should be retried.
func (r *Reconciler) Process(ctx context.Context, event *Event, now time.Time) error {
	if event.Type != EventTypePayment {
		r.logger.Debug("webhook event type ignored",
			ports.String("type", event.Type),
			ports.String("data_id", event.Data.ID))
		observability.RecordWebhookEvent("ignored")
		return nil
	}

	if event.Data.ID == "" {
		observability.RecordWebhookEvent("invalid")
		return fmt.Errorf("payment event missing data.id")
	}

	detail, err := r.gateway.GetPaymentDetail(ctx, event.Data.ID)
	if err != nil {
		observability.RecordWebhookEvent("fetch_failed")
		return fmt.Errorf("fetch payment detail %s: %w", event.Data.ID, err)
	}

	if detail.Outcome == ports.OutcomePending {
		// Not final yet; the gateway sends another event when it settles
		r.logger.Debug("gateway payment still pending",
			ports.String("gateway_payment_id", detail.GatewayPaymentID))
		observability.RecordWebhookEvent("pending")
		return nil
	}

	sub, err := r.resolveSubscription(ctx, detail)
	if err != nil {
		return err
	}
	if sub == nil {
		// Unknown reference. Dropping beats redelivery loops; the payment
		// is still visible in the gateway dashboard for manual follow-up.
		r.logger.Warn("webhook payment matches no subscription",
			ports.String("gateway_payment_id", detail.GatewayPaymentID),
			ports.String("external_reference", detail.ExternalReference))
		observability.RecordWebhookEvent("unmatched")
		return nil
	}

	updated, applied, err := r.engine.ApplyGatewayPayment(ctx, sub.ID, detail, now)
	if err != nil {
		observability.RecordWebhookEvent("apply_failed")
		return fmt.Errorf("apply gateway payment: %w", err)
	}

	if !applied {
		r.logger.Info("duplicate webhook delivery ignored",
			ports.String("gateway_payment_id", detail.GatewayPaymentID))
		observability.RecordWebhookEvent("duplicate")
		return nil
	}

	r.logger.Info("webhook payment applied",
		ports.String("subscription_id", sub.ID),
		ports.String("gateway_payment_id", detail.GatewayPaymentID),
		ports.String("outcome", string(detail.Outcome)),
		ports.String("status", string(updated.Status)))
	observability.RecordWebhookEvent("applied")

	return nil
}

// resolveSubscription maps a payment detail back to a subscription. The
// external reference carries our subscription id when we initiated the
// charge; gateway-initiated preapproval charges are matched by the
// preapproval id instead.
func (r *Reconciler) resolveSubscription(ctx context.Context, detail *ports.PaymentDetail) (*models.Subscription, error) {
	if detail.ExternalReference != "" {
		if id, err := uuid.Parse(detail.ExternalReference); err == nil {
			sub, err := r.subRepo.GetByID(ctx, nil, id)
			if err != nil {
				return nil, fmt.Errorf("lookup subscription %s: %w", id, err)
			}
			if sub != nil {
				return sub, nil
			}
		}
		sub, err := r.subRepo.GetByGatewaySubscriptionID(ctx, nil, detail.ExternalReference)
		if err != nil {
			return nil, fmt.Errorf("lookup subscription by reference %s: %w", detail.ExternalReference, err)
		}
		return sub, nil
	}
	return nil, nil
}
