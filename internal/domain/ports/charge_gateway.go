package ports

import (
	"context"
	"time"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/shopspring/decimal"
)

// ChargeOutcome is the normalized result classification of a charge
type ChargeOutcome string

const (
	OutcomeApproved ChargeOutcome = "approved"
	OutcomeRejected ChargeOutcome = "rejected"
	OutcomePending  ChargeOutcome = "pending"
)

// ChargeRequest describes one logical charge attempt. IdempotencyKey must be
// unique per attempt so that network-level retries never create two
// gateway-side charges for one intended attempt.
type ChargeRequest struct {
	SubscriptionID        string
	TenantID              string
	GatewaySubscriptionID string
	Amount                decimal.Decimal
	Currency              string
	BillingCycle          models.BillingCycle
	IdempotencyKey        string
	Metadata              map[string]string
}

// ChargeResult is the normalized gateway response for a charge attempt
type ChargeResult struct {
	Outcome          ChargeOutcome
	GatewayPaymentID string
	Amount           decimal.Decimal
	StatusDetail     string
	PaidAt           *time.Time
}

// PaymentDetail is the gateway's authoritative record of a payment,
// fetched by id. Webhook bodies are never trusted directly.
type PaymentDetail struct {
	GatewayPaymentID  string
	ExternalReference string
	Outcome           ChargeOutcome
	Amount            decimal.Decimal
	Currency          string
	StatusDetail      string
	PaidAt            *time.Time
}

// PreapprovalRequest asks the gateway to set up a recurring charge
// authorization for a new subscription.
type PreapprovalRequest struct {
	Reason            string
	Amount            decimal.Decimal
	Currency          string
	BillingCycle      models.BillingCycle
	BackURL           string
	ExternalReference string
	Metadata          map[string]string
}

// PreapprovalResult is the gateway response to a preapproval request
type PreapprovalResult struct {
	GatewaySubscriptionID string
	CheckoutURL           string
	Status                string
}

// ChargeGateway wraps the external payment gateway behind a narrow interface
// so the concrete gateway can be swapped or mocked in tests.
type ChargeGateway interface {
	// CreateCharge submits a charge for a due subscription. Transient
	// failures (network, gateway 5xx) are returned as retriable errors;
	// a decline is a ChargeResult with OutcomeRejected, not an error.
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	// GetPaymentDetail fetches the authoritative payment record by
	// gateway-assigned id.
	GetPaymentDetail(ctx context.Context, gatewayPaymentID string) (*PaymentDetail, error)

	// CreatePreapproval registers a recurring-billing authorization and
	// returns the checkout URL the tenant completes signup on.
	CreatePreapproval(ctx context.Context, req PreapprovalRequest) (*PreapprovalResult, error)

	// CancelPreapproval tears down the gateway-side recurring authorization
	CancelPreapproval(ctx context.Context, gatewaySubscriptionID string) error
}
