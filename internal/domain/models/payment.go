package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the state of a single charge attempt
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
)

// Payment represents one charge attempt against a subscription.
// Rows are append-only; amount and billing cycle are snapshots taken at
// attempt time and never change when the subscription is later edited.
type Payment struct {
	ID               string
	SubscriptionID   string
	Amount           decimal.Decimal
	Currency         string
	BillingCycle     BillingCycle
	Status           PaymentStatus
	GatewayPaymentID string
	IdempotencyKey   string
	FailureReason    string
	PaidAt           *time.Time
	CreatedAt        time.Time
}
