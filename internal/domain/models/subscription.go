package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle represents how often a tenant plan is billed
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// SubscriptionStatus represents the current dunning state of a subscription
type SubscriptionStatus string

const (
	SubStatusActive        SubscriptionStatus = "active"
	SubStatusPaymentFailed SubscriptionStatus = "payment_failed"
	SubStatusGracePeriod   SubscriptionStatus = "grace_period"
	SubStatusSuspended     SubscriptionStatus = "suspended"
	SubStatusCancelled     SubscriptionStatus = "cancelled"
)

// Subscription represents a tenant's paid-plan subscription
type Subscription struct {
	ID                    string
	TenantID              string
	PlanType              string
	BillingCycle          BillingCycle
	PriceAmount           decimal.Decimal
	Currency              string
	Status                SubscriptionStatus
	NextBillingDate       time.Time
	RetryCount            int
	GraceEnteredAt        *time.Time
	GatewaySubscriptionID string
	Metadata              map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	CancelledAt           *time.Time
}

// IsTerminal returns true if no further automatic transitions are allowed
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubStatusCancelled
}

// IsBillable returns true if the sweep may act on this subscription
func (s *Subscription) IsBillable() bool {
	switch s.Status {
	case SubStatusActive, SubStatusPaymentFailed, SubStatusGracePeriod:
		return true
	default:
		return false
	}
}

// IsDue returns true if the subscription is due for action as of now
func (s *Subscription) IsDue(now time.Time) bool {
	return s.IsBillable() && !s.NextBillingDate.After(now)
}
