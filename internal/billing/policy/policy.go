package policy

import (
	"fmt"
	"time"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/agendly/billing-service/pkg/timeutil"
)

// Policy is the single source of truth for retry scheduling and the grace
// window. It is pure computation: no I/O, no clock access.
type Policy struct {
	MaxRetries         int
	RetryIntervalsDays []int
	GracePeriodDays    int
}

// Default returns the production dunning policy: three retries at 1, 3 and
// 7 days after each failure, then a 10 day grace window.
func Default() Policy {
	return Policy{
		MaxRetries:         3,
		RetryIntervalsDays: []int{1, 3, 7},
		GracePeriodDays:    10,
	}
}

// NextRetryDate returns when the attempt after retryCount failures should
// run. retryCount counts failures already consumed, so the first failure
// passes 0. Errors when the retry budget is exhausted.
func (p Policy) NextRetryDate(failureDate time.Time, retryCount int) (time.Time, error) {
	if retryCount < 0 || retryCount >= p.MaxRetries {
		return time.Time{}, fmt.Errorf("retry count %d out of range [0,%d)", retryCount, p.MaxRetries)
	}
	return failureDate.UTC().AddDate(0, 0, p.RetryIntervalsDays[retryCount]), nil
}

// NextCycleDate returns the next regular billing date after a successful
// charge. Month arithmetic clamps to the last valid day instead of
// overflowing: Jan 31 + 1 month is the last day of February.
func (p Policy) NextCycleDate(date time.Time, cycle models.BillingCycle) time.Time {
	switch cycle {
	case models.CycleYearly:
		return timeutil.AddYears(date, 1)
	default:
		return timeutil.AddMonths(date, 1)
	}
}

// GraceDeadline returns the instant the grace window closes
func (p Policy) GraceDeadline(enteredGrace time.Time) time.Time {
	return enteredGrace.UTC().AddDate(0, 0, p.GracePeriodDays)
}

// IsGraceExpired reports whether the grace window entered at enteredGrace
// has closed as of now. The boundary instant itself is still inside the
// window.
func (p Policy) IsGraceExpired(enteredGrace, now time.Time) bool {
	return now.After(p.GraceDeadline(enteredGrace))
}
