package policy

import (
	"testing"
	"time"

	"github.com/agendly/billing-service/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRetryDate_Intervals(t *testing.T) {
	p := Default()
	failure := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	d0, err := p.NextRetryDate(failure, 0)
	require.NoError(t, err)
	assert.Equal(t, failure.AddDate(0, 0, 1), d0)

	d1, err := p.NextRetryDate(failure, 1)
	require.NoError(t, err)
	assert.Equal(t, failure.AddDate(0, 0, 3), d1)

	d2, err := p.NextRetryDate(failure, 2)
	require.NoError(t, err)
	assert.Equal(t, failure.AddDate(0, 0, 7), d2)
}

func TestNextRetryDate_ExhaustedBudget(t *testing.T) {
	p := Default()
	failure := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := p.NextRetryDate(failure, p.MaxRetries)
	assert.Error(t, err)

	_, err = p.NextRetryDate(failure, -1)
	assert.Error(t, err)
}

func TestNextCycleDate_Monthly_ClampsEndOfMonth(t *testing.T) {
	p := Default()

	next := p.NextCycleDate(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), models.CycleMonthly)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), next)

	next = p.NextCycleDate(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), models.CycleMonthly)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), next)
}

func TestNextCycleDate_Yearly(t *testing.T) {
	p := Default()

	next := p.NextCycleDate(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), models.CycleYearly)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), next)
}

func TestNextCycleDate_Monotonic(t *testing.T) {
	p := Default()
	date := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	// Twelve consecutive monthly renewals always move forward
	for i := 0; i < 12; i++ {
		next := p.NextCycleDate(date, models.CycleMonthly)
		assert.True(t, next.After(date), "cycle %d: %s -> %s", i, date, next)
		date = next
	}
}

func TestIsGraceExpired(t *testing.T) {
	p := Default()
	entered := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Inside the window
	assert.False(t, p.IsGraceExpired(entered, entered.AddDate(0, 0, 9)))
	// The deadline instant itself is still inside
	assert.False(t, p.IsGraceExpired(entered, entered.AddDate(0, 0, 10)))
	// Past the deadline
	assert.True(t, p.IsGraceExpired(entered, entered.AddDate(0, 0, 10).Add(time.Second)))
	assert.True(t, p.IsGraceExpired(entered, entered.AddDate(0, 0, 11)))
}
