package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddMonths_ClampsEndOfMonth(t *testing.T) {
	tests := []struct {
		name     string
		from     time.Time
		months   int
		expected time.Time
	}{
		{
			name:     "jan 31 plus one month lands on feb 28",
			from:     time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "jan 31 plus one month in leap year lands on feb 29",
			from:     time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "mar 31 plus one month lands on apr 30",
			from:     time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "mid-month is unchanged",
			from:     time.Date(2025, 5, 15, 8, 30, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC),
		},
		{
			name:     "december rolls into next year",
			from:     time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			months:   1,
			expected: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AddMonths(tt.from, tt.months))
		})
	}
}

func TestAddYears_LeapDay(t *testing.T) {
	from := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), AddYears(from, 1))
}

func TestStartOfDay(t *testing.T) {
	ts := time.Date(2025, 7, 4, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 7, 4, 0, 0, 0, 0, time.UTC), StartOfDay(ts))
}
