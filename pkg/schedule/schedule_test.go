package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairos-watch/capture/pkg/core"
)

func TestEvery(t *testing.T) {
	s := Every(5 * time.Minute)
	now := time.Now()

	assert.Equal(t, now.Add(5*time.Minute), s.Next(now))
}

func TestEvery_MultipleNext(t *testing.T) {
	s := Every(time.Hour)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	next1 := s.Next(start)
	next2 := s.Next(next1)

	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), next1)
	assert.Equal(t, time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC), next2)
}

func TestDaily(t *testing.T) {
	s := Daily(9, 30)
	from := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), s.Next(from))
}

func TestDaily_NextDay(t *testing.T) {
	s := Daily(9, 30)
	from := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) // After 9:30

	assert.Equal(t, time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC), s.Next(from))
}

func TestWeekly_NextWeek(t *testing.T) {
	s := Weekly(time.Monday, 10, 0)
	from := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC) // Monday after 10:00

	assert.Equal(t, time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC), s.Next(from))
}

func TestWeekly_DifferentDay(t *testing.T) {
	s := Weekly(time.Friday, 17, 0)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday

	assert.Equal(t, time.Date(2024, 1, 5, 17, 0, 0, 0, time.UTC), s.Next(from))
}

func TestCron_MultipleFields(t *testing.T) {
	s := Cron("30 14 * * 1-5")                          // 2:30 PM on weekdays
	from := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC) // Saturday

	next := s.Next(from)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 14, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestCron_InvalidExpression_Panics(t *testing.T) {
	assert.Panics(t, func() {
		Cron("invalid cron")
	})
}

func TestParse(t *testing.T) {
	from := time.Date(2024, 1, 1, 8, 15, 0, 0, time.UTC)

	tests := []struct {
		cadence string
		want    time.Time
	}{
		{"@every 6h", time.Date(2024, 1, 1, 14, 15, 0, 0, time.UTC)},
		{"@hourly", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"0 */4 * * *", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"  15 9 * * *  ", time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.cadence, func(t *testing.T) {
			s, err := Parse(tt.cadence)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(s.Next(from)), "got %v", s.Next(from))
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, cadence := range []string{"", "   ", "@every", "@every soon", "@every 10s", "* * *", "@fortnightly"} {
		_, err := Parse(cadence)
		assert.ErrorIs(t, err, core.ErrInvalidCadence, "cadence %q", cadence)
	}
}

func TestDue(t *testing.T) {
	s := Every(time.Hour)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, Due(s, nil, now), "never scheduled")

	recent := now.Add(-30 * time.Minute)
	assert.False(t, Due(s, &recent, now))

	exact := now.Add(-time.Hour)
	assert.True(t, Due(s, &exact, now))

	old := now.Add(-3 * time.Hour)
	assert.True(t, Due(s, &old, now))
}

func TestScheduleInterface(t *testing.T) {
	var _ Schedule = Every(time.Minute)        //nolint:staticcheck // interface conformance check
	var _ Schedule = Daily(9, 0)               //nolint:staticcheck // interface conformance check
	var _ Schedule = Weekly(time.Monday, 9, 0) //nolint:staticcheck // interface conformance check
	var _ Schedule = Cron("* * * * *")         //nolint:staticcheck // interface conformance check
}
