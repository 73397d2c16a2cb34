package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekdayStartsOnMonday(t *testing.T) {
	assert.Equal(t, Monday, NewDate(2025, time.March, 3).Weekday())
	assert.Equal(t, Tuesday, NewDate(2025, time.March, 4).Weekday())
	assert.Equal(t, Sunday, NewDate(2025, time.March, 9).Weekday())
	assert.Equal(t, "Monday", Monday.String())
	assert.Equal(t, "Sunday", Sunday.String())
	assert.False(t, Weekday(7).Valid())
}

func TestParseDateAndTimeOfDay(t *testing.T) {
	d, err := ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", d.AddDays(1).String())
	assert.Equal(t, 28, d.DaysInMonth())

	_, err = ParseDate("2025-02-30")
	assert.ErrorIs(t, err, ErrInvalidDate)

	tod, err := ParseTimeOfDay("13:45")
	require.NoError(t, err)
	assert.Equal(t, Clock(13, 45), tod)
	assert.Equal(t, "13:45", tod.String())

	end, err := ParseTimeOfDay("24:00")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(MinutesPerDay), end)

	_, err = ParseTimeOfDay("25:00")
	assert.ErrorIs(t, err, ErrInvalidTimeOfDay)
}

func TestDateBetween(t *testing.T) {
	from := NewDate(2025, time.January, 10)
	to := NewDate(2025, time.January, 20)

	assert.True(t, NewDate(2025, time.January, 10).Between(from, to))
	assert.True(t, NewDate(2025, time.January, 20).Between(from, to))
	assert.False(t, NewDate(2025, time.January, 21).Between(from, to))
	assert.False(t, NewDate(2025, time.January, 9).Between(from, to))
	assert.True(t, NewDate(2030, time.January, 1).Between(from, Date{}))
}

func TestDateAtUsesZoneWallClock(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	at := NewDate(2025, time.June, 2).At(Clock(9, 30), loc)
	assert.Equal(t, "2025-06-02T09:30:00-03:00", at.Format(time.RFC3339))
	assert.Equal(t, NewDate(2025, time.June, 3), DateOf(NewDate(2025, time.June, 2).At(TimeOfDay(MinutesPerDay), loc)))
}

func TestWeekdayFromIndex(t *testing.T) {
	w, err := WeekdayFromIndex(6)
	require.NoError(t, err)
	assert.Equal(t, Sunday, w)

	for _, n := range []int{-1, 7} {
		_, err := WeekdayFromIndex(n)
		assert.ErrorIs(t, err, ErrInvalidWeekday)
	}
}
