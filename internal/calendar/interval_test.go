package calendar

import (
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = NewDate(2025, time.March, 4)

func span(t *testing.T, from, to string) Interval {
	t.Helper()
	f, err := ParseTimeOfDay(from)
	require.NoError(t, err)
	e, err := ParseTimeOfDay(to)
	require.NoError(t, err)
	iv, err := DayInterval(testDay, f, e, time.UTC)
	require.NoError(t, err)
	return iv
}

func labels(intervals []Interval) []string {
	out := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, iv.Start().Format(TimeLayout)+"-"+iv.End().Format(TimeLayout))
	}
	return out
}

func TestNewIntervalRejectsEmptyAndInverted(t *testing.T) {
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	_, err := NewInterval(now, now)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = NewInterval(now, now.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = DayInterval(testDay, Clock(10, 0), Clock(9, 0), time.UTC)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = DayInterval(testDay, Clock(23, 0), TimeOfDay(MinutesPerDay+30), time.UTC)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestIntersect(t *testing.T) {
	got, ok := Intersect(span(t, "09:00", "12:00"), span(t, "11:00", "13:00"))
	require.True(t, ok)
	assert.Equal(t, []string{"11:00-12:00"}, labels([]Interval{got}))

	_, ok = Intersect(span(t, "09:00", "10:00"), span(t, "10:00", "11:00"))
	assert.False(t, ok)
}

func TestMergeCoalescesTouchingAndOverlapping(t *testing.T) {
	merged := Merge([]Interval{
		span(t, "13:00", "14:00"),
		span(t, "09:00", "10:00"),
		span(t, "10:00", "11:00"),
		span(t, "10:30", "12:00"),
		span(t, "15:00", "16:00"),
	})
	assert.Equal(t, []string{"09:00-12:00", "13:00-14:00", "15:00-16:00"}, labels(merged))
	assert.Nil(t, Merge(nil))
}

func TestSubtract(t *testing.T) {
	cases := []struct {
		name     string
		base     Interval
		blockers []Interval
		want     []string
	}{
		{"no blockers", span(t, "09:00", "18:00"), nil, []string{"09:00-18:00"}},
		{"lunch block", span(t, "09:00", "18:00"), []Interval{span(t, "13:00", "14:00")}, []string{"09:00-13:00", "14:00-18:00"}},
		{"clips start", span(t, "09:00", "18:00"), []Interval{span(t, "08:00", "10:00")}, []string{"10:00-18:00"}},
		{"clips end", span(t, "09:00", "18:00"), []Interval{span(t, "17:00", "19:00")}, []string{"09:00-17:00"}},
		{"swallows all", span(t, "09:00", "18:00"), []Interval{span(t, "00:00", "24:00")}, []string{}},
		{"touching blocker keeps base", span(t, "09:00", "12:00"), []Interval{span(t, "12:00", "13:00")}, []string{"09:00-12:00"}},
		{
			"several blockers",
			span(t, "08:00", "20:00"),
			[]Interval{span(t, "19:00", "21:00"), span(t, "10:00", "11:00"), span(t, "10:30", "12:00")},
			[]string{"08:00-10:00", "12:00-19:00"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, labels(Subtract(tc.base, tc.blockers)))
		})
	}
}

// Every minute of the base is either in the result or in a blocker, never both.
func TestSubtractCoversBaseExactly(t *testing.T) {
	faker := gofakeit.New(42)

	randomSpan := func() Interval {
		from := faker.Number(0, MinutesPerDay-1)
		to := faker.Number(from+1, MinutesPerDay)
		iv, err := DayInterval(testDay, TimeOfDay(from), TimeOfDay(to), time.UTC)
		require.NoError(t, err)
		return iv
	}

	for round := 0; round < 200; round++ {
		base := randomSpan()
		blockers := make([]Interval, faker.Number(0, 5))
		for i := range blockers {
			blockers[i] = randomSpan()
		}

		result := Subtract(base, blockers)
		for i := 1; i < len(result); i++ {
			require.True(t, result[i-1].End().Before(result[i].Start()) || result[i-1].End().Equal(result[i].Start()))
		}

		for p := base.Start(); p.Before(base.End()); p = p.Add(time.Minute) {
			inResult := containsPoint(result, p)
			inBlocker := containsPoint(blockers, p)
			require.NotEqual(t, inResult, inBlocker, "round %d point %s", round, p.Format(TimeLayout))
		}
		for _, r := range result {
			require.True(t, base.Covers(r))
		}
	}
}

func containsPoint(intervals []Interval, p time.Time) bool {
	for _, iv := range intervals {
		if iv.Contains(p) {
			return true
		}
	}
	return false
}

func TestOverlapsIsStrictHalfOpen(t *testing.T) {
	a := span(t, "09:00", "10:00")
	assert.False(t, a.Overlaps(span(t, "10:00", "10:30")))
	assert.False(t, a.Overlaps(span(t, "08:30", "09:00")))
	assert.True(t, a.Overlaps(span(t, "09:59", "10:30")))
	assert.True(t, a.Overlaps(span(t, "09:15", "09:30")))
}

func TestFullDayFollowsDaylightSaving(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	springForward := FullDay(NewDate(2025, time.March, 30), loc)
	assert.Equal(t, 23*time.Hour, springForward.Duration())

	fallBack := FullDay(NewDate(2025, time.October, 26), loc)
	assert.Equal(t, 25*time.Hour, fallBack.Duration())
}
