package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:05")
	require.NoError(t, err)
	assert.Equal(t, 9, tod.Hour())
	assert.Equal(t, 5, tod.Minute())
	assert.Equal(t, "09:05", tod.String())

	for _, bad := range []string{"", "9", "24:00", "12:60", "12-30", "12:30:00"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestTimeOfDayOnLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	date, err := ParseDate("2026-03-10")
	require.NoError(t, err)

	at := NewTimeOfDay(10, 0).On(date, loc)
	assert.Equal(t, time.Date(2026, 3, 10, 10, 0, 0, 0, loc), at)
	assert.Equal(t, time.Date(2026, 3, 10, 4, 30, 0, 0, time.UTC), at.UTC())
}

func TestTimeOfDayPgRoundTrip(t *testing.T) {
	tod := NewTimeOfDay(23, 59)
	assert.Equal(t, tod, timeOfDayFromPg(tod.pg()))
}

func TestTooSoonBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.False(t, tooSoon(now, now.Add(time.Hour)))
	assert.True(t, tooSoon(now, now.Add(time.Hour-time.Second)))
	assert.True(t, tooSoon(now, now.Add(-time.Minute)))
}

func TestDayOf(t *testing.T) {
	loc := time.FixedZone("minus5", -5*3600)
	late := time.Date(2026, 3, 10, 23, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), dayOf(late))
	assert.True(t, sameDay(dayOf(late), late))
}

func TestSlotRendering(t *testing.T) {
	date, _ := ParseDate("2026-03-10")
	s := AppointmentSlot{Date: date, StartTime: NewTimeOfDay(14, 0), EndTime: NewTimeOfDay(14, 30)}

	assert.Equal(t, "2026-03-10", s.DateString())
	assert.Equal(t, "14:00 - 14:30", s.TimeRange())
}
