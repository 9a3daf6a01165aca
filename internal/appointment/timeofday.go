package appointment

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// TimeOfDay is a wall-clock time with minute precision, stored as minutes
// after midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, err
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

// ParseDate returns the calendar day as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) Before(o TimeOfDay) bool { return t < o }

// On combines the time with the calendar day of date in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeOfDay) pg() pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func timeOfDayFromPg(v pgtype.Time) TimeOfDay {
	return TimeOfDay(v.Microseconds / int64(time.Minute/time.Microsecond))
}

// dayOf strips the wall clock of t, keeping its calendar day as UTC midnight.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
