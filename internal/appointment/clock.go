package appointment

import "time"

// LeadTime is the minimum gap between now and a slot start for the slot to be
// creatable, bookable or listed.
const LeadTime = time.Hour

// Clock supplies the current wall-clock time in the clinic's location.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type SystemClock struct {
	loc *time.Location
}

func NewSystemClock(loc *time.Location) SystemClock {
	if loc == nil {
		loc = time.Local
	}
	return SystemClock{loc: loc}
}

func (c SystemClock) Now() time.Time           { return time.Now().In(c.loc) }
func (c SystemClock) Location() *time.Location { return c.loc }

// tooSoon reports whether a slot starting at start violates the lead-time rule
// at now. A start exactly LeadTime away is allowed.
func tooSoon(now, start time.Time) bool {
	return start.Before(now.Add(LeadTime))
}
