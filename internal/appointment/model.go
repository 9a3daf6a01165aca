package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mini-hms/internal/identity"
)

// AppointmentSlot is a doctor-published availability unit. It is open until one
// patient books it and returns to open only through the mutual cancellation
// handshake.
type AppointmentSlot struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientID       *uuid.UUID
	Date            time.Time // calendar day, UTC midnight
	StartTime       TimeOfDay
	EndTime         TimeOfDay
	IsBooked        bool
	CancelRequestBy *identity.Role
	DoctorEventRef  *string
	PatientEventRef *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DateString renders the slot day as YYYY-MM-DD.
func (s *AppointmentSlot) DateString() string {
	return s.Date.Format(DateLayout)
}

// TimeRange renders "HH:MM - HH:MM".
func (s *AppointmentSlot) TimeRange() string {
	return s.StartTime.String() + " - " + s.EndTime.String()
}

// StartsAt places the slot start on the wall clock of loc.
func (s *AppointmentSlot) StartsAt(loc *time.Location) time.Time {
	return s.StartTime.On(s.Date, loc)
}

func (s *AppointmentSlot) EndsAt(loc *time.Location) time.Time {
	return s.EndTime.On(s.Date, loc)
}

// Overlaps is the half-open interval test [start, end) on the same day.
func (s *AppointmentSlot) Overlaps(other *AppointmentSlot) bool {
	if !sameDay(s.Date, other.Date) {
		return false
	}
	return s.StartTime.Before(other.EndTime) && other.StartTime.Before(s.EndTime)
}

func (s *AppointmentSlot) clearBooking() {
	s.PatientID = nil
	s.IsBooked = false
	s.CancelRequestBy = nil
	s.DoctorEventRef = nil
	s.PatientEventRef = nil
}

// CancelOutcome reports what a cancellation request did.
type CancelOutcome string

const (
	CancelRequested        CancelOutcome = "requested"
	CancelAlreadyRequested CancelOutcome = "already_requested"
	CancelReleased         CancelOutcome = "released"
)

// Post is a community bulletin entry written by a doctor.
type Post struct {
	ID        uuid.UUID
	AuthorID  uuid.UUID
	Content   string
	CreatedAt time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
