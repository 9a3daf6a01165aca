package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mini-hms/internal/identity"
)

// SlotTx is the write surface available while a slot row is locked.
type SlotTx interface {
	// HasOverlappingBooking reports whether the patient holds another booked
	// slot on the same day whose interval overlaps slot.
	HasOverlappingBooking(ctx context.Context, patientID uuid.UUID, slot *AppointmentSlot) (bool, error)
	UpdateSlot(ctx context.Context, slot *AppointmentSlot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// InsertSlot returns ErrDuplicateSlot when (doctor, date, start) exists.
	InsertSlot(ctx context.Context, slot *AppointmentSlot) error

	// Listings, ordered by date then start time
	ListOpenSlots(ctx context.Context, fromDay time.Time) ([]AppointmentSlot, error)
	ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentSlot, error)
	ListSlotsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentSlot, error)

	// DeleteStaleSlots removes unbooked slots whose start is before now.
	DeleteStaleSlots(ctx context.Context, now time.Time) (int64, error)

	// WithLockedSlot runs fn in a transaction holding an exclusive lock on the
	// slot row. fn may run more than once if the transaction has to be retried.
	// Returns ErrSlotNotFound without calling fn when the slot is missing.
	WithLockedSlot(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx SlotTx, slot *AppointmentSlot) error) error

	// SetEventRef stores a calendar event reference for one party, only while
	// the slot is still booked by patientID.
	SetEventRef(ctx context.Context, slotID, patientID uuid.UUID, party identity.Role, ref string) error

	// Doctor board
	InsertPost(ctx context.Context, post *Post) error
	ListPosts(ctx context.Context, limit int) ([]Post, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
