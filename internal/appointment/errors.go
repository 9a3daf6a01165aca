package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("invalid input")
	ErrInvalidFormat = fmt.Errorf("%w: invalid date or time format", ErrValidation)
	ErrTooSoon       = errors.New("slot starts less than one hour from now")
	ErrDuplicateSlot = errors.New("slot already exists for this doctor, date and start time")
	ErrSlotNotFound  = errors.New("slot not found")
	ErrAlreadyBooked = errors.New("slot already booked")
	ErrOverlap       = errors.New("patient already has an overlapping booking")
	ErrUnauthorized  = errors.New("not allowed to act on this slot")
	ErrSlotBooked    = fmt.Errorf("%w: slot is booked", ErrUnauthorized)
	ErrNotBooked     = errors.New("slot is not booked")
)

// UserMessage maps an engine error to the single message shown to users.
// Unknown errors get a generic message; their detail stays in the logs.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidFormat):
		return "Invalid date or time format."
	case errors.Is(err, ErrValidation):
		return "Invalid slot: " + unwrapDetail(err)
	case errors.Is(err, ErrTooSoon):
		return "This slot must be at least 1 hour in advance."
	case errors.Is(err, ErrDuplicateSlot):
		return "This slot already exists."
	case errors.Is(err, ErrSlotNotFound):
		return "Slot does not exist."
	case errors.Is(err, ErrAlreadyBooked):
		return "Sorry, this slot was just booked by someone else."
	case errors.Is(err, ErrOverlap):
		return "You already have a booking overlapping this time."
	case errors.Is(err, ErrSlotBooked):
		return "Booked slots cannot be deleted."
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized action."
	case errors.Is(err, ErrNotBooked):
		return "This slot has no booking to cancel."
	default:
		return "Something went wrong. Please try again."
	}
}

type detailError struct {
	kind   error
	detail string
}

func (e *detailError) Error() string { return e.kind.Error() + ": " + e.detail }
func (e *detailError) Unwrap() error { return e.kind }

func validationError(detail string) error {
	return &detailError{kind: ErrValidation, detail: detail}
}

func unwrapDetail(err error) string {
	var d *detailError
	if errors.As(err, &d) {
		return d.detail
	}
	return err.Error()
}
