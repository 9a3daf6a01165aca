package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// Action names one email template. The set is closed.
type Action string

const (
	ActionSignupWelcome       Action = "SIGNUP_WELCOME"
	ActionBookingConfirmation Action = "BOOKING_CONFIRMATION"
	ActionBookingCancellation Action = "BOOKING_CANCELLATION"
	ActionDoctorNewBooking    Action = "DOCTOR_NEW_BOOKING"
	ActionDoctorSlotCancelled Action = "DOCTOR_SLOT_CANCELLED"
)

var (
	ErrUnknownAction  = errors.New("unknown notification action")
	ErrMissingField   = errors.New("missing notification field")
	ErrBadRecipient   = errors.New("invalid notification recipient")
	ErrNotifierClosed = errors.New("notifier closed")
)

var requiredFields = map[Action][]string{
	ActionSignupWelcome:       {"name"},
	ActionBookingConfirmation: {"patient_name", "doctor_name", "date", "time"},
	ActionBookingCancellation: {"name", "date", "time"},
	ActionDoctorNewBooking:    {"doctor_name", "patient_name", "date", "time"},
	ActionDoctorSlotCancelled: {"doctor_name", "patient_name", "date", "time"},
}

// Message is the payload carried to the mailer. Field names match the
// notification queue's JSON contract.
type Message struct {
	Action    Action            `json:"action"`
	Recipient string            `json:"recipient_email"`
	Data      map[string]string `json:"data"`
}

func (a Action) Valid() bool {
	_, ok := requiredFields[a]
	return ok
}

// Validate checks the action, the recipient address and that every field the
// action's template needs is present and non-blank.
func (m Message) Validate() error {
	fields, ok := requiredFields[m.Action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, m.Action)
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("%w: empty", ErrBadRecipient)
	}
	if _, err := mail.ParseAddress(m.Recipient); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRecipient, err)
	}
	for _, f := range fields {
		if strings.TrimSpace(m.Data[f]) == "" {
			return fmt.Errorf("%w: %s requires %q", ErrMissingField, m.Action, f)
		}
	}
	return nil
}

// Notifier hands a message to the delivery channel. Callers treat failures as
// non-fatal.
type Notifier interface {
	Dispatch(ctx context.Context, msg Message) error
}
