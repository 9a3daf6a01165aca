package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mini-hms/internal/appointment"
	"github.com/hackgods/mini-hms/internal/identity"
)

type CreateSlotRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime   string `json:"end_time" validate:"required,datetime=15:04"`
}

type CreatePostRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

type SlotResponse struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	EndTime         string     `json:"end_time"`
	Time            string     `json:"time"`
	IsBooked        bool       `json:"is_booked"`
	CancelRequestBy *string    `json:"cancel_request_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toSlotResponse(s appointment.AppointmentSlot) SlotResponse {
	resp := SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		PatientID: s.PatientID,
		Date:      s.DateString(),
		StartTime: s.StartTime.String(),
		EndTime:   s.EndTime.String(),
		Time:      s.TimeRange(),
		IsBooked:  s.IsBooked,
		CreatedAt: s.CreatedAt,
	}
	if s.CancelRequestBy != nil {
		by := string(*s.CancelRequestBy)
		resp.CancelRequestBy = &by
	}
	return resp
}

func toSlotResponses(slots []appointment.AppointmentSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

type CancelResponse struct {
	SlotID  uuid.UUID `json:"slot_id"`
	Outcome string    `json:"outcome"`
	Message string    `json:"message"`
}

type DoctorResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Mobile string    `json:"mobile"`
}

func toDoctorResponses(profiles []identity.Profile) []DoctorResponse {
	out := make([]DoctorResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, DoctorResponse{ID: p.ID, Name: p.Name, Email: p.Email, Mobile: p.Mobile})
	}
	return out
}

type PostResponse struct {
	ID        uuid.UUID `json:"id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toPostResponses(posts []appointment.Post) []PostResponse {
	out := make([]PostResponse, 0, len(posts))
	for _, p := range posts {
		out = append(out, PostResponse{ID: p.ID, AuthorID: p.AuthorID, Content: p.Content, CreatedAt: p.CreatedAt})
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
