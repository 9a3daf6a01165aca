package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/appointment"
	"github.com/hackgods/mini-hms/internal/identity"
)

// SlotService is the part of appointment.Service the HTTP layer uses.
type SlotService interface {
	CreateSlot(ctx context.Context, actor identity.Actor, in appointment.SlotInput) (*appointment.AppointmentSlot, error)
	CleanupStaleSlots(ctx context.Context) (int64, error)
	ListAvailableSlots(ctx context.Context, asOf time.Time) ([]appointment.AppointmentSlot, error)
	BookSlot(ctx context.Context, actor identity.Actor, slotID uuid.UUID) (*appointment.AppointmentSlot, error)
	DeleteSlot(ctx context.Context, actor identity.Actor, slotID uuid.UUID) error
	RequestCancellation(ctx context.Context, actor identity.Actor, slotID uuid.UUID) (appointment.CancelOutcome, error)
	DoctorSchedule(ctx context.Context, actor identity.Actor) ([]appointment.AppointmentSlot, error)
	PatientBookings(ctx context.Context, actor identity.Actor) ([]appointment.AppointmentSlot, error)
	ListDoctors(ctx context.Context) ([]identity.Profile, error)
	PublishPost(ctx context.Context, actor identity.Actor, content string) (*appointment.Post, error)
	ListPosts(ctx context.Context, limit int) ([]appointment.Post, error)
}

type handlers struct {
	svc      SlotService
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

func newHandlers(svc SlotService, log *zap.Logger, now func() time.Time) *handlers {
	if now == nil {
		now = time.Now
	}
	return &handlers{
		svc:      svc,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      now,
	}
}

func actorFrom(r *http.Request) identity.Actor {
	// AuthMiddleware guarantees presence on every route using this
	actor, _ := identity.ActorFromContext(r.Context())
	return actor
}

func slotIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any, invalidMsg string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", invalidMsg)
		return false
	}
	return true
}

func (h *handlers) createSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if !h.decode(w, r, &req, appointment.UserMessage(appointment.ErrInvalidFormat)) {
		return
	}

	slot, err := h.svc.CreateSlot(r.Context(), actorFrom(r), appointment.SlotInput{
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
}

func (h *handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.CleanupStaleSlots(r.Context()); err != nil {
		h.log.Warn("stale cleanup failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
	}

	slots, err := h.svc.ListAvailableSlots(r.Context(), h.now())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotResponses(slots))
}

func (h *handlers) mySlots(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	var (
		slots []appointment.AppointmentSlot
		err   error
	)
	if actor.IsDoctor() {
		slots, err = h.svc.DoctorSchedule(r.Context(), actor)
	} else {
		slots, err = h.svc.PatientBookings(r.Context(), actor)
	}
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotResponses(slots))
}

func (h *handlers) bookSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := slotIDParam(w, r)
	if !ok {
		return
	}

	slot, err := h.svc.BookSlot(r.Context(), actorFrom(r), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSlotResponse(*slot))
}

func (h *handlers) deleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := slotIDParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteSlot(r.Context(), actorFrom(r), id); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

var cancelMessages = map[appointment.CancelOutcome]string{
	appointment.CancelRequested:        "Cancellation requested. Waiting for the other party to confirm.",
	appointment.CancelAlreadyRequested: "You already requested cancellation. Waiting for the other party.",
	appointment.CancelReleased:         "Appointment cancelled. The slot is open again.",
}

func (h *handlers) cancelSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := slotIDParam(w, r)
	if !ok {
		return
	}

	outcome, err := h.svc.RequestCancellation(r.Context(), actorFrom(r), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{
		SlotID:  id,
		Outcome: string(outcome),
		Message: cancelMessages[outcome],
	})
}

func (h *handlers) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.svc.ListDoctors(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponses(doctors))
}

func (h *handlers) listPosts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	posts, err := h.svc.ListPosts(r.Context(), limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponses(posts))
}

func (h *handlers) createPost(w http.ResponseWriter, r *http.Request) {
	var req CreatePostRequest
	if !h.decode(w, r, &req, "Post content is required.") {
		return
	}

	post, err := h.svc.PublishPost(r.Context(), actorFrom(r), req.Content)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, PostResponse{
		ID:        post.ID,
		AuthorID:  post.AuthorID,
		Content:   post.Content,
		CreatedAt: post.CreatedAt,
	})
}

// handleError maps engine errors to a status code and the single user-facing
// message. Anything unrecognised is logged and answered generically.
func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	msg := appointment.UserMessage(err)

	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_input", msg)
	case errors.Is(err, appointment.ErrTooSoon):
		writeError(w, http.StatusUnprocessableEntity, "too_soon", msg)
	case errors.Is(err, appointment.ErrDuplicateSlot):
		writeError(w, http.StatusConflict, "duplicate_slot", msg)
	case errors.Is(err, appointment.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", msg)
	case errors.Is(err, appointment.ErrAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", msg)
	case errors.Is(err, appointment.ErrOverlap):
		writeError(w, http.StatusConflict, "overlapping_booking", msg)
	case errors.Is(err, appointment.ErrSlotBooked):
		writeError(w, http.StatusConflict, "slot_booked", msg)
	case errors.Is(err, appointment.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", msg)
	case errors.Is(err, appointment.ErrNotBooked):
		writeError(w, http.StatusConflict, "slot_not_booked", msg)
	default:
		h.log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
