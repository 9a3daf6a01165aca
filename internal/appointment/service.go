package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/identity"
	redisclient "github.com/hackgods/mini-hms/internal/redis"
)

const (
	EventSlotCreated      = "SLOT_CREATED"
	EventSlotBooked       = "SLOT_BOOKED"
	EventCancelRequested  = "CANCEL_REQUESTED"
	EventSlotReleased     = "SLOT_RELEASED"
	EventSlotDeleted      = "SLOT_DELETED"
	EventStaleSlotsPurged = "STALE_SLOTS_PURGED"
)

const (
	defaultPostLimit = 50
	maxPostLimit     = 200
)

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	effects Effects
	dir     identity.Directory
	clock   Clock
	log     *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, effects Effects, dir identity.Directory, clock Clock, log *zap.Logger) *Service {
	if effects == nil {
		effects = NopEffects{}
	}
	return &Service{
		repo:    repo,
		locker:  locker,
		effects: effects,
		dir:     dir,
		clock:   clock,
		log:     log,
	}
}

// SlotInput is the raw doctor input for a new slot.
type SlotInput struct {
	Date      string // YYYY-MM-DD
	StartTime string // HH:MM
	EndTime   string // HH:MM
}

// CreateSlot publishes an open slot for the acting doctor.
func (s *Service) CreateSlot(ctx context.Context, actor identity.Actor, in SlotInput) (*AppointmentSlot, error) {
	if !actor.IsDoctor() {
		return nil, ErrUnauthorized
	}

	date, err := ParseDate(in.Date)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	start, err := ParseTimeOfDay(in.StartTime)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	end, err := ParseTimeOfDay(in.EndTime)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	if !start.Before(end) {
		return nil, validationError("start time must be before end time")
	}

	if tooSoon(s.clock.Now(), start.On(date, s.clock.Location())) {
		return nil, ErrTooSoon
	}

	slot := &AppointmentSlot{
		ID:        uuid.New(),
		DoctorID:  actor.ID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
	}
	if err := s.repo.InsertSlot(ctx, slot); err != nil {
		if errors.Is(err, ErrDuplicateSlot) {
			return nil, err
		}
		return nil, fmt.Errorf("insert slot: %w", err)
	}

	s.logEvent(ctx, slot.ID, EventSlotCreated, map[string]any{
		"doctor_id": actor.ID.String(),
		"date":      slot.DateString(),
		"time":      slot.TimeRange(),
	})

	return slot, nil
}

// CleanupStaleSlots deletes every unbooked slot whose start has passed.
// Booked slots are never touched. Safe to run concurrently and repeatedly.
func (s *Service) CleanupStaleSlots(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteStaleSlots(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("delete stale slots: %w", err)
	}
	if n > 0 {
		s.log.Info("stale slots purged", zap.Int64("count", n))
		s.logEvent(ctx, uuid.Nil, EventStaleSlotsPurged, map[string]any{"count": n})
	}
	return n, nil
}

// ListAvailableSlots returns open slots from asOf's day onwards, hiding those
// inside the lead-time window. Nothing is deleted here.
func (s *Service) ListAvailableSlots(ctx context.Context, asOf time.Time) ([]AppointmentSlot, error) {
	loc := s.clock.Location()
	asOf = asOf.In(loc)

	raw, err := s.repo.ListOpenSlots(ctx, dayOf(asOf))
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}

	available := make([]AppointmentSlot, 0, len(raw))
	for _, slot := range raw {
		if tooSoon(asOf, slot.StartsAt(loc)) {
			continue
		}
		available = append(available, slot)
	}
	return available, nil
}

// BookSlot reserves the slot for the acting patient. Of any number of
// concurrent calls for one open slot exactly one succeeds; the rest see
// ErrAlreadyBooked.
func (s *Service) BookSlot(ctx context.Context, actor identity.Actor, slotID uuid.UUID) (*AppointmentSlot, error) {
	if !actor.IsPatient() {
		return nil, ErrUnauthorized
	}

	var booked AppointmentSlot
	err := s.withSlot(ctx, slotID, func(ctx context.Context, tx SlotTx, slot *AppointmentSlot) error {
		if slot.IsBooked {
			return ErrAlreadyBooked
		}
		if tooSoon(s.clock.Now(), slot.StartsAt(s.clock.Location())) {
			return ErrTooSoon
		}

		overlap, err := tx.HasOverlappingBooking(ctx, actor.ID, slot)
		if err != nil {
			return fmt.Errorf("check overlapping booking: %w", err)
		}
		if overlap {
			return ErrOverlap
		}

		patientID := actor.ID
		slot.IsBooked = true
		slot.PatientID = &patientID
		slot.CancelRequestBy = nil
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return fmt.Errorf("book slot: %w", err)
		}

		booked = *slot
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("slot booked",
		zap.String("slot_id", slotID.String()),
		zap.String("patient_id", actor.ID.String()),
		zap.String("doctor_id", booked.DoctorID.String()),
	)
	s.logEvent(ctx, slotID, EventSlotBooked, map[string]any{
		"patient_id": actor.ID.String(),
	})
	s.effects.SlotBooked(context.WithoutCancel(ctx), booked)

	return &booked, nil
}

// DeleteSlot removes an open slot. Only its doctor may do so.
func (s *Service) DeleteSlot(ctx context.Context, actor identity.Actor, slotID uuid.UUID) error {
	err := s.withSlot(ctx, slotID, func(ctx context.Context, tx SlotTx, slot *AppointmentSlot) error {
		if !actor.IsDoctor() || slot.DoctorID != actor.ID {
			return ErrUnauthorized
		}
		if slot.IsBooked {
			return ErrSlotBooked
		}
		if err := tx.DeleteSlot(ctx, slot.ID); err != nil {
			return fmt.Errorf("delete slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logEvent(ctx, slotID, EventSlotDeleted, map[string]any{"doctor_id": actor.ID.String()})
	return nil
}

// RequestCancellation advances the mutual cancellation handshake. The first
// party's request is recorded; the other party's request releases the slot.
func (s *Service) RequestCancellation(ctx context.Context, actor identity.Actor, slotID uuid.UUID) (CancelOutcome, error) {
	var (
		outcome  CancelOutcome
		released AppointmentSlot
	)

	err := s.withSlot(ctx, slotID, func(ctx context.Context, tx SlotTx, slot *AppointmentSlot) error {
		party, ok := partyOf(actor, slot)
		if !ok {
			return ErrUnauthorized
		}
		if !slot.IsBooked {
			return ErrNotBooked
		}

		switch {
		case slot.CancelRequestBy == nil:
			slot.CancelRequestBy = &party
			outcome = CancelRequested
		case *slot.CancelRequestBy == party:
			outcome = CancelAlreadyRequested
			return nil
		default:
			released = *slot
			slot.clearBooking()
			outcome = CancelReleased
		}

		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return fmt.Errorf("update slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case CancelRequested:
		s.logEvent(ctx, slotID, EventCancelRequested, map[string]any{"by": string(actor.Role)})
	case CancelReleased:
		s.log.Info("slot released",
			zap.String("slot_id", slotID.String()),
			zap.String("confirmed_by", string(actor.Role)),
		)
		s.logEvent(ctx, slotID, EventSlotReleased, map[string]any{"confirmed_by": string(actor.Role)})
		s.effects.SlotReleased(context.WithoutCancel(ctx), released)
	}

	return outcome, nil
}

// DoctorSchedule lists the acting doctor's slots after purging stale ones.
func (s *Service) DoctorSchedule(ctx context.Context, actor identity.Actor) ([]AppointmentSlot, error) {
	if !actor.IsDoctor() {
		return nil, ErrUnauthorized
	}
	if _, err := s.CleanupStaleSlots(ctx); err != nil {
		s.log.Warn("stale cleanup failed", zap.Error(err))
	}

	slots, err := s.repo.ListSlotsByDoctor(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list slots by doctor: %w", err)
	}
	return slots, nil
}

// PatientBookings lists the slots the acting patient holds.
func (s *Service) PatientBookings(ctx context.Context, actor identity.Actor) ([]AppointmentSlot, error) {
	if !actor.IsPatient() {
		return nil, ErrUnauthorized
	}

	slots, err := s.repo.ListSlotsByPatient(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list slots by patient: %w", err)
	}
	return slots, nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]identity.Profile, error) {
	doctors, err := s.dir.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// PublishPost appends a bulletin entry. Doctors only.
func (s *Service) PublishPost(ctx context.Context, actor identity.Actor, content string) (*Post, error) {
	if !actor.IsDoctor() {
		return nil, ErrUnauthorized
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationError("post content is empty")
	}

	post := &Post{
		ID:       uuid.New(),
		AuthorID: actor.ID,
		Content:  content,
	}
	if err := s.repo.InsertPost(ctx, post); err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

// ListPosts returns the newest posts first.
func (s *Service) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = defaultPostLimit
	}
	if limit > maxPostLimit {
		limit = maxPostLimit
	}

	posts, err := s.repo.ListPosts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// withSlot runs fn under the per-slot lock and the row lock. The shared lock
// only thins out contention; if it cannot be taken the row lock alone still
// serialises writers, so we fall through to it.
func (s *Service) withSlot(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context, tx SlotTx, slot *AppointmentSlot) error) error {
	locked := func(ctx context.Context) error {
		return s.repo.WithLockedSlot(ctx, slotID, fn)
	}

	entered := false
	err := s.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		entered = true
		return locked(lockCtx)
	})
	if err != nil && !entered {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("slot lock unavailable, relying on row lock",
			zap.String("slot_id", slotID.String()),
			zap.Error(err),
		)
		return locked(ctx)
	}
	return err
}

func partyOf(actor identity.Actor, slot *AppointmentSlot) (identity.Role, bool) {
	switch {
	case actor.IsDoctor() && slot.DoctorID == actor.ID:
		return identity.RoleDoctor, true
	case actor.IsPatient() && slot.PatientID != nil && *slot.PatientID == actor.ID:
		return identity.RolePatient, true
	default:
		return "", false
	}
}

func (s *Service) logEvent(ctx context.Context, slotID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: s.clock.Now(),
	}
	if slotID != uuid.Nil {
		id := slotID
		ev.SlotID = &id
	}

	if err := s.repo.InsertEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("slot_id", slotID.String()),
			zap.Error(err),
		)
	}
}
