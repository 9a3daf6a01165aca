package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/mini-hms/internal/identity"
)

// memRepository keeps committed state in maps. WithLockedSlot holds the
// store mutex for the whole callback and applies buffered writes on success,
// which gives the same all-or-nothing behaviour as the pg transaction.
type memRepository struct {
	mu     sync.Mutex
	slots  map[uuid.UUID]AppointmentSlot
	posts  []Post
	events []EventLog
}

func newMemRepository() *memRepository {
	return &memRepository{slots: make(map[uuid.UUID]AppointmentSlot)}
}

func (r *memRepository) InsertSlot(_ context.Context, slot *AppointmentSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.slots {
		if s.DoctorID == slot.DoctorID && sameDay(s.Date, slot.Date) && s.StartTime == slot.StartTime {
			return ErrDuplicateSlot
		}
	}
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = slot.CreatedAt
	r.slots[slot.ID] = *slot
	return nil
}

func (r *memRepository) list(keep func(AppointmentSlot) bool) []AppointmentSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []AppointmentSlot
	for _, s := range r.slots {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !sameDay(out[i].Date, out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (r *memRepository) ListOpenSlots(_ context.Context, fromDay time.Time) ([]AppointmentSlot, error) {
	from := dayOf(fromDay)
	return r.list(func(s AppointmentSlot) bool {
		return !s.IsBooked && !s.Date.Before(from)
	}), nil
}

func (r *memRepository) ListSlotsByDoctor(_ context.Context, doctorID uuid.UUID) ([]AppointmentSlot, error) {
	return r.list(func(s AppointmentSlot) bool { return s.DoctorID == doctorID }), nil
}

func (r *memRepository) ListSlotsByPatient(_ context.Context, patientID uuid.UUID) ([]AppointmentSlot, error) {
	return r.list(func(s AppointmentSlot) bool {
		return s.PatientID != nil && *s.PatientID == patientID
	}), nil
}

func (r *memRepository) DeleteStaleSlots(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.slots {
		if !s.IsBooked && s.StartsAt(now.Location()).Before(now) {
			delete(r.slots, id)
			n++
		}
	}
	return n, nil
}

func (r *memRepository) WithLockedSlot(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx SlotTx, slot *AppointmentSlot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return ErrSlotNotFound
	}

	tx := &memTx{repo: r, updates: map[uuid.UUID]AppointmentSlot{}}
	if err := fn(ctx, tx, &s); err != nil {
		return err
	}

	for id, u := range tx.updates {
		r.slots[id] = u
	}
	for _, id := range tx.deletes {
		delete(r.slots, id)
	}
	return nil
}

func (r *memRepository) SetEventRef(_ context.Context, slotID, patientID uuid.UUID, party identity.Role, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[slotID]
	if !ok || !s.IsBooked || s.PatientID == nil || *s.PatientID != patientID {
		return ErrNotBooked
	}
	v := ref
	if party == identity.RoleDoctor {
		s.DoctorEventRef = &v
	} else {
		s.PatientEventRef = &v
	}
	r.slots[slotID] = s
	return nil
}

func (r *memRepository) InsertPost(_ context.Context, post *Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	post.CreatedAt = time.Now().Add(time.Duration(len(r.posts)) * time.Millisecond)
	r.posts = append(r.posts, *post)
	return nil
}

func (r *memRepository) ListPosts(_ context.Context, limit int) ([]Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Post
	for i := len(r.posts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.posts[i])
	}
	return out, nil
}

func (r *memRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
	return nil
}

func (r *memRepository) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *memRepository) snapshot() map[uuid.UUID]AppointmentSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[uuid.UUID]AppointmentSlot, len(r.slots))
	for k, v := range r.slots {
		out[k] = v
	}
	return out
}

// put stores a slot as-is, bypassing validation, to set up fixtures.
func (r *memRepository) put(s AppointmentSlot) AppointmentSlot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	r.slots[s.ID] = s
	return s
}

type memTx struct {
	repo    *memRepository
	updates map[uuid.UUID]AppointmentSlot
	deletes []uuid.UUID
}

func (t *memTx) HasOverlappingBooking(_ context.Context, patientID uuid.UUID, slot *AppointmentSlot) (bool, error) {
	for _, s := range t.repo.slots {
		if s.ID == slot.ID || !s.IsBooked || s.PatientID == nil || *s.PatientID != patientID {
			continue
		}
		if s.Overlaps(slot) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpdateSlot(_ context.Context, slot *AppointmentSlot) error {
	slot.UpdatedAt = time.Now()
	t.updates[slot.ID] = *slot
	return nil
}

func (t *memTx) DeleteSlot(_ context.Context, id uuid.UUID) error {
	t.deletes = append(t.deletes, id)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Location() *time.Location { return c.now.Location() }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEffects struct {
	mu       sync.Mutex
	booked   []AppointmentSlot
	released []AppointmentSlot
}

func (e *recordingEffects) SlotBooked(_ context.Context, s AppointmentSlot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.booked = append(e.booked, s)
}

func (e *recordingEffects) SlotReleased(_ context.Context, s AppointmentSlot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released = append(e.released, s)
}

type staticDirectory struct {
	profiles map[uuid.UUID]identity.Profile
}

func (d staticDirectory) GetProfile(_ context.Context, id uuid.UUID) (*identity.Profile, error) {
	p, ok := d.profiles[id]
	if !ok {
		return nil, identity.ErrProfileNotFound
	}
	return &p, nil
}

func (d staticDirectory) ListDoctors(_ context.Context) ([]identity.Profile, error) {
	var out []identity.Profile
	for _, p := range d.profiles {
		if p.Role == identity.RoleDoctor {
			out = append(out, p)
		}
	}
	return out, nil
}
