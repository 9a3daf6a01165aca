package sideeffect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/appointment"
	"github.com/hackgods/mini-hms/internal/calendar"
	"github.com/hackgods/mini-hms/internal/identity"
	"github.com/hackgods/mini-hms/internal/notify"
)

type fakeCalendar struct {
	mu      sync.Mutex
	failFor map[uuid.UUID]error
	created map[uuid.UUID][]calendar.Event
	deleted map[uuid.UUID][]string
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		failFor: map[uuid.UUID]error{},
		created: map[uuid.UUID][]calendar.Event{},
		deleted: map[uuid.UUID][]string{},
	}
}

func (c *fakeCalendar) CreateEvent(_ context.Context, userID uuid.UUID, ev calendar.Event) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failFor[userID]; err != nil {
		return "", err
	}
	c.created[userID] = append(c.created[userID], ev)
	return "evt-" + userID.String()[:8], nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, userID uuid.UUID, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failFor[userID]; err != nil {
		return err
	}
	c.deleted[userID] = append(c.deleted[userID], ref)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *recordingNotifier) Dispatch(_ context.Context, msg notify.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) byAction() map[notify.Action][]notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := map[notify.Action][]notify.Message{}
	for _, m := range n.sent {
		out[m.Action] = append(out[m.Action], m)
	}
	return out
}

type refCall struct {
	party identity.Role
	ref   string
}

type fakeRefs struct {
	mu    sync.Mutex
	err   error
	calls []refCall
}

func (r *fakeRefs) SetEventRef(_ context.Context, _, _ uuid.UUID, party identity.Role, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, refCall{party: party, ref: ref})
	return nil
}

type directory map[uuid.UUID]identity.Profile

func (d directory) GetProfile(_ context.Context, id uuid.UUID) (*identity.Profile, error) {
	p, ok := d[id]
	if !ok {
		return nil, identity.ErrProfileNotFound
	}
	return &p, nil
}

func (d directory) ListDoctors(context.Context) ([]identity.Profile, error) { return nil, nil }

type fixture struct {
	d       *Dispatcher
	cal     *fakeCalendar
	notes   *recordingNotifier
	refs    *fakeRefs
	doctor  identity.Profile
	patient identity.Profile
	slot    appointment.AppointmentSlot
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		cal:     newFakeCalendar(),
		notes:   &recordingNotifier{},
		refs:    &fakeRefs{},
		doctor:  identity.Profile{ID: uuid.New(), Name: "Asha Rao", Email: "asha@example.com", Role: identity.RoleDoctor},
		patient: identity.Profile{ID: uuid.New(), Name: "Ravi", Email: "ravi@example.com", Role: identity.RolePatient},
	}
	dir := directory{f.doctor.ID: f.doctor, f.patient.ID: f.patient}
	f.d = NewDispatcher(cfg, f.cal, f.notes, dir, f.refs, time.UTC, zap.NewNop())
	t.Cleanup(func() { _ = f.d.Close(context.Background()) })

	date, _ := appointment.ParseDate("2026-03-11")
	pid := f.patient.ID
	f.slot = appointment.AppointmentSlot{
		ID:        uuid.New(),
		DoctorID:  f.doctor.ID,
		PatientID: &pid,
		Date:      date,
		StartTime: appointment.NewTimeOfDay(10, 0),
		EndTime:   appointment.NewTimeOfDay(10, 30),
		IsBooked:  true,
	}
	return f
}

func TestBookedEffects(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.d.handle(context.Background(), job{kind: jobBooked, slot: f.slot})

	require.Len(t, f.cal.created[f.doctor.ID], 1)
	require.Len(t, f.cal.created[f.patient.ID], 1)
	ev := f.cal.created[f.patient.ID][0]
	assert.Equal(t, "Appointment with Dr. Asha Rao", ev.Summary)
	assert.Equal(t, time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC), ev.Start)
	assert.Equal(t, time.Date(2026, 3, 11, 10, 30, 0, 0, time.UTC), ev.End)

	assert.ElementsMatch(t, []refCall{
		{party: identity.RoleDoctor, ref: "evt-" + f.doctor.ID.String()[:8]},
		{party: identity.RolePatient, ref: "evt-" + f.patient.ID.String()[:8]},
	}, f.refs.calls)

	sent := f.notes.byAction()
	require.Len(t, sent[notify.ActionBookingConfirmation], 1)
	require.Len(t, sent[notify.ActionDoctorNewBooking], 1)
	assert.Len(t, f.notes.sent, 2)

	conf := sent[notify.ActionBookingConfirmation][0]
	assert.Equal(t, "ravi@example.com", conf.Recipient)
	assert.Equal(t, map[string]string{
		"patient_name": "Ravi",
		"doctor_name":  "Asha Rao",
		"date":         "2026-03-11",
		"time":         "10:00 - 10:30",
	}, conf.Data)

	doc := sent[notify.ActionDoctorNewBooking][0]
	assert.Equal(t, "asha@example.com", doc.Recipient)
	assert.Equal(t, "Ravi", doc.Data["patient_name"])
	assert.Equal(t, "10:00 - 10:30", doc.Data["time"])
}

func TestBookedPartiesAreIndependent(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.cal.failFor[f.doctor.ID] = errors.New("token revoked")

	f.d.handle(context.Background(), job{kind: jobBooked, slot: f.slot})

	assert.Empty(t, f.cal.created[f.doctor.ID])
	assert.Len(t, f.cal.created[f.patient.ID], 1)
	assert.Equal(t, []refCall{{party: identity.RolePatient, ref: "evt-" + f.patient.ID.String()[:8]}}, f.refs.calls)
	assert.Len(t, f.notes.sent, 2, "email goes out regardless of calendar")
}

func TestBookedAfterReleaseRemovesOrphanEvents(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.refs.err = appointment.ErrNotBooked

	f.d.handle(context.Background(), job{kind: jobBooked, slot: f.slot})

	assert.Len(t, f.cal.deleted[f.doctor.ID], 1)
	assert.Len(t, f.cal.deleted[f.patient.ID], 1)
}

func TestReleasedEffects(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	dref, pref := "evt-doc", "evt-pat"
	f.slot.DoctorEventRef = &dref
	f.slot.PatientEventRef = &pref

	f.d.handle(context.Background(), job{kind: jobReleased, slot: f.slot})

	assert.Equal(t, []string{"evt-doc"}, f.cal.deleted[f.doctor.ID])
	assert.Equal(t, []string{"evt-pat"}, f.cal.deleted[f.patient.ID])

	sent := f.notes.byAction()
	require.Len(t, sent[notify.ActionBookingCancellation], 1)
	require.Len(t, sent[notify.ActionDoctorSlotCancelled], 1)
	assert.Len(t, f.notes.sent, 2)

	assert.Equal(t, map[string]string{
		"name": "Ravi",
		"date": "2026-03-11",
		"time": "10:00 - 10:30",
	}, sent[notify.ActionBookingCancellation][0].Data)
	assert.Equal(t, "asha@example.com", sent[notify.ActionDoctorSlotCancelled][0].Recipient)
	assert.Equal(t, "Ravi", sent[notify.ActionDoctorSlotCancelled][0].Data["patient_name"])
}

func TestReleasedWithoutRefsSkipsCalendar(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.d.handle(context.Background(), job{kind: jobReleased, slot: f.slot})

	assert.Empty(t, f.cal.deleted)
	assert.Len(t, f.notes.sent, 2)
}

func TestDispatcherQueueAndClose(t *testing.T) {
	f := newFixture(t, Config{Workers: 2, QueueSize: 8})

	f.d.SlotBooked(context.Background(), f.slot)
	f.d.SlotReleased(context.Background(), f.slot)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.d.Close(ctx))

	sent := f.notes.byAction()
	assert.Len(t, sent[notify.ActionBookingConfirmation], 1)
	assert.Len(t, sent[notify.ActionBookingCancellation], 1)

	// after close jobs are dropped, not panicking on a closed channel
	f.d.SlotBooked(context.Background(), f.slot)
	assert.NoError(t, f.d.Close(ctx))
}

type blockingNotifier struct {
	release chan struct{}
}

func (n *blockingNotifier) Dispatch(ctx context.Context, _ notify.Message) error {
	select {
	case <-n.release:
	case <-ctx.Done():
	}
	return nil
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	blocker := &blockingNotifier{release: make(chan struct{})}
	f := newFixture(t, Config{Workers: 1, QueueSize: 1})
	f.d.notifier = blocker

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.d.SlotReleased(context.Background(), f.slot)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	close(blocker.release)
}

// gatedCalendar holds the first CreateEvent until gate is closed.
type gatedCalendar struct {
	*fakeCalendar
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (c *gatedCalendar) CreateEvent(ctx context.Context, userID uuid.UUID, ev calendar.Event) (string, error) {
	first := false
	c.once.Do(func() { first = true })
	if first {
		close(c.entered)
		<-c.gate
	}
	return c.fakeCalendar.CreateEvent(ctx, userID, ev)
}

func TestDispatcherKeepsSlotOrderAcrossWorkers(t *testing.T) {
	f := newFixture(t, Config{Workers: 4, QueueSize: 16})
	gated := &gatedCalendar{
		fakeCalendar: f.cal,
		entered:      make(chan struct{}),
		gate:         make(chan struct{}),
	}
	f.d.cal = gated

	f.d.SlotBooked(context.Background(), f.slot)
	select {
	case <-gated.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("booking job never started")
	}

	f.d.SlotReleased(context.Background(), f.slot)
	// give an idle worker the chance to pick up the release early
	time.Sleep(50 * time.Millisecond)
	close(gated.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.d.Close(ctx))

	f.notes.mu.Lock()
	defer f.notes.mu.Unlock()

	actions := make([]notify.Action, 0, len(f.notes.sent))
	for _, m := range f.notes.sent {
		actions = append(actions, m.Action)
	}
	require.Len(t, actions, 4)
	assert.ElementsMatch(t, []notify.Action{notify.ActionBookingConfirmation, notify.ActionDoctorNewBooking}, actions[:2])
	assert.ElementsMatch(t, []notify.Action{notify.ActionBookingCancellation, notify.ActionDoctorSlotCancelled}, actions[2:])
}

func TestDispatcherQueueForIsStable(t *testing.T) {
	f := newFixture(t, Config{Workers: 4, QueueSize: 16})

	used := map[chan job]bool{}
	for i := 0; i < 64; i++ {
		id := uuid.New()
		q := f.d.queueFor(id)
		assert.Equal(t, q, f.d.queueFor(id))
		used[q] = true
	}
	assert.Greater(t, len(used), 1, "slots spread over workers")
}
