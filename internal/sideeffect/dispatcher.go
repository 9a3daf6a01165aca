package sideeffect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/appointment"
	"github.com/hackgods/mini-hms/internal/calendar"
	"github.com/hackgods/mini-hms/internal/identity"
	"github.com/hackgods/mini-hms/internal/notify"
)

const jobTimeout = 30 * time.Second

var _ appointment.Effects = (*Dispatcher)(nil)

// EventRefStore records the calendar event created for one party of a
// booking. It must refuse the write once the slot is no longer booked by
// patientID.
type EventRefStore interface {
	SetEventRef(ctx context.Context, slotID, patientID uuid.UUID, party identity.Role, ref string) error
}

type Config struct {
	Workers int
	// QueueSize is the total backlog, split evenly across workers.
	QueueSize int
}

type jobKind int

const (
	jobBooked jobKind = iota
	jobReleased
)

type job struct {
	kind jobKind
	slot appointment.AppointmentSlot
}

// Dispatcher runs post-commit side effects on its own workers. Every slot
// hashes to one worker queue, so a slot's jobs run in the order they were
// enqueued. Enqueueing never blocks: when the queue is full the job is
// dropped and logged.
type Dispatcher struct {
	cal      calendar.Client
	notifier notify.Notifier
	dir      identity.Directory
	refs     EventRefStore
	loc      *time.Location
	log      *zap.Logger

	queues []chan job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg Config, cal calendar.Client, notifier notify.Notifier, dir identity.Directory, refs EventRefStore, loc *time.Location, log *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cal == nil {
		cal = calendar.Noop{}
	}
	if loc == nil {
		loc = time.Local
	}

	d := &Dispatcher{
		cal:      cal,
		notifier: notifier,
		dir:      dir,
		refs:     refs,
		loc:      loc,
		log:      log,
		queues:   make([]chan job, cfg.Workers),
	}

	perWorker := (cfg.QueueSize + cfg.Workers - 1) / cfg.Workers
	d.wg.Add(cfg.Workers)
	for i := range d.queues {
		d.queues[i] = make(chan job, perWorker)
		go d.worker(d.queues[i])
	}
	return d
}

func (d *Dispatcher) SlotBooked(_ context.Context, slot appointment.AppointmentSlot) {
	d.enqueue(job{kind: jobBooked, slot: slot})
}

func (d *Dispatcher) SlotReleased(_ context.Context, slot appointment.AppointmentSlot) {
	d.enqueue(job{kind: jobReleased, slot: slot})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn("side effect dropped, dispatcher closed", zap.String("slot_id", j.slot.ID.String()))
		return
	}

	q := d.queueFor(j.slot.ID)
	select {
	case q <- j:
	default:
		d.log.Warn("side effect dropped, queue full",
			zap.String("slot_id", j.slot.ID.String()),
			zap.Int("queue_size", cap(q)),
		)
	}
}

func (d *Dispatcher) queueFor(slotID uuid.UUID) chan job {
	return d.queues[xxhash.Sum64(slotID[:])%uint64(len(d.queues))]
}

// Close stops accepting jobs and waits for queued ones until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(jobs <-chan job) {
	defer d.wg.Done()

	for j := range jobs {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		d.handle(ctx, j)
		cancel()
	}
}

func (d *Dispatcher) handle(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("side effect panicked", zap.String("slot_id", j.slot.ID.String()), zap.Any("panic", r))
		}
	}()

	switch j.kind {
	case jobBooked:
		d.booked(ctx, j.slot)
	case jobReleased:
		d.released(ctx, j.slot)
	}
}

type parties struct {
	doctor  *identity.Profile
	patient *identity.Profile
}

func (d *Dispatcher) lookup(ctx context.Context, slot appointment.AppointmentSlot) parties {
	var p parties

	doc, err := d.dir.GetProfile(ctx, slot.DoctorID)
	if err != nil {
		d.log.Warn("doctor profile lookup failed", zap.String("doctor_id", slot.DoctorID.String()), zap.Error(err))
	} else {
		p.doctor = doc
	}

	if slot.PatientID != nil {
		pat, err := d.dir.GetProfile(ctx, *slot.PatientID)
		if err != nil {
			d.log.Warn("patient profile lookup failed", zap.String("patient_id", slot.PatientID.String()), zap.Error(err))
		} else {
			p.patient = pat
		}
	}
	return p
}

func nameOf(p *identity.Profile) string {
	if p == nil {
		return ""
	}
	return p.Name
}

func emailOf(p *identity.Profile) string {
	if p == nil {
		return ""
	}
	return p.Email
}

func (d *Dispatcher) booked(ctx context.Context, slot appointment.AppointmentSlot) {
	if slot.PatientID == nil {
		return
	}
	p := d.lookup(ctx, slot)
	date, span := slot.DateString(), slot.TimeRange()

	d.createEvent(ctx, slot, identity.RoleDoctor, slot.DoctorID, calendar.Event{
		Summary:     "Appointment with " + nameOf(p.patient),
		Description: "Mini HMS appointment on " + date + ", " + span,
	})
	d.createEvent(ctx, slot, identity.RolePatient, *slot.PatientID, calendar.Event{
		Summary:     "Appointment with Dr. " + nameOf(p.doctor),
		Description: "Mini HMS appointment on " + date + ", " + span,
	})

	d.send(ctx, slot, notify.Message{
		Action:    notify.ActionBookingConfirmation,
		Recipient: emailOf(p.patient),
		Data: map[string]string{
			"patient_name": nameOf(p.patient),
			"doctor_name":  nameOf(p.doctor),
			"date":         date,
			"time":         span,
		},
	})
	d.send(ctx, slot, notify.Message{
		Action:    notify.ActionDoctorNewBooking,
		Recipient: emailOf(p.doctor),
		Data: map[string]string{
			"doctor_name":  nameOf(p.doctor),
			"patient_name": nameOf(p.patient),
			"date":         date,
			"time":         span,
		},
	})
}

func (d *Dispatcher) released(ctx context.Context, slot appointment.AppointmentSlot) {
	p := d.lookup(ctx, slot)
	date, span := slot.DateString(), slot.TimeRange()

	if slot.DoctorEventRef != nil {
		d.deleteEvent(ctx, slot, slot.DoctorID, *slot.DoctorEventRef)
	}
	if slot.PatientEventRef != nil && slot.PatientID != nil {
		d.deleteEvent(ctx, slot, *slot.PatientID, *slot.PatientEventRef)
	}

	if slot.PatientID != nil {
		d.send(ctx, slot, notify.Message{
			Action:    notify.ActionBookingCancellation,
			Recipient: emailOf(p.patient),
			Data: map[string]string{
				"name": nameOf(p.patient),
				"date": date,
				"time": span,
			},
		})
	}
	d.send(ctx, slot, notify.Message{
		Action:    notify.ActionDoctorSlotCancelled,
		Recipient: emailOf(p.doctor),
		Data: map[string]string{
			"doctor_name":  nameOf(p.doctor),
			"patient_name": nameOf(p.patient),
			"date":         date,
			"time":         span,
		},
	})
}

func (d *Dispatcher) createEvent(ctx context.Context, slot appointment.AppointmentSlot, party identity.Role, userID uuid.UUID, ev calendar.Event) {
	ev.Start = slot.StartsAt(d.loc)
	ev.End = slot.EndsAt(d.loc)

	ref, err := d.cal.CreateEvent(ctx, userID, ev)
	if err != nil {
		if errors.Is(err, calendar.ErrNotConnected) {
			d.log.Debug("calendar not connected", zap.String("user_id", userID.String()))
			return
		}
		d.log.Warn("calendar event create failed",
			zap.String("slot_id", slot.ID.String()),
			zap.String("party", string(party)),
			zap.Error(err),
		)
		return
	}

	err = d.refs.SetEventRef(ctx, slot.ID, *slot.PatientID, party, ref)
	if err == nil {
		return
	}
	if errors.Is(err, appointment.ErrNotBooked) {
		// released before we got here; the event would be orphaned
		d.deleteEvent(ctx, slot, userID, ref)
		return
	}
	d.log.Warn("failed to store calendar event ref",
		zap.String("slot_id", slot.ID.String()),
		zap.String("party", string(party)),
		zap.Error(err),
	)
}

func (d *Dispatcher) deleteEvent(ctx context.Context, slot appointment.AppointmentSlot, userID uuid.UUID, ref string) {
	err := d.cal.DeleteEvent(ctx, userID, ref)
	if err != nil && !errors.Is(err, calendar.ErrNotConnected) {
		d.log.Warn("calendar event delete failed",
			zap.String("slot_id", slot.ID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) send(ctx context.Context, slot appointment.AppointmentSlot, msg notify.Message) {
	if err := d.notifier.Dispatch(ctx, msg); err != nil {
		d.log.Warn("notification failed",
			zap.String("slot_id", slot.ID.String()),
			zap.String("action", string(msg.Action)),
			zap.Error(err),
		)
	}
}
