package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/hackgods/mini-hms/internal/identity"
)

const (
	pgUniqueViolation       = "23505"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	maxSerializationRetries = 5
)

const slotColumns = `id, doctor_id, patient_id, slot_date, start_time, end_time, is_booked,
		cancel_request_by, doctor_event_ref, patient_event_ref, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanSlot(row pgx.Row) (*AppointmentSlot, error) {
	var (
		s             AppointmentSlot
		start, end    pgtype.Time
		cancelRequest *string
	)

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.PatientID,
		&s.Date,
		&start,
		&end,
		&s.IsBooked,
		&cancelRequest,
		&s.DoctorEventRef,
		&s.PatientEventRef,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = dayOf(s.Date)
	s.StartTime = timeOfDayFromPg(start)
	s.EndTime = timeOfDayFromPg(end)
	if cancelRequest != nil {
		role := identity.Role(*cancelRequest)
		s.CancelRequestBy = &role
	}

	return &s, nil
}

func collectSlots(rows pgx.Rows) ([]AppointmentSlot, error) {
	defer rows.Close()

	var result []AppointmentSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isRetryableTxError(err error) bool {
	code := pgCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

func cancelRequestValue(r *identity.Role) *string {
	if r == nil {
		return nil
	}
	v := string(*r)
	return &v
}

// Interface methods

func (r *PgRepository) InsertSlot(ctx context.Context, slot *AppointmentSlot) error {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_slots (id, doctor_id, slot_date, start_time, end_time, is_booked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, now(), now())
		RETURNING created_at, updated_at
	`, slot.ID, slot.DoctorID, slot.Date, slot.StartTime.pg(), slot.EndTime.pg()).Scan(&slot.CreatedAt, &slot.UpdatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("insert slot: %w", err)
	}

	return nil
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, fromDay time.Time) ([]AppointmentSlot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE is_booked = false
		  AND slot_date >= $1
		ORDER BY slot_date, start_time
	`, dayOf(fromDay))
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AppointmentSlot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE doctor_id = $1
		ORDER BY slot_date, start_time
	`, doctorID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListSlotsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentSlot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE patient_id = $1
		ORDER BY slot_date, start_time
	`, patientID)
	if err != nil {
		return nil, err
	}
	return collectSlots(rows)
}

func (r *PgRepository) DeleteStaleSlots(ctx context.Context, now time.Time) (int64, error) {
	nowOfDay := pgtype.Time{
		Microseconds: (int64(now.Hour())*3600+int64(now.Minute())*60+int64(now.Second()))*1e6 + int64(now.Nanosecond()/1e3),
		Valid:        true,
	}

	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointment_slots
		WHERE is_booked = false
		  AND (slot_date < $1 OR (slot_date = $1 AND start_time < $2))
	`, dayOf(now), nowOfDay)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) WithLockedSlot(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx SlotTx, slot *AppointmentSlot) error) error {
	backoff := retry.NewExponential(20 * time.Millisecond)
	backoff = retry.WithJitterPercent(25, backoff)
	backoff = retry.WithMaxRetries(maxSerializationRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.lockedOnce(ctx, id, fn)
		if err != nil && isRetryableTxError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *PgRepository) lockedOnce(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, tx SlotTx, slot *AppointmentSlot) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	slot, err := scanSlot(tx.QueryRow(ctx, `SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return err
	}

	if err := fn(ctx, &pgSlotTx{tx: tx}, slot); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *PgRepository) SetEventRef(ctx context.Context, slotID, patientID uuid.UUID, party identity.Role, ref string) error {
	var query string
	switch party {
	case identity.RoleDoctor:
		query = `
			UPDATE appointment_slots
			SET doctor_event_ref = $3, updated_at = now()
			WHERE id = $1 AND patient_id = $2 AND is_booked = true`
	case identity.RolePatient:
		query = `
			UPDATE appointment_slots
			SET patient_event_ref = $3, updated_at = now()
			WHERE id = $1 AND patient_id = $2 AND is_booked = true`
	default:
		return fmt.Errorf("unknown party %q", party)
	}

	tag, err := r.pool.Exec(ctx, query, slotID, patientID, ref)
	if err != nil {
		return fmt.Errorf("set event ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotBooked
	}
	return nil
}

func (r *PgRepository) InsertPost(ctx context.Context, post *Post) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_posts (id, author_id, content, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING created_at
	`, post.ID, post.AuthorID, post.Content).Scan(&post.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (r *PgRepository) ListPosts(ctx context.Context, limit int) ([]Post, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, author_id, content, created_at
		FROM doctor_posts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Content, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, slot_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type pgSlotTx struct {
	tx pgx.Tx
}

func (t *pgSlotTx) HasOverlappingBooking(ctx context.Context, patientID uuid.UUID, slot *AppointmentSlot) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM appointment_slots
			WHERE patient_id = $1
			  AND is_booked = true
			  AND id <> $2
			  AND slot_date = $3
			  AND start_time < $5
			  AND end_time > $4
		)
	`, patientID, slot.ID, slot.Date, slot.StartTime.pg(), slot.EndTime.pg()).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (t *pgSlotTx) UpdateSlot(ctx context.Context, slot *AppointmentSlot) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE appointment_slots
		SET patient_id = $2,
		    is_booked = $3,
		    cancel_request_by = $4,
		    doctor_event_ref = $5,
		    patient_event_ref = $6,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, slot.ID, slot.PatientID, slot.IsBooked, cancelRequestValue(slot.CancelRequestBy),
		slot.DoctorEventRef, slot.PatientEventRef).Scan(&slot.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotNotFound
		}
		return err
	}
	return nil
}

func (t *pgSlotTx) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM appointment_slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}
