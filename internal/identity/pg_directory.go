package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Email,
		&p.Mobile,
		&p.Role,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (d *PgDirectory) GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, name, email, mobile, role, created_at
		FROM profiles
		WHERE id = $1
	`, id)
	return scanProfile(row)
}

func (d *PgDirectory) ListDoctors(ctx context.Context) ([]Profile, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, email, mobile, role, created_at
		FROM profiles
		WHERE role = 'doctor'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var result []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// InsertProfile is used by the seed command; registration itself lives elsewhere.
func (d *PgDirectory) InsertProfile(ctx context.Context, p *Profile) error {
	if err := ValidateMobile(p.Mobile); err != nil {
		return err
	}
	if !p.Role.Valid() {
		return fmt.Errorf("unknown role %q", p.Role)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	err := d.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, name, email, mobile, role, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at
	`, p.ID, p.Name, p.Email, p.Mobile, p.Role).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}
