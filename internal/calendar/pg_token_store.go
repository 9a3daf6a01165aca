package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/oauth2"
)

type PgTokenStore struct {
	pool *pgxpool.Pool
}

func NewPgTokenStore(pool *pgxpool.Pool) *PgTokenStore {
	return &PgTokenStore{pool: pool}
}

func (s *PgTokenStore) LoadToken(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT token FROM calendar_tokens WHERE user_id = $1`, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("load calendar token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode calendar token: %w", err)
	}
	return &tok, nil
}

func (s *PgTokenStore) SaveToken(ctx context.Context, userID uuid.UUID, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode calendar token: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO calendar_tokens (user_id, token, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET token = EXCLUDED.token, updated_at = now()
	`, userID, raw)
	if err != nil {
		return fmt.Errorf("save calendar token: %w", err)
	}
	return nil
}
