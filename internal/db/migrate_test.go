package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		raw, err := fs.ReadFile(migrations, f)
		require.NoError(t, err)
		body := string(raw)
		assert.Contains(t, body, "-- +goose Up", f)
		assert.Contains(t, body, "-- +goose Down", f)
	}

	raw, err := fs.ReadFile(migrations, "migrations/00001_init.sql")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "UNIQUE (doctor_id, slot_date, start_time)"))
}
