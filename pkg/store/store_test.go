package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		DBPath: filepath.Join(t.TempDir(), "concierge.db"),
		Seed:   true,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_LookupByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.LookupByID(ctx, "12345678900")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", c.Name)
	assert.Equal(t, 5000.0, c.CreditLimit)

	_, err = s.LookupByID(ctx, "00000000000")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_Authenticate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.Authenticate(ctx, "12345678900", "1990-05-15")
	require.NoError(t, err)
	assert.Equal(t, "12345678900", c.ID)

	_, err = s.Authenticate(ctx, "12345678900", "1991-01-01")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Authenticate(ctx, "00000000000", "1990-05-15")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_UpdateScore_Clamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateScore(ctx, "12345678900", 1500))
	c, err := s.LookupByID(ctx, "12345678900")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, c.Score)

	require.NoError(t, s.UpdateScore(ctx, "12345678900", -50))
	c, err = s.LookupByID(ctx, "12345678900")
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Score)

	err = s.UpdateScore(ctx, "00000000000", 500)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_UpdateLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateLimit(ctx, "98765432100", 15000))
	c, err := s.LookupByID(ctx, "98765432100")
	require.NoError(t, err)
	assert.Equal(t, 15000.0, c.CreditLimit)

	err = s.UpdateLimit(ctx, "00000000000", 100)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_MaxLimitForScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		score float64
		want  float64
	}{
		{0, 1000},
		{299, 1000},
		{300, 5000},
		{650, 10000},
		{720, 20000},
		{850, 50000},
		{1000, 50000},
	}
	for _, tt := range tests {
		got, err := s.MaxLimitForScore(ctx, tt.score)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "score %v", tt.score)
	}

	// Outside every band.
	got, err := s.MaxLimitForScore(ctx, 2000)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestStore_RaiseRequests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RecordRaiseRequest(ctx, "12345678900", 8000)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = s.RecordRaiseRequest(ctx, "00000000000", 8000)
	assert.True(t, errors.Is(err, ErrNotFound))

	requests, err := s.RaiseRequests(ctx, "12345678900")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, 8000.0, requests[0].RequestedAmount)
	assert.Equal(t, "pending", requests[0].Status)
	assert.False(t, requests[0].CreatedAt.IsZero())
}

func TestStore_SeedIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.db")

	s, err := New(Config{DBPath: path, Seed: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.UpdateLimit(context.Background(), "12345678900", 9999))
	require.NoError(t, s.Close())

	reopened, err := New(Config{DBPath: path, Seed: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer reopened.Close()

	c, err := reopened.LookupByID(context.Background(), "12345678900")
	require.NoError(t, err)
	assert.Equal(t, 9999.0, c.CreditLimit)
}
