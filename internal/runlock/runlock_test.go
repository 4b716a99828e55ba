package runlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/pashagolub/pgxmock/v4"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	lease, err := m.Acquire(ctx, "fetch", 0)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "fetch", 0)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := m.Acquire(ctx, "notify", 0)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	again, err := m.Acquire(ctx, "fetch", 0)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestPostgres_Acquire(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewPostgres(mock, clockwork.NewFakeClockAt(now))

	mock.ExpectExec(`INSERT INTO run_locks`).
		WithArgs("fetch", pgxmock.AnyArg(), now.Add(10*time.Minute), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM run_locks WHERE name = \$1 AND holder = \$2`).
		WithArgs("fetch", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	lease, err := p.Acquire(context.Background(), "fetch", 10*time.Minute)
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_HeldLeaseIsLocked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO run_locks`).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	_, err = NewPostgres(mock, nil).Acquire(context.Background(), "fetch", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO run_locks`).WillReturnError(errors.New("relation does not exist"))

	_, err = NewPostgres(mock, nil).Acquire(context.Background(), "fetch", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "claim fetch")
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedis(client)
}

func TestRedis_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	mr, r := newRedis(t)

	lease, err := r.Acquire(ctx, "fetch", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"fetch"))

	_, err = r.Acquire(ctx, "fetch", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"fetch"))

	again, err := r.Acquire(ctx, "fetch", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedis_LeaseExpires(t *testing.T) {
	ctx := context.Background()
	mr, r := newRedis(t)

	stale, err := r.Acquire(ctx, "fetch", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	fresh, err := r.Acquire(ctx, "fetch", time.Minute)
	require.NoError(t, err)

	// The expired holder must not delete the new holder's key.
	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists(keyPrefix+"fetch"))
	require.NoError(t, fresh.Release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"fetch"))
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := DialRedis(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = DialRedis(context.Background(), "::not a url")
	require.Error(t, err)
}
