package runlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/plant-for-the-planet/firealert/internal/db"
)

// Postgres grants leases as rows in run_locks. An expired row is taken over
// by the next acquirer.
type Postgres struct {
	pool  db.Pool
	clock clockwork.Clock
}

// NewPostgres returns a lease-row Locker. A nil clock uses wall time.
func NewPostgres(pool db.Pool, clock clockwork.Clock) *Postgres {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Postgres{pool: pool, clock: clock}
}

func (p *Postgres) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	holder := uuid.NewString()
	now := p.clock.Now()
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO run_locks (name, holder, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE run_locks.expires_at < $4`,
		name, holder, now.Add(ttl), now)
	if err != nil {
		return nil, eris.Wrapf(err, "runlock: claim %s", name)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrLocked
	}
	return &pgLease{pool: p.pool, name: name, holder: holder}, nil
}

type pgLease struct {
	pool   db.Pool
	name   string
	holder string
}

func (l *pgLease) Release(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM run_locks WHERE name = $1 AND holder = $2`, l.name, l.holder)
	return eris.Wrapf(err, "runlock: release %s", l.name)
}
