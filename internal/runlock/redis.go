package runlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const keyPrefix = "firealert:runlock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis grants leases with SET NX PX.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis returns a Redis-backed Locker.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// DialRedis parses url, connects and pings.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "runlock: parse redis url")
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "runlock: redis ping")
	}
	return client, nil
}

func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+name, token, ttl).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "runlock: claim %s", name)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{client: r.client, key: keyPrefix + name, token: token}, nil
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	return eris.Wrapf(err, "runlock: release %s", l.key)
}
