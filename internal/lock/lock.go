package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"sahelpay-go/internal/config"
)

const keyPrefix = "sahelpay:lock:"

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisLocker gives out short-lived exclusive locks keyed by name, so that
// only one instance polls a given operation at a time.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

type Lease interface {
	Release(ctx context.Context) error
}

type redisLease struct {
	key    string
	token  string
	client *redis.Client
}

// Acquire returns a nil lease when name is already locked.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	key := keyPrefix + name
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %s", name)
	}
	if !ok {
		return nil, nil
	}
	return &redisLease{key: key, token: token, client: l.client}, nil
}

func (le *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, le.client, []string{le.key}, le.token).Int()
	if err != nil {
		return errors.Wrapf(err, "release lock %s", le.key)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
