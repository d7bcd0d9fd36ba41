package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultReleaseChannel = "farmgate:lock:released"

var releaseScript = redis.NewScript(`
if ARGV[1] == "" or redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisOptions struct {
	// Notify publishes every release and lets waiters subscribe instead of
	// relying on polling alone.
	Notify  bool
	Channel string
}

type redisManager struct {
	client  *redis.Client
	notify  bool
	channel string
}

func NewRedisManager(client *redis.Client, opts RedisOptions) Manager {
	if opts.Channel == "" {
		opts.Channel = DefaultReleaseChannel
	}
	return &redisManager{client: client, notify: opts.Notify, channel: opts.Channel}
}

func (m *redisManager) Lock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := m.client.Set(ctx, key, token, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (m *redisManager) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (m *redisManager) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := m.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (m *redisManager) AwaitUnlock(ctx context.Context, key string, interval time.Duration) error {
	locked, err := m.IsLocked(ctx, key)
	if err != nil || !locked {
		return err
	}

	var released <-chan *redis.Message
	if m.notify {
		// Subscribe before the first check so a release in between is not missed.
		sub := m.client.Subscribe(ctx, m.channel)
		defer sub.Close()
		released = sub.Channel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		locked, err := m.IsLocked(ctx, key)
		if err != nil {
			return err
		}
		if !locked {
			return nil
		}

		if err := waitSignal(ctx, key, ticker.C, released); err != nil {
			return err
		}
	}
}

// waitSignal returns on the next poll tick or on a release of key.
func waitSignal(ctx context.Context, key string, tick <-chan time.Time, released <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			return nil
		case msg := <-released:
			if msg == nil || msg.Payload == key {
				return nil
			}
		}
	}
}

func (m *redisManager) Unlock(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, m.client, []string{key}, token).Int()
	if err != nil {
		return err
	}
	if n > 0 && m.notify {
		return m.client.Publish(ctx, m.channel, key).Err()
	}
	return nil
}
