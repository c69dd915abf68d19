package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key patterns:
// presence:user:{user_id}   SET<connection_id>  - live connections, TTL'd
// presence:online           SET<user_id>        - users with at least one connection
const onlineUsersKey = "presence:online"

func userConnsKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// RedisTracker stores presence in Redis with a TTL equal to the staleness
// threshold, so stale sessions expire without an explicit sweep. It lets
// multiple gateway instances share one presence view.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds connection settings for the presence store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewRedisTracker connects to Redis and verifies the connection.
func NewRedisTracker(cfg RedisConfig, staleAfter time.Duration) (*RedisTracker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &RedisTracker{client: client, ttl: staleAfter}, nil
}

func (t *RedisTracker) Connect(ctx context.Context, userID, connectionID string) error {
	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, userConnsKey(userID), connectionID)
	pipe.Expire(ctx, userConnsKey(userID), t.ttl)
	pipe.SAdd(ctx, onlineUsersKey, userID)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Disconnect(ctx context.Context, userID, connectionID string) (bool, error) {
	if err := t.client.SRem(ctx, userConnsKey(userID), connectionID).Err(); err != nil {
		return false, err
	}

	remaining, err := t.client.SCard(ctx, userConnsKey(userID)).Result()
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}

	pipe := t.client.TxPipeline()
	pipe.Del(ctx, userConnsKey(userID))
	pipe.SRem(ctx, onlineUsersKey, userID)
	_, err = pipe.Exec(ctx)
	return true, err
}

func (t *RedisTracker) Touch(ctx context.Context, userID string) error {
	return t.client.Expire(ctx, userConnsKey(userID), t.ttl).Err()
}

func (t *RedisTracker) Active(ctx context.Context, userID string) (bool, error) {
	n, err := t.client.Exists(ctx, userConnsKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *RedisTracker) ActiveCount(ctx context.Context) (int, error) {
	n, err := t.client.SCard(ctx, onlineUsersKey).Result()
	return int(n), err
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
