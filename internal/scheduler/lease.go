package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storagebill/internal/config"
	"go.uber.org/fx"
)

const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const batchLeaseKey = "storagebill:batch:%s"

// BatchLease keeps two scheduler replicas from sweeping the same run date at
// once. The unique period key in the database remains the final guard.
type BatchLease struct {
	client *redis.Client
	script *redis.Script
}

func NewBatchLease(client *redis.Client) *BatchLease {
	if client == nil {
		return nil
	}
	return &BatchLease{
		client: client,
		script: redis.NewScript(leaseReleaseScript),
	}
}

// ProvideBatchLease connects to Redis when it is enabled. A nil lease means
// batches run unguarded.
func ProvideBatchLease(lc fx.Lifecycle, cfg config.Config) (*BatchLease, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required when redis is enabled")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewBatchLease(client), nil
}

func (l *BatchLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("lease key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lease ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *BatchLease) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
