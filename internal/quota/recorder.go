// Package quota keeps the latest vendor call-limit snapshot per tenant so
// operators can see how close a shop is to its API budget.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jafarshop/catalogsync/internal/domain"
)

const (
	keyPrefix  = "catalogsync:quota:"
	defaultTTL = 15 * time.Minute
)

// Recorder stores and returns quota snapshots
type Recorder interface {
	Record(ctx context.Context, tenantID uuid.UUID, snap domain.QuotaSnapshot) error
	// Latest returns nil, nil when nothing was recorded (or it expired)
	Latest(ctx context.Context, tenantID uuid.UUID) (*domain.QuotaSnapshot, error)
}

// NewRedisClient parses redisURL and pings the server
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error pinging redis: %w", err)
	}
	return client, nil
}

type RedisRecorder struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisRecorder(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *RedisRecorder {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisRecorder{client: client, ttl: ttl, logger: logger}
}

func key(tenantID uuid.UUID) string {
	return keyPrefix + tenantID.String()
}

func (r *RedisRecorder) Record(ctx context.Context, tenantID uuid.UUID, snap domain.QuotaSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, key(tenantID), data, r.ttl).Err(); err != nil {
		r.logger.Warn("Failed to record quota snapshot", zap.Error(err), zap.String("tenant_id", tenantID.String()))
		return err
	}
	return nil
}

func (r *RedisRecorder) Latest(ctx context.Context, tenantID uuid.UUID) (*domain.QuotaSnapshot, error) {
	data, err := r.client.Get(ctx, key(tenantID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap domain.QuotaSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode quota snapshot: %w", err)
	}
	return &snap, nil
}

// MemoryRecorder is the single-process fallback when REDIS_URL is unset
type MemoryRecorder struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]domain.QuotaSnapshot
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{snaps: make(map[uuid.UUID]domain.QuotaSnapshot)}
}

func (m *MemoryRecorder) Record(_ context.Context, tenantID uuid.UUID, snap domain.QuotaSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[tenantID] = snap
	return nil
}

func (m *MemoryRecorder) Latest(_ context.Context, tenantID uuid.UUID) (*domain.QuotaSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[tenantID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}
