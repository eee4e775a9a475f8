package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/metrics"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func hashKey(entityID string, kind models.EntityKind) string {
	return fmt.Sprintf("snapshot_hash:%s:%s", kind, entityID)
}

// SetContentHash caches the latest baseline hash for an entity so the detector
// can short-circuit unchanged observations without loading the full snapshot.
func (c *Client) SetContentHash(ctx context.Context, entityID string, kind models.EntityKind, hash string, ttl time.Duration) error {
	err := c.client.Set(ctx, hashKey(entityID, kind), hash, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache content hash: %w", err)
	}
	return nil
}

// GetContentHash returns the cached baseline hash. The second return is false
// on a miss.
func (c *Client) GetContentHash(ctx context.Context, entityID string, kind models.EntityKind) (string, bool, error) {
	val, err := c.client.Get(ctx, hashKey(entityID, kind)).Result()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("snapshot_hash").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get content hash: %w", err)
	}

	metrics.CacheHits.WithLabelValues("snapshot_hash").Inc()
	logger.Debug("Content hash cache hit", zap.String("entity_id", entityID))
	return val, true, nil
}

// IncrAlertCount bumps the per-rule hourly alert counter and returns the new
// count. The counter key expires an hour after its first increment, which is
// what backs a rule's maxAlertsPerHour cap.
func (c *Client) IncrAlertCount(ctx context.Context, ruleID string) (int64, error) {
	key := fmt.Sprintf("alert_count:%s:%s", ruleID, time.Now().UTC().Format("2006010215"))

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment alert count: %w", err)
	}
	if count == 1 {
		c.client.Expire(ctx, key, time.Hour)
	}
	return count, nil
}

// AlertCount returns the current hour's alert count for a rule.
func (c *Client) AlertCount(ctx context.Context, ruleID string) (int64, error) {
	key := fmt.Sprintf("alert_count:%s:%s", ruleID, time.Now().UTC().Format("2006010215"))

	val, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get alert count: %w", err)
	}
	return val, nil
}
