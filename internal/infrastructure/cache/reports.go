package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/kpi"
)

var errStaleGeneration = errors.New("report list generation changed")

type redisReportCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisReportCache caches the report list under ReportsKey for ttl. Every
// invalidation bumps ReportsGenerationKey; a list read under an older generation
// is never written back.
func NewRedisReportCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) ReportCache {
	return &redisReportCache{client: client, ttl: ttl, logger: logger}
}

// GetReports returns the cached list and the current generation; false on a miss.
// Pass the generation to SetReports after loading the list from the store.
func (c *redisReportCache) GetReports(ctx context.Context) ([]kpi.StoredReport, int64, bool, error) {
	vals, err := c.client.MGet(ctx, ReportsKey, ReportsGenerationKey).Result()
	if err != nil {
		c.logger.Error("redis mget failed", zap.String("key", ReportsKey), zap.Error(err))
		return nil, 0, false, fmt.Errorf("redis get failed: %w", err)
	}

	gen, err := parseGeneration(vals[1])
	if err != nil {
		return nil, 0, false, err
	}

	data, ok := vals[0].(string)
	if !ok {
		return nil, gen, false, nil
	}

	var reports []kpi.StoredReport
	if err := json.Unmarshal([]byte(data), &reports); err != nil {
		c.logger.Warn("discarding unreadable cached reports", zap.Error(err))
		return nil, gen, false, nil
	}
	return reports, gen, true, nil
}

// SetReports caches reports if no invalidation happened since gen was read
func (c *redisReportCache) SetReports(ctx context.Context, gen int64, reports []kpi.StoredReport) error {
	data, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, ReportsGenerationKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		n, err := parseGeneration(current)
		if err != nil {
			return err
		}
		if n != gen {
			return errStaleGeneration
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, ReportsKey, data, c.ttl)
			return nil
		})
		return err
	}, ReportsGenerationKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("skipping stale report list", zap.Int64("generation", gen))
		return nil
	default:
		c.logger.Error("redis set failed",
			zap.String("key", ReportsKey),
			zap.Duration("ttl", c.ttl),
			zap.Error(err))
		return fmt.Errorf("redis set failed: %w", err)
	}
}

// Invalidate drops the cached list and bumps the generation; called after every save
func (c *redisReportCache) Invalidate(ctx context.Context) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, ReportsGenerationKey)
	pipe.Del(ctx, ReportsKey)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("redis invalidate failed", zap.String("key", ReportsKey), zap.Error(err))
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// parseGeneration reads a generation counter value; a missing key is generation 0
func parseGeneration(v any) (int64, error) {
	switch s := v.(type) {
	case nil:
		return 0, nil
	case string:
		if s == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid report generation %q: %w", s, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected report generation type %T", v)
	}
}
