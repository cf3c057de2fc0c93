package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nshruti113/packet-sentinel/internal/clock"
	"github.com/nshruti113/packet-sentinel/internal/logging"
	"github.com/nshruti113/packet-sentinel/internal/models"
)

const (
	counterTTL   = time.Hour
	recentAlerts = 100
)

// RedisClient publishes pipeline events on Redis pub/sub channels and keeps
// per-minute traffic counters for dashboards.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
	prefix string
	clock  clock.Clock
	logger *zap.Logger
}

func NewRedisClient(addr string, password string, db int, prefix string, clk clock.Clock, logger *zap.Logger) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if prefix == "" {
		prefix = "sentinel"
	}

	return &RedisClient{
		client: client,
		ctx:    ctx,
		prefix: prefix,
		clock:  clock.OrReal(clk),
		logger: logging.OrNop(logger).Named("redis"),
	}, nil
}

// Channel returns the pub/sub channel name for an event kind
func (r *RedisClient) Channel(kind string) string {
	return r.prefix + ":" + kind
}

func (r *RedisClient) key(parts ...string) string {
	return r.prefix + ":" + strings.Join(parts, ":")
}

func (r *RedisClient) minuteKey(t time.Time) string {
	return r.key("metrics", strconv.FormatInt(t.Truncate(time.Minute).Unix(), 10))
}

// PublishPacket updates the counters and publishes the record
func (r *RedisClient) PublishPacket(rec models.PacketRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	r.updateCounters(rec)

	return r.client.Publish(r.ctx, r.Channel("packets"), string(data)).Err()
}

// updateCounters updates real-time metrics
func (r *RedisClient) updateCounters(rec models.PacketRecord) {
	key := r.minuteKey(r.clock.Now())

	pipe := r.client.Pipeline()

	// Increment total packets
	pipe.HIncrBy(r.ctx, key, "total_packets", 1)

	// Increment bytes
	pipe.HIncrBy(r.ctx, key, "total_bytes", int64(rec.Length))

	// Increment protocol counter
	pipe.HIncrBy(r.ctx, key, "protocol:"+string(rec.Protocol), 1)

	if rec.Src != "" {
		// Add unique source
		pipe.PFAdd(r.ctx, key+":unique_sources", rec.Src)

		// Increment source counter
		pipe.ZIncrBy(r.ctx, key+":source_counts", 1, rec.Src)
	}

	// Set expiration (keep for 1 hour)
	pipe.Expire(r.ctx, key, counterTTL)
	pipe.Expire(r.ctx, key+":unique_sources", counterTTL)
	pipe.Expire(r.ctx, key+":source_counts", counterTTL)

	if _, err := pipe.Exec(r.ctx); err != nil {
		r.logger.Warn("error updating counters", zap.Error(err))
	}
}

// PublishAlert stores the alert in the recent list, counts it and
// publishes it
func (r *RedisClient) PublishAlert(a models.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	key := r.minuteKey(r.clock.Now())
	recent := r.key("alerts", "recent")

	pipe := r.client.TxPipeline()
	pipe.HIncrBy(r.ctx, key, "alert:"+string(a.Type), 1)
	pipe.Expire(r.ctx, key, counterTTL)
	pipe.LPush(r.ctx, recent, string(data))
	pipe.LTrim(r.ctx, recent, 0, recentAlerts-1)
	pipe.Publish(r.ctx, r.Channel("alerts"), string(data))

	if _, err := pipe.Exec(r.ctx); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// PublishGeoUpdate publishes a late geo result
func (r *RedisClient) PublishGeoUpdate(u models.GeoUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}

	return r.client.Publish(r.ctx, r.Channel("geo"), string(data)).Err()
}

// GetStats retrieves aggregated counters for the minute containing windowStart
func (r *RedisClient) GetStats(windowStart time.Time) (*models.TrafficStats, error) {
	minute := windowStart.Truncate(time.Minute)
	key := r.minuteKey(minute)

	data, err := r.client.HGetAll(r.ctx, key).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("no metrics found for timestamp %d", minute.Unix())
	}

	stats := &models.TrafficStats{
		Timestamp:      minute,
		WindowDuration: 60,
		Protocols:      make(map[string]int64),
		Alerts:         make(map[string]int64),
	}

	for field, raw := range data {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		switch {
		case field == "total_packets":
			stats.TotalPackets = n
		case field == "total_bytes":
			stats.TotalBytes = n
		case strings.HasPrefix(field, "protocol:"):
			stats.Protocols[strings.TrimPrefix(field, "protocol:")] = n
		case strings.HasPrefix(field, "alert:"):
			stats.Alerts[strings.TrimPrefix(field, "alert:")] = n
		}
	}
	stats.PacketsPerSec = float64(stats.TotalPackets) / 60.0

	// Get unique source count
	uniqueSources, err := r.client.PFCount(r.ctx, key+":unique_sources").Result()
	if err != nil {
		uniqueSources = 0
	}
	stats.UniqueSources = uniqueSources

	// Get top sources
	top, err := r.client.ZRevRangeWithScores(r.ctx, key+":source_counts", 0, 9).Result()
	if err != nil {
		return stats, nil
	}
	stats.TopSources = make([]models.SourceCount, 0, len(top))
	for _, z := range top {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		count := int(z.Score)
		pct := 0.0
		if stats.TotalPackets > 0 {
			pct = float64(count) / float64(stats.TotalPackets) * 100
		}
		stats.TopSources = append(stats.TopSources, models.SourceCount{
			Address:    member,
			Count:      count,
			Percentage: pct,
		})
	}

	return stats, nil
}

// GetStatsHistory returns the counters for the last n minutes that have data,
// newest first
func (r *RedisClient) GetStatsHistory(n int) []*models.TrafficStats {
	history := make([]*models.TrafficStats, 0, n)
	now := r.clock.Now()
	for i := 0; i < n; i++ {
		stats, err := r.GetStats(now.Add(-time.Duration(i) * time.Minute))
		if err == nil {
			history = append(history, stats)
		}
	}
	return history
}

// GetRecentAlerts retrieves up to limit of the newest alerts
func (r *RedisClient) GetRecentAlerts(limit int) ([]models.Alert, error) {
	if limit <= 0 || limit > recentAlerts {
		limit = recentAlerts
	}

	results, err := r.client.LRange(r.ctx, r.key("alerts", "recent"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	alerts := make([]models.Alert, 0, len(results))
	for _, result := range results {
		var a models.Alert
		if err := json.Unmarshal([]byte(result), &a); err != nil {
			continue
		}
		alerts = append(alerts, a)
	}

	return alerts, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}
