package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const metricsTTL = 7 * 24 * time.Hour

// FrameOutcome summarizes one finished frame for usage accounting.
// ErrorKind is one of validation, storage, transient or permanent when the
// frame failed; other kinds only count towards frames.
type FrameOutcome struct {
	SessionID   string
	Described   bool
	Synthesized bool
	FailedStage string
	ErrorKind   string
	Latency     time.Duration
}

// Usage is one hour of narration counters.
type Usage struct {
	Date             string `json:"date"`
	Hour             int    `json:"hour"`
	Frames           int64  `json:"frames"`
	Descriptions     int64  `json:"descriptions"`
	Syntheses        int64  `json:"syntheses"`
	UniqueSessions   int64  `json:"unique_sessions"`
	ValidationErrors int64  `json:"validation_errors"`
	StorageErrors    int64  `json:"storage_errors"`
	ProviderErrors   int64  `json:"provider_errors"`
	AvgLatencyMs     int64  `json:"avg_latency_ms"`

	totalLatencyMs int64
	latencyCount   int64
}

type Summary struct {
	Period         string  `json:"period"`
	Frames         int64   `json:"frames"`
	Descriptions   int64   `json:"descriptions"`
	Syntheses      int64   `json:"syntheses"`
	UniqueSessions int64   `json:"unique_sessions"`
	Errors         int64   `json:"errors"`
	ErrorRate      float64 `json:"error_rate"`
	AvgLatencyMs   int64   `json:"avg_latency_ms"`
}

func UsageRedisKey(date string, hour int) string {
	return "narration:metrics:" + date + ":" + strconv.Itoa(hour)
}

// Store keeps hourly narration usage in redis.
type Store struct {
	redis *redis.Client
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *Store) IncrementMetric(ctx context.Context, field string, value int64) error {
	now := time.Now().UTC()
	key := UsageRedisKey(now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, value)
	pipe.Expire(ctx, key, metricsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) TrackSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	key := fmt.Sprintf("narration:sessions:%s:%d", now.Format("2006-01-02"), now.Hour())

	added, err := s.redis.SAdd(ctx, key, sessionID).Result()
	if err != nil {
		return err
	}
	s.redis.Expire(ctx, key, metricsTTL)

	if added > 0 {
		return s.IncrementMetric(ctx, "unique_sessions", 1)
	}
	return nil
}

// RecordFrame accounts one finished frame in the current hour bucket.
func (s *Store) RecordFrame(ctx context.Context, out FrameOutcome) error {
	now := time.Now().UTC()
	key := UsageRedisKey(now.Format("2006-01-02"), now.Hour())

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, "frames", 1)
	if out.Described {
		pipe.HIncrBy(ctx, key, "descriptions", 1)
	}
	if out.Synthesized {
		pipe.HIncrBy(ctx, key, "syntheses", 1)
		pipe.HIncrBy(ctx, key, "total_latency_ms", out.Latency.Milliseconds())
		pipe.HIncrBy(ctx, key, "latency_count", 1)
	}
	switch out.ErrorKind {
	case "storage":
		pipe.HIncrBy(ctx, key, "storage_errors", 1)
	case "validation":
		pipe.HIncrBy(ctx, key, "validation_errors", 1)
	case "transient", "permanent":
		pipe.HIncrBy(ctx, key, "provider_errors", 1)
	}
	pipe.Expire(ctx, key, metricsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if out.SessionID != "" {
		return s.TrackSession(ctx, out.SessionID)
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, hours int) ([]*Usage, error) {
	now := time.Now().UTC()
	var usage []*Usage

	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		key := UsageRedisKey(t.Format("2006-01-02"), t.Hour())

		data, err := s.redis.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		u := &Usage{
			Date: t.Format("2006-01-02"),
			Hour: t.Hour(),
		}
		u.Frames = parseCounter(data, "frames")
		u.Descriptions = parseCounter(data, "descriptions")
		u.Syntheses = parseCounter(data, "syntheses")
		u.UniqueSessions = parseCounter(data, "unique_sessions")
		u.ValidationErrors = parseCounter(data, "validation_errors")
		u.StorageErrors = parseCounter(data, "storage_errors")
		u.ProviderErrors = parseCounter(data, "provider_errors")

		u.totalLatencyMs = parseCounter(data, "total_latency_ms")
		u.latencyCount = parseCounter(data, "latency_count")
		if u.latencyCount > 0 {
			u.AvgLatencyMs = u.totalLatencyMs / u.latencyCount
		}

		usage = append(usage, u)
	}

	return usage, nil
}

func (s *Store) GetSummary(ctx context.Context, hours int) (*Summary, error) {
	usage, err := s.GetUsage(ctx, hours)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Period: fmt.Sprintf("%dh", hours)}
	var totalLatency, latencyCount int64
	for _, u := range usage {
		summary.Frames += u.Frames
		summary.Descriptions += u.Descriptions
		summary.Syntheses += u.Syntheses
		summary.UniqueSessions += u.UniqueSessions
		summary.Errors += u.ValidationErrors + u.StorageErrors + u.ProviderErrors
		totalLatency += u.totalLatencyMs
		latencyCount += u.latencyCount
	}
	if latencyCount > 0 {
		summary.AvgLatencyMs = totalLatency / latencyCount
	}
	if summary.Frames > 0 {
		summary.ErrorRate = float64(summary.Errors) / float64(summary.Frames) * 100
	}
	return summary, nil
}

func parseCounter(data map[string]string, field string) int64 {
	v, ok := data[field]
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
