package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return NewStore(redisClient), mr
}

func currentKey() string {
	now := time.Now().UTC()
	return UsageRedisKey(now.Format("2006-01-02"), now.Hour())
}

func TestUsageRedisKey(t *testing.T) {
	if got := UsageRedisKey("2025-01-15", 14); got != "narration:metrics:2025-01-15:14" {
		t.Errorf("unexpected key %s", got)
	}
}

func TestStore_RecordFrame_Success(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	err := store.RecordFrame(ctx, FrameOutcome{
		SessionID:   "s1",
		Described:   true,
		Synthesized: true,
		Latency:     1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("RecordFrame failed: %v", err)
	}

	key := currentKey()
	if v := mr.HGet(key, "frames"); v != "1" {
		t.Errorf("expected frames=1, got %s", v)
	}
	if v := mr.HGet(key, "descriptions"); v != "1" {
		t.Errorf("expected descriptions=1, got %s", v)
	}
	if v := mr.HGet(key, "syntheses"); v != "1" {
		t.Errorf("expected syntheses=1, got %s", v)
	}
	if v := mr.HGet(key, "total_latency_ms"); v != "1500" {
		t.Errorf("expected latency 1500, got %s", v)
	}
	if v := mr.HGet(key, "unique_sessions"); v != "1" {
		t.Errorf("expected unique_sessions=1, got %s", v)
	}
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Error("usage key should expire")
	}
}

func TestStore_RecordFrame_Failures(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	outcomes := []FrameOutcome{
		{SessionID: "s1", ErrorKind: "storage", FailedStage: "image_stored"},
		{SessionID: "s1", ErrorKind: "transient", FailedStage: "described"},
		{SessionID: "s1", Described: true, ErrorKind: "permanent", FailedStage: "synthesized"},
		{ErrorKind: "validation"},
	}
	for _, out := range outcomes {
		if err := store.RecordFrame(ctx, out); err != nil {
			t.Fatalf("RecordFrame failed: %v", err)
		}
	}

	key := currentKey()
	expect := map[string]string{
		"frames":            "4",
		"descriptions":      "1",
		"storage_errors":    "1",
		"provider_errors":   "2",
		"validation_errors": "1",
		"unique_sessions":   "1",
	}
	for field, want := range expect {
		if got := mr.HGet(key, field); got != want {
			t.Errorf("%s: expected %s, got %s", field, want, got)
		}
	}
	if mr.HGet(key, "syntheses") != "" {
		t.Error("failed frames must not count as syntheses")
	}
}

func TestStore_TrackSession_CountsOncePerHour(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.TrackSession(ctx, "s1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.TrackSession(ctx, "s2"); err != nil {
		t.Fatal(err)
	}

	if v := mr.HGet(currentKey(), "unique_sessions"); v != "2" {
		t.Errorf("expected 2 unique sessions, got %s", v)
	}
}

func TestStore_GetUsage(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.RecordFrame(ctx, FrameOutcome{SessionID: "s1", Described: true, Synthesized: true, Latency: 100 * time.Millisecond})
	store.RecordFrame(ctx, FrameOutcome{SessionID: "s1", Described: true, Synthesized: true, Latency: 300 * time.Millisecond})

	usage, err := store.GetUsage(ctx, 24)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if len(usage) != 1 {
		t.Fatalf("expected 1 hour bucket, got %d", len(usage))
	}
	u := usage[0]
	if u.Frames != 2 || u.Syntheses != 2 {
		t.Errorf("unexpected counters %+v", u)
	}
	if u.AvgLatencyMs != 200 {
		t.Errorf("expected avg latency 200, got %d", u.AvgLatencyMs)
	}
}

func TestStore_GetUsage_Empty(t *testing.T) {
	store, _ := newTestStore(t)

	usage, err := store.GetUsage(context.Background(), 24)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if len(usage) != 0 {
		t.Errorf("expected no usage, got %d", len(usage))
	}
}

func TestStore_GetSummary(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.RecordFrame(ctx, FrameOutcome{SessionID: "s1", Described: true, Synthesized: true, Latency: 400 * time.Millisecond})
	store.RecordFrame(ctx, FrameOutcome{SessionID: "s2", ErrorKind: "transient"})

	summary, err := store.GetSummary(ctx, 24)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.Period != "24h" {
		t.Errorf("expected period 24h, got %s", summary.Period)
	}
	if summary.Frames != 2 || summary.Errors != 1 || summary.UniqueSessions != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.ErrorRate != 50 {
		t.Errorf("expected error rate 50, got %f", summary.ErrorRate)
	}
	if summary.AvgLatencyMs != 400 {
		t.Errorf("expected avg latency 400, got %d", summary.AvgLatencyMs)
	}
}

func TestStore_GetSummary_WeightsLatencyByVolume(t *testing.T) {
	store, mr := newTestStore(t)

	now := time.Now().UTC()
	earlier := now.Add(-time.Hour)
	busy := UsageRedisKey(now.Format("2006-01-02"), now.Hour())
	quiet := UsageRedisKey(earlier.Format("2006-01-02"), earlier.Hour())

	mr.HSet(busy, "frames", "9", "syntheses", "9", "total_latency_ms", "900", "latency_count", "9")
	mr.HSet(quiet, "frames", "1", "syntheses", "1", "total_latency_ms", "1100", "latency_count", "1")

	summary, err := store.GetSummary(context.Background(), 24)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.Frames != 10 {
		t.Errorf("expected 10 frames, got %d", summary.Frames)
	}
	if summary.AvgLatencyMs != 200 {
		t.Errorf("expected avg latency 200, got %d", summary.AvgLatencyMs)
	}
}

func TestStore_Unavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	if err := store.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail")
	}
	if err := store.RecordFrame(context.Background(), FrameOutcome{}); err == nil {
		t.Error("expected RecordFrame to fail")
	}
}
