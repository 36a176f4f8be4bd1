package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"event-ticketing/internal/store"
	"event-ticketing/models"

	"github.com/redis/go-redis/v9"
)

// AvailabilityService serves remaining tier capacity for storefront reads
// from a short-lived Redis copy. The cache is never consulted by issuance.
type AvailabilityService struct {
	redis redis.Cmdable
	store *store.Store
	ttl   time.Duration
}

func NewAvailabilityService(redisClient redis.Cmdable, st *store.Store, ttl time.Duration) *AvailabilityService {
	return &AvailabilityService{redis: redisClient, store: st, ttl: ttl}
}

func availabilityKey(eventID string) string {
	return fmt.Sprintf("availability:%s", eventID)
}

// availabilityVersionKey counts invalidations. A cached copy is served only
// while its stamp matches the counter, so a copy loaded before an
// invalidation can never be served after it.
func availabilityVersionKey(eventID string) string {
	return fmt.Sprintf("availability:%s:version", eventID)
}

type cachedAvailability struct {
	Version int64                     `json:"version"`
	Tiers   []models.TierAvailability `json:"tiers"`
}

func (s *AvailabilityService) GetAvailability(ctx context.Context, eventID string) ([]models.TierAvailability, error) {
	key := availabilityKey(eventID)

	// The version is read before the store so the copy written below is
	// stamped no newer than the rows it holds.
	var version int64
	cacheUp := true
	vals, err := s.redis.MGet(ctx, key, availabilityVersionKey(eventID)).Result()
	if err != nil || len(vals) != 2 {
		slog.Error("availability cache read failed", "event_id", eventID, "error", err)
		cacheUp = false
	} else {
		version = parseVersion(vals[1])
		if raw, ok := vals[0].(string); ok {
			var cached cachedAvailability
			switch jsonErr := json.Unmarshal([]byte(raw), &cached); {
			case jsonErr != nil:
				slog.Warn("discarding corrupt availability cache", "event_id", eventID)
			case cached.Version == version:
				return cached.Tiers, nil
			}
		}
	}

	tiers, err := s.load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !cacheUp {
		return tiers, nil
	}

	data, err := json.Marshal(cachedAvailability{Version: version, Tiers: tiers})
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, key, string(data), s.ttl).Err(); err != nil {
		slog.Error("availability cache write failed", "event_id", eventID, "error", err)
	}
	return tiers, nil
}

func parseVersion(v any) int64 {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (s *AvailabilityService) load(ctx context.Context, eventID string) ([]models.TierAvailability, error) {
	if _, err := s.store.FindEvent(ctx, eventID); err != nil {
		return nil, err
	}
	tiers, err := s.store.ListTiersByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	out := make([]models.TierAvailability, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, models.TierAvailability{
			TierID:    t.ID,
			Name:      t.Name,
			Price:     t.Price,
			Currency:  t.Currency,
			Remaining: t.Remaining(),
			IsActive:  t.IsActive,
		})
	}
	return out, nil
}

// Invalidate retires every cached copy for eventID, including one a
// concurrent reader is about to write. Failures are logged only; the entry
// expires on its own.
func (s *AvailabilityService) Invalidate(ctx context.Context, eventID string) {
	if s == nil {
		return
	}
	if err := s.redis.Incr(ctx, availabilityVersionKey(eventID)).Err(); err != nil {
		slog.Error("availability cache invalidate failed", "event_id", eventID, "error", err)
	}
}
