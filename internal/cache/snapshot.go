package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SnapshotCache keeps serialized seat maps in Redis for a short time so
// that a room full of clients polling the same showtime does not hammer
// the ledger through every instance. Entries are invalidated whenever a
// seat command commits on this showtime. The cache is shared across
// instances, so an invalidation issued anywhere clears it for all.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache builds a cache around rdb. A nil client disables the
// cache entirely, which keeps local dev without Redis working.
func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

func (s *SnapshotCache) key(showtimeID string) string {
	return "seatsnap:" + showtimeID
}

// Get returns the cached snapshot body for a showtime, and whether a
// fresh entry was present. Redis errors count as a miss.
func (s *SnapshotCache) Get(ctx context.Context, showtimeID string) ([]byte, bool) {
	if s.rdb == nil {
		return nil, false
	}
	bs, err := s.rdb.Get(ctx, s.key(showtimeID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logrus.WithError(err).Warn("snapshot cache read failed")
		}
		return nil, false
	}
	return bs, true
}

// Set stores a snapshot body with the configured TTL. Failures are
// logged and ignored; the cache is an optimization, not a source of
// truth.
func (s *SnapshotCache) Set(ctx context.Context, showtimeID string, body []byte) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.SetEx(ctx, s.key(showtimeID), body, s.ttl).Err(); err != nil {
		logrus.WithError(err).Warn("snapshot cache write failed")
	}
}

// Invalidate drops the cached snapshot for a showtime. Called after any
// committed seat transition so readers never see a stale map longer
// than one round trip.
func (s *SnapshotCache) Invalidate(ctx context.Context, showtimeID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, s.key(showtimeID)).Err(); err != nil {
		logrus.WithError(err).Warn("snapshot cache invalidation failed")
	}
}
