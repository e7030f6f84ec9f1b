package lifecycle

import (
	"context"
	"encoding/json"
	"time"

	"FuelSOS/internal/models"
	"FuelSOS/pkg/cache"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/logger"

	"go.uber.org/zap"
)

// Snapshots caches the last committed state of each request so reconnecting
// clients read what subscribers were last pushed. Writes happen under the
// request lock, after commit.
type Snapshots struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewSnapshots(c cache.Cache, ttl time.Duration) *Snapshots {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Snapshots{cache: c, ttl: ttl}
}

func (s *Snapshots) Load(ctx context.Context, id string) (*models.SOSRequest, bool) {
	if s == nil || s.cache == nil {
		return nil, false
	}
	raw, ok := s.cache.Get(ctx, constant.SnapshotCacheKey+id)
	if !ok {
		return nil, false
	}
	var req models.SOSRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Warn("drop corrupt snapshot", zap.String("request_id", id), zap.Error(err))
		_ = s.cache.Delete(ctx, constant.SnapshotCacheKey+id)
		return nil, false
	}
	return &req, true
}

func (s *Snapshots) Store(ctx context.Context, req *models.SOSRequest) {
	if s == nil || s.cache == nil || req == nil {
		return
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, constant.SnapshotCacheKey+req.ID, raw, s.ttl); err != nil {
		// a stale entry is worse than none
		logger.Warn("snapshot write failed", zap.String("request_id", req.ID), zap.Error(err))
		s.Invalidate(ctx, req.ID)
	}
}

func (s *Snapshots) Invalidate(ctx context.Context, id string) {
	if s == nil || s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, constant.SnapshotCacheKey+id)
}

// Publisher pushes a committed request state to its subscribers.
type Publisher interface {
	PublishStatus(ctx context.Context, req *models.SOSRequest)
}

// Announcer refreshes the snapshot and then publishes. Callers hold the
// request lock so subscribers observe versions in commit order; this relies on
// Publisher never blocking (the websocket and SSE hubs queue or drop, they do
// not wait on a socket).
type Announcer struct {
	Snapshots *Snapshots
	Publisher Publisher
}

func (a *Announcer) Announce(ctx context.Context, req *models.SOSRequest) {
	if a == nil || req == nil {
		return
	}
	a.Snapshots.Store(ctx, req)
	if a.Publisher != nil {
		a.Publisher.PublishStatus(ctx, req)
	}
}
