// Package preview caches fetched-but-not-ingested results per user so a
// user can inspect a work before committing it to the library. SQLite is
// the system of record; an optional Redis tier absorbs repeated reads.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/domain"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/metrics"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/store"
)

const (
	DefaultTTL = 300 * time.Second

	redisKeyPrefix = "catalog:preview:"
)

type Entry struct {
	SourceName string                 `json:"sourceName"`
	ExternalID string                 `json:"externalId"`
	Result     domain.CanonicalResult `json:"result"`
	CachedAt   time.Time              `json:"cachedAt"`
	ExpiresAt  time.Time              `json:"expiresAt"`
}

type Cache struct {
	store  *store.Store
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Cache)

// WithRedis adds a hot read tier. The cache works unchanged without one.
func WithRedis(client *redis.Client) Option {
	return func(c *Cache) { c.redis = client }
}

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCache(st *store.Store, opts ...Option) *Cache {
	c := &Cache{store: st, ttl: DefaultTTL, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Put caches a result for the user. Re-caching the same work always resets
// the expiry to a full TTL from now.
func (c *Cache) Put(ctx context.Context, userID string, result domain.CanonicalResult) (Entry, error) {
	now := c.now()
	entry := Entry{
		SourceName: result.SourceName,
		ExternalID: result.SourceID,
		Result:     result,
		CachedAt:   now,
		ExpiresAt:  now.Add(c.ttl),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}

	if err := c.store.PutPreview(ctx, store.PreviewEntry{
		UserID:     userID,
		SourceName: entry.SourceName,
		ExternalID: entry.ExternalID,
		Payload:    string(payload),
		CreatedAt:  now,
		ExpiresAt:  entry.ExpiresAt,
	}); err != nil {
		return Entry{}, err
	}

	if c.redis != nil {
		if err := c.redis.Set(ctx, redisKey(userID, entry.SourceName, entry.ExternalID), payload, c.ttl).Err(); err != nil {
			c.logger.Warn("preview redis set failed", "error", err)
		}
	}
	return entry, nil
}

// Get returns the cached entry, or (nil, nil) when absent or expired.
// Expired rows simply read as misses until the sweeper reclaims them.
func (c *Cache) Get(ctx context.Context, userID, sourceName, externalID string) (*Entry, error) {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, redisKey(userID, sourceName, externalID)).Bytes()
		switch {
		case err == nil:
			var entry Entry
			if decodeErr := json.Unmarshal(data, &entry); decodeErr == nil {
				metrics.PreviewHitsTotal.Inc()
				return &entry, nil
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("preview redis get failed", "error", err)
		}
	}

	row, err := c.store.GetPreview(ctx, userID, sourceName, externalID, c.now())
	if err != nil {
		return nil, err
	}
	if row == nil {
		metrics.PreviewMissesTotal.Inc()
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(row.Payload), &entry); err != nil {
		return nil, err
	}
	metrics.PreviewHitsTotal.Inc()
	return &entry, nil
}

// List returns the user's unexpired entries, newest first.
func (c *Cache) List(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := c.store.ListPreviews(ctx, userID, c.now())
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		var entry Entry
		if err := json.Unmarshal([]byte(row.Payload), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// PruneExpired deletes rows whose TTL has lapsed.
func (c *Cache) PruneExpired(ctx context.Context) (int64, error) {
	return c.store.DeleteExpiredPreviews(ctx, c.now())
}

// StartSweeper prunes on the given interval until ctx is cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := c.PruneExpired(ctx)
				if err != nil {
					c.logger.Warn("preview sweep failed", "error", err)
					continue
				}
				if n > 0 {
					c.logger.Debug("preview sweep removed entries", "count", n)
				}
			}
		}
	}()
}

func redisKey(userID, sourceName, externalID string) string {
	return redisKeyPrefix + userID + ":" + sourceName + ":" + externalID
}
