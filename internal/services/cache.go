package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned by Get when no live certificate is cached for a key
var ErrCacheMiss = errors.New("certificate not cached")

const cacheKeyPattern = "avaluo:*"

// CacheService keeps generated certificates by locator key. Redis is the
// primary store; a process-local table takes over when Redis fails.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	local   map[string]cachedCertificate
	localMu sync.RWMutex
	now     func() time.Time
}

type cachedCertificate struct {
	pdf       []byte
	expiresAt time.Time
}

func (c cachedCertificate) expired(now time.Time) bool {
	return now.After(c.expiresAt)
}

// NewCacheService creates a new cache service. A nil client keeps certificates in process only.
func NewCacheService(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *CacheService {
	return &CacheService{
		client: client,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]cachedCertificate),
		now:    time.Now,
	}
}

// Get returns the cached certificate for key
func (c *CacheService) Get(ctx context.Context, key string) ([]byte, error) {
	logger := c.logger.WithField("key", key)

	if c.client != nil {
		pdf, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			logger.WithField("bytes", len(pdf)).Debug("Certificate served from Redis")
			return pdf, nil
		case !errors.Is(err, redis.Nil):
			logger.WithError(err).Warn("Redis read failed, trying local certificates")
		}
	}

	c.localMu.RLock()
	entry, ok := c.local[key]
	c.localMu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if entry.expired(c.now()) {
		c.localMu.Lock()
		delete(c.local, key)
		c.localMu.Unlock()
		return nil, ErrCacheMiss
	}

	logger.WithField("bytes", len(entry.pdf)).Debug("Certificate served from local cache")
	return entry.pdf, nil
}

// Set caches pdf under key for the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, pdf []byte) error {
	logger := c.logger.WithField("key", key)

	if c.client != nil {
		err := c.client.Set(ctx, key, pdf, c.ttl).Err()
		if err == nil {
			logger.Debug("Certificate stored in Redis")
			return nil
		}
		logger.WithError(err).Warn("Redis write failed, keeping certificate locally")
	}

	c.localMu.Lock()
	c.local[key] = cachedCertificate{pdf: pdf, expiresAt: c.now().Add(c.ttl)}
	c.localMu.Unlock()

	logger.Debug("Certificate stored in local cache")
	return nil
}

// Delete drops the certificate cached under key from both stores
func (c *CacheService) Delete(ctx context.Context, key string) error {
	if c.client != nil {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Redis delete failed")
		}
	}

	c.localMu.Lock()
	delete(c.local, key)
	c.localMu.Unlock()
	return nil
}

// Clear drops every cached certificate and returns how many were removed.
// Keys outside the certificate prefix are left alone.
func (c *CacheService) Clear(ctx context.Context) (int, error) {
	removed := 0

	if c.client != nil {
		keys, err := c.certificateKeys(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("Redis scan failed, Redis certificates kept")
		} else if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.logger.WithError(err).Warn("Redis delete failed during clear")
			}
			removed += int(n)
		}
	}

	c.localMu.Lock()
	removed += len(c.local)
	c.local = make(map[string]cachedCertificate)
	c.localMu.Unlock()

	c.logger.WithField("removed", removed).Info("Certificate cache cleared")
	return removed, nil
}

// GetStats reports how many certificates each store holds
func (c *CacheService) GetStats(ctx context.Context) (map[string]interface{}, error) {
	redisStats := map[string]interface{}{"available": false}
	if c.client != nil {
		if keys, err := c.certificateKeys(ctx); err == nil {
			redisStats["available"] = true
			redisStats["certificates"] = len(keys)
		} else {
			redisStats["error"] = err.Error()
		}
	}

	now := c.now()
	live, size := 0, 0
	c.localMu.RLock()
	for _, entry := range c.local {
		if !entry.expired(now) {
			live++
			size += len(entry.pdf)
		}
	}
	c.localMu.RUnlock()

	return map[string]interface{}{
		"redis": redisStats,
		"local": map[string]interface{}{
			"certificates": live,
			"bytes":        size,
		},
		"ttl": c.ttl.String(),
	}, nil
}

func (c *CacheService) certificateKeys(ctx context.Context) ([]string, error) {
	iter := c.client.Scan(ctx, 0, cacheKeyPattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Health returns cache service health status. The cache is degraded while
// Redis is configured but unreachable.
func (c *CacheService) Health() map[string]interface{} {
	status := "disabled"
	health := map[string]interface{}{}

	if c.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		status = "healthy"
		if err := c.client.Ping(ctx).Err(); err != nil {
			status = "unhealthy"
			health["error"] = err.Error()
		}
	}
	health["status"] = status

	overall := "healthy"
	if status == "unhealthy" {
		overall = "degraded"
	}
	return map[string]interface{}{
		"status": overall,
		"redis":  health,
		"local":  map[string]interface{}{"status": "healthy"},
	}
}

// evictExpired drops expired local certificates and returns how many went
func (c *CacheService) evictExpired() int {
	c.localMu.Lock()
	defer c.localMu.Unlock()

	now := c.now()
	evicted := 0
	for key, entry := range c.local {
		if entry.expired(now) {
			delete(c.local, key)
			evicted++
		}
	}
	return evicted
}

// StartEvictionRoutine evicts expired local certificates every interval until ctx is done
func (c *CacheService) StartEvictionRoutine(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.evictExpired(); n > 0 {
					c.logger.WithField("evicted", n).Debug("Expired certificates evicted")
				}
			}
		}
	}()
}
