package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Cache TTLs for the read endpoints. Reads are eventually consistent with
// ledger truth; these bound the staleness.
const (
	TTL_PLATFORM_STATS = 30 * time.Second
	TTL_LEADERBOARD    = 30 * time.Second
	TTL_PLAYER_STATS   = 60 * time.Second
	TTL_OPEN_TABLES    = 10 * time.Second
	TTL_TABLE_SNAPSHOT = 5 * time.Second
)

const defaultPrimaryTimeout = 2 * time.Second

// Store is one cache backend.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Resilient is a read-through cache over a primary store and an
// independent fallback. Primary failures are logged, never propagated:
// Get falls back to the secondary under a bounded timeout, Set writes the
// secondary regardless of the primary outcome so a primary outage does not
// blank the cache. A nil primary degrades to fallback-only.
type Resilient struct {
	primary  Store
	fallback Store
	timeout  time.Duration
}

func NewResilient(primary, fallback Store) *Resilient {
	return &Resilient{
		primary:  primary,
		fallback: fallback,
		timeout:  defaultPrimaryTimeout,
	}
}

// Get returns the cached value, preferring the primary. Never blocks past
// the primary timeout before consulting the fallback.
func (r *Resilient) Get(ctx context.Context, key string) (string, bool) {
	if r.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		val, ok, err := r.primary.Get(pctx, key)
		cancel()
		if err == nil {
			return val, ok
		}
		logrus.Warnf("[CACHE] Primary get %q failed, using fallback: %v", key, err)
	}

	val, ok, err := r.fallback.Get(ctx, key)
	if err != nil {
		logrus.Warnf("[CACHE] Fallback get %q failed: %v", key, err)
		return "", false
	}
	return val, ok
}

// Set writes both stores. Expiries are computed independently per store;
// the two are never required to agree.
func (r *Resilient) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if r.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		if err := r.primary.Set(pctx, key, value, ttl); err != nil {
			logrus.Warnf("[CACHE] Primary set %q failed: %v", key, err)
		}
		cancel()
	}
	if err := r.fallback.Set(ctx, key, value, ttl); err != nil {
		logrus.Warnf("[CACHE] Fallback set %q failed: %v", key, err)
	}
}

// Delete clears the key from both stores unconditionally.
func (r *Resilient) Delete(ctx context.Context, key string) {
	if r.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		if err := r.primary.Delete(pctx, key); err != nil {
			logrus.Warnf("[CACHE] Primary delete %q failed: %v", key, err)
		}
		cancel()
	}
	if err := r.fallback.Delete(ctx, key); err != nil {
		logrus.Warnf("[CACHE] Fallback delete %q failed: %v", key, err)
	}
}
