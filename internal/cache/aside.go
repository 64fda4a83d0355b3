package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	ResultHit   = "hit"
	ResultMiss  = "miss"
	ResultError = "error"
)

// Observer receives one call per cache lookup or failed write.
type Observer interface {
	ObserveCache(view, result string)
}

// Aside implements cache-aside reads over a Store. The cache is advisory:
// a failing Store degrades to misses and skipped writes, never to request errors.
type Aside struct {
	store    Store
	ttl      time.Duration
	log      *slog.Logger
	observer Observer
	loads    singleflight.Group
}

func NewAside(store Store, ttl time.Duration, log *slog.Logger, observer Observer) *Aside {
	if store == nil {
		store = Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aside{store: store, ttl: ttl, log: log, observer: observer}
}

// GetJSON reports whether key was present and decoded into dest.
func (a *Aside) GetJSON(ctx context.Context, key string, dest any) bool {
	b, found, err := a.store.Get(ctx, key)
	if err != nil {
		a.log.WarnContext(ctx, "cache read failed, treating as miss", "key", key, "err", err)
		a.observe(key, ResultError)
		return false
	}
	if !found {
		a.observe(key, ResultMiss)
		return false
	}

	if err := json.Unmarshal(b, dest); err != nil {
		a.log.WarnContext(ctx, "cache entry undecodable, treating as miss", "key", key, "err", err)
		a.observe(key, ResultError)
		return false
	}

	a.observe(key, ResultHit)
	return true
}

// SetJSON stores v under key for the configured TTL, best-effort.
func (a *Aside) SetJSON(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		a.log.WarnContext(ctx, "cache encode failed", "key", key, "err", err)
		return
	}

	if err := a.store.Set(ctx, key, b, a.ttl); err != nil {
		a.log.WarnContext(ctx, "cache write failed", "key", key, "err", err)
		a.observe(key, ResultError)
	}
}

// Invalidate removes keys, best-effort. A failure leaves entries that
// expire on their own within one TTL.
func (a *Aside) Invalidate(ctx context.Context, keys ...string) {
	if err := a.store.Delete(ctx, keys...); err != nil {
		a.log.WarnContext(ctx, "cache invalidation failed", "keys", keys, "err", err)
		for _, k := range keys {
			a.observe(k, ResultError)
		}
	}
}

// sharedLoadTimeout bounds a load once it no longer follows any one
// caller's context.
const sharedLoadTimeout = 5 * time.Second

// Fetch is the whole cache-aside read: on a miss it calls load, stores the
// result and returns fromCache=false. Concurrent misses on one key share a
// single load. The load is detached from every caller's cancellation; each
// caller stops waiting when its own ctx ends.
func Fetch[T any](ctx context.Context, a *Aside, key string, load func(context.Context) (T, error)) (val T, fromCache bool, err error) {
	if a.GetJSON(ctx, key, &val) {
		return val, true, nil
	}

	ch := a.loads.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()

		loaded, err := load(lctx)
		if err != nil {
			return nil, err
		}
		a.SetJSON(lctx, key, loaded)
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return val, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return val, false, res.Err
		}
		return res.Val.(T), false, nil
	}
}

func (a *Aside) observe(key, result string) {
	if a.observer != nil {
		a.observer.ObserveCache(viewOf(key), result)
	}
}
