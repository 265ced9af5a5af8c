package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	cachedomain "location-api/cache/domain"
	rldomain "location-api/middleware/ratelimit/domain"
)

// ErrPatternUnsupported indica que o cache ativo não sabe apagar por padrão.
var ErrPatternUnsupported = errors.New("cache does not support pattern delete")

// CacheHandle implementa cachedomain.Cache lendo o binding a cada chamada.
type CacheHandle struct{ b *Binding }

func (h *CacheHandle) current() cachedomain.Cache { return h.b.cur.Load().cache }

func (h *CacheHandle) Get(ctx context.Context, key string) (any, bool, error) {
	return h.current().Get(ctx, key)
}

// GetRaw repassa ao cache ativo; todos os caches do binding implementam RawReader.
func (h *CacheHandle) GetRaw(ctx context.Context, key string) (string, bool, error) {
	rr, ok := h.current().(cachedomain.RawReader)
	if !ok {
		return "", false, fmt.Errorf("cache %T does not expose raw values", h.current())
	}
	return rr.GetRaw(ctx, key)
}

func (h *CacheHandle) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return h.current().Set(ctx, key, value, ttl)
}

func (h *CacheHandle) Delete(ctx context.Context, key string) error {
	return h.current().Delete(ctx, key)
}

func (h *CacheHandle) Exists(ctx context.Context, key string) (bool, error) {
	return h.current().Exists(ctx, key)
}

func (h *CacheHandle) Clear(ctx context.Context) error {
	return h.current().Clear(ctx)
}

func (h *CacheHandle) DeletePattern(ctx context.Context, pattern string) (int, error) {
	pd, ok := h.current().(cachedomain.PatternDeleter)
	if !ok {
		return 0, ErrPatternUnsupported
	}
	return pd.DeletePattern(ctx, pattern)
}

// LimiterHandle implementa rldomain.Limiter lendo o binding a cada chamada.
type LimiterHandle struct{ b *Binding }

func (h *LimiterHandle) CheckAndConsume(ctx context.Context, key rldomain.Key, limit int, window time.Duration) (rldomain.Result, error) {
	return h.b.cur.Load().limiter.CheckAndConsume(ctx, key, limit, window)
}

func (h *LimiterHandle) Reset(ctx context.Context, key rldomain.Key) error {
	return h.b.cur.Load().limiter.Reset(ctx, key)
}

type StatsHandle struct{ b *Binding }

func (h *StatsHandle) Record(ctx context.Context, ev rldomain.StatsEvent) error {
	return h.b.cur.Load().stats.Record(ctx, ev)
}

var (
	_ cachedomain.Cache          = (*CacheHandle)(nil)
	_ cachedomain.PatternDeleter = (*CacheHandle)(nil)
	_ cachedomain.RawReader      = (*CacheHandle)(nil)
	_ rldomain.Limiter           = (*LimiterHandle)(nil)
	_ rldomain.StatsStore        = (*StatsHandle)(nil)
)
