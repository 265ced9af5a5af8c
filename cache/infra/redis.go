package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"location-api/cache/domain"
	"location-api/sharedstore"

	"github.com/redis/go-redis/v9"
)

// RedisCache é o cache compartilhado entre processos.
//
// TTL e atomicidade ficam a cargo do Redis (SET/SET EX/EXISTS/SCAN+DEL); não há
// lock local. Toda chave recebe o prefixo antes de ir ao Redis, então chamadores
// só enxergam chaves sem prefixo.
//
// Valores são gravados como JSON, exceto string/[]byte que vão crus. Na leitura,
// se o JSON não decodificar, a string crua é devolvida (tolera valores legados).
type RedisCache struct {
	rdb       redis.UniversalClient
	prefix    string
	timeout   time.Duration
	scanBatch int64
}

type RedisOption func(*RedisCache)

// WithPrefix define o namespace das chaves (padrão "cache:").
func WithPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithTimeout limita cada chamada ao Redis (padrão sharedstore.DefaultTimeout).
func WithTimeout(d time.Duration) RedisOption {
	return func(c *RedisCache) { c.timeout = d }
}

// WithScanBatch define o COUNT usado por Clear/DeletePattern (padrão 100).
func WithScanBatch(n int64) RedisOption {
	return func(c *RedisCache) {
		if n > 0 {
			c.scanBatch = n
		}
	}
}

func NewRedisCache(rdb redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		rdb:       rdb,
		prefix:    "cache:",
		timeout:   sharedstore.DefaultTimeout,
		scanBatch: 100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.Cache = (*RedisCache)(nil)
var _ domain.PatternDeleter = (*RedisCache)(nil)
var _ domain.RawReader = (*RedisCache)(nil)

func (c *RedisCache) Prefix() string { return c.prefix }

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) Get(ctx context.Context, key string) (any, bool, error) {
	raw, ok, err := c.GetRaw(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return decodeValue(raw), true, nil
}

// GetRaw devolve o texto exatamente como está no Redis.
func (c *RedisCache) GetRaw(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := sharedstore.Bound(ctx, c.timeout)
	defer cancel()

	raw, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, sharedstore.Wrap("get", err)
	}
	return raw, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode cache value %q: %w", key, err)
	}

	ctx, cancel := sharedstore.Bound(ctx, c.timeout)
	defer cancel()

	// no go-redis, expiração 0 grava sem TTL
	if ttl < 0 {
		ttl = 0
	}
	return sharedstore.Wrap("set", c.rdb.Set(ctx, c.key(key), payload, ttl).Err())
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	ctx, cancel := sharedstore.Bound(ctx, c.timeout)
	defer cancel()
	return sharedstore.Wrap("del", c.rdb.Del(ctx, c.key(key)).Err())
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := sharedstore.Bound(ctx, c.timeout)
	defer cancel()

	n, err := c.rdb.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, sharedstore.Wrap("exists", err)
	}
	return n > 0, nil
}

// Clear remove só as chaves sob o prefixo, em lotes, para não travar o Redis.
func (c *RedisCache) Clear(ctx context.Context) error {
	_, err := c.scanDelete(ctx, escapeGlob(c.prefix)+"*")
	return err
}

// DeletePattern remove as chaves (sem prefixo) que casam com o glob do Redis.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	return c.scanDelete(ctx, escapeGlob(c.prefix)+pattern)
}

func (c *RedisCache) scanDelete(ctx context.Context, match string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		opCtx, cancel := sharedstore.Bound(ctx, c.timeout)
		keys, next, err := c.rdb.Scan(opCtx, cursor, match, c.scanBatch).Result()
		if err != nil {
			cancel()
			return deleted, sharedstore.Wrap("scan", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(opCtx, keys...).Result()
			if err != nil {
				cancel()
				return deleted, sharedstore.Wrap("del", err)
			}
			deleted += int(n)
		}
		cancel()

		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func encodeValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeValue tenta JSON; se falhar, devolve a string crua.
func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// escapeGlob escapa os metacaracteres do MATCH do Redis.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
