package infra

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"location-api/cache/domain"
)

// MemoryCache é o cache local (um processo só), protegido por um único mutex.
//
// A expiração é preguiçosa: a leitura de uma entrada vencida a remove na mesma
// seção crítica e responde como miss. Não há goroutine de limpeza; use
// CleanupExpired se quiser varrer tudo.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]domain.Entry
	now     func() time.Time
}

type MemoryOption func(*MemoryCache)

// WithClock troca o relógio (útil em testes).
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]domain.Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ domain.Cache = (*MemoryCache)(nil)
var _ domain.PatternDeleter = (*MemoryCache)(nil)
var _ domain.RawReader = (*MemoryCache)(nil)

func (c *MemoryCache) Get(_ context.Context, key string) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if ent.Expired(c.now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return ent.Value, true, nil
}

// GetRaw devolve strings como foram guardadas; outros valores saem em JSON.
func (c *MemoryCache) GetRaw(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return "", false, err
	}
	switch x := v.(type) {
	case string:
		return x, true, nil
	case []byte:
		return string(x), true, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	ent := domain.Entry{Value: value}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl > 0 {
		ent.ExpiresAt = c.now().Add(ttl)
	}
	c.entries[key] = ent
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	return nil
}

// DeletePattern remove as chaves que casam com o glob, na mesma sintaxe do
// MATCH do Redis (ver compileGlob).
func (c *MemoryCache) DeletePattern(_ context.Context, pattern string) (int, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if re.MatchString(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// CleanupExpired remove todas as entradas vencidas e retorna quantas saíram.
func (c *MemoryCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, ent := range c.entries {
		if ent.Expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len conta as entradas armazenadas, incluindo vencidas ainda não removidas.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
