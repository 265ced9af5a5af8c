package domain

import (
	"context"
	"time"
)

// Cache é o contrato de cache usado pelo resto do sistema.
//
// Um miss não é erro: Get retorna found=false e err=nil. Erros só aparecem
// quando o backend compartilhado falha (ver sharedstore.BackendError).
// ttl <= 0 significa "sem expiração".
type Cache interface {
	Get(ctx context.Context, key string) (value any, found bool, err error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Clear remove apenas as entradas pelas quais esta instância responde.
	Clear(ctx context.Context) error
}

// PatternDeleter é implementado por caches que sabem remover por padrão glob
// (ex: "users:*").
type PatternDeleter interface {
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// RawReader é implementado por caches que devolvem o texto guardado sem
// decodificá-lo. Memoize usa para ler de volta o JSON que gravou.
type RawReader interface {
	GetRaw(ctx context.Context, key string) (raw string, found bool, err error)
}

// Entry é uma entrada do cache local. ExpiresAt zero => sem TTL.
type Entry struct {
	Value     any
	ExpiresAt time.Time
}

func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
