package cache

import (
	"context"

	"location-api/cache/domain"
)

// Invalidate remove as entradas que casam com pattern. Backends que sabem
// apagar por padrão (domain.PatternDeleter) recebem o glob; os demais tratam
// pattern como chave exata.
func Invalidate(ctx context.Context, c domain.Cache, pattern string) (int, error) {
	if pd, ok := c.(domain.PatternDeleter); ok {
		return pd.DeletePattern(ctx, pattern)
	}
	ok, err := c.Exists(ctx, pattern)
	if err != nil || !ok {
		return 0, err
	}
	return 1, c.Delete(ctx, pattern)
}

// GetAs lê key e converte para T. Um valor que não converte é tratado como miss.
func GetAs[T any](ctx context.Context, c domain.Cache, key string) (T, bool, error) {
	var zero T
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	out, err := convert[T](v)
	if err != nil {
		return zero, false, nil
	}
	return out, true, nil
}
