package domain

import (
	"context"
	"time"
)

// StatsEvent é o registro de uma decisão do rate limit.
//
// Route é o grupo/caminho limitado ("POST /api/v1/auth/login"), não a URL com
// query; cuidado com cardinalidade ao guardar Key.
type StatsEvent struct {
	Key       Key
	Route     string
	Allowed   bool
	Remaining int
	// Failed marca decisões em que o backend falhou (fail-open ou 503).
	Failed bool

	At time.Time
}

// StatsStore persiste estatísticas das decisões.
//
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
