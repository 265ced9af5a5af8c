package infra

import (
	"context"
	"sync"
	"time"

	"location-api/middleware/ratelimit/domain"
)

// MemoryLimiter é a janela deslizante exata em memória (um processo só).
//
// Guarda um slice ordenado de timestamps por chave, protegido por um único
// mutex. A poda acontece em cada chamada; o janitor opcional varre chaves
// ociosas para a memória não crescer sem limite.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time

	retention    time.Duration
	cleanupEvery time.Duration

	janitorMu sync.Mutex
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

type MemoryOption func(*MemoryLimiter)

// WithRetention define o horizonte da varredura do janitor (padrão 1h).
// Deve ser maior ou igual à maior janela usada.
func WithRetention(d time.Duration) MemoryOption {
	return func(m *MemoryLimiter) { m.retention = d }
}

// WithCleanupEvery define o intervalo do janitor (padrão 1m, <= 0 desliga).
func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(m *MemoryLimiter) { m.cleanupEvery = d }
}

// WithClock troca o relógio (útil em testes).
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) { m.now = now }
}

func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		events:       make(map[string][]time.Time),
		now:          time.Now,
		retention:    time.Hour,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ domain.Limiter = (*MemoryLimiter)(nil)

func (m *MemoryLimiter) CheckAndConsume(_ context.Context, key domain.Key, limit int, window time.Duration) (domain.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := string(key)
	ts := prune(m.events[k], now.Add(-window))

	if len(ts) >= limit {
		m.store(k, ts)
		return domain.Result{Limited: true, Remaining: 0}, nil
	}

	ts = append(ts, now)
	m.events[k] = ts
	return domain.Result{Limited: false, Remaining: limit - len(ts)}, nil
}

func (m *MemoryLimiter) Reset(_ context.Context, key domain.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, string(key))
	return nil
}

// Cleanup poda todas as chaves contra o horizonte de retenção e remove as vazias.
func (m *MemoryLimiter) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.retention)
	for k, ts := range m.events {
		m.store(k, prune(ts, cutoff))
	}
}

// Keys retorna quantas chaves têm eventos guardados.
func (m *MemoryLimiter) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *MemoryLimiter) CleanupEvery() time.Duration { return m.cleanupEvery }

// StartJanitor inicia a goroutine de limpeza periódica. Ela para quando ctx é
// cancelado ou em Close. Chamadas repetidas não criam uma segunda goroutine.
func (m *MemoryLimiter) StartJanitor(ctx context.Context) {
	if m.cleanupEvery <= 0 {
		return
	}

	m.janitorMu.Lock()
	defer m.janitorMu.Unlock()
	if m.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.stop = cancel

	t := time.NewTicker(m.cleanupEvery)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Cleanup()
			}
		}
	}()
}

// Close para o janitor e espera a goroutine terminar.
func (m *MemoryLimiter) Close() error {
	m.janitorMu.Lock()
	stop := m.stop
	m.stop = nil
	m.janitorMu.Unlock()

	if stop != nil {
		stop()
	}
	m.wg.Wait()
	return nil
}

// store grava ts ou remove a chave quando vazio. Chamar com mu travado.
func (m *MemoryLimiter) store(k string, ts []time.Time) {
	if len(ts) == 0 {
		delete(m.events, k)
		return
	}
	m.events[k] = ts
}

// prune descarta timestamps estritamente anteriores a cutoff. ts é ordenado.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
