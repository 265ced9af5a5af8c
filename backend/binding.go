package backend

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	cachedomain "location-api/cache/domain"
	cacheinfra "location-api/cache/infra"
	rldomain "location-api/middleware/ratelimit/domain"
	rlinfra "location-api/middleware/ratelimit/infra"
	"location-api/sharedstore"

	"github.com/redis/go-redis/v9"
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeShared Mode = "shared"
)

// ErrNoSharedStore é devolvido por Rebind quando nenhuma URL foi configurada.
var ErrNoSharedStore = errors.New("no shared store configured")

type StatsOptions struct {
	Enabled   bool
	Prefix    string
	TTL       time.Duration
	TrackKeys bool
}

type Options struct {
	// RedisURL vazio = só local.
	RedisURL string
	// Timeout de cada operação remota e do probe.
	Timeout time.Duration

	CachePrefix     string
	RateLimitPrefix string
	StrictScript    bool

	// JanitorEvery controla a limpeza das variantes locais (0 desliga).
	JanitorEvery time.Duration

	Stats  StatsOptions
	Logger *log.Logger

	// dial permite trocar a criação do client (testes).
	dial func(rawURL string, timeout time.Duration) (redis.UniversalClient, error)
}

// active é o conjunto de implementações em uso; trocado inteiro de uma vez.
type active struct {
	mode    Mode
	cache   cachedomain.Cache
	limiter rldomain.Limiter
	stats   rldomain.StatsStore
	rdb     redis.UniversalClient
}

// Binding escolhe entre as variantes locais e as compartilhadas (Redis) e
// expõe handles estáveis que sempre delegam para a escolha atual.
//
// A troca só acontece no Bind, em Rebind ou em UseLocal; não há failback
// automático. Requests em voo numa conexão fechada pela troca falham com
// *sharedstore.BackendError.
type Binding struct {
	opts Options

	localCache   *cacheinfra.MemoryCache
	localLimiter *rlinfra.MemoryLimiter
	localStats   *rlinfra.MemoryStatsStore

	cur atomic.Pointer[active]
	// mu serializa Rebind/UseLocal/Close
	mu sync.Mutex

	stop context.CancelFunc
	wg   sync.WaitGroup

	cacheHandle   *CacheHandle
	limiterHandle *LimiterHandle
	statsHandle   *StatsHandle
}

// Bind monta as variantes locais, inicia a limpeza periódica e, se houver
// RedisURL, tenta o store compartilhado. Falha no probe só gera log: o
// processo segue em modo local.
func Bind(ctx context.Context, opts Options) *Binding {
	if opts.Timeout <= 0 {
		opts.Timeout = sharedstore.DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.dial == nil {
		opts.dial = func(rawURL string, timeout time.Duration) (redis.UniversalClient, error) {
			rdb, err := sharedstore.NewClient(rawURL, timeout)
			if err != nil {
				return nil, err
			}
			return rdb, nil
		}
	}

	b := &Binding{
		opts:         opts,
		localCache:   cacheinfra.NewMemoryCache(),
		localLimiter: rlinfra.NewMemoryLimiter(rlinfra.WithCleanupEvery(opts.JanitorEvery)),
		localStats:   rlinfra.NewMemoryStatsStore(rlinfra.WithTrackKeys(opts.Stats.TrackKeys)),
	}
	b.cacheHandle = &CacheHandle{b: b}
	b.limiterHandle = &LimiterHandle{b: b}
	b.statsHandle = &StatsHandle{b: b}
	b.cur.Store(b.localSet())

	jctx, cancel := context.WithCancel(context.Background())
	b.stop = cancel
	b.localLimiter.StartJanitor(jctx)
	b.startCacheSweep(jctx)

	if opts.RedisURL == "" {
		opts.Logger.Printf("backend: no shared store configured, using local store")
		return b
	}

	if err := b.Rebind(ctx); err != nil {
		opts.Logger.Printf("backend: shared store unavailable, using local store: %v", err)
	}
	return b
}

func (b *Binding) localSet() *active {
	return &active{
		mode:    ModeLocal,
		cache:   b.localCache,
		limiter: b.localLimiter,
		stats:   b.localStats,
	}
}

func (b *Binding) sharedSet(rdb redis.UniversalClient) *active {
	o := b.opts
	cacheOpts := []cacheinfra.RedisOption{cacheinfra.WithTimeout(o.Timeout)}
	if o.CachePrefix != "" {
		cacheOpts = append(cacheOpts, cacheinfra.WithPrefix(o.CachePrefix))
	}
	limOpts := []rlinfra.RedisOption{rlinfra.WithTimeout(o.Timeout), rlinfra.WithStrictScript(o.StrictScript)}
	if o.RateLimitPrefix != "" {
		limOpts = append(limOpts, rlinfra.WithPrefix(o.RateLimitPrefix))
	}
	statsOpts := []rlinfra.RedisStatsOption{
		rlinfra.WithStatsTimeout(o.Timeout),
		rlinfra.WithStatsTrackKeys(o.Stats.TrackKeys),
	}
	if o.Stats.Prefix != "" {
		statsOpts = append(statsOpts, rlinfra.WithStatsPrefix(o.Stats.Prefix))
	}
	if o.Stats.TTL > 0 {
		statsOpts = append(statsOpts, rlinfra.WithStatsTTL(o.Stats.TTL))
	}

	return &active{
		mode:    ModeShared,
		cache:   cacheinfra.NewRedisCache(rdb, cacheOpts...),
		limiter: rlinfra.NewRedisLimiter(rdb, limOpts...),
		stats:   rlinfra.NewRedisStatsStore(rdb, statsOpts...),
		rdb:     rdb,
	}
}

// Rebind tenta (de novo) o store compartilhado configurado. Em sucesso cache,
// limiter e stats passam juntos para o Redis; em falha nada muda.
func (b *Binding) Rebind(ctx context.Context) error {
	if b.opts.RedisURL == "" {
		return ErrNoSharedStore
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rdb, err := b.opts.dial(b.opts.RedisURL, b.opts.Timeout)
	if err != nil {
		return err
	}
	if err := sharedstore.Probe(ctx, rdb, b.opts.Timeout); err != nil {
		_ = rdb.Close()
		return err
	}

	old := b.cur.Swap(b.sharedSet(rdb))
	closeClient(old)
	b.opts.Logger.Printf("backend: bound to shared store (strict=%v)", b.opts.StrictScript)
	return nil
}

// UseLocal volta para as variantes locais e fecha o client remoto.
// O estado local é o mesmo de antes da troca para o compartilhado.
func (b *Binding) UseLocal() {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.cur.Swap(b.localSet())
	if old.mode != ModeLocal {
		b.opts.Logger.Printf("backend: switched to local store")
	}
	closeClient(old)
}

// Close para a limpeza periódica e fecha o client remoto.
func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
	b.wg.Wait()
	_ = b.localLimiter.Close()

	cur := b.cur.Load()
	if cur.rdb != nil {
		return cur.rdb.Close()
	}
	return nil
}

func (b *Binding) Mode() Mode { return b.cur.Load().mode }

// Cache devolve o handle estável do cache ativo.
func (b *Binding) Cache() *CacheHandle { return b.cacheHandle }

// Limiter devolve o handle estável do limiter ativo.
func (b *Binding) Limiter() *LimiterHandle { return b.limiterHandle }

// Stats devolve o handle de estatísticas, ou nil se desabilitadas.
func (b *Binding) Stats() rldomain.StatsStore {
	if !b.opts.Stats.Enabled {
		return nil
	}
	return b.statsHandle
}

// LocalStats expõe os contadores do modo local (admin).
func (b *Binding) LocalStats() *rlinfra.MemoryStatsStore { return b.localStats }

type Status struct {
	Mode         Mode   `json:"mode"`
	Strict       bool   `json:"strict_script"`
	Target       string `json:"target,omitempty"`
	LocalKeys    int    `json:"local_rate_limit_keys"`
	LocalEntries int    `json:"local_cache_entries"`
}

// Status resume o binding para o endpoint administrativo.
func (b *Binding) Status() Status {
	cur := b.cur.Load()
	st := Status{
		Mode:         cur.mode,
		Strict:       b.opts.StrictScript,
		LocalKeys:    b.localLimiter.Keys(),
		LocalEntries: b.localCache.Len(),
	}
	if c, ok := cur.rdb.(*redis.Client); ok {
		// só o endereço, nunca credenciais
		st.Target = c.Options().Addr
	}
	return st
}

func (b *Binding) startCacheSweep(ctx context.Context) {
	every := b.opts.JanitorEvery
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.localCache.CleanupExpired()
			}
		}
	}()
}

func closeClient(a *active) {
	if a != nil && a.rdb != nil {
		_ = a.rdb.Close()
	}
}
