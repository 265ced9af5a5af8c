package infra

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"location-api/middleware/ratelimit/domain"
	"location-api/sharedstore"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript faz poda, contagem, inserção condicional e expiração num
// único passo no Redis. Scores e limites vão como string para não perder
// precisão na conversão numérica do Lua.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ARGV[2])
local count = redis.call('ZCARD', key)
local limit = tonumber(ARGV[3])
if count >= limit then
  return {1, 0}
end
redis.call('ZADD', key, ARGV[1], ARGV[5])
redis.call('PEXPIRE', key, ARGV[4])
return {0, limit - count - 1}
`)

// RedisLimiter é a janela deslizante compartilhada, um sorted set por chave
// (score = timestamp em microssegundos).
//
// Modo padrão: MULTI/EXEC com ZREMRANGEBYSCORE, ZCARD, ZADD especulativo e
// PEXPIRE. Se a contagem anterior ao ZADD já estava no limite, o membro recém
// inserido é removido antes de responder "limitado".
//
// Contrato: exatidão best-effort. O ZCARD roda dentro do MULTI, então duas
// chamadas nunca leem a mesma contagem; o resíduo fica no membro especulativo
// de uma chamada recusada, que entre o EXEC e o ZREM é contado pelas outras
// (recusa a mais) e, se o ZREM falhar, só sai no PEXPIRE. Consumidores devem
// tolerar uma margem de um evento por disputa.
//
// WithStrictScript troca o MULTI por um script Lua que só insere se houver
// espaço, eliminando a margem.
type RedisLimiter struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
	strict  bool
	now     func() time.Time
}

type RedisOption func(*RedisLimiter)

// WithPrefix define o namespace das chaves (padrão "rate_limit:").
func WithPrefix(prefix string) RedisOption {
	return func(r *RedisLimiter) { r.prefix = prefix }
}

// WithTimeout limita cada chamada ao Redis (padrão sharedstore.DefaultTimeout).
func WithTimeout(d time.Duration) RedisOption {
	return func(r *RedisLimiter) { r.timeout = d }
}

// WithStrictScript usa o script Lua atômico em vez do MULTI + ZREM.
func WithStrictScript(strict bool) RedisOption {
	return func(r *RedisLimiter) { r.strict = strict }
}

// WithRedisClock troca o relógio usado nos scores (útil em testes).
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisLimiter) { r.now = now }
}

func NewRedisLimiter(rdb redis.UniversalClient, opts ...RedisOption) *RedisLimiter {
	r := &RedisLimiter{
		rdb:     rdb,
		prefix:  "rate_limit:",
		timeout: sharedstore.DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ domain.Limiter = (*RedisLimiter)(nil)

func (r *RedisLimiter) Strict() bool { return r.strict }

func (r *RedisLimiter) key(k domain.Key) string { return r.prefix + string(k) }

func (r *RedisLimiter) CheckAndConsume(ctx context.Context, key domain.Key, limit int, window time.Duration) (domain.Result, error) {
	if limit <= 0 {
		return domain.Result{Limited: true}, nil
	}

	ctx, cancel := sharedstore.Bound(ctx, r.timeout)
	defer cancel()

	now := r.now().UnixMicro()
	lower := now - window.Microseconds()
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(rand.Uint64(), 36)

	if r.strict {
		return r.checkScript(ctx, r.key(key), now, lower, limit, window, member)
	}
	return r.checkPipeline(ctx, r.key(key), now, lower, limit, window, member)
}

func (r *RedisLimiter) checkPipeline(ctx context.Context, key string, now, lower int64, limit int, window time.Duration, member string) (domain.Result, error) {
	// mesmo piso do script: PEXPIRE 0 apagaria a chave recém-gravada
	ttl := window
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	var card *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(lower, 10))
		card = pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return domain.Result{}, sharedstore.Wrap("rate check", err)
	}

	count := int(card.Val())
	if count >= limit {
		if err := r.rdb.ZRem(ctx, key, member).Err(); err != nil {
			return domain.Result{}, sharedstore.Wrap("rate rollback", err)
		}
		return domain.Result{Limited: true, Remaining: 0}, nil
	}
	return domain.Result{Limited: false, Remaining: limit - count - 1}, nil
}

func (r *RedisLimiter) checkScript(ctx context.Context, key string, now, lower int64, limit int, window time.Duration, member string) (domain.Result, error) {
	ttl := window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}
	res, err := slidingWindowScript.Run(ctx, r.rdb, []string{key},
		strconv.FormatInt(now, 10),   // ARGV[1]
		strconv.FormatInt(lower, 10), // ARGV[2]
		limit,                        // ARGV[3]
		ttl,                          // ARGV[4]
		member,                       // ARGV[5]
	).Int64Slice()
	if err != nil {
		return domain.Result{}, sharedstore.Wrap("rate script", err)
	}
	if len(res) != 2 {
		return domain.Result{}, errors.New("invalid sliding window script response")
	}
	return domain.Result{Limited: res[0] == 1, Remaining: int(res[1])}, nil
}

func (r *RedisLimiter) Reset(ctx context.Context, key domain.Key) error {
	ctx, cancel := sharedstore.Bound(ctx, r.timeout)
	defer cancel()
	return sharedstore.Wrap("rate reset", r.rdb.Del(ctx, r.key(key)).Err())
}
