package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sort"
	"strings"
	"time"

	"location-api/cache/domain"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultKeyPrefix é o prefixo das chaves geradas por Memoize quando o
// chamador não informa um.
const DefaultKeyPrefix = "memo"

// Func é a forma de uma operação memoizável: um argumento (use um struct para
// vários) e um resultado.
type Func[A, R any] func(ctx context.Context, arg A) (R, error)

// KeyFunc gera a chave de cache a partir do argumento.
type KeyFunc[A any] func(arg A) string

// Args permite que um argumento descreva seus parâmetros posicionais e
// nomeados para a chave padrão.
type Args interface {
	CacheArgs() (positional []any, named map[string]any)
}

type memoConfig[A any] struct {
	ttl      time.Duration
	prefix   string
	keyFn    KeyFunc[A]
	coalesce bool
	logger   *log.Logger
}

type MemoOption[A any] func(*memoConfig[A])

// WithTTL define o TTL das entradas gravadas. 0 = sem expiração.
func WithTTL[A any](d time.Duration) MemoOption[A] {
	return func(c *memoConfig[A]) { c.ttl = d }
}

// WithKeyPrefix troca o prefixo da chave padrão.
func WithKeyPrefix[A any](prefix string) MemoOption[A] {
	return func(c *memoConfig[A]) { c.prefix = prefix }
}

// WithKeyFunc usa uma chave controlada pelo chamador, exatamente como retornada.
func WithKeyFunc[A any](fn KeyFunc[A]) MemoOption[A] {
	return func(c *memoConfig[A]) { c.keyFn = fn }
}

// WithCoalescing junta misses concorrentes da mesma chave numa única execução
// (singleflight). Sem esta opção, chamadas concorrentes antes do primeiro
// resultado executam a operação cada uma. A execução compartilhada recebe um
// contexto sem cancelamento (context.WithoutCancel), com os valores do
// primeiro chamador.
func WithCoalescing[A any]() MemoOption[A] {
	return func(c *memoConfig[A]) { c.coalesce = true }
}

func WithLogger[A any](l *log.Logger) MemoOption[A] {
	return func(c *memoConfig[A]) { c.logger = l }
}

// Memoize devolve fn com cache na frente.
//
// Hit: devolve o valor guardado sem chamar fn. Miss: chama fn, grava o
// resultado (uma escrita por miss) e devolve. Erros de fn não são guardados.
// O resultado é sempre gravado como texto JSON de R e lido de volta com
// json.Unmarshal em R, qualquer que seja o backend; entrada que não decodifica
// conta como miss.
// Falha do cache nunca muda a resposta: Get com erro vira miss e Set com erro
// só é logado.
func Memoize[A, R any](c domain.Cache, name string, fn Func[A, R], opts ...MemoOption[A]) Func[A, R] {
	cfg := memoConfig[A]{prefix: DefaultKeyPrefix, logger: log.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.keyFn == nil {
		prefix := cfg.prefix
		cfg.keyFn = func(arg A) string { return DefaultKey(prefix, name, arg) }
	}

	var (
		group singleflight.Group
		warn  = rate.Sometimes{Interval: 30 * time.Second}
	)

	load := func(ctx context.Context, key string, arg A) (R, error) {
		res, err := fn(ctx, arg)
		if err != nil {
			return res, err
		}
		b, err := json.Marshal(res)
		if err != nil {
			warn.Do(func() { cfg.logger.Printf("memo %s: result not encodable, skipping cache: %v", name, err) })
			return res, nil
		}
		if err := c.Set(ctx, key, string(b), cfg.ttl); err != nil {
			warn.Do(func() { cfg.logger.Printf("memo %s: cache set failed: %v", name, err) })
		}
		return res, nil
	}

	return func(ctx context.Context, arg A) (R, error) {
		key := cfg.keyFn(arg)

		raw, ok, err := readEncoded(ctx, c, key)
		if err != nil {
			warn.Do(func() { cfg.logger.Printf("memo %s: cache get failed, computing fresh: %v", name, err) })
		}
		if ok {
			var res R
			if err := json.Unmarshal([]byte(raw), &res); err == nil {
				return res, nil
			}
		}

		if !cfg.coalesce {
			return load(ctx, key, arg)
		}
		// a execução é compartilhada: o cancelamento de um chamador não derruba os outros
		shared := context.WithoutCancel(ctx)
		out, err, _ := group.Do(key, func() (any, error) { return load(shared, key, arg) })
		res, _ := out.(R)
		return res, err
	}
}

// DefaultKey monta "prefix:name:<posicionais>:<nomeados ordenados>".
func DefaultKey(prefix, name string, arg any) string {
	var (
		positional []any
		named      map[string]any
	)
	if a, ok := arg.(Args); ok {
		positional, named = a.CacheArgs()
	} else {
		positional = []any{arg}
	}

	pos := make([]string, 0, len(positional))
	for _, p := range positional {
		pos = append(pos, render(p))
	}

	names := make([]string, 0, len(named))
	for k := range named {
		names = append(names, k)
	}
	sort.Strings(names)
	kw := make([]string, 0, len(names))
	for _, k := range names {
		kw = append(kw, k+"="+render(named[k]))
	}

	return prefix + ":" + name + ":" + strings.Join(pos, ":") + ":" + strings.Join(kw, ":")
}

// render produz uma forma textual estável: escalares via fmt, compostos via JSON
// (ordem dos campos do struct e mapas ordenados).
func render(v any) string {
	if v == nil {
		return "<nil>"
	}
	switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// readEncoded lê o texto guardado em key sem a decodificação genérica do backend.
func readEncoded(ctx context.Context, c domain.Cache, key string) (string, bool, error) {
	if rr, ok := c.(domain.RawReader); ok {
		return rr.GetRaw(ctx, key)
	}
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
	return "", false, nil
}

// convert adapta o valor lido ao tipo R. O cache local devolve o próprio R; o
// compartilhado devolve JSON decodificado genérico, que passa por ida e volta
// em JSON.
func convert[R any](v any) (R, error) {
	if r, ok := v.(R); ok {
		return r, nil
	}
	var out R
	b, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		// string guardada crua que parecia JSON (ex: "123")
		if s, ok := any(&out).(*string); ok {
			*s = string(b)
			return out, nil
		}
		return out, err
	}
	return out, nil
}
