package cache

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"location-api/cache/domain"
	"location-api/cache/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
}

type lookup struct {
	Address string
	Lang    string
}

func (l lookup) CacheArgs() ([]any, map[string]any) {
	return []any{l.Address}, map[string]any{"lang": l.Lang}
}

func TestMemoize_SameArgsInvokesOnce(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fn := Memoize(infra.NewMemoryCache(), "double", func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n * 2, nil
	}, WithTTL[int](time.Minute))

	for range 2 {
		got, err := fn(ctx, 21)
		if err != nil || got != 42 {
			t.Fatalf("expected 42, got %d err=%v", got, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one invocation, got %d", calls.Load())
	}

	if got, _ := fn(ctx, 5); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected different args to invoke again, got %d", calls.Load())
	}
}

func TestMemoize_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	var calls int
	boom := errors.New("boom")
	fn := Memoize(infra.NewMemoryCache(), "flaky", func(_ context.Context, _ string) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "ok", nil
	})

	if _, err := fn(ctx, "x"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got, err := fn(ctx, "x"); err != nil || got != "ok" {
		t.Fatalf("expected retry to run, got %q err=%v", got, err)
	}
}

func TestMemoize_CustomKeyFuncIsUsedVerbatim(t *testing.T) {
	ctx := context.Background()
	c := infra.NewMemoryCache()
	fn := Memoize(c, "ignored", func(_ context.Context, id int) (string, error) {
		return "user", nil
	}, WithKeyFunc(func(id int) string { return "user:exact" }))

	_, _ = fn(ctx, 7)
	if ok, _ := c.Exists(ctx, "user:exact"); !ok {
		t.Fatalf("expected custom key to be used")
	}
}

func TestMemoize_RoundTripsStructsThroughRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	var calls int
	fn := Memoize(infra.NewRedisCache(rdb), "place", func(_ context.Context, q lookup) (place, error) {
		calls++
		return place{Name: q.Address, Lat: -23.5}, nil
	})

	q := lookup{Address: "Av Paulista", Lang: "pt"}
	first, _ := fn(ctx, q)
	second, err := fn(ctx, q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one invocation, got %d", calls)
	}
	if first != second {
		t.Fatalf("expected same value from cache, got %+v vs %+v", first, second)
	}
	if !mr.Exists("cache:memo:place:Av Paulista:lang=pt") {
		t.Fatalf("expected default key, have %v", mr.Keys())
	}
}

func TestMemoize_NumericLookingStringSurvivesRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	fn := Memoize(infra.NewRedisCache(rdb), "zip", func(_ context.Context, _ string) (string, error) {
		return "12345", nil
	})

	_, _ = fn(ctx, "paulista")
	got, err := fn(ctx, "paulista")
	if err != nil || got != "12345" {
		t.Fatalf("expected \"12345\", got %q err=%v", got, err)
	}
}

func TestMemoize_StringsRoundTripExactlyOnBothCaches(t *testing.T) {
	values := []string{"1.50", "1e2", `"abc"`, "null", `{"b":1,"a":2}`, "true", ""}

	caches := map[string]func(t *testing.T) domain.Cache{
		"memory": func(t *testing.T) domain.Cache { return infra.NewMemoryCache() },
		"redis": func(t *testing.T) domain.Cache {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return infra.NewRedisCache(rdb)
		},
	}

	for name, newCache := range caches {
		for _, want := range values {
			t.Run(name+"/"+want, func(t *testing.T) {
				ctx := context.Background()
				var calls int
				fn := Memoize(newCache(t), "echo", func(_ context.Context, _ string) (string, error) {
					calls++
					return want, nil
				})

				for range 2 {
					got, err := fn(ctx, "k")
					if err != nil || got != want {
						t.Fatalf("expected %q, got %q err=%v", want, got, err)
					}
				}
				if calls != 1 {
					t.Fatalf("expected second call to be a hit, got %d invocations", calls)
				}
			})
		}
	}
}

func TestMemoize_LargeIntegersKeepPrecisionInRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	const id int64 = 1<<60 + 1
	fn := Memoize(infra.NewRedisCache(rdb), "id", func(_ context.Context, _ string) (map[string]int64, error) {
		return map[string]int64{"id": id}, nil
	})

	_, _ = fn(ctx, "x")
	got, err := fn(ctx, "x")
	if err != nil || got["id"] != id {
		t.Fatalf("expected %d, got %v err=%v", id, got, err)
	}
}

func TestMemoize_UndecodableEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	c := infra.NewMemoryCache()
	var calls int
	fn := Memoize(c, "n", func(_ context.Context, _ string) (int, error) {
		calls++
		return 7, nil
	}, WithKeyFunc(func(string) string { return "n" }))

	_ = c.Set(ctx, "n", "not json", 0)
	if got, err := fn(ctx, "x"); err != nil || got != 7 || calls != 1 {
		t.Fatalf("expected recompute, got %d err=%v calls=%d", got, err, calls)
	}
	if v, _, _ := c.Get(ctx, "n"); v != "7" {
		t.Fatalf("expected entry overwritten with JSON, got %#v", v)
	}
}

type brokenCache struct{ sets int }

func (b *brokenCache) Get(context.Context, string) (any, bool, error) {
	return nil, false, errors.New("down")
}
func (b *brokenCache) Set(context.Context, string, any, time.Duration) error {
	b.sets++
	return errors.New("down")
}
func (b *brokenCache) Delete(context.Context, string) error          { return errors.New("down") }
func (b *brokenCache) Exists(context.Context, string) (bool, error)  { return false, errors.New("down") }
func (b *brokenCache) Clear(context.Context) error                   { return errors.New("down") }

func TestMemoize_CacheFailureComputesFresh(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	c := &brokenCache{}

	fn := Memoize(c, "fresh", func(_ context.Context, n int) (int, error) {
		return n + 1, nil
	}, WithLogger[int](logger))

	for range 3 {
		got, err := fn(context.Background(), 1)
		if err != nil || got != 2 {
			t.Fatalf("expected fresh computation, got %d err=%v", got, err)
		}
	}
	if c.sets != 3 {
		t.Fatalf("expected a set attempt per miss, got %d", c.sets)
	}
	if n := strings.Count(buf.String(), "\n"); n != 1 {
		t.Fatalf("expected throttled logging (1 line), got %d: %q", n, buf.String())
	}
}

func TestMemoize_CoalescingRunsOnceForConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	fn := Memoize(infra.NewMemoryCache(), "slow", func(_ context.Context, _ int) (int, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return 1, nil
	}, WithCoalescing[int]())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := fn(ctx, 0); err != nil || v != 1 {
				t.Errorf("unexpected result %d err=%v", v, err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected coalesced single call, got %d", calls.Load())
	}
}

func TestMemoize_CoalescedLoadIgnoresCallerCancel(t *testing.T) {
	c := infra.NewMemoryCache()
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	fn := Memoize(c, "slow", func(ctx context.Context, _ int) (int, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}, WithCoalescing[int](), WithKeyFunc(func(int) string { return "slow" }))

	type result struct {
		v   int
		err error
	}
	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan result, 1)
	go func() {
		v, err := fn(ctx, 0)
		first <- result{v, err}
	}()
	<-started

	second := make(chan result, 1)
	go func() {
		v, err := fn(context.Background(), 0)
		second <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	for name, ch := range map[string]chan result{"canceled caller": first, "waiting caller": second} {
		if r := <-ch; r.err != nil || r.v != 1 {
			t.Fatalf("%s: expected 1, got %d err=%v", name, r.v, r.err)
		}
	}
	if v, ok, _ := c.Get(context.Background(), "slow"); !ok || v != "1" {
		t.Fatalf("expected shared result to be cached, got %#v ok=%v", v, ok)
	}
}

func TestDefaultKey_SortsNamedArgs(t *testing.T) {
	a := DefaultKey("p", "f", argsOf{pos: []any{1, "x"}, named: map[string]any{"b": 2, "a": true}})
	if a != "p:f:1:x:a=true:b=2" {
		t.Fatalf("unexpected key %q", a)
	}
}

func TestDefaultKey_RendersCompositesAsJSON(t *testing.T) {
	got := DefaultKey("p", "f", map[string]int{"z": 1, "a": 2})
	if got != `p:f:{"a":2,"z":1}:` {
		t.Fatalf("unexpected key %q", got)
	}
}

type argsOf struct {
	pos   []any
	named map[string]any
}

func (a argsOf) CacheArgs() ([]any, map[string]any) { return a.pos, a.named }

func TestInvalidate_UsesPatternWhenSupported(t *testing.T) {
	ctx := context.Background()
	c := infra.NewMemoryCache()
	_ = c.Set(ctx, "users:1", 1, 0)
	_ = c.Set(ctx, "users:2", 2, 0)

	n, err := Invalidate(ctx, c, "users:*")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 invalidated, got %d err=%v", n, err)
	}
}

// exactCache esconde DeletePattern do MemoryCache.
type exactCache struct{ c *infra.MemoryCache }

func (e exactCache) Get(ctx context.Context, k string) (any, bool, error) { return e.c.Get(ctx, k) }
func (e exactCache) Set(ctx context.Context, k string, v any, ttl time.Duration) error {
	return e.c.Set(ctx, k, v, ttl)
}
func (e exactCache) Delete(ctx context.Context, k string) error          { return e.c.Delete(ctx, k) }
func (e exactCache) Exists(ctx context.Context, k string) (bool, error)  { return e.c.Exists(ctx, k) }
func (e exactCache) Clear(ctx context.Context) error                     { return e.c.Clear(ctx) }

func TestInvalidate_FallsBackToExactKey(t *testing.T) {
	ctx := context.Background()
	c := exactCache{infra.NewMemoryCache()}
	_ = c.Set(ctx, "users:*", 1, 0)
	_ = c.Set(ctx, "users:1", 1, 0)

	n, err := Invalidate(ctx, c, "users:*")
	if err != nil || n != 1 {
		t.Fatalf("expected exact delete, got %d err=%v", n, err)
	}
	if ok, _ := c.Exists(ctx, "users:1"); !ok {
		t.Fatalf("expected users:1 to survive exact delete")
	}
}

func TestGetAs(t *testing.T) {
	ctx := context.Background()
	c := infra.NewMemoryCache()
	_ = c.Set(ctx, "n", 3, 0)

	n, ok, err := GetAs[int](ctx, c, "n")
	if err != nil || !ok || n != 3 {
		t.Fatalf("expected 3, got %d ok=%v err=%v", n, ok, err)
	}
	if _, ok, _ := GetAs[place](ctx, c, "n"); ok {
		t.Fatalf("expected unconvertible value to be a miss")
	}
}
