package ratelimit

import (
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"location-api/middleware/ratelimit/application"
	"location-api/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

type KeyFunc func(r *http.Request) string

// DefaultPolicy é aplicada quando Options.Policy não tem janela.
var DefaultPolicy = domain.PerMinute(60)

type Options struct {
	Limiter domain.Limiter
	Stats   domain.StatsStore
	Policy  domain.Policy
	// Disabled transforma o middleware em pass-through (sem headers).
	Disabled bool

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	// FailOpen=false: erro do backend responde 503.
	// FailOpen=true: a request passa e o erro é logado (com throttle).
	FailOpen bool
	Logger   *log.Logger

	// Route identifica o grupo nas estatísticas; vazio usa "METHOD /path".
	Route string
}

// ClientAddr identifica o cliente: header configurado, primeiro IP do
// X-Forwarded-For (se confiável) ou o host de RemoteAddr.
func ClientAddr(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// DefaultKeyFunc gera "<cliente>:<path>", então cada rota tem sua própria janela.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	client := ClientAddr(keyHeader, trustXFF)
	return func(r *http.Request) string {
		return client(r) + ":" + r.URL.Path
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Policy.Window <= 0 {
		opts.Policy = DefaultPolicy
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	svc := application.Service{
		Limiter:  opts.Limiter,
		Disabled: opts.Disabled,
	}
	// um log por intervalo enquanto o backend estiver fora
	failLog := &rate.Sometimes{First: 1, Interval: 30 * time.Second}

	return func(next http.Handler) http.Handler {
		if opts.Disabled || opts.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := domain.Key(opts.KeyFn(r))
			route := opts.Route
			if route == "" {
				route = r.Method + " " + r.URL.Path
			}

			dec, err := svc.Decide(r.Context(), key, opts.Policy)
			recordStats(r, opts.Stats, domain.StatsEvent{
				Key:       key,
				Route:     route,
				Allowed:   err == nil && dec.Allowed,
				Remaining: dec.Remaining,
				Failed:    err != nil,
				At:        time.Now(),
			})

			if err != nil {
				if opts.FailOpen {
					failLog.Do(func() {
						opts.Logger.Printf("ratelimit: backend failure, admitting request (fail-open) route=%q: %v", route, err)
					})
					next.ServeHTTP(w, r)
					return
				}
				failLog.Do(func() {
					opts.Logger.Printf("ratelimit: backend failure, rejecting request route=%q: %v", route, err)
				})
				writeJSON(w, http.StatusServiceUnavailable, errorBody{
					Success: false,
					Error:   "rate_limiter_unavailable",
					Message: "Rate limiting is temporarily unavailable. Please try again later.",
				})
				return
			}

			w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
			w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))

			if !dec.Allowed {
				secs := formatSeconds(dec.RetryAfter)
				w.Header().Set("X-RateLimit-Reset", formatInt(formatSeconds(dec.Window)))
				w.Header().Set("Retry-After", formatInt(secs))
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Success:           false,
					Error:             "rate_limited",
					Message:           "Rate limit exceeded. Please try again later.",
					Limit:             dec.Limit,
					WindowSeconds:     formatSeconds(dec.Window),
					RetryAfterSeconds: secs,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// estatística é best-effort: erro não muda a resposta
func recordStats(r *http.Request, stats domain.StatsStore, ev domain.StatsEvent) {
	if stats == nil {
		return
	}
	_ = stats.Record(r.Context(), ev)
}
