package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"location-api/backend"
	"location-api/cache"
	"location-api/config"
	"location-api/middleware/ratelimit"
	"location-api/middleware/ratelimit/application"
	"location-api/middleware/ratelimit/domain"
)

const minAddressLen = 3

type server struct {
	cfg       config.Config
	binding   *backend.Binding
	limits    application.Service
	normalize cache.Func[string, string]
	logger    *log.Logger
}

func newServer(cfg config.Config, b *backend.Binding, logger *log.Logger) *server {
	return &server{
		cfg:     cfg,
		binding: b,
		limits:  application.Service{Limiter: b.Limiter(), Disabled: !cfg.RateLimitEnabled},
		normalize: cache.Memoize[string, string](b.Cache(), "normalize", normalizeAddress,
			cache.WithTTL[string](cfg.CacheTTL),
			cache.WithCoalescing[string](),
			cache.WithLogger[string](logger),
		),
		logger: logger,
	}
}

// normalizeAddress colapsa espaços: "  Rua  A ,  10 " vira "Rua A , 10".
func normalizeAddress(_ context.Context, address string) (string, error) {
	return strings.Join(strings.Fields(address), " "), nil
}

func (s *server) limit(policy domain.Policy, route string) func(http.Handler) http.Handler {
	return ratelimit.Middleware(ratelimit.Options{
		Limiter:            s.binding.Limiter(),
		Stats:              s.binding.Stats(),
		Policy:             policy,
		Disabled:           !s.cfg.RateLimitEnabled,
		KeyHeader:          s.cfg.RateKeyHeader,
		TrustXForwardedFor: s.cfg.TrustXFF,
		FailOpen:           s.cfg.RateLimitFailOpen,
		Logger:             s.logger,
		Route:              route,
	})
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	std := s.limit(s.cfg.DefaultPolicy(), "normalize")
	mux.Handle("POST /api/v1/normalize", std(http.HandlerFunc(s.handleNormalize)))

	strict := func(route string, h http.HandlerFunc) http.Handler {
		return s.limit(s.cfg.AuthPolicy(), route)(s.requireAdmin(h))
	}
	mux.Handle("GET /admin/backend", strict("admin", s.handleBackendStatus))
	mux.Handle("POST /admin/backend/rebind", strict("admin", s.handleRebind))
	mux.Handle("POST /admin/backend/local", strict("admin", s.handleUseLocal))
	mux.Handle("POST /admin/cache/invalidate", strict("admin", s.handleInvalidate))
	mux.Handle("POST /admin/ratelimit/reset", strict("admin", s.handleResetLimit))
	mux.Handle("GET /admin/stats", strict("admin", s.handleStats))

	return mux
}

func (s *server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
				return
			}
		}
		next(w, r)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"backend": s.binding.Mode(),
	})
}

func (s *server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady grava e lê uma chave no cache ativo.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	c := s.binding.Cache()
	check := map[string]string{"status": "healthy", "mode": string(s.binding.Mode())}
	ready := true

	if err := c.Set(r.Context(), "health_check", "ok", 10*time.Second); err != nil {
		check["status"], check["error"] = "unhealthy", err.Error()
		ready = false
	} else if v, ok, err := cache.GetAs[string](r.Context(), c, "health_check"); err != nil || !ok || v != "ok" {
		check["status"] = "degraded"
		ready = false
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": map[string]any{"cache": check}})
}

type normalizeRequest struct {
	Address string `json:"address"`
}

type normalizeResponse struct {
	InputAddress      string `json:"input_address"`
	NormalizedAddress string `json:"normalized_address"`
}

func (s *server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "body must be JSON with an address field")
		return
	}
	if len(strings.TrimSpace(req.Address)) < minAddressLen {
		writeError(w, http.StatusUnprocessableEntity, "invalid_address", "address must have at least 3 characters")
		return
	}

	out, err := s.normalize(r.Context(), req.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, normalizeResponse{InputAddress: req.Address, NormalizedAddress: out})
}

func (s *server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.binding.Status())
}

func (s *server) handleRebind(w http.ResponseWriter, r *http.Request) {
	if err := s.binding.Rebind(r.Context()); err != nil {
		code := http.StatusServiceUnavailable
		if errors.Is(err, backend.ErrNoSharedStore) {
			code = http.StatusConflict
		}
		writeError(w, code, "rebind_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.binding.Status())
}

func (s *server) handleUseLocal(w http.ResponseWriter, r *http.Request) {
	s.binding.UseLocal()
	writeJSON(w, http.StatusOK, s.binding.Status())
}

func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, "missing_pattern", "pattern query parameter is required")
		return
	}
	n, err := cache.Invalidate(r.Context(), s.binding.Cache(), pattern)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "deleted": n})
}

func (s *server) handleResetLimit(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing_key", "key query parameter is required")
		return
	}
	if err := s.limits.Reset(r.Context(), domain.Key(key)); err != nil {
		writeError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "status": "reset"})
}

// handleStats só cobre o modo local; no modo compartilhado os contadores ficam no Redis.
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.binding.LocalStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":     s.binding.Mode(),
		"total":    st.Total(),
		"by_route": st.ByRoute(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": code, "message": msg})
}
