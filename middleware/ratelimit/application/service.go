package application

import (
	"context"

	"location-api/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Disabled (ou Limiter nil) transforma Decide em pass-through.
type Service struct {
	Limiter  domain.Limiter
	Disabled bool
}

// Decide consome um evento de key sob policy.
//
// Erros do backend voltam como estão (tipicamente *sharedstore.BackendError);
// decidir entre falhar a request ou deixar passar é de quem chama.
func (s Service) Decide(ctx context.Context, key domain.Key, policy domain.Policy) (domain.Decision, error) {
	dec := domain.Decision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit, Window: policy.Window}
	if s.Disabled || s.Limiter == nil {
		return dec, nil
	}

	res, err := s.Limiter.CheckAndConsume(ctx, key, policy.Limit, policy.Window)
	if err != nil {
		return domain.Decision{}, err
	}

	dec.Remaining = res.Remaining
	if res.Limited {
		dec.Allowed = false
		dec.Remaining = 0
		dec.RetryAfter = policy.Window
	}
	return dec, nil
}

// Reset devolve a quota cheia para key.
func (s Service) Reset(ctx context.Context, key domain.Key) error {
	if s.Limiter == nil {
		return nil
	}
	return s.Limiter.Reset(ctx, key)
}
