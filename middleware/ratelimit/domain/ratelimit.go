package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http nem Redis.

import (
	"context"
	"errors"
	"strconv"
	"time"
)

type Key string

// Result é o resultado de um CheckAndConsume.
//
// Limited=false: o evento foi registrado e Remaining = limit - contagem após o registro.
// Limited=true: nada foi registrado e Remaining = 0.
type Result struct {
	Limited   bool
	Remaining int
}

// Limiter é a janela deslizante exata por chave.
//
// CheckAndConsume descarta eventos mais antigos que now-window, compara o que
// sobrou com limit e só então registra o novo evento. Reset apaga todos os
// eventos da chave (quota cheia de novo).
//
// Erros só vêm de backends compartilhados (ver sharedstore.BackendError);
// a implementação local não falha.
type Limiter interface {
	CheckAndConsume(ctx context.Context, key Key, limit int, window time.Duration) (Result, error)
	Reset(ctx context.Context, key Key) error
}

// Policy é o limite aplicado a um grupo de rotas.
type Policy struct {
	Limit  int
	Window time.Duration
}

// PerMinute cria uma Policy de n eventos por minuto.
func PerMinute(n int) Policy { return Policy{Limit: n, Window: time.Minute} }

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Window    time.Duration
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Igual à janela; 0 quando permitido.
	RetryAfter time.Duration
}

// Err devolve *LimitExceededError quando a decisão bloqueia, nil caso contrário.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitExceededError{Limit: d.Limit, Window: d.Window, RetryAfter: d.RetryAfter}
}

var ErrRateLimited = errors.New("rate limit exceeded")

// LimitExceededError é o sinal "too many requests" entregue a quem chamou.
type LimitExceededError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *LimitExceededError) Error() string {
	return "rate limit exceeded: " + strconv.Itoa(e.Limit) + " per " + e.Window.String() +
		", retry after " + e.RetryAfter.String()
}

func (e *LimitExceededError) Is(target error) bool { return target == ErrRateLimited }
