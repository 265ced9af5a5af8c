package sharedstore

import (
	"context"
	"errors"
	"net"
)

// ErrBackendUnavailable indica que o store compartilhado não respondeu
// (rede, timeout, conexão recusada).
var ErrBackendUnavailable = errors.New("shared store unavailable")

// BackendError embrulha uma falha de uma operação no store compartilhado.
//
// errors.Is(err, ErrBackendUnavailable) é sempre true para *BackendError;
// Timeout indica se a falha foi por deadline (contexto ou rede).
type BackendError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *BackendError) Error() string {
	if e.Timeout {
		return "shared store " + e.Op + ": timeout: " + e.Err.Error()
	}
	return "shared store " + e.Op + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackendUnavailable }

// Wrap converte um erro do cliente em *BackendError. nil continua nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err, Timeout: isTimeout(err)}
}

// IsTimeout informa se err é uma falha do store compartilhado por timeout.
func IsTimeout(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Timeout
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
