package api

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrTokenExpired la recepción devolvió 401; hay que refrescar el bearer y
// reintentar una única vez.
var ErrTokenExpired = errors.New("bearer token expired")

// RejectError rechazo no transitorio de la recepción (4xx distinto de 401).
type RejectError struct {
	Status int
	Body   string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("reception returned http status %d: %s", e.Status, e.Body)
}

// TransientError fallo de red, timeout o 5xx; el documento debe ir a la
// cola de contingencia, no al llamador como error.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient transmission failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reporta si el error amerita contingencia.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
