package service

import (
	"errors"

	"wg-sso-gateway/controlplane/internal/repository"
	"wg-sso-gateway/controlplane/internal/session"
)

type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string {
	return e.Msg
}

// AuthError is returned when a login token or identity proof is rejected.
// Err carries the underlying cause for logging.
type AuthError struct {
	Msg string
	Err error
}

func (e AuthError) Error() string {
	return e.Msg
}

func (e AuthError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

func IsAuth(err error) bool {
	var a AuthError
	return errors.As(err, &a)
}

// IsExhausted reports whether no client address is left to hand out.
func IsExhausted(err error) bool {
	return errors.Is(err, session.ErrAddressPoolExhausted)
}
