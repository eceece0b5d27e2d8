// Package token signs and verifies the short-lived login tokens that carry a
// login attempt from the start call to the finish call.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SecretSize is the length in bytes of the generated signing secret.
const SecretSize = 64

var (
	ErrInvalid       = errors.New("invalid token")
	ErrClockOverflow = errors.New("overflow while calculating token expiry")
)

type claims[T any] struct {
	Data T `json:"data"`
	jwt.RegisteredClaims
}

// Issuer signs payloads of type T with an HS256 secret held only in memory.
type Issuer[T any] struct {
	secret       []byte
	expiresAfter time.Duration
	now          func() time.Time
}

type Option func(*options)

type options struct {
	now func() time.Time
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewIssuer creates an issuer with a fresh random secret. Tokens issued by a
// previous process are rejected.
func NewIssuer[T any](expiresAfter time.Duration, opts ...Option) (*Issuer[T], error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	return NewIssuerWithSecret[T](secret, expiresAfter, opts...), nil
}

func NewIssuerWithSecret[T any](secret []byte, expiresAfter time.Duration, opts ...Option) *Issuer[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Issuer[T]{secret: secret, expiresAfter: expiresAfter, now: o.now}
}

func (i *Issuer[T]) Generate(payload T) (string, error) {
	now := i.now()
	exp := now.Add(i.expiresAfter)
	if exp.Sub(now) != i.expiresAfter {
		return "", ErrClockOverflow
	}

	c := claims[T]{
		Data: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
}

// Validate checks the signature, exp and nbf and returns the payload. Every
// failure is reported as ErrInvalid.
func (i *Issuer[T]) Validate(tokenString string) (T, error) {
	var zero T
	token, err := jwt.ParseWithClaims(tokenString, &claims[T]{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	c, ok := token.Claims.(*claims[T])
	if !ok || !token.Valid {
		return zero, ErrInvalid
	}
	return c.Data, nil
}
