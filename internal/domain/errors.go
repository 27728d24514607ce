package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	// Registration and login outcomes.
	ErrAlreadyVerified = errors.New("account already verified")
	ErrBadCredential   = errors.New("bad credential")
	ErrUnverified      = errors.New("account not verified")

	// OTP challenge outcomes.
	ErrNoChallenge     = errors.New("no active challenge")
	ErrExpired         = errors.New("challenge expired")
	ErrTooManyAttempts = errors.New("too many failed attempts")
	ErrInvalidCode     = errors.New("invalid code")
)
