package domain

import "errors"

var (
	ErrNoSnapshot      = errors.New("no snapshot")
	ErrTooManySessions = errors.New("too many feed sessions")
	ErrRegistryStopped = errors.New("registry stopped")
)
