package service

import "errors"

var (
	ErrUnknownPage     = errors.New("unknown outcome page")
	ErrSessionNotFound = errors.New("session not found")
)
