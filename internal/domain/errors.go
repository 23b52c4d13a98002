package domain

import "errors"

var (
	ErrValidation   = errors.New("invalid input")
	ErrConflict     = errors.New("already exists")
	ErrInvalidState = errors.New("transition not permitted")
	ErrNotFound     = errors.New("not found")
	ErrUpstream     = errors.New("upstream call failed")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")
)
