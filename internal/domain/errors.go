package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrDataFetch            = errors.New("market data fetch failed")
	ErrInferenceUnavailable = errors.New("inference provider unavailable")
	ErrInvalidOrder         = errors.New("invalid order parameters")
	ErrOrderTimeout         = errors.New("order fill timed out")
	ErrSigningFailed        = errors.New("signing failed")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrLockHeld             = errors.New("lock already held")
)
