package domain

import "errors"

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrAccessDenied      = errors.New("access denied")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnknownMetric     = errors.New("unknown metric")
	ErrConnectionUnknown = errors.New("connection not registered")
	ErrReceiveTimeout    = errors.New("broker receive timed out")
)
