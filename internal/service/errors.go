package service

import "errors"

var (
	ErrRateLimited       = errors.New("code requested too frequently")
	ErrInvalidCredential = errors.New("verification code is wrong or expired")
	ErrTokenInvalid      = errors.New("invalid token")
	ErrNotFound          = errors.New("user not found")
	ErrInvalidInput      = errors.New("invalid input")
)
