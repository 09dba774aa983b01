package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation")   // 400
	ErrUnauthorized = errors.New("unauthorized") // 401
	ErrForbidden    = errors.New("forbidden")    // 403
	ErrNotFound     = errors.New("not found")    // 404
	ErrConflict     = errors.New("conflict")     // 409
)

var (
	ErrInsufficientStock   = fmt.Errorf("insufficient stock: %w", ErrConflict)
	ErrInvalidTransition   = fmt.Errorf("invalid status transition: %w", ErrConflict)
	ErrDuplicateRequest    = fmt.Errorf("request already in progress: %w", ErrConflict)
	ErrUserAlreadyExist    = fmt.Errorf("user already exist: %w", ErrConflict)
	ErrInvalidCredentials  = fmt.Errorf("invalid email or password: %w", ErrUnauthorized)
	ErrInvalidRefreshToken = fmt.Errorf("invalid refresh token: %w", ErrUnauthorized)
)
