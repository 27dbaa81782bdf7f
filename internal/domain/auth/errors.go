package auth

import (
	"errors"

	"github.com/floodwatch/floodwatch-api/internal/domain/user"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidRole        = errors.New("invalid role")
	ErrEmailAlreadyExists = user.ErrEmailAlreadyExists
)
