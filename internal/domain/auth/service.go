package auth

import (
	"context"
	"fmt"

	"github.com/floodwatch/floodwatch-api/internal/domain/user"
	"github.com/floodwatch/floodwatch-api/internal/pkg/jwt"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
	"github.com/floodwatch/floodwatch-api/internal/pkg/password"
)

// Service handles authentication business logic
type Service struct {
	userRepo   user.Repository
	jwtService *jwt.Service
}

// NewService creates auth service
func NewService(userRepo user.Repository, jwtService *jwt.Service) *Service {
	return &Service{
		userRepo:   userRepo,
		jwtService: jwtService,
	}
}

// Register creates a new account
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*user.User, error) {
	email := normalizeEmail(req.Email)

	role, ok := user.ParseRole(req.Role)
	if !ok {
		return nil, ErrInvalidRole
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyExists
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &user.User{
		Email:        email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Int64("user_id", u.ID).
		Str("role", string(u.Role)).
		Msg("User registered")
	return u, nil
}

// Login verifies credentials and issues an access token
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	u, err := s.userRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if u == nil || !password.Verify(req.Password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if req.Role != "" {
		if role, ok := user.ParseRole(req.Role); !ok || role != u.Role {
			return nil, ErrInvalidCredentials
		}
	}

	token, err := s.jwtService.GenerateAccessToken(u.ID, string(u.Role))
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &AuthResponse{
		Token:     token,
		ExpiresIn: int64(s.jwtService.AccessTTL().Seconds()),
		User:      UserResponseFromEntity(u),
	}, nil
}

// Me returns the caller's account
func (s *Service) Me(ctx context.Context, userID int64) (*user.User, error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, user.ErrUserNotFound
	}
	return u, nil
}
