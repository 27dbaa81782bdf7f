package auth

import "github.com/floodwatch/floodwatch-api/internal/domain/user"

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Name     string `json:"name" validate:"max=120"`
	Role     string `json:"role" validate:"omitempty,role"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role,omitempty" validate:"omitempty,role"`
}

// UserResponse is the public view of an account
type UserResponse struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	Role       user.Role `json:"role"`
	TrustScore int       `json:"trust_score"`
}

// AuthResponse is returned by login
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
	User      UserResponse `json:"user"`
}

// UserResponseFromEntity maps a user entity to its response shape
func UserResponseFromEntity(u *user.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role,
		TrustScore: u.TrustScore,
	}
}
