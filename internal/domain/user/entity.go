package user

import (
	"strings"
	"time"
)

// Role represents user role in the system
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is a reporter or moderator account together with its trust counters.
type User struct {
	ID           int64  `db:"id"`
	Email        string `db:"email"`
	Name         string `db:"name"`
	PasswordHash string `db:"password_hash"`
	Role         Role   `db:"role"`

	// Trust counters, maintained by the trust aggregator
	TotalReports    int `db:"total_reports"`
	ApprovedReports int `db:"approved_reports"`
	TrustScore      int `db:"trust_score"`

	CreatedAt time.Time `db:"created_at"`
}

// IsAdmin returns true if user is an admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ParseRole normalizes a role string; empty means USER.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case "", RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}
