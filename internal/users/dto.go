package users

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
)

// UserDTO is the transport shape that omits sensitive credentials.
type UserDTO struct {
	ID          uuid.UUID      `json:"id"`
	CollegeID   string         `json:"college_id"`
	Name        string         `json:"name"`
	Email       *string        `json:"email,omitempty"`
	Role        enums.UserRole `json:"role"`
	IsActive    bool           `json:"is_active"`
	LastLoginAt *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CreateUserDTO holds the data required by the repo to persist a new user.
type CreateUserDTO struct {
	CollegeID    string
	Name         string
	Email        *string
	PasswordHash string
	Role         enums.UserRole
}

func FromModel(u *models.User) *UserDTO {
	if u == nil {
		return nil
	}

	return &UserDTO{
		ID:          u.ID,
		CollegeID:   u.CollegeID,
		Name:        u.Name,
		Email:       u.Email,
		Role:        u.Role,
		IsActive:    u.IsActive,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

func (c CreateUserDTO) ToModel() *models.User {
	role := c.Role
	if !role.IsValid() {
		role = enums.UserRoleStudent
	}

	var email *string
	if c.Email != nil {
		trimmed := strings.ToLower(strings.TrimSpace(*c.Email))
		if trimmed != "" {
			email = &trimmed
		}
	}

	return &models.User{
		CollegeID:    NormalizeCollegeID(c.CollegeID),
		Name:         strings.TrimSpace(c.Name),
		Email:        email,
		PasswordHash: c.PasswordHash,
		Role:         role,
		IsActive:     true,
	}
}

// NormalizeCollegeID trims surrounding whitespace. College ids are case sensitive.
func NormalizeCollegeID(value string) string {
	return strings.TrimSpace(value)
}
