package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/security"
)

const (
	defaultAdminPassword = "admin123"
	tempPasswordLength   = 16
)

// BootstrapParams configures EnsureAdmin.
type BootstrapParams struct {
	Repo     *Repository
	App      config.AppConfig
	Seed     config.SeedConfig
	Password config.PasswordConfig
	Logger   *logger.Logger
}

// EnsureAdmin creates the configured administrator when no admin account exists.
// Outside production a missing password falls back to the well-known default;
// in production a random temporary password is generated and logged once.
func EnsureAdmin(ctx context.Context, params BootstrapParams) (bool, error) {
	if params.Repo == nil {
		return false, fmt.Errorf("user repository required")
	}
	count, err := params.Repo.CountAdmins(ctx)
	if err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	collegeID := NormalizeCollegeID(params.Seed.AdminCollegeID)
	if collegeID == "" {
		return false, fmt.Errorf("admin college id is required")
	}
	if _, err := params.Repo.FindByCollegeID(ctx, collegeID); err == nil {
		return false, fmt.Errorf("college id %q already belongs to a non-admin user", collegeID)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("lookup admin college id: %w", err)
	}

	password := strings.TrimSpace(params.Seed.AdminPassword)
	generated := false
	if password == "" {
		if params.App.IsProd() {
			password, err = security.GenerateTempPassword(tempPasswordLength)
			if err != nil {
				return false, fmt.Errorf("generate admin password: %w", err)
			}
			generated = true
		} else {
			password = defaultAdminPassword
		}
	}

	hash, err := security.HashPassword(password, params.Password)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	name := strings.TrimSpace(params.Seed.AdminName)
	if name == "" {
		name = "Lab Administrator"
	}
	user, err := params.Repo.Create(ctx, CreateUserDTO{
		CollegeID:    collegeID,
		Name:         name,
		PasswordHash: hash,
		Role:         enums.UserRoleAdmin,
	})
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}

	if params.Logger != nil {
		logCtx := params.Logger.WithFields(ctx, map[string]any{
			"user_id":    user.ID.String(),
			"college_id": collegeID,
		})
		if generated {
			params.Logger.Warn(params.Logger.WithField(logCtx, "temp_password", password), "users.admin.bootstrapped_with_temp_password")
		} else {
			params.Logger.Info(logCtx, "users.admin.bootstrapped")
		}
	}
	return true, nil
}
