package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/internal/users"
	pkgAuth "github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/auth/session"
	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/security"
)

// Service signs borrowers and lab admins in with their college ID.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Me(ctx context.Context, userID uuid.UUID) (*users.UserDTO, error)
}

type userRepository interface {
	FindByCollegeID(ctx context.Context, collegeID string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

type sessionManager interface {
	Issue(ctx context.Context, accessID string) (string, error)
}

type ServiceParams struct {
	UserRepo       userRepository
	SessionManager sessionManager
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
	Logger         *logger.Logger
}

type service struct {
	users    userRepository
	sessions sessionManager
	jwt      config.JWTConfig
	password config.PasswordConfig
	logg     *logger.Logger
	now      func() time.Time
	// decoy is verified against when the college ID is unknown so both
	// rejections cost one argon2id run.
	decoy func() string
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.UserRepo == nil:
		return nil, errors.New("user repository is required")
	case params.SessionManager == nil:
		return nil, errors.New("session manager is required")
	}
	return &service{
		users:    params.UserRepo,
		sessions: params.SessionManager,
		jwt:      params.JWTConfig,
		password: params.PasswordConfig,
		logg:     params.Logger,
		now:      func() time.Time { return time.Now().UTC() },
		decoy: sync.OnceValue(func() string {
			hash, _ := security.HashPassword("no-such-borrower", params.PasswordConfig)
			return hash
		}),
	}, nil
}

func rejected() error {
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
}

// Login checks the college ID and password, then opens a session: an access
// JWT whose jti keys a single-use refresh token.
func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.verify(ctx, users.NormalizeCollegeID(req.CollegeID), req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record login")
	}
	user.LastLoginAt = &now

	jti := session.NewAccessID()
	access, err := pkgAuth.MintAccessToken(s.jwt, now, pkgAuth.AccessTokenPayload{
		UserID:    user.ID,
		CollegeID: user.CollegeID,
		Role:      user.Role,
		JTI:       jti,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}
	refresh, err := s.sessions.Issue(ctx, jti)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open session")
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithActor(ctx, user.ID.String(), string(user.Role)), "signed in")
	}
	return &LoginResponse{AccessToken: access, RefreshToken: refresh, User: users.FromModel(user)}, nil
}

func (s *service) verify(ctx context.Context, collegeID, password string) (*models.User, error) {
	if collegeID == "" || password == "" {
		return nil, rejected()
	}
	user, err := s.users.FindByCollegeID(ctx, collegeID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		_, _ = security.VerifyPassword(password, s.decoy())
		return nil, rejected()
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup borrower")
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !ok {
		return nil, rejected()
	}
	if !user.IsActive {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithActor(ctx, user.ID.String(), string(user.Role)), "deactivated account tried to sign in")
		}
		return nil, rejected()
	}
	if security.NeedsRehash(user.PasswordHash, s.password) {
		s.rehash(ctx, user, password)
	}
	return user, nil
}

// rehash moves the account to the configured argon2id cost. A failure keeps
// the old hash; the next login tries again.
func (s *service) rehash(ctx context.Context, user *models.User, password string) {
	hash, err := security.HashPassword(password, s.password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithActor(ctx, user.ID.String(), string(user.Role)), "password rehash failed", err)
		}
		return
	}
	user.PasswordHash = hash
}

// Me returns the caller's profile. A token that outlived its account is
// treated as signed out.
func (s *service) Me(ctx context.Context, userID uuid.UUID) (*users.UserDTO, error) {
	user, err := s.users.FindByID(ctx, userID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account no longer exists")
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup borrower")
	}
	return users.FromModel(user), nil
}
