package controllers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/angelmondragon/labloan-backend/api/responses"
	"github.com/angelmondragon/labloan-backend/api/validators"
	pkgAuth "github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/auth/session"
	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

type sessionTokenRotator interface {
	Rotate(ctx context.Context, oldAccessID, provided string) (string, string, error)
	Revoke(ctx context.Context, accessID string) error
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// presentedSession reads the access token of the session being refreshed or
// ended. Expired tokens are accepted since that is when clients refresh.
func presentedSession(r *http.Request, cfg config.JWTConfig) (*pkgAuth.AccessTokenClaims, error) {
	token, err := pkgAuth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnauthorized, err, "missing credentials")
	}
	claims, err := pkgAuth.ParseAccessTokenAllowExpired(cfg, token)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnauthorized, err, "invalid token")
	}
	return claims, nil
}

// AuthLogout ends the session behind the presented access token. Logging out
// twice succeeds.
func AuthLogout(manager sessionTokenRotator, cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := presentedSession(r, cfg)
		if err == nil {
			if revokeErr := manager.Revoke(r.Context(), claims.ID); revokeErr != nil {
				err = errors.Wrap(errors.CodeDependency, revokeErr, "revoke session")
			}
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}

// AuthRefresh trades a refresh token for a new token pair. Each refresh token
// works once; presenting a used or wrong one ends the session.
func AuthRefresh(manager sessionTokenRotator, cfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pair, err := refresh(r, manager, cfg)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.Header().Set(tokenHeader, pair.AccessToken)
		responses.WriteSuccess(w, pair)
	}
}

func refresh(r *http.Request, manager sessionTokenRotator, cfg config.JWTConfig) (*refreshResponse, error) {
	var body refreshRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		return nil, err
	}
	claims, err := presentedSession(r, cfg)
	if err != nil {
		return nil, err
	}

	accessID, refreshToken, err := manager.Rotate(r.Context(), claims.ID, body.RefreshToken)
	switch {
	case stderrors.Is(err, session.ErrInvalidRefreshToken):
		return nil, errors.Wrap(errors.CodeUnauthorized, err, "invalid refresh token")
	case err != nil:
		return nil, errors.Wrap(errors.CodeDependency, err, "rotate session")
	}

	access, err := pkgAuth.MintAccessToken(cfg, time.Now().UTC(), pkgAuth.AccessTokenPayload{
		UserID:    claims.UserID,
		CollegeID: claims.CollegeID,
		Role:      claims.Role,
		JTI:       accessID,
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "mint jwt")
	}
	return &refreshResponse{AccessToken: access, RefreshToken: refreshToken}, nil
}
