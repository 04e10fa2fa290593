package middleware

import (
	"errors"
	"net/http"

	"github.com/angelmondragon/labloan-backend/api/responses"
	pkgAuth "github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/auth/session"
	"github.com/angelmondragon/labloan-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

// Auth admits requests whose bearer token verifies and whose session is
// still live, so a logout or a reused refresh token locks the caller out
// before the token expires.
func Auth(cfg config.JWTConfig, sessions session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r, cfg, sessions)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := withClaims(r.Context(), claims)
			if logg != nil {
				ctx = logg.WithActor(ctx, claims.UserID.String(), string(claims.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, cfg config.JWTConfig, sessions session.AccessSessionChecker) (*pkgAuth.AccessTokenClaims, error) {
	token, err := pkgAuth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "missing credentials")
	}
	claims, err := pkgAuth.ParseAccessToken(cfg, token)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, pkgAuth.ErrNoSession) {
			msg = "missing session id"
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg)
	}
	if sessions == nil {
		return claims, nil
	}

	live, err := sessions.HasSession(r.Context(), claims.ID)
	switch {
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session")
	case !live:
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session unavailable")
	}
	return claims, nil
}
