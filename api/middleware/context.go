package middleware

import (
	"context"

	"github.com/google/uuid"

	pkgAuth "github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
)

type principalKey struct{}

// principal is what Auth learned from a verified access token.
type principal struct {
	userID    string
	role      enums.UserRole
	collegeID string
}

func principalFrom(ctx context.Context) principal {
	if ctx == nil {
		return principal{}
	}
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

func withPrincipal(ctx context.Context, p principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// UserIDFromContext is the rate limit and replay subject; blank when anonymous.
func UserIDFromContext(ctx context.Context) string { return principalFrom(ctx).userID }

func RoleFromContext(ctx context.Context) enums.UserRole { return principalFrom(ctx).role }

func CollegeIDFromContext(ctx context.Context) string { return principalFrom(ctx).collegeID }

// ActorFromContext rebuilds the authenticated caller seeded by Auth.
// ok is false when the context carries no parseable user id.
func ActorFromContext(ctx context.Context) (pkgAuth.Actor, bool) {
	p := principalFrom(ctx)
	userID, err := uuid.Parse(p.userID)
	if err != nil {
		return pkgAuth.Actor{}, false
	}
	return pkgAuth.Actor{UserID: userID, Role: p.role}, true
}

// WithUserID sets only the subject, leaving the caller without a role.
func WithUserID(ctx context.Context, userID string) context.Context {
	p := principalFrom(ctx)
	p.userID = userID
	return withPrincipal(ctx, p)
}

// WithActor seeds the caller the way Auth does for a verified token.
func WithActor(ctx context.Context, actor pkgAuth.Actor) context.Context {
	p := principalFrom(ctx)
	p.userID, p.role = actor.UserID.String(), actor.Role
	return withPrincipal(ctx, p)
}

func withClaims(ctx context.Context, claims *pkgAuth.AccessTokenClaims) context.Context {
	return withPrincipal(ctx, principal{
		userID:    claims.UserID.String(),
		role:      claims.Role,
		collegeID: claims.CollegeID,
	})
}
