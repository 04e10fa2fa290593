package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/auth/session"
	"github.com/angelmondragon/labloan-backend/pkg/config"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	"github.com/angelmondragon/labloan-backend/pkg/redis/redistest"
)

var labJWT = config.JWTConfig{
	Secret:                 "lab-secret",
	Issuer:                 "labloan",
	ExpirationMinutes:      15,
	RefreshTokenTTLMinutes: 60,
}

type authFixture struct {
	store    *redistest.Store
	sessions *session.Manager
	handler  http.Handler
	seen     *seenCaller
}

type seenCaller struct {
	actor     auth.Actor
	ok        bool
	collegeID string
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	store := redistest.New()
	sessions, err := session.NewManager(store, labJWT)
	require.NoError(t, err)

	seen := &seenCaller{}
	handler := Auth(labJWT, sessions, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.actor, seen.ok = ActorFromContext(r.Context())
		seen.collegeID = CollegeIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return authFixture{store: store, sessions: sessions, handler: handler, seen: seen}
}

// login opens a session and returns its access token.
func (f authFixture) login(t *testing.T, userID uuid.UUID, role enums.UserRole, at time.Time) (string, string) {
	t.Helper()
	jti := session.NewAccessID()
	_, err := f.sessions.Issue(context.Background(), jti)
	require.NoError(t, err)
	token, err := auth.MintAccessToken(labJWT, at, auth.AccessTokenPayload{
		UserID:    userID,
		CollegeID: "CS-2026-007",
		Role:      role,
		JTI:       jti,
	})
	require.NoError(t, err)
	return token, jti
}

func (f authFixture) call(authorization string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthSeedsBorrowerIntoContext(t *testing.T) {
	f := newAuthFixture(t)
	student := uuid.New()
	token, _ := f.login(t, student, enums.UserRoleStudent, time.Now())

	require.Equal(t, http.StatusNoContent, f.call("Bearer "+token))
	require.True(t, f.seen.ok)
	assert.Equal(t, student, f.seen.actor.UserID)
	assert.False(t, f.seen.actor.IsAdmin())
	assert.Equal(t, "CS-2026-007", f.seen.collegeID)
}

func TestAuthRejectsMissingOrBrokenTokens(t *testing.T) {
	f := newAuthFixture(t)
	token, _ := f.login(t, uuid.New(), enums.UserRoleAdmin, time.Now().Add(-time.Hour))

	assert.Equal(t, http.StatusUnauthorized, f.call(""))
	assert.Equal(t, http.StatusUnauthorized, f.call("Bearer not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, f.call("Bearer "+token), "expired")
}

func TestAuthLocksOutLoggedOutSession(t *testing.T) {
	f := newAuthFixture(t)
	token, jti := f.login(t, uuid.New(), enums.UserRoleAdmin, time.Now())
	require.Equal(t, http.StatusNoContent, f.call("Bearer "+token))

	require.NoError(t, f.sessions.Revoke(context.Background(), jti))
	assert.Equal(t, http.StatusUnauthorized, f.call("Bearer "+token))
}

func TestAuthSessionStoreOutage(t *testing.T) {
	f := newAuthFixture(t)
	token, _ := f.login(t, uuid.New(), enums.UserRoleStudent, time.Now())
	f.store.Err = errors.New("redis down")

	assert.Equal(t, http.StatusServiceUnavailable, f.call("Bearer "+token))
}

func TestRoleGates(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	as := func(role enums.UserRole) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		return req.WithContext(WithActor(req.Context(), auth.Actor{UserID: uuid.New(), Role: role}))
	}
	serve := func(h http.Handler, req *http.Request) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	adminOnly := RequireRole(enums.UserRoleAdmin, nil)(ok)
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, as(enums.UserRoleStudent)))
	assert.Equal(t, http.StatusNoContent, serve(adminOnly, as(enums.UserRoleAdmin)))

	borrowersOnly := RejectRole(enums.UserRoleAdmin, nil)(ok)
	assert.Equal(t, http.StatusForbidden, serve(borrowersOnly, as(enums.UserRoleAdmin)))
	assert.Equal(t, http.StatusNoContent, serve(borrowersOnly, as(enums.UserRoleStudent)))
}
