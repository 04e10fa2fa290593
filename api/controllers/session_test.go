package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
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

var sessionJWT = config.JWTConfig{
	Secret:                 "lab-secret",
	Issuer:                 "labloan",
	ExpirationMinutes:      15,
	RefreshTokenTTLMinutes: 60 * 24,
}

type signedIn struct {
	manager *session.Manager
	store   *redistest.Store
	access  string
	refresh string
	jti     string
}

// signIn opens a real session for a student the way login does.
func signIn(t *testing.T, issuedAt time.Time) signedIn {
	t.Helper()
	store := redistest.New()
	manager, err := session.NewManager(store, sessionJWT)
	require.NoError(t, err)

	jti := session.NewAccessID()
	refresh, err := manager.Issue(context.Background(), jti)
	require.NoError(t, err)
	access, err := auth.MintAccessToken(sessionJWT, issuedAt, auth.AccessTokenPayload{
		UserID:    uuid.New(),
		CollegeID: "S-2026-041",
		Role:      enums.UserRoleStudent,
		JTI:       jti,
	})
	require.NoError(t, err)
	return signedIn{manager: manager, store: store, access: access, refresh: refresh, jti: jti}
}

func postRefresh(h http.Handler, access, refresh string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{"refresh_token":"`+refresh+`"}`))
	req.Header.Set("Content-Type", "application/json")
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRefreshAfterAccessTokenExpired(t *testing.T) {
	s := signIn(t, time.Now().Add(-time.Hour))
	h := AuthRefresh(s.manager, sessionJWT, nil)

	rec := postRefresh(h, s.access, s.refresh)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var env struct {
		Data refreshResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, env.Data.AccessToken, rec.Header().Get(tokenHeader))
	assert.NotEqual(t, s.refresh, env.Data.RefreshToken)

	claims, err := auth.ParseAccessToken(sessionJWT, env.Data.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "S-2026-041", claims.CollegeID)
	assert.Equal(t, enums.UserRoleStudent, claims.Role)
	assert.NotEqual(t, s.jti, claims.ID)

	live, err := s.manager.HasSession(context.Background(), claims.ID)
	require.NoError(t, err)
	assert.True(t, live)
}

func TestRefreshTokenWorksOnce(t *testing.T) {
	s := signIn(t, time.Now())
	h := AuthRefresh(s.manager, sessionJWT, nil)

	require.Equal(t, http.StatusOK, postRefresh(h, s.access, s.refresh).Code)
	assert.Equal(t, http.StatusUnauthorized, postRefresh(h, s.access, s.refresh).Code)
}

func TestWrongRefreshTokenEndsSession(t *testing.T) {
	s := signIn(t, time.Now())
	h := AuthRefresh(s.manager, sessionJWT, nil)

	assert.Equal(t, http.StatusUnauthorized, postRefresh(h, s.access, "guessed").Code)
	assert.Equal(t, http.StatusUnauthorized, postRefresh(h, s.access, s.refresh).Code)

	live, err := s.manager.HasSession(context.Background(), s.jti)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestRefreshRequiresBearerAndBody(t *testing.T) {
	s := signIn(t, time.Now())
	h := AuthRefresh(s.manager, sessionJWT, nil)

	assert.Equal(t, http.StatusUnauthorized, postRefresh(h, "", s.refresh).Code)
	assert.Equal(t, http.StatusBadRequest, postRefresh(h, s.access, "").Code)
}

func TestRefreshStoreOutageIsDependencyError(t *testing.T) {
	s := signIn(t, time.Now())
	s.store.Err = errors.New("redis down")

	assert.Equal(t, http.StatusServiceUnavailable, postRefresh(AuthRefresh(s.manager, sessionJWT, nil), s.access, s.refresh).Code)
}

func TestLogoutEndsSessionAndIsRepeatable(t *testing.T) {
	s := signIn(t, time.Now())
	h := AuthLogout(s.manager, sessionJWT, nil)

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+s.access)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	live, err := s.manager.HasSession(context.Background(), s.jti)
	require.NoError(t, err)
	assert.False(t, live)
	assert.Equal(t, http.StatusUnauthorized, postRefresh(AuthRefresh(s.manager, sessionJWT, nil), s.access, s.refresh).Code)
}

func TestLogoutRejectsForeignToken(t *testing.T) {
	s := signIn(t, time.Now())
	other := sessionJWT
	other.Secret = "another-lab"
	h := AuthLogout(s.manager, other, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+s.access)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
