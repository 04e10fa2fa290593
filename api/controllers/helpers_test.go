package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/labloan-backend/api/middleware"
	pkgAuth "github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "labloan-test", Output: io.Discard})
}

func withStudent(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), pkgAuth.Actor{UserID: userID, Role: enums.UserRoleStudent}))
}

func withAdmin(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), pkgAuth.Actor{UserID: userID, Role: enums.UserRoleAdmin}))
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}
