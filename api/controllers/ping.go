package controllers

import (
	"net/http"

	"github.com/angelmondragon/labloan-backend/api/middleware"
	"github.com/angelmondragon/labloan-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// PrivatePing echoes the authenticated role so clients can verify their token.
func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"scope": "private", "status": "ok"}
		if role := middleware.RoleFromContext(r.Context()); role != "" {
			payload["role"] = string(role)
		}
		responses.WriteSuccess(w, payload)
	}
}
