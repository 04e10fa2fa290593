package controllers

import (
	"net/http"

	"github.com/angelmondragon/labloan-backend/api/responses"
	"github.com/angelmondragon/labloan-backend/api/validators"
	"github.com/angelmondragon/labloan-backend/internal/auth"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

// AuthRegister signs up a student and logs them in.
func AuthRegister(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil || svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := reg.Register(r.Context(), body); err != nil {
			if logg != nil {
				logg.Warn(r.Context(), "register failed")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), auth.LoginRequest{CollegeID: body.CollegeID, Password: body.Password})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set(tokenHeader, result.AccessToken)
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
