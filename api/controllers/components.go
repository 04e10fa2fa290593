package controllers

import (
	"net/http"

	"github.com/angelmondragon/labloan-backend/api/responses"
	"github.com/angelmondragon/labloan-backend/api/validators"
	"github.com/angelmondragon/labloan-backend/internal/inventory"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
)

// Limits are in runes, matching the validate tags below.
const (
	maxComponentName        = 200
	maxComponentDescription = 2000
)

type createComponentRequest struct {
	Name          string `json:"name" validate:"required,max=200"`
	Description   string `json:"description" validate:"max=2000"`
	TotalQuantity *int   `json:"total_quantity" validate:"required"`
}

type setTotalRequest struct {
	TotalQuantity *int `json:"total_quantity" validate:"required"`
}

type updateComponentRequest struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Description   *string `json:"description,omitempty" validate:"omitempty,max=2000"`
	TotalQuantity *int    `json:"total_quantity,omitempty"`
}

// ListComponents returns the full inventory.
func ListComponents(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		items, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

func GetComponent(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		id, err := pathUUID(r, "componentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		component, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, component)
	}
}

// AdminCreateComponent adds a component with available equal to total.
func AdminCreateComponent(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body createComponentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		component, err := svc.Create(r.Context(), actor, inventory.CreateComponentInput{
			Name:          validators.CleanText(body.Name, maxComponentName),
			Description:   validators.CleanText(body.Description, maxComponentDescription),
			TotalQuantity: *body.TotalQuantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, component)
	}
}

// AdminSetComponentTotal changes the owned quantity, preserving the on-loan count.
func AdminSetComponentTotal(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pathUUID(r, "componentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body setTotalRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		component, err := svc.SetTotal(r.Context(), actor, id, *body.TotalQuantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, component)
	}
}

// AdminUpdateComponent applies a partial edit to a component. Omitted fields
// keep their value; a total_quantity goes through the same on-loan check as
// AdminSetComponentTotal.
func AdminUpdateComponent(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := pathUUID(r, "componentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body updateComponentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		component, err := svc.Update(r.Context(), actor, id, inventory.UpdateComponentInput{
			Name:          validators.CleanTextPtr(body.Name, maxComponentName),
			Description:   validators.CleanTextPtr(body.Description, maxComponentDescription),
			TotalQuantity: body.TotalQuantity,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, component)
	}
}
