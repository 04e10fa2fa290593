package inventory

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/labloan-backend/pkg/db/models"
)

// ComponentDTO is the API view of a component.
type ComponentDTO struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	TotalQuantity     int       `json:"total_quantity"`
	AvailableQuantity int       `json:"available_quantity"`
	OnLoan            int       `json:"on_loan"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateComponentInput holds the validated payload for addComponent.
type CreateComponentInput struct {
	Name          string
	Description   string
	TotalQuantity int
}

// UpdateComponentInput holds optional edits for a component.
type UpdateComponentInput struct {
	Name          *string
	Description   *string
	TotalQuantity *int
}

// NewComponentDTO maps the persisted model to its API view.
func NewComponentDTO(c *models.Component) *ComponentDTO {
	if c == nil {
		return nil
	}
	return &ComponentDTO{
		ID:                c.ID,
		Name:              c.Name,
		Description:       c.Description,
		TotalQuantity:     c.TotalQuantity,
		AvailableQuantity: c.AvailableQuantity,
		OnLoan:            c.OnLoan(),
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// quantityDetails is attached to InvalidQuantity errors raised by total changes.
type quantityDetails struct {
	Total          int `json:"total"`
	Available      int `json:"available"`
	OnLoan         int `json:"on_loan"`
	RequestedTotal int `json:"requested_total"`
}
