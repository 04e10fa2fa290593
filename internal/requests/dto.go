package requests

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
)

// RequestDTO is the API view of a borrow request.
type RequestDTO struct {
	ID              uuid.UUID           `json:"id"`
	UserID          uuid.UUID           `json:"user_id"`
	UserName        string              `json:"user_name,omitempty"`
	UserCollegeID   string              `json:"user_college_id,omitempty"`
	ComponentID     uuid.UUID           `json:"component_id"`
	ComponentName   string              `json:"component_name,omitempty"`
	Quantity        int                 `json:"quantity"`
	Status          enums.RequestStatus `json:"status"`
	ReturnRequested bool                `json:"return_requested"`
	RequestDate     time.Time           `json:"request_date"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// AvailabilityHint reports stock at creation time. It reserves nothing; approval
// re-checks availability.
type AvailabilityHint struct {
	Available  int  `json:"available"`
	Sufficient bool `json:"sufficient"`
}

// CreateResult is returned by Create.
type CreateResult struct {
	Request          RequestDTO       `json:"request"`
	AvailabilityHint AvailabilityHint `json:"availability_hint"`
}

// CreateRequestInput holds the validated payload for createRequest.
type CreateRequestInput struct {
	ComponentID uuid.UUID
	Quantity    int
}

// ListParams carries listing filters and the page cursor.
type ListParams struct {
	Limit  int
	Cursor string
	Status string
}

// ListResult is one page of requests.
type ListResult struct {
	Items  []RequestDTO `json:"items"`
	Cursor string       `json:"cursor"`
}

// NewRequestDTO maps a stored request to its API view.
func NewRequestDTO(r *models.BorrowRequest) RequestDTO {
	return RequestDTO{
		ID:              r.ID,
		UserID:          r.UserID,
		ComponentID:     r.ComponentID,
		Quantity:        r.Quantity,
		Status:          r.Status,
		ReturnRequested: r.ReturnRequested,
		RequestDate:     r.RequestDate,
		UpdatedAt:       r.UpdatedAt,
	}
}

// NewRequestViewDTO maps a joined listing row to its API view.
func NewRequestViewDTO(v *models.BorrowRequestView) RequestDTO {
	dto := NewRequestDTO(&v.BorrowRequest)
	dto.ComponentName = v.ComponentName
	dto.UserName = v.UserName
	dto.UserCollegeID = v.UserCollegeID
	return dto
}
