package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/internal/inventory"
	"github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/outbox"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/labloan-backend/pkg/pagination"
)

// Service exposes borrow request creation and listings.
type Service interface {
	Create(ctx context.Context, actor auth.Actor, input CreateRequestInput) (*CreateResult, error)
	Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*RequestDTO, error)
	ListMine(ctx context.Context, actor auth.Actor, params ListParams) (*ListResult, error)
	ListAll(ctx context.Context, actor auth.Actor, params ListParams) (*ListResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the request service dependencies.
type ServiceParams struct {
	Repo       *Repository
	Components *inventory.Repository
	TX         txRunner
	Outbox     outbox.Emitter
	Logger     *logger.Logger
}

type service struct {
	repo       *Repository
	components *inventory.Repository
	tx         txRunner
	outbox     outbox.Emitter
	logg       *logger.Logger
}

// NewService constructs the request service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("request repository required")
	}
	if params.Components == nil {
		return nil, fmt.Errorf("component repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:       params.Repo,
		components: params.Components,
		tx:         params.TX,
		outbox:     params.Outbox,
		logg:       params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, actor auth.Actor, input CreateRequestInput) (*CreateResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated user required")
	}
	if actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admins cannot file borrow requests")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1").
			WithDetails(map[string]int{"quantity": input.Quantity})
	}

	var (
		created   *models.BorrowRequest
		component *models.Component
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		component, err = s.components.WithTx(tx).FindByID(ctx, input.ComponentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "component not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load component")
		}

		var user models.User
		if err := tx.WithContext(ctx).Select("id", "name").First(&user, "id = ?", actor.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeUnauthorized, "user no longer exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}

		created = &models.BorrowRequest{
			UserID:      actor.UserID,
			ComponentID: component.ID,
			Quantity:    input.Quantity,
			Status:      enums.RequestStatusPending,
		}
		if err := s.repo.WithTx(tx).Create(ctx, created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create borrow request")
		}

		err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBorrowRequestCreated,
			AggregateType: enums.AggregateBorrowRequest,
			AggregateID:   created.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role},
			Data: payloads.BorrowRequestCreatedEvent{
				RequestID:     created.ID,
				UserID:        actor.UserID,
				UserName:      user.Name,
				ComponentID:   component.ID,
				ComponentName: component.Name,
				Quantity:      created.Quantity,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit borrow request created")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithLendingRefs(ctx, created.ID.String(), component.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "quantity", created.Quantity), "requests.created")
	}

	dto := NewRequestDTO(created)
	dto.ComponentName = component.Name
	return &CreateResult{
		Request: dto,
		AvailabilityHint: AvailabilityHint{
			Available:  component.AvailableQuantity,
			Sufficient: component.AvailableQuantity >= created.Quantity,
		},
	}, nil
}

func (s *service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*RequestDTO, error) {
	view, err := s.repo.FindView(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrow request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load borrow request")
	}
	if !actor.IsAdmin() && view.UserID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "borrow request not found")
	}
	dto := NewRequestViewDTO(view)
	return &dto, nil
}

func (s *service) ListMine(ctx context.Context, actor auth.Actor, params ListParams) (*ListResult, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated user required")
	}
	userID := actor.UserID
	return s.list(ctx, &userID, params)
}

func (s *service) ListAll(ctx context.Context, actor auth.Actor, params ListParams) (*ListResult, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return s.list(ctx, nil, params)
}

func (s *service) list(ctx context.Context, userID *uuid.UUID, params ListParams) (*ListResult, error) {
	query := listQuery{UserID: userID, Limit: params.Limit}
	if strings.TrimSpace(params.Status) != "" {
		status, err := enums.ParseRequestStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if params.Cursor != "" {
		cursor, err := pagination.Parse(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	views, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list borrow requests")
	}

	items := make([]RequestDTO, 0, len(views))
	for i := range views {
		items = append(items, NewRequestViewDTO(&views[i]))
	}
	cursor := ""
	if next != nil {
		cursor = next.String()
	}
	return &ListResult{Items: items, Cursor: cursor}, nil
}
