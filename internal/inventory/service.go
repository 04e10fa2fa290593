package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/outbox"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/payloads"
)

// Service exposes component catalog and stock management.
type Service interface {
	List(ctx context.Context) ([]ComponentDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*ComponentDTO, error)
	Create(ctx context.Context, actor auth.Actor, input CreateComponentInput) (*ComponentDTO, error)
	SetTotal(ctx context.Context, actor auth.Actor, id uuid.UUID, newTotal int) (*ComponentDTO, error)
	Update(ctx context.Context, actor auth.Actor, id uuid.UUID, input UpdateComponentInput) (*ComponentDTO, error)
	SeedIfEmpty(ctx context.Context) (int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams wires the inventory service dependencies.
type ServiceParams struct {
	Repo   *Repository
	TX     txRunner
	Outbox outbox.Emitter
	Locks  *ComponentLocks
	Logger *logger.Logger
}

type service struct {
	repo   *Repository
	tx     txRunner
	outbox outbox.Emitter
	locks  *ComponentLocks
	logg   *logger.Logger
}

// NewService constructs the inventory service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	locks := params.Locks
	if locks == nil {
		locks = NewComponentLocks()
	}
	return &service{
		repo:   params.Repo,
		tx:     params.TX,
		outbox: params.Outbox,
		locks:  locks,
		logg:   params.Logger,
	}, nil
}

type sampleComponent struct {
	name        string
	description string
	quantity    int
}

var sampleComponents = []sampleComponent{
	{name: "Arduino Uno", description: "Microcontroller board based on the ATmega328P", quantity: 10},
	{name: "Raspberry Pi 4", description: "SBC with 4GB RAM", quantity: 5},
	{name: "Breadboard", description: "Standard size solderless breadboard", quantity: 20},
	{name: "Multimeter", description: "Digital Multimeter", quantity: 8},
	{name: "Soldering Iron", description: "Temperature controlled soldering station", quantity: 4},
}

func (s *service) List(ctx context.Context) ([]ComponentDTO, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list components")
	}
	out := make([]ComponentDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *NewComponentDTO(&rows[i]))
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*ComponentDTO, error) {
	component, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return NewComponentDTO(component), nil
}

func (s *service) Create(ctx context.Context, actor auth.Actor, input CreateComponentInput) (*ComponentDTO, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if input.TotalQuantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "total quantity must be non-negative").
			WithDetails(map[string]int{"requested_total": input.TotalQuantity})
	}

	component := &models.Component{
		Name:              name,
		Description:       strings.TrimSpace(input.Description),
		TotalQuantity:     input.TotalQuantity,
		AvailableQuantity: input.TotalQuantity,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, component); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create component")
		}
		return s.emit(ctx, tx, &actor, enums.EventComponentCreated, component, payloads.ComponentChangeCreated, nil)
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, component.ID, "inventory.component.created")
	return NewComponentDTO(component), nil
}

func (s *service) SetTotal(ctx context.Context, actor auth.Actor, id uuid.UUID, newTotal int) (*ComponentDTO, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if newTotal < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "total quantity must be non-negative").
			WithDetails(map[string]int{"requested_total": newTotal})
	}
	return s.mutate(ctx, actor, id, UpdateComponentInput{TotalQuantity: &newTotal})
}

func (s *service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, input UpdateComponentInput) (*ComponentDTO, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if input.Name != nil {
		trimmed := strings.TrimSpace(*input.Name)
		if trimmed == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
		input.Name = &trimmed
	}
	if input.TotalQuantity != nil && *input.TotalQuantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "total quantity must be non-negative").
			WithDetails(map[string]int{"requested_total": *input.TotalQuantity})
	}
	return s.mutate(ctx, actor, id, input)
}

// mutate applies detail and total edits under the component lock in one transaction.
func (s *service) mutate(ctx context.Context, actor auth.Actor, id uuid.UUID, input UpdateComponentInput) (*ComponentDTO, error) {
	release := s.locks.Lock(id)
	defer release()

	var updated *models.Component
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return mapLoadError(err)
		}

		change := payloads.ComponentChangeDetails
		changed := false
		var previousTotal *int
		if input.Name != nil || input.Description != nil {
			changed = true
			if err := repo.UpdateDetails(ctx, id, input.Name, input.Description); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update component")
			}
		}
		if input.TotalQuantity != nil && *input.TotalQuantity != current.TotalQuantity {
			ok, err := repo.SetTotal(ctx, id, *input.TotalQuantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set component total")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "new total is below the quantity currently on loan").
					WithDetails(quantityDetails{
						Total:          current.TotalQuantity,
						Available:      current.AvailableQuantity,
						OnLoan:         current.OnLoan(),
						RequestedTotal: *input.TotalQuantity,
					})
			}
			change = payloads.ComponentChangeTotal
			changed = true
			prev := current.TotalQuantity
			previousTotal = &prev
		}
		if !changed {
			updated = current
			return nil
		}

		updated, err = repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload component")
		}
		return s.emit(ctx, tx, &actor, enums.EventComponentUpdated, updated, change, previousTotal)
	})
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, id, "inventory.component.updated")
	return NewComponentDTO(updated), nil
}

func (s *service) SeedIfEmpty(ctx context.Context) (int, error) {
	inserted := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		count, err := repo.Count(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count components")
		}
		if count > 0 {
			return nil
		}
		for _, sample := range sampleComponents {
			component := &models.Component{
				Name:              sample.name,
				Description:       sample.description,
				TotalQuantity:     sample.quantity,
				AvailableQuantity: sample.quantity,
			}
			if err := repo.Create(ctx, component); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed component")
			}
			if err := s.emit(ctx, tx, nil, enums.EventComponentCreated, component, payloads.ComponentChangeCreated, nil); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if inserted > 0 && s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "count", inserted), "inventory.seeded")
	}
	return inserted, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, actor *auth.Actor, eventType enums.OutboxEventType, component *models.Component, change payloads.ComponentChange, previousTotal *int) error {
	var ref *outbox.ActorRef
	if actor != nil {
		ref = &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role}
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateComponent,
		AggregateID:   component.ID,
		Actor:         ref,
		Data: payloads.ComponentEvent{
			ComponentID:       component.ID,
			Name:              component.Name,
			TotalQuantity:     component.TotalQuantity,
			AvailableQuantity: component.AvailableQuantity,
			Change:            change,
			PreviousTotal:     previousTotal,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit component event")
	}
	return nil
}

func (s *service) logInfo(ctx context.Context, id uuid.UUID, msg string) {
	if s.logg == nil {
		return
	}
	s.logg.Info(s.logg.WithLendingRefs(ctx, "", id.String()), msg)
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "component not found")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load component")
}
