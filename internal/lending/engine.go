package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/internal/inventory"
	"github.com/angelmondragon/labloan-backend/internal/requests"
	"github.com/angelmondragon/labloan-backend/pkg/auth"
	"github.com/angelmondragon/labloan-backend/pkg/db"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/labloan-backend/pkg/errors"
	"github.com/angelmondragon/labloan-backend/pkg/logger"
	"github.com/angelmondragon/labloan-backend/pkg/metrics"
	"github.com/angelmondragon/labloan-backend/pkg/outbox"
	"github.com/angelmondragon/labloan-backend/pkg/outbox/payloads"
)

const defaultMaxAttempts = 3

// errLostRace marks an attempt whose compare-and-set found the request already moved.
var errLostRace = errors.New("borrow request changed concurrently")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EngineParams wires the lending engine dependencies.
type EngineParams struct {
	Requests    *requests.Repository
	Components  *inventory.Repository
	TX          txRunner
	Outbox      outbox.Emitter
	Locks       *inventory.ComponentLocks
	Metrics     *metrics.LendingMetrics
	Logger      *logger.Logger
	MaxAttempts int
}

// Engine applies borrow request status changes together with their inventory effect.
type Engine struct {
	requests    *requests.Repository
	components  *inventory.Repository
	tx          txRunner
	outbox      outbox.Emitter
	locks       *inventory.ComponentLocks
	metrics     *metrics.LendingMetrics
	logg        *logger.Logger
	maxAttempts int
}

// NewEngine constructs the lending engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.Requests == nil {
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
	if params.Locks == nil {
		return nil, fmt.Errorf("component locks required")
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Engine{
		requests:    params.Requests,
		components:  params.Components,
		tx:          params.TX,
		outbox:      params.Outbox,
		locks:       params.Locks,
		metrics:     params.Metrics,
		logg:        params.Logger,
		maxAttempts: attempts,
	}, nil
}

type attemptResult struct {
	request   *models.BorrowRequest
	component *models.Component
	from      enums.RequestStatus
	noop      bool
}

// Transition moves a borrow request to target and applies the matching change to
// the component's available quantity atomically. Moving to the current status
// is a successful no-op.
func (e *Engine) Transition(ctx context.Context, actor auth.Actor, requestID uuid.UUID, target enums.RequestStatus) (dto *requests.RequestDTO, err error) {
	start := time.Now()
	from := ""
	outcome := metrics.OutcomeApplied
	defer func() {
		if err != nil {
			outcome = outcomeFor(err)
		}
		e.metrics.ObserveTransition(from, target.String(), outcome, time.Since(start))
	}()

	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeIllegalTransition, "unknown target status").
			WithDetails(map[string]string{"to": target.String()})
	}

	current, err := e.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, mapRequestLoadError(err)
	}
	from = current.Status.String()
	if current.Status == target {
		outcome = metrics.OutcomeNoop
		out := requests.NewRequestDTO(current)
		return &out, nil
	}
	if !CanTransition(current.Status, target) {
		return nil, illegalTransition(current.Status, target)
	}

	release := e.locks.Lock(current.ComponentID)
	defer release()

	var result *attemptResult
	for attempt := 1; ; attempt++ {
		result, err = e.apply(ctx, actor, requestID, target)
		if err == nil {
			break
		}
		if !isRetryable(err) {
			e.logRejected(ctx, current, target, err)
			return nil, err
		}
		if attempt >= e.maxAttempts {
			err = pkgerrors.Wrap(pkgerrors.CodeConflict, err, "borrow request changed concurrently, retry later").
				WithDetails(map[string]int{"attempts": attempt})
			e.logRejected(ctx, current, target, err)
			return nil, err
		}
		e.metrics.IncRetry()
		if e.logg != nil {
			logCtx := e.logg.WithLendingRefs(ctx, requestID.String(), current.ComponentID.String())
			e.logg.Debug(e.logg.WithField(logCtx, "attempt", attempt), "lending.transition.retry")
		}
	}

	from = result.from.String()
	if result.noop {
		outcome = metrics.OutcomeNoop
	} else if e.logg != nil {
		logCtx := e.logg.WithLendingRefs(ctx, requestID.String(), result.component.ID.String())
		logCtx = e.logg.WithFields(logCtx, map[string]any{
			"from":               result.from.String(),
			"to":                 target.String(),
			"quantity":           result.request.Quantity,
			"available_quantity": result.component.AvailableQuantity,
		})
		e.logg.Info(logCtx, "lending.transition.applied")
	}

	out := requests.NewRequestDTO(result.request)
	if result.component != nil {
		out.ComponentName = result.component.Name
	}
	return &out, nil
}

// apply runs one attempt inside a single transaction. The request row is re-read
// and re-validated so a change committed by another writer is observed.
func (e *Engine) apply(ctx context.Context, actor auth.Actor, requestID uuid.UUID, target enums.RequestStatus) (*attemptResult, error) {
	var result attemptResult
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requestRepo := e.requests.WithTx(tx)
		componentRepo := e.components.WithTx(tx)

		fresh, err := requestRepo.FindByIDForUpdate(ctx, requestID)
		if err != nil {
			return mapRequestLoadError(err)
		}
		result.from = fresh.Status
		result.request = fresh
		if fresh.Status == target {
			result.noop = true
			return nil
		}

		delta, ok := availableDelta(fresh.Status, target, fresh.Quantity)
		if !ok {
			return illegalTransition(fresh.Status, target)
		}

		if delta != 0 {
			applied, err := componentRepo.ApplyAvailableDelta(ctx, fresh.ComponentID, delta)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update component availability")
			}
			if !applied {
				return e.rejectedDelta(ctx, componentRepo, fresh, delta)
			}
		}

		swapped, err := requestRepo.CompareAndSetStatus(ctx, fresh.ID, fresh.Status, target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update borrow request status")
		}
		if !swapped {
			return errLostRace
		}

		component, err := componentRepo.FindByID(ctx, fresh.ComponentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload component")
		}
		updated, err := requestRepo.FindByID(ctx, fresh.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload borrow request")
		}
		result.request = updated
		result.component = component

		err = e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBorrowRequestTransitioned,
			AggregateType: enums.AggregateBorrowRequest,
			AggregateID:   updated.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role},
			Data: payloads.BorrowRequestTransitionedEvent{
				RequestID:         updated.ID,
				UserID:            updated.UserID,
				ComponentID:       component.ID,
				ComponentName:     component.Name,
				Quantity:          updated.Quantity,
				From:              fresh.Status,
				To:                target,
				AvailableQuantity: component.AvailableQuantity,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit transition event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *Engine) rejectedDelta(ctx context.Context, componentRepo *inventory.Repository, request *models.BorrowRequest, delta int) error {
	component, err := componentRepo.FindByID(ctx, request.ComponentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "component not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load component")
	}
	if delta < 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "not enough units available").
			WithDetails(map[string]int{
				"requested": request.Quantity,
				"available": component.AvailableQuantity,
			})
	}
	return pkgerrors.New(pkgerrors.CodeInternal, "restoring units would exceed the component total").
		WithDetails(map[string]int{
			"restoring": delta,
			"available": component.AvailableQuantity,
			"total":     component.TotalQuantity,
		})
}

// RequestReturn flags an approved request so the borrower is asked to bring it back.
// Flagging an already flagged request succeeds without emitting again.
func (e *Engine) RequestReturn(ctx context.Context, actor auth.Actor, requestID uuid.UUID) (*requests.RequestDTO, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}

	var (
		request   *models.BorrowRequest
		component *models.Component
		changed   bool
	)
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		requestRepo := e.requests.WithTx(tx)
		current, err := requestRepo.FindByIDForUpdate(ctx, requestID)
		if err != nil {
			return mapRequestLoadError(err)
		}
		if current.Status != enums.RequestStatusApproved {
			return pkgerrors.New(pkgerrors.CodeIllegalState, "only approved requests can be asked back").
				WithDetails(map[string]string{"status": current.Status.String()})
		}
		component, err = e.components.WithTx(tx).FindByID(ctx, current.ComponentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load component")
		}
		request = current
		if current.ReturnRequested {
			return nil
		}

		marked, err := requestRepo.MarkReturnRequested(ctx, current.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag borrow request")
		}
		if !marked {
			return pkgerrors.New(pkgerrors.CodeIllegalState, "borrow request is no longer approved")
		}
		request, err = requestRepo.FindByID(ctx, current.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload borrow request")
		}
		changed = true

		err = e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventBorrowRequestReturnRequested,
			AggregateType: enums.AggregateBorrowRequest,
			AggregateID:   request.ID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role},
			Data: payloads.BorrowRequestReturnRequestedEvent{
				RequestID:     request.ID,
				UserID:        request.UserID,
				ComponentID:   component.ID,
				ComponentName: component.Name,
				Quantity:      request.Quantity,
			},
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit return requested event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed && e.logg != nil {
		e.logg.Info(e.logg.WithLendingRefs(ctx, request.ID.String(), component.ID.String()), "lending.return.requested")
	}
	out := requests.NewRequestDTO(request)
	out.ComponentName = component.Name
	return &out, nil
}

func (e *Engine) logRejected(ctx context.Context, request *models.BorrowRequest, target enums.RequestStatus, err error) {
	if e.logg == nil {
		return
	}
	logCtx := e.logg.WithLendingRefs(ctx, request.ID.String(), request.ComponentID.String())
	logCtx = e.logg.WithFields(logCtx, map[string]any{
		"from": request.Status.String(),
		"to":   target.String(),
	})
	if outcomeFor(err) == metrics.OutcomeError {
		e.logg.Error(logCtx, "lending.transition.failed", err)
		return
	}
	e.logg.Warn(e.logg.WithField(logCtx, "error_code", string(pkgerrors.As(err).Code())), "lending.transition.rejected")
}

func isRetryable(err error) bool {
	return errors.Is(err, errLostRace) || db.IsSerializationFailure(err)
}

func illegalTransition(from, to enums.RequestStatus) error {
	return pkgerrors.New(pkgerrors.CodeIllegalTransition, fmt.Sprintf("cannot move a %s request to %s", from, to)).
		WithDetails(map[string]string{"from": from.String(), "to": to.String()})
}

func mapRequestLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "borrow request not found")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load borrow request")
}

func outcomeFor(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return metrics.OutcomeError
	}
	switch typed.Code() {
	case pkgerrors.CodeConflict:
		return metrics.OutcomeConflict
	case pkgerrors.CodeDependency, pkgerrors.CodeInternal:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}
