package requests

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/internal/repo"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
	"github.com/angelmondragon/labloan-backend/pkg/pagination"
)

const viewSelect = "br.*, c.name AS component_name, u.name AS user_name, u.college_id AS user_college_id"

// Repository persists borrow requests.
type Repository struct {
	repo.Base
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return NewRepository(tx)
}

type listQuery struct {
	UserID *uuid.UUID
	Status *enums.RequestStatus
	Limit  int
	Cursor *pagination.Cursor
}

func (r *Repository) Create(ctx context.Context, request *models.BorrowRequest) error {
	return r.DB(ctx).Create(request).Error
}

// FindByID loads one request; gorm.ErrRecordNotFound when absent.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.BorrowRequest, error) {
	var request models.BorrowRequest
	if err := r.DB(ctx).First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// FindByIDForUpdate loads one request holding a row lock where the dialect supports it.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.BorrowRequest, error) {
	var request models.BorrowRequest
	if err := r.Locked(ctx).First(&request, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

// FindView loads one request joined with its component and borrower names.
func (r *Repository) FindView(ctx context.Context, id uuid.UUID) (*models.BorrowRequestView, error) {
	var views []models.BorrowRequestView
	err := r.viewQuery(ctx).
		Where("br.id = ?", id).
		Limit(1).
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &views[0], nil
}

// List returns requests newest first. The cursor points at the first row of the next page.
func (r *Repository) List(ctx context.Context, params listQuery) ([]models.BorrowRequestView, *pagination.Cursor, error) {
	query := r.viewQuery(ctx)
	if params.UserID != nil {
		query = query.Where("br.user_id = ?", *params.UserID)
	}
	if params.Status != nil {
		query = query.Where("br.status = ?", *params.Status)
	}
	if params.Cursor != nil {
		cond, args := params.Cursor.Where("br.request_date", "br.id")
		query = query.Where(cond, args...)
	}

	var views []models.BorrowRequestView
	err := query.
		Order("br.request_date DESC").
		Order("br.id DESC").
		Limit(pagination.Lookahead(params.Limit)).
		Scan(&views).Error
	if err != nil {
		return nil, nil, err
	}
	page, next := pagination.Split(views, params.Limit, func(v models.BorrowRequestView) pagination.Cursor {
		return pagination.Cursor{CreatedAt: v.RequestDate, ID: v.ID}
	})
	return page, next, nil
}

// CompareAndSetStatus moves a request from expected to target and clears the
// return flag. It reports false when the stored status no longer matches.
func (r *Repository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, target enums.RequestStatus) (bool, error) {
	result := r.DB(ctx).
		Model(&models.BorrowRequest{}).
		Where("id = ? AND status = ?", id, expected).
		UpdateColumns(map[string]any{
			"status":           target,
			"return_requested": false,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkReturnRequested raises the return flag on an approved request.
func (r *Repository) MarkReturnRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.DB(ctx).
		Model(&models.BorrowRequest{}).
		Where("id = ? AND status = ?", id, enums.RequestStatusApproved).
		UpdateColumns(map[string]any{
			"return_requested": true,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *Repository) viewQuery(ctx context.Context) *gorm.DB {
	return r.DB(ctx).
		Table("borrow_requests AS br").
		Select(viewSelect).
		Joins("JOIN components c ON c.id = br.component_id").
		Joins("JOIN users u ON u.id = br.user_id")
}
