package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/labloan-backend/internal/repo"
	"github.com/angelmondragon/labloan-backend/pkg/db/models"
	"github.com/angelmondragon/labloan-backend/pkg/enums"
)

// Repository persists components.
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

// FindByID loads one component; gorm.ErrRecordNotFound when absent.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Component, error) {
	var component models.Component
	if err := r.DB(ctx).First(&component, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &component, nil
}

// FindByIDForUpdate loads one component with a row lock where the dialect supports it.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Component, error) {
	var component models.Component
	if err := r.Locked(ctx).First(&component, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &component, nil
}

// List returns every component ordered by name.
func (r *Repository) List(ctx context.Context) ([]models.Component, error) {
	var components []models.Component
	err := r.DB(ctx).
		Order("name ASC").
		Order("id ASC").
		Find(&components).Error
	return components, err
}

func (r *Repository) Create(ctx context.Context, component *models.Component) error {
	return r.DB(ctx).Create(component).Error
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&models.Component{}).Count(&count).Error
	return count, err
}

// ApplyAvailableDelta adds delta to available_quantity in one guarded statement.
// It reports false when the result would leave [0, total_quantity].
func (r *Repository) ApplyAvailableDelta(ctx context.Context, id uuid.UUID, delta int) (bool, error) {
	result := r.DB(ctx).
		Model(&models.Component{}).
		Where("id = ?", id).
		Where("available_quantity + ? >= 0", delta).
		Where("available_quantity + ? <= total_quantity", delta).
		UpdateColumns(map[string]any{
			"available_quantity": gorm.Expr("available_quantity + ?", delta),
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetTotal replaces total_quantity and shifts available_quantity by the same delta,
// computed by the database against the current row. It reports false when the
// shift would make available_quantity negative.
func (r *Repository) SetTotal(ctx context.Context, id uuid.UUID, newTotal int) (bool, error) {
	result := r.DB(ctx).
		Model(&models.Component{}).
		Where("id = ?", id).
		Where("available_quantity + (? - total_quantity) >= 0", newTotal).
		UpdateColumns(map[string]any{
			"total_quantity":     newTotal,
			"available_quantity": gorm.Expr("available_quantity + (? - total_quantity)", newTotal),
			"updated_at":         time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateDetails edits the display fields; nil leaves a field untouched.
func (r *Repository) UpdateDetails(ctx context.Context, id uuid.UUID, name, description *string) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if name != nil {
		updates["name"] = *name
	}
	if description != nil {
		updates["description"] = *description
	}
	result := r.DB(ctx).
		Model(&models.Component{}).
		Where("id = ?", id).
		UpdateColumns(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ApprovedTotals sums approved borrow quantities per component.
func (r *Repository) ApprovedTotals(ctx context.Context) (map[uuid.UUID]int, error) {
	type row struct {
		ComponentID uuid.UUID
		OnLoan      int
	}
	var rows []row
	err := r.DB(ctx).
		Model(&models.BorrowRequest{}).
		Select("component_id, COALESCE(SUM(quantity), 0) AS on_loan").
		Where("status = ?", enums.RequestStatusApproved).
		Group("component_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		totals[r.ComponentID] = r.OnLoan
	}
	return totals, nil
}
